package vm

// ---------------------------------------------------------------------------
// Inline caches for field lookups
// ---------------------------------------------------------------------------

// ICache memoizes the slot index of a single field name at one use
// site. Every lookup first probes the remembered slot (slot 0 before
// any scan) and only falls back to a scan of the object's field names
// when the name at that slot does not match (a different object shape).
//
// Field layouts are append-only, so a cached index is never
// invalidated, only superseded. Thread-unsafe by design: caches are
// shared package-level state like the rest of the engine.
type ICache struct {
	fieldName string
	slotIdx   int

	// Hit/miss counters for profiling
	hits   uint64
	misses uint64
}

// NewICache creates an inline cache for one field name.
func NewICache(fieldName string) *ICache {
	return &ICache{fieldName: fieldName}
}

// GetField returns the named field of obj, updating the slot memo.
// Fails with MissingField if the field is absent.
func (c *ICache) GetField(obj Value) Value {
	o := ObjectVal(obj)

	if i := c.slotIdx; i < len(o.names) && o.names[i] == c.fieldName {
		c.hits++
		return o.slots[i]
	}

	c.misses++
	val, ok := o.GetFieldSlot(c.fieldName, &c.slotIdx)
	if !ok {
		runError(ErrMissingField, "missing field %q", c.fieldName)
	}
	return val
}

// GetInt32 returns the field as an int32, asserting its variant.
func (c *ICache) GetInt32(obj Value) int32 {
	val := c.GetField(obj)
	if !val.IsInt32() {
		panic("ICache.GetInt32: field is not an int32")
	}
	return val.Int32Val()
}

// GetStr returns the field's string contents, asserting its variant.
func (c *ICache) GetStr(obj Value) string {
	val := c.GetField(obj)
	if !val.IsString() {
		panic("ICache.GetStr: field is not a string")
	}
	return StringVal(val)
}

// GetObj returns the field as an object value, asserting its variant.
func (c *ICache) GetObj(obj Value) Value {
	val := c.GetField(obj)
	if !val.IsObject() {
		panic("ICache.GetObj: field is not an object")
	}
	return val
}

// GetArr returns the field as an array, asserting its variant.
func (c *ICache) GetArr(obj Value) *Array {
	val := c.GetField(obj)
	if !val.IsArray() {
		panic("ICache.GetArr: field is not an array")
	}
	return ArrayVal(val)
}

// Hits returns the number of slot-memo hits.
func (c *ICache) Hits() uint64 { return c.hits }

// Misses returns the number of fallback scans.
func (c *ICache) Misses() uint64 { return c.misses }
