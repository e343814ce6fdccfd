package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Round trips
// ---------------------------------------------------------------------------

func TestInt32RoundTrip(t *testing.T) {
	tests := []int32{0, 1, -1, 777, -777, math.MaxInt32, math.MinInt32}

	for _, n := range tests {
		v := Int32(n)
		if !v.IsInt32() {
			t.Errorf("Int32(%d).IsInt32() = false, want true", n)
			continue
		}
		if got := v.Int32Val(); got != n {
			t.Errorf("Int32(%d).Int32Val() = %d, want %d", n, got, n)
		}
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	tests := []float32{0, 1.5, -1.5, 10.5, math.MaxFloat32,
		float32(math.Inf(1)), float32(math.Inf(-1))}

	for _, f := range tests {
		v := Float32(f)
		if !v.IsFloat32() {
			t.Errorf("Float32(%v).IsFloat32() = false, want true", f)
			continue
		}
		if got := v.Float32Val(); got != f {
			t.Errorf("Float32(%v).Float32Val() = %v, want %v", f, got, f)
		}
	}
}

func TestFloat32NaN(t *testing.T) {
	v := Float32(float32(math.NaN()))
	if !v.IsFloat32() {
		t.Error("NaN should still be a float32 value")
	}
	if !math.IsNaN(float64(v.Float32Val())) {
		t.Error("NaN round trip failed")
	}
}

func TestRawRoundTrip(t *testing.T) {
	tests := []uint64{0, 1, NoPosWord(), 1 << 39}

	for _, w := range tests {
		v := Raw(w)
		if !v.IsRaw() {
			t.Errorf("Raw(%#x).IsRaw() = false, want true", w)
			continue
		}
		if got := v.RawVal(); got != w {
			t.Errorf("Raw(%#x).RawVal() = %#x, want %#x", w, got, w)
		}
	}
}

// NoPosWord exposes the widest raw word the interpreter saves.
func NoPosWord() uint64 {
	return uint64(NoPos)
}

// ---------------------------------------------------------------------------
// Variant tests
// ---------------------------------------------------------------------------

func TestVariantExclusive(t *testing.T) {
	InitInterp()

	values := map[Tag]Value{
		TagUndef:   Undef,
		TagBool:    True,
		TagInt32:   Int32(42),
		TagFloat32: Float32(4.2),
		TagString:  NewString("abc"),
		TagObject:  NewObject(0),
		TagArray:   NewArray(0),
		TagHostFn:  NewHostFn("noop", 0, func(in *Interp, args []Value) Value { return Undef }),
		TagRaw:     Raw(7),
	}

	for tag, v := range values {
		if v.Tag() != tag {
			t.Errorf("value for tag %v reports tag %v", tag, v.Tag())
		}
	}
}

func TestCanonicalBooleans(t *testing.T) {
	if Bool(true) != True || Bool(false) != False {
		t.Error("Bool must return the canonical singletons")
	}
	if True.BoolVal() != true || False.BoolVal() != false {
		t.Error("BoolVal round trip failed")
	}
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

func TestEqualsReflexive(t *testing.T) {
	InitInterp()

	values := []Value{
		Undef, True, False,
		Int32(0), Int32(-5),
		Float32(3.25),
		NewString("hello"),
		NewObject(2),
		NewArray(2),
	}

	for _, v := range values {
		if !v.Equals(v) {
			t.Errorf("value %v must equal itself", v)
		}
	}

	// NaN is the one exception
	nan := Float32(float32(math.NaN()))
	if nan.Equals(nan) {
		t.Error("NaN must not equal itself")
	}
}

func TestEqualsAcrossVariants(t *testing.T) {
	InitInterp()

	if Int32(1).Equals(Float32(1)) {
		t.Error("int32 and float32 must not compare equal")
	}
	if True.Equals(Int32(1)) {
		t.Error("bool and int32 must not compare equal")
	}
	if Undef.Equals(False) {
		t.Error("undef and false must not compare equal")
	}
}

func TestEqualsStringsByContents(t *testing.T) {
	InitInterp()

	a := NewString("abc")
	b := NewString("ab")
	b2 := StrConcat(b, NewString("c"))
	if !a.Equals(b2) {
		t.Error("strings with equal contents must compare equal")
	}
}

func TestEqualsObjectsByIdentity(t *testing.T) {
	InitInterp()

	a := NewObject(0)
	b := NewObject(0)
	if a.Equals(b) {
		t.Error("distinct objects must not compare equal")
	}
	if !a.Equals(a) {
		t.Error("an object must equal itself")
	}
}

// ---------------------------------------------------------------------------
// Tag names
// ---------------------------------------------------------------------------

func TestStrToTag(t *testing.T) {
	tests := []struct {
		name string
		tag  Tag
		ok   bool
	}{
		{"undef", TagUndef, true},
		{"bool", TagBool, true},
		{"int32", TagInt32, true},
		{"float32", TagFloat32, true},
		{"string", TagString, true},
		{"object", TagObject, true},
		{"array", TagArray, true},
		{"hostfn", TagHostFn, true},
		{"rawptr", TagRaw, true},
		{"int64", TagUndef, false},
		{"", TagUndef, false},
	}

	for _, tc := range tests {
		tag, ok := StrToTag(tc.name)
		if ok != tc.ok || tag != tc.tag {
			t.Errorf("StrToTag(%q) = (%v, %v), want (%v, %v)",
				tc.name, tag, ok, tc.tag, tc.ok)
		}
	}
}

func TestValueString(t *testing.T) {
	InitInterp()

	tests := []struct {
		val  Value
		want string
	}{
		{Int32(777), "777"},
		{Float32(10.5), "10.500000"},
		{True, "true"},
		{False, "false"},
		{Undef, "undef"},
		{NewString("hi"), "hi"},
	}

	for _, tc := range tests {
		if got := tc.val.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
