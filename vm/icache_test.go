package vm

import "testing"

func TestICacheHit(t *testing.T) {
	InitInterp()

	obj := NewObject(2)
	ObjectVal(obj).SetField("count", Int32(7))

	ic := NewICache("count")

	// First access probes the initial memo, slot 0, where the field is
	if got := ic.GetInt32(obj); got != 7 {
		t.Fatalf("GetInt32 = %d, want 7", got)
	}
	// Second access must hit the memoized slot
	if got := ic.GetInt32(obj); got != 7 {
		t.Fatalf("GetInt32 = %d, want 7", got)
	}
	if ic.Hits() == 0 {
		t.Error("expected at least one slot-memo hit")
	}
}

func TestICacheShapeChange(t *testing.T) {
	InitInterp()

	// Two objects with the field at different slots
	a := NewObject(2)
	ObjectVal(a).SetField("name", NewString("a"))

	b := NewObject(2)
	ObjectVal(b).SetField("pad", Undef)
	ObjectVal(b).SetField("name", NewString("b"))

	ic := NewICache("name")

	if got := ic.GetStr(a); got != "a" {
		t.Fatalf("GetStr(a) = %q", got)
	}
	// Different slot: must fall back and still find the field
	if got := ic.GetStr(b); got != "b" {
		t.Fatalf("GetStr(b) = %q", got)
	}
	// And the updated memo serves b directly now
	if got := ic.GetStr(b); got != "b" {
		t.Fatalf("GetStr(b) second access = %q", got)
	}
}

func TestICacheMissingField(t *testing.T) {
	InitInterp()

	obj := NewObject(0)
	ic := NewICache("absent")

	defer func() {
		r := recover()
		re, ok := r.(*RunError)
		if !ok {
			t.Fatalf("expected *RunError, got %v", r)
		}
		if re.Kind != ErrMissingField {
			t.Errorf("Kind = %v, want MissingField", re.Kind)
		}
	}()

	ic.GetField(obj)
	t.Fatal("GetField must fail on an absent field")
}

func TestICacheTypedAccessors(t *testing.T) {
	InitInterp()

	obj := NewObject(4)
	o := ObjectVal(obj)
	o.SetField("n", Int32(3))
	o.SetField("s", NewString("str"))
	inner := NewObject(0)
	o.SetField("o", inner)
	arr := NewArray(0)
	ArrayVal(arr).Push(Int32(1))
	o.SetField("a", arr)

	if NewICache("n").GetInt32(obj) != 3 {
		t.Error("GetInt32 mismatch")
	}
	if NewICache("s").GetStr(obj) != "str" {
		t.Error("GetStr mismatch")
	}
	if NewICache("o").GetObj(obj) != inner {
		t.Error("GetObj mismatch")
	}
	if NewICache("a").GetArr(obj).Length() != 1 {
		t.Error("GetArr mismatch")
	}
}
