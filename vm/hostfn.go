package vm

// ---------------------------------------------------------------------------
// Host functions
// ---------------------------------------------------------------------------

// HostFn is a function implemented by the embedder and exposed to
// programs as a callable value. Host functions have a fixed arity of at
// most three arguments and run to completion inline; they may re-enter
// the interpreter through CallFun.
type HostFn struct {
	Name      string
	NumParams int
	Fn        func(in *Interp, args []Value) Value
}

// MaxHostFnArgs is the highest arity the call instruction dispatches.
const MaxHostFnArgs = 3

var hostFnTable []*HostFn

func initHostFns() {
	hostFnTable = hostFnTable[:0]
}

// NewHostFn registers a host function and returns its value.
// Panics if the arity is out of range.
func NewHostFn(name string, numParams int, fn func(in *Interp, args []Value) Value) Value {
	if numParams < 0 || numParams > MaxHostFnArgs {
		panic("NewHostFn: unsupported arity")
	}
	h := uint32(len(hostFnTable))
	hostFnTable = append(hostFnTable, &HostFn{
		Name:      name,
		NumParams: numParams,
		Fn:        fn,
	})
	return hostFnValue(h)
}

// HostFnVal returns the host function behind a value.
// Panics if v is not a host function.
func HostFnVal(v Value) *HostFn {
	if !v.IsHostFn() {
		panic("HostFnVal: not a host function")
	}
	return hostFnTable[v.handle()]
}
