package vm

import "fmt"

// ---------------------------------------------------------------------------
// Run-time errors
// ---------------------------------------------------------------------------

// ErrKind classifies run-time errors raised by the engine.
type ErrKind int

const (
	ErrMissingField ErrKind = iota
	ErrBadIdent
	ErrOutOfBounds
	ErrUnknownOp
	ErrEmptyBlock
	ErrArgCountMismatch
	ErrStackUnderflow
	ErrStackOverflow
	ErrStackLeak
	ErrArityUnsupported
	ErrParseError
	ErrUnknownExport
	ErrNotAFunction
	ErrCodeHeapExhausted
	ErrInvalidCallee
	ErrThrow
	ErrImportFailed
)

var errKindNames = [...]string{
	ErrMissingField:      "MissingField",
	ErrBadIdent:          "BadIdent",
	ErrOutOfBounds:       "OutOfBounds",
	ErrUnknownOp:         "UnknownOp",
	ErrEmptyBlock:        "EmptyBlock",
	ErrArgCountMismatch:  "ArgCountMismatch",
	ErrStackUnderflow:    "StackUnderflow",
	ErrStackOverflow:     "StackOverflow",
	ErrStackLeak:         "StackLeak",
	ErrArityUnsupported:  "ArityUnsupported",
	ErrParseError:        "ParseError",
	ErrUnknownExport:     "UnknownExport",
	ErrNotAFunction:      "NotAFunction",
	ErrCodeHeapExhausted: "CodeHeapExhausted",
	ErrInvalidCallee:     "InvalidCallee",
	ErrThrow:             "Throw",
	ErrImportFailed:      "ImportFailed",
}

func (k ErrKind) String() string {
	if int(k) < len(errKindNames) {
		return errKindNames[k]
	}
	return fmt.Sprintf("ErrKind(%d)", int(k))
}

// RunError is a run-time error raised during compilation or execution.
// It propagates by panic to the nearest enclosing CallFun invocation,
// which recovers it and returns it to the embedder. SrcPos, when it is
// an object, carries the source position recovered from the block
// version registry.
type RunError struct {
	Kind   ErrKind
	Msg    string
	SrcPos Value
}

// Error renders the message, prefixed by the source position if one was
// recovered.
func (e *RunError) Error() string {
	if e.SrcPos.IsObject() {
		return PosToString(e.SrcPos) + " - " + e.Msg
	}
	return e.Msg
}

// runError raises a RunError without a source position.
func runError(kind ErrKind, format string, args ...interface{}) {
	panic(&RunError{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// runErrorAt raises a RunError annotated with a source position.
func runErrorAt(kind ErrKind, srcPos Value, format string, args ...interface{}) {
	panic(&RunError{Kind: kind, Msg: fmt.Sprintf(format, args...), SrcPos: srcPos})
}

// PosToString renders a src_pos object as "<file>@<line>:<col>".
// Missing fields render as empty or zero.
func PosToString(srcPos Value) string {
	obj := ObjectVal(srcPos)

	file := ""
	if v, ok := obj.GetField("file"); ok && v.IsString() {
		file = StringVal(v)
	}
	var line, col int32
	if v, ok := obj.GetField("line"); ok && v.IsInt32() {
		line = v.Int32Val()
	}
	if v, ok := obj.GetField("col"); ok && v.IsInt32() {
		col = v.Int32Val()
	}

	return fmt.Sprintf("%s@%d:%d", file, line, col)
}
