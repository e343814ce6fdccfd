package vm

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// StackSize is the default operand stack size in words.
const StackSize = 1 << 16

// Importer resolves a package name to a package object. Implemented by
// the image loader; any caching is the loader's concern, the
// interpreter never caches imports.
type Importer interface {
	Import(pkgName string) (Value, error)
}

// Config carries the tunable sizes for a machine.
type Config struct {
	// Operand stack size in words; 0 means the default
	StackSize int

	// Code heap size in bytes; 0 means the default
	CodeHeapSize int
}

// Interp is the execution engine: the code heap, the block version
// registry, the operand stack and the instruction pointer. Execution
// is single-threaded with no suspension points; one machine must not
// be driven from multiple goroutines.
type Interp struct {
	heap *CodeHeap
	reg  *versionRegistry

	// Operand stack. It grows toward lower indices: sp indexes the top
	// element, the empty stack has sp == len(stack), and pushing below
	// index 0 is a stack overflow.
	stack []Value
	sp    int

	// Frame pointer: index of the current frame's local 0.
	// Local k lives at stack[fp-k].
	fp int

	// Instruction pointer: offset of the next byte to decode in the
	// code heap, or NoPos when the machine is idle.
	ip uint32

	// Importer resolves import instructions. Set by the embedder.
	Importer Importer

	log commonlog.Logger
}

// exitProcess is swapped out by tests of the abort instruction.
var exitProcess = os.Exit

// NewInterp creates a machine. The heap registries for strings,
// objects, arrays and host functions are process-wide and shared by
// every machine; see InitInterp.
func NewInterp(cfg Config) *Interp {
	stackSize := cfg.StackSize
	if stackSize <= 0 {
		stackSize = StackSize
	}

	in := &Interp{
		heap:  NewCodeHeap(cfg.CodeHeapSize),
		reg:   newVersionRegistry(),
		stack: make([]Value, stackSize),
		ip:    NoPos,
		log:   commonlog.GetLogger("zetavm.interp"),
	}
	in.sp = len(in.stack)
	return in
}

// InitInterp resets the process-wide heap registries. It is a one-shot
// initialization for hosts; values created before the reset become
// invalid, so it must not be called while any machine holds values.
func InitInterp() {
	initStrings()
	initObjects()
	initArrays()
	initHostFns()
}

func init() {
	InitInterp()
}

// ---------------------------------------------------------------------------
// Stack primitives
// ---------------------------------------------------------------------------

func (in *Interp) push(val Value) {
	if in.sp <= 0 {
		runError(ErrStackOverflow, "stack overflow")
	}
	in.sp--
	in.stack[in.sp] = val
}

func (in *Interp) pushBool(b bool) {
	if b {
		in.push(True)
	} else {
		in.push(False)
	}
}

func (in *Interp) pop() Value {
	if in.sp >= len(in.stack) {
		panic("pop: stack underflow")
	}
	val := in.stack[in.sp]
	in.sp++
	return val
}

func (in *Interp) popBool() bool {
	return in.pop().BoolVal()
}

func (in *Interp) popInt32() int32 {
	return in.pop().Int32Val()
}

func (in *Interp) popFloat32() float32 {
	return in.pop().Float32Val()
}

func (in *Interp) popStr() string {
	return StringVal(in.pop())
}

func (in *Interp) popObj() *Object {
	return ObjectVal(in.pop())
}

// StackSize returns the number of allocated stack slots.
func (in *Interp) StackSize() int {
	return len(in.stack) - in.sp
}

// reserve grows the stack downward by n slots, filling them with
// undefined values.
func (in *Interp) reserve(n int) {
	if n > in.sp {
		runError(ErrStackOverflow, "stack overflow")
	}
	in.sp -= n
	for i := 0; i < n; i++ {
		in.stack[in.sp+i] = Undef
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// checkArgCount verifies a call site's argument count against the
// callee, annotating the error with the call site's source position.
func (in *Interp) checkArgCount(callInstr uint32, numParams, numArgs int) {
	if numArgs != numParams {
		srcPos := in.reg.srcPosFor(callInstr)
		runErrorAt(
			ErrArgCountMismatch, srcPos,
			"incorrect argument count in call, received %d, expected %d",
			numArgs, numParams,
		)
	}
}

// funCall enters a user function: verifies the arity, builds the
// callee's frame over the pushed arguments and transfers control to
// its entry block.
func (in *Interp) funCall(callInstr uint32, fun Value, numArgs int, retVer *BlockVersion) {
	entryBB := entryIC.GetObj(fun)
	entryVer := in.reg.getVersion(fun, entryBB)

	if !entryVer.Compiled() {
		in.compile(entryVer)
	}

	numLocals := int(numLocalsIC.GetInt32(fun))
	numParams := int(numParamsIC.GetInt32(fun))

	in.checkArgCount(callInstr, numParams, numArgs)

	if numLocals < numParams {
		runError(ErrArgCountMismatch, "not enough locals to store function parameters")
	}

	// Stack pointer to restore on return: pops the arguments
	prevSp := in.sp + numArgs

	// Save the current frame pointer
	prevFp := in.fp

	// The frame pointer addresses the first argument; the arguments in
	// place become locals 0..numArgs-1
	in.fp = in.sp + numArgs - 1

	// Reserve the remaining locals
	in.reserve(numLocals - numArgs)

	retVerID := uint32(0)
	if retVer != nil {
		retVerID = retVer.ID
	}
	in.push(Raw(uint64(prevSp)))
	in.push(Raw(uint64(prevFp)))
	in.push(Raw(uint64(retVerID)))

	// Jump to the entry block of the function
	in.ip = entryVer.StartPos
}

// hostCall invokes a host function inline and continues at the return
// version.
func (in *Interp) hostCall(callInstr uint32, fun Value, numArgs int, retVer *BlockVersion) {
	hostFn := HostFnVal(fun)

	if numArgs > MaxHostFnArgs {
		runError(ErrArityUnsupported, "host call with %d arguments, at most %d supported", numArgs, MaxHostFnArgs)
	}
	in.checkArgCount(callInstr, hostFn.NumParams, numArgs)

	// The first argument pushed sits deepest; collect in push order
	args := make([]Value, numArgs)
	for i := 0; i < numArgs; i++ {
		args[i] = in.stack[in.sp+numArgs-1-i]
	}

	retVal := hostFn.Fn(in, args)

	// Pop the arguments, push the return value
	in.sp += numArgs
	in.push(retVal)

	if !retVer.Compiled() {
		in.compile(retVer)
	}
	in.ip = retVer.StartPos
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// resolveDest resolves a branch destination slot on first traversal:
// if the slot still holds a version id, the target is compiled as
// needed and the slot patched in place with its start offset, exactly
// once. Returns the offset to transfer control to.
func (in *Interp) resolveDest(slotOff uint32) uint32 {
	dst := in.heap.readU32(slotOff)
	if dst&unresolvedRef == 0 {
		return dst
	}

	dstVer := in.reg.byID(dst &^ unresolvedRef)
	if !dstVer.Compiled() {
		in.compile(dstVer)
	}

	in.log.Debugf("patching branch target at %d -> version %d", slotOff, dstVer.ID)
	in.heap.patchU32(slotOff, dstVer.StartPos)
	return dstVer.StartPos
}

// exec drives dispatch beginning at the current instruction pointer
// and runs until a top-level return.
func (in *Interp) exec() Value {
	for {
		opPos := in.ip
		op := in.heap.readOp(opPos)
		in.ip += 2

		switch op {
		case PUSH:
			val := in.heap.readVal(in.ip)
			in.ip += 8
			in.push(val)

		case POP:
			in.pop()

		case DUP:
			idx := in.heap.readU16(in.ip)
			in.ip += 2
			in.push(in.stack[in.sp+int(idx)])

		case SWAP:
			v0 := in.pop()
			v1 := in.pop()
			in.push(v0)
			in.push(v1)

		case SET_LOCAL:
			idx := in.heap.readU16(in.ip)
			in.ip += 2
			in.stack[in.fp-int(idx)] = in.pop()

		case GET_LOCAL:
			idx := in.heap.readU16(in.ip)
			in.ip += 2
			in.push(in.stack[in.fp-int(idx)])

		//
		// Integer operations
		//

		case ADD_I32:
			arg1 := in.popInt32()
			arg0 := in.popInt32()
			in.push(Int32(arg0 + arg1))

		case SUB_I32:
			arg1 := in.popInt32()
			arg0 := in.popInt32()
			in.push(Int32(arg0 - arg1))

		case MUL_I32:
			arg1 := in.popInt32()
			arg0 := in.popInt32()
			in.push(Int32(arg0 * arg1))

		case LT_I32:
			arg1 := in.popInt32()
			arg0 := in.popInt32()
			in.pushBool(arg0 < arg1)

		case LE_I32:
			arg1 := in.popInt32()
			arg0 := in.popInt32()
			in.pushBool(arg0 <= arg1)

		case GT_I32:
			arg1 := in.popInt32()
			arg0 := in.popInt32()
			in.pushBool(arg0 > arg1)

		case GE_I32:
			arg1 := in.popInt32()
			arg0 := in.popInt32()
			in.pushBool(arg0 >= arg1)

		case EQ_I32:
			arg1 := in.popInt32()
			arg0 := in.popInt32()
			in.pushBool(arg0 == arg1)

		//
		// Floating-point operations
		//

		case ADD_F32:
			arg1 := in.popFloat32()
			arg0 := in.popFloat32()
			in.push(Float32(arg0 + arg1))

		case SUB_F32:
			arg1 := in.popFloat32()
			arg0 := in.popFloat32()
			in.push(Float32(arg0 - arg1))

		case MUL_F32:
			arg1 := in.popFloat32()
			arg0 := in.popFloat32()
			in.push(Float32(arg0 * arg1))

		case DIV_F32:
			arg1 := in.popFloat32()
			arg0 := in.popFloat32()
			in.push(Float32(arg0 / arg1))

		case LT_F32:
			arg1 := in.popFloat32()
			arg0 := in.popFloat32()
			in.pushBool(arg0 < arg1)

		case LE_F32:
			arg1 := in.popFloat32()
			arg0 := in.popFloat32()
			in.pushBool(arg0 <= arg1)

		case GT_F32:
			arg1 := in.popFloat32()
			arg0 := in.popFloat32()
			in.pushBool(arg0 > arg1)

		case GE_F32:
			arg1 := in.popFloat32()
			arg0 := in.popFloat32()
			in.pushBool(arg0 >= arg1)

		case EQ_F32:
			arg1 := in.popFloat32()
			arg0 := in.popFloat32()
			in.pushBool(arg0 == arg1)

		case SIN_F32:
			arg := in.popFloat32()
			in.push(Float32(float32(math.Sin(float64(arg)))))

		case COS_F32:
			arg := in.popFloat32()
			in.push(Float32(float32(math.Cos(float64(arg)))))

		case SQRT_F32:
			arg := in.popFloat32()
			in.push(Float32(float32(math.Sqrt(float64(arg)))))

		//
		// Conversion operations
		//

		case I32_TO_F32:
			arg0 := in.popInt32()
			in.push(Float32(float32(arg0)))

		case F32_TO_I32:
			arg0 := in.popFloat32()
			in.push(Int32(truncToInt32(arg0)))

		case F32_TO_STR:
			arg0 := in.popFloat32()
			in.push(NewString(fmt.Sprintf("%f", arg0)))

		case STR_TO_F32:
			arg0 := in.popStr()
			f, err := strconv.ParseFloat(arg0, 32)
			if err != nil {
				runError(ErrParseError, "str_to_f32 failed to parse %q", arg0)
			}
			in.push(Float32(float32(f)))

		//
		// Misc operations
		//

		case EQ_BOOL:
			arg1 := in.popBool()
			arg0 := in.popBool()
			in.pushBool(arg0 == arg1)

		case HAS_TAG:
			testTag := Tag(in.heap.readU16(in.ip))
			in.ip += 2
			in.pushBool(in.pop().Tag() == testTag)

		case GET_TAG:
			in.push(NewString(in.pop().Tag().String()))

		//
		// String operations
		//

		case STR_LEN:
			str := in.popStr()
			in.push(Int32(int32(len(str))))

		case GET_CHAR:
			idx := in.popInt32()
			str := in.popStr()
			if idx < 0 || int(idx) >= len(str) {
				runError(ErrOutOfBounds, "get_char, index out of bounds")
			}
			in.push(CharString(str[idx]))

		case GET_CHAR_CODE:
			idx := in.popInt32()
			str := in.popStr()
			if idx < 0 || int(idx) >= len(str) {
				runError(ErrOutOfBounds, "get_char_code, index out of bounds")
			}
			in.push(Int32(int32(str[idx])))

		case STR_CAT:
			// The string pushed first is the left operand
			a := in.pop()
			b := in.pop()
			in.push(StrConcat(b, a))

		case EQ_STR:
			arg1 := in.popStr()
			arg0 := in.popStr()
			in.pushBool(arg0 == arg1)

		//
		// Object operations
		//

		case NEW_OBJECT:
			capacity := in.popInt32()
			in.push(NewObject(int(capacity)))

		case HAS_FIELD:
			fieldName := in.popStr()
			obj := in.popObj()
			in.pushBool(obj.HasField(fieldName))

		case SET_FIELD:
			val := in.pop()
			fieldName := in.popStr()
			obj := in.popObj()
			if !IsValidIdent(fieldName) {
				runError(ErrBadIdent, "invalid identifier in set_field %q", fieldName)
			}
			obj.SetField(fieldName, val)

		// Reading a field that is not present aborts execution: the
		// running program is responsible for testing that fields exist
		// before reading them.
		case GET_FIELD:
			fieldName := in.popStr()
			obj := in.popObj()
			val, ok := obj.GetField(fieldName)
			if !ok {
				runError(ErrMissingField, "get_field failed, missing field %q", fieldName)
			}
			in.push(val)

		case EQ_OBJ:
			arg1 := in.pop()
			arg0 := in.pop()
			in.pushBool(arg0.Equals(arg1))

		//
		// Array operations
		//

		case NEW_ARRAY:
			length := in.popInt32()
			in.push(NewArray(int(length)))

		case ARRAY_LEN:
			arr := ArrayVal(in.pop())
			in.push(Int32(int32(arr.Length())))

		case ARRAY_PUSH:
			val := in.pop()
			arr := ArrayVal(in.pop())
			arr.Push(val)

		case SET_ELEM:
			val := in.pop()
			idx := in.popInt32()
			arr := ArrayVal(in.pop())
			if idx < 0 || int(idx) >= arr.Length() {
				runError(ErrOutOfBounds, "set_elem, index out of bounds")
			}
			arr.SetElem(int(idx), val)

		case GET_ELEM:
			idx := in.popInt32()
			arr := ArrayVal(in.pop())
			if idx < 0 || int(idx) >= arr.Length() {
				runError(ErrOutOfBounds, "get_elem, index out of bounds")
			}
			in.push(arr.GetElem(int(idx)))

		//
		// Branch instructions
		//

		case JUMP_STUB:
			dstVer := in.reg.byID(in.heap.readU32(in.ip) &^ unresolvedRef)
			if !dstVer.Compiled() {
				in.compile(dstVer)
			}

			// Patch the jump
			in.log.Debugf("patching jump at %d -> version %d", opPos, dstVer.ID)
			in.heap.patchOp(opPos, JUMP)
			in.heap.patchU32(opPos+2, dstVer.StartPos)

			in.ip = dstVer.StartPos

		case JUMP:
			in.ip = in.heap.readU32(in.ip)

		case IF_TRUE:
			thenSlot := opPos + 2
			elseSlot := opPos + 6
			in.ip += 8

			arg0 := in.pop()
			if arg0 == True {
				in.ip = in.resolveDest(thenSlot)
			} else {
				in.ip = in.resolveDest(elseSlot)
			}

		case CALL:
			numArgs := int(in.heap.readU16(in.ip))
			retVer := in.reg.byID(in.heap.readU32(in.ip + 2))
			in.ip += 6

			callee := in.pop()

			if in.StackSize() < numArgs {
				runError(ErrStackUnderflow, "stack underflow at call")
			}

			switch {
			case callee.IsObject():
				in.funCall(opPos, callee, numArgs, retVer)
			case callee.IsHostFn():
				in.hostCall(opPos, callee, numArgs, retVer)
			default:
				runError(ErrInvalidCallee, "invalid callee at call site")
			}

		case RET:
			// Pop the return value and the three saved slots, then
			// restore the caller's frame and stack pointers
			retVal := in.pop()
			retVerID := uint32(in.pop().RawVal())
			prevFp := int(in.pop().RawVal())
			prevSp := int(in.pop().RawVal())

			in.fp = prevFp
			in.sp = prevSp

			// A null return version is a top-level return
			if retVerID == 0 {
				return retVal
			}

			in.push(retVal)

			retVer := in.reg.byID(retVerID)
			if !retVer.Compiled() {
				in.compile(retVer)
			}
			in.ip = retVer.StartPos

		case THROW:
			excVal := in.pop()
			srcPos := in.reg.srcPosFor(opPos)
			runErrorAt(ErrThrow, srcPos, "uncaught exception: %s", excVal.String())

		case IMPORT:
			pkgName := in.popStr()
			if in.Importer == nil {
				runError(ErrImportFailed, "no import bridge configured")
			}
			pkg, err := in.Importer.Import(pkgName)
			if err != nil {
				runError(ErrImportFailed, "import of package %q failed: %v", pkgName, err)
			}
			in.push(pkg)

		case ABORT:
			errMsg := in.popStr()

			prefix := ""
			if srcPos := in.reg.srcPosFor(opPos); srcPos != Undef {
				prefix = PosToString(srcPos) + " - "
			}

			if errMsg != "" {
				fmt.Printf("%saborting execution due to error: %s\n", prefix, errMsg)
			} else {
				fmt.Printf("%saborting execution due to error\n", prefix)
			}

			exitProcess(1)

		default:
			panic(fmt.Sprintf("unhandled instruction in interpreter loop: %s", op))
		}
	}
}

// truncToInt32 converts a float to an int32, truncating toward zero
// and saturating out-of-range values; NaN converts to zero.
func truncToInt32(f float32) int32 {
	t := math.Trunc(float64(f))
	switch {
	case math.IsNaN(t):
		return 0
	case t >= float64(math.MaxInt32):
		return math.MaxInt32
	case t <= float64(math.MinInt32):
		return math.MinInt32
	default:
		return int32(t)
	}
}

// ---------------------------------------------------------------------------
// Embedding API
// ---------------------------------------------------------------------------

// CallFun drives the execution of a function and returns its result.
// Run-time errors raised anywhere below surface here as a *RunError.
// It may be re-entered recursively from host functions.
func (in *Interp) CallFun(fun Value, args []Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(*RunError); ok {
				result = Undef
				err = re
				return
			}
			panic(r)
		}
	}()

	numParams := int(numParamsIC.GetInt32(fun))
	numLocals := int(numLocalsIC.GetInt32(fun))
	if len(args) > numParams {
		runError(ErrArgCountMismatch,
			"too many arguments in call, received %d, expected at most %d",
			len(args), numParams)
	}
	if numLocals < numParams {
		runError(ErrArgCountMismatch, "not enough locals to store function parameters")
	}

	// Stack size before the call, checked on the way out
	preCallSz := in.StackSize()

	// Save the previous instruction pointer
	in.push(Raw(uint64(in.ip)))

	// Save the previous stack and frame pointers
	prevSp := in.sp
	prevFp := in.fp

	// The frame pointer addresses local 0, just below the saved state
	in.fp = in.sp - 1

	// Push space for the local variables
	in.reserve(numLocals)

	// Saved stack pointer, frame pointer and the null return version
	in.push(Raw(uint64(prevSp)))
	in.push(Raw(uint64(prevFp)))
	in.push(Raw(0))

	// Copy the arguments into the locals
	for i, arg := range args {
		in.stack[in.fp-i] = arg
	}

	// Generate code for the entry block on first reach
	entryBB := entryIC.GetObj(fun)
	entryVer := in.reg.getVersion(fun, entryBB)
	if !entryVer.Compiled() {
		in.compile(entryVer)
	}

	in.ip = entryVer.StartPos
	retVal := in.exec()

	// Restore the previous instruction pointer
	in.ip = uint32(in.pop().RawVal())

	if in.StackSize() != preCallSz {
		runError(ErrStackLeak, "stack size does not match after call termination")
	}

	return retVal, nil
}

// CallExport looks up an exported function on a package object and
// calls it.
func (in *Interp) CallExport(pkg Value, fnName string, args []Value) (Value, error) {
	pkgObj := ObjectVal(pkg)

	if !pkgObj.HasField(fnName) {
		return Undef, &RunError{
			Kind: ErrUnknownExport,
			Msg:  fmt.Sprintf("package does not export function %q", fnName),
		}
	}

	fnVal, _ := pkgObj.GetField(fnName)
	if !fnVal.IsObject() {
		return Undef, &RunError{
			Kind: ErrNotAFunction,
			Msg:  fmt.Sprintf("field %q exported by package is not a function", fnName),
		}
	}

	return in.CallFun(fnVal, args)
}
