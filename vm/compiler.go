package vm

// ---------------------------------------------------------------------------
// Block compiler
// ---------------------------------------------------------------------------

// Inline caches for the instruction object fields read during
// compilation. One cache per field name, shared across all blocks: the
// image builder lays instruction objects out uniformly, so these stay
// on their memoized slot almost always.
var (
	instrsIC    = NewICache("instrs")
	opIC        = NewICache("op")
	valIC       = NewICache("val")
	idxIC       = NewICache("idx")
	tagIC       = NewICache("tag")
	toIC        = NewICache("to")
	thenIC      = NewICache("then")
	elseIC      = NewICache("else")
	numArgsIC   = NewICache("num_args")
	retToIC     = NewICache("ret_to")
	throwToIC   = NewICache("throw_to")
	entryIC     = NewICache("entry")
	numLocalsIC = NewICache("num_locals")
	numParamsIC = NewICache("num_params")
)

// zeroArgOps maps op strings that compile to a bare opcode with no
// operands.
var zeroArgOps = map[string]Opcode{
	"pop":           POP,
	"swap":          SWAP,
	"add_i32":       ADD_I32,
	"sub_i32":       SUB_I32,
	"mul_i32":       MUL_I32,
	"lt_i32":        LT_I32,
	"le_i32":        LE_I32,
	"gt_i32":        GT_I32,
	"ge_i32":        GE_I32,
	"eq_i32":        EQ_I32,
	"add_f32":       ADD_F32,
	"sub_f32":       SUB_F32,
	"mul_f32":       MUL_F32,
	"div_f32":       DIV_F32,
	"lt_f32":        LT_F32,
	"le_f32":        LE_F32,
	"gt_f32":        GT_F32,
	"ge_f32":        GE_F32,
	"eq_f32":        EQ_F32,
	"sin_f32":       SIN_F32,
	"cos_f32":       COS_F32,
	"sqrt_f32":      SQRT_F32,
	"i32_to_f32":    I32_TO_F32,
	"f32_to_i32":    F32_TO_I32,
	"f32_to_str":    F32_TO_STR,
	"str_to_f32":    STR_TO_F32,
	"eq_bool":       EQ_BOOL,
	"get_tag":       GET_TAG,
	"str_len":       STR_LEN,
	"get_char":      GET_CHAR,
	"get_char_code": GET_CHAR_CODE,
	"str_cat":       STR_CAT,
	"eq_str":        EQ_STR,
	"new_object":    NEW_OBJECT,
	"has_field":     HAS_FIELD,
	"set_field":     SET_FIELD,
	"get_field":     GET_FIELD,
	"eq_obj":        EQ_OBJ,
	"new_array":     NEW_ARRAY,
	"array_len":     ARRAY_LEN,
	"array_push":    ARRAY_PUSH,
	"set_elem":      SET_ELEM,
	"get_elem":      GET_ELEM,
	"ret":           RET,
	"import":        IMPORT,
}

// compile translates a source basic block into encoded instructions in
// the code heap, in source order, and fills in the version's code
// range. Branch targets are emitted as version-id stubs; they are
// resolved and patched in place on first traversal by the interpreter.
func (in *Interp) compile(version *BlockVersion) {
	block := version.Block
	instrs := instrsIC.GetArr(block)

	if instrs.Length() == 0 {
		runError(ErrEmptyBlock, "empty basic block")
	}

	in.log.Debugf("compiling block version %d (%d instrs)", version.ID, instrs.Length())

	// Mark the block start
	version.StartPos = in.heap.Pos()

	for i := 0; i < instrs.Length(); i++ {
		instr := instrs.GetElem(i)
		if !instr.IsObject() {
			panic("compile: instruction is not an object")
		}

		op := opIC.GetStr(instr)

		// Offset of the instruction being emitted
		instrPos := in.heap.Pos()

		if code, ok := zeroArgOps[op]; ok {
			in.heap.WriteOp(code)
			continue
		}

		switch op {
		case "push":
			val := valIC.GetField(instr)
			in.heap.WriteOp(PUSH)
			in.heap.WriteVal(val)

		case "dup":
			idx := uint16(idxIC.GetInt32(instr))
			in.heap.WriteOp(DUP)
			in.heap.WriteU16(idx)

		case "get_local":
			idx := uint16(idxIC.GetInt32(instr))
			in.heap.WriteOp(GET_LOCAL)
			in.heap.WriteU16(idx)

		case "set_local":
			idx := uint16(idxIC.GetInt32(instr))
			in.heap.WriteOp(SET_LOCAL)
			in.heap.WriteU16(idx)

		case "has_tag":
			tagStr := tagIC.GetStr(instr)
			tag, ok := StrToTag(tagStr)
			if !ok {
				runError(ErrUnknownOp, "unknown tag name %q in has_tag", tagStr)
			}
			in.heap.WriteOp(HAS_TAG)
			in.heap.WriteU16(uint16(tag))

		case "jump":
			dstBB := toIC.GetObj(instr)
			dstVer := in.reg.getVersion(version.Fun, dstBB)
			in.heap.WriteOp(JUMP_STUB)
			in.heap.WriteU32(dstVer.ID | unresolvedRef)

		case "if_true":
			thenBB := thenIC.GetObj(instr)
			elseBB := elseIC.GetObj(instr)
			thenVer := in.reg.getVersion(version.Fun, thenBB)
			elseVer := in.reg.getVersion(version.Fun, elseBB)
			in.heap.WriteOp(IF_TRUE)
			in.heap.WriteU32(thenVer.ID | unresolvedRef)
			in.heap.WriteU32(elseVer.ID | unresolvedRef)

		case "call":
			// The call site's address is needed at run time to recover
			// the source position for arity errors
			in.reg.registerInstr(instrPos, version)

			numArgs := uint16(numArgsIC.GetInt32(instr))

			// Get a version for the call continuation block
			retToBB := retToIC.GetObj(instr)
			retVer := in.reg.getVersion(version.Fun, retToBB)

			entry := &RetEntry{}
			if ObjectVal(instr).HasField("throw_to") {
				throwBB := throwToIC.GetObj(instr)
				entry.ExcVer = in.reg.getVersion(version.Fun, throwBB)
			}
			in.reg.registerRet(retVer, entry)

			in.heap.WriteOp(CALL)
			in.heap.WriteU16(numArgs)
			in.heap.WriteU32(retVer.ID)

		case "throw":
			// Needed to retrieve the identity of the throwing function
			in.reg.registerInstr(instrPos, version)
			in.heap.WriteOp(THROW)

		case "abort":
			// Needed to retrieve the source position
			in.reg.registerInstr(instrPos, version)
			in.heap.WriteOp(ABORT)

		default:
			runError(ErrUnknownOp, "unhandled opcode in basic block %q", op)
		}
	}

	// Mark the block end
	version.EndPos = in.heap.Pos()
}
