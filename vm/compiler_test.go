package vm

import "testing"

func TestCompileEmptyBlock(t *testing.T) {
	InitInterp()
	in := NewInterp(Config{})

	fun := newFun(0, 0)
	setEntry(fun, newBlock())

	_, err := in.CallFun(fun, nil)
	wantRunError(t, err, ErrEmptyBlock)
}

func TestCompileUnknownOp(t *testing.T) {
	InitInterp()
	in := NewInterp(Config{})

	fun := newFun(0, 0)
	setEntry(fun, newBlock(inst("frobnicate")))

	_, err := in.CallFun(fun, nil)
	wantRunError(t, err, ErrUnknownOp)
}

func TestCompileUnknownTag(t *testing.T) {
	InitInterp()
	in := NewInterp(Config{})

	fun := newFun(0, 0)
	setEntry(fun, newBlock(
		inst("push", "val", Int32(1)),
		inst("has_tag", "tag", NewString("quaternion")),
		inst("ret"),
	))

	_, err := in.CallFun(fun, nil)
	wantRunError(t, err, ErrUnknownOp)
}

func TestCompileEmitsStubs(t *testing.T) {
	InitInterp()
	in := NewInterp(Config{})

	target := newBlock(inst("push", "val", Int32(1)), inst("ret"))
	entry := newBlock(
		inst("push", "val", Int32(0)),
		inst("pop"),
		inst("jump", "to", target),
	)
	fun := newFun(0, 0)
	setEntry(fun, newBlock(inst("push", "val", Int32(9)), inst("ret")))

	// Compile the entry block directly without running it
	entryVer := in.reg.getVersion(fun, entry)
	in.compile(entryVer)

	if !entryVer.Compiled() {
		t.Fatal("compile must set the code range")
	}
	if entryVer.StartPos >= entryVer.EndPos {
		t.Fatal("compiled range must be non-empty")
	}

	// The jump is emitted as a stub carrying the target's version id
	// PUSH(2+8) POP(2) leaves the jump at offset 12
	jumpOff := entryVer.StartPos + 12
	if op := in.heap.readOp(jumpOff); op != JUMP_STUB {
		t.Fatalf("emitted opcode = %v, want JUMP_STUB", op)
	}
	dst := in.heap.readU32(jumpOff + 2)
	if dst&unresolvedRef == 0 {
		t.Fatal("stub destination must carry the unresolved bit")
	}

	targetVer := in.reg.byBlock[target.handle()]
	if targetVer == nil {
		t.Fatal("jump target must get a stub version at compile time")
	}
	if dst&^unresolvedRef != targetVer.ID {
		t.Errorf("stub destination id = %d, want %d", dst&^unresolvedRef, targetVer.ID)
	}
	if targetVer.Compiled() {
		t.Error("jump target must stay uncompiled until first traversal")
	}
}

func TestCompileSourceOrder(t *testing.T) {
	InitInterp()
	in := NewInterp(Config{})

	block := newBlock(
		inst("push", "val", Int32(1)),
		inst("pop"),
		inst("push", "val", Int32(2)),
		inst("ret"),
	)
	fun := newFun(0, 0)
	setEntry(fun, block)

	ver := in.reg.getVersion(fun, block)
	in.compile(ver)

	// PUSH, POP, PUSH, RET in exactly source order
	off := ver.StartPos
	wantOps := []Opcode{PUSH, POP, PUSH, RET}
	for i, want := range wantOps {
		op := in.heap.readOp(off)
		if op != want {
			t.Fatalf("instruction %d = %v, want %v", i, op, want)
		}
		off += 2
		if op == PUSH {
			off += 8
		}
	}
	if off != ver.EndPos {
		t.Errorf("end of decode = %d, want EndPos %d", off, ver.EndPos)
	}
}

func TestCallRegistersRetAndThrow(t *testing.T) {
	InitInterp()
	in := NewInterp(Config{})

	callee := newFun(0, 0)
	setEntry(callee, newBlock(inst("push", "val", Int32(1)), inst("ret")))

	cont := newBlock(inst("ret"))
	catch := newBlock(inst("push", "val", Undef), inst("ret"))
	entry := newBlock(
		inst("push", "val", callee),
		inst("call", "num_args", Int32(0), "ret_to", cont, "throw_to", catch),
	)
	fun := newFun(0, 0)
	setEntry(fun, entry)

	ver := in.reg.getVersion(fun, entry)
	in.compile(ver)

	retVer := in.reg.byBlock[cont.handle()]
	if retVer == nil {
		t.Fatal("ret_to block must get a version")
	}
	entryInfo := in.reg.retEntry(retVer)
	if entryInfo == nil {
		t.Fatal("call must register a return entry")
	}
	catchVer := in.reg.byBlock[catch.handle()]
	if entryInfo.ExcVer != catchVer || catchVer == nil {
		t.Error("return entry must reference the throw_to version")
	}
}

func TestSrcPosRecovery(t *testing.T) {
	InitInterp()
	in := NewInterp(Config{})

	callee := newFun(0, 0)
	setEntry(callee, newBlock(inst("push", "val", Int32(1)), inst("ret")))

	cont := newBlock(inst("ret"))
	entry := newBlock(
		inst("push", "val", callee, "src_pos", srcPos("prog.zim", 12, 4)),
		inst("call", "num_args", Int32(0), "ret_to", cont),
	)
	fun := newFun(0, 0)
	setEntry(fun, entry)

	ver := in.reg.getVersion(fun, entry)
	in.compile(ver)

	// The call instruction follows the 10-byte push
	callOff := ver.StartPos + 10
	if op := in.heap.readOp(callOff); op != CALL {
		t.Fatalf("opcode at call offset = %v, want CALL", op)
	}

	pos := in.reg.srcPosFor(callOff)
	if pos == Undef {
		t.Fatal("source position must be recoverable at the call site")
	}
	if got := PosToString(pos); got != "prog.zim@12:4" {
		t.Errorf("PosToString = %q, want %q", got, "prog.zim@12:4")
	}

	// Unmapped instructions have no position
	if in.reg.srcPosFor(ver.StartPos) != Undef {
		t.Error("non-call instructions are not mapped")
	}
}

func TestVersionFunMismatchPanics(t *testing.T) {
	InitInterp()
	in := NewInterp(Config{})

	block := newBlock(inst("ret"))
	funA := newFun(0, 0)
	funB := newFun(0, 0)

	in.reg.getVersion(funA, block)

	defer func() {
		if recover() == nil {
			t.Error("getVersion must reject a block owned by another function")
		}
	}()
	in.reg.getVersion(funB, block)
}

func TestCodeHeapExhausted(t *testing.T) {
	InitInterp()
	in := NewInterp(Config{CodeHeapSize: 16})

	fun := newFun(0, 0)
	setEntry(fun, newBlock(
		inst("push", "val", Int32(1)),
		inst("push", "val", Int32(2)),
		inst("push", "val", Int32(3)),
		inst("ret"),
	))

	_, err := in.CallFun(fun, nil)
	wantRunError(t, err, ErrCodeHeapExhausted)
}
