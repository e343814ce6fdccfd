package vm

// ---------------------------------------------------------------------------
// Block versions
// ---------------------------------------------------------------------------

// BlockVersion is the compiled materialisation of one source basic
// block. StartPos/EndPos delimit its encoded instructions in the code
// heap; both are NoPos until the block is compiled. Versions are
// created on first reference and live until process exit.
type BlockVersion struct {
	// Version id, used as the unresolved form of branch destinations.
	// Ids start at 1; id 0 is the null return-version sentinel.
	ID uint32

	// Associated function and block objects
	Fun   Value
	Block Value

	// Code range in the heap
	StartPos uint32
	EndPos   uint32
}

// Compiled reports whether code has been generated for this version.
func (bv *BlockVersion) Compiled() bool {
	return bv.StartPos != NoPos
}

// Length returns the size of the compiled code range in bytes.
func (bv *BlockVersion) Length() uint32 {
	if !bv.Compiled() {
		panic("BlockVersion.Length: not compiled")
	}
	return bv.EndPos - bv.StartPos
}

// RetEntry associates information with a return continuation version.
type RetEntry struct {
	// Exception/catch block version (may be nil)
	ExcVer *BlockVersion
}

// versionRegistry maps source blocks to their unique version, encoded
// instruction offsets back to their owning version, and return
// continuations to their handler entries.
type versionRegistry struct {
	// Versions indexed by id; slot 0 is the null sentinel
	versions []*BlockVersion

	// Block object handle -> version
	byBlock map[uint32]*BlockVersion

	// Instruction offset -> owning version. Only recorded for
	// instructions whose run-time semantics recover source position or
	// caller identity (call, throw, abort).
	instrMap map[uint32]*BlockVersion

	// Return version id -> associated info
	retEntries map[uint32]*RetEntry
}

func newVersionRegistry() *versionRegistry {
	return &versionRegistry{
		versions:   []*BlockVersion{nil},
		byBlock:    make(map[uint32]*BlockVersion),
		instrMap:   make(map[uint32]*BlockVersion),
		retEntries: make(map[uint32]*RetEntry),
	}
}

// getVersion returns the unique version for a block, creating an
// uncompiled stub on first reference. A block has at most one live
// version, and it always belongs to the same function.
func (r *versionRegistry) getVersion(fun, block Value) *BlockVersion {
	h := block.handle()

	if bv, ok := r.byBlock[h]; ok {
		if bv.Fun != fun {
			panic("versionRegistry: block version belongs to another function")
		}
		return bv
	}

	bv := &BlockVersion{
		ID:       uint32(len(r.versions)),
		Fun:      fun,
		Block:    block,
		StartPos: NoPos,
		EndPos:   NoPos,
	}
	r.versions = append(r.versions, bv)
	r.byBlock[h] = bv
	return bv
}

// byID returns a version by id, or nil for the null sentinel.
func (r *versionRegistry) byID(id uint32) *BlockVersion {
	if id == 0 {
		return nil
	}
	return r.versions[id]
}

// registerInstr records that the instruction starting at off belongs to
// a version.
func (r *versionRegistry) registerInstr(off uint32, bv *BlockVersion) {
	r.instrMap[off] = bv
}

// registerRet associates a return continuation with its entry.
func (r *versionRegistry) registerRet(retVer *BlockVersion, entry *RetEntry) {
	r.retEntries[retVer.ID] = entry
}

// retEntry returns the entry for a return version, or nil.
func (r *versionRegistry) retEntry(retVer *BlockVersion) *RetEntry {
	return r.retEntries[retVer.ID]
}

// srcPosFor recovers the source position for the instruction starting
// at off. It finds the owning version and scans that block's source
// instructions in reverse for the last src_pos annotation. Returns
// Undef when the instruction is unmapped or the block carries no
// annotation.
func (r *versionRegistry) srcPosFor(off uint32) Value {
	bv, ok := r.instrMap[off]
	if !ok {
		return Undef
	}

	instrs := instrsIC.GetArr(bv.Block)
	for i := instrs.Length() - 1; i >= 0; i-- {
		instr := ObjectVal(instrs.GetElem(i))
		if pos, ok := instr.GetField("src_pos"); ok {
			return pos
		}
	}

	return Undef
}
