package vm

import "encoding/binary"

// ---------------------------------------------------------------------------
// Code heap
// ---------------------------------------------------------------------------

// CodeHeapSize is the size of the code heap in bytes.
const CodeHeapSize = 1 << 20

// NoPos marks an offset slot as unset.
const NoPos uint32 = ^uint32(0)

// unresolvedRef marks a branch destination slot that still holds a
// block version id instead of a code heap offset. Offsets stay below
// the heap size and version ids are small, so the bit is unambiguous.
// Patching clears the bit and stores the compiled start offset in the
// same slot, exactly once per slot.
const unresolvedRef uint32 = 1 << 31

// CodeHeap is the single append-only buffer all blocks compile into.
// Offsets into it are handed out instead of pointers; the buffer is
// allocated once and never reallocated, so offsets are stable. The only
// bytes ever rewritten are branch opcodes and their destination slots,
// during jump patching.
type CodeHeap struct {
	buf   []byte
	alloc uint32
}

// NewCodeHeap allocates a code heap of the given size.
func NewCodeHeap(size int) *CodeHeap {
	if size <= 0 {
		size = CodeHeapSize
	}
	return &CodeHeap{buf: make([]byte, size)}
}

// Pos returns the current allocation offset.
func (h *CodeHeap) Pos() uint32 {
	return h.alloc
}

// Contains reports whether off lies inside the allocated code range.
func (h *CodeHeap) Contains(off uint32) bool {
	return off < h.alloc
}

func (h *CodeHeap) grow(n uint32) uint32 {
	if h.alloc+n > uint32(len(h.buf)) {
		runError(ErrCodeHeapExhausted, "code heap exhausted (%d bytes)", len(h.buf))
	}
	off := h.alloc
	h.alloc += n
	return off
}

// WriteOp appends a 16-bit opcode.
func (h *CodeHeap) WriteOp(op Opcode) {
	off := h.grow(2)
	binary.LittleEndian.PutUint16(h.buf[off:], uint16(op))
}

// WriteU16 appends a 16-bit operand.
func (h *CodeHeap) WriteU16(v uint16) {
	off := h.grow(2)
	binary.LittleEndian.PutUint16(h.buf[off:], v)
}

// WriteU32 appends a 32-bit operand.
func (h *CodeHeap) WriteU32(v uint32) {
	off := h.grow(4)
	binary.LittleEndian.PutUint32(h.buf[off:], v)
}

// WriteVal appends a full value operand.
func (h *CodeHeap) WriteVal(v Value) {
	off := h.grow(8)
	binary.LittleEndian.PutUint64(h.buf[off:], uint64(v))
}

// Reads do not bounds-check beyond the slice itself: the compiler only
// emits whole instructions, so a valid instruction pointer always has
// its operands in range.

func (h *CodeHeap) readOp(off uint32) Opcode {
	return Opcode(binary.LittleEndian.Uint16(h.buf[off:]))
}

func (h *CodeHeap) readU16(off uint32) uint16 {
	return binary.LittleEndian.Uint16(h.buf[off:])
}

func (h *CodeHeap) readU32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(h.buf[off:])
}

func (h *CodeHeap) readVal(off uint32) Value {
	return Value(binary.LittleEndian.Uint64(h.buf[off:]))
}

func (h *CodeHeap) patchOp(off uint32, op Opcode) {
	binary.LittleEndian.PutUint16(h.buf[off:], uint16(op))
}

func (h *CodeHeap) patchU32(off uint32, v uint32) {
	binary.LittleEndian.PutUint32(h.buf[off:], v)
}
