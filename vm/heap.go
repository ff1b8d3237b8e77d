package vm

import (
	"encoding/binary"

	"github.com/chazu/ember/pkg/arena"
	"github.com/chazu/ember/pkg/errcode"
)

// ---------------------------------------------------------------------------
// Heap: two semi-spaces of one byte slice
// ---------------------------------------------------------------------------

// Every heap object starts with an 8-byte little-endian header:
//
//	byte 0    magic
//	byte 1    age (reserved)
//	bytes 2-3 aux
//	bytes 4-7 n
//
// A forwarded object keeps magicForward and stores its new offset in n.
const (
	magicString    byte = 0xA1 // n = length, bytes follow
	magicBuffer    byte = 0xA2 // n = length, bytes follow
	magicArray     byte = 0xA3 // begin u32 @8, end u32 @12, data @16
	magicArrayData byte = 0xA4 // n = capacity, values follow
	magicObject    byte = 0xA5 // n = count, cap u32 @8, proto @16, keys @24, vals @32
	magicKeys      byte = 0xA6 // n = capacity, u32 symbol ids follow
	magicSlots     byte = 0xA7 // n = count, values follow
	magicFunction  byte = 0xA8 // n = function index, scope @8
	magicScope     byte = 0xA9 // aux = argument count, n = slots, super @8, slots @16
	magicForeign   byte = 0xAA // n = type index, data int64 @8
	magicForward   byte = 0xFF

	headerSize   = 8
	arraySize    = 24
	objectSize   = 40
	functionSize = 16
	scopeSize    = 24
	foreignSize  = 16
)

type heap struct {
	mem    []byte
	spaces [2]*arena.Arena
	bases  [2]int
	active int
}

func newHeap(mem []byte) heap {
	half := len(mem) / 2 &^ (arena.Alignment - 1)
	return heap{
		mem:    mem,
		spaces: [2]*arena.Arena{arena.New(mem[:half]), arena.New(mem[half : 2*half])},
		bases:  [2]int{0, half},
	}
}

func (h *heap) space() *arena.Arena { return h.spaces[h.active] }

// blockSize is the heap size of an object with n elements of width w
// after the header.
func blockSize(n, w int) int { return headerSize + arena.Align(n*w) }

func (e *Env) magic(off int) byte { return e.heap.mem[off] }
func (e *Env) aux(off int) int    { return int(binary.LittleEndian.Uint16(e.heap.mem[off+2:])) }
func (e *Env) count(off int) int  { return int(binary.LittleEndian.Uint32(e.heap.mem[off+4:])) }

func (e *Env) setCount(off, n int) {
	binary.LittleEndian.PutUint32(e.heap.mem[off+4:], uint32(n))
}

func (e *Env) u32(off int) int { return int(binary.LittleEndian.Uint32(e.heap.mem[off:])) }

func (e *Env) setU32(off, v int) {
	binary.LittleEndian.PutUint32(e.heap.mem[off:], uint32(v))
}

func (e *Env) val(off int) Value { return Value(binary.LittleEndian.Uint64(e.heap.mem[off:])) }

func (e *Env) setVal(off int, v Value) {
	binary.LittleEndian.PutUint64(e.heap.mem[off:], uint64(v))
}

// ensure makes n bytes available in the active space, collecting once if
// needed. Allocations totalling at most n bytes made right after a
// successful ensure never collect, so values read after it stay valid.
func (e *Env) ensure(n int) bool {
	if e.err.Failed() {
		return false
	}
	if e.heap.space().Fits(n) {
		return true
	}
	e.collect()
	if e.heap.space().Fits(n) {
		return true
	}
	e.fail(errcode.NotEnoughMemory, "heap exhausted: %d bytes requested, %d free", n, e.heap.space().Free())
	return false
}

// alloc allocates a heap object and writes its header. It returns the
// absolute offset, or -1 with NotEnoughMemory latched.
func (e *Env) alloc(size int, magic byte, aux, n int) int {
	size = arena.Align(size)
	if !e.ensure(size) {
		return -1
	}
	rel, _ := e.heap.space().Alloc(size)
	off := e.heap.bases[e.heap.active] + rel
	hdr := e.heap.mem[off : off+headerSize]
	hdr[0], hdr[1] = magic, 0
	binary.LittleEndian.PutUint16(hdr[2:], uint16(aux))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(n))
	return off
}

// allocSlots allocates a block of n undefined values.
func (e *Env) allocSlots(n int) int {
	off := e.alloc(blockSize(n, 8), magicSlots, 0, n)
	if off < 0 {
		return -1
	}
	for i := 0; i < n; i++ {
		e.setVal(off+headerSize+8*i, Undefined)
	}
	return off
}

// objectBytes returns the heap size of the object at off.
func (e *Env) objectBytes(off int) int {
	switch e.magic(off) {
	case magicString, magicBuffer:
		return blockSize(e.count(off), 1)
	case magicArray:
		return arraySize
	case magicArrayData, magicSlots:
		return blockSize(e.count(off), 8)
	case magicObject:
		return objectSize
	case magicKeys:
		return blockSize(e.count(off), 4)
	case magicFunction:
		return functionSize
	case magicScope:
		return scopeSize
	case magicForeign:
		return foreignSize
	}
	return 0
}

// Stats reports heap usage.
type Stats struct {
	Collections int // completed garbage collections
	SpaceSize   int // bytes in each semi-space
	Used        int // bytes allocated in the active space
	Free        int // bytes left in the active space
}

// Stats returns the current heap statistics.
func (e *Env) Stats() Stats {
	sp := e.heap.space()
	return Stats{
		Collections: e.collections,
		SpaceSize:   sp.Cap(),
		Used:        sp.Used(),
		Free:        sp.Free(),
	}
}
