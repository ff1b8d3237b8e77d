package vm

import (
	"math"

	"github.com/chazu/ember/pkg/errcode"
)

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// An array is a header holding the live range [begin, end) of a separate
// data block. Both ends have spare room, so push, pop, shift and unshift
// are amortized constant time.

// maxArrayGap bounds how far past the end an element assignment may extend
// an array.
const maxArrayGap = 1 << 16

func (e *Env) arrayRange(arr Value) (begin, end int) {
	off := arr.offset()
	return e.u32(off + 8), e.u32(off + 12)
}

func (e *Env) arrayLen(arr Value) int {
	begin, end := e.arrayRange(arr)
	return end - begin
}

// arraySlot returns the heap offset of element i; i must be in range.
func (e *Env) arraySlot(arr Value, i int) int {
	off := arr.offset()
	return e.val(off+16).offset() + headerSize + 8*(e.u32(off+8)+i)
}

func (e *Env) arrayAt(arr Value, i int) Value { return e.val(e.arraySlot(arr, i)) }

// arrayReserve makes room for front elements before the live range and
// back elements after it, moving the elements to a larger block when
// needed.
func (e *Env) arrayReserve(arr *Value, front, back int) bool {
	off := arr.offset()
	begin, end := e.arrayRange(*arr)
	capacity := 0
	if data := e.val(off + 16); data != Undefined {
		capacity = e.count(data.offset())
	}
	if begin >= front && capacity-end >= back {
		return true
	}
	n := end - begin
	grown := max(8, 2*(n+front+back))
	if !e.ensure(blockSize(grown, 8)) {
		return false
	}
	data := e.alloc(blockSize(grown, 8), magicArrayData, 0, grown)
	off = arr.offset()
	start := 0
	if front > 0 {
		start = (grown - n) / 2
	}
	if n > 0 {
		old := e.val(off+16).offset() + headerSize
		copy(e.heap.mem[data+headerSize+8*start:], e.heap.mem[old+8*begin:old+8*end])
	}
	e.setU32(off+8, start)
	e.setU32(off+12, start+n)
	e.setVal(off+16, heapValue(TagBlock, data))
	return true
}

// makeArray builds an array from the top n stack values.
func (e *Env) makeArray(n int) {
	size := arraySize
	if n > 0 {
		size += blockSize(n, 8)
	}
	if !e.ensure(size) {
		return
	}
	off := e.alloc(arraySize, magicArray, 0, 0)
	e.setU32(off+8, 0)
	e.setU32(off+12, n)
	e.setVal(off+16, Undefined)
	base := e.sp - n
	if n > 0 {
		data := e.alloc(blockSize(n, 8), magicArrayData, 0, n)
		for i := 0; i < n; i++ {
			e.setVal(data+headerSize+8*i, e.stack[base+i])
		}
		e.setVal(off+16, heapValue(TagBlock, data))
	}
	e.sp = base
	e.push(heapValue(TagArray, off))
}

// PushArray pops n values from the stack and pushes an array of them.
func (e *Env) PushArray(n int) bool {
	if n < 0 || n > e.sp {
		e.fail(errcode.InvalidInput, "array needs %d values, stack has %d", n, e.sp)
		return false
	}
	e.makeArray(n)
	return !e.err.Failed()
}

// arraySet stores *v at index i, extending the array with undefined
// elements when i is past the end.
func (e *Env) arraySet(arr *Value, i float64, v *Value) {
	if i < 0 || i != math.Trunc(i) {
		return
	}
	n := e.arrayLen(*arr)
	idx := int(i)
	if idx >= n {
		if idx-n >= maxArrayGap || !e.arrayReserve(arr, 0, idx-n+1) {
			return
		}
		off := arr.offset()
		for j := n; j <= idx; j++ {
			e.setVal(e.arraySlot(*arr, j), Undefined)
			e.setU32(off+12, e.u32(off+12)+1)
		}
	}
	e.setVal(e.arraySlot(*arr, idx), *v)
}

func (e *Env) arrayPush(arr, v *Value) {
	if !e.arrayReserve(arr, 0, 1) {
		return
	}
	off := arr.offset()
	end := e.u32(off + 12)
	e.setVal(e.val(off+16).offset()+headerSize+8*end, *v)
	e.setU32(off+12, end+1)
}

func (e *Env) arrayUnshift(arr, v *Value) {
	if !e.arrayReserve(arr, 1, 0) {
		return
	}
	off := arr.offset()
	begin := e.u32(off+8) - 1
	e.setVal(e.val(off+16).offset()+headerSize+8*begin, *v)
	e.setU32(off+8, begin)
}

func (e *Env) arrayPop(arr Value) Value {
	begin, end := e.arrayRange(arr)
	if end == begin {
		return Undefined
	}
	v := e.arrayAt(arr, end-begin-1)
	e.setU32(arr.offset()+12, end-1)
	return v
}

func (e *Env) arrayShift(arr Value) Value {
	begin, end := e.arrayRange(arr)
	if end == begin {
		return Undefined
	}
	v := e.arrayAt(arr, 0)
	e.setU32(arr.offset()+8, begin+1)
	return v
}

// Len returns the length of a string, array, buffer or object.
func (e *Env) Len(v Value) int {
	switch v.Tag() {
	case TagInlineString, TagString, TagStaticString:
		return e.strLen(v)
	case TagArray:
		return e.arrayLen(v)
	case TagBuffer:
		return e.count(v.offset())
	case TagObject:
		return e.objectLen(v)
	}
	return 0
}

// Index returns element i of an array, or Undefined.
func (e *Env) Index(arr Value, i int) Value {
	if arr.Tag() != TagArray || i < 0 || i >= e.arrayLen(arr) {
		return Undefined
	}
	return e.arrayAt(arr, i)
}
