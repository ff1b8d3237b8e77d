// Package arena implements the bump allocator shared by the compiler's
// scratch space and the runtime heap's semi-spaces.
//
// An Arena never frees individual allocations. Space comes back either
// wholesale (Reset, used by the copying collector after it evacuates a
// semi-space) or through Compact, which slides a caller-enumerated live set
// down to the start of the buffer and reports every block's new offset.
package arena

import "sort"

// Alignment is the allocation granularity in bytes.
const Alignment = 8

// Align rounds n up to the allocation granularity.
func Align(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Arena is a bump allocator over a fixed byte slice.
type Arena struct {
	buf  []byte
	free int
}

// New creates an arena over buf. The usable size is truncated to a multiple
// of Alignment.
func New(buf []byte) *Arena {
	return &Arena{buf: buf[:len(buf)&^(Alignment-1)]}
}

// Alloc reserves n bytes (rounded up to Alignment) and returns their offset.
// It returns false when the arena cannot satisfy the request; the arena is
// unchanged in that case.
func (a *Arena) Alloc(n int) (int, bool) {
	n = Align(n)
	if n <= 0 || a.free+n > len(a.buf) {
		return 0, false
	}
	off := a.free
	a.free += n
	return off, true
}

// Fits reports whether an allocation of n bytes would succeed.
func (a *Arena) Fits(n int) bool {
	n = Align(n)
	return a.free+n <= len(a.buf)
}

// Reset discards every allocation.
func (a *Arena) Reset() { a.free = 0 }

// Bytes returns the whole backing buffer.
func (a *Arena) Bytes() []byte { return a.buf }

// Used returns the number of allocated bytes.
func (a *Arena) Used() int { return a.free }

// Cap returns the arena size in bytes.
func (a *Arena) Cap() int { return len(a.buf) }

// Free returns the number of unallocated bytes.
func (a *Arena) Free() int { return len(a.buf) - a.free }

// Block describes one live allocation for Compact. Relocate is called with
// the block's new offset after it has been moved; it is called even when
// the block does not move.
type Block struct {
	Off      int
	Size     int
	Relocate func(newOff int)
}

// Compact slides the live blocks to the bottom of the arena in address
// order and returns the number of bytes reclaimed. Several Block entries may
// name the same offset; the bytes are moved once and every Relocate is
// called. Everything not listed is discarded.
func (a *Arena) Compact(live []Block) int {
	before := a.free
	sort.SliceStable(live, func(i, j int) bool { return live[i].Off < live[j].Off })

	dst := 0
	for i := 0; i < len(live); {
		off := live[i].Off
		size := 0
		j := i
		for ; j < len(live) && live[j].Off == off; j++ {
			if s := Align(live[j].Size); s > size {
				size = s
			}
		}
		if off != dst {
			copy(a.buf[dst:dst+size], a.buf[off:off+size])
		}
		// Every entry sharing this offset follows the block.
		for k := i; k < j; k++ {
			if live[k].Relocate != nil {
				live[k].Relocate(dst)
			}
		}
		dst += size
		i = j
	}
	a.free = dst
	return before - a.free
}
