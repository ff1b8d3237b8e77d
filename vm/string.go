package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Strings and buffers
// ---------------------------------------------------------------------------

// NewString returns a string value. Strings of at most one byte are
// immediate; longer ones are allocated on the heap. The result is Undefined
// when the heap is exhausted.
func (e *Env) NewString(s string) Value {
	if len(s) <= 1 {
		return inlineString(s)
	}
	off := e.alloc(blockSize(len(s), 1), magicString, 0, len(s))
	if off < 0 {
		return Undefined
	}
	copy(e.heap.mem[off+headerSize:], s)
	return heapValue(TagString, off)
}

// StaticString registers a host string constant and returns a value that
// refers to it without using the heap.
func (e *Env) StaticString(s string) Value {
	e.statics = append(e.statics, s)
	return staticString(len(e.statics)-1, true)
}

// Str returns the content of a string value.
func (e *Env) Str(v Value) (string, bool) {
	switch v.Tag() {
	case TagInlineString:
		p := v.payload()
		if p&(1<<8) == 0 {
			return "", true
		}
		return string([]byte{byte(p)}), true
	case TagString:
		off := v.offset()
		return string(e.heap.mem[off+headerSize : off+headerSize+e.count(off)]), true
	case TagStaticString:
		p := v.payload()
		i := int(p &^ hostBit)
		if p&hostBit != 0 {
			if i < len(e.statics) {
				return e.statics[i], true
			}
		} else if s, ok := e.exe.String(i); ok {
			return s, true
		}
		return "", true
	}
	return "", false
}

// strLen returns the byte length of a string value.
func (e *Env) strLen(v Value) int {
	switch v.Tag() {
	case TagInlineString:
		return int(v.payload() >> 8 & 1)
	case TagString:
		return e.count(v.offset())
	}
	s, _ := e.Str(v)
	return len(s)
}

// strIndex returns the one-byte string at index i, or Undefined.
func (e *Env) strIndex(v Value, i int) Value {
	s, _ := e.Str(v)
	if i < 0 || i >= len(s) {
		return Undefined
	}
	return inlineString(s[i : i+1])
}

// concat joins a string with the text form of any value.
func (e *Env) concat(a, b Value) Value {
	left, _ := e.Str(a)
	right, ok := e.Str(b)
	if !ok {
		right = e.Format(b)
	}
	return e.NewString(left + right)
}

func (e *Env) strIndexOf(v, sub Value) Value {
	s, _ := e.Str(v)
	t, ok := e.Str(sub)
	if !ok {
		return Number(-1)
	}
	return Number(float64(strings.Index(s, t)))
}

// NewBuffer allocates a zero-filled byte buffer.
func (e *Env) NewBuffer(n int) Value {
	if n < 0 {
		return Undefined
	}
	off := e.alloc(blockSize(n, 1), magicBuffer, 0, n)
	if off < 0 {
		return Undefined
	}
	clear(e.heap.mem[off+headerSize : off+blockSize(n, 1)])
	return heapValue(TagBuffer, off)
}

// Bytes returns the live bytes of a buffer. The slice aliases the heap and
// is only valid until the next allocation.
func (e *Env) Bytes(v Value) []byte {
	if v.Tag() != TagBuffer {
		return nil
	}
	off := v.offset()
	return e.heap.mem[off+headerSize : off+headerSize+e.count(off)]
}
