package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Image Format Constants
// ---------------------------------------------------------------------------

// Magic identifies an ember image.
var Magic = [4]byte{'E', 'M', 'B', 'X'}

// Version is the image format version.
const Version = 1

// AddrSize is the width in bytes of every offset stored in an image.
const AddrSize = 4

// HeaderSize is the fixed header length. Layout:
//
//	0   magic[4]
//	4   address size
//	5   byte order (0 little, 1 big)
//	6   version
//	7   reserved[9]
//	16  number count, number offset
//	24  string count, string offset
//	32  function count, function offset
//	40  reserved up to 64
const HeaderSize = 64

// FunctionHeaderSize is the length of the header in front of each code blob:
// var count, arg count, big-endian stackHigh|closure<<15, big-endian code size.
const FunctionHeaderSize = 8

// MaxStackHigh is the largest encodable stack high-water mark.
const MaxStackHigh = 0x7FFF

const (
	orderLittle = 0
	orderBig    = 1
)

const (
	offNumCount = 16
	offNumOff   = 20
	offStrCount = 24
	offStrOff   = 28
	offFnCount  = 32
	offFnOff    = 36
)

var (
	ErrCountMismatch = errors.New("constant count does not match the reserved count")
	ErrWriteOrder    = errors.New("image writer called out of order")
)

func orderByte(order binary.ByteOrder) (byte, error) {
	switch order {
	case binary.LittleEndian:
		return orderLittle, nil
	case binary.BigEndian:
		return orderBig, nil
	}
	return 0, fmt.Errorf("unsupported byte order %v", order)
}

// ---------------------------------------------------------------------------
// Writer: three-step image serialization
// ---------------------------------------------------------------------------

// Writer builds an image in three steps: Init reserves the header and the
// constant tables, FillData writes the constant pools, and FillCode is called
// once per function in index order.
type Writer struct {
	buf   []byte
	order binary.ByteOrder

	numCount, strCount, fnCount int
	numOff, strOff, fnOff       int

	filled bool // FillData done
	nextFn int  // next FillCode index
}

// NewWriter returns a writer producing an image in the given byte order.
func NewWriter(order binary.ByteOrder) *Writer {
	return &Writer{order: order}
}

// Init writes the header and reserves the number array, the string offset
// table and the function offset table.
func (w *Writer) Init(numCount, strCount, fnCount int) error {
	if w.buf != nil {
		return ErrWriteOrder
	}
	ob, err := orderByte(w.order)
	if err != nil {
		return err
	}
	if numCount < 0 || strCount < 0 || fnCount < 1 {
		return fmt.Errorf("invalid image counts %d/%d/%d", numCount, strCount, fnCount)
	}

	w.numCount, w.strCount, w.fnCount = numCount, strCount, fnCount
	w.numOff = HeaderSize
	w.strOff = w.numOff + 8*numCount
	w.fnOff = w.strOff + AddrSize*strCount
	end := w.fnOff + AddrSize*fnCount

	w.buf = make([]byte, end, end+256)
	copy(w.buf, Magic[:])
	w.buf[4] = AddrSize
	w.buf[5] = ob
	w.buf[6] = Version
	w.put32(offNumCount, numCount)
	w.put32(offNumOff, w.numOff)
	w.put32(offStrCount, strCount)
	w.put32(offStrOff, w.strOff)
	w.put32(offFnCount, fnCount)
	w.put32(offFnOff, w.fnOff)
	return nil
}

func (w *Writer) put32(off, v int) {
	w.order.PutUint32(w.buf[off:], uint32(v))
}

func (w *Writer) pad(align int) {
	for len(w.buf)%align != 0 {
		w.buf = append(w.buf, 0)
	}
}

// FillData writes the constant pools. The counts must equal those given to
// Init. Strings are appended NUL-terminated to the string pool, which is
// padded to 16 bytes; a string containing NUL is rejected with
// ErrCorruptData.
func (w *Writer) FillData(numbers []float64, strs []string) error {
	if w.buf == nil || w.filled {
		return ErrWriteOrder
	}
	if len(numbers) != w.numCount || len(strs) != w.strCount {
		return fmt.Errorf("%w: numbers %d/%d, strings %d/%d",
			ErrCountMismatch, len(numbers), w.numCount, len(strs), w.strCount)
	}
	for i, n := range numbers {
		w.order.PutUint64(w.buf[w.numOff+8*i:], math.Float64bits(n))
	}
	for i, s := range strs {
		if strings.IndexByte(s, 0) >= 0 {
			return fmt.Errorf("%w: string %d contains a NUL byte", ErrCorruptData, i)
		}
	}
	for i, s := range strs {
		w.put32(w.strOff+AddrSize*i, len(w.buf))
		w.buf = append(w.buf, s...)
		w.buf = append(w.buf, 0)
	}
	w.pad(16)
	w.filled = true
	return nil
}

// FillCode appends the next function's header and code, 8-byte aligned.
func (w *Writer) FillCode(fn *Function) error {
	if !w.filled || w.nextFn >= w.fnCount {
		return ErrWriteOrder
	}
	if fn.VarCount > 0xFF || fn.ArgCount > 0xFF || fn.ArgCount > fn.VarCount {
		return fmt.Errorf("function %d: invalid variable layout %d/%d", w.nextFn, fn.VarCount, fn.ArgCount)
	}
	if fn.StackHigh > MaxStackHigh {
		return fmt.Errorf("function %d: stack high-water mark %d too large", w.nextFn, fn.StackHigh)
	}

	w.pad(8)
	w.put32(w.fnOff+AddrSize*w.nextFn, len(w.buf))

	var hdr [FunctionHeaderSize]byte
	hdr[0] = byte(fn.VarCount)
	hdr[1] = byte(fn.ArgCount)
	sh := uint16(fn.StackHigh)
	if fn.Closure {
		sh |= 0x8000
	}
	binary.BigEndian.PutUint16(hdr[2:], sh)
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(fn.Code)))
	w.buf = append(w.buf, hdr[:]...)
	w.buf = append(w.buf, fn.Code...)
	w.nextFn++
	return nil
}

// Bytes returns the finished image. Every reserved function must have been
// filled.
func (w *Writer) Bytes() ([]byte, error) {
	if !w.filled || w.nextFn != w.fnCount {
		return nil, fmt.Errorf("%w: %d of %d functions written", ErrWriteOrder, w.nextFn, w.fnCount)
	}
	w.pad(8)
	return w.buf, nil
}

// Encode serializes an executable.
func Encode(x *Executable, order binary.ByteOrder) ([]byte, error) {
	w := NewWriter(order)
	if err := w.Init(len(x.Numbers), len(x.Strings), len(x.Funcs)); err != nil {
		return nil, err
	}
	if err := w.FillData(x.Numbers, x.Strings); err != nil {
		return nil, err
	}
	for _, fn := range x.Funcs {
		if err := w.FillCode(fn); err != nil {
			return nil, err
		}
	}
	return w.Bytes()
}
