package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Image Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic       = errors.New("invalid magic number: expected EMBX")
	ErrVersionMismatch    = errors.New("image version mismatch")
	ErrCorruptHeader      = errors.New("corrupt image header")
	ErrCorruptData        = errors.New("corrupt image data")
	ErrInvalidStringIndex = errors.New("invalid string index")
	ErrInvalidFuncIndex   = errors.New("invalid function index")
	ErrInvalidNumberIndex = errors.New("invalid number index")
)

// ---------------------------------------------------------------------------
// Image: read-only view over a serialized executable
// ---------------------------------------------------------------------------

// Image is a validated image buffer. Accessors compute offsets into the
// buffer and never copy; the buffer must stay unmodified while the Image
// or anything obtained from it is in use.
type Image struct {
	buf   []byte
	order binary.ByteOrder

	numCount, strCount, fnCount int
	numOff, strOff, fnOff       int
}

// Load validates the header of buf.
func Load(buf []byte) (*Image, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptHeader, len(buf))
	}
	if !bytes.Equal(buf[:4], Magic[:]) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, buf[:4])
	}
	if buf[4] != AddrSize {
		return nil, fmt.Errorf("%w: address size %d", ErrCorruptHeader, buf[4])
	}
	if buf[6] != Version {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, Version, buf[6])
	}

	img := &Image{buf: buf}
	switch buf[5] {
	case orderLittle:
		img.order = binary.LittleEndian
	case orderBig:
		img.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: byte order %d", ErrCorruptHeader, buf[5])
	}

	img.numCount, img.numOff = img.u32(offNumCount), img.u32(offNumOff)
	img.strCount, img.strOff = img.u32(offStrCount), img.u32(offStrOff)
	img.fnCount, img.fnOff = img.u32(offFnCount), img.u32(offFnOff)

	if img.fnCount < 1 ||
		!img.within(img.numOff, 8*img.numCount) ||
		!img.within(img.strOff, AddrSize*img.strCount) ||
		!img.within(img.fnOff, AddrSize*img.fnCount) {
		return nil, fmt.Errorf("%w: table out of range", ErrCorruptHeader)
	}
	return img, nil
}

func (img *Image) u32(off int) int {
	return int(img.order.Uint32(img.buf[off:]))
}

func (img *Image) within(off, n int) bool {
	return off >= HeaderSize && n >= 0 && off <= len(img.buf) && n <= len(img.buf)-off
}

// Order returns the byte order the image was written in.
func (img *Image) Order() binary.ByteOrder { return img.order }

// NumberCount returns the size of the number pool.
func (img *Image) NumberCount() int { return img.numCount }

// StringCount returns the size of the string pool.
func (img *Image) StringCount() int { return img.strCount }

// FunctionCount returns the number of functions.
func (img *Image) FunctionCount() int { return img.fnCount }

// Number returns numeric constant i.
func (img *Image) Number(i int) (float64, error) {
	if i < 0 || i >= img.numCount {
		return 0, fmt.Errorf("%w: %d", ErrInvalidNumberIndex, i)
	}
	return math.Float64frombits(img.order.Uint64(img.buf[img.numOff+8*i:])), nil
}

// String returns string constant i. The string aliases the image buffer.
func (img *Image) String(i int) (string, error) {
	if i < 0 || i >= img.strCount {
		return "", fmt.Errorf("%w: %d", ErrInvalidStringIndex, i)
	}
	off := img.u32(img.strOff + AddrSize*i)
	if off < HeaderSize || off >= len(img.buf) {
		return "", fmt.Errorf("%w: string %d at %d", ErrCorruptData, i, off)
	}
	n := bytes.IndexByte(img.buf[off:], 0)
	if n < 0 {
		return "", fmt.Errorf("%w: string %d unterminated", ErrCorruptData, i)
	}
	if n == 0 {
		return "", nil
	}
	return unsafe.String(&img.buf[off], n), nil
}

// Function returns function i. Its Code aliases the image buffer.
func (img *Image) Function(i int) (*Function, error) {
	if i < 0 || i >= img.fnCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFuncIndex, i)
	}
	off := img.u32(img.fnOff + AddrSize*i)
	if !img.within(off, FunctionHeaderSize) {
		return nil, fmt.Errorf("%w: function %d at %d", ErrCorruptData, i, off)
	}
	hdr := img.buf[off : off+FunctionHeaderSize]
	sh := binary.BigEndian.Uint16(hdr[2:])
	size := int(binary.BigEndian.Uint32(hdr[4:]))
	code := off + FunctionHeaderSize
	if !img.within(code, size) {
		return nil, fmt.Errorf("%w: function %d code overruns image", ErrCorruptData, i)
	}
	fn := &Function{
		VarCount:  int(hdr[0]),
		ArgCount:  int(hdr[1]),
		StackHigh: int(sh & MaxStackHigh),
		Closure:   sh&0x8000 != 0,
		Code:      img.buf[code : code+size : code+size],
	}
	if fn.ArgCount > fn.VarCount {
		return nil, fmt.Errorf("%w: function %d has %d args, %d vars", ErrCorruptData, i, fn.ArgCount, fn.VarCount)
	}
	return fn, nil
}

// Executable materializes the image as an Executable whose strings and code
// point into the image buffer.
func (img *Image) Executable() (*Executable, error) {
	x := &Executable{
		Numbers: make([]float64, img.numCount),
		Strings: make([]string, img.strCount),
		Funcs:   make([]*Function, img.fnCount),
	}
	var err error
	for i := range x.Numbers {
		if x.Numbers[i], err = img.Number(i); err != nil {
			return nil, err
		}
	}
	for i := range x.Strings {
		if x.Strings[i], err = img.String(i); err != nil {
			return nil, err
		}
	}
	for i := range x.Funcs {
		if x.Funcs[i], err = img.Function(i); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Decode loads buf and materializes its executable.
func Decode(buf []byte) (*Executable, error) {
	img, err := Load(buf)
	if err != nil {
		return nil, err
	}
	return img.Executable()
}
