package image

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
)

func sampleExecutable(t *testing.T) *Executable {
	t.Helper()
	x := NewExecutable()
	for _, n := range []float64{3.5, math.Inf(-1), 3.5, math.Copysign(0, -1), 0} {
		if _, err := x.AddNumber(n); err != nil {
			t.Fatal(err)
		}
	}
	for _, s := range []string{"hello", "", "héllo wörld", "hello"} {
		if _, err := x.AddString(s); err != nil {
			t.Fatal(err)
		}
	}
	x.AddFunction(&Function{VarCount: 2, ArgCount: 0, StackHigh: 4, Code: []byte{0x19, 1, 0, 0x03, 0x00}})
	x.AddFunction(&Function{VarCount: 3, ArgCount: 2, StackHigh: 0x7FFF, Closure: true, Code: []byte{0x05}})
	x.AddFunction(&Function{})
	return x
}

func TestConstantDeduplication(t *testing.T) {
	x := sampleExecutable(t)
	if len(x.Numbers) != 4 {
		t.Errorf("len(Numbers) = %d, want 4 (-0 and 0 distinct, 3.5 once)", len(x.Numbers))
	}
	if len(x.Strings) != 3 {
		t.Errorf("len(Strings) = %d, want 3", len(x.Strings))
	}
}

func TestRoundTripBothOrders(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		x := sampleExecutable(t)
		buf, err := Encode(x, order)
		if err != nil {
			t.Fatalf("%v: Encode: %v", order, err)
		}
		if len(buf)%8 != 0 {
			t.Errorf("%v: image length %d not 8-aligned", order, len(buf))
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("%v: Decode: %v", order, err)
		}
		for i, n := range x.Numbers {
			if math.Float64bits(got.Numbers[i]) != math.Float64bits(n) {
				t.Errorf("%v: number %d = %v, want %v", order, i, got.Numbers[i], n)
			}
		}
		for i, s := range x.Strings {
			if got.Strings[i] != s {
				t.Errorf("%v: string %d = %q, want %q", order, i, got.Strings[i], s)
			}
		}
		if len(got.Funcs) != len(x.Funcs) {
			t.Fatalf("%v: %d functions, want %d", order, len(got.Funcs), len(x.Funcs))
		}
		for i, fn := range x.Funcs {
			g := got.Funcs[i]
			if g.VarCount != fn.VarCount || g.ArgCount != fn.ArgCount ||
				g.StackHigh != fn.StackHigh || g.Closure != fn.Closure ||
				string(g.Code) != string(fn.Code) {
				t.Errorf("%v: function %d = %+v, want %+v", order, i, g, fn)
			}
		}
	}
}

func TestHeaderLayout(t *testing.T) {
	buf, err := Encode(sampleExecutable(t), binary.BigEndian)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:4]) != "EMBX" || buf[4] != 4 || buf[5] != 1 || buf[6] != Version {
		t.Errorf("header prefix = % X", buf[:8])
	}
	if n := binary.BigEndian.Uint32(buf[16:]); n != 4 {
		t.Errorf("number count = %d, want 4", n)
	}
	if off := binary.BigEndian.Uint32(buf[20:]); off != HeaderSize {
		t.Errorf("number offset = %d, want %d", off, HeaderSize)
	}

	img, err := Load(buf)
	if err != nil {
		t.Fatal(err)
	}
	fnOff := binary.BigEndian.Uint32(buf[img.fnOff+4:])
	hdr := buf[fnOff : fnOff+8]
	if hdr[0] != 3 || hdr[1] != 2 || hdr[2] != 0xFF || hdr[3] != 0xFF {
		t.Errorf("function 1 header = % X", hdr)
	}
	if fnOff%8 != 0 {
		t.Errorf("function 1 at %d, not 8-aligned", fnOff)
	}
}

func TestWriterCountMismatch(t *testing.T) {
	w := NewWriter(binary.LittleEndian)
	if err := w.Init(1, 1, 1); err != nil {
		t.Fatal(err)
	}
	err := w.FillData([]float64{1, 2}, []string{"a"})
	if !errors.Is(err, ErrCountMismatch) {
		t.Errorf("FillData with extra number = %v, want ErrCountMismatch", err)
	}
	if err := w.FillCode(&Function{}); !errors.Is(err, ErrWriteOrder) {
		t.Errorf("FillCode before FillData = %v, want ErrWriteOrder", err)
	}
}

func TestWriterRejectsNULStrings(t *testing.T) {
	x := NewExecutable()
	x.AddString("ok")
	x.AddString("a\x00b")
	x.AddFunction(&Function{Code: []byte{0}})
	if _, err := Encode(x, binary.LittleEndian); !errors.Is(err, ErrCorruptData) {
		t.Errorf("Encode = %v, want ErrCorruptData", err)
	}
}

func TestLoadRejectsBadImages(t *testing.T) {
	good, err := Encode(sampleExecutable(t), binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	mutate := func(f func(b []byte)) []byte {
		b := append([]byte(nil), good...)
		f(b)
		return b
	}
	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"short", good[:10], ErrCorruptHeader},
		{"magic", mutate(func(b []byte) { b[0] = 'X' }), ErrInvalidMagic},
		{"addr size", mutate(func(b []byte) { b[4] = 8 }), ErrCorruptHeader},
		{"version", mutate(func(b []byte) { b[6] = 9 }), ErrVersionMismatch},
		{"order", mutate(func(b []byte) { b[5] = 7 }), ErrCorruptHeader},
		{"table", mutate(func(b []byte) { binary.LittleEndian.PutUint32(b[36:], 1<<30) }), ErrCorruptHeader},
	}
	for _, tt := range tests {
		if _, err := Load(tt.buf); !errors.Is(err, tt.want) {
			t.Errorf("%s: Load = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestDisassembleExecutable(t *testing.T) {
	out, err := Disassemble(sampleExecutable(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"function 0: vars=2 args=0 stack=4", "0000  PUSH_VAR 1 0", "closure", `"héllo wörld"`} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestRollback(t *testing.T) {
	x := NewExecutable()
	x.AddNumber(1)
	x.AddString("keep")
	x.AddFunction(&Function{Code: []byte{0}})
	m := x.Mark()

	x.AddNumber(2)
	x.AddString("drop")
	x.AddFunction(nil)
	x.Rollback(m)

	if len(x.Numbers) != 1 || len(x.Strings) != 1 || len(x.Funcs) != 1 {
		t.Fatalf("after rollback: %v %q %d functions", x.Numbers, x.Strings, len(x.Funcs))
	}
	if i, _ := x.AddString("drop"); i != 1 {
		t.Errorf("re-added string at %d, want 1", i)
	}
	if i, _ := x.AddNumber(1); i != 0 {
		t.Errorf("existing number at %d, want 0", i)
	}
	if i, _ := x.AddNumber(2); i != 1 {
		t.Errorf("re-added number at %d, want 1", i)
	}
}
