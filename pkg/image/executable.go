// Package image holds compiled ember programs: the in-memory Executable
// produced by the compiler and consumed by the interpreter, and its flat
// binary form.
package image

import (
	"fmt"
	"math"
)

// MaxConstants is the size limit of each constant pool; constants are
// addressed by 16-bit operands.
const MaxConstants = 1 << 16

// Function is one compiled function. Argument slots are a prefix of the
// variable slots.
type Function struct {
	VarCount  int    // Declared variables, arguments included
	ArgCount  int    // Named parameters
	StackHigh int    // Maximum evaluation stack depth
	Closure   bool   // A nested function captures this function's scope
	Code      []byte // Bytecode
}

// Executable is a compiled program: constant pools and the function
// table. Function 0 is the top-level entry.
type Executable struct {
	Numbers []float64
	Strings []string
	Funcs   []*Function

	numIndex map[uint64]int
	strIndex map[string]int
}

// NewExecutable returns an empty executable.
func NewExecutable() *Executable {
	return &Executable{
		numIndex: make(map[uint64]int),
		strIndex: make(map[string]int),
	}
}

func (x *Executable) reindex() {
	if x.numIndex != nil && len(x.numIndex) == len(x.Numbers) &&
		x.strIndex != nil && len(x.strIndex) == len(x.Strings) {
		return
	}
	x.numIndex = make(map[uint64]int, len(x.Numbers))
	for i, n := range x.Numbers {
		x.numIndex[math.Float64bits(n)] = i
	}
	x.strIndex = make(map[string]int, len(x.Strings))
	for i, s := range x.Strings {
		x.strIndex[s] = i
	}
}

// AddNumber interns a numeric constant and returns its pool index.
// Constants are deduplicated by bit pattern, so 0 and -0 stay distinct.
func (x *Executable) AddNumber(n float64) (int, error) {
	x.reindex()
	bits := math.Float64bits(n)
	if i, ok := x.numIndex[bits]; ok {
		return i, nil
	}
	if len(x.Numbers) >= MaxConstants {
		return 0, fmt.Errorf("number pool exceeds %d entries", MaxConstants)
	}
	x.Numbers = append(x.Numbers, n)
	x.numIndex[bits] = len(x.Numbers) - 1
	return len(x.Numbers) - 1, nil
}

// AddString interns a string constant and returns its pool index.
func (x *Executable) AddString(s string) (int, error) {
	x.reindex()
	if i, ok := x.strIndex[s]; ok {
		return i, nil
	}
	if len(x.Strings) >= MaxConstants {
		return 0, fmt.Errorf("string pool exceeds %d entries", MaxConstants)
	}
	x.Strings = append(x.Strings, s)
	x.strIndex[s] = len(x.Strings) - 1
	return len(x.Strings) - 1, nil
}

// AddFunction appends a function and returns its index.
func (x *Executable) AddFunction(fn *Function) int {
	x.Funcs = append(x.Funcs, fn)
	return len(x.Funcs) - 1
}

// Mark records the sizes of the constant pools and the function table.
type Mark struct {
	numbers, strings, funcs int
}

// Mark returns the current sizes for a later Rollback.
func (x *Executable) Mark() Mark {
	return Mark{len(x.Numbers), len(x.Strings), len(x.Funcs)}
}

// Rollback drops the constants and functions added since m. A compile
// that fails part way uses it to leave a shared executable as it was.
func (x *Executable) Rollback(m Mark) {
	clear(x.Funcs[m.funcs:])
	x.Numbers = x.Numbers[:m.numbers]
	x.Strings = x.Strings[:m.strings]
	x.Funcs = x.Funcs[:m.funcs]
	x.numIndex, x.strIndex = nil, nil
}

// Lookup returns function i, or nil when out of range.
func (x *Executable) Lookup(i int) *Function {
	if i < 0 || i >= len(x.Funcs) {
		return nil
	}
	return x.Funcs[i]
}

// Number returns numeric constant i.
func (x *Executable) Number(i int) (float64, bool) {
	if i < 0 || i >= len(x.Numbers) {
		return 0, false
	}
	return x.Numbers[i], true
}

// String returns string constant i.
func (x *Executable) String(i int) (string, bool) {
	if i < 0 || i >= len(x.Strings) {
		return "", false
	}
	return x.Strings[i], true
}
