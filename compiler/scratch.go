package compiler

import (
	"encoding/binary"

	"github.com/chazu/ember/pkg/arena"
	"github.com/chazu/ember/pkg/errcode"
)

// ---------------------------------------------------------------------------
// Scratch space: per-function code buffers and variable tables
// ---------------------------------------------------------------------------

const (
	minCodeCap = 64
	maxCodeCap = 1 << 16
	minVarCap  = 8
	maxVars    = 255
	maxGen     = 255
)

// funcRecord is a function under compilation. Its code buffer and variable
// table live in the scratch arena and are addressed by offset, so the
// scratch collector can move them.
type funcRecord struct {
	owner *funcRecord
	index int // position in the executable's function table

	varOff, varCap     int // variable table: u16 name ids
	varCount, argCount int

	codeOff, codeCap, codeLen int

	stack, stackHigh int
	closure          bool

	// Innermost enclosing loop; begin < 0 outside loops.
	loopBegin, loopSkip int
	loopTry             int
	tryDepth            int
	exits               []exitJump
}

// exitJump is a break or continue: a long backward jump whose displacement
// must be rewritten when code is spliced between it and its target.
type exitJump struct {
	pos, target int
}

// scratchAlloc allocates from the scratch arena, compacting it once when
// the request does not fit.
func (c *Compiler) scratchAlloc(n int) (int, bool) {
	if off, ok := c.scratch.Alloc(n); ok {
		return off, true
	}
	c.compact()
	if off, ok := c.scratch.Alloc(n); ok {
		return off, true
	}
	c.fail(errcode.NotEnoughMemory, "compile buffer exhausted (%d bytes)", c.scratch.Cap())
	return 0, false
}

// compact slides the live code buffers and variable tables of every open
// function down over the abandoned ones.
func (c *Compiler) compact() {
	var live []arena.Block
	for f := c.cur; f != nil; f = f.owner {
		f := f
		if f.varCap > 0 {
			live = append(live, arena.Block{Off: f.varOff, Size: 2 * f.varCap, Relocate: func(n int) { f.varOff = n }})
		}
		if f.codeCap > 0 {
			live = append(live, arena.Block{Off: f.codeOff, Size: f.codeCap, Relocate: func(n int) { f.codeOff = n }})
		}
	}
	reclaimed := c.scratch.Compact(live)
	c.compactions++
	log.Debugf("compile buffer compacted: %d bytes reclaimed, %d in use", reclaimed, c.scratch.Used())
}

// code returns the current function's emitted bytes. The slice is only
// valid until the next scratch allocation.
func (c *Compiler) code(f *funcRecord) []byte {
	return c.scratch.Bytes()[f.codeOff : f.codeOff+f.codeLen]
}

// reserveCode makes room for n more code bytes, doubling the buffer.
func (c *Compiler) reserveCode(f *funcRecord, n int) bool {
	need := f.codeLen + n
	if need <= f.codeCap {
		return true
	}
	if need > maxCodeCap {
		c.fail(errcode.ResourceLimit, "function code exceeds %d bytes", maxCodeCap)
		return false
	}
	newCap := max(f.codeCap*2, minCodeCap)
	for newCap < need {
		newCap *= 2
	}
	newCap = min(newCap, maxCodeCap)
	off, ok := c.scratchAlloc(newCap)
	if !ok {
		return false
	}
	buf := c.scratch.Bytes()
	copy(buf[off:], buf[f.codeOff:f.codeOff+f.codeLen])
	f.codeOff, f.codeCap = off, newCap
	return true
}

// varAt returns the name id stored in variable slot i.
func (c *Compiler) varAt(f *funcRecord, i int) int {
	return int(binary.LittleEndian.Uint16(c.scratch.Bytes()[f.varOff+2*i:]))
}

// lookupVar finds a variable slot by name id.
func (c *Compiler) lookupVar(f *funcRecord, id int) (int, bool) {
	for i := 0; i < f.varCount; i++ {
		if c.varAt(f, i) == id {
			return i, true
		}
	}
	return 0, false
}

// addVar appends a variable slot, growing the table by doubling.
func (c *Compiler) addVar(f *funcRecord, id int) (int, bool) {
	if f.varCount >= maxVars {
		c.fail(errcode.ResourceLimit, "more than %d variables in one function", maxVars)
		return 0, false
	}
	if f.varCount == f.varCap {
		newCap := max(f.varCap*2, minVarCap)
		off, ok := c.scratchAlloc(2 * newCap)
		if !ok {
			return 0, false
		}
		buf := c.scratch.Bytes()
		copy(buf[off:], buf[f.varOff:f.varOff+2*f.varCount])
		f.varOff, f.varCap = off, newCap
	}
	binary.LittleEndian.PutUint16(c.scratch.Bytes()[f.varOff+2*f.varCount:], uint16(id))
	f.varCount++
	return f.varCount - 1, true
}

// varNames returns the variable names of f in slot order.
func (c *Compiler) varNames(f *funcRecord) []string {
	names := make([]string, f.varCount)
	for i := range names {
		names[i] = c.names[c.varAt(f, i)]
	}
	return names
}
