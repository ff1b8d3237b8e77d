package vm

import (
	"encoding/binary"

	"github.com/chazu/ember/pkg/bytecode"
)

// ForeignType describes a kind of host value. A foreign value carries a
// type index and an int64 the host interprets, typically a handle into a
// host table. The collector copies foreign values but never looks inside
// them. Every hook is optional; a missing hook makes the operation
// degrade to false or undefined.
type ForeignType struct {
	Name string

	IsTrue func(e *Env, data int64) bool
	Equal  func(e *Env, data int64, other Value) bool
	Binary func(e *Env, op bytecode.Opcode, data int64, right Value) Value
	Unary  func(e *Env, op bytecode.Opcode, data int64) Value
	Prop   func(e *Env, data int64, name string) Value
	Elem   func(e *Env, data int64, index Value) Value
	Set    func(e *Env, data int64, key, value Value)
	String func(e *Env, data int64) string
}

// RegisterForeign adds a foreign type and returns its index.
func (e *Env) RegisterForeign(t *ForeignType) int {
	e.foreignTypes = append(e.foreignTypes, t)
	return len(e.foreignTypes) - 1
}

// NewForeign allocates a foreign value of a registered type.
func (e *Env) NewForeign(typ int, data int64) Value {
	off := e.alloc(foreignSize, magicForeign, 0, typ)
	if off < 0 {
		return Undefined
	}
	binary.LittleEndian.PutUint64(e.heap.mem[off+8:], uint64(data))
	return heapValue(TagForeign, off)
}

// Foreign returns the type index and data of a foreign value.
func (e *Env) Foreign(v Value) (typ int, data int64, ok bool) {
	if v.Tag() != TagForeign {
		return 0, 0, false
	}
	off := v.offset()
	return e.count(off), int64(binary.LittleEndian.Uint64(e.heap.mem[off+8:])), true
}

// foreign returns the type and data of v, with a nil type for an
// unregistered index.
func (e *Env) foreign(v Value) (*ForeignType, int64) {
	typ, data, ok := e.Foreign(v)
	if !ok || typ >= len(e.foreignTypes) {
		return nil, data
	}
	return e.foreignTypes[typ], data
}
