package vm

import (
	"github.com/chazu/ember/pkg/errcode"
)

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

// An object keeps its own properties in two parallel blocks: interned key
// ids and values. Reads follow the prototype chain; writes always land on
// the object itself.

// maxProtoDepth bounds prototype chain walks.
const maxProtoDepth = 64

// objectBytesFor is the heap size of an object with room for n properties.
func objectBytesFor(n int) int {
	if n == 0 {
		return objectSize
	}
	return objectSize + blockSize(n, 4) + blockSize(n, 8)
}

// newObject allocates an empty object with room for n properties. The
// caller must have ensured objectBytesFor(n).
func (e *Env) newObject(n int, proto Value) Value {
	off := e.alloc(objectSize, magicObject, 0, 0)
	e.setU32(off+8, n)
	e.setVal(off+16, proto)
	e.setVal(off+24, Undefined)
	e.setVal(off+32, Undefined)
	if n > 0 {
		keys := e.alloc(blockSize(n, 4), magicKeys, 0, n)
		vals := e.allocSlots(n)
		e.setVal(off+24, heapValue(TagBlock, keys))
		e.setVal(off+32, heapValue(TagBlock, vals))
	}
	return heapValue(TagObject, off)
}

// objectFind returns the index of property id in the object at off, or -1.
func (e *Env) objectFind(off int, id uint32) int {
	keys := e.val(off + 24)
	if keys == Undefined {
		return -1
	}
	k := keys.offset() + headerSize
	for i, n := 0, e.count(off); i < n; i++ {
		if uint32(e.u32(k+4*i)) == id {
			return i
		}
	}
	return -1
}

// objectGet reads property id of obj or of its prototypes.
func (e *Env) objectGet(obj Value, id uint32) (Value, bool) {
	for depth := 0; obj.Tag() == TagObject && depth < maxProtoDepth; depth++ {
		off := obj.offset()
		if i := e.objectFind(off, id); i >= 0 {
			return e.val(e.val(off+32).offset() + headerSize + 8*i), true
		}
		obj = e.val(off + 16)
	}
	return Undefined, false
}

// objectSet stores *v as own property id of *obj, growing the property
// blocks when full. Both operands are stack slots.
func (e *Env) objectSet(obj *Value, id uint32, v *Value) {
	off := obj.offset()
	if i := e.objectFind(off, id); i >= 0 {
		e.setVal(e.val(off+32).offset()+headerSize+8*i, *v)
		return
	}
	n, capacity := e.count(off), e.u32(off+8)
	if n == capacity {
		grown := max(4, 2*capacity)
		if !e.ensure(blockSize(grown, 4) + blockSize(grown, 8)) {
			return
		}
		off = obj.offset()
		keys := e.alloc(blockSize(grown, 4), magicKeys, 0, grown)
		vals := e.allocSlots(grown)
		if n > 0 {
			oldKeys := e.val(off+24).offset() + headerSize
			oldVals := e.val(off+32).offset() + headerSize
			copy(e.heap.mem[keys+headerSize:], e.heap.mem[oldKeys:oldKeys+4*n])
			copy(e.heap.mem[vals+headerSize:], e.heap.mem[oldVals:oldVals+8*n])
		}
		e.setU32(off+8, grown)
		e.setVal(off+24, heapValue(TagBlock, keys))
		e.setVal(off+32, heapValue(TagBlock, vals))
	}
	e.setU32(e.val(off+24).offset()+headerSize+4*n, int(id))
	e.setVal(e.val(off+32).offset()+headerSize+8*n, *v)
	e.setCount(off, n+1)
}

// objectEntry returns the key and value of own property i.
func (e *Env) objectEntry(obj Value, i int) (string, Value) {
	off := obj.offset()
	id := uint32(e.u32(e.val(off+24).offset() + headerSize + 4*i))
	return e.keys.name(id), e.val(e.val(off+32).offset() + headerSize + 8*i)
}

// objectLen returns the number of own properties.
func (e *Env) objectLen(obj Value) int { return e.count(obj.offset()) }

// makeDict builds an object from n key/value pairs on the stack.
func (e *Env) makeDict(n int) {
	if !e.ensure(objectBytesFor(n)) {
		return
	}
	obj := e.newObject(n, e.objectProto)
	base := e.sp - 2*n
	off := obj.offset()
	count := 0
	for i := 0; i < n; i++ {
		name, ok := e.Str(e.stack[base+2*i])
		if !ok {
			name = e.Format(e.stack[base+2*i])
		}
		id := e.keys.intern(name)
		slot := e.objectFind(off, id)
		if slot < 0 {
			slot = count
			e.setU32(e.val(off+24).offset()+headerSize+4*slot, int(id))
			count++
			e.setCount(off, count)
		}
		e.setVal(e.val(off+32).offset()+headerSize+8*slot, e.stack[base+2*i+1])
	}
	e.sp = base
	e.push(obj)
}

// initObjectProto builds the prototype shared by every dictionary literal.
func (e *Env) initObjectProto() error {
	names := []string{"length", "toString", "foreach"}
	if !e.ensure(objectBytesFor(len(names))) {
		return e.err.Err()
	}
	e.objectProto = e.newObject(len(names), Undefined)
	for _, name := range names {
		i, ok := intrinsicIndex(name, objectMethods)
		if !ok {
			return errcode.New(errcode.SystemError, "missing object method %q", name)
		}
		fn := nativeValue(i, true)
		e.objectSet(&e.objectProto, e.keys.intern(name), &fn)
	}
	return nil
}

// PushObject pops len(keys) values from the stack and pushes an object
// holding them under keys.
func (e *Env) PushObject(keys []string) bool {
	n := len(keys)
	if n > e.sp {
		e.fail(errcode.InvalidInput, "object needs %d values, stack has %d", n, e.sp)
		return false
	}
	if !e.ensure(objectBytesFor(n)) {
		return false
	}
	obj := e.newObject(n, e.objectProto)
	base := e.sp - n
	for i, k := range keys {
		e.objectSet(&obj, e.keys.intern(k), &e.stack[base+i])
	}
	e.sp = base
	e.push(obj)
	return true
}

// Prop reads a property of an object, following its prototypes.
func (e *Env) Prop(obj Value, name string) Value {
	id, ok := e.keys.find(name)
	if !ok || obj.Tag() != TagObject {
		return Undefined
	}
	v, _ := e.objectGet(obj, id)
	return v
}

// Keys returns the own property names of an object in insertion order.
func (e *Env) Keys(obj Value) []string {
	if obj.Tag() != TagObject {
		return nil
	}
	keys := make([]string, e.objectLen(obj))
	for i := range keys {
		keys[i], _ = e.objectEntry(obj, i)
	}
	return keys
}
