package vm

import (
	"math"
	"strings"

	"github.com/chazu/ember/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Operators. Every operator dispatches on the type of its left operand.
// ---------------------------------------------------------------------------

// IsTrue reports the truthiness of v.
func (e *Env) IsTrue(v Value) bool {
	switch v.Tag() {
	case TagNumber:
		return v.Num() != 0
	case TagBoolean:
		return v == True
	case TagInlineString, TagString, TagStaticString:
		return e.strLen(v) > 0
	case TagScript, TagNative:
		return true
	case TagArray:
		return e.arrayLen(v) > 0
	case TagObject:
		return e.count(v.offset()) > 0
	case TagForeign:
		if t, data := e.foreign(v); t != nil && t.IsTrue != nil {
			return t.IsTrue(e, data)
		}
	}
	return false
}

// Equal reports whether a equals b. Undefined and NaN equal nothing, not
// even themselves.
func (e *Env) Equal(a, b Value) bool {
	if a == b {
		return a != Undefined && a != NaN
	}
	switch a.Tag() {
	case TagNumber:
		return b.Tag() == TagNumber && a.Num() == b.Num()
	case TagInlineString, TagString, TagStaticString:
		sa, _ := e.Str(a)
		sb, ok := e.Str(b)
		return ok && sa == sb
	case TagForeign:
		if t, data := e.foreign(a); t != nil && t.Equal != nil {
			return t.Equal(e, data, b)
		}
	}
	return false
}

// order compares a with b for the ordering operators. ok is false when
// the operands have no order.
func (e *Env) order(a, b Value) (c int, ok bool) {
	switch a.Tag() {
	case TagNumber:
		if b.Tag() != TagNumber {
			return 0, false
		}
		x, y := a.Num(), b.Num()
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case TagInlineString, TagString, TagStaticString:
		sa, _ := e.Str(a)
		sb, ok := e.Str(b)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	case TagBoolean:
		if b.Tag() != TagBoolean {
			return 0, false
		}
		return int(a.payload()) - int(b.payload()), true
	}
	return 0, false
}

// compare evaluates a comparison opcode.
func (e *Env) compare(op bytecode.Opcode, a, b Value) bool {
	switch op {
	case bytecode.OpTEq:
		return e.Equal(a, b)
	case bytecode.OpTNe:
		return !e.Equal(a, b)
	case bytecode.OpTIn:
		return e.in(a, b)
	}
	c, ok := e.order(a, b)
	if !ok {
		return false
	}
	switch op {
	case bytecode.OpTGt:
		return c > 0
	case bytecode.OpTGe:
		return c >= 0
	case bytecode.OpTLt:
		return c < 0
	case bytecode.OpTLe:
		return c <= 0
	}
	return false
}

// in evaluates `a in b`: a property of an object, an element of an array
// or a substring of a string.
func (e *Env) in(a, b Value) bool {
	switch b.Tag() {
	case TagObject:
		name, ok := e.Str(a)
		if !ok {
			name = e.Format(a)
		}
		id, ok := e.keys.find(name)
		if !ok {
			return false
		}
		_, found := e.objectGet(b, id)
		return found
	case TagArray:
		n := e.arrayLen(b)
		for i := 0; i < n; i++ {
			if e.Equal(e.arrayAt(b, i), a) {
				return true
			}
		}
	case TagInlineString, TagString, TagStaticString:
		sa, ok := e.Str(a)
		sb, _ := e.Str(b)
		return ok && strings.Contains(sb, sa)
	}
	return false
}

// binary applies an arithmetic or bitwise operator. Only numbers, strings
// (for addition) and foreign values with a hook have results other than
// NaN.
func (e *Env) binary(op bytecode.Opcode, a, b Value) Value {
	switch a.Tag() {
	case TagNumber:
		if t := b.Tag(); t != TagNumber && t != TagNaN {
			return NaN
		}
		return arith(op, a.Num(), b.Num())
	case TagInlineString, TagString, TagStaticString:
		if op == bytecode.OpAdd {
			return e.concat(a, b)
		}
	case TagForeign:
		t, data := e.foreign(a)
		if t == nil || t.Binary == nil {
			return Undefined
		}
		return t.Binary(e, op, data, b)
	}
	return NaN
}

func arith(op bytecode.Opcode, x, y float64) Value {
	switch op {
	case bytecode.OpMul:
		return Number(x * y)
	case bytecode.OpDiv:
		return Number(x / y)
	case bytecode.OpAdd:
		return Number(x + y)
	case bytecode.OpSub:
		return Number(x - y)
	}
	if math.IsNaN(x) || math.IsNaN(y) {
		return NaN
	}
	i, j := int64(x), int64(y)
	switch op {
	case bytecode.OpMod:
		if j == 0 {
			return NaN
		}
		return Number(float64(i % j))
	case bytecode.OpLShift:
		return Number(float64(i << (uint64(j) & 63)))
	case bytecode.OpRShift:
		return Number(float64(i >> (uint64(j) & 63)))
	case bytecode.OpAnd:
		return Number(float64(i & j))
	case bytecode.OpOr:
		return Number(float64(i | j))
	case bytecode.OpXor:
		return Number(float64(i ^ j))
	}
	return NaN
}

// unary applies NEG or NOT.
func (e *Env) unary(op bytecode.Opcode, v Value) Value {
	switch v.Tag() {
	case TagNumber:
		if op == bytecode.OpNeg {
			return Number(-v.Num())
		}
		return Number(float64(^int64(v.Num())))
	case TagForeign:
		if t, data := e.foreign(v); t != nil && t.Unary != nil {
			return t.Unary(e, op, data)
		}
		return Undefined
	}
	return NaN
}

// step computes an increment or decrement. k is 0..3 for pre-inc,
// pre-dec, post-inc and post-dec. It returns the new value and the value
// of the expression.
func (e *Env) step(k bytecode.Opcode, old Value) (stored, result Value) {
	op := bytecode.OpAdd
	if k&1 == 1 {
		op = bytecode.OpSub
	}
	switch old.Tag() {
	case TagNumber:
		stored = arith(op, old.Num(), 1)
	case TagForeign:
		stored = e.binary(op, old, Number(1))
	default:
		return NaN, NaN
	}
	if k >= 2 {
		return stored, old
	}
	return stored, stored
}

// ---------------------------------------------------------------------------
// Assignment. Operands stay on the stack until the stored value is
// committed, so a collection triggered on the way updates them.
// ---------------------------------------------------------------------------

// assignRef handles compound assignment to a variable: ref value -> result.
func (e *Env) assignRef(op bytecode.Opcode) {
	if e.refAddr(e.stack[e.sp-2]) < 0 {
		return
	}
	binop, _ := bytecode.BinaryOf(bytecode.OpAssign, op)
	old := e.val(e.refAddr(e.stack[e.sp-2]))
	r := e.binary(binop, old, e.stack[e.sp-1])
	// The operator may have collected: resolve the variable again.
	e.setVal(e.refAddr(e.stack[e.sp-2]), r)
	e.sp--
	e.stack[e.sp-1] = r
}

// assignProp handles object key value -> value.
func (e *Env) assignProp(op bytecode.Opcode) {
	if binop, ok := bytecode.BinaryOf(bytecode.OpPropAssign, op); ok {
		old := e.prop(e.stack[e.sp-3], e.stack[e.sp-2])
		e.stack[e.sp-1] = e.binary(binop, old, e.stack[e.sp-1])
	}
	e.setMember(e.sp-3, false)
	v := e.stack[e.sp-1]
	e.sp -= 2
	e.stack[e.sp-1] = v
}

// assignElem handles object index value -> value.
func (e *Env) assignElem(op bytecode.Opcode) {
	if binop, ok := bytecode.BinaryOf(bytecode.OpElemAssign, op); ok {
		old := e.elem(e.stack[e.sp-3], e.stack[e.sp-2])
		e.stack[e.sp-1] = e.binary(binop, old, e.stack[e.sp-1])
	}
	e.setMember(e.sp-3, true)
	v := e.stack[e.sp-1]
	e.sp -= 2
	e.stack[e.sp-1] = v
}

// incRef handles ref -> value for the four increment forms.
func (e *Env) incRef(op bytecode.Opcode) {
	addr := e.refAddr(e.stack[e.sp-1])
	if addr < 0 {
		return
	}
	stored, result := e.step(op-bytecode.OpIncPre, e.val(addr))
	e.setVal(e.refAddr(e.stack[e.sp-1]), stored)
	e.stack[e.sp-1] = result
}

// incMember handles object key -> value for properties and elements.
func (e *Env) incMember(op, k bytecode.Opcode, elem bool) {
	var old Value
	if elem {
		old = e.elem(e.stack[e.sp-2], e.stack[e.sp-1])
	} else {
		old = e.prop(e.stack[e.sp-2], e.stack[e.sp-1])
	}
	stored, result := e.step(k, old)
	// object key stored result
	e.stack[e.sp] = stored
	e.stack[e.sp+1] = result
	e.sp += 2
	e.setMember(e.sp-4, elem)
	result = e.stack[e.sp-1]
	e.sp -= 3
	e.stack[e.sp-1] = result
}

// setMember stores stack[at+2] into the property or element stack[at+1] of
// stack[at].
func (e *Env) setMember(at int, elem bool) {
	obj, key := e.stack[at], e.stack[at+1]
	switch obj.Tag() {
	case TagObject:
		name, ok := e.Str(key)
		if !ok {
			name = e.Format(key)
		}
		e.objectSet(&e.stack[at], e.keys.intern(name), &e.stack[at+2])
	case TagArray:
		if elem && key.Tag() == TagNumber {
			e.arraySet(&e.stack[at], key.Num(), &e.stack[at+2])
		}
	case TagBuffer:
		if elem && key.Tag() == TagNumber {
			buf := e.Bytes(obj)
			if i := int(key.Num()); i >= 0 && i < len(buf) {
				buf[i] = byte(int64(e.stack[at+2].Num()))
			}
		}
	case TagForeign:
		if t, data := e.foreign(obj); t != nil && t.Set != nil {
			t.Set(e, data, key, e.stack[at+2])
		}
	}
}

// ---------------------------------------------------------------------------
// Member access
// ---------------------------------------------------------------------------

// prop reads property key of v. Objects and foreign values have their own
// properties; every other type answers with its intrinsic methods.
func (e *Env) prop(v, key Value) Value {
	name, ok := e.Str(key)
	if !ok {
		name = e.Format(key)
	}
	switch v.Tag() {
	case TagObject:
		id, ok := e.keys.find(name)
		if !ok {
			return Undefined
		}
		r, _ := e.objectGet(v, id)
		return r
	case TagForeign:
		if t, data := e.foreign(v); t != nil && t.Prop != nil {
			return t.Prop(e, data, name)
		}
		return Undefined
	}
	return intrinsicFor(v.Tag(), name)
}

// elem reads element key of v. Numeric keys index strings, arrays and
// buffers; other keys behave like property names.
func (e *Env) elem(v, key Value) Value {
	if key.Tag() == TagNumber {
		i := key.Num()
		switch v.Tag() {
		case TagInlineString, TagString, TagStaticString:
			if i != math.Trunc(i) {
				return Undefined
			}
			return e.strIndex(v, int(i))
		case TagArray:
			if i != math.Trunc(i) || i < 0 || int(i) >= e.arrayLen(v) {
				return Undefined
			}
			return e.arrayAt(v, int(i))
		case TagBuffer:
			buf := e.Bytes(v)
			if i != math.Trunc(i) || i < 0 || int(i) >= len(buf) {
				return Undefined
			}
			return Number(float64(buf[int(i)]))
		}
	}
	if v.Tag() == TagForeign {
		if t, data := e.foreign(v); t != nil && t.Elem != nil {
			return t.Elem(e, data, key)
		}
		return Undefined
	}
	return e.prop(v, key)
}
