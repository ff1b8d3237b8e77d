package vm

import (
	"github.com/chazu/ember/pkg/bytecode"
	"github.com/chazu/ember/pkg/errcode"
)

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// A call with argc arguments starts at base: the arguments occupy
// stack[base:base+argc] and the function is at stack[base+argc]. For a
// script function the frame record overwrites stack[base:base+4] once the
// arguments have been copied into the new scope:
//
//	base+0  saved frame pointer
//	base+1  saved pc, -1 when the frame returns to the host
//	base+2  saved scope
//	base+3  saved function index
//
// Every call leaves its result in stack[base].

// call starts a call of the function at stack[base+argc]. retPC is where
// the caller resumes. It reports whether a script frame was entered; a
// native, an empty function or a failure completes immediately.
func (e *Env) call(base, argc, retPC int) bool {
	fn := e.stack[base+argc]
	switch fn.Tag() {
	case TagNative:
		e.callNative(base, argc)
		return false
	case TagScript:
	default:
		e.fail(errcode.InvalidCallor, "%s is not callable", fn.Tag())
		return false
	}

	index := e.count(fn.offset())
	f := e.exe.Lookup(index)
	if f == nil {
		e.fail(errcode.InvalidBytecode, "no function %d", index)
		return false
	}
	if len(f.Code) == 0 {
		e.stack[base] = Undefined
		e.sp = base + 1
		return false
	}
	if base+frameSize+f.StackHigh+stackSlack > len(e.stack) {
		e.fail(errcode.StackOverflow, "call depth exceeds %d stack slots", len(e.stack))
		return false
	}

	slots := f.VarCount
	if argc > f.ArgCount {
		slots += argc - f.ArgCount
	}
	if !e.ensure(scopeBytes(slots)) {
		return false
	}
	// Collection is over; re-read the function for its captured scope.
	fn = e.stack[base+argc]
	scope := e.allocScope(slots, e.val(fn.offset()+8))
	data := e.val(scope.offset()+16).offset() + headerSize
	for i := 0; i < argc; i++ {
		slot := i
		if i >= f.ArgCount {
			slot = f.VarCount + i - f.ArgCount
		}
		e.setVal(data+8*slot, e.stack[base+i])
	}

	e.stack[base] = Number(float64(e.fp))
	e.stack[base+1] = Number(float64(retPC))
	e.stack[base+2] = e.scope
	e.stack[base+3] = Number(float64(e.fn))
	e.fp, e.sp = base, base+frameSize
	e.scope = scope
	e.fn, e.code, e.pc = index, f.Code, 0
	return true
}

// callNative runs the native at stack[base+argc]. The arguments stay on the
// stack during the call so they are collection roots.
func (e *Env) callNative(base, argc int) {
	i, intrinsic := e.stack[base+argc].nativeIndex()
	var fn NativeFunc
	if intrinsic {
		if i < len(intrinsics) {
			fn = intrinsics[i].fn
		}
	} else if i < len(e.natives) {
		fn = e.natives[i].Fn
	}
	if fn == nil {
		e.fail(errcode.InvalidCallor, "no native %d", i)
		return
	}
	v := fn(e, e.stack[base:base+argc])
	e.stack[base] = v
	e.sp = base + 1
}

// ret returns v from the current frame. It reports whether the frame
// returns to the host.
func (e *Env) ret(v Value) bool {
	base := e.fp
	savedPC := int(e.stack[base+1].Num())
	for n := len(e.handlers); n > 0 && e.handlers[n-1].fp >= base; n-- {
		e.handlers = e.handlers[:n-1]
	}
	e.fp = int(e.stack[base].Num())
	e.scope = e.stack[base+2]
	e.fn = int(e.stack[base+3].Num())
	if f := e.exe.Lookup(e.fn); f != nil {
		e.code = f.Code
	} else {
		e.code = nil
	}
	e.pc = savedPC
	e.stack[base] = v
	e.sp = base + 1
	return savedPC < 0
}

// throw unwinds to the innermost handler installed by the running
// interpreter loop. Without one the exception escapes to the host call
// that started the loop, or is latched as Uncaught at the outermost level.
func (e *Env) throw(v Value) {
	if n := len(e.handlers); n > 0 && e.handlers[n-1].entry == e.entry {
		h := e.handlers[n-1]
		e.handlers = e.handlers[:n-1]
		e.fp, e.sp, e.scope, e.fn = h.fp, h.sp, h.scope, h.fn
		e.code = e.exe.Lookup(h.fn).Code
		e.pc = h.catchPC
		e.stack[e.sp] = v
		e.sp++
		return
	}
	if e.entry > 1 {
		e.thrown = v
		e.pendingThrow = true
		return
	}
	e.fail(errcode.Uncaught, "%s", e.Format(v))
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// scopeBytes is the heap size of a scope with n slots.
func scopeBytes(n int) int { return scopeSize + blockSize(n, 8) }

// allocScope allocates a scope of n undefined slots. The caller must have
// ensured scopeBytes(n).
func (e *Env) allocScope(n int, super Value) Value {
	off := e.alloc(scopeSize, magicScope, 0, n)
	slots := e.allocSlots(n)
	e.setVal(off+8, super)
	e.setVal(off+16, heapValue(TagBlock, slots))
	return heapValue(TagScope, off)
}

// growGlobals extends the globals scope to n slots in place, so closures
// that captured it see the new variables.
func (e *Env) growGlobals(n int) bool {
	if e.count(e.globals.offset()) >= n {
		return true
	}
	if !e.ensure(blockSize(n, 8)) {
		return false
	}
	slots := e.allocSlots(n)
	off := e.globals.offset()
	old := e.val(off + 16).offset()
	copy(e.heap.mem[slots+headerSize:], e.heap.mem[old+headerSize:old+headerSize+8*e.count(old)])
	e.setVal(off+16, heapValue(TagBlock, slots))
	e.setCount(off, n)
	return true
}

// slotAddr returns the heap offset of slot i of scope, or -1.
func (e *Env) slotAddr(scope Value, i int) int {
	if scope.Tag() != TagScope {
		return -1
	}
	off := scope.offset()
	if i < 0 || i >= e.count(off) {
		return -1
	}
	return e.val(off+16).offset() + headerSize + 8*i
}

// varAddr resolves a variable gen scopes up from the current scope.
func (e *Env) varAddr(slot, gen int) int {
	s := e.scope
	for ; gen > 0 && s.Tag() == TagScope; gen-- {
		s = e.val(s.offset() + 8)
	}
	return e.slotAddr(s, slot)
}

// refAddr resolves a reference value against the current scope.
func (e *Env) refAddr(ref Value) int {
	if ref.Tag() != TagRef {
		e.fail(errcode.InvalidBytecode, "assignment target is %s", ref.Tag())
		return -1
	}
	addr := e.varAddr(ref.ref())
	if addr < 0 {
		e.fail(errcode.InvalidBytecode, "variable reference out of scope")
	}
	return addr
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (e *Env) push(v Value) {
	e.stack[e.sp] = v
	e.sp++
}

func (e *Env) pop() Value {
	e.sp--
	return e.stack[e.sp]
}

// run executes instructions until the frame entered by the host returns,
// an exception escapes to the host or an error is latched.
func (e *Env) run() {
	e.entry++
	defer func() { e.entry-- }()

	for !e.err.Failed() {
		op, a, b, next, ok := bytecode.Fetch(e.code, e.pc)
		if !ok {
			e.fail(errcode.InvalidBytecode, "bad instruction at %d in function %d", e.pc, e.fn)
			return
		}
		e.pc = next

		switch {
		case op.IsBinary():
			r := e.binary(op, e.stack[e.sp-2], e.stack[e.sp-1])
			e.sp--
			e.stack[e.sp-1] = r
			continue
		case op > bytecode.OpAssign && op < bytecode.OpAssign+11:
			e.assignRef(op)
			continue
		case op >= bytecode.OpPropAssign && op < bytecode.OpPropAssign+11:
			e.assignProp(op)
			continue
		case op >= bytecode.OpElemAssign && op < bytecode.OpElemAssign+11:
			e.assignElem(op)
			continue
		}

		switch op {
		case bytecode.OpStop:
			e.ret(e.result)
			return
		case bytecode.OpPass:
		case bytecode.OpPop:
			e.sp--
		case bytecode.OpPopResult:
			e.result = e.pop()
		case bytecode.OpRet:
			if e.ret(e.pop()) {
				return
			}
		case bytecode.OpRet0:
			if e.ret(Undefined) {
				return
			}

		case bytecode.OpPushUnd:
			e.push(Undefined)
		case bytecode.OpPushNaN:
			e.push(NaN)
		case bytecode.OpPushTrue:
			e.push(True)
		case bytecode.OpPushFalse:
			e.push(False)
		case bytecode.OpPushZero:
			e.push(Zero)
		case bytecode.OpPushNum:
			n, ok := e.exe.Number(a)
			if !ok {
				e.fail(errcode.InvalidBytecode, "no number constant %d", a)
				return
			}
			e.push(Number(n))
		case bytecode.OpPushStr:
			e.push(staticString(a, false))
		case bytecode.OpPushScript:
			if !e.ensure(functionSize) {
				return
			}
			off := e.alloc(functionSize, magicFunction, 0, a)
			e.setVal(off+8, e.scope)
			e.push(heapValue(TagScript, off))
		case bytecode.OpPushNative:
			e.push(nativeValue(a, false))
		case bytecode.OpPushVar:
			if addr := e.varAddr(a, b); addr >= 0 {
				e.push(e.val(addr))
			} else {
				e.push(Undefined)
			}
		case bytecode.OpPushRef:
			e.push(refValue(a, b))
		case bytecode.OpStoreVar:
			v := e.pop()
			if addr := e.varAddr(a, b); addr >= 0 {
				e.setVal(addr, v)
			}
		case bytecode.OpIsUnd:
			addr := e.varAddr(a, 0)
			e.push(Bool(addr < 0 || e.val(addr) == Undefined))
		case bytecode.OpArray:
			e.makeArray(a)
		case bytecode.OpDict:
			e.makeDict(a)

		case bytecode.OpNeg, bytecode.OpNot:
			e.stack[e.sp-1] = e.unary(op, e.stack[e.sp-1])
		case bytecode.OpLogicNot:
			e.stack[e.sp-1] = Bool(!e.IsTrue(e.stack[e.sp-1]))

		case bytecode.OpTEq, bytecode.OpTNe, bytecode.OpTGt, bytecode.OpTGe,
			bytecode.OpTLt, bytecode.OpTLe, bytecode.OpTIn:
			r := e.compare(op, e.stack[e.sp-2], e.stack[e.sp-1])
			e.sp--
			e.stack[e.sp-1] = Bool(r)

		case bytecode.OpAssign:
			if addr := e.refAddr(e.stack[e.sp-2]); addr >= 0 {
				v := e.pop()
				e.setVal(addr, v)
				e.stack[e.sp-1] = v
			}

		case bytecode.OpIncPre, bytecode.OpDecPre, bytecode.OpIncPost, bytecode.OpDecPost:
			e.incRef(op)
		case bytecode.OpPropIncPre, bytecode.OpPropDecPre, bytecode.OpPropIncPost, bytecode.OpPropDecPost:
			e.incMember(op, op-bytecode.OpPropIncPre, false)
		case bytecode.OpElemIncPre, bytecode.OpElemDecPre, bytecode.OpElemIncPost, bytecode.OpElemDecPost:
			e.incMember(op, op-bytecode.OpElemIncPre, true)

		case bytecode.OpProp:
			v := e.prop(e.stack[e.sp-2], e.stack[e.sp-1])
			e.sp--
			e.stack[e.sp-1] = v
		case bytecode.OpPropMeth:
			e.stack[e.sp-1] = e.prop(e.stack[e.sp-2], e.stack[e.sp-1])
		case bytecode.OpElem:
			v := e.elem(e.stack[e.sp-2], e.stack[e.sp-1])
			e.sp--
			e.stack[e.sp-1] = v
		case bytecode.OpElemMeth:
			e.stack[e.sp-1] = e.elem(e.stack[e.sp-2], e.stack[e.sp-1])

		case bytecode.OpCall:
			base := e.sp - a - 1
			e.call(base, a, e.pc)
			if !e.checkThrow() {
				return
			}
		case bytecode.OpCallMeth:
			// args... self fn
			fn := e.stack[e.sp-1]
			base := e.sp - a - 2
			argc := a
			if fn.Tag() == TagNative {
				// The receiver becomes the first argument.
				self := e.stack[e.sp-2]
				copy(e.stack[base+1:], e.stack[base:base+a])
				e.stack[base] = self
				argc++
			} else {
				e.stack[e.sp-2] = fn
				e.sp--
			}
			e.call(base, argc, e.pc)
			if !e.checkThrow() {
				return
			}

		case bytecode.OpJmp, bytecode.OpJmpL:
			e.pc += a
		case bytecode.OpJmpT, bytecode.OpJmpTL:
			if e.IsTrue(e.pop()) {
				e.pc += a
			}
		case bytecode.OpJmpF, bytecode.OpJmpFL:
			if !e.IsTrue(e.pop()) {
				e.pc += a
			}
		case bytecode.OpJmpFOrPop, bytecode.OpJmpFOrPopL:
			if e.IsTrue(e.stack[e.sp-1]) {
				e.sp--
			} else {
				e.pc += a
			}
		case bytecode.OpJmpTOrPop, bytecode.OpJmpTOrPopL:
			if e.IsTrue(e.stack[e.sp-1]) {
				e.pc += a
			} else {
				e.sp--
			}

		case bytecode.OpTry:
			e.handlers = append(e.handlers, handler{
				catchPC: e.pc + a,
				fp:      e.fp,
				sp:      e.sp,
				scope:   e.scope,
				fn:      e.fn,
				entry:   e.entry,
			})
		case bytecode.OpUntry:
			if n := len(e.handlers); n > 0 {
				e.handlers = e.handlers[:n-1]
			}
		case bytecode.OpThrow:
			e.throw(e.pop())
			if e.pendingThrow {
				return
			}

		default:
			e.fail(errcode.InvalidBytecode, "unexpected %s at %d", op, e.pc)
			return
		}
	}
}

// checkThrow rethrows an exception a native left pending. It reports
// whether the loop should continue.
func (e *Env) checkThrow() bool {
	if !e.pendingThrow || e.err.Failed() {
		return true
	}
	v := e.thrown
	e.pendingThrow = false
	e.thrown = Undefined
	e.throw(v)
	return !e.pendingThrow
}
