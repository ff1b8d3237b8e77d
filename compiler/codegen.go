package compiler

import (
	"encoding/binary"
	"math"

	"github.com/chazu/ember/pkg/bytecode"
	"github.com/chazu/ember/pkg/errcode"
	"github.com/chazu/ember/pkg/image"
)

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// stackEffect returns how many values op pops and pushes.
func stackEffect(op bytecode.Opcode, args []int) (pop, push int) {
	info := bytecode.GetOpcodeInfo(op)
	pop, push = info.StackPop, info.StackPush
	if pop == bytecode.Variable {
		switch op {
		case bytecode.OpCall:
			pop = args[0] + 1
		case bytecode.OpCallMeth:
			pop = args[0] + 2
		case bytecode.OpArray:
			pop = args[0]
		case bytecode.OpDict:
			pop = 2 * args[0]
		}
	}
	return pop, push
}

// adjust applies a stack effect to the current function's depth counter.
func (c *Compiler) adjust(pop, push int) {
	f := c.cur
	f.stack += push - pop
	if f.stack > f.stackHigh {
		f.stackHigh = f.stack
	}
}

// encode encodes one instruction, failing with ResourceLimit when an
// operand does not fit.
func (c *Compiler) encode(op bytecode.Opcode, args ...int) []byte {
	var buf [4]byte
	ins, err := bytecode.Append(buf[:0], op, args...)
	if err != nil {
		c.fail(errcode.ResourceLimit, "%v", err)
		return nil
	}
	return ins
}

// emit appends an instruction to the current function.
func (c *Compiler) emit(op bytecode.Opcode, args ...int) {
	if c.failed() {
		return
	}
	ins := c.encode(op, args...)
	if ins == nil || !c.reserveCode(c.cur, len(ins)) {
		return
	}
	f := c.cur
	copy(c.scratch.Bytes()[f.codeOff+f.codeLen:], ins)
	f.codeLen += len(ins)
	c.adjust(stackEffect(op, args))
}

// here returns the current code offset.
func (c *Compiler) here() int { return c.cur.codeLen }

// insert splices an instruction into already emitted code at offset at.
// Every recorded break/continue jump is kept pointing at its target.
func (c *Compiler) insert(at int, ins []byte) {
	if c.failed() || ins == nil || !c.reserveCode(c.cur, len(ins)) {
		return
	}
	f := c.cur
	k := len(ins)
	buf := c.scratch.Bytes()[f.codeOff : f.codeOff+f.codeLen+k]
	copy(buf[at+k:], buf[at:f.codeLen])
	copy(buf[at:], ins)
	f.codeLen += k

	for i := range f.exits {
		x := &f.exits[i]
		if x.pos >= at {
			x.pos += k
		}
		if x.target >= at {
			x.target += k
		}
		c.patchLong(x.pos, x.target)
	}
}

// forwardJump encodes a jump over n bytes, short when possible.
func (c *Compiler) forwardJump(short bytecode.Opcode, n int) []byte {
	if n <= math.MaxInt8 {
		return c.encode(short, n)
	}
	if n > math.MaxInt16 {
		c.fail(errcode.ResourceLimit, "jump of %d bytes out of range", n)
		return nil
	}
	return c.encode(short.Long(), n)
}

// spliceJump inserts a forward jump at offset at that skips everything
// emitted after it.
func (c *Compiler) spliceJump(short bytecode.Opcode, at int) {
	c.insert(at, c.forwardJump(short, c.here()-at))
}

// backJump appends an unconditional jump to target, short when possible.
func (c *Compiler) backJump(target int) {
	if d := target - (c.here() + 2); d >= math.MinInt8 {
		c.emit(bytecode.OpJmp, d)
		return
	}
	d := target - (c.here() + 3)
	if d < math.MinInt16 {
		c.fail(errcode.ResourceLimit, "jump of %d bytes out of range", d)
		return
	}
	c.emit(bytecode.OpJmpL, d)
}

// placeholder appends a long jump to be patched later and returns its
// offset.
func (c *Compiler) placeholder(op bytecode.Opcode) int {
	pos := c.here()
	c.emit(op, 0)
	return pos
}

// patchLong points the long jump at pos to target.
func (c *Compiler) patchLong(pos, target int) {
	if c.failed() {
		return
	}
	d := target - (pos + 3)
	if d < math.MinInt16 || d > math.MaxInt16 {
		c.fail(errcode.ResourceLimit, "jump of %d bytes out of range", d)
		return
	}
	binary.BigEndian.PutUint16(c.code(c.cur)[pos+1:], uint16(int16(d)))
}

// ---------------------------------------------------------------------------
// Functions and variables
// ---------------------------------------------------------------------------

// nameID interns a variable name.
func (c *Compiler) nameID(name string) int {
	if id, ok := c.nameIDs[name]; ok {
		return id
	}
	c.names = append(c.names, name)
	c.nameIDs[name] = len(c.names) - 1
	return len(c.names) - 1
}

// enter opens a new function record nested in the current one and reserves
// its executable slot.
func (c *Compiler) enter() *funcRecord {
	f := &funcRecord{
		owner:     c.cur,
		index:     c.exe.AddFunction(nil),
		loopBegin: -1,
		loopSkip:  -1,
	}
	c.cur = f
	return f
}

// leave finishes the current function: the code is copied out of the
// scratch arena into the executable.
func (c *Compiler) leave() {
	f := c.cur
	if !c.failed() {
		code := make([]byte, f.codeLen)
		copy(code, c.code(f))
		c.exe.Funcs[f.index] = &image.Function{
			VarCount:  f.varCount,
			ArgCount:  f.argCount,
			StackHigh: f.stackHigh,
			Closure:   f.closure,
			Code:      code,
		}
		if f.stackHigh > image.MaxStackHigh {
			c.fail(errcode.ResourceLimit, "expression stack of %d slots too deep", f.stackHigh)
		}
	}
	c.cur = f.owner
}

// declare adds a local variable to f, or returns the existing slot of the
// same name. Redeclaring an argument is an error.
func (c *Compiler) declare(f *funcRecord, name string, pos Position) int {
	if c.failed() {
		return 0
	}
	id := c.nameID(name)
	if slot, ok := c.lookupVar(f, id); ok {
		if slot < f.argCount {
			c.failAt(errcode.InvalidSemantic, pos, "%s redefines an argument", name)
		}
		return slot
	}
	slot, _ := c.addVar(f, id)
	return slot
}

// declareArg adds a named parameter. Parameters precede every local.
func (c *Compiler) declareArg(f *funcRecord, name string, pos Position) int {
	if f.varCount != f.argCount {
		c.failAt(errcode.InvalidSemantic, pos, "argument %s declared after variables", name)
		return 0
	}
	id := c.nameID(name)
	if _, ok := c.lookupVar(f, id); ok {
		c.failAt(errcode.InvalidSemantic, pos, "duplicate argument %s", name)
		return 0
	}
	slot, ok := c.addVar(f, id)
	if ok {
		f.argCount++
	}
	return slot
}

// resolve finds name in the current function or an enclosing one. When it
// is found above the current function, every function from the reference
// up to the declaration is marked as a closure.
func (c *Compiler) resolve(name string) (slot, gen int, found bool) {
	id, ok := c.nameIDs[name]
	if !ok {
		return 0, 0, false
	}
	for f := c.cur; f != nil; f, gen = f.owner, gen+1 {
		if slot, ok := c.lookupVar(f, id); ok {
			if gen > 0 {
				for g := c.cur; g != f.owner; g = g.owner {
					g.closure = true
				}
			}
			return slot, gen, true
		}
	}
	return 0, 0, false
}

func (c *Compiler) emitVar(op bytecode.Opcode, e *Expr) {
	slot, gen, ok := c.resolve(e.Str)
	if !ok {
		if op == bytecode.OpPushVar && c.opts.Natives != nil {
			if idx, ok := c.opts.Natives.LookupNative(e.Str); ok {
				c.emit(bytecode.OpPushNative, idx)
				return
			}
		}
		c.failAt(errcode.NotDefinedIdentifier, e.Pos, "%s", e.Str)
		return
	}
	if gen > maxGen {
		c.failAt(errcode.ResourceLimit, e.Pos, "%s is nested too deeply", e.Str)
		return
	}
	c.emit(op, slot, gen)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileBlock(s *Stmt) {
	for ; s != nil && !c.failed(); s = s.Next {
		c.compileStmt(s)
	}
}

func (c *Compiler) compileStmt(s *Stmt) {
	switch s.Kind {
	case StmtPass:
	case StmtExpr:
		c.compileExpr(s.Expr)
		if c.cur.owner == nil {
			c.emit(bytecode.OpPopResult)
		} else {
			c.emit(bytecode.OpPop)
		}
	case StmtDef:
		c.compileExpr(s.Expr)
		c.emit(bytecode.OpPop)
	case StmtVar:
		for _, d := range s.Decls {
			slot := c.declare(c.cur, d.Name, d.Pos)
			if d.Value != nil {
				c.emit(bytecode.OpPushRef, slot, 0)
				c.compileExpr(d.Value)
				c.emit(bytecode.OpAssign)
				c.emit(bytecode.OpPop)
			}
		}
	case StmtIf:
		c.compileIf(s)
	case StmtWhile:
		c.compileWhile(s)
	case StmtBreak, StmtContinue:
		c.compileExit(s)
	case StmtReturn:
		if s.Expr == nil {
			c.emit(bytecode.OpRet0)
		} else {
			c.compileExpr(s.Expr)
			c.emit(bytecode.OpRet)
		}
	case StmtThrow:
		if s.Expr == nil {
			c.emit(bytecode.OpPushUnd)
		} else {
			c.compileExpr(s.Expr)
		}
		c.emit(bytecode.OpThrow)
	case StmtTry:
		c.compileTry(s)
	default:
		c.failAt(errcode.NotImplemented, s.Pos, "statement %s", s.Kind)
	}
}

// compileIf emits the condition and both blocks, then splices in the skip
// jump over the else block and the test jump over the then block.
func (c *Compiler) compileIf(s *Stmt) {
	c.compileExpr(s.Expr)
	c.adjust(1, 0) // popped by the test jump
	condEnd := c.here()
	c.compileBlock(s.Block)
	if s.Else != nil {
		c.compileElse(condEnd, func() { c.compileBlock(s.Else) })
		return
	}
	c.spliceJump(bytecode.OpJmpF, condEnd)
}

// compileElse emits the else branch, then splices the jump over it at the
// end of the then branch and the test jump at condEnd. The later jump goes
// in first so the earlier one sees its final length.
func (c *Compiler) compileElse(condEnd int, branch func()) {
	thenEnd := c.here()
	branch()
	before := c.here()
	c.spliceJump(bytecode.OpJmp, thenEnd)
	skip := c.here() - before
	c.insert(condEnd, c.forwardJump(bytecode.OpJmpF, thenEnd+skip-condEnd))
}

// compileWhile emits
//
//	begin: cond; JMP_T +3; skip: JMP_L end; body; JMP begin; end:
//
// break jumps back to skip, continue back to begin.
func (c *Compiler) compileWhile(s *Stmt) {
	f := c.cur
	begin := c.here()
	c.compileExpr(s.Expr)
	c.emit(bytecode.OpJmpT, 3)
	skip := c.placeholder(bytecode.OpJmpL)

	savedBegin, savedSkip, savedTry, savedExits := f.loopBegin, f.loopSkip, f.loopTry, len(f.exits)
	f.loopBegin, f.loopSkip, f.loopTry = begin, skip, f.tryDepth

	c.compileBlock(s.Block)
	c.backJump(begin)
	c.patchLong(skip, c.here())

	f.loopBegin, f.loopSkip, f.loopTry = savedBegin, savedSkip, savedTry
	f.exits = f.exits[:savedExits]
}

func (c *Compiler) compileExit(s *Stmt) {
	f := c.cur
	if f.loopBegin < 0 {
		c.failAt(errcode.InvalidSemantic, s.Pos, "%s outside a loop", s.Kind)
		return
	}
	for i := f.loopTry; i < f.tryDepth; i++ {
		c.emit(bytecode.OpUntry)
	}
	target := f.loopBegin
	if s.Kind == StmtBreak {
		target = f.loopSkip
	}
	pos := c.placeholder(bytecode.OpJmpL)
	c.patchLong(pos, target)
	f.exits = append(f.exits, exitJump{pos: pos, target: target})
}

// compileTry emits
//
//	TRY catch; body; UNTRY; JMP_L end; catch: STORE_VAR name | POP; handler; end:
func (c *Compiler) compileTry(s *Stmt) {
	f := c.cur
	try := c.placeholder(bytecode.OpTry)
	f.tryDepth++
	c.compileBlock(s.Block)
	f.tryDepth--
	c.emit(bytecode.OpUntry)
	skip := c.placeholder(bytecode.OpJmpL)
	c.patchLong(try, c.here())

	c.adjust(0, 1) // the thrown value
	if s.Name != "" {
		slot := c.declare(f, s.Name, s.Pos)
		c.emit(bytecode.OpStoreVar, slot, 0)
	} else {
		c.emit(bytecode.OpPop)
	}
	c.compileBlock(s.Else)
	c.patchLong(skip, c.here())
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) compileExpr(e *Expr) {
	if c.failed() {
		return
	}
	switch k := e.Kind; {
	case k == ExprNumber:
		c.compileNumber(e.Num)
	case k == ExprString:
		c.emitString(e.Str)
	case k == ExprID:
		c.emitVar(bytecode.OpPushVar, e)
	case k == ExprTrue:
		c.emit(bytecode.OpPushTrue)
	case k == ExprFalse:
		c.emit(bytecode.OpPushFalse)
	case k == ExprNull, k == ExprUndefined:
		c.emit(bytecode.OpPushUnd)
	case k == ExprNaN:
		c.emit(bytecode.OpPushNaN)
	case k == ExprFunc:
		c.compileFuncExpr(e)
	case k == ExprArray:
		for _, item := range e.List {
			c.compileExpr(item)
		}
		c.emit(bytecode.OpArray, len(e.List))
	case k == ExprDict:
		for _, pair := range e.List {
			c.emitString(pair.Left.Str)
			c.compileExpr(pair.Right)
		}
		c.emit(bytecode.OpDict, len(e.List))
	case k == ExprNeg:
		if e.Left.Kind == ExprNumber {
			c.compileNumber(-e.Left.Num)
			return
		}
		c.compileExpr(e.Left)
		c.emit(bytecode.OpNeg)
	case k == ExprNot:
		c.compileExpr(e.Left)
		c.emit(bytecode.OpNot)
	case k == ExprLogicNot:
		c.compileExpr(e.Left)
		c.emit(bytecode.OpLogicNot)
	case k >= ExprIncPre && k <= ExprDecPost:
		c.compileIncDec(e)
	case k.IsBinary():
		c.compileExpr(e.Left)
		c.compileExpr(e.Right)
		c.emit(bytecode.OpMul + bytecode.Opcode(k-ExprMul))
	case k >= ExprTEq && k <= ExprTIn:
		c.compileExpr(e.Left)
		c.compileExpr(e.Right)
		c.emit(bytecode.OpTEq + bytecode.Opcode(k-ExprTEq))
	case k == ExprLogicAnd, k == ExprLogicOr:
		c.compileLogic(e)
	case k.IsAssign():
		c.compileAssign(e)
	case k == ExprTernary:
		c.compileTernary(e)
	case k == ExprComma:
		c.compileExpr(e.Left)
		c.emit(bytecode.OpPop)
		c.compileExpr(e.Right)
	case k == ExprProp:
		c.compileExpr(e.Left)
		c.emitString(e.Right.Str)
		c.emit(bytecode.OpProp)
	case k == ExprElem:
		c.compileExpr(e.Left)
		c.compileExpr(e.Right)
		c.emit(bytecode.OpElem)
	case k == ExprCall:
		c.compileCall(e)
	default:
		c.failAt(errcode.NotImplemented, e.Pos, "expression %s", k)
	}
}

func (c *Compiler) compileNumber(n float64) {
	switch {
	case math.IsNaN(n):
		c.emit(bytecode.OpPushNaN)
	case n == 0 && !math.Signbit(n):
		c.emit(bytecode.OpPushZero)
	default:
		idx, err := c.exe.AddNumber(n)
		if err != nil {
			c.fail(errcode.ResourceLimit, "%v", err)
			return
		}
		c.emit(bytecode.OpPushNum, idx)
	}
}

func (c *Compiler) emitString(s string) {
	idx, err := c.exe.AddString(s)
	if err != nil {
		c.fail(errcode.ResourceLimit, "%v", err)
		return
	}
	c.emit(bytecode.OpPushStr, idx)
}

// compileTarget pushes the operands of an assignment target: a reference
// for identifiers, object and key for properties, object and index for
// elements. It returns the base opcode of the matching family.
func (c *Compiler) compileTarget(t *Expr, assign, prop, elem bytecode.Opcode) bytecode.Opcode {
	switch t.Kind {
	case ExprID:
		c.emitVar(bytecode.OpPushRef, t)
		return assign
	case ExprProp:
		c.compileExpr(t.Left)
		c.emitString(t.Right.Str)
		return prop
	case ExprElem:
		c.compileExpr(t.Left)
		c.compileExpr(t.Right)
		return elem
	}
	c.failAt(errcode.InvalidLeftValue, t.Pos, "cannot assign to %s", t.Kind)
	return assign
}

func (c *Compiler) compileAssign(e *Expr) {
	base := c.compileTarget(e.Left, bytecode.OpAssign, bytecode.OpPropAssign, bytecode.OpElemAssign)
	c.compileExpr(e.Right)
	op := base
	if e.Kind != ExprAssign {
		op = bytecode.Compound(base, bytecode.OpMul+bytecode.Opcode(e.Kind-ExprMulAssign))
	}
	c.emit(op)
}

func (c *Compiler) compileIncDec(e *Expr) {
	base := c.compileTarget(e.Left, bytecode.OpIncPre, bytecode.OpPropIncPre, bytecode.OpElemIncPre)
	c.emit(base + bytecode.Opcode(e.Kind-ExprIncPre))
}

// compileLogic emits left, then right, and splices the short-circuit jump
// between them. The jump keeps the left value when it is taken and pops it
// otherwise.
func (c *Compiler) compileLogic(e *Expr) {
	c.compileExpr(e.Left)
	c.adjust(1, 0) // popped on fall-through
	at := c.here()
	c.compileExpr(e.Right)
	op := bytecode.OpJmpFOrPop
	if e.Kind == ExprLogicOr {
		op = bytecode.OpJmpTOrPop
	}
	c.spliceJump(op, at)
}

func (c *Compiler) compileTernary(e *Expr) {
	c.compileExpr(e.Left)
	c.adjust(1, 0)
	condEnd := c.here()
	c.compileExpr(e.Right.Left)
	c.adjust(1, 0) // only one branch runs
	c.compileElse(condEnd, func() { c.compileExpr(e.Right.Right) })
}

func (c *Compiler) compileCall(e *Expr) {
	if len(e.List) > math.MaxUint8 {
		c.failAt(errcode.ResourceLimit, e.Pos, "more than %d arguments", math.MaxUint8)
		return
	}
	for _, arg := range e.List {
		c.compileExpr(arg)
	}
	switch callee := e.Left; callee.Kind {
	case ExprProp:
		c.compileExpr(callee.Left)
		c.emitString(callee.Right.Str)
		c.emit(bytecode.OpPropMeth)
		c.emit(bytecode.OpCallMeth, len(e.List))
	case ExprElem:
		c.compileExpr(callee.Left)
		c.compileExpr(callee.Right)
		c.emit(bytecode.OpElemMeth)
		c.emit(bytecode.OpCallMeth, len(e.List))
	default:
		c.compileExpr(callee)
		c.emit(bytecode.OpCall, len(e.List))
	}
}

// compileFuncExpr compiles a function literal into its own executable
// slot and pushes a closure over the current scope. A named literal is
// also assigned to its name.
func (c *Compiler) compileFuncExpr(e *Expr) {
	lit := e.Func
	named := lit.Name != ""
	if named {
		slot := c.declare(c.cur, lit.Name, e.Pos)
		c.emit(bytecode.OpPushRef, slot, 0)
	}
	index := c.compileFunc(lit)
	if index > math.MaxUint16 {
		c.failAt(errcode.ResourceLimit, e.Pos, "more than %d functions", math.MaxUint16+1)
		return
	}
	c.emit(bytecode.OpPushScript, index)
	if named {
		c.emit(bytecode.OpAssign)
	}
}

// compileFunc compiles a function body and returns its index.
func (c *Compiler) compileFunc(lit *FuncLit) int {
	f := c.enter()
	for _, p := range lit.Params {
		c.declareArg(f, p.Name, p.Pos)
	}
	// Defaults: IS_UND slot; JMP_F over; slot = default
	for slot, p := range lit.Params {
		if p.Default == nil {
			continue
		}
		c.emit(bytecode.OpIsUnd, slot)
		c.adjust(1, 0)
		at := c.here()
		c.emit(bytecode.OpPushRef, slot, 0)
		c.compileExpr(p.Default)
		c.emit(bytecode.OpAssign)
		c.emit(bytecode.OpPop)
		c.spliceJump(bytecode.OpJmpF, at)
	}
	c.compileBlock(lit.Body)
	c.emit(bytecode.OpRet0)
	c.leave()
	return f.index
}
