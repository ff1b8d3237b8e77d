package compiler

import (
	"strconv"

	"github.com/chazu/ember/pkg/errcode"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for ember
// ---------------------------------------------------------------------------

// Parser parses ember source code into an AST. The first error is latched:
// every later parse call returns nil without consuming input.
type Parser struct {
	lexer *Lexer
	cur   Token
	more  func() (string, bool)
	err   errcode.Latch

	nodes    int
	maxNodes int
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.next()
	return p
}

// SetContinuation installs a callback asked for another line whenever the
// parser needs a token and the input has run out.
func (p *Parser) SetContinuation(more func() (string, bool)) {
	p.more = more
}

// SetNodeLimit bounds the number of AST nodes; exceeding it fails with
// NotEnoughMemory. Zero means no limit.
func (p *Parser) SetNodeLimit(n int) { p.maxNodes = n }

// Err returns the latched error, or nil.
func (p *Parser) Err() *errcode.Error { return p.err.Get() }

// Source returns the text parsed so far, continuation lines included.
func (p *Parser) Source() string { return p.lexer.Input() }

func (p *Parser) failed() bool { return p.err.Failed() }

func (p *Parser) errorf(code errcode.Code, pos Position, format string, args ...any) {
	p.err.Set(errcode.At(code, pos.Line, pos.Column, format, args...))
}

// next advances to the next token.
func (p *Parser) next() {
	p.cur = p.lexer.NextToken()
	if p.cur.Type == TokenError {
		p.errorf(errcode.InvalidToken, p.cur.Pos, "%s", p.cur.Literal)
	}
}

// refill asks the continuation for more input and rescans the current token.
func (p *Parser) refill() bool {
	if p.more == nil {
		return false
	}
	line, ok := p.more()
	if !ok {
		return false
	}
	p.lexer.Feed(line)
	p.lexer.Reset(p.cur.Pos)
	p.next()
	return true
}

// need makes sure a real token is current, pulling continuation lines while
// the input is exhausted.
func (p *Parser) need() bool {
	for p.cur.Type == TokenEOF {
		if !p.refill() {
			return false
		}
	}
	return !p.failed()
}

func (p *Parser) curIs(t TokenType) bool { return p.cur.Type == t }

// peekType returns the type of the token after the current one without
// consuming it.
func (p *Parser) peekType() TokenType {
	tok := p.lexer.NextToken()
	p.lexer.Reset(tok.Pos)
	return tok.Type
}

// accept consumes the current token if it has type t. It never asks for
// more input.
func (p *Parser) accept(t TokenType) bool {
	if !p.failed() && p.cur.Type == t {
		p.next()
		return true
	}
	return false
}

// expect consumes a token of type t or records a syntax error.
func (p *Parser) expect(t TokenType) bool {
	if p.failed() {
		return false
	}
	p.need()
	if p.failed() {
		return false
	}
	if p.cur.Type == t {
		p.next()
		return true
	}
	p.unexpected("expected %s", t)
	return false
}

func (p *Parser) unexpected(format string, args ...any) {
	msg := strconv.Quote(p.cur.Literal)
	if p.cur.Type == TokenEOF {
		msg = "end of input"
	}
	p.errorf(errcode.InvalidSyntax, p.cur.Pos, format+", got %s", append(args, msg)...)
}

func (p *Parser) expr(kind ExprKind, pos Position) *Expr {
	p.nodes++
	if p.maxNodes > 0 && p.nodes > p.maxNodes {
		p.errorf(errcode.NotEnoughMemory, pos, "syntax tree exceeds %d nodes", p.maxNodes)
	}
	return &Expr{Kind: kind, Pos: pos}
}

func (p *Parser) stmt(kind StmtKind, pos Position) *Stmt {
	p.nodes++
	if p.maxNodes > 0 && p.nodes > p.maxNodes {
		p.errorf(errcode.NotEnoughMemory, pos, "syntax tree exceeds %d nodes", p.maxNodes)
	}
	return &Stmt{Kind: kind, Pos: pos}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ParseProgram parses statements up to the end of input. An empty program
// is a single pass statement.
func (p *Parser) ParseProgram() (*Stmt, error) {
	var list stmtList
	for !p.failed() && !p.atEOF() {
		list.add(p.parseStatement())
	}
	if p.failed() {
		return nil, p.err.Err()
	}
	return list.orPass(p, p.cur.Pos), nil
}

// atEOF reports whether the input is exhausted. An EOF token short of the
// end of input is an unterminated string or comment; it needs more input.
func (p *Parser) atEOF() bool {
	for p.curIs(TokenEOF) && p.cur.Pos.Offset < len(p.lexer.Input()) {
		if !p.refill() {
			p.errorf(errcode.InvalidSyntax, p.cur.Pos, "unterminated string or comment")
			return true
		}
	}
	return p.curIs(TokenEOF)
}

// ParseStatement parses one statement.
func (p *Parser) ParseStatement() (*Stmt, error) {
	s := p.parseStatement()
	if p.failed() {
		return nil, p.err.Err()
	}
	return s, nil
}

// stmtList builds a Next-linked statement list.
type stmtList struct {
	head, tail *Stmt
}

func (l *stmtList) add(s *Stmt) {
	if s == nil {
		return
	}
	if l.head == nil {
		l.head = s
	} else {
		l.tail.Next = s
	}
	l.tail = s
	for l.tail.Next != nil {
		l.tail = l.tail.Next
	}
}

func (l *stmtList) orPass(p *Parser, pos Position) *Stmt {
	if l.head == nil {
		return p.stmt(StmtPass, pos)
	}
	return l.head
}

func (p *Parser) parseStatement() *Stmt {
	if !p.need() {
		if !p.failed() {
			p.unexpected("expected statement")
		}
		return nil
	}
	pos := p.cur.Pos
	var s *Stmt

	switch p.cur.Type {
	case TokenSemicolon:
		p.next()
		return p.stmt(StmtPass, pos)
	case TokenLBrace:
		return p.parseBraceBlock()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenTry:
		return p.parseTry()
	case TokenVar:
		s = p.parseVar()
	case TokenReturn, TokenThrow:
		kind := StmtReturn
		if p.cur.Type == TokenThrow {
			kind = StmtThrow
		}
		p.next()
		s = p.stmt(kind, pos)
		if !p.atStatementEnd() {
			s.Expr = p.parseExpr()
		}
	case TokenBreak:
		p.next()
		s = p.stmt(StmtBreak, pos)
	case TokenContinue:
		p.next()
		s = p.stmt(StmtContinue, pos)
	case TokenDef:
		// A named function at the start of a statement is a declaration and
		// ends the statement; an anonymous one starts an expression.
		if p.peekType() == TokenIdentifier {
			s = p.stmt(StmtDef, pos)
			s.Expr = p.parseFunc()
			break
		}
		s = p.stmt(StmtExpr, pos)
		s.Expr = p.parseExpr()
	default:
		s = p.stmt(StmtExpr, pos)
		s.Expr = p.parseExpr()
	}
	p.accept(TokenSemicolon)
	if p.failed() {
		return nil
	}
	return s
}

func (p *Parser) atStatementEnd() bool {
	switch p.cur.Type {
	case TokenSemicolon, TokenRBrace, TokenEOF:
		return true
	}
	return false
}

// parseBlock parses a brace-delimited sequence or a single statement.
func (p *Parser) parseBlock() *Stmt {
	if !p.need() {
		if !p.failed() {
			p.unexpected("expected block")
		}
		return nil
	}
	if p.curIs(TokenLBrace) {
		return p.parseBraceBlock()
	}
	return p.parseStatement()
}

func (p *Parser) parseBraceBlock() *Stmt {
	pos := p.cur.Pos
	if !p.expect(TokenLBrace) {
		return nil
	}
	var list stmtList
	for !p.failed() {
		if !p.need() {
			p.unexpected("expected }")
			return nil
		}
		if p.accept(TokenRBrace) {
			break
		}
		list.add(p.parseStatement())
	}
	if p.failed() {
		return nil
	}
	return list.orPass(p, pos)
}

// parseIf parses if and elif; an elif chain nests as the else branch.
func (p *Parser) parseIf() *Stmt {
	s := p.stmt(StmtIf, p.cur.Pos)
	p.next()
	if !p.expect(TokenLParen) {
		return nil
	}
	s.Expr = p.parseExpr()
	if !p.expect(TokenRParen) {
		return nil
	}
	s.Block = p.parseBlock()
	switch {
	case p.curIs(TokenElif):
		s.Else = p.parseIf()
	case p.accept(TokenElse):
		s.Else = p.parseBlock()
	}
	if p.failed() {
		return nil
	}
	return s
}

func (p *Parser) parseWhile() *Stmt {
	s := p.stmt(StmtWhile, p.cur.Pos)
	p.next()
	if !p.expect(TokenLParen) {
		return nil
	}
	s.Expr = p.parseExpr()
	if !p.expect(TokenRParen) {
		return nil
	}
	s.Block = p.parseBlock()
	if p.failed() {
		return nil
	}
	return s
}

func (p *Parser) parseTry() *Stmt {
	s := p.stmt(StmtTry, p.cur.Pos)
	p.next()
	s.Block = p.parseBlock()
	if !p.expect(TokenCatch) {
		return nil
	}
	if p.accept(TokenLParen) {
		p.need()
		if !p.curIs(TokenIdentifier) {
			p.unexpected("expected catch variable")
			return nil
		}
		s.Name = p.cur.Literal
		p.next()
		if !p.expect(TokenRParen) {
			return nil
		}
	}
	s.Else = p.parseBlock()
	if p.failed() {
		return nil
	}
	return s
}

func (p *Parser) parseVar() *Stmt {
	s := p.stmt(StmtVar, p.cur.Pos)
	p.next()
	for !p.failed() {
		p.need()
		if !p.curIs(TokenIdentifier) {
			p.unexpected("expected variable name")
			return nil
		}
		d := Decl{Name: p.cur.Literal, Pos: p.cur.Pos}
		p.next()
		if p.accept(TokenAssign) {
			d.Value = p.parseAssign()
		}
		s.Decls = append(s.Decls, d)
		if !p.accept(TokenComma) {
			break
		}
	}
	return s
}

// ---------------------------------------------------------------------------
// Expressions, lowest precedence first
// ---------------------------------------------------------------------------

func (p *Parser) parseExpr() *Expr {
	left := p.parseAssign()
	for !p.failed() && p.curIs(TokenComma) {
		e := p.expr(ExprComma, p.cur.Pos)
		p.next()
		e.Left, e.Right = left, p.parseAssign()
		left = e
	}
	return left
}

var assignKinds = map[TokenType]ExprKind{
	TokenAssign:    ExprAssign,
	TokenStarEq:    ExprMulAssign,
	TokenSlashEq:   ExprDivAssign,
	TokenPercentEq: ExprModAssign,
	TokenPlusEq:    ExprAddAssign,
	TokenMinusEq:   ExprSubAssign,
	TokenShlEq:     ExprLShiftAssign,
	TokenShrEq:     ExprRShiftAssign,
	TokenAmpEq:     ExprAndAssign,
	TokenPipeEq:    ExprOrAssign,
	TokenCaretEq:   ExprXorAssign,
}

// parseAssign is right associative.
func (p *Parser) parseAssign() *Expr {
	left := p.parseTernary()
	if p.failed() {
		return nil
	}
	kind, ok := assignKinds[p.cur.Type]
	if !ok {
		return left
	}
	if !left.IsLeftValue() {
		p.errorf(errcode.InvalidLeftValue, left.Pos, "cannot assign to %s", left.Kind)
		return nil
	}
	e := p.expr(kind, p.cur.Pos)
	p.next()
	e.Left, e.Right = left, p.parseAssign()
	return e
}

func (p *Parser) parseTernary() *Expr {
	cond := p.parseLogicOr()
	if p.failed() || !p.curIs(TokenQuestion) {
		return cond
	}
	e := p.expr(ExprTernary, p.cur.Pos)
	p.next()
	branches := p.expr(ExprPair, p.cur.Pos)
	branches.Left = p.parseAssign()
	if !p.expect(TokenColon) {
		return nil
	}
	branches.Right = p.parseAssign()
	e.Left, e.Right = cond, branches
	return e
}

// binaryLevel parses one left-associative precedence level.
func (p *Parser) binaryLevel(ops map[TokenType]ExprKind, operand func() *Expr) *Expr {
	left := operand()
	for !p.failed() {
		kind, ok := ops[p.cur.Type]
		if !ok {
			break
		}
		e := p.expr(kind, p.cur.Pos)
		p.next()
		e.Left, e.Right = left, operand()
		left = e
	}
	return left
}

var (
	logicOrOps  = map[TokenType]ExprKind{TokenOrOr: ExprLogicOr}
	logicAndOps = map[TokenType]ExprKind{TokenAndAnd: ExprLogicAnd}
	compareOps  = map[TokenType]ExprKind{
		TokenEq: ExprTEq, TokenNe: ExprTNe, TokenGt: ExprTGt, TokenGe: ExprTGe,
		TokenLt: ExprTLt, TokenLe: ExprTLe, TokenIn: ExprTIn,
	}
	bitwiseOps  = map[TokenType]ExprKind{TokenAmp: ExprAnd, TokenPipe: ExprOr, TokenCaret: ExprXor}
	shiftOps    = map[TokenType]ExprKind{TokenShl: ExprLShift, TokenShr: ExprRShift}
	additiveOps = map[TokenType]ExprKind{TokenPlus: ExprAdd, TokenMinus: ExprSub}
	multOps     = map[TokenType]ExprKind{TokenStar: ExprMul, TokenSlash: ExprDiv, TokenPercent: ExprMod}
)

func (p *Parser) parseLogicOr() *Expr  { return p.binaryLevel(logicOrOps, p.parseLogicAnd) }
func (p *Parser) parseLogicAnd() *Expr { return p.binaryLevel(logicAndOps, p.parseCompare) }
func (p *Parser) parseCompare() *Expr  { return p.binaryLevel(compareOps, p.parseBitwise) }
func (p *Parser) parseBitwise() *Expr  { return p.binaryLevel(bitwiseOps, p.parseShift) }
func (p *Parser) parseShift() *Expr    { return p.binaryLevel(shiftOps, p.parseAdditive) }
func (p *Parser) parseAdditive() *Expr { return p.binaryLevel(additiveOps, p.parseMult) }
func (p *Parser) parseMult() *Expr     { return p.binaryLevel(multOps, p.parseUnary) }

func (p *Parser) parseUnary() *Expr {
	if !p.need() {
		return p.parseFactor()
	}
	pos := p.cur.Pos
	var kind ExprKind
	switch p.cur.Type {
	case TokenBang:
		kind = ExprLogicNot
	case TokenMinus:
		kind = ExprNeg
	case TokenTilde:
		kind = ExprNot
	case TokenInc, TokenDec:
		kind = ExprIncPre
		if p.cur.Type == TokenDec {
			kind = ExprDecPre
		}
		p.next()
		target := p.parsePostfix()
		if p.failed() {
			return nil
		}
		if !target.IsLeftValue() {
			p.errorf(errcode.InvalidLeftValue, target.Pos, "cannot increment %s", target.Kind)
			return nil
		}
		e := p.expr(kind, pos)
		e.Left = target
		return e
	default:
		return p.parsePostfix()
	}
	p.next()
	e := p.expr(kind, pos)
	e.Left = p.parseUnary()
	return e
}

func (p *Parser) parsePostfix() *Expr {
	e := p.parsePrimary()
	if p.failed() || (!p.curIs(TokenInc) && !p.curIs(TokenDec)) {
		return e
	}
	if !e.IsLeftValue() {
		p.errorf(errcode.InvalidLeftValue, e.Pos, "cannot increment %s", e.Kind)
		return nil
	}
	kind := ExprIncPost
	if p.curIs(TokenDec) {
		kind = ExprDecPost
	}
	post := p.expr(kind, p.cur.Pos)
	p.next()
	post.Left = e
	return post
}

// parsePrimary parses call, index and property chains. A function whose
// body is a single statement has already consumed that statement's
// terminator, so nothing may follow it in the chain.
func (p *Parser) parsePrimary() *Expr {
	e := p.parseFactor()
	if e != nil && e.Kind == ExprFunc && !e.Func.Braced {
		return e
	}
	for !p.failed() {
		pos := p.cur.Pos
		switch p.cur.Type {
		case TokenLParen:
			p.next()
			call := p.expr(ExprCall, pos)
			call.Left = e
			call.List = p.parseList(TokenRParen)
			e = call
		case TokenLBracket:
			p.next()
			elem := p.expr(ExprElem, pos)
			elem.Left = e
			elem.Right = p.parseExpr()
			if !p.expect(TokenRBracket) {
				return nil
			}
			e = elem
		case TokenDot:
			p.next()
			p.need()
			if !p.curIs(TokenIdentifier) {
				p.unexpected("expected property name")
				return nil
			}
			prop := p.expr(ExprProp, pos)
			name := p.expr(ExprID, p.cur.Pos)
			name.Str = p.cur.Literal
			p.next()
			prop.Left, prop.Right = e, name
			e = prop
		default:
			return e
		}
	}
	return nil
}

// parseList parses comma-separated assignment expressions up to end. The
// opening delimiter has been consumed.
func (p *Parser) parseList(end TokenType) []*Expr {
	var items []*Expr
	p.need()
	if p.accept(end) {
		return items
	}
	for !p.failed() {
		items = append(items, p.parseAssign())
		if p.accept(TokenComma) {
			continue
		}
		p.expect(end)
		break
	}
	return items
}

func (p *Parser) parseFactor() *Expr {
	if !p.need() {
		if !p.failed() {
			p.unexpected("expected expression")
		}
		return nil
	}
	tok := p.cur
	switch tok.Type {
	case TokenNumber:
		n, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil && !isRangeErr(err) {
			p.errorf(errcode.InvalidToken, tok.Pos, "bad number %q", tok.Literal)
			return nil
		}
		p.next()
		e := p.expr(ExprNumber, tok.Pos)
		e.Num = n
		return e
	case TokenString, TokenIdentifier:
		p.next()
		kind := ExprString
		if tok.Type == TokenIdentifier {
			kind = ExprID
		}
		e := p.expr(kind, tok.Pos)
		e.Str = tok.Literal
		return e
	case TokenTrue, TokenFalse, TokenNull, TokenUndefined, TokenNaN:
		p.next()
		return p.expr(literalKinds[tok.Type], tok.Pos)
	case TokenLParen:
		p.next()
		e := p.parseExpr()
		if !p.expect(TokenRParen) {
			return nil
		}
		return e
	case TokenLBracket:
		p.next()
		e := p.expr(ExprArray, tok.Pos)
		e.List = p.parseList(TokenRBracket)
		return e
	case TokenLBrace:
		return p.parseDict()
	case TokenDef:
		return p.parseFunc()
	}
	p.unexpected("expected expression")
	return nil
}

var literalKinds = map[TokenType]ExprKind{
	TokenTrue:      ExprTrue,
	TokenFalse:     ExprFalse,
	TokenNull:      ExprNull,
	TokenUndefined: ExprUndefined,
	TokenNaN:       ExprNaN,
}

func isRangeErr(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}

// parseDict parses {key: value, ...}; keys are identifiers or strings.
func (p *Parser) parseDict() *Expr {
	e := p.expr(ExprDict, p.cur.Pos)
	p.next()
	p.need()
	if p.accept(TokenRBrace) {
		return e
	}
	for !p.failed() {
		p.need()
		if !p.curIs(TokenIdentifier) && !p.curIs(TokenString) {
			p.unexpected("expected property key")
			return nil
		}
		pair := p.expr(ExprPair, p.cur.Pos)
		key := p.expr(ExprString, p.cur.Pos)
		key.Str = p.cur.Literal
		p.next()
		if !p.expect(TokenColon) {
			return nil
		}
		pair.Left, pair.Right = key, p.parseAssign()
		e.List = append(e.List, pair)
		if p.accept(TokenComma) {
			continue
		}
		if !p.expect(TokenRBrace) {
			return nil
		}
		break
	}
	return e
}

// parseFunc parses def [name] [(params)] body.
func (p *Parser) parseFunc() *Expr {
	e := p.expr(ExprFunc, p.cur.Pos)
	fn := &FuncLit{}
	e.Func = fn
	p.next()
	p.need()
	if p.curIs(TokenIdentifier) {
		fn.Name = p.cur.Literal
		p.next()
		p.need()
	}
	if p.accept(TokenLParen) {
		p.need()
		if !p.accept(TokenRParen) {
			for !p.failed() {
				p.need()
				if !p.curIs(TokenIdentifier) {
					p.unexpected("expected parameter name")
					return nil
				}
				prm := Param{Name: p.cur.Literal, Pos: p.cur.Pos}
				p.next()
				if p.accept(TokenAssign) {
					prm.Default = p.parseAssign()
				}
				fn.Params = append(fn.Params, prm)
				if p.accept(TokenComma) {
					continue
				}
				if !p.expect(TokenRParen) {
					return nil
				}
				break
			}
		}
	}
	p.need()
	fn.Braced = p.curIs(TokenLBrace)
	fn.Body = p.parseBlock()
	if p.failed() {
		return nil
	}
	return e
}

// Parse parses a complete program.
func Parse(src string) (*Stmt, error) {
	return NewParser(src).ParseProgram()
}
