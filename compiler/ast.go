package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// AST: expression and statement nodes
// ---------------------------------------------------------------------------

// ExprKind identifies an expression node.
type ExprKind int

const (
	// Leaves
	ExprNumber ExprKind = iota // Num
	ExprString                 // Str
	ExprID                     // Str
	ExprTrue
	ExprFalse
	ExprNull
	ExprUndefined
	ExprNaN
	ExprFunc  // Func
	ExprArray // List
	ExprDict  // List of ExprPair

	// Unary: Left
	ExprNeg
	ExprNot
	ExprLogicNot
	ExprIncPre
	ExprDecPre
	ExprIncPost
	ExprDecPost

	// Binary arithmetic, in bytecode order: Left op Right
	ExprMul
	ExprDiv
	ExprMod
	ExprAdd
	ExprSub
	ExprLShift
	ExprRShift
	ExprAnd
	ExprOr
	ExprXor

	// Comparison
	ExprTEq
	ExprTNe
	ExprTGt
	ExprTGe
	ExprTLt
	ExprTLe
	ExprTIn

	// Short circuit
	ExprLogicAnd
	ExprLogicOr

	// Assignment: Left = target, Right = value
	ExprAssign
	ExprMulAssign
	ExprDivAssign
	ExprModAssign
	ExprAddAssign
	ExprSubAssign
	ExprLShiftAssign
	ExprRShiftAssign
	ExprAndAssign
	ExprOrAssign
	ExprXorAssign

	// Structure
	ExprTernary // Left = condition, Right = ExprPair{then, else}
	ExprPair    // Left, Right
	ExprComma   // Left, Right; yields Right
	ExprProp    // Left = object, Right = ExprID name
	ExprElem    // Left = object, Right = index
	ExprCall    // Left = callee, List = arguments
)

var exprNames = [...]string{
	ExprNumber: "number", ExprString: "string", ExprID: "id",
	ExprTrue: "true", ExprFalse: "false", ExprNull: "null", ExprUndefined: "undefined", ExprNaN: "NaN",
	ExprFunc: "func", ExprArray: "array", ExprDict: "dict",
	ExprNeg: "neg", ExprNot: "~", ExprLogicNot: "!",
	ExprIncPre: "++pre", ExprDecPre: "--pre", ExprIncPost: "post++", ExprDecPost: "post--",
	ExprMul: "*", ExprDiv: "/", ExprMod: "%", ExprAdd: "+", ExprSub: "-",
	ExprLShift: "<<", ExprRShift: ">>", ExprAnd: "&", ExprOr: "|", ExprXor: "^",
	ExprTEq: "==", ExprTNe: "!=", ExprTGt: ">", ExprTGe: ">=", ExprTLt: "<", ExprTLe: "<=", ExprTIn: "in",
	ExprLogicAnd: "&&", ExprLogicOr: "||",
	ExprAssign: "=", ExprMulAssign: "*=", ExprDivAssign: "/=", ExprModAssign: "%=",
	ExprAddAssign: "+=", ExprSubAssign: "-=", ExprLShiftAssign: "<<=", ExprRShiftAssign: ">>=",
	ExprAndAssign: "&=", ExprOrAssign: "|=", ExprXorAssign: "^=",
	ExprTernary: "?:", ExprPair: "pair", ExprComma: ",",
	ExprProp: ".", ExprElem: "[]", ExprCall: "call",
}

func (k ExprKind) String() string {
	if int(k) < len(exprNames) && exprNames[k] != "" {
		return exprNames[k]
	}
	return fmt.Sprintf("ExprKind(%d)", int(k))
}

// IsAssign reports whether k is a plain or compound assignment.
func (k ExprKind) IsAssign() bool { return k >= ExprAssign && k <= ExprXorAssign }

// IsBinary reports whether k is an arithmetic or bitwise binary operator.
func (k ExprKind) IsBinary() bool { return k >= ExprMul && k <= ExprXor }

// Expr is an expression node. Non-leaf nodes use Left and Right according
// to their kind.
type Expr struct {
	Kind  ExprKind
	Pos   Position
	Left  *Expr
	Right *Expr
	Str   string
	Num   float64
	List  []*Expr
	Func  *FuncLit
}

// IsLeftValue reports whether e can be assigned to.
func (e *Expr) IsLeftValue() bool {
	return e.Kind == ExprID || e.Kind == ExprProp || e.Kind == ExprElem
}

// Param is one declared function parameter.
type Param struct {
	Name    string
	Pos     Position
	Default *Expr // nil when absent
}

// FuncLit is a function literal. A named literal also declares its name in
// the enclosing function.
type FuncLit struct {
	Name   string
	Params []Param
	Body   *Stmt
	Braced bool // body is a { } block rather than a single statement
}

// StmtKind identifies a statement node.
type StmtKind int

const (
	StmtExpr StmtKind = iota
	StmtIf
	StmtVar
	StmtReturn
	StmtWhile
	StmtBreak
	StmtContinue
	StmtThrow
	StmtTry
	StmtPass
	StmtDef
)

var stmtNames = [...]string{
	StmtExpr: "expr", StmtIf: "if", StmtVar: "var", StmtReturn: "return",
	StmtWhile: "while", StmtBreak: "break", StmtContinue: "continue",
	StmtThrow: "throw", StmtTry: "try", StmtPass: "pass",
	StmtDef: "def",
}

func (k StmtKind) String() string {
	if int(k) < len(stmtNames) {
		return stmtNames[k]
	}
	return fmt.Sprintf("StmtKind(%d)", int(k))
}

// Decl is one declarator of a var statement.
type Decl struct {
	Name  string
	Pos   Position
	Value *Expr // nil when absent
}

// Stmt is a statement node. Statements form singly-linked lists via Next.
//
//	StmtExpr     Expr
//	StmtIf       Expr condition, Block, Else (nil or the else/elif chain)
//	StmtVar      Decls
//	StmtReturn   Expr (optional)
//	StmtWhile    Expr condition, Block
//	StmtThrow    Expr (optional)
//	StmtTry      Block, Else = catch block, Name = bound error name (optional)
//	StmtDef      Expr, a named ExprFunc; declares the name and yields no value
type Stmt struct {
	Kind  StmtKind
	Pos   Position
	Expr  *Expr
	Block *Stmt
	Else  *Stmt
	Name  string
	Decls []Decl
	Next  *Stmt
}

// ---------------------------------------------------------------------------
// Printing (used by tests and the LSP hover)
// ---------------------------------------------------------------------------

// String renders e as a fully parenthesized S-expression.
func (e *Expr) String() string {
	var sb strings.Builder
	writeExpr(&sb, e)
	return sb.String()
}

func writeExpr(sb *strings.Builder, e *Expr) {
	if e == nil {
		sb.WriteString("nil")
		return
	}
	switch e.Kind {
	case ExprNumber:
		sb.WriteString(strconv.FormatFloat(e.Num, 'g', -1, 64))
	case ExprString:
		sb.WriteString(strconv.Quote(e.Str))
	case ExprID:
		sb.WriteString(e.Str)
	case ExprTrue, ExprFalse, ExprNull, ExprUndefined, ExprNaN:
		sb.WriteString(e.Kind.String())
	case ExprFunc:
		sb.WriteString("(def")
		if e.Func.Name != "" {
			sb.WriteString(" " + e.Func.Name)
		}
		for _, p := range e.Func.Params {
			sb.WriteString(" " + p.Name)
			if p.Default != nil {
				sb.WriteByte('=')
				writeExpr(sb, p.Default)
			}
		}
		sb.WriteByte(')')
	case ExprArray, ExprDict, ExprCall:
		sb.WriteString("(" + e.Kind.String())
		if e.Kind == ExprCall {
			sb.WriteByte(' ')
			writeExpr(sb, e.Left)
		}
		for _, item := range e.List {
			sb.WriteByte(' ')
			writeExpr(sb, item)
		}
		sb.WriteByte(')')
	case ExprNeg, ExprNot, ExprLogicNot, ExprIncPre, ExprDecPre, ExprIncPost, ExprDecPost:
		sb.WriteString("(" + e.Kind.String() + " ")
		writeExpr(sb, e.Left)
		sb.WriteByte(')')
	default:
		sb.WriteString("(" + e.Kind.String() + " ")
		writeExpr(sb, e.Left)
		sb.WriteByte(' ')
		writeExpr(sb, e.Right)
		sb.WriteByte(')')
	}
}
