package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenNumber     // 42, 3.14, 1.5e-3
	TokenString     // 'hello', "hello"
	TokenIdentifier // foo, _bar, $baz

	// Keywords
	TokenIf
	TokenElse
	TokenElif
	TokenVar
	TokenDef // def, function
	TokenReturn
	TokenWhile
	TokenBreak
	TokenContinue
	TokenIn
	TokenTry
	TokenCatch
	TokenThrow
	TokenTrue
	TokenFalse
	TokenNull
	TokenUndefined
	TokenNaN

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenComma     // ,
	TokenSemicolon // ;
	TokenColon     // :
	TokenDot       // .
	TokenQuestion  // ?

	// Operators
	TokenPlus     // +
	TokenMinus    // -
	TokenStar     // *
	TokenSlash    // /
	TokenPercent  // %
	TokenShl      // <<
	TokenShr      // >>
	TokenAmp      // &
	TokenPipe     // |
	TokenCaret    // ^
	TokenTilde    // ~
	TokenBang     // !
	TokenAssign   // =
	TokenEq       // ==
	TokenNe       // !=
	TokenGt       // >
	TokenGe       // >=
	TokenLt       // <
	TokenLe       // <=
	TokenAndAnd   // &&
	TokenOrOr     // ||
	TokenInc      // ++
	TokenDec      // --
	TokenStarEq   // *=
	TokenSlashEq  // /=
	TokenPercentEq
	TokenPlusEq
	TokenMinusEq
	TokenShlEq
	TokenShrEq
	TokenAmpEq
	TokenPipeEq
	TokenCaretEq
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNumber:     "NUMBER",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenIf:         "if",
	TokenElse:       "else",
	TokenElif:       "elif",
	TokenVar:        "var",
	TokenDef:        "def",
	TokenReturn:     "return",
	TokenWhile:      "while",
	TokenBreak:      "break",
	TokenContinue:   "continue",
	TokenIn:         "in",
	TokenTry:        "try",
	TokenCatch:      "catch",
	TokenThrow:      "throw",
	TokenTrue:       "true",
	TokenFalse:      "false",
	TokenNull:       "null",
	TokenUndefined:  "undefined",
	TokenNaN:        "NaN",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenComma:      ",",
	TokenSemicolon:  ";",
	TokenColon:      ":",
	TokenDot:        ".",
	TokenQuestion:   "?",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenPercent:    "%",
	TokenShl:        "<<",
	TokenShr:        ">>",
	TokenAmp:        "&",
	TokenPipe:       "|",
	TokenCaret:      "^",
	TokenTilde:      "~",
	TokenBang:       "!",
	TokenAssign:     "=",
	TokenEq:         "==",
	TokenNe:         "!=",
	TokenGt:         ">",
	TokenGe:         ">=",
	TokenLt:         "<",
	TokenLe:         "<=",
	TokenAndAnd:     "&&",
	TokenOrOr:       "||",
	TokenInc:        "++",
	TokenDec:        "--",
	TokenStarEq:     "*=",
	TokenSlashEq:    "/=",
	TokenPercentEq:  "%=",
	TokenPlusEq:     "+=",
	TokenMinusEq:    "-=",
	TokenShlEq:      "<<=",
	TokenShrEq:      ">>=",
	TokenAmpEq:      "&=",
	TokenPipeEq:     "|=",
	TokenCaretEq:    "^=",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based
	Column int // 1-based
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token. Literal holds the token text; for
// strings it is the unescaped content.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Keywords mapped to their token types.
var keywords = map[string]TokenType{
	"if":        TokenIf,
	"else":      TokenElse,
	"elif":      TokenElif,
	"var":       TokenVar,
	"def":       TokenDef,
	"function":  TokenDef,
	"return":    TokenReturn,
	"while":     TokenWhile,
	"break":     TokenBreak,
	"continue":  TokenContinue,
	"in":        TokenIn,
	"try":       TokenTry,
	"catch":     TokenCatch,
	"throw":     TokenThrow,
	"true":      TokenTrue,
	"false":     TokenFalse,
	"null":      TokenNull,
	"undefined": TokenUndefined,
	"NaN":       TokenNaN,
}

// Keywords returns the reserved words, for editor completion.
func Keywords() []string {
	out := make([]string, 0, len(keywords))
	for k := range keywords {
		out = append(out, k)
	}
	return out
}
