package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for ember source
// ---------------------------------------------------------------------------

// Lexer tokenizes ember source code. Unterminated strings and block
// comments come back as EOF positioned at their start, so a caller that
// obtains more input can Feed it and rescan from there.
type Lexer struct {
	input string
	pos   int // offset of the next unread byte
	line  int // current line (1-based)
	col   int // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, col: 1}
}

// Feed appends a continuation line to the input.
func (l *Lexer) Feed(more string) {
	l.input += "\n" + more
}

// Reset moves the lexer back to pos, which must come from a token it
// produced.
func (l *Lexer) Reset(pos Position) {
	l.pos, l.line, l.col = pos.Offset, pos.Line, pos.Column
}

// Input returns the source consumed so far, continuations included.
func (l *Lexer) Input() string { return l.input }

func (l *Lexer) peek(n int) byte {
	if l.pos+n >= len(l.input) {
		return 0
	}
	return l.input[l.pos+n]
}

func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}
	if l.input[l.pos] == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.pos++
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	if start, ok := l.skipWhitespaceAndComments(); !ok {
		return Token{Type: TokenEOF, Pos: start}
	}

	pos := l.position()
	ch := l.peek(0)
	switch {
	case l.pos >= len(l.input):
		return Token{Type: TokenEOF, Pos: pos}
	case isDigit(ch):
		return l.readNumber(pos)
	case isIdentStart(ch):
		return l.readIdentifier(pos)
	case ch == '"' || ch == '\'':
		return l.readString(pos)
	}
	return l.readOperator(pos)
}

// skipWhitespaceAndComments skips blanks, '#' and '//' line comments and
// '/* */' block comments. It returns false with the comment's position when
// a block comment is unterminated.
func (l *Lexer) skipWhitespaceAndComments() (Position, bool) {
	for l.pos < len(l.input) {
		switch ch := l.peek(0); {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			l.advance()
		case ch == '#' || (ch == '/' && l.peek(1) == '/'):
			for l.pos < len(l.input) && l.peek(0) != '\n' {
				l.advance()
			}
		case ch == '/' && l.peek(1) == '*':
			start := l.position()
			l.advance()
			l.advance()
			for {
				if l.pos >= len(l.input) {
					return start, false
				}
				if l.peek(0) == '*' && l.peek(1) == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return Position{}, true
		}
	}
	return Position{}, true
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '$'
}

func isIdentChar(ch byte) bool { return isIdentStart(ch) || isDigit(ch) }

// readNumber reads digits, an optional fraction and an optional exponent.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	for isDigit(l.peek(0)) {
		l.advance()
	}
	if l.peek(0) == '.' && isDigit(l.peek(1)) {
		l.advance()
		for isDigit(l.peek(0)) {
			l.advance()
		}
	}
	if e := l.peek(0); e == 'e' || e == 'E' {
		n := 1
		if s := l.peek(1); s == '+' || s == '-' {
			n = 2
		}
		if isDigit(l.peek(n)) {
			for ; n > 0; n-- {
				l.advance()
			}
			for isDigit(l.peek(0)) {
				l.advance()
			}
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) readIdentifier(pos Position) Token {
	start := l.pos
	for isIdentChar(l.peek(0)) {
		l.advance()
	}
	word := l.input[start:l.pos]
	if typ, ok := keywords[word]; ok {
		return Token{Type: typ, Literal: word, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: word, Pos: pos}
}

// readString reads a quoted string. \t, \r and \n are translated; any other
// escaped character stands for itself.
func (l *Lexer) readString(pos Position) Token {
	quote := l.peek(0)
	l.advance()
	var sb strings.Builder
	for {
		if l.pos >= len(l.input) {
			return Token{Type: TokenEOF, Pos: pos}
		}
		ch := l.peek(0)
		l.advance()
		if ch == quote {
			break
		}
		if ch == '\\' {
			if l.pos >= len(l.input) {
				return Token{Type: TokenEOF, Pos: pos}
			}
			ch = l.peek(0)
			l.advance()
			switch ch {
			case 't':
				ch = '\t'
			case 'r':
				ch = '\r'
			case 'n':
				ch = '\n'
			}
		}
		if ch == 0 {
			// Image string pools are NUL-terminated.
			return Token{Type: TokenError, Literal: "NUL byte in string literal", Pos: pos}
		}
		sb.WriteByte(ch)
	}
	return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
}

// operators lists multi-character operators longest first.
var operators = []struct {
	text string
	typ  TokenType
}{
	{"<<=", TokenShlEq}, {">>=", TokenShrEq},
	{"==", TokenEq}, {"!=", TokenNe}, {">=", TokenGe}, {"<=", TokenLe},
	{"++", TokenInc}, {"--", TokenDec}, {"&&", TokenAndAnd}, {"||", TokenOrOr},
	{"<<", TokenShl}, {">>", TokenShr},
	{"*=", TokenStarEq}, {"/=", TokenSlashEq}, {"%=", TokenPercentEq},
	{"+=", TokenPlusEq}, {"-=", TokenMinusEq},
	{"&=", TokenAmpEq}, {"|=", TokenPipeEq}, {"^=", TokenCaretEq},
}

var singleChar = map[byte]TokenType{
	'(': TokenLParen, ')': TokenRParen, '[': TokenLBracket, ']': TokenRBracket,
	'{': TokenLBrace, '}': TokenRBrace, ',': TokenComma, ';': TokenSemicolon,
	':': TokenColon, '.': TokenDot, '?': TokenQuestion,
	'+': TokenPlus, '-': TokenMinus, '*': TokenStar, '/': TokenSlash, '%': TokenPercent,
	'&': TokenAmp, '|': TokenPipe, '^': TokenCaret, '~': TokenTilde, '!': TokenBang,
	'=': TokenAssign, '>': TokenGt, '<': TokenLt,
}

func (l *Lexer) readOperator(pos Position) Token {
	rest := l.input[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op.text) {
			for range op.text {
				l.advance()
			}
			return Token{Type: op.typ, Literal: op.text, Pos: pos}
		}
	}
	ch := l.peek(0)
	l.advance()
	if typ, ok := singleChar[ch]; ok {
		return Token{Type: typ, Literal: string(ch), Pos: pos}
	}
	return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character %q", ch), Pos: pos}
}

// Tokenize returns every token of input up to and including EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return toks
		}
	}
}
