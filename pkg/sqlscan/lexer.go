package sqlscan

import (
	"sort"
	"strings"
)

// symbols are the multi-byte operators DuckDB accepts, longest first.
var symbols = func() []string {
	s := []string{
		"->>", "!~~", "!~~*", "~~*", "!~",
		"::", "->", "<=", ">=", "<>", "!=", "==", "||", "**", "//",
		"=>", ":=", "<<", ">>", "~~", "^@", "@>", "<@", "&&",
	}
	sort.SliceStable(s, func(i, j int) bool { return len(s[i]) > len(s[j]) })
	return s
}()

// Lexer tokenizes SQL input. Comments are returned as tokens.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.col++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) currentPos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// NextToken returns the next token. At the end of input it returns EOF
// tokens indefinitely.
func (l *Lexer) NextToken() Token {
	for isSpace(l.ch) && !l.atEOF() {
		l.readChar()
	}

	start := l.currentPos()
	kind := l.scan()
	return Token{Kind: kind, Text: l.input[start.Offset:l.pos], Pos: start, End: l.pos}
}

// scan consumes one token and returns its kind.
func (l *Lexer) scan() Kind {
	if l.atEOF() {
		return EOF
	}

	switch {
	case l.ch == '-' && l.peekChar() == '-':
		for l.ch != '\n' && !l.atEOF() {
			l.readChar()
		}
		return LineComment
	case l.ch == '/' && l.peekChar() == '*':
		return l.readBlockComment()
	case l.ch == '\'':
		return l.readQuoted('\'', String, false)
	case (l.ch == 'e' || l.ch == 'E') && l.peekChar() == '\'':
		l.readChar()
		return l.readQuoted('\'', String, true)
	case l.ch == '"':
		return l.readQuoted('"', QuotedIdent, false)
	case l.ch == '$':
		return l.readDollar()
	case l.ch == '?':
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
		return Param
	case l.ch == ';':
		l.readChar()
		return Semicolon
	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		l.readNumber()
		return Number
	case isIdentStart(l.ch):
		for isIdentPart(l.ch) && !l.atEOF() {
			l.readChar()
		}
		return Ident
	}

	remaining := l.input[l.pos:]
	for _, sym := range symbols {
		if strings.HasPrefix(remaining, sym) {
			for range sym {
				l.readChar()
			}
			return Symbol
		}
	}
	l.readChar()
	return Symbol
}

// readBlockComment consumes /* ... */. DuckDB does not nest block comments.
func (l *Lexer) readBlockComment() Kind {
	l.readChar() // skip '/'
	l.readChar() // skip '*'
	for !l.atEOF() {
		if l.ch == '*' && l.peekChar() == '/' {
			l.readChar()
			l.readChar()
			return BlockComment
		}
		l.readChar()
	}
	return Illegal
}

// readQuoted consumes a literal delimited by quote, where a doubled quote
// is an escaped quote. With backslash set, \x escapes the next byte too.
func (l *Lexer) readQuoted(quote byte, kind Kind, backslash bool) Kind {
	l.readChar() // skip opening quote
	for !l.atEOF() {
		switch {
		case backslash && l.ch == '\\':
			l.readChar()
			if !l.atEOF() {
				l.readChar()
			}
		case l.ch == quote:
			if l.peekChar() != quote {
				l.readChar()
				return kind
			}
			l.readChar()
			l.readChar()
		default:
			l.readChar()
		}
	}
	return Illegal
}

// readDollar consumes a positional parameter ($1), a named parameter
// ($name) or a dollar-quoted string ($$...$$, $tag$...$tag$).
func (l *Lexer) readDollar() Kind {
	start := l.pos
	l.readChar() // skip '$'

	if isDigit(l.ch) {
		for isDigit(l.ch) {
			l.readChar()
		}
		return Param
	}

	for isIdentPart(l.ch) && l.ch != '$' && !l.atEOF() {
		l.readChar()
	}
	if l.ch != '$' {
		if l.pos == start+1 {
			return Symbol
		}
		return Param
	}
	l.readChar() // closing '$' of the opening tag

	tag := l.input[start:l.pos]
	end := strings.Index(l.input[l.pos:], tag)
	if end < 0 {
		for !l.atEOF() {
			l.readChar()
		}
		return Illegal
	}
	for range end + len(tag) {
		l.readChar()
	}
	return String
}

// readNumber reads integer, decimal, scientific, hex and binary literals,
// with DuckDB's digit separators.
func (l *Lexer) readNumber() {
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X' || l.peekChar() == 'b' || l.peekChar() == 'B') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		return
	}

	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch == '.' && l.peekChar() != '.' {
		l.readChar()
		for isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

// isIdentStart accepts ASCII letters, underscore and any byte of a
// multi-byte UTF-8 sequence.
func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch >= 0x80
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}

// Tokenize returns all tokens from the input, comments included, ending
// with EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Kind == EOF {
			return tokens
		}
	}
}
