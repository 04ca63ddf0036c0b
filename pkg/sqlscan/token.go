// Package sqlscan tokenizes DuckDB-flavoured SQL and splits it into
// statements. It knows enough about quoting, comments and operators to
// canonicalize query text and to tell a single read-only query from a
// script, without building a syntax tree.
package sqlscan

import (
	"fmt"
	"strings"
)

// Kind classifies a token.
type Kind int

// Token kinds.
const (
	EOF Kind = iota
	Illegal
	Ident
	QuotedIdent
	String
	Number
	Param
	Symbol
	Semicolon
	LineComment
	BlockComment
)

var kindNames = [...]string{
	EOF:          "EOF",
	Illegal:      "ILLEGAL",
	Ident:        "IDENT",
	QuotedIdent:  "QUOTED_IDENT",
	String:       "STRING",
	Number:       "NUMBER",
	Param:        "PARAM",
	Symbol:       "SYMBOL",
	Semicolon:    "SEMICOLON",
	LineComment:  "LINE_COMMENT",
	BlockComment: "BLOCK_COMMENT",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Position is a location in the input.
type Position struct {
	Line   int // 1-based
	Column int // 1-based, in bytes
	Offset int // 0-based byte offset
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is a lexical token. Text is the exact source text, quotes and
// comment markers included.
type Token struct {
	Kind Kind
	Text string
	Pos  Position
	// End is the byte offset just past the token.
	End int
}

// IsKeyword reports whether t is the unquoted word kw, ignoring case.
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == Ident && strings.EqualFold(t.Text, kw)
}

// IsSymbol reports whether t is the operator or punctuation s.
func (t Token) IsSymbol(s string) bool {
	return t.Kind == Symbol && t.Text == s
}

// IsComment reports whether t is a line or block comment.
func (t Token) IsComment() bool {
	return t.Kind == LineComment || t.Kind == BlockComment
}

func (t Token) String() string {
	return fmt.Sprintf("%s %q at %s", t.Kind, t.Text, t.Pos)
}
