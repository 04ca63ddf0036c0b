package sqlscan

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by CheckQuery.
var (
	ErrEmpty              = errors.New("sql is empty")
	ErrMultipleStatements = errors.New("only a single statement can be executed")
	ErrNotQuery           = errors.New("only SELECT queries can be executed")
	ErrUnterminated       = errors.New("unterminated string, identifier or comment")
)

// Statement is the tokens of one statement, without comments and without
// the terminating semicolon.
type Statement []Token

// Statements splits input on semicolons outside quotes and comments.
// Empty statements are dropped.
func Statements(input string) []Statement {
	var (
		out []Statement
		cur Statement
	)
	for _, tok := range Tokenize(input) {
		switch {
		case tok.IsComment():
			continue
		case tok.Kind == Semicolon || tok.Kind == EOF:
			if len(cur) > 0 {
				out = append(out, cur)
			}
			cur = nil
		default:
			cur = append(cur, tok)
		}
	}
	return out
}

// queryStarts are the keywords that begin a read-only DuckDB query.
var queryStarts = []string{"select", "from", "values", "pivot", "unpivot", "summarize"}

func startsQuery(tok Token) bool {
	for _, kw := range queryStarts {
		if tok.IsKeyword(kw) {
			return true
		}
	}
	return false
}

// CheckQuery reports whether sql is exactly one read-only query: a
// SELECT (or FROM-first, VALUES, PIVOT, SUMMARIZE) optionally wrapped in
// parentheses or preceded by a WITH clause.
func CheckQuery(sql string) error {
	for _, tok := range Tokenize(sql) {
		if tok.Kind == Illegal {
			return fmt.Errorf("%w at %s", ErrUnterminated, tok.Pos)
		}
	}

	stmts := Statements(sql)
	switch len(stmts) {
	case 0:
		return ErrEmpty
	case 1:
	default:
		return ErrMultipleStatements
	}

	main := mainClause(stmts[0])
	if main < 0 {
		return ErrNotQuery
	}
	if tok := stmts[0][main]; !startsQuery(tok) {
		return fmt.Errorf("%w, got %s", ErrNotQuery, strings.ToUpper(tok.Text))
	}
	return nil
}

// mainClause returns the index of the token that starts the statement's
// main clause: past leading parentheses and any WITH clause. It returns -1
// when the statement ends before a main clause.
func mainClause(stmt Statement) int {
	i := 0
	for i < len(stmt) && stmt[i].IsSymbol("(") {
		i++
	}
	if i >= len(stmt) {
		return -1
	}
	if !stmt[i].IsKeyword("with") {
		return i
	}

	// WITH [RECURSIVE] name [(cols)] AS [NOT] [MATERIALIZED] (...) [, ...] main
	depth := 0
	for i++; i < len(stmt); i++ {
		tok := stmt[i]
		switch {
		case tok.IsSymbol("("):
			depth++
		case tok.IsSymbol(")"):
			depth--
			if depth != 0 {
				continue
			}
			if i+1 >= len(stmt) {
				return -1
			}
			next := stmt[i+1]
			if next.IsSymbol(",") || next.IsKeyword("as") {
				continue
			}
			return i + 1
		}
	}
	return -1
}

// Normalize canonicalizes SQL text without changing its meaning. Comments
// are dropped, every run of whitespace or comments between two tokens
// becomes one space, tokens that touch in the source still touch, and
// trailing semicolons are removed. Token text, including the case of
// keywords and literals, is preserved.
func Normalize(sql string) string {
	tokens := Tokenize(sql)
	for len(tokens) > 0 {
		last := tokens[len(tokens)-1]
		if last.Kind != EOF && last.Kind != Semicolon && !last.IsComment() {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}

	var b strings.Builder
	b.Grow(len(sql))
	prevEnd := -1
	gap := false
	for _, tok := range tokens {
		if tok.IsComment() {
			gap = true
			continue
		}
		if b.Len() > 0 && (gap || tok.Pos.Offset > prevEnd) {
			b.WriteByte(' ')
		}
		b.WriteString(tok.Text)
		prevEnd = tok.End
		gap = false
	}
	return b.String()
}

// FirstKeyword returns the lowercased first word of sql, skipping
// comments and opening parentheses, or "" when sql does not start with an
// unquoted word.
func FirstKeyword(sql string) string {
	l := NewLexer(sql)
	for {
		tok := l.NextToken()
		switch {
		case tok.IsComment(), tok.IsSymbol("("):
			continue
		case tok.Kind == Ident:
			return strings.ToLower(tok.Text)
		default:
			return ""
		}
	}
}
