// Package translate turns natural-language questions into SQL.
package translate

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapviz/pkg/core"
	"github.com/leapstack-labs/leapviz/pkg/sqlscan"
)

var (
	// ErrUnsupported means a translator cannot answer the question and the
	// next translator in a chain should try.
	ErrUnsupported = errors.New("question not supported by translator")

	// ErrNoSQL means the translator answered without any SQL.
	ErrNoSQL = errors.New("translator returned no SQL")
)

// Request is a question together with the schema it is asked against.
type Request struct {
	Question string
	Table    string
	Columns  []core.ColumnInfo
	Dialect  string
}

// Translator produces SQL for a question.
type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to the Translator interface.
type Func func(ctx context.Context, req Request) (string, error)

// Translate calls f.
func (f Func) Translate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Passthrough answers questions that are already a SELECT or WITH query.
type Passthrough struct{}

// Translate returns the question as SQL, or ErrUnsupported.
func (Passthrough) Translate(_ context.Context, req Request) (string, error) {
	switch sqlscan.FirstKeyword(req.Question) {
	case "select", "with":
	default:
		return "", ErrUnsupported
	}
	return CleanSQL(req.Question), nil
}

// Chain tries each translator in order until one does not return
// ErrUnsupported.
type Chain []Translator

// Translate runs the chain.
func (c Chain) Translate(ctx context.Context, req Request) (string, error) {
	for _, t := range c {
		sql, err := t.Translate(ctx, req)
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		return sql, err
	}
	return "", ErrUnsupported
}

var fence = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// ExtractSQL pulls the SQL out of a model reply. A fenced code block wins
// over surrounding prose.
func ExtractSQL(reply string) (string, error) {
	if m := fence.FindStringSubmatch(reply); m != nil {
		reply = m[1]
	}
	sql := CleanSQL(reply)
	if sql == "" {
		return "", ErrNoSQL
	}
	return sql, nil
}

// CleanSQL trims whitespace and trailing semicolons.
func CleanSQL(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}
