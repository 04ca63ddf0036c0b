package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/leapstack-labs/leapviz/pkg/sqlscan"
)

// Key builds a deterministic cache key from a namespace and the
// semantically relevant parts of a request. Parts are hashed verbatim;
// normalize them first with NormalizeText or NormalizeSQL.
//
// The namespace stays readable so InvalidatePrefix(namespace+":") can drop
// a whole class of entries.
func Key(namespace string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// NormalizeText canonicalizes a natural-language question: Unicode NFKC,
// case folding, collapsed whitespace, and trailing punctuation removed.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, "?!. ")
}

// NormalizeSQL canonicalizes SQL text without changing its meaning:
// comments are dropped, whitespace between tokens collapses to one space
// and trailing semicolons go. Quoted literals and identifiers are kept
// verbatim, and case is preserved because string literals are case
// sensitive.
func NormalizeSQL(sql string) string {
	return sqlscan.Normalize(sql)
}
