package sql

import (
	"sync"

	"github.com/syssam/sqlforge/compiler/lex"
)

// readOnly caches the classification of statement texts. Accessors run a
// fixed set of statements, so the cache stays small.
var readOnly sync.Map // string -> bool

// IsReadOnly reports whether query only reads. SELECT, VALUES, EXPLAIN and
// PRAGMA reads qualify, and so does a WITH statement whose body is a
// SELECT. Everything else, including INSERT ... RETURNING and text that
// does not tokenize, counts as a write.
func IsReadOnly(query string) bool {
	if v, ok := readOnly.Load(query); ok {
		return v.(bool)
	}
	toks, err := lex.Tokenize("", query)
	ro := err == nil && classifyReadOnly(toks)
	readOnly.Store(query, ro)
	return ro
}

func classifyReadOnly(toks []lex.Token) bool {
	if len(toks) == 0 {
		return false
	}
	first := toks[0]
	switch {
	case first.Is("SELECT"), first.Is("VALUES"), first.Is("EXPLAIN"), first.Is("WITH"):
		return !hasWriteKeyword(toks)
	case first.Is("PRAGMA"):
		for _, t := range toks {
			if t.IsPunct("=") {
				return false
			}
		}
		return true
	}
	return false
}

// hasWriteKeyword reports a data-changing keyword anywhere in toks. The
// replace() scalar function is not one.
func hasWriteKeyword(toks []lex.Token) bool {
	for i, t := range toks {
		switch {
		case t.Is("INSERT"), t.Is("UPDATE"), t.Is("DELETE"):
			return true
		case t.Is("REPLACE") && (i+1 >= len(toks) || !toks[i+1].IsPunct("(")):
			return true
		}
	}
	return false
}
