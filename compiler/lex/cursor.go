package lex

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// Cursor walks a token slice that ends with an EOF token.
type Cursor struct {
	toks []Token
	pos  int
}

// NewCursor returns a cursor at the first token.
func NewCursor(toks []Token) *Cursor {
	if len(toks) == 0 || toks[len(toks)-1].Kind != EOF {
		toks = append(toks[:len(toks):len(toks)], Token{Kind: EOF})
	}
	return &Cursor{toks: toks}
}

// Pos returns the index of the current token. It can be passed to Reset.
func (c *Cursor) Pos() int { return c.pos }

// Reset moves the cursor to a position returned by Pos.
func (c *Cursor) Reset(pos int) { c.pos = pos }

// Tokens returns the tokens between two positions.
func (c *Cursor) Tokens(from, to int) []Token { return c.toks[from:to] }

// Peek returns the current token.
func (c *Cursor) Peek() Token { return c.PeekN(0) }

// PeekN returns the token n positions ahead of the current one.
func (c *Cursor) PeekN(n int) Token {
	if i := c.pos + n; i < len(c.toks) {
		return c.toks[i]
	}
	return c.toks[len(c.toks)-1]
}

// Prev returns the token before the current one.
func (c *Cursor) Prev() Token {
	if c.pos == 0 {
		return c.toks[0]
	}
	return c.toks[c.pos-1]
}

// Next returns the current token and advances.
func (c *Cursor) Next() Token {
	t := c.Peek()
	if c.pos < len(c.toks)-1 {
		c.pos++
	}
	return t
}

// Done reports whether the cursor reached EOF.
func (c *Cursor) Done() bool { return c.Peek().Kind == EOF }

// Is reports whether the next tokens are the given words, ignoring case.
func (c *Cursor) Is(words ...string) bool {
	for i, w := range words {
		if !c.PeekN(i).Is(w) {
			return false
		}
	}
	return true
}

// Accept consumes the given words if they are next.
func (c *Cursor) Accept(words ...string) bool {
	if !c.Is(words...) {
		return false
	}
	c.pos += len(words)
	return true
}

// Expect consumes the given words or fails.
func (c *Cursor) Expect(words ...string) error {
	if !c.Accept(words...) {
		return c.Errorf("expected %s, got %s", strings.Join(words, " "), c.Peek())
	}
	return nil
}

// IsPunct reports whether the next token is the punctuation or operator p.
func (c *Cursor) IsPunct(p string) bool { return c.Peek().IsPunct(p) }

// AcceptPunct consumes p if it is next.
func (c *Cursor) AcceptPunct(p string) bool {
	if !c.IsPunct(p) {
		return false
	}
	c.Next()
	return true
}

// ExpectPunct consumes p or fails.
func (c *Cursor) ExpectPunct(p string) error {
	if !c.AcceptPunct(p) {
		return c.Errorf("expected %q, got %s", p, c.Peek())
	}
	return nil
}

// IsName reports whether the next token can be an identifier.
func (c *Cursor) IsName() bool {
	k := c.Peek().Kind
	return k == Ident || k == QuotedIdent
}

// ExpectName consumes an identifier and returns its unquoted value.
func (c *Cursor) ExpectName() (string, error) {
	if !c.IsName() {
		return "", c.Errorf("expected identifier, got %s", c.Peek())
	}
	return c.Next().Name(), nil
}

// ExpectQualifiedName consumes "name" or "schema.name" and returns the
// last part.
func (c *Cursor) ExpectQualifiedName() (string, error) {
	name, err := c.ExpectName()
	if err != nil {
		return "", err
	}
	if c.IsPunct(".") && (c.PeekN(1).Kind == Ident || c.PeekN(1).Kind == QuotedIdent) {
		c.Next()
		return c.ExpectName()
	}
	return name, nil
}

// SkipGroup skips a balanced parenthesized group. The current token must
// be "(". It returns the tokens inside the group.
func (c *Cursor) SkipGroup() ([]Token, error) {
	if err := c.ExpectPunct("("); err != nil {
		return nil, err
	}
	start := c.pos
	for depth := 1; ; {
		t := c.Next()
		switch {
		case t.Kind == EOF:
			return nil, c.Errorf("unbalanced parentheses")
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
			if depth == 0 {
				return c.toks[start : c.pos-1], nil
			}
		}
	}
}

// SkipUntil advances until one of the words or punctuation marks is next
// at parenthesis depth zero, or EOF.
func (c *Cursor) SkipUntil(stops ...string) {
	depth := 0
	for !c.Done() {
		t := c.Peek()
		if depth == 0 {
			for _, s := range stops {
				if t.Is(s) || t.IsPunct(s) {
					return
				}
			}
		}
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			if depth == 0 {
				return
			}
			depth--
		}
		c.Next()
	}
}

// Errorf returns a positioned error at the current token.
func (c *Cursor) Errorf(format string, args ...any) error {
	return &lexer.Error{Msg: fmt.Sprintf(format, args...), Pos: c.Peek().Pos}
}

// ErrorAt returns a positioned error at t.
func (c *Cursor) ErrorAt(t Token, format string, args ...any) error {
	return &lexer.Error{Msg: fmt.Sprintf(format, args...), Pos: t.Pos}
}

// Text returns the source text spanned by toks.
func Text(src string, toks []Token) string {
	if len(toks) == 0 {
		return ""
	}
	last := toks[len(toks)-1]
	if last.Kind == EOF && len(toks) > 1 {
		last = toks[len(toks)-2]
	}
	return src[toks[0].Offset():last.End]
}
