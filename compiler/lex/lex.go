// Package lex tokenizes SQL text for the schema and query parsers.
//
// The tokenizer is a participle lexer. Parsers walk the resulting tokens
// with a Cursor; they never see whitespace or comments. Every token keeps
// its byte span in the source so that parsers can slice or rewrite the
// original text.
package lex

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// SQL is the lexer definition. Rule order matters: the first rule that
// matches at a position wins.
var SQL = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*`},
	{Name: "BlockComment", Pattern: `/\*(?:[^*]|\*+[^*/])*\*+/`},
	{Name: "String", Pattern: `'(?:[^']|'')*'`},
	{Name: "Blob", Pattern: `[xX]'[0-9A-Fa-f]*'`},
	{Name: "QuotedIdent", Pattern: "\"(?:[^\"]|\"\")*\"|`(?:[^`]|``)*`|\\[[^\\]]*\\]"},
	{Name: "Number", Pattern: `0[xX][0-9A-Fa-f]+|(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?`},
	{Name: "Param", Pattern: `\?\d*|[:@$][A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Ident", Pattern: `[A-Za-z_\x{80}-\x{10FFFF}][A-Za-z0-9_$\x{80}-\x{10FFFF}]*`},
	{Name: "Operator", Pattern: `->>|->|\|\||<<|>>|<=|>=|==|!=|<>|[-+*/%&|~<>=]`},
	{Name: "Punct", Pattern: `[(),;.]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

// Kind classifies a token.
type Kind int

// Token kinds.
const (
	EOF Kind = iota
	Ident
	QuotedIdent
	String
	Number
	Blob
	Param
	Operator
	Punct
	Comment
)

var kindNames = [...]string{"EOF", "identifier", "quoted identifier", "string", "number", "blob", "parameter", "operator", "punctuation", "comment"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is a lexical token with its position and byte span.
type Token struct {
	Kind Kind
	Text string
	Pos  lexer.Position
	// End is the byte offset right after the token.
	End int
}

// Offset returns the byte offset of the token.
func (t Token) Offset() int { return t.Pos.Offset }

// Is reports whether t is the keyword or identifier word, ignoring case.
func (t Token) Is(word string) bool {
	return t.Kind == Ident && strings.EqualFold(t.Text, word)
}

// IsPunct reports whether t is the punctuation or operator p.
func (t Token) IsPunct(p string) bool {
	return (t.Kind == Punct || t.Kind == Operator) && t.Text == p
}

// Name returns the identifier value of t with quotes removed.
func (t Token) Name() string {
	if t.Kind != QuotedIdent || len(t.Text) < 2 {
		return t.Text
	}
	inner := t.Text[1 : len(t.Text)-1]
	switch t.Text[0] {
	case '"':
		return strings.ReplaceAll(inner, `""`, `"`)
	case '`':
		return strings.ReplaceAll(inner, "``", "`")
	default:
		return inner
	}
}

// Unquote returns the value of a string literal.
func (t Token) Unquote() string {
	if t.Kind != String || len(t.Text) < 2 {
		return t.Text
	}
	return strings.ReplaceAll(t.Text[1:len(t.Text)-1], "''", "'")
}

// String implements fmt.Stringer.
func (t Token) String() string {
	if t.Kind == EOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.Text)
}

var kinds = func() map[lexer.TokenType]Kind {
	sym := SQL.Symbols()
	return map[lexer.TokenType]Kind{
		sym["String"]:      String,
		sym["Blob"]:        Blob,
		sym["QuotedIdent"]: QuotedIdent,
		sym["Number"]:      Number,
		sym["Param"]:       Param,
		sym["Ident"]:       Ident,
		sym["Operator"]:    Operator,
		sym["Punct"]:       Punct,
	}
}()

// Tokenize splits src into tokens, dropping whitespace and comments. The
// returned slice always ends with an EOF token.
func Tokenize(filename, src string) ([]Token, error) {
	lx, err := SQL.LexString(filename, src)
	if err != nil {
		return nil, err
	}
	raw, err := lexer.ConsumeAll(lx)
	if err != nil {
		return nil, err
	}
	toks := make([]Token, 0, len(raw))
	for _, t := range raw {
		if t.EOF() {
			toks = append(toks, Token{Kind: EOF, Pos: t.Pos, End: t.Pos.Offset})
			continue
		}
		k, ok := kinds[t.Type]
		if !ok {
			continue
		}
		toks = append(toks, Token{Kind: k, Text: t.Value, Pos: t.Pos, End: t.Pos.Offset + len(t.Value)})
	}
	return toks, nil
}

// Comments returns the line comments of src. The query parser reads its
// directives from them.
func Comments(filename, src string) ([]Token, error) {
	lx, err := SQL.LexString(filename, src)
	if err != nil {
		return nil, err
	}
	raw, err := lexer.ConsumeAll(lx)
	if err != nil {
		return nil, err
	}
	comment := SQL.Symbols()["Comment"]
	var out []Token
	for _, t := range raw {
		if t.Type == comment {
			out = append(out, Token{Kind: Comment, Text: t.Value, Pos: t.Pos, End: t.Pos.Offset + len(t.Value)})
		}
	}
	return out, nil
}

// Statement is a single statement of a script.
type Statement struct {
	// Tokens of the statement, without the terminating semicolon, followed
	// by an EOF token.
	Tokens []Token
	// Text is the source text of the statement.
	Text string
}

// Split tokenizes src and splits it into statements on semicolons. The
// bodies of CREATE TRIGGER statements are kept whole.
func Split(filename, src string) ([]Statement, error) {
	toks, err := Tokenize(filename, src)
	if err != nil {
		return nil, err
	}
	var (
		stmts   []Statement
		start   int
		trigger bool
		inBody  bool
		cases   int
	)
	flush := func(end int) {
		if end > start {
			part := toks[start:end]
			eof := Token{Kind: EOF, Pos: toks[end].Pos, End: toks[end].Pos.Offset}
			stmts = append(stmts, Statement{
				Tokens: append(part[:len(part):len(part)], eof),
				Text:   src[part[0].Offset():part[len(part)-1].End],
			})
		}
		start = end + 1
		trigger, inBody, cases = false, false, 0
	}
	for i, t := range toks {
		switch {
		case t.Kind == EOF:
			flush(i)
		case t.IsPunct(";") && !inBody:
			flush(i)
		case i == start:
			trigger = isCreateTrigger(toks[i:])
		case trigger && t.Is("BEGIN"):
			inBody = true
		case inBody && t.Is("CASE"):
			cases++
		case inBody && t.Is("END"):
			if cases > 0 {
				cases--
			} else {
				inBody = false
			}
		}
	}
	return stmts, nil
}

func isCreateTrigger(toks []Token) bool {
	if len(toks) < 2 || !toks[0].Is("CREATE") {
		return false
	}
	i := 1
	if toks[i].Is("TEMP") || toks[i].Is("TEMPORARY") {
		i++
	}
	return i < len(toks) && toks[i].Is("TRIGGER")
}
