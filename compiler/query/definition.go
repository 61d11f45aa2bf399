package query

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/spf13/afero"

	"github.com/syssam/sqlforge/compiler/catalog"
	"github.com/syssam/sqlforge/compiler/lex"
)

// Source is a query file.
type Source struct {
	Name string
	Text string
}

// LoadSources reads the *.sql files of dir in name order.
func LoadSources(fsys afero.Fs, dir string) ([]Source, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading query dir %s: %w", dir, err)
	}
	var srcs []Source
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		b, err := afero.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading query file %s: %w", e.Name(), err)
		}
		srcs = append(srcs, Source{Name: e.Name(), Text: string(b)})
	}
	slices.SortFunc(srcs, func(a, b Source) int { return strings.Compare(a.Name, b.Name) })
	return srcs, nil
}

// ParamDecl is an entry of a "-- params:" line.
type ParamDecl struct {
	Name     string
	Type     catalog.Type
	Optional bool
}

// Definition is a parsed, not yet analyzed, query definition.
type Definition struct {
	Name        string
	Cardinality Cardinality
	Doc         []string
	// Params is nil when the definition has no params line.
	Params []ParamDecl
	Pos    lexer.Position
	Source string
	// Tokens of the statement, without a trailing semicolon, followed by EOF.
	Tokens []lex.Token
	// Text is the source of the whole file. Token offsets index into it.
	Text string
}

// SQL returns the statement text.
func (d *Definition) SQL() string {
	if len(d.Tokens) < 2 {
		return ""
	}
	return lex.Text(d.Text, d.Tokens)
}

var (
	nameDirective   = regexp.MustCompile(`^--\s*name\s*:`)
	nameRE          = regexp.MustCompile(`^--\s*name\s*:\s*([A-Za-z][A-Za-z0-9_]*)\s+:([A-Za-z]+)\s*$`)
	paramsDirective = regexp.MustCompile(`^--\s*params\s*:(.*)$`)
	paramRE         = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\s*:\s*([A-Za-z0-9]+))?(\?)?$`)
)

var typeNames = map[string]catalog.Type{
	"int": catalog.TypeInt, "int64": catalog.TypeInt, "integer": catalog.TypeInt,
	"float": catalog.TypeFloat, "float64": catalog.TypeFloat, "real": catalog.TypeFloat,
	"string": catalog.TypeString, "text": catalog.TypeString,
	"bytes": catalog.TypeBytes, "blob": catalog.TypeBytes,
	"bool": catalog.TypeBool, "boolean": catalog.TypeBool,
	"time": catalog.TypeTime,
	"any": catalog.TypeAny,
}

// Parse splits a query file into definitions. It reports every malformed
// definition it finds.
func Parse(src Source) ([]*Definition, []*Error) {
	toks, err := lex.Tokenize(src.Name, src.Text)
	if err != nil {
		return nil, []*Error{syntaxError("", err)}
	}
	comments, err := lex.Comments(src.Name, src.Text)
	if err != nil {
		return nil, []*Error{syntaxError("", err)}
	}

	var (
		defs []*Definition
		errs []*Error
	)
	type directive struct {
		tok lex.Token
		def *Definition
	}
	var dirs []directive
	for _, cm := range comments {
		text := strings.TrimSpace(cm.Text)
		if !nameDirective.MatchString(text) {
			continue
		}
		m := nameRE.FindStringSubmatch(text)
		if m == nil {
			errs = append(errs, &Error{Kind: KindDefinition, Pos: cm.Pos, Msg: fmt.Sprintf("malformed directive %q; want \"-- name: <Name> :<one|many|exec|batch>\"", text)})
			dirs = append(dirs, directive{tok: cm})
			continue
		}
		card := Cardinality(strings.ToLower(m[2]))
		if !card.Valid() {
			errs = append(errs, &Error{Kind: KindDefinition, Query: m[1], Pos: cm.Pos, Msg: fmt.Sprintf("unknown cardinality %q", ":"+m[2])})
			dirs = append(dirs, directive{tok: cm})
			continue
		}
		dirs = append(dirs, directive{tok: cm, def: &Definition{
			Name:        m[1],
			Cardinality: card,
			Pos:         cm.Pos,
			Source:      src.Name,
			Text:        src.Text,
		}})
	}

	if len(toks) > 1 && (len(dirs) == 0 || toks[0].Offset() < dirs[0].tok.Offset()) {
		errs = append(errs, &Error{Kind: KindDefinition, Pos: toks[0].Pos, Msg: "statement outside a query definition"})
	}

	for i, d := range dirs {
		end := len(src.Text)
		if i+1 < len(dirs) {
			end = dirs[i+1].tok.Offset()
		}
		if d.def == nil {
			continue
		}
		def := d.def
		var body []lex.Token
		for _, t := range toks {
			if t.Kind != lex.EOF && t.Offset() > d.tok.Offset() && t.Offset() < end {
				body = append(body, t)
			}
		}
		headerEnd := end
		if len(body) > 0 {
			headerEnd = body[0].Offset()
		}
		for _, cm := range comments {
			if cm.Offset() <= d.tok.Offset() || cm.Offset() >= headerEnd {
				continue
			}
			text := strings.TrimSpace(cm.Text)
			if m := paramsDirective.FindStringSubmatch(text); m != nil {
				decls, err := parseParams(m[1])
				if err != nil {
					errs = append(errs, &Error{Kind: KindDefinition, Query: def.Name, Pos: cm.Pos, Msg: err.Error()})
					continue
				}
				def.Params = decls
				continue
			}
			line := strings.TrimPrefix(text, "--")
			line = strings.TrimPrefix(line, " ")
			def.Doc = append(def.Doc, line)
		}

		for len(body) > 0 && body[len(body)-1].IsPunct(";") {
			body = body[:len(body)-1]
		}
		if len(body) == 0 {
			errs = append(errs, &Error{Kind: KindDefinition, Query: def.Name, Pos: def.Pos, Msg: "empty statement"})
			continue
		}
		if i := slices.IndexFunc(body, func(t lex.Token) bool { return t.IsPunct(";") }); i >= 0 {
			errs = append(errs, &Error{Kind: KindDefinition, Query: def.Name, Pos: body[i].Pos, Msg: "a query definition holds a single statement"})
			continue
		}
		last := body[len(body)-1]
		def.Tokens = append(body, lex.Token{Kind: lex.EOF, Pos: lexer.Position{
			Filename: last.Pos.Filename,
			Offset:   last.End,
			Line:     last.Pos.Line,
			Column:   last.Pos.Column + len(last.Text),
		}, End: last.End})
		defs = append(defs, def)
	}
	return defs, errs
}

func parseParams(list string) ([]ParamDecl, error) {
	var decls []ParamDecl
	seen := make(map[string]bool)
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("empty entry in params list %q", strings.TrimSpace(list))
		}
		m := paramRE.FindStringSubmatch(item)
		if m == nil {
			return nil, fmt.Errorf("malformed parameter %q; want name, name? or name:type", item)
		}
		d := ParamDecl{Name: m[1], Optional: m[3] == "?"}
		if m[2] != "" {
			t, ok := typeNames[strings.ToLower(m[2])]
			if !ok {
				return nil, fmt.Errorf("unknown type %q for parameter %s", m[2], m[1])
			}
			d.Type = t
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("parameter %s declared twice", d.Name)
		}
		seen[d.Name] = true
		decls = append(decls, d)
	}
	return decls, nil
}

func syntaxError(query string, err error) *Error {
	switch e := err.(type) {
	case *Error:
		if e.Query == "" {
			e.Query = query
		}
		return e
	case *lexer.Error:
		return &Error{Kind: KindSyntax, Query: query, Pos: e.Pos, Msg: e.Msg}
	default:
		return &Error{Kind: KindSyntax, Query: query, Msg: err.Error()}
	}
}
