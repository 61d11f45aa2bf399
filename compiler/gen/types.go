package gen

import (
	"go/token"
	"strings"
	"unicode"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/sqlforge/compiler/catalog"
	"github.com/syssam/sqlforge/compiler/query"
)

// Import paths referenced by generated code.
const (
	sqlforgePkg = "github.com/syssam/sqlforge"
	accessorPkg = "github.com/syssam/sqlforge/accessor"
	dialectPkg  = "github.com/syssam/sqlforge/dialect"
)

var builtins = map[catalog.Type]string{
	catalog.TypeInt:    "int64",
	catalog.TypeFloat:  "float64",
	catalog.TypeString: "string",
	catalog.TypeBool:   "bool",
	catalog.TypeAny:    "any",
}

// baseType returns the Go type of a non-null value.
func baseType(t catalog.Type, e *query.Enum) jen.Code {
	switch {
	case e != nil:
		return jen.Id(e.Name)
	case t == catalog.TypeTime:
		return jen.Qual("time", "Time")
	case t == catalog.TypeBytes:
		return jen.Index().Byte()
	}
	if name, ok := builtins[t]; ok {
		return jen.Id(name)
	}
	return jen.Id("any")
}

// goType returns the Go type of a value that may be NULL. NULL maps to a
// nil pointer, except for []byte and any which hold it as nil directly.
func goType(t catalog.Type, nullable bool, e *query.Enum) jen.Code {
	if !nullable {
		return baseType(t, e)
	}
	switch {
	case e != nil:
		// Id("*T") instead of Op("*") keeps struct fields aligned.
		return jen.Id("*" + e.Name)
	case t == catalog.TypeTime:
		return jen.Op("*").Qual("time", "Time")
	case t == catalog.TypeBytes:
		return jen.Index().Byte()
	}
	name, ok := builtins[t]
	if !ok || name == "any" {
		return jen.Id("any")
	}
	return jen.Id("*" + name)
}

func paramType(p *query.Param) jen.Code {
	if p.Optional {
		return jen.Qual(sqlforgePkg, "Optional").Types(baseType(p.Type, p.Enum))
	}
	return goType(p.Type, p.Nullable, p.Enum)
}

func columnType(c *query.ResultColumn) jen.Code {
	return goType(c.Type, c.Nullable, c.Enum)
}

// unexport lower-cases the leading upper-case run of an exported name,
// keeping the last letter of an acronym followed by a word: HTTPLog
// becomes httpLog.
func unexport(name string) string {
	rs := []rune(name)
	for i := range rs {
		if !unicode.IsUpper(rs[i]) {
			break
		}
		if i > 0 && i+1 < len(rs) && unicode.IsLower(rs[i+1]) {
			break
		}
		rs[i] = unicode.ToLower(rs[i])
	}
	return string(rs)
}

// reserved are identifiers generated methods use for their own locals.
var reserved = map[string]bool{"ctx": true, "q": true, "arg": true, "args": true}

// localName returns a parameter name that is a valid, unclaimed Go
// identifier.
func localName(name string) string {
	n := query.Camel(name)
	if token.IsKeyword(n) || reserved[n] || isPredeclared(n) {
		n += "Arg"
	}
	return n
}

func isPredeclared(s string) bool {
	switch s {
	case "any", "bool", "byte", "error", "float64", "int64", "len", "nil", "string", "true", "false", "new", "make", "append":
		return true
	}
	return false
}

// sqlLit renders a statement as a raw string literal when it can.
func sqlLit(s string) jen.Code {
	if strings.Contains(s, "`") {
		return jen.Lit(s)
	}
	return jen.Id("`" + s + "`")
}
