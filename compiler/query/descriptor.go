package query

import (
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/syssam/sqlforge/compiler/catalog"
)

// Cardinality is the result shape of a query.
type Cardinality string

// Query cardinalities.
const (
	One   Cardinality = "one"
	Many  Cardinality = "many"
	Exec  Cardinality = "exec"
	Batch Cardinality = "batch"
)

// Valid reports whether c is a known cardinality.
func (c Cardinality) Valid() bool {
	switch c {
	case One, Many, Exec, Batch:
		return true
	default:
		return false
	}
}

// StatementKind is the kind of SQL statement a query runs.
type StatementKind string

// Statement kinds.
const (
	Select StatementKind = "select"
	Insert StatementKind = "insert"
	Update StatementKind = "update"
	Delete StatementKind = "delete"
)

// Package is the output of a successful compilation. It holds everything
// the emitter needs.
type Package struct {
	// Fingerprint is the catalog fingerprint the package was compiled against.
	Fingerprint string
	Models      []*Model
	Enums       []*Enum
	Files       []*File
}

// Model returns the model of the named table, or nil.
func (p *Package) Model(table string) *Model {
	for _, m := range p.Models {
		if m.Table == table {
			return m
		}
	}
	return nil
}

// Queries returns the queries of all files in order.
func (p *Package) Queries() []*Query {
	var qs []*Query
	for _, f := range p.Files {
		qs = append(qs, f.Queries...)
	}
	return qs
}

// File is a compiled query file.
type File struct {
	// Name is the base name of the source file without extension.
	Name    string
	Queries []*Query
}

// Model is the Go struct of a table row.
type Model struct {
	Name   string
	Table  string
	Fields []*Field
}

// Field is a model field.
type Field struct {
	Name     string
	Column   string
	Type     catalog.Type
	Nullable bool
	Enum     *Enum
}

// Enum is a string enum type derived from a CHECK (col IN (...)) constraint.
type Enum struct {
	Name   string
	Table  string
	Column string
	Values []string
}

// Query is the descriptor of one accessor.
type Query struct {
	Name        string
	Cardinality Cardinality
	Kind        StatementKind
	// SQL is the compiled statement. All placeholders are positional and
	// appear in the order of Binds.
	SQL    string
	Params []*Param
	Binds  []Bind
	// Result is nil for statements that return no rows.
	Result *Result
	Doc    []string
	// Risk explains why a `one` query may match more than one row.
	Risk   string
	Source string
	Pos    lexer.Position
}

// Param is an accessor parameter. Params are in placeholder order.
type Param struct {
	// Name is the SQL-level name: the placeholder name, the declared name or
	// the name of the column the placeholder is bound to.
	Name     string
	Field    string
	Type     catalog.Type
	Nullable bool
	// Optional parameters are tri-state: unset, null or a value.
	Optional bool
	Enum     *Enum
	// Column is "table.column" when the type was inferred from a column.
	Column string
	// Args is the number of positional arguments bound per occurrence.
	Args int
}

// Bind is one positional argument of the compiled SQL.
type Bind struct {
	// Param indexes Query.Params.
	Param int
	// Flag binds the "is set" flag of an optional parameter instead of its value.
	Flag bool
}

// Result describes the rows a query returns.
type Result struct {
	// Columns are in ordinal order.
	Columns []*ResultColumn
	// Groups is set for composite results: one group per table alias that
	// contributed columns.
	Groups []*Group
	// Model is set when the row is a whole table row in declaration order.
	Model *Model
}

// Composite reports whether the result is grouped by table.
func (r *Result) Composite() bool { return len(r.Groups) > 0 }

// TopLevel returns the columns that belong to no group.
func (r *Result) TopLevel() []*ResultColumn {
	var out []*ResultColumn
	for _, c := range r.Columns {
		if c.Group == nil {
			out = append(out, c)
		}
	}
	return out
}

// ResultColumn is a column of the result set.
type ResultColumn struct {
	Name     string
	Field    string
	Type     catalog.Type
	Nullable bool
	Enum     *Enum
	// Table and Column are set when the value comes straight from a table.
	Table  string
	Column string
	Group  *Group
}

// Group is the part of a composite row that comes from one table alias.
type Group struct {
	Alias string
	Table string
	Field string
	// Model is set when the group is a whole, non-nullable table row.
	Model   *Model
	Columns []*ResultColumn
}
