// Package catalog builds the column metadata of a database by replaying
// the up scripts of a migration store.
//
// The catalog is what the query compiler resolves identifiers and types
// against. It is built from scratch for every compiler run and never
// shared between runs.
package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Type is the Go-level type class of a column.
type Type string

// Column types.
const (
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeString Type = "string"
	TypeBytes  Type = "bytes"
	TypeBool   Type = "bool"
	TypeTime   Type = "time"
	TypeAny    Type = "any"
)

// ForeignKey is a single-column reference to another table.
type ForeignKey struct {
	Table    string `msgpack:"table"`
	Column   string `msgpack:"column"`
	OnDelete string `msgpack:"on_delete,omitempty"`
}

// Column describes a table column.
type Column struct {
	Name       string      `msgpack:"name"`
	DeclType   string      `msgpack:"decl_type"`
	Type       Type        `msgpack:"type"`
	NotNull    bool        `msgpack:"not_null"`
	PrimaryKey bool        `msgpack:"primary_key"`
	Generated  bool        `msgpack:"generated"`
	HasDefault bool        `msgpack:"has_default"`
	Unique     bool        `msgpack:"unique"`
	Enum       []string    `msgpack:"enum,omitempty"`
	References *ForeignKey `msgpack:"references,omitempty"`
}

// Nullable reports whether the column may hold NULL. Primary key columns
// are treated as NOT NULL.
func (c *Column) Nullable() bool {
	return !c.NotNull && !c.PrimaryKey
}

// Index is a named index on a table.
type Index struct {
	Name    string   `msgpack:"name"`
	Columns []string `msgpack:"columns"`
	Unique  bool     `msgpack:"unique"`
	// Partial indexes have a WHERE clause and do not make a key.
	Partial bool `msgpack:"partial"`
}

// Table describes a table. Columns are in declaration order.
type Table struct {
	Name         string     `msgpack:"name"`
	Columns      []*Column  `msgpack:"columns"`
	PrimaryKey   []string   `msgpack:"primary_key"`
	Uniques      [][]string `msgpack:"uniques"`
	Indexes      []*Index   `msgpack:"indexes"`
	WithoutRowID bool       `msgpack:"without_rowid"`
	Strict       bool       `msgpack:"strict"`
}

// Column returns the named column, ignoring case, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// Keys returns every set of columns that identifies at most one row: the
// primary key, unique constraints and non-partial unique indexes.
func (t *Table) Keys() [][]string {
	var keys [][]string
	if len(t.PrimaryKey) > 0 {
		keys = append(keys, t.PrimaryKey)
	}
	keys = append(keys, t.Uniques...)
	for _, idx := range t.Indexes {
		if idx.Unique && !idx.Partial {
			keys = append(keys, idx.Columns)
		}
	}
	return keys
}

// Catalog is the set of tables known after replaying a schema.
type Catalog struct {
	Tables []*Table `msgpack:"tables"`
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{}
}

// Table returns the named table, ignoring case, or nil.
func (c *Catalog) Table(name string) *Table {
	for _, t := range c.Tables {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

// Index returns the named index and its table.
func (c *Catalog) Index(name string) (*Table, *Index) {
	for _, t := range c.Tables {
		for _, idx := range t.Indexes {
			if strings.EqualFold(idx.Name, name) {
				return t, idx
			}
		}
	}
	return nil, nil
}

func (c *Catalog) dropTable(name string) {
	c.Tables = slices.DeleteFunc(c.Tables, func(t *Table) bool {
		return strings.EqualFold(t.Name, name)
	})
}

// Fingerprint returns a stable digest of the catalog. Generated code
// records it so stale output can be detected.
func (c *Catalog) Fingerprint() (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(c); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// Affinity derives the column type class from a declared type name. It
// follows the SQLite affinity rules, with BOOL and date names recognized
// first.
func Affinity(decl string) Type {
	d := strings.ToUpper(decl)
	if i := strings.IndexByte(d, '('); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSpace(d)
	switch d {
	case "BOOL", "BOOLEAN":
		return TypeBool
	case "DATE", "DATETIME", "TIMESTAMP":
		return TypeTime
	case "", "ANY":
		return TypeAny
	}
	switch {
	case strings.Contains(d, "INT"):
		return TypeInt
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return TypeString
	case strings.Contains(d, "BLOB"):
		return TypeBytes
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return TypeFloat
	default:
		// NUMERIC affinity.
		return TypeFloat
	}
}
