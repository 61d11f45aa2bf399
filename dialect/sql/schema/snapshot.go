package schema

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"
)

// Internal tables that are never part of a snapshot.
var excluded = []string{"sqlforge_*", "sqlite_*"}

type (
	// Snapshot is a comparable description of the user schema of a database.
	Snapshot struct {
		Tables []*Table
	}

	// Table describes a single table in a snapshot.
	Table struct {
		Name        string
		Columns     []*Column
		PrimaryKey  []string
		Indexes     []*Index
		ForeignKeys []*ForeignKey
	}

	// Column describes a table column.
	Column struct {
		Name     string
		Type     string
		Nullable bool
		Default  string
	}

	// Index describes a named index.
	Index struct {
		Name    string
		Unique  bool
		Columns []string
	}

	// ForeignKey describes a foreign key constraint.
	ForeignKey struct {
		Columns    []string
		RefTable   string
		RefColumns []string
		OnDelete   string
		OnUpdate   string
	}
)

// Inspect takes a snapshot of the main database behind db.
// db is usually a *sql.DB, *sql.Conn or *sql.Tx.
func Inspect(ctx context.Context, db schema.ExecQuerier) (*Snapshot, error) {
	drv, err := sqlite.Open(db)
	if err != nil {
		return nil, fmt.Errorf("schema: open inspector: %w", err)
	}
	s, err := drv.InspectSchema(ctx, "main", &schema.InspectOptions{
		Mode:    schema.InspectTables,
		Exclude: excluded,
	})
	if err != nil {
		return nil, fmt.Errorf("schema: inspect: %w", err)
	}
	return FromAtlas(s), nil
}

// FromAtlas converts an atlas schema into a snapshot.
func FromAtlas(s *schema.Schema) *Snapshot {
	snap := &Snapshot{}
	for _, t := range s.Tables {
		if isExcluded(t.Name) {
			continue
		}
		snap.Tables = append(snap.Tables, fromTable(t))
	}
	slices.SortFunc(snap.Tables, func(a, b *Table) int {
		return strings.Compare(a.Name, b.Name)
	})
	return snap
}

func fromTable(t *schema.Table) *Table {
	nt := &Table{Name: t.Name}
	for _, c := range t.Columns {
		col := &Column{Name: c.Name}
		if c.Type != nil {
			col.Type = strings.ToUpper(c.Type.Raw)
			col.Nullable = c.Type.Null
		}
		if x, ok := c.Default.(*schema.RawExpr); ok {
			col.Default = x.X
		} else if x, ok := c.Default.(*schema.Literal); ok {
			col.Default = x.V
		}
		nt.Columns = append(nt.Columns, col)
	}
	if t.PrimaryKey != nil {
		nt.PrimaryKey = partNames(t.PrimaryKey.Parts)
	}
	for _, idx := range t.Indexes {
		nt.Indexes = append(nt.Indexes, &Index{
			Name:    idx.Name,
			Unique:  idx.Unique,
			Columns: partNames(idx.Parts),
		})
	}
	slices.SortFunc(nt.Indexes, func(a, b *Index) int {
		return strings.Compare(a.Name, b.Name)
	})
	for _, fk := range t.ForeignKeys {
		nfk := &ForeignKey{
			OnDelete: string(fk.OnDelete),
			OnUpdate: string(fk.OnUpdate),
		}
		for _, c := range fk.Columns {
			nfk.Columns = append(nfk.Columns, c.Name)
		}
		if fk.RefTable != nil {
			nfk.RefTable = fk.RefTable.Name
		}
		for _, c := range fk.RefColumns {
			nfk.RefColumns = append(nfk.RefColumns, c.Name)
		}
		nt.ForeignKeys = append(nt.ForeignKeys, nfk)
	}
	slices.SortFunc(nt.ForeignKeys, func(a, b *ForeignKey) int {
		return strings.Compare(a.key(), b.key())
	})
	return nt
}

func partNames(parts []*schema.IndexPart) []string {
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.C != nil:
			names = append(names, p.C.Name)
		case p.X != nil:
			if x, ok := p.X.(*schema.RawExpr); ok {
				names = append(names, x.X)
			}
		}
	}
	return names
}

func isExcluded(name string) bool {
	return strings.HasPrefix(name, "sqlforge_") || strings.HasPrefix(name, "sqlite_")
}

// Table returns the table with the given name, or nil.
func (s *Snapshot) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// String renders the snapshot in a stable, diff friendly form.
func (s *Snapshot) String() string {
	var b strings.Builder
	for _, t := range s.Tables {
		fmt.Fprintf(&b, "table %s", t.Name)
		if len(t.PrimaryKey) > 0 {
			fmt.Fprintf(&b, " pk(%s)", strings.Join(t.PrimaryKey, ", "))
		}
		b.WriteByte('\n')
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  %s %s", c.Name, c.Type)
			if !c.Nullable {
				b.WriteString(" NOT NULL")
			}
			if c.Default != "" {
				fmt.Fprintf(&b, " DEFAULT %s", c.Default)
			}
			b.WriteByte('\n')
		}
		for _, idx := range t.Indexes {
			kind := "index"
			if idx.Unique {
				kind = "unique"
			}
			fmt.Fprintf(&b, "  %s %s(%s)\n", kind, idx.Name, strings.Join(idx.Columns, ", "))
		}
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "  fk %s\n", fk.key())
		}
	}
	return b.String()
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (fk *ForeignKey) key() string {
	s := fmt.Sprintf("(%s) -> %s(%s)", strings.Join(fk.Columns, ", "), fk.RefTable, strings.Join(fk.RefColumns, ", "))
	if fk.OnDelete != "" {
		s += " on delete " + strings.ToLower(fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		s += " on update " + strings.ToLower(fk.OnUpdate)
	}
	return s
}
