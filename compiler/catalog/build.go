package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/syssam/sqlforge/compiler/lex"
	"github.com/syssam/sqlforge/migrate"
)

// Error is a schema replay error. It names the migration and the position
// of the offending token.
type Error struct {
	Migration string
	Pos       lexer.Position
	Msg       string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("catalog: migration %s: %d:%d: %s", e.Migration, e.Pos.Line, e.Pos.Column, e.Msg)
}

// Build replays the up scripts of the store in version order.
func Build(store *migrate.Store) (*Catalog, error) {
	c := New()
	for _, m := range store.Migrations() {
		if err := c.Apply(m.String(), m.Up); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Apply replays a single script on the catalog. name identifies the script
// in errors.
func (c *Catalog) Apply(name, script string) error {
	stmts, err := lex.Split(name, script)
	if err != nil {
		return wrapErr(name, err)
	}
	for _, s := range stmts {
		p := &parser{c: lex.NewCursor(s.Tokens), cat: c}
		if err := p.statement(); err != nil {
			return wrapErr(name, err)
		}
	}
	return nil
}

func wrapErr(name string, err error) error {
	var lerr *lexer.Error
	if errors.As(err, &lerr) {
		return &Error{Migration: name, Pos: lerr.Pos, Msg: lerr.Msg}
	}
	return fmt.Errorf("catalog: migration %s: %w", name, err)
}

type parser struct {
	c   *lex.Cursor
	cat *Catalog
}

func (p *parser) statement() error {
	c := p.c
	switch {
	case c.Is("CREATE"):
		pos := c.Pos()
		c.Next()
		c.Accept("TEMP")
		c.Accept("TEMPORARY")
		switch {
		case c.Is("TABLE"):
			return p.createTable()
		case c.Is("UNIQUE", "INDEX"), c.Is("INDEX"):
			return p.createIndex()
		default:
			// Views, triggers and virtual tables do not change columns.
			c.Reset(pos)
			return nil
		}
	case c.Is("ALTER", "TABLE"):
		return p.alterTable()
	case c.Is("DROP", "TABLE"):
		c.Accept("DROP", "TABLE")
		exists := c.Accept("IF", "EXISTS")
		name, err := c.ExpectQualifiedName()
		if err != nil {
			return err
		}
		if p.cat.Table(name) == nil {
			if exists {
				return nil
			}
			return c.ErrorAt(c.Prev(), "no such table %q", name)
		}
		p.cat.dropTable(name)
		return nil
	case c.Is("DROP", "INDEX"):
		c.Accept("DROP", "INDEX")
		exists := c.Accept("IF", "EXISTS")
		name, err := c.ExpectQualifiedName()
		if err != nil {
			return err
		}
		t, _ := p.cat.Index(name)
		if t == nil {
			if exists {
				return nil
			}
			return c.ErrorAt(c.Prev(), "no such index %q", name)
		}
		t.Indexes = slices.DeleteFunc(t.Indexes, func(idx *Index) bool {
			return strings.EqualFold(idx.Name, name)
		})
		return nil
	default:
		return nil
	}
}

func (p *parser) createTable() error {
	c := p.c
	if err := c.Expect("TABLE"); err != nil {
		return err
	}
	exists := c.Accept("IF", "NOT", "EXISTS")
	name, err := c.ExpectQualifiedName()
	if err != nil {
		return err
	}
	if p.cat.Table(name) != nil {
		if exists {
			return nil
		}
		return c.ErrorAt(c.Prev(), "table %q already exists", name)
	}
	if c.Is("AS") {
		return c.Errorf("CREATE TABLE ... AS SELECT is not supported")
	}
	t := &Table{Name: name}
	if err := c.ExpectPunct("("); err != nil {
		return err
	}
	for {
		if isTableConstraint(c) {
			if err := p.tableConstraint(t); err != nil {
				return err
			}
		} else {
			col, err := p.columnDef(t)
			if err != nil {
				return err
			}
			if t.Column(col.Name) != nil {
				return c.Errorf("duplicate column %q", col.Name)
			}
			t.Columns = append(t.Columns, col)
		}
		if c.AcceptPunct(")") {
			break
		}
		if err := c.ExpectPunct(","); err != nil {
			return err
		}
	}
	for !c.Done() {
		switch {
		case c.Accept("WITHOUT", "ROWID"):
			t.WithoutRowID = true
		case c.Accept("STRICT"):
			t.Strict = true
		case c.AcceptPunct(","):
		default:
			return c.Errorf("unexpected %s after table definition", c.Peek())
		}
	}
	for _, name := range t.PrimaryKey {
		col := t.Column(name)
		if col == nil {
			return c.Errorf("primary key references unknown column %q", name)
		}
		col.PrimaryKey = true
	}
	for _, key := range t.Uniques {
		for _, name := range key {
			if t.Column(name) == nil {
				return c.Errorf("unique constraint references unknown column %q", name)
			}
		}
	}
	p.cat.Tables = append(p.cat.Tables, t)
	return nil
}

var columnConstraintStart = []string{
	"CONSTRAINT", "PRIMARY", "NOT", "NULL", "UNIQUE", "CHECK", "DEFAULT",
	"COLLATE", "REFERENCES", "GENERATED", "AS",
}

func isTableConstraint(c *lex.Cursor) bool {
	return c.Is("CONSTRAINT") || c.Is("PRIMARY", "KEY") || c.Is("UNIQUE") && c.PeekN(1).IsPunct("(") ||
		c.Is("CHECK") || c.Is("FOREIGN", "KEY")
}

func (p *parser) columnDef(t *Table) (*Column, error) {
	c := p.c
	name, err := c.ExpectName()
	if err != nil {
		return nil, err
	}
	col := &Column{Name: name}
	var words []string
typeName:
	for c.Peek().Kind == lex.Ident {
		for _, kw := range columnConstraintStart {
			if c.Is(kw) {
				break typeName
			}
		}
		words = append(words, strings.ToUpper(c.Next().Text))
	}
	col.DeclType = strings.Join(words, " ")
	if c.IsPunct("(") {
		inner, err := c.SkipGroup()
		if err != nil {
			return nil, err
		}
		var args []string
		for _, tk := range inner {
			args = append(args, tk.Text)
		}
		col.DeclType += "(" + strings.Join(args, "") + ")"
	}
	col.Type = Affinity(col.DeclType)
	for !c.Done() && !c.IsPunct(",") && !c.IsPunct(")") {
		if err := p.columnConstraint(t, col); err != nil {
			return nil, err
		}
	}
	if col.PrimaryKey {
		t.PrimaryKey = []string{col.Name}
		if strings.EqualFold(col.DeclType, "INTEGER") {
			col.NotNull = true
		}
	}
	return col, nil
}

func (p *parser) columnConstraint(t *Table, col *Column) error {
	c := p.c
	switch {
	case c.Accept("CONSTRAINT"):
		_, err := c.ExpectName()
		return err
	case c.Accept("PRIMARY", "KEY"):
		if len(t.PrimaryKey) > 0 {
			return c.Errorf("table %q has more than one primary key", t.Name)
		}
		col.PrimaryKey = true
		_ = c.Accept("ASC") || c.Accept("DESC")
		if err := conflictClause(c); err != nil {
			return err
		}
		c.Accept("AUTOINCREMENT")
	case c.Accept("NOT", "NULL"):
		col.NotNull = true
		return conflictClause(c)
	case c.Accept("NULL"):
		return conflictClause(c)
	case c.Accept("UNIQUE"):
		col.Unique = true
		t.Uniques = append(t.Uniques, []string{col.Name})
		return conflictClause(c)
	case c.Accept("CHECK"):
		toks, err := c.SkipGroup()
		if err != nil {
			return err
		}
		if enum := enumCheck(toks, col.Name); enum != nil {
			col.Enum = enum
		}
	case c.Accept("DEFAULT"):
		col.HasDefault = true
		if c.IsPunct("(") {
			_, err := c.SkipGroup()
			return err
		}
		c.AcceptPunct("-")
		c.AcceptPunct("+")
		if c.Done() {
			return c.Errorf("expected default value")
		}
		c.Next()
	case c.Accept("COLLATE"):
		_, err := c.ExpectName()
		return err
	case c.Accept("REFERENCES"):
		fk, err := p.references()
		if err != nil {
			return err
		}
		if fk.Column == "" {
			fk.Column = "id"
			if ref := p.cat.Table(fk.Table); ref != nil && len(ref.PrimaryKey) == 1 {
				fk.Column = ref.PrimaryKey[0]
			}
		}
		col.References = fk
	case c.Is("GENERATED"), c.Is("AS"):
		c.Accept("GENERATED", "ALWAYS")
		if err := c.Expect("AS"); err != nil {
			return err
		}
		if _, err := c.SkipGroup(); err != nil {
			return err
		}
		_ = c.Accept("STORED") || c.Accept("VIRTUAL")
		col.Generated = true
	default:
		return c.Errorf("unexpected %s in definition of column %q", c.Peek(), col.Name)
	}
	return nil
}

func conflictClause(c *lex.Cursor) error {
	if !c.Accept("ON", "CONFLICT") {
		return nil
	}
	for _, w := range []string{"ROLLBACK", "ABORT", "FAIL", "IGNORE", "REPLACE"} {
		if c.Accept(w) {
			return nil
		}
	}
	return c.Errorf("expected conflict resolution, got %s", c.Peek())
}

// references parses the rest of a REFERENCES clause. The column is empty
// when the clause names no column.
func (p *parser) references() (*ForeignKey, error) {
	c := p.c
	table, err := c.ExpectName()
	if err != nil {
		return nil, err
	}
	fk := &ForeignKey{Table: table}
	if c.IsPunct("(") {
		cols, err := p.nameList()
		if err != nil {
			return nil, err
		}
		if len(cols) > 0 {
			fk.Column = cols[0]
		}
	}
	for {
		switch {
		case c.Accept("ON", "DELETE"):
			fk.OnDelete = refAction(c)
		case c.Accept("ON", "UPDATE"):
			refAction(c)
		case c.Accept("MATCH"):
			c.Next()
		case c.Accept("NOT", "DEFERRABLE"), c.Accept("DEFERRABLE"):
			_ = c.Accept("INITIALLY", "DEFERRED") || c.Accept("INITIALLY", "IMMEDIATE")
		default:
			return fk, nil
		}
	}
}

func refAction(c *lex.Cursor) string {
	for _, a := range [][]string{{"SET", "NULL"}, {"SET", "DEFAULT"}, {"CASCADE"}, {"RESTRICT"}, {"NO", "ACTION"}} {
		if c.Accept(a...) {
			return strings.Join(a, " ")
		}
	}
	return ""
}

// nameList parses "(a [COLLATE x] [ASC|DESC], ...)" and returns the names.
// Expression items are rejected.
func (p *parser) nameList() ([]string, error) {
	c := p.c
	if err := c.ExpectPunct("("); err != nil {
		return nil, err
	}
	var names []string
	for {
		name, err := c.ExpectName()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if c.Accept("COLLATE") {
			if _, err := c.ExpectName(); err != nil {
				return nil, err
			}
		}
		_ = c.Accept("ASC") || c.Accept("DESC")
		if c.AcceptPunct(")") {
			return names, nil
		}
		if err := c.ExpectPunct(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) tableConstraint(t *Table) error {
	c := p.c
	if c.Accept("CONSTRAINT") {
		if _, err := c.ExpectName(); err != nil {
			return err
		}
	}
	switch {
	case c.Accept("PRIMARY", "KEY"):
		if len(t.PrimaryKey) > 0 {
			return c.Errorf("table %q has more than one primary key", t.Name)
		}
		cols, err := p.nameList()
		if err != nil {
			return err
		}
		t.PrimaryKey = cols
		return conflictClause(c)
	case c.Accept("UNIQUE"):
		cols, err := p.nameList()
		if err != nil {
			return err
		}
		t.Uniques = append(t.Uniques, cols)
		if len(cols) == 1 {
			if col := t.Column(cols[0]); col != nil {
				col.Unique = true
			}
		}
		return conflictClause(c)
	case c.Accept("CHECK"):
		toks, err := c.SkipGroup()
		if err != nil {
			return err
		}
		for _, col := range t.Columns {
			if enum := enumCheck(toks, col.Name); enum != nil {
				col.Enum = enum
			}
		}
		return nil
	case c.Accept("FOREIGN", "KEY"):
		cols, err := p.nameList()
		if err != nil {
			return err
		}
		if err := c.Expect("REFERENCES"); err != nil {
			return err
		}
		fk, err := p.references()
		if err != nil {
			return err
		}
		if len(cols) == 1 {
			col := t.Column(cols[0])
			if col == nil {
				return c.Errorf("foreign key references unknown column %q", cols[0])
			}
			if fk.Column == "" {
				fk.Column = "id"
			}
			col.References = fk
		}
		return nil
	default:
		return c.Errorf("unexpected %s in table constraint", c.Peek())
	}
}

// enumCheck recognizes "col IN ('a', 'b', ...)" and returns the values.
func enumCheck(toks []lex.Token, column string) []string {
	if len(toks) < 4 {
		return nil
	}
	first := toks[0]
	if first.Kind != lex.Ident && first.Kind != lex.QuotedIdent || !strings.EqualFold(first.Name(), column) {
		return nil
	}
	if !toks[1].Is("IN") || !toks[2].IsPunct("(") || !toks[len(toks)-1].IsPunct(")") {
		return nil
	}
	var values []string
	for i, tk := range toks[3 : len(toks)-1] {
		switch {
		case i%2 == 0 && tk.Kind == lex.String:
			values = append(values, tk.Unquote())
		case i%2 == 1 && tk.IsPunct(","):
		default:
			return nil
		}
	}
	return values
}

func (p *parser) createIndex() error {
	c := p.c
	unique := c.Accept("UNIQUE")
	if err := c.Expect("INDEX"); err != nil {
		return err
	}
	exists := c.Accept("IF", "NOT", "EXISTS")
	name, err := c.ExpectQualifiedName()
	if err != nil {
		return err
	}
	if err := c.Expect("ON"); err != nil {
		return err
	}
	table, err := c.ExpectName()
	if err != nil {
		return err
	}
	t := p.cat.Table(table)
	if t == nil {
		return c.ErrorAt(c.Prev(), "no such table %q", table)
	}
	if other, _ := p.cat.Index(name); other != nil {
		if exists {
			return nil
		}
		return c.ErrorAt(c.Prev(), "index %q already exists", name)
	}
	idx := &Index{Name: name, Unique: unique}
	pos := c.Pos()
	cols, err := p.nameList()
	if err != nil {
		// Expression indexes carry no column key.
		c.Reset(pos)
		if _, err := c.SkipGroup(); err != nil {
			return err
		}
		idx.Unique = false
	}
	for _, col := range cols {
		if t.Column(col) == nil {
			return c.Errorf("index %q references unknown column %q", name, col)
		}
	}
	idx.Columns = cols
	if c.Accept("WHERE") {
		idx.Partial = true
	}
	t.Indexes = append(t.Indexes, idx)
	return nil
}

func (p *parser) alterTable() error {
	c := p.c
	if err := c.Expect("ALTER", "TABLE"); err != nil {
		return err
	}
	name, err := c.ExpectQualifiedName()
	if err != nil {
		return err
	}
	t := p.cat.Table(name)
	if t == nil {
		return c.ErrorAt(c.Prev(), "no such table %q", name)
	}
	switch {
	case c.Accept("RENAME", "TO"):
		to, err := c.ExpectName()
		if err != nil {
			return err
		}
		if p.cat.Table(to) != nil {
			return c.ErrorAt(c.Prev(), "table %q already exists", to)
		}
		for _, other := range p.cat.Tables {
			for _, col := range other.Columns {
				if col.References != nil && strings.EqualFold(col.References.Table, t.Name) {
					col.References.Table = to
				}
			}
		}
		t.Name = to
	case c.Is("RENAME"):
		c.Next()
		c.Accept("COLUMN")
		from, err := c.ExpectName()
		if err != nil {
			return err
		}
		if err := c.Expect("TO"); err != nil {
			return err
		}
		to, err := c.ExpectName()
		if err != nil {
			return err
		}
		col := t.Column(from)
		if col == nil {
			return c.Errorf("no such column %q in table %q", from, t.Name)
		}
		if t.Column(to) != nil {
			return c.Errorf("duplicate column %q", to)
		}
		renameIn := func(names []string) {
			for i, n := range names {
				if strings.EqualFold(n, from) {
					names[i] = to
				}
			}
		}
		renameIn(t.PrimaryKey)
		for _, u := range t.Uniques {
			renameIn(u)
		}
		for _, idx := range t.Indexes {
			renameIn(idx.Columns)
		}
		for _, other := range p.cat.Tables {
			for _, oc := range other.Columns {
				if fk := oc.References; fk != nil && strings.EqualFold(fk.Table, t.Name) && strings.EqualFold(fk.Column, from) {
					fk.Column = to
				}
			}
		}
		col.Name = to
	case c.Is("ADD"):
		c.Next()
		c.Accept("COLUMN")
		col, err := p.columnDef(t)
		if err != nil {
			return err
		}
		if t.Column(col.Name) != nil {
			return c.Errorf("duplicate column %q", col.Name)
		}
		if col.PrimaryKey || col.Unique {
			return c.Errorf("cannot add a PRIMARY KEY or UNIQUE column")
		}
		t.Columns = append(t.Columns, col)
	case c.Is("DROP"):
		c.Next()
		c.Accept("COLUMN")
		name, err := c.ExpectName()
		if err != nil {
			return err
		}
		col := t.Column(name)
		if col == nil {
			return c.Errorf("no such column %q in table %q", name, t.Name)
		}
		if col.PrimaryKey || col.Unique {
			return c.Errorf("cannot drop PRIMARY KEY or UNIQUE column %q", name)
		}
		for _, idx := range t.Indexes {
			if slices.ContainsFunc(idx.Columns, func(n string) bool { return strings.EqualFold(n, name) }) {
				return c.Errorf("cannot drop column %q: it is indexed by %q", name, idx.Name)
			}
		}
		t.Columns = slices.DeleteFunc(t.Columns, func(c *Column) bool { return c == col })
	default:
		return c.Errorf("unsupported ALTER TABLE action %s", c.Peek())
	}
	return nil
}
