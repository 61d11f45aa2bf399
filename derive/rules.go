package derive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/syssam/sqlforge"
	"github.com/syssam/sqlforge/compiler/catalog"
	"github.com/syssam/sqlforge/dialect"
)

// Rules is the content of a rules file.
type Rules struct {
	Rollups  []*Rollup  `yaml:"rollups"`
	Closures []*Closure `yaml:"closures"`
}

// Rollup keeps one row of aggregates per parent key in Target, recomputed
// from every Source row pointing at the parent.
type Rollup struct {
	Name string `yaml:"name"`
	// Source is the child table and ParentKey its column holding the parent key.
	Source    string `yaml:"source"`
	ParentKey string `yaml:"parent_key"`
	// Parent is the optional "table.column" the parent key references. When
	// set, no aggregate row is written for a parent that no longer exists.
	Parent string `yaml:"parent,omitempty"`
	// Target is the aggregate table. TargetKey must be its primary key or
	// a unique column.
	Target     string       `yaml:"target"`
	TargetKey  string       `yaml:"target_key"`
	Aggregates []*Aggregate `yaml:"aggregates"`
	// Filter is an SQL expression over Source columns. Rows it rejects do
	// not contribute.
	Filter string `yaml:"filter,omitempty"`
	// Watch lists additional Source columns whose updates trigger a
	// recompute, typically the columns Filter reads.
	Watch []string `yaml:"watch,omitempty"`
}

// Aggregate is one aggregate column of a rollup target.
type Aggregate struct {
	Column string `yaml:"column"`
	Func   Func   `yaml:"func"`
	// Of is the Source column aggregated. Count without Of counts rows.
	Of string `yaml:"of,omitempty"`
}

// Func is an aggregate function.
type Func string

// Aggregate functions.
const (
	Count Func = "count"
	Sum   Func = "sum"
	Total Func = "total"
	Min   Func = "min"
	Max   Func = "max"
	Avg   Func = "avg"
)

// Valid reports whether f is a known aggregate function.
func (f Func) Valid() bool {
	switch f {
	case Count, Sum, Total, Min, Max, Avg:
		return true
	default:
		return false
	}
}

// Closure keeps the transitive closure of a parent/child hierarchy in
// Target: one row per (ancestor, descendant) pair, including the depth 0
// self-edge of every node.
type Closure struct {
	Name       string `yaml:"name"`
	Source     string `yaml:"source"`
	ID         string `yaml:"id"`
	Parent     string `yaml:"parent"`
	Target     string `yaml:"target"`
	Ancestor   string `yaml:"ancestor,omitempty"`
	Descendant string `yaml:"descendant,omitempty"`
	Depth      string `yaml:"depth,omitempty"`
}

// Rule is a rollup or a closure.
type Rule interface {
	RuleName() string
	// Triggers returns the triggers maintaining the rule, in the order
	// they should fire.
	Triggers(e dialect.Engine) []*dialect.Trigger
	verify(ctx context.Context, ex dialect.ExecQuerier) ([]Drift, error)
	rebuild(ctx context.Context, ex dialect.ExecQuerier) error
}

// RuleName implements Rule.
func (r *Rollup) RuleName() string { return r.Name }

// RuleName implements Rule.
func (c *Closure) RuleName() string { return c.Name }

// All returns the rules in declaration order: rollups first, then closures.
func (rs *Rules) All() []Rule {
	all := make([]Rule, 0, len(rs.Rollups)+len(rs.Closures))
	for _, r := range rs.Rollups {
		all = append(all, r)
	}
	for _, c := range rs.Closures {
		all = append(all, c)
	}
	return all
}

// Lookup returns the named rule.
func (rs *Rules) Lookup(name string) (Rule, bool) {
	for _, r := range rs.All() {
		if r.RuleName() == name {
			return r, true
		}
	}
	return nil, false
}

// Select returns a rule set with only the named rules, in declaration order.
func (rs *Rules) Select(names ...string) (*Rules, error) {
	out := &Rules{}
	for _, n := range names {
		if _, ok := rs.Lookup(n); !ok {
			return nil, fmt.Errorf("derive: no rule named %q", n)
		}
	}
	for _, r := range rs.Rollups {
		if slices.Contains(names, r.Name) {
			out.Rollups = append(out.Rollups, r)
		}
	}
	for _, c := range rs.Closures {
		if slices.Contains(names, c.Name) {
			out.Closures = append(out.Closures, c)
		}
	}
	return out, nil
}

// Parse decodes a rules document and fills in defaults. Unknown keys are
// rejected.
func Parse(r io.Reader) (*Rules, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	rs := &Rules{}
	if err := dec.Decode(rs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("derive: decode rules: %w", err)
	}
	for _, c := range rs.Closures {
		if c.Ancestor == "" {
			c.Ancestor = "ancestor"
		}
		if c.Descendant == "" {
			c.Descendant = "descendant"
		}
		if c.Depth == "" {
			c.Depth = "depth"
		}
	}
	return rs, nil
}

// Load reads and parses the rules file at path.
func Load(fsys afero.Fs, path string) (*Rules, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("derive: read rules: %w", err)
	}
	rs, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// RuleError is a rule that does not fit the schema.
type RuleError struct {
	Rule string
	Msg  string
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	if e.Rule == "" {
		return "derive: " + e.Msg
	}
	return fmt.Sprintf("derive: rule %q: %s", e.Rule, e.Msg)
}

// Is matches sqlforge.ErrUnresolvedIdentifier.
func (e *RuleError) Is(err error) bool {
	return err == sqlforge.ErrUnresolvedIdentifier
}

// Validate checks every rule against the catalog: the tables and columns a
// rule names must exist, and a rollup target key must be unique. All
// problems are reported.
func Validate(rs *Rules, cat *catalog.Catalog) error {
	v := &validator{cat: cat, names: make(map[string]bool)}
	for _, r := range rs.Rollups {
		v.rollup(r)
	}
	for _, c := range rs.Closures {
		v.closure(c)
	}
	return sqlforge.NewAggregateError(v.errs...)
}

type validator struct {
	cat   *catalog.Catalog
	names map[string]bool
	errs  []error
	rule  string
}

func (v *validator) errorf(format string, args ...any) {
	v.errs = append(v.errs, &RuleError{Rule: v.rule, Msg: fmt.Sprintf(format, args...)})
}

func (v *validator) name(n string) {
	v.rule = n
	switch {
	case n == "":
		v.errorf("missing name")
	case strings.ContainsAny(n, " \t\n\"'`;"):
		v.errorf("name must not contain spaces, quotes or semicolons")
	case v.names[n]:
		v.errorf("duplicate rule name")
	}
	v.names[n] = true
}

func (v *validator) table(role, name string) *catalog.Table {
	if name == "" {
		v.errorf("missing %s table", role)
		return nil
	}
	t := v.cat.Table(name)
	if t == nil {
		v.errorf("%s table %q does not exist", role, name)
	}
	return t
}

func (v *validator) column(t *catalog.Table, role, name string) *catalog.Column {
	if t == nil {
		return nil
	}
	if name == "" {
		v.errorf("missing %s column", role)
		return nil
	}
	c := t.Column(name)
	if c == nil {
		v.errorf("%s column %q does not exist in %s", role, name, t.Name)
	}
	return c
}

func (v *validator) rollup(r *Rollup) {
	v.name(r.Name)
	src := v.table("source", r.Source)
	dst := v.table("target", r.Target)
	v.column(src, "parent_key", r.ParentKey)
	if v.column(dst, "target_key", r.TargetKey) != nil && !unique(dst, r.TargetKey) {
		v.errorf("target_key %q must be the primary key or a unique column of %s", r.TargetKey, dst.Name)
	}
	if src != nil && dst != nil && src.Name == dst.Name {
		v.errorf("source and target are the same table")
	}
	if r.Parent != "" {
		table, col, ok := strings.Cut(r.Parent, ".")
		if !ok {
			v.errorf("parent %q must be table.column", r.Parent)
		} else {
			v.column(v.table("parent", table), "parent", col)
		}
	}
	if len(r.Aggregates) == 0 {
		v.errorf("no aggregates")
	}
	seen := make(map[string]bool)
	for _, a := range r.Aggregates {
		v.column(dst, "aggregate", a.Column)
		if a.Column == r.TargetKey || seen[a.Column] {
			v.errorf("aggregate column %q is assigned twice", a.Column)
		}
		seen[a.Column] = true
		if !a.Func.Valid() {
			v.errorf("aggregate %q: unknown function %q", a.Column, a.Func)
		}
		if a.Of == "" && a.Func != Count {
			v.errorf("aggregate %q: %s needs an of column", a.Column, a.Func)
		}
		if a.Of != "" {
			v.column(src, "of", a.Of)
		}
	}
	for _, w := range r.Watch {
		v.column(src, "watch", w)
	}
}

func (v *validator) closure(c *Closure) {
	v.name(c.Name)
	src := v.table("source", c.Source)
	dst := v.table("target", c.Target)
	v.column(src, "id", c.ID)
	v.column(src, "parent", c.Parent)
	v.column(dst, "ancestor", c.Ancestor)
	v.column(dst, "descendant", c.Descendant)
	v.column(dst, "depth", c.Depth)
	if src != nil && dst != nil && src.Name == dst.Name {
		v.errorf("source and target are the same table")
	}
}

// unique reports whether column is a single-column key of t.
func unique(t *catalog.Table, column string) bool {
	for _, k := range t.Keys() {
		if len(k) == 1 && strings.EqualFold(k[0], column) {
			return true
		}
	}
	return false
}
