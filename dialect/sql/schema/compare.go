package schema

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single schema difference or problem.
type ValidationError struct {
	Table   string
	Column  string
	Message string
	// Breaking indicates the change can lose data.
	Breaking bool
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of a comparison or lint.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Empty reports whether no difference was found.
func (r *ValidationResult) Empty() bool {
	return !r.HasErrors() && !r.HasWarnings()
}

// HasBreakingChanges returns true if there are any breaking changes.
func (r *ValidationResult) HasBreakingChanges() bool {
	for _, e := range r.Errors {
		if e.Breaking {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Breaking {
			return true
		}
	}
	return false
}

// String returns a human-readable summary of the result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	write := func(title string, errs []*ValidationError) {
		if len(errs) == 0 {
			return
		}
		sb.WriteString(title)
		sb.WriteString(":\n")
		for _, e := range errs {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	write("Errors", r.Errors)
	write("Warnings", r.Warnings)
	if r.Empty() {
		sb.WriteString("No differences found")
	}
	return sb.String()
}

// CompareOption configures snapshot comparison.
type CompareOption func(*compareConfig)

type compareConfig struct {
	allowDropColumn    bool
	allowDropTable     bool
	allowDropIndex     bool
	allowNullToNotNull bool
}

// AllowDropColumn reports dropped columns as warnings.
func AllowDropColumn() CompareOption {
	return func(c *compareConfig) {
		c.allowDropColumn = true
	}
}

// AllowDropTable reports dropped tables as warnings.
func AllowDropTable() CompareOption {
	return func(c *compareConfig) {
		c.allowDropTable = true
	}
}

// AllowDropIndex reports dropped indexes as warnings.
func AllowDropIndex() CompareOption {
	return func(c *compareConfig) {
		c.allowDropIndex = true
	}
}

// AllowNullToNotNull reports nullable to NOT NULL changes as warnings.
func AllowNullToNotNull() CompareOption {
	return func(c *compareConfig) {
		c.allowNullToNotNull = true
	}
}

// Compare lists the differences between snapshots a and b, where b is
// the newer one. Removals and tightening changes are errors unless
// allowed by an option; everything else is a warning. Identical
// snapshots produce an empty result.
//
//	before, _ := schema.Inspect(ctx, db)
//	// migrate up and down again
//	after, _ := schema.Inspect(ctx, db)
//	if r := schema.Compare(before, after); !r.Empty() {
//	    log.Println(r)
//	}
func Compare(a, b *Snapshot, opts ...CompareOption) *ValidationResult {
	cfg := &compareConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	result := &ValidationResult{}
	for _, t := range a.Tables {
		if b.Table(t.Name) == nil {
			result.add(cfg.allowDropTable, &ValidationError{
				Table:    t.Name,
				Message:  "table dropped",
				Breaking: true,
			})
		}
	}
	for _, t := range b.Tables {
		prev := a.Table(t.Name)
		if prev == nil {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   t.Name,
				Message: "table added",
			})
			continue
		}
		compareTable(prev, t, cfg, result)
	}
	return result
}

func (r *ValidationResult) add(allowed bool, err *ValidationError) {
	if allowed {
		r.Warnings = append(r.Warnings, err)
	} else {
		r.Errors = append(r.Errors, err)
	}
}

func compareTable(a, b *Table, cfg *compareConfig, result *ValidationResult) {
	for _, c := range a.Columns {
		if b.Column(c.Name) == nil {
			result.add(cfg.allowDropColumn, &ValidationError{
				Table:    a.Name,
				Column:   c.Name,
				Message:  "column dropped",
				Breaking: true,
			})
		}
	}
	for _, c := range b.Columns {
		prev := a.Column(c.Name)
		if prev == nil {
			msg := "column added"
			if !c.Nullable && c.Default == "" {
				msg = "NOT NULL column added without default value"
			}
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   b.Name,
				Column:  c.Name,
				Message: msg,
			})
			continue
		}
		if prev.Type != c.Type {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   b.Name,
				Column:  c.Name,
				Message: fmt.Sprintf("column type changed from %q to %q", prev.Type, c.Type),
			})
		}
		switch {
		case prev.Nullable && !c.Nullable:
			result.add(cfg.allowNullToNotNull, &ValidationError{
				Table:    b.Name,
				Column:   c.Name,
				Message:  "column changed from NULL to NOT NULL",
				Breaking: true,
			})
		case !prev.Nullable && c.Nullable:
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   b.Name,
				Column:  c.Name,
				Message: "column changed from NOT NULL to NULL",
			})
		}
		if prev.Default != c.Default {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   b.Name,
				Column:  c.Name,
				Message: fmt.Sprintf("default changed from %q to %q", prev.Default, c.Default),
			})
		}
	}
	if !slices.Equal(a.PrimaryKey, b.PrimaryKey) {
		result.Errors = append(result.Errors, &ValidationError{
			Table:    b.Name,
			Message:  fmt.Sprintf("primary key changed from (%s) to (%s)", strings.Join(a.PrimaryKey, ", "), strings.Join(b.PrimaryKey, ", ")),
			Breaking: true,
		})
	}
	compareIndexes(a, b, cfg, result)
	compareForeignKeys(a, b, result)
}

func compareIndexes(a, b *Table, cfg *compareConfig, result *ValidationResult) {
	find := func(t *Table, name string) *Index {
		for _, idx := range t.Indexes {
			if idx.Name == name {
				return idx
			}
		}
		return nil
	}
	for _, idx := range a.Indexes {
		if find(b, idx.Name) == nil {
			result.add(cfg.allowDropIndex, &ValidationError{
				Table:   a.Name,
				Message: fmt.Sprintf("index %q dropped", idx.Name),
			})
		}
	}
	for _, idx := range b.Indexes {
		prev := find(a, idx.Name)
		switch {
		case prev == nil && idx.Unique:
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   b.Name,
				Message: fmt.Sprintf("unique index %q added, it may fail if duplicate values exist", idx.Name),
			})
		case prev == nil:
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   b.Name,
				Message: fmt.Sprintf("index %q added", idx.Name),
			})
		case prev.Unique != idx.Unique || !slices.Equal(prev.Columns, idx.Columns):
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   b.Name,
				Message: fmt.Sprintf("index %q changed", idx.Name),
			})
		}
	}
}

func compareForeignKeys(a, b *Table, result *ValidationResult) {
	keys := func(t *Table) []string {
		ks := make([]string, 0, len(t.ForeignKeys))
		for _, fk := range t.ForeignKeys {
			ks = append(ks, fk.key())
		}
		return ks
	}
	ak, bk := keys(a), keys(b)
	for _, k := range ak {
		if !slices.Contains(bk, k) {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   a.Name,
				Message: "foreign key dropped: " + k,
			})
		}
	}
	for _, k := range bk {
		if !slices.Contains(ak, k) {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   b.Name,
				Message: "foreign key added: " + k,
			})
		}
	}
}

// Lint reports structural problems of a single snapshot: tables without
// a primary key and foreign keys referencing unknown tables or columns.
func Lint(s *Snapshot) *ValidationResult {
	result := &ValidationResult{}
	for _, t := range s.Tables {
		if len(t.PrimaryKey) == 0 {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   t.Name,
				Message: "table has no primary key",
			})
		}
		for _, fk := range t.ForeignKeys {
			ref := s.Table(fk.RefTable)
			if ref == nil {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("foreign key references non-existent table %q", fk.RefTable),
				})
				continue
			}
			for _, c := range fk.RefColumns {
				if ref.Column(c) == nil {
					result.Errors = append(result.Errors, &ValidationError{
						Table:   t.Name,
						Message: fmt.Sprintf("foreign key references non-existent column %s.%s", fk.RefTable, c),
					})
				}
			}
		}
	}
	return result
}
