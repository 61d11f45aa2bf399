package derive

import (
	"context"
	"fmt"
	"strings"

	"github.com/syssam/sqlforge/dialect"
	"github.com/syssam/sqlforge/dialect/sql"
)

// keyAlias names the parent key column of the derived key relation. It
// must not collide with a source column read by a filter.
const keyAlias = "sqlforge_key"

var q = dialect.QuoteIdent

// Triggers implements Rule. Every trigger recomputes the whole aggregate
// row of the affected parents, so running one twice is harmless. A failing
// upsert rolls back the whole transaction of the triggering write.
func (r *Rollup) Triggers(e dialect.Engine) []*dialect.Trigger {
	insert := e.InsertRollback()
	watch := []string{r.ParentKey}
	for _, a := range r.Aggregates {
		if a.Of != "" && !containsFold(watch, a.Of) {
			watch = append(watch, a.Of)
		}
	}
	for _, w := range r.Watch {
		if !containsFold(watch, w) {
			watch = append(watch, w)
		}
	}
	return []*dialect.Trigger{
		{
			Name:   r.Name + "_after_insert",
			Table:  r.Source,
			Timing: dialect.After,
			Event:  dialect.Insert,
			Body:   []string{r.recompute(insert, "NEW."+q(r.ParentKey))},
		},
		{
			Name:     r.Name + "_after_update",
			Table:    r.Source,
			Timing:   dialect.After,
			Event:    dialect.Update,
			UpdateOf: watch,
			Body: []string{
				r.recompute(insert, "OLD."+q(r.ParentKey)),
				r.recompute(insert, "NEW."+q(r.ParentKey)),
			},
		},
		{
			Name:   r.Name + "_after_delete",
			Table:  r.Source,
			Timing: dialect.After,
			Event:  dialect.Delete,
			Body:   []string{r.recompute(insert, "OLD."+q(r.ParentKey))},
		},
	}
}

// recompute renders the upsert of the aggregate row of the parent key
// expression key.
func (r *Rollup) recompute(insert, key string) string {
	return r.upsert(insert, fmt.Sprintf("(SELECT %s AS %s)", key, keyAlias))
}

// upsert renders an INSERT that recomputes the aggregate row of every key
// in keys, a relation with a single keyAlias column. insert is the verb,
// such as INSERT INTO.
func (r *Rollup) upsert(insert, keys string) string {
	cols := []string{q(r.TargetKey)}
	sets := make([]string, 0, len(r.Aggregates))
	for _, a := range r.Aggregates {
		cols = append(cols, q(a.Column))
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", q(a.Column), q(a.Column)))
	}
	return fmt.Sprintf("%s %s (%s) %s ON CONFLICT (%s) DO UPDATE SET %s",
		insert, q(r.Target), strings.Join(cols, ", "), r.aggregate(keys), q(r.TargetKey), strings.Join(sets, ", "))
}

// aggregate renders a SELECT computing every aggregate from scratch, one
// row per non-null key of keys. Keys without contributing source rows
// yield the empty aggregate: count 0, total 0.0 and NULL otherwise.
func (r *Rollup) aggregate(keys string) string {
	exprs := []string{"k." + keyAlias + " AS " + keyAlias}
	for _, a := range r.Aggregates {
		exprs = append(exprs, r.aggExpr(a)+" AS "+q(a.Column))
	}
	on := fmt.Sprintf("s.%s = k.%s", q(r.ParentKey), keyAlias)
	if r.Filter != "" {
		on += " AND (" + r.Filter + ")"
	}
	where := "k." + keyAlias + " IS NOT NULL"
	if table, col, ok := strings.Cut(r.Parent, "."); ok {
		where += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM %s WHERE %s = k.%s)", q(table), q(col), keyAlias)
	}
	return fmt.Sprintf("SELECT %s FROM %s AS k LEFT JOIN %s AS s ON %s WHERE %s GROUP BY k.%s",
		strings.Join(exprs, ", "), keys, q(r.Source), on, where, keyAlias)
}

func (r *Rollup) aggExpr(a *Aggregate) string {
	of := a.Of
	if of == "" {
		// Joined rows always carry the parent key, the unmatched row never does.
		of = r.ParentKey
	}
	return fmt.Sprintf("%s(s.%s)", a.Func, q(of))
}

// allKeys is the relation of every parent key the rollup may hold a row
// for: the keys referenced by source rows and the keys already in the
// target.
func (r *Rollup) allKeys() string {
	return fmt.Sprintf("(SELECT %s AS %s FROM %s UNION SELECT %s FROM %s)",
		q(r.ParentKey), keyAlias, q(r.Source), q(r.TargetKey), q(r.Target))
}

func (r *Rollup) rebuild(ctx context.Context, ex dialect.ExecQuerier) error {
	if err := ex.Exec(ctx, r.upsert("INSERT INTO", r.allKeys()), []any{}, nil); err != nil {
		return fmt.Errorf("derive: rebuild %s: %w", r.Name, err)
	}
	return nil
}

// verifyQuery selects the parent keys whose stored aggregate row is
// missing or differs from a recompute. Floating point aggregates are
// compared with a relative tolerance since summation order may differ.
func (r *Rollup) verifyQuery() string {
	var diff []string
	for _, a := range r.Aggregates {
		col := q(a.Column)
		switch a.Func {
		case Sum, Total, Avg:
			diff = append(diff, fmt.Sprintf("(t.%[1]s IS NULL) <> (e.%[1]s IS NULL) OR abs(t.%[1]s - e.%[1]s) > 1e-9 * max(1.0, abs(e.%[1]s))", col))
		default:
			diff = append(diff, fmt.Sprintf("t.%[1]s IS NOT e.%[1]s", col))
		}
	}
	return fmt.Sprintf("SELECT e.%[1]s, t.%[2]s IS NULL FROM (%[3]s) AS e LEFT JOIN %[4]s AS t ON t.%[2]s = e.%[1]s WHERE t.%[2]s IS NULL OR %[5]s ORDER BY e.%[1]s",
		keyAlias, q(r.TargetKey), r.aggregate(r.allKeys()), q(r.Target), strings.Join(diff, " OR "))
}

func (r *Rollup) verify(ctx context.Context, ex dialect.ExecQuerier) ([]Drift, error) {
	rows := &sql.Rows{}
	if err := ex.Query(ctx, r.verifyQuery(), []any{}, rows); err != nil {
		return nil, fmt.Errorf("derive: verify %s: %w", r.Name, err)
	}
	defer rows.Close()
	var drift []Drift
	for rows.Next() {
		var (
			key     any
			missing bool
		)
		if err := rows.Scan(&key, &missing); err != nil {
			return nil, fmt.Errorf("derive: verify %s: %w", r.Name, err)
		}
		d := Drift{Rule: r.Name, Kind: Mismatch, Detail: fmt.Sprintf("%s = %v", r.TargetKey, printable(key))}
		if missing {
			d.Kind = Missing
		}
		drift = append(drift, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("derive: verify %s: %w", r.Name, sql.ClassifyError(err))
	}
	return drift, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func printable(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
