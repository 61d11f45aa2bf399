package derive

import (
	"context"
	"fmt"

	"github.com/syssam/sqlforge/dialect"
	"github.com/syssam/sqlforge/dialect/sql"
)

// Triggers implements Rule.
//
// Inserting a node adds its self-edge and one edge per ancestor of its
// parent. Moving a node detaches its subtree from the old ancestors and
// attaches it below the new parent, unless the move would create a cycle.
// Deleting a node removes every edge between its ancestors and its
// subtree, so its children become roots. A failing trigger rolls back the
// whole transaction of the triggering write.
func (c *Closure) Triggers(e dialect.Engine) []*dialect.Trigger {
	var (
		t, a, d, p  = q(c.Target), q(c.Ancestor), q(c.Descendant), q(c.Depth)
		id, parent  = q(c.ID), q(c.Parent)
		insert      = e.InsertRollback()
		subtreeOf   = func(node string) string { return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", d, t, a, node) }
		ancestorsOf = func(node string) string { return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", a, t, d, node) }
	)
	return []*dialect.Trigger{
		{
			Name:   c.Name + "_after_insert",
			Table:  c.Source,
			Timing: dialect.After,
			Event:  dialect.Insert,
			Body: []string{
				fmt.Sprintf("%s %s (%s, %s, %s) VALUES (NEW.%s, NEW.%s, 0)", insert, t, a, d, p, id, id),
				fmt.Sprintf("%[7]s %[1]s (%[2]s, %[3]s, %[4]s) SELECT c.%[2]s, NEW.%[5]s, c.%[4]s + 1 FROM %[1]s AS c WHERE c.%[3]s = NEW.%[6]s",
					t, a, d, p, id, parent, insert),
			},
		},
		{
			Name:     c.Name + "_before_update_id",
			Table:    c.Source,
			Timing:   dialect.Before,
			Event:    dialect.Update,
			UpdateOf: []string{c.ID},
			When:     fmt.Sprintf("NEW.%s IS NOT OLD.%s", id, id),
			Body:     []string{"SELECT " + e.RaiseRollback(c.Name+": node ids are immutable")},
		},
		{
			Name:     c.Name + "_before_update_parent",
			Table:    c.Source,
			Timing:   dialect.Before,
			Event:    dialect.Update,
			UpdateOf: []string{c.Parent},
			When:     fmt.Sprintf("NEW.%s IS NOT NULL AND EXISTS (SELECT 1 FROM %s WHERE %s = NEW.%s AND %s = NEW.%s)", parent, t, a, id, d, parent),
			Body:     []string{"SELECT " + e.RaiseRollback(c.Name+": moving a node below its own subtree creates a cycle")},
		},
		{
			Name:     c.Name + "_after_update_parent",
			Table:    c.Source,
			Timing:   dialect.After,
			Event:    dialect.Update,
			UpdateOf: []string{c.Parent},
			When:     fmt.Sprintf("NEW.%s IS NOT OLD.%s", parent, parent),
			Body: []string{
				fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s) AND %s NOT IN (%s)",
					t, d, subtreeOf("NEW."+id), a, subtreeOf("NEW."+id)),
				fmt.Sprintf("%[7]s %[1]s (%[2]s, %[3]s, %[4]s) SELECT up.%[2]s, down.%[3]s, up.%[4]s + down.%[4]s + 1 FROM %[1]s AS up, %[1]s AS down WHERE up.%[3]s = NEW.%[5]s AND down.%[2]s = NEW.%[6]s",
					t, a, d, p, parent, id, insert),
			},
		},
		{
			Name:   c.Name + "_after_delete",
			Table:  c.Source,
			Timing: dialect.After,
			Event:  dialect.Delete,
			Body: []string{
				fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s) AND %s IN (%s)",
					t, d, subtreeOf("OLD."+id), a, ancestorsOf("OLD."+id)),
			},
		},
	}
}

// expected renders a recursive CTE named expected(a, d, p) holding the
// closure recomputed from the source table. Depth is capped by the node
// count so a cycle already present in the data terminates.
func (c *Closure) expected() string {
	src, id, parent := q(c.Source), q(c.ID), q(c.Parent)
	return fmt.Sprintf(`WITH RECURSIVE expected(a, d, p) AS (
  SELECT %[2]s, %[2]s, 0 FROM %[1]s
  UNION
  SELECT e.a, s.%[2]s, e.p + 1 FROM expected AS e JOIN %[1]s AS s ON s.%[3]s = e.d
  WHERE e.p < (SELECT count(*) FROM %[1]s)
)`, src, id, parent)
}

func (c *Closure) verifyQuery() string {
	t, a, d, p := q(c.Target), q(c.Ancestor), q(c.Descendant), q(c.Depth)
	return fmt.Sprintf(`%[1]s
SELECT 'missing', a, d, p FROM (SELECT a, d, p FROM expected EXCEPT SELECT %[3]s, %[4]s, %[5]s FROM %[2]s)
UNION ALL
SELECT 'extra', a, d, p FROM (SELECT %[3]s AS a, %[4]s AS d, %[5]s AS p FROM %[2]s EXCEPT SELECT a, d, p FROM expected)
ORDER BY 2, 3, 4`, c.expected(), t, a, d, p)
}

func (c *Closure) verify(ctx context.Context, ex dialect.ExecQuerier) ([]Drift, error) {
	rows := &sql.Rows{}
	if err := ex.Query(ctx, c.verifyQuery(), []any{}, rows); err != nil {
		return nil, fmt.Errorf("derive: verify %s: %w", c.Name, err)
	}
	defer rows.Close()
	var drift []Drift
	for rows.Next() {
		var (
			kind  string
			a, d  any
			depth int64
		)
		if err := rows.Scan(&kind, &a, &d, &depth); err != nil {
			return nil, fmt.Errorf("derive: verify %s: %w", c.Name, err)
		}
		drift = append(drift, Drift{
			Rule:   c.Name,
			Kind:   DriftKind(kind),
			Detail: fmt.Sprintf("%v -> %v at depth %d", printable(a), printable(d), depth),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("derive: verify %s: %w", c.Name, sql.ClassifyError(err))
	}
	return drift, nil
}

func (c *Closure) rebuild(ctx context.Context, ex dialect.ExecQuerier) error {
	t, a, d, p := q(c.Target), q(c.Ancestor), q(c.Descendant), q(c.Depth)
	for _, stmt := range []string{
		"DELETE FROM " + t,
		fmt.Sprintf("%s\nINSERT INTO %s (%s, %s, %s) SELECT a, d, min(p) FROM expected GROUP BY a, d", c.expected(), t, a, d, p),
	} {
		if err := ex.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("derive: rebuild %s: %w", c.Name, err)
		}
	}
	return nil
}
