// Package accessor is the runtime of generated query accessors. Generated
// methods bind their arguments and call One, Many, Exec or Batch; the
// helpers run the statement over a dialect.ExecQuerier and decode rows
// through an ordinal scan table.
//
// Accessors never retry, cache results or open transactions. Errors are
// classified into the sqlforge taxonomy and returned as is.
package accessor

import (
	"context"
	"fmt"
	"iter"

	"github.com/syssam/sqlforge"
	"github.com/syssam/sqlforge/dialect"
	"github.com/syssam/sqlforge/dialect/sql"
)

// ScanTable maps result ordinals to the fields of a row. Entry i returns
// the scan destination of column i.
type ScanTable[T any] []func(*T) any

// Dest returns the scan destinations for row.
func (t ScanTable[T]) Dest(row *T) []any {
	dest := make([]any, len(t))
	for i, f := range t {
		dest[i] = f(row)
	}
	return dest
}

func (t ScanTable[T]) scan(rows *sql.Rows, v *T) error {
	if err := rows.Scan(t.Dest(v)...); err != nil {
		return sql.ClassifyError(err)
	}
	return nil
}

// check fails when the statement returns a different number of columns
// than the table decodes, which happens when the database schema moved
// on without regenerating.
func (t ScanTable[T]) check(label string, rows *sql.Rows) error {
	cols, err := rows.Columns()
	if err != nil {
		return sql.ClassifyError(err)
	}
	if len(cols) != len(t) {
		return fmt.Errorf("accessor: %s: result has %d columns, generated code decodes %d; regenerate accessors", label, len(cols), len(t))
	}
	return nil
}

// One runs a query expected to match exactly one row. It returns a
// *sqlforge.NotFoundError when nothing matches and a
// *sqlforge.NotSingularError when more than one row does.
func One[T any](ctx context.Context, ex dialect.ExecQuerier, label, query string, args []any, table ScanTable[T]) (T, error) {
	var (
		zero T
		rows sql.Rows
	)
	if err := ex.Query(ctx, query, args, &rows); err != nil {
		return zero, sql.ClassifyError(err)
	}
	defer rows.Close()
	if err := table.check(label, &rows); err != nil {
		return zero, err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, sql.ClassifyError(err)
		}
		return zero, sqlforge.NewNotFoundError(label)
	}
	var v T
	if err := table.scan(&rows, &v); err != nil {
		return zero, err
	}
	if rows.Next() {
		return zero, sqlforge.NewNotSingularError(label)
	}
	if err := rows.Err(); err != nil {
		return zero, sql.ClassifyError(err)
	}
	return v, nil
}

// Many returns a lazy sequence over the rows of a query. The statement
// runs when the sequence is ranged over, and again on every new range.
// Breaking out of the loop closes the rows. An error ends the sequence.
func Many[T any](ctx context.Context, ex dialect.ExecQuerier, label, query string, args []any, table ScanTable[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var (
			zero T
			rows sql.Rows
		)
		if err := ex.Query(ctx, query, args, &rows); err != nil {
			yield(zero, sql.ClassifyError(err))
			return
		}
		defer rows.Close()
		if err := table.check(label, &rows); err != nil {
			yield(zero, err)
			return
		}
		for rows.Next() {
			var v T
			if err := table.scan(&rows, &v); err != nil {
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, sql.ClassifyError(err))
		}
	}
}

// Collect drains seq into a slice. It stops at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Exec runs a statement that returns no rows and reports the number of
// rows it affected.
func Exec(ctx context.Context, ex dialect.ExecQuerier, query string, args []any) (int64, error) {
	var res sql.Result
	if err := ex.Exec(ctx, query, args, &res); err != nil {
		return 0, sql.ClassifyError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sql.ClassifyError(err)
	}
	return n, nil
}
