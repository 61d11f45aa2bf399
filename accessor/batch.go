package accessor

import (
	"context"

	"github.com/syssam/sqlforge"
)

// BatchResult is the outcome of one element of a batch.
type BatchResult[T any] struct {
	// Index is the position of the element in the input.
	Index int
	Value T
	Err   error
}

// Batch runs fn for every element of params in order. A failing element
// does not stop the batch; once ctx is done the remaining elements fail
// with a *sqlforge.CancelledError without running.
//
// Batch opens no transaction. Callers that need all-or-nothing semantics
// pass a transaction-bound accessor and roll back on any failure.
func Batch[P, T any](ctx context.Context, params []P, fn func(context.Context, P) (T, error)) []BatchResult[T] {
	results := make([]BatchResult[T], len(params))
	for i, p := range params {
		results[i].Index = i
		if err := ctx.Err(); err != nil {
			results[i].Err = sqlforge.NewCancelledError(err)
			continue
		}
		results[i].Value, results[i].Err = fn(ctx, p)
	}
	return results
}

// BatchErr joins the errors of a batch into a single error, or returns nil
// when every element succeeded.
func BatchErr[T any](results []BatchResult[T]) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return sqlforge.NewAggregateError(errs...)
}
