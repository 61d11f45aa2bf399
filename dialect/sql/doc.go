// Package sql implements dialect.Driver on top of database/sql, together
// with the SQLite engine capabilities.
//
// # Opening a database
//
//	drv, err := sql.OpenSQLite(ctx, sql.SQLiteConfig{
//	    Path:       "app.db",
//	    MaxReaders: 8,
//	})
//	if err != nil {
//	    return err
//	}
//	defer drv.Close()
//
// Every connection runs with journal_mode=WAL and foreign keys enforced.
//
// # Writers and readers
//
// The embedded engine allows a single writer at a time. The Driver models
// that with a writer slot and a capped pool of reader slots:
//
//   - Tx and BeginTx hold the writer slot until Commit or Rollback.
//   - Exec outside a transaction holds the writer slot for one statement.
//   - Query outside a transaction holds a reader slot until the rows close.
//     A writing query, such as INSERT ... RETURNING, holds the writer slot
//     instead. IsReadOnly decides which.
//   - Exclusive holds the writer slot and a dedicated connection; the
//     migration engine runs on it.
//
// Cancelling the context of a transaction rolls it back and frees the slot.
//
// # Errors
//
// Errors returned by Exec, Query and Commit pass through ClassifyError, so
// callers can use the helpers of the root package:
//
//	if sqlforge.IsConstraintError(err) { ... }
//	if sqlforge.IsCancelled(err) { ... }
package sql
