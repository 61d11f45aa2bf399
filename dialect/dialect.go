package dialect

import (
	"context"
	"strings"
)

// Dialect names for supported engines.
const (
	SQLite = "sqlite"
)

// ExecQuerier wraps the two query methods shared by drivers and transactions.
type ExecQuerier interface {
	// Exec executes a query that does not return rows. v, if not nil,
	// must be a *sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows into v, which must be a *sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for sqlforge
// to talk to an engine.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a write transaction.
	Tx(ctx context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in a transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// TriggerOrder documents how an engine orders multiple triggers that fire
// on the same event.
type TriggerOrder int

const (
	// TriggerOrderUnspecified means the engine gives no ordering guarantee.
	TriggerOrderUnspecified TriggerOrder = iota
	// TriggerOrderCreation fires triggers in the order they were created.
	TriggerOrderCreation
	// TriggerOrderReverseCreation fires the most recently created trigger first.
	TriggerOrderReverseCreation
)

// String implements fmt.Stringer.
func (o TriggerOrder) String() string {
	switch o {
	case TriggerOrderCreation:
		return "creation"
	case TriggerOrderReverseCreation:
		return "reverse-creation"
	default:
		return "unspecified"
	}
}

// TriggerTiming is the point at which a trigger fires.
type TriggerTiming string

// Trigger timings.
const (
	Before TriggerTiming = "BEFORE"
	After  TriggerTiming = "AFTER"
)

// TriggerEvent is the mutation class a trigger fires on.
type TriggerEvent string

// Trigger events.
const (
	Insert TriggerEvent = "INSERT"
	Update TriggerEvent = "UPDATE"
	Delete TriggerEvent = "DELETE"
)

// Trigger describes a row-level trigger independent of engine syntax.
// Body statements may refer to the NEW and OLD row pseudo-tables.
type Trigger struct {
	Name     string
	Table    string
	Timing   TriggerTiming
	Event    TriggerEvent
	UpdateOf []string // only for Update; empty means any column
	When     string   // optional guard expression
	Body     []string // statements, without trailing semicolons
}

// Engine is the narrow capability interface through which the migration
// engine and the derived-state maintainer reach engine specific behavior.
type Engine interface {
	// Name returns the dialect name.
	Name() string
	// TransactionalDDL reports whether DDL statements participate in
	// transactions and are rolled back with them.
	TransactionalDDL() bool
	// TriggerOrder reports how triggers on the same event are ordered.
	TriggerOrder() TriggerOrder
	// SetForeignKeys turns foreign key enforcement on or off for the
	// connection behind ex. It must not be called inside a transaction.
	SetForeignKeys(ctx context.Context, ex ExecQuerier, on bool) error
	// CheckForeignKeys reports existing rows that violate foreign keys.
	CheckForeignKeys(ctx context.Context, ex ExecQuerier) error
	// CreateTrigger renders the DDL for t.
	CreateTrigger(t *Trigger) string
	// DropTrigger renders the DDL that removes the named trigger.
	DropTrigger(name string) string
	// RaiseRollback renders an expression that fails the current statement
	// with msg and rolls back the enclosing transaction.
	RaiseRollback(msg string) string
	// InsertRollback renders the INSERT verb whose constraint failures roll
	// back the enclosing transaction instead of the statement alone.
	InsertRollback() string
	// Placeholder returns the bind placeholder for the n-th (1-based) argument.
	Placeholder(n int) string
	// ClassifyError maps an engine error onto the sqlforge error taxonomy.
	// Errors it does not recognize are returned unchanged.
	ClassifyError(err error) error
}

// QuoteIdent quotes an identifier with double quotes, doubling embedded quotes.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QuoteString quotes a string literal with single quotes.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
