package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/syssam/sqlforge"
	"github.com/syssam/sqlforge/dialect"
)

// Driver is a dialect.Driver implementation for SQL based databases.
//
// A Driver serializes writers and caps concurrent readers: write
// transactions, non-transactional Exec calls and writing queries hold the
// single writer slot, and read-only Query calls hold one reader slot until
// their rows are closed.
type Driver struct {
	Conn
	dialect string
	db      *sql.DB
	engine  dialect.Engine
	slots   *slots
	log     *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithMaxReaders sets the number of concurrent reader slots. Default is 4.
func WithMaxReaders(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.slots = newSlots(n)
		}
	}
}

// WithEngine sets the engine capabilities of the driver.
func WithEngine(e dialect.Engine) Option {
	return func(d *Driver) {
		if e != nil {
			d.engine = e
		}
	}
}

// WithLogger sets the logger used for connection lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDriver creates a new Driver with the given Conn and dialect.
func NewDriver(dialect string, c Conn, opts ...Option) *Driver {
	d := &Driver{
		dialect: dialect,
		Conn:    c,
		slots:   newSlots(DefaultMaxReaders),
		engine:  SQLiteEngine{},
		log:     slog.Default(),
	}
	if db, ok := c.ExecQuerier.(*sql.DB); ok {
		d.db = db
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open wraps the database/sql.Open method and returns a Driver.
func Open(dialect, source string, opts ...Option) (*Driver, error) {
	db, err := sql.Open(dialect, source)
	if err != nil {
		return nil, ClassifyError(err)
	}
	return NewDriver(dialect, Conn{db, dialect}, opts...), nil
}

// OpenDB wraps the given database/sql.DB method with a Driver.
func OpenDB(dialect string, db *sql.DB, opts ...Option) *Driver {
	return NewDriver(dialect, Conn{db, dialect}, opts...)
}

// DB returns the underlying *sql.DB instance.
func (d *Driver) DB() *sql.DB {
	return d.db
}

// Engine returns the engine capabilities of the driver.
func (d *Driver) Engine() dialect.Engine {
	return d.engine
}

// MaxReaders returns the number of reader slots.
func (d *Driver) MaxReaders() int {
	return d.slots.maxReaders
}

// Dialect implements the dialect.Dialect method.
func (d *Driver) Dialect() string {
	// The dialect may carry a suffix when wrapped by a telemetry driver.
	if strings.HasPrefix(d.dialect, dialect.SQLite) {
		return dialect.SQLite
	}
	return d.dialect
}

// Exec executes a statement while holding the writer slot.
func (d *Driver) Exec(ctx context.Context, query string, args, v any) error {
	release, err := d.slots.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.Conn.Exec(ctx, query, args, v)
}

// Query executes a query while holding a reader slot, or the writer slot
// when the statement writes (for example INSERT ... RETURNING). The slot
// is released when the returned rows are closed.
func (d *Driver) Query(ctx context.Context, query string, args, v any) error {
	acquire := d.slots.acquireReader
	if !IsReadOnly(query) {
		acquire = d.slots.acquireWriter
	}
	release, err := acquire(ctx)
	if err != nil {
		return err
	}
	if err := d.Conn.Query(ctx, query, args, v); err != nil {
		release()
		return err
	}
	release = sync.OnceFunc(release)
	vr := v.(*Rows)
	vr.ColumnScanner = rowsWithCloser{vr.ColumnScanner, func() error { release(); return nil }}
	return nil
}

// Tx starts and returns a write transaction.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a write transaction with options. It blocks until the
// writer slot is free. Cancelling ctx rolls the transaction back and frees
// the slot.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	release, err := d.slots.acquireWriter(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		release()
		return nil, fmt.Errorf("dialect/sql: begin: %w", ClassifyError(err))
	}
	return newTx(ctx, tx, d.dialect, release), nil
}

// Exclusive acquires the writer slot and a dedicated connection. Until
// the returned ExclusiveConn is closed no other writer can proceed.
// Statements that change per-connection state (such as foreign key
// enforcement) must run on an exclusive connection.
func (d *Driver) Exclusive(ctx context.Context) (*ExclusiveConn, error) {
	release, err := d.slots.acquireWriter(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := d.db.Conn(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("dialect/sql: acquire conn: %w", ClassifyError(err))
	}
	d.log.Debug("exclusive connection acquired", "dialect", d.dialect)
	return &ExclusiveConn{
		Conn:    Conn{conn, d.dialect},
		conn:    conn,
		release: sync.OnceFunc(release),
	}, nil
}

// Ping verifies the database is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		if sqlforge.IsCancelled(err) {
			return ClassifyError(err)
		}
		return sqlforge.NewStorageError("ping", err)
	}
	return nil
}

// Close closes the underlying connection.
func (d *Driver) Close() error { return d.db.Close() }

// ExclusiveConn is a dedicated connection that holds the writer slot.
type ExclusiveConn struct {
	Conn
	conn    *sql.Conn
	release func()
}

// Tx starts a transaction on the exclusive connection.
func (c *ExclusiveConn) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: begin: %w", ClassifyError(err))
	}
	// The writer slot belongs to the connection, not to the transaction.
	return newTx(ctx, tx, c.dialect, func() {}), nil
}

// Close returns the connection to the pool and releases the writer slot.
func (c *ExclusiveConn) Close() error {
	defer c.release()
	return c.conn.Close()
}

// Tx implements dialect.Tx interface.
type Tx struct {
	Conn
	driver.Tx
	ctx     context.Context
	release func()
	stop    func() bool
}

func newTx(ctx context.Context, tx *sql.Tx, dialect string, release func()) *Tx {
	t := &Tx{
		Conn:    Conn{tx, dialect},
		Tx:      tx,
		ctx:     ctx,
		release: sync.OnceFunc(release),
	}
	// database/sql rolls the transaction back when ctx is done; make sure
	// the slot is freed as well even if the caller never calls Rollback.
	t.stop = context.AfterFunc(ctx, func() {
		_ = tx.Rollback()
		t.release()
	})
	return t
}

// Commit commits the transaction and frees the writer slot.
func (t *Tx) Commit() error {
	t.stop()
	defer t.release()
	if err := t.Tx.Commit(); err != nil {
		if cerr := t.ctx.Err(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return fmt.Errorf("dialect/sql: commit: %w", ClassifyError(err))
	}
	return nil
}

// Rollback aborts the transaction and frees the writer slot.
func (t *Tx) Rollback() error {
	t.stop()
	defer t.release()
	if err := t.Tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("dialect/sql: rollback: %w", err)
	}
	return nil
}

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.ExecQuerier given ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Exec implements the dialect.Exec method.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	switch v := v.(type) {
	case nil:
		if _, err := c.ExecContext(ctx, query, argv...); err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", ClassifyError(err))
		}
	case *sql.Result:
		res, err := c.ExecContext(ctx, query, argv...)
		if err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", ClassifyError(err))
		}
		*v = res
	default:
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	return nil
}

// Query implements the dialect.Query method.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	rows, err := c.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", ClassifyError(err))
	}
	*vr = Rows{rows}
	return nil
}

var (
	_ dialect.Driver      = (*Driver)(nil)
	_ dialect.Tx          = (*Tx)(nil)
	_ dialect.ExecQuerier = (*ExclusiveConn)(nil)
)

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// NullBool is an alias to sql.NullBool.
	NullBool = sql.NullBool
	// NullInt64 is an alias to sql.NullInt64.
	NullInt64 = sql.NullInt64
	// NullString is an alias to sql.NullString.
	NullString = sql.NullString
	// NullFloat64 is an alias to sql.NullFloat64.
	NullFloat64 = sql.NullFloat64
	// NullTime represents a time.Time that may be null.
	NullTime = sql.NullTime
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// rowsWithCloser wraps the ColumnScanner interface with a custom Close hook.
type rowsWithCloser struct {
	ColumnScanner
	closer func() error
}

// Close closes the underlying ColumnScanner and calls the custom closer.
func (r rowsWithCloser) Close() error {
	err := r.ColumnScanner.Close()
	return errors.Join(err, r.closer())
}
