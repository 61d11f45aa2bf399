package sql

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/syssam/sqlforge"
	"github.com/syssam/sqlforge/dialect"
)

// SQLiteConfig configures an embedded SQLite database.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" is not supported since every
	// pooled connection would see its own database.
	Path string
	// MaxReaders caps concurrent readers. Zero means DefaultMaxReaders.
	MaxReaders int
	// BusyTimeout is how long a connection waits on a lock held by
	// another process. Zero means 5s.
	BusyTimeout time.Duration
}

// DSN returns the modernc.org/sqlite data source name for the config.
// Every connection runs in WAL mode with foreign keys enforced, and write
// transactions begin IMMEDIATE so lock upgrades cannot deadlock.
func (c SQLiteConfig) DSN() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + c.Path + "?" + q.Encode()
}

// OpenSQLite opens the database described by cfg and verifies it is reachable.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig, opts ...Option) (*Driver, error) {
	if cfg.Path == "" || cfg.Path == ":memory:" {
		return nil, fmt.Errorf("dialect/sql: sqlite path %q is not a file", cfg.Path)
	}
	readers := cfg.MaxReaders
	if readers <= 0 {
		readers = DefaultMaxReaders
	}
	drv, err := Open(dialect.SQLite, cfg.DSN(), append([]Option{WithMaxReaders(readers), WithEngine(SQLiteEngine{})}, opts...)...)
	if err != nil {
		return nil, sqlforge.NewStorageError("open", err)
	}
	// One connection per reader plus the writer.
	drv.DB().SetMaxOpenConns(readers + 1)
	if err := drv.Ping(ctx); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return drv, nil
}

// SQLiteEngine implements dialect.Engine for SQLite.
type SQLiteEngine struct{}

// Name implements dialect.Engine.
func (SQLiteEngine) Name() string { return dialect.SQLite }

// TransactionalDDL implements dialect.Engine. SQLite rolls back DDL with
// the enclosing transaction.
func (SQLiteEngine) TransactionalDDL() bool { return true }

// TriggerOrder implements dialect.Engine. SQLite keeps triggers in a list
// it prepends to, so the most recently created trigger fires first.
func (SQLiteEngine) TriggerOrder() dialect.TriggerOrder {
	return dialect.TriggerOrderReverseCreation
}

// SetForeignKeys implements dialect.Engine. The pragma is a no-op inside a
// transaction, so ex must be a connection, not a Tx.
func (SQLiteEngine) SetForeignKeys(ctx context.Context, ex dialect.ExecQuerier, on bool) error {
	v := "OFF"
	if on {
		v = "ON"
	}
	return ex.Exec(ctx, "PRAGMA foreign_keys = "+v, []any{}, nil)
}

// CheckForeignKeys implements dialect.Engine.
func (SQLiteEngine) CheckForeignKeys(ctx context.Context, ex dialect.ExecQuerier) error {
	rows := &Rows{}
	if err := ex.Query(ctx, "PRAGMA foreign_key_check", []any{}, rows); err != nil {
		return err
	}
	defer rows.Close()
	var violations []string
	for rows.Next() {
		var (
			table, parent string
			rowid         NullInt64
			fkid          int64
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("dialect/sql: scan foreign_key_check: %w", err)
		}
		violations = append(violations, fmt.Sprintf("%s(rowid=%d) -> %s", table, rowid.Int64, parent))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(violations) > 0 {
		return sqlforge.NewConstraintError(sqlforge.ConstraintForeignKey, strings.Join(violations, ", "), nil)
	}
	return nil
}

// CreateTrigger implements dialect.Engine.
func (SQLiteEngine) CreateTrigger(t *dialect.Trigger) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER IF NOT EXISTS %s %s %s", dialect.QuoteIdent(t.Name), t.Timing, t.Event)
	if t.Event == dialect.Update && len(t.UpdateOf) > 0 {
		cols := make([]string, len(t.UpdateOf))
		for i, c := range t.UpdateOf {
			cols[i] = dialect.QuoteIdent(c)
		}
		b.WriteString(" OF " + strings.Join(cols, ", "))
	}
	fmt.Fprintf(&b, " ON %s FOR EACH ROW", dialect.QuoteIdent(t.Table))
	if t.When != "" {
		b.WriteString(" WHEN " + t.When)
	}
	b.WriteString("\nBEGIN\n")
	for _, stmt := range t.Body {
		b.WriteString("  " + strings.TrimSuffix(strings.TrimSpace(stmt), ";") + ";\n")
	}
	b.WriteString("END")
	return b.String()
}

// DropTrigger implements dialect.Engine.
func (SQLiteEngine) DropTrigger(name string) string {
	return "DROP TRIGGER IF EXISTS " + dialect.QuoteIdent(name)
}

// RaiseRollback implements dialect.Engine. Outside a transaction SQLite
// treats ROLLBACK like ABORT.
func (SQLiteEngine) RaiseRollback(msg string) string {
	return "RAISE(ROLLBACK, " + dialect.QuoteString(msg) + ")"
}

// InsertRollback implements dialect.Engine.
func (SQLiteEngine) InsertRollback() string { return "INSERT OR ROLLBACK INTO" }

// Placeholder implements dialect.Engine.
func (SQLiteEngine) Placeholder(int) string { return "?" }

// ClassifyError implements dialect.Engine.
func (SQLiteEngine) ClassifyError(err error) error { return ClassifyError(err) }

var _ dialect.Engine = SQLiteEngine{}
