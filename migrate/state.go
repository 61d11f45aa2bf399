package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/sqlforge/dialect"
	"github.com/syssam/sqlforge/dialect/sql"
)

// Names of the bookkeeping tables.
const (
	StateTable   = "sqlforge_schema_state"
	HistoryTable = "sqlforge_schema_history"
)

const (
	createState = `CREATE TABLE IF NOT EXISTS ` + StateTable + ` (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  version INTEGER NOT NULL,
  dirty INTEGER NOT NULL
)`
	createHistory = `CREATE TABLE IF NOT EXISTS ` + HistoryTable + ` (
  id INTEGER PRIMARY KEY,
  run_id TEXT NOT NULL,
  version INTEGER NOT NULL,
  name TEXT NOT NULL,
  direction TEXT NOT NULL,
  checksum TEXT NOT NULL,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL,
  success INTEGER NOT NULL,
  error TEXT
)`
	seedState = `INSERT OR IGNORE INTO ` + StateTable + ` (id, version, dirty) VALUES (1, 0, 0)`
)

// State is the persisted migration state.
type State struct {
	Version uint64
	Dirty   bool
}

// HistoryEntry is a row of the append-only history table.
type HistoryEntry struct {
	RunID      string
	Version    uint64
	Name       string
	Direction  string
	Checksum   string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	Error      string
}

// history directions besides up and down.
const directionForce = "force"

func ensureState(ctx context.Context, ex dialect.ExecQuerier) error {
	for _, stmt := range []string{createState, createHistory, seedState} {
		if err := ex.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("creating state tables: %w", err)
		}
	}
	return nil
}

// stateExists reports whether the state table was created. It lets
// read-only callers avoid creating it.
func stateExists(ctx context.Context, ex dialect.ExecQuerier) (bool, error) {
	rows := &sql.Rows{}
	if err := ex.Query(ctx, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{StateTable}, rows); err != nil {
		return false, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
	}
	return n > 0, rows.Err()
}

func readState(ctx context.Context, ex dialect.ExecQuerier) (State, error) {
	rows := &sql.Rows{}
	if err := ex.Query(ctx, "SELECT version, dirty FROM "+StateTable+" WHERE id = 1", []any{}, rows); err != nil {
		return State{}, fmt.Errorf("reading state: %w", err)
	}
	defer rows.Close()
	var s State
	if rows.Next() {
		var dirty int
		if err := rows.Scan(&s.Version, &dirty); err != nil {
			return State{}, fmt.Errorf("reading state: %w", err)
		}
		s.Dirty = dirty != 0
	}
	return s, rows.Err()
}

func writeState(ctx context.Context, ex dialect.ExecQuerier, s State) error {
	dirty := 0
	if s.Dirty {
		dirty = 1
	}
	if err := ex.Exec(ctx, "UPDATE "+StateTable+" SET version = ?, dirty = ? WHERE id = 1", []any{s.Version, dirty}, nil); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}

func appendHistory(ctx context.Context, ex dialect.ExecQuerier, e HistoryEntry) error {
	success := 0
	if e.Success {
		success = 1
	}
	var errText any
	if e.Error != "" {
		errText = e.Error
	}
	err := ex.Exec(ctx, "INSERT INTO "+HistoryTable+
		" (run_id, version, name, direction, checksum, started_at, finished_at, success, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		[]any{
			e.RunID, e.Version, e.Name, e.Direction, e.Checksum,
			e.StartedAt.UTC().Format(time.RFC3339Nano), e.FinishedAt.UTC().Format(time.RFC3339Nano),
			success, errText,
		}, nil)
	if err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	return nil
}

func readHistory(ctx context.Context, ex dialect.ExecQuerier) ([]HistoryEntry, error) {
	rows := &sql.Rows{}
	if err := ex.Query(ctx, "SELECT run_id, version, name, direction, checksum, started_at, finished_at, success, error FROM "+
		HistoryTable+" ORDER BY id", []any{}, rows); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()
	var entries []HistoryEntry
	for rows.Next() {
		var (
			e                 HistoryEntry
			started, finished string
			success           int
			errText           sql.NullString
		)
		if err := rows.Scan(&e.RunID, &e.Version, &e.Name, &e.Direction, &e.Checksum, &started, &finished, &success, &errText); err != nil {
			return nil, fmt.Errorf("reading history: %w", err)
		}
		var err error
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("reading history: run %s: started_at: %w", e.RunID, err)
		}
		if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("reading history: run %s: finished_at: %w", e.RunID, err)
		}
		e.Success = success != 0
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
