package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/sqlforge"
	"github.com/syssam/sqlforge/dialect"
	"github.com/syssam/sqlforge/dialect/sql"
)

// Migrator applies the migrations of a Store to a database.
//
// All mutating operations run on an exclusive connection that holds the
// driver's writer slot, so at most one migration step runs at a time and
// no application write interleaves with it.
//
// Each step first commits dirty=1 for the migration it is about to run.
// The script and the clearing of the dirty flag then commit together.
// A failing step therefore leaves the state dirty and every further
// mutating operation fails with sqlforge.ErrDirtyState until Force is
// called.
type Migrator struct {
	drv    *sql.Driver
	store  *Store
	engine dialect.Engine
	log    *slog.Logger
	dryRun io.Writer
	now    func() time.Time
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger for step progress. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Migrator) {
		if l != nil {
			m.log = l
		}
	}
}

// WithDryRun makes mutating operations print the planned scripts to w
// instead of executing them. The state is not changed.
func WithDryRun(w io.Writer) Option {
	return func(m *Migrator) {
		m.dryRun = w
	}
}

// WithClock sets the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) {
		if now != nil {
			m.now = now
		}
	}
}

// New returns a Migrator for the given driver and store.
func New(drv *sql.Driver, store *Store, opts ...Option) *Migrator {
	m := &Migrator{
		drv:    drv,
		store:  store,
		engine: drv.Engine(),
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the store the migrator applies.
func (m *Migrator) Store() *Store {
	return m.store
}

// Status describes the migration state relative to the store.
type Status struct {
	Current uint64
	Dirty   bool
	Latest  uint64
	Applied []*Migration
	Pending []*Migration
	// Drifted lists applied versions whose recorded checksum differs from
	// the store.
	Drifted []uint64
	History []HistoryEntry
}

// Status reports the current state. It does not modify the database.
func (m *Migrator) Status(ctx context.Context) (*Status, error) {
	st := &Status{Latest: m.store.Latest()}
	ok, err := stateExists(ctx, m.drv)
	if err != nil {
		return nil, unavailable("status", err)
	}
	if ok {
		s, err := readState(ctx, m.drv)
		if err != nil {
			return nil, unavailable("status", err)
		}
		st.Current, st.Dirty = s.Version, s.Dirty
		if st.History, err = readHistory(ctx, m.drv); err != nil {
			return nil, unavailable("status", err)
		}
	}
	for _, mig := range m.store.migrations {
		if mig.Version <= st.Current {
			st.Applied = append(st.Applied, mig)
		} else {
			st.Pending = append(st.Pending, mig)
		}
	}
	recorded := make(map[uint64]string)
	for _, h := range st.History {
		if h.Success && h.Direction == string(sqlforge.DirectionUp) {
			recorded[h.Version] = h.Checksum
		}
	}
	for _, mig := range st.Applied {
		if sum, ok := recorded[mig.Version]; ok && sum != mig.Checksum {
			st.Drifted = append(st.Drifted, mig.Version)
		}
	}
	return st, nil
}

func unavailable(op string, err error) error {
	if sqlforge.IsCancelled(err) || sqlforge.IsStorageUnavailable(err) {
		return err
	}
	return sqlforge.NewStorageError(op, err)
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, func(s State) (uint64, error) {
		return m.store.Latest(), nil
	})
}

// Steps applies n pending migrations when n > 0, or reverts -n applied
// migrations when n < 0. Moving past either end of the store fails with
// sqlforge.ErrInvalidTarget.
func (m *Migrator) Steps(ctx context.Context, n int) error {
	return m.run(ctx, func(s State) (uint64, error) {
		if n == 0 {
			return s.Version, nil
		}
		idx, known := m.store.index(s.Version)
		if !known {
			idx = -1
			if s.Version != 0 {
				return 0, &sqlforge.InvalidTargetError{Current: s.Version, Target: s.Version, Reason: "current version is not in the store"}
			}
		}
		to := idx + n
		switch {
		case to >= len(m.store.migrations):
			return 0, &sqlforge.InvalidTargetError{Current: s.Version, Target: s.Version, Reason: fmt.Sprintf("only %d migrations are pending", len(m.store.migrations)-idx-1)}
		case to < -1:
			return 0, &sqlforge.InvalidTargetError{Current: s.Version, Target: 0, Reason: fmt.Sprintf("only %d migrations are applied", idx+1)}
		case to == -1:
			return 0, nil
		}
		return m.store.migrations[to].Version, nil
	})
}

// Down reverts all applied migrations.
func (m *Migrator) Down(ctx context.Context) error {
	return m.DownTo(ctx, 0)
}

// DownTo reverts applied migrations until version is current. version
// must be 0 or a known version not above the current one.
func (m *Migrator) DownTo(ctx context.Context, version uint64) error {
	return m.run(ctx, func(s State) (uint64, error) {
		switch {
		case !m.store.Has(version):
			return 0, &sqlforge.InvalidTargetError{Current: s.Version, Target: version, Reason: "unknown version"}
		case version > s.Version:
			return 0, &sqlforge.InvalidTargetError{Current: s.Version, Target: version, Reason: "target is ahead of the current version"}
		}
		return version, nil
	})
}

// MigrateTo applies pending migrations up to and including version. It
// never moves backwards; use DownTo for that.
func (m *Migrator) MigrateTo(ctx context.Context, version uint64) error {
	return m.run(ctx, func(s State) (uint64, error) {
		if err := m.validate(s, version); err != nil {
			return 0, err
		}
		return version, nil
	})
}

// Validate checks that version is a valid forward target for MigrateTo.
// It fails with sqlforge.ErrInvalidTarget when the state is dirty, when
// version is below the current version or when version is unknown.
func (m *Migrator) Validate(ctx context.Context, version uint64) error {
	s, err := m.readState(ctx)
	if err != nil {
		return err
	}
	return m.validate(s, version)
}

func (m *Migrator) validate(s State, version uint64) error {
	switch {
	case s.Dirty:
		return &sqlforge.InvalidTargetError{Current: s.Version, Target: version, Reason: "the migration state is dirty"}
	case version < s.Version:
		return &sqlforge.InvalidTargetError{Current: s.Version, Target: version, Reason: "target is behind the current version"}
	case !m.store.Has(version):
		return &sqlforge.InvalidTargetError{Current: s.Version, Target: version, Reason: "unknown version"}
	}
	return nil
}

func (m *Migrator) readState(ctx context.Context) (State, error) {
	ok, err := stateExists(ctx, m.drv)
	if err != nil || !ok {
		return State{}, err
	}
	return readState(ctx, m.drv)
}

// loadState reads the state on conn, creating the state tables first
// unless this is a dry run. A dry run against a fresh database sees
// version 0.
func (m *Migrator) loadState(ctx context.Context, conn *sql.ExclusiveConn) (State, error) {
	if m.dryRun == nil {
		if err := ensureState(ctx, conn); err != nil {
			return State{}, err
		}
		return readState(ctx, conn)
	}
	ok, err := stateExists(ctx, conn)
	if err != nil || !ok {
		return State{}, err
	}
	return readState(ctx, conn)
}

// Force sets the current version and clears the dirty flag without
// running any script. It is the operator's repair after a failed step.
func (m *Migrator) Force(ctx context.Context, version uint64) error {
	if !m.store.Has(version) {
		return &sqlforge.InvalidTargetError{Target: version, Reason: "unknown version"}
	}
	conn, err := m.drv.Exclusive(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	prev, err := m.loadState(ctx, conn)
	if err != nil {
		return err
	}
	if m.dryRun != nil {
		_, err := fmt.Fprintf(m.dryRun, "-- force version %d (was %d, dirty=%t)\n", version, prev.Version, prev.Dirty)
		return err
	}
	tx, err := conn.Tx(ctx)
	if err != nil {
		return err
	}
	now := m.now()
	name, sum := "", ""
	if mig, ok := m.store.Lookup(version); ok {
		name, sum = mig.Name, mig.Checksum
	}
	if err := writeState(ctx, tx, State{Version: version}); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := appendHistory(ctx, tx, HistoryEntry{
		RunID:      newRunID(),
		Version:    version,
		Name:       name,
		Direction:  directionForce,
		Checksum:   sum,
		StartedAt:  now,
		FinishedAt: now,
		Success:    true,
	}); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.log.WarnContext(ctx, "migration state forced", "version", version, "previous", prev.Version, "was_dirty", prev.Dirty)
	return nil
}

// run executes the plan from the current state to the version returned by
// target. It holds the exclusive connection for the whole run.
func (m *Migrator) run(ctx context.Context, target func(State) (uint64, error)) error {
	conn, err := m.drv.Exclusive(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	s, err := m.loadState(ctx, conn)
	if err != nil {
		return err
	}
	if s.Dirty {
		return &sqlforge.DirtyStateError{Version: s.Version}
	}
	to, err := target(s)
	if err != nil {
		return err
	}
	runID := newRunID()
	switch {
	case to > s.Version:
		for _, mig := range m.store.Between(s.Version, to) {
			if err := m.step(ctx, conn, runID, mig, sqlforge.DirectionUp, mig.Version); err != nil {
				return err
			}
		}
	case to < s.Version:
		pending := m.store.Between(to, s.Version)
		for i := len(pending) - 1; i >= 0; i-- {
			mig := pending[i]
			if err := m.step(ctx, conn, runID, mig, sqlforge.DirectionDown, m.store.Previous(mig.Version)); err != nil {
				return err
			}
		}
	default:
		m.log.InfoContext(ctx, "no migrations to run", "version", s.Version)
	}
	return nil
}

// step runs one script. version is the state after a successful step.
func (m *Migrator) step(ctx context.Context, conn *sql.ExclusiveConn, runID string, mig *Migration, dir sqlforge.Direction, version uint64) error {
	script := mig.Script(dir == sqlforge.DirectionUp)
	if m.dryRun != nil {
		_, err := fmt.Fprintf(m.dryRun, "-- %s (%s)\n%s\n", mig, dir, script)
		return err
	}
	log := m.log.With("version", mig.Version, "name", mig.Name, "direction", string(dir), "run_id", runID)
	started := m.now()
	if err := writeState(ctx, conn, State{Version: mig.Version, Dirty: true}); err != nil {
		return err
	}
	err := m.apply(ctx, conn, runID, mig, script, version)
	finished := m.now()
	if err == nil {
		log.InfoContext(ctx, "migration applied", "duration", finished.Sub(started))
		return nil
	}
	// Record the failure even if ctx is done. The dirty flag is already
	// committed and stays set.
	hctx := context.WithoutCancel(ctx)
	herr := appendHistory(hctx, conn, HistoryEntry{
		RunID:      runID,
		Version:    mig.Version,
		Name:       mig.Name,
		Direction:  string(dir),
		Checksum:   mig.Checksum,
		StartedAt:  started,
		FinishedAt: finished,
		Error:      err.Error(),
	})
	log.ErrorContext(ctx, "migration failed", "duration", finished.Sub(started), "error", err)
	if ctx.Err() != nil && !sqlforge.IsCancelled(err) {
		err = errors.Join(err, sqlforge.NewCancelledError(ctx.Err()))
	}
	merr := &sqlforge.MigrationError{
		Version:   mig.Version,
		Name:      mig.Name,
		Direction: dir,
		Cause:     err,
	}
	if herr != nil {
		return errors.Join(merr, herr)
	}
	return merr
}

// apply runs the script and the bookkeeping of a successful step.
func (m *Migrator) apply(ctx context.Context, conn *sql.ExclusiveConn, runID string, mig *Migration, script string, version uint64) (err error) {
	if mig.DisableForeignKeys {
		if err := m.engine.SetForeignKeys(ctx, conn, false); err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, m.engine.SetForeignKeys(context.WithoutCancel(ctx), conn, true))
		}()
	}
	entry := HistoryEntry{
		RunID:     runID,
		Version:   mig.Version,
		Name:      mig.Name,
		Checksum:  mig.Checksum,
		StartedAt: m.now(),
		Success:   true,
	}
	if version < mig.Version {
		entry.Direction = string(sqlforge.DirectionDown)
	} else {
		entry.Direction = string(sqlforge.DirectionUp)
	}
	if !m.engine.TransactionalDDL() {
		if err := conn.Exec(ctx, script, []any{}, nil); err != nil {
			return err
		}
		return m.finish(ctx, conn, mig, version, entry)
	}
	tx, err := conn.Tx(ctx)
	if err != nil {
		return err
	}
	if err := tx.Exec(ctx, script, []any{}, nil); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := m.finish(ctx, tx, mig, version, entry); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

func (m *Migrator) finish(ctx context.Context, ex dialect.ExecQuerier, mig *Migration, version uint64, entry HistoryEntry) error {
	if mig.DisableForeignKeys {
		if err := m.engine.CheckForeignKeys(ctx, ex); err != nil {
			return err
		}
	}
	if err := writeState(ctx, ex, State{Version: version}); err != nil {
		return err
	}
	entry.FinishedAt = m.now()
	return appendHistory(ctx, ex, entry)
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
