package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/sqlforge/dialect"
)

// StmtKind tells a read statement from a write statement.
type StmtKind uint8

const (
	// KindQuery is a statement run through Query.
	KindQuery StmtKind = iota
	// KindExec is a statement run through Exec.
	KindExec
)

func (k StmtKind) String() string {
	if k == KindQuery {
		return "query"
	}
	return "exec"
}

// Statement describes one finished statement.
type Statement struct {
	Kind StmtKind
	SQL  string
	Args []any
	InTx bool
	Took time.Duration
	Err  error
}

// observer is notified around statements and transaction boundaries.
type observer interface {
	statement(ctx context.Context, s Statement)
	txEvent(ctx context.Context, event string)
}

// observed runs statements on an ExecQuerier and reports them to obs.
type observed struct {
	ex  dialect.ExecQuerier
	obs observer
	tx  bool
}

func (o observed) run(ctx context.Context, kind StmtKind, query string, args, v any) error {
	start := time.Now()
	var err error
	if kind == KindQuery {
		err = o.ex.Query(ctx, query, args, v)
	} else {
		err = o.ex.Exec(ctx, query, args, v)
	}
	argv, _ := args.([]any)
	o.obs.statement(ctx, Statement{Kind: kind, SQL: query, Args: argv, InTx: o.tx, Took: time.Since(start), Err: err})
	return err
}

// Query runs a read statement.
func (o observed) Query(ctx context.Context, query string, args, v any) error {
	return o.run(ctx, KindQuery, query, args, v)
}

// Exec runs a write statement.
func (o observed) Exec(ctx context.Context, query string, args, v any) error {
	return o.run(ctx, KindExec, query, args, v)
}

// observedTx is a transaction whose statements and outcome are observed.
type observedTx struct {
	observed
	tx dialect.Tx
}

func (t *observedTx) Commit() error {
	err := t.tx.Commit()
	t.obs.txEvent(context.Background(), "commit")
	return err
}

func (t *observedTx) Rollback() error {
	err := t.tx.Rollback()
	t.obs.txEvent(context.Background(), "rollback")
	return err
}

func beginObserved(ctx context.Context, drv *Driver, obs observer) (dialect.Tx, error) {
	obs.txEvent(ctx, "begin")
	tx, err := drv.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &observedTx{observed: observed{ex: tx, obs: obs, tx: true}, tx: tx}, nil
}

// QueryStats counts the statements seen by a StatsDriver.
type QueryStats struct {
	queries     atomic.Int64
	execs       atomic.Int64
	nanos       atomic.Int64
	slow        atomic.Int64
	errors      atomic.Int64
	constraints atomic.Int64
	commits     atomic.Int64
	rollbacks   atomic.Int64
}

func (s *QueryStats) add(st Statement, slow bool) {
	if st.Kind == KindQuery {
		s.queries.Add(1)
	} else {
		s.execs.Add(1)
	}
	s.nanos.Add(int64(st.Took))
	if slow {
		s.slow.Add(1)
	}
	if st.Err != nil {
		s.errors.Add(1)
		if IsConstraintError(st.Err) {
			s.constraints.Add(1)
		}
	}
}

// Snapshot copies the current counters.
func (s *QueryStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Queries:     s.queries.Load(),
		Execs:       s.execs.Load(),
		Duration:    time.Duration(s.nanos.Load()),
		Slow:        s.slow.Load(),
		Errors:      s.errors.Load(),
		Constraints: s.constraints.Load(),
		Commits:     s.commits.Load(),
		Rollbacks:   s.rollbacks.Load(),
	}
}

// Reset zeroes the counters.
func (s *QueryStats) Reset() {
	for _, c := range []*atomic.Int64{&s.queries, &s.execs, &s.nanos, &s.slow, &s.errors, &s.constraints, &s.commits, &s.rollbacks} {
		c.Store(0)
	}
}

// StatsSnapshot is a copy of QueryStats taken at one instant.
type StatsSnapshot struct {
	Queries     int64
	Execs       int64
	Duration    time.Duration
	Slow        int64
	Errors      int64
	Constraints int64
	Commits     int64
	Rollbacks   int64
}

// Avg is the mean statement duration.
func (s StatsSnapshot) Avg() time.Duration {
	if n := s.Queries + s.Execs; n > 0 {
		return s.Duration / time.Duration(n)
	}
	return 0
}

// LogValue implements slog.LogValuer.
func (s StatsSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("queries", s.Queries),
		slog.Int64("execs", s.Execs),
		slog.Duration("avg", s.Avg()),
		slog.Int64("slow", s.Slow),
		slog.Int64("errors", s.Errors),
		slog.Int64("constraint_violations", s.Constraints),
		slog.Int64("commits", s.Commits),
		slog.Int64("rollbacks", s.Rollbacks),
	)
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d avg=%s slow=%d errors=%d constraints=%d commits=%d rollbacks=%d",
		s.Queries, s.Execs, s.Avg(), s.Slow, s.Errors, s.Constraints, s.Commits, s.Rollbacks)
}

// SlowQueryHook receives statements slower than the configured threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, took time.Duration)

// StatsDriver counts statements and reports slow ones. Transactions
// started from it are counted too.
type StatsDriver struct {
	*Driver
	stats     *QueryStats
	threshold atomic.Int64
	hook      SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold marks statements taking longer than d as slow.
// The default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.threshold.Store(int64(d)) }
}

// WithSlowQueryHook calls hook for every slow statement.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) { s.hook = hook }
}

// WithSlowQueryLog logs slow statements on l at warn level.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	if l == nil {
		l = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, took time.Duration) {
		l.WarnContext(ctx, "slow statement", "took", took, "sql", query, "args", len(args))
	})
}

// NewStatsDriver wraps drv.
//
//	sd := sql.NewStatsDriver(drv, sql.WithSlowThreshold(50*time.Millisecond), sql.WithSlowQueryLog(logger))
//	q := db.New(sd)
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, stats: &QueryStats{}}
	s.threshold.Store(int64(100 * time.Millisecond))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the live counters.
func (d *StatsDriver) QueryStats() *QueryStats { return d.stats }

// SetSlowThreshold changes the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.threshold.Store(int64(threshold))
}

func (d *StatsDriver) statement(ctx context.Context, s Statement) {
	slow := s.Took > time.Duration(d.threshold.Load())
	d.stats.add(s, slow)
	if slow && d.hook != nil {
		d.hook(ctx, s.SQL, s.Args, s.Took)
	}
}

func (d *StatsDriver) txEvent(_ context.Context, event string) {
	switch event {
	case "commit":
		d.stats.commits.Add(1)
	case "rollback":
		d.stats.rollbacks.Add(1)
	}
}

// Query runs a read statement and counts it.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return observed{ex: d.Driver, obs: d}.Query(ctx, query, args, v)
}

// Exec runs a write statement and counts it.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return observed{ex: d.Driver, obs: d}.Exec(ctx, query, args, v)
}

// Tx starts a counted transaction.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	return beginObserved(ctx, d.Driver, d)
}

// DebugDriver logs every statement and transaction boundary at debug level.
type DebugDriver struct {
	*Driver
	log *slog.Logger
}

// NewDebugDriver wraps drv with statement logging on l.
func NewDebugDriver(drv *Driver, l *slog.Logger) *DebugDriver {
	if l == nil {
		l = slog.Default()
	}
	return &DebugDriver{Driver: drv, log: l}
}

func (d *DebugDriver) statement(ctx context.Context, s Statement) {
	attrs := []any{"sql", s.SQL, "args", s.Args, "took", s.Took}
	if s.InTx {
		attrs = append(attrs, "tx", true)
	}
	if s.Err != nil {
		attrs = append(attrs, "err", s.Err)
	}
	d.log.DebugContext(ctx, s.Kind.String(), attrs...)
}

func (d *DebugDriver) txEvent(ctx context.Context, event string) {
	d.log.DebugContext(ctx, event+" transaction")
}

// Query runs a read statement and logs it.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	return observed{ex: d.Driver, obs: d}.Query(ctx, query, args, v)
}

// Exec runs a write statement and logs it.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	return observed{ex: d.Driver, obs: d}.Exec(ctx, query, args, v)
}

// Tx starts a logged transaction.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	return beginObserved(ctx, d.Driver, d)
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*observedTx)(nil)
)
