package derive

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/syssam/sqlforge/dialect"
)

// DriftKind classifies a Drift.
type DriftKind string

// Drift kinds.
const (
	// Missing is a row a recompute produces that the target lacks.
	Missing DriftKind = "missing"
	// Extra is a target row a recompute does not produce.
	Extra DriftKind = "extra"
	// Mismatch is a target row whose values differ from a recompute.
	Mismatch DriftKind = "mismatch"
)

// Drift is a difference between a target table and a from-scratch
// recompute of its rule.
type Drift struct {
	Rule   string
	Kind   DriftKind
	Detail string
}

// String implements fmt.Stringer.
func (d Drift) String() string {
	return fmt.Sprintf("%s: %s %s", d.Rule, d.Kind, d.Detail)
}

// Triggers returns the triggers of every rule in creation order. Rules fire
// in declaration order on engines that order triggers by creation.
func Triggers(e dialect.Engine, rs *Rules) []*dialect.Trigger {
	var ts []*dialect.Trigger
	for _, r := range rs.All() {
		ts = append(ts, r.Triggers(e)...)
	}
	if e.TriggerOrder() == dialect.TriggerOrderReverseCreation {
		slices.Reverse(ts)
	}
	return ts
}

// Render returns the trigger DDL of rs as a migration pair. The down
// script drops the triggers in reverse creation order.
func Render(e dialect.Engine, rs *Rules) (up, down string) {
	ts := Triggers(e, rs)
	ups := make([]string, len(ts))
	downs := make([]string, len(ts))
	for i, t := range ts {
		ups[i] = e.CreateTrigger(t) + ";\n"
		downs[len(ts)-1-i] = e.DropTrigger(t.Name) + ";\n"
	}
	return strings.Join(ups, "\n"), strings.Join(downs, "")
}

// Option configures Install and Uninstall.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger used to report installed triggers.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Install creates the triggers of rs. Run it inside a transaction so a
// failure leaves no partial rule set behind.
func Install(ctx context.Context, ex dialect.ExecQuerier, e dialect.Engine, rs *Rules, opts ...Option) error {
	o := newOptions(opts)
	for _, t := range Triggers(e, rs) {
		if err := ex.Exec(ctx, e.CreateTrigger(t), []any{}, nil); err != nil {
			return fmt.Errorf("derive: create trigger %s: %w", t.Name, err)
		}
		o.log.DebugContext(ctx, "created trigger", "trigger", t.Name, "table", t.Table)
	}
	return nil
}

// Uninstall drops the triggers of rs. Missing triggers are ignored.
func Uninstall(ctx context.Context, ex dialect.ExecQuerier, e dialect.Engine, rs *Rules, opts ...Option) error {
	o := newOptions(opts)
	ts := Triggers(e, rs)
	for i := len(ts) - 1; i >= 0; i-- {
		if err := ex.Exec(ctx, e.DropTrigger(ts[i].Name), []any{}, nil); err != nil {
			return fmt.Errorf("derive: drop trigger %s: %w", ts[i].Name, err)
		}
		o.log.DebugContext(ctx, "dropped trigger", "trigger", ts[i].Name)
	}
	return nil
}

// Verify recomputes every rule from scratch and reports where the target
// tables differ. An empty result means derived state is consistent.
func Verify(ctx context.Context, ex dialect.ExecQuerier, rs *Rules) ([]Drift, error) {
	var drift []Drift
	for _, r := range rs.All() {
		d, err := r.verify(ctx, ex)
		if err != nil {
			return nil, err
		}
		drift = append(drift, d...)
	}
	return drift, nil
}

// Rebuild recomputes the target table of r from scratch. Run it inside a
// transaction so readers never observe a partial rebuild.
func Rebuild(ctx context.Context, ex dialect.ExecQuerier, r Rule) error {
	return r.rebuild(ctx, ex)
}
