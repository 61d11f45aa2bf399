package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/syssam/sqlforge/compiler/catalog"
	"github.com/syssam/sqlforge/derive"
	"github.com/syssam/sqlforge/dialect/sql"
	"github.com/syssam/sqlforge/migrate"
)

func newDeriveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Manage trigger-maintained derived tables",
		Long: `Render, verify and rebuild the rollups and closure tables declared in the
derived-state rules file.`,
	}
	cmd.PersistentFlags().String("rules", "", "derived-state rules file")

	var only []string
	render := &cobra.Command{
		Use:   "render <name>",
		Short: "Write the rule triggers as a new migration pair",
		Long: `Render the triggers of the rules as a migration pair named <name> with the
next version of the Schema Store. The rules are checked against the schema
built from the existing migrations first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := a.selectRules(only)
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			cat, err := catalog.Build(store)
			if err != nil {
				return err
			}
			if err := derive.Validate(rs, cat); err != nil {
				return err
			}
			up, down := derive.Render(sql.SQLiteEngine{}, rs)
			m, err := migrate.WritePair(a.fs, a.cfg.Migrations.Dir, args[0], up, down)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(a.stdout, "Created migration %s with %d trigger(s).\n",
				m, len(derive.Triggers(sql.SQLiteEngine{}, rs)))
			return nil
		},
	}
	render.Flags().StringSliceVar(&only, "rule", nil, "render only the named rules (repeatable)")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Compare derived tables with a recompute from scratch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := a.rules()
			if err != nil {
				return err
			}
			return a.withDB(cmd.Context(), func(ctx context.Context, drv *sql.Driver) error {
				drift, err := derive.Verify(ctx, a.instrument(drv), rs)
				if err != nil {
					return err
				}
				if len(drift) == 0 {
					color.New(color.FgGreen).Fprintf(a.stdout, "Derived state is consistent (%d rule(s)).\n", len(rs.All()))
					return nil
				}
				red := color.New(color.FgRed)
				for _, d := range drift {
					fmt.Fprintf(a.stdout, "  %s %s\n", red.Sprint(d.Kind), d.Rule+": "+d.Detail)
				}
				return DriftError(fmt.Sprintf("%d derived row(s) drifted, run sqlforge derive rebuild", len(drift)))
			})
		},
	}

	rebuild := &cobra.Command{
		Use:   "rebuild [rule...]",
		Short: "Recompute derived tables from scratch",
		Long: `Recompute the target tables of the named rules, or of every rule, in a
single transaction.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := a.selectRules(args)
			if err != nil {
				return err
			}
			return a.withDB(cmd.Context(), func(ctx context.Context, drv *sql.Driver) error {
				tx, err := a.instrument(drv).Tx(ctx)
				if err != nil {
					return err
				}
				for _, r := range rs.All() {
					if err := derive.Rebuild(ctx, tx, r); err != nil {
						return rollback(tx, err)
					}
					a.log.InfoContext(ctx, "rebuilt derived table", "rule", r.RuleName())
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(a.stdout, "Rebuilt %d rule(s).\n", len(rs.All()))
				return nil
			})
		},
	}

	cmd.AddCommand(render, verify, rebuild)
	return cmd
}

// selectRules loads the rules file and keeps the named rules, or all of
// them when names is empty.
func (a *app) selectRules(names []string) (*derive.Rules, error) {
	rs, err := a.rules()
	if err != nil || len(names) == 0 {
		return rs, err
	}
	return rs.Select(names...)
}

func (a *app) withDB(ctx context.Context, fn func(context.Context, *sql.Driver) error) error {
	drv, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer drv.Close()
	return fn(ctx, drv)
}

type rollbacker interface{ Rollback() error }

// rollback calls tx.Rollback and wraps err with the rollback error if
// occurred.
func rollback(tx rollbacker, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		err = fmt.Errorf("%w: %v", err, rerr)
	}
	return err
}
