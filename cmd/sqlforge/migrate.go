package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/syssam/sqlforge"
	"github.com/syssam/sqlforge/dialect/sql"
	"github.com/syssam/sqlforge/dialect/sql/schema"
	"github.com/syssam/sqlforge/migrate"
)

func newMigrateCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply and inspect schema migrations",
		Long: `Apply, revert and inspect the versioned migrations of the Schema Store.

Every mutating command refuses to run while the database is dirty, that is
after a migration failed halfway. Repair the schema by hand, then record the
version it is at with "sqlforge migrate force <version>".`,
	}
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print the planned scripts without applying them")

	// withMigrator opens the database and runs fn with a migrator over the
	// Schema Store.
	withMigrator := func(fn func(context.Context, *migrate.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			drv, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer drv.Close()
			opts := []migrate.Option{migrate.WithLogger(a.log)}
			if dryRun {
				opts = append(opts, migrate.WithDryRun(a.stdout))
			}
			return fn(cmd.Context(), migrate.New(drv, store, opts...))
		}
	}
	// done reports the version reached after a mutating command.
	done := func(ctx context.Context, m *migrate.Migrator) error {
		if dryRun {
			return nil
		}
		st, err := m.Status(ctx)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(a.stdout, "Database is at version %d.\n", st.Current)
		return nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			if err := m.Up(ctx); err != nil {
				return err
			}
			return done(ctx, m)
		}),
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert all applied migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			if err := m.Down(ctx); err != nil {
				return err
			}
			return done(ctx, m)
		}),
	}
	to := &cobra.Command{
		Use:   "to <version>",
		Short: "Migrate up or down to a version",
		Long: `Migrate to the given version. A version ahead of the current one applies
the pending migrations up to it, a version behind reverts down to it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
				st, err := m.Status(ctx)
				if err != nil {
					return err
				}
				if st.Dirty {
					return &sqlforge.DirtyStateError{Version: st.Current}
				}
				if v < st.Current {
					err = m.DownTo(ctx, v)
				} else {
					err = m.MigrateTo(ctx, v)
				}
				if err != nil {
					return err
				}
				return done(ctx, m)
			})(cmd, args)
		},
	}
	steps := &cobra.Command{
		Use:   "steps <n>",
		Short: "Apply n pending migrations, or revert -n applied ones",
		Example: `  # Apply the next two migrations
  sqlforge migrate steps 2

  # Revert the last migration
  sqlforge migrate steps -- -1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
				if err := m.Steps(ctx, n); err != nil {
					return err
				}
				return done(ctx, m)
			})(cmd, args)
		},
	}
	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Record a version and clear the dirty flag without running scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
				if err := m.Force(ctx, v); err != nil {
					return err
				}
				return done(ctx, m)
			})(cmd, args)
		},
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the migration state",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			st, err := m.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(a, st)
			if st.Dirty {
				return &sqlforge.DirtyStateError{Version: st.Current}
			}
			return nil
		}),
	}
	var roundTrip bool
	validate := &cobra.Command{
		Use:   "validate [version]",
		Short: "Check a migration target and the applied checksums",
		Long: `Check that the version, or the latest version when omitted, is a valid
forward target and that no applied migration changed since it ran.

With --round-trip every migration is also applied and reverted on a scratch
database, which must end with the schema it started with.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
				v := m.Store().Latest()
				if len(args) == 1 {
					var err error
					if v, err = parseVersion(args[0]); err != nil {
						return err
					}
				}
				return validateMigrations(ctx, a, m, v, roundTrip)
			})(cmd, args)
		},
	}
	validate.Flags().BoolVar(&roundTrip, "round-trip", false, "apply and revert every migration on a scratch database")
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty migration pair with the next version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, down, err := migrate.Create(a.fs, a.cfg.Migrations.Dir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Created %s\nCreated %s\n", up, down)
			return nil
		},
	}

	cmd.AddCommand(up, down, to, steps, force, status, validate, create)
	return cmd
}

func parseVersion(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}

func printStatus(a *app, st *migrate.Status) {
	var (
		bold   = color.New(color.Bold)
		green  = color.New(color.FgGreen)
		yellow = color.New(color.FgYellow)
		red    = color.New(color.FgRed, color.Bold)
	)
	bold.Fprintf(a.stdout, "Current version: %d\n", st.Current)
	fmt.Fprintf(a.stdout, "Latest version:  %d\n", st.Latest)
	if st.Dirty {
		red.Fprintln(a.stdout, "State:           dirty")
	} else {
		green.Fprintln(a.stdout, "State:           clean")
	}
	for _, m := range st.Applied {
		fmt.Fprintf(a.stdout, "  %s %s\n", green.Sprint("applied"), m)
	}
	for _, m := range st.Pending {
		fmt.Fprintf(a.stdout, "  %s %s\n", yellow.Sprint("pending"), m)
	}
	for _, v := range st.Drifted {
		fmt.Fprintf(a.stdout, "  %s version %d changed since it was applied\n", red.Sprint("drifted"), v)
	}
}

func validateMigrations(ctx context.Context, a *app, m *migrate.Migrator, v uint64, roundTrip bool) error {
	if err := m.Validate(ctx, v); err != nil {
		return err
	}
	st, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(st.Drifted) > 0 {
		return DriftError(fmt.Sprintf("applied migrations changed since they ran: %v", st.Drifted))
	}
	if roundTrip {
		if err := checkRoundTrip(ctx, a, m.Store()); err != nil {
			return err
		}
	}
	color.New(color.FgGreen).Fprintf(a.stdout, "Migrations are valid (target %d).\n", v)
	return nil
}

// checkRoundTrip applies and reverts every migration of store on a scratch
// database and compares its schema before and after.
func checkRoundTrip(ctx context.Context, a *app, store *migrate.Store) error {
	dir, err := os.MkdirTemp("", "sqlforge-roundtrip-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	drv, err := sql.OpenSQLite(ctx, sql.SQLiteConfig{Path: filepath.Join(dir, "scratch.db")}, sql.WithLogger(a.log))
	if err != nil {
		return err
	}
	defer drv.Close()

	before, err := schema.Inspect(ctx, drv.DB())
	if err != nil {
		return err
	}
	m := migrate.New(drv, store, migrate.WithLogger(a.log))
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("round trip: %w", err)
	}
	if err := m.Down(ctx); err != nil {
		return fmt.Errorf("round trip: %w", err)
	}
	after, err := schema.Inspect(ctx, drv.DB())
	if err != nil {
		return err
	}
	if r := schema.Compare(before, after); !r.Empty() {
		for _, e := range append(r.Errors, r.Warnings...) {
			fmt.Fprintf(a.stdout, "  %s\n", e)
		}
		return DriftError("down migrations do not restore the original schema")
	}
	fmt.Fprintf(a.stdout, "Round trip of %d migrations restored the original schema.\n", store.Len())
	return nil
}
