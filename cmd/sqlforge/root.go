package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/syssam/sqlforge/derive"
	"github.com/syssam/sqlforge/dialect"
	"github.com/syssam/sqlforge/dialect/sql"
	"github.com/syssam/sqlforge/internal/config"
	"github.com/syssam/sqlforge/migrate"
)

// app is the state shared by the commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer
	fs     afero.Fs

	// Set by persistent flags.
	cfgFile string

	// Set during PersistentPreRunE.
	cfg        *config.Config
	configPath string
	log        *slog.Logger
}

// Command group IDs
const (
	groupSchema  = "schema"
	groupCode    = "code"
	groupUtility = "utility"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sqlforge",
		Short: "Type-safe data access for embedded SQLite",
		Long: `sqlforge - type-safe data access for embedded SQLite

sqlforge applies versioned migrations, compiles annotated SQL queries into
typed Go accessors and keeps derived tables in sync with triggers.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for help/completion/version commands
			switch cmd.Name() {
			case "help", "completion", "version", cobra.ShellCompRequestCmd:
				return nil
			}
			return a.load(cmd)
		},
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // Errors are printed by run
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default: auto-discover sqlforge.yaml)")
	f.String("db", "", "database file")
	f.Int("max-readers", 0, "concurrent reader connections")
	f.String("migrations", "", "migrations directory")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (text, json)")

	root.AddGroup(
		&cobra.Group{ID: groupSchema, Title: "Schema:"},
		&cobra.Group{ID: groupCode, Title: "Code:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	migrateCmd := newMigrateCmd(a)
	migrateCmd.GroupID = groupSchema
	deriveCmd := newDeriveCmd(a)
	deriveCmd.GroupID = groupSchema
	generateCmd := newGenerateCmd(a)
	generateCmd.GroupID = groupCode
	versionCmd := newVersionCmd(a)
	versionCmd.GroupID = groupUtility

	root.AddCommand(migrateCmd, deriveCmd, generateCmd, versionCmd)
	return root
}

// load reads the configuration and builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	loader := &config.Loader{Fs: a.fs, Path: a.cfgFile, Flags: cmd.Flags()}
	cfg, path, err := loader.Load()
	if err != nil {
		return ConfigError("loading configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return ConfigError("invalid configuration", err)
	}
	l, err := cfg.Log.Logger(a.stderr)
	if err != nil {
		return ConfigError("invalid configuration", err)
	}
	a.cfg, a.configPath, a.log = cfg, path, l
	if path != "" {
		a.log.Debug("loaded config", "path", path)
	}
	return nil
}

// open opens the configured database.
func (a *app) open(ctx context.Context) (*sql.Driver, error) {
	return sql.OpenSQLite(ctx, a.cfg.Database.SQLite(), sql.WithLogger(a.log))
}

// instrument wraps drv with slow statement logging when a threshold is
// configured, or with statement logging at debug level.
func (a *app) instrument(drv *sql.Driver) dialect.Driver {
	switch {
	case a.cfg.Database.SlowQueryThreshold > 0:
		return sql.NewStatsDriver(drv,
			sql.WithSlowThreshold(a.cfg.Database.SlowQueryThreshold),
			sql.WithSlowQueryLog(a.log),
		)
	case a.log.Enabled(context.Background(), slog.LevelDebug):
		return sql.NewDebugDriver(drv, a.log)
	default:
		return drv
	}
}

// store loads the Schema Store.
func (a *app) store() (*migrate.Store, error) {
	return migrate.Load(a.fs, a.cfg.Migrations.Dir)
}

// rules loads the derived-state rules file.
func (a *app) rules() (*derive.Rules, error) {
	if a.cfg.Derive.Rules == "" {
		return nil, ConfigError("derive.rules is not set", errors.New("set it in sqlforge.yaml, SQLFORGE_DERIVE_RULES or --rules"))
	}
	return derive.Load(a.fs, a.cfg.Derive.Rules)
}

// run executes the CLI with args and returns the exit code.
func run(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		printError(a.stderr, err)
		return exitCode(err)
	}
	return ExitSuccess
}
