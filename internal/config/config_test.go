package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fsys afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
}

// unsetEnv clears key for the duration of the test, restoring it after.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestFindConfigFile_ExplicitPath(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/repo/custom.yaml", "log:\n  level: debug\n")

	path, err := findConfigFile(fsys, "/repo", "custom.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/repo/custom.yaml", path)
}

func TestFindConfigFile_ExplicitPathNotFound(t *testing.T) {
	_, err := findConfigFile(afero.NewMemMapFs(), "/repo", "/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestFindConfigFile_AutoDiscovery(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/repo/.git", 0o755))
	writeFile(t, fsys, "/repo/sqlforge.yaml", "")
	require.NoError(t, fsys.MkdirAll("/repo/deep/nested", 0o755))

	path, err := findConfigFile(fsys, "/repo/deep/nested", "")
	require.NoError(t, err)
	assert.Equal(t, "/repo/sqlforge.yaml", path)
}

func TestFindConfigFile_PrefersYamlOverYml(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/repo/sqlforge.yaml", "")
	writeFile(t, fsys, "/repo/sqlforge.yml", "")

	path, err := findConfigFile(fsys, "/repo", "")
	require.NoError(t, err)
	assert.Equal(t, "/repo/sqlforge.yaml", path)
}

func TestFindConfigFile_StopsAtGitBoundary(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/sqlforge.yaml", "")
	require.NoError(t, fsys.MkdirAll("/repo/.git", 0o755))
	require.NoError(t, fsys.MkdirAll("/repo/sub", 0o755))

	path, err := findConfigFile(fsys, "/repo/sub", "")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLoad_Defaults(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/repo/.git", 0o755))

	cfg, path, err := (&Loader{Fs: fsys, Dir: "/repo"}).Load()
	require.NoError(t, err)
	assert.Empty(t, path)

	assert.Equal(t, "/repo/sqlforge.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Database.MaxReaders)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
	assert.Zero(t, cfg.Database.SlowQueryThreshold)
	assert.Equal(t, "/repo/migrations", cfg.Migrations.Dir)
	assert.Equal(t, "/repo/queries", cfg.Queries.Dir)
	assert.Equal(t, "/repo/db", cfg.Generate.Out)
	assert.Empty(t, cfg.Generate.Package)
	assert.Empty(t, cfg.Derive.Rules)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ConfigFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/repo/.git", 0o755))
	writeFile(t, fsys, "/repo/sqlforge.yaml", `
database:
  path: data/app.db
  max_readers: 8
  busy_timeout: 250ms
  slow_query_threshold: 100ms
migrations:
  dir: db/migrations
queries:
  dir: db/queries
generate:
  out: internal/store
  package: store
derive:
  rules: db/rules.yaml
log:
  level: debug
  format: json
`)
	require.NoError(t, fsys.MkdirAll("/repo/cmd/app", 0o755))

	cfg, path, err := (&Loader{Fs: fsys, Dir: "/repo/cmd/app"}).Load()
	require.NoError(t, err)
	assert.Equal(t, "/repo/sqlforge.yaml", path)

	assert.Equal(t, "/repo/data/app.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Database.MaxReaders)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.BusyTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Database.SlowQueryThreshold)
	assert.Equal(t, "/repo/db/migrations", cfg.Migrations.Dir)
	assert.Equal(t, "/repo/db/queries", cfg.Queries.Dir)
	assert.Equal(t, "/repo/internal/store", cfg.Generate.Out)
	assert.Equal(t, "store", cfg.Generate.Package)
	assert.Equal(t, "/repo/db/rules.yaml", cfg.Derive.Rules)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	sc := cfg.Database.SQLite()
	assert.Equal(t, "/repo/data/app.db", sc.Path)
	assert.Equal(t, 8, sc.MaxReaders)
}

func TestLoad_Precedence(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/repo/.git", 0o755))
	writeFile(t, fsys, "/repo/sqlforge.yaml", `
database:
  path: file.db
  max_readers: 2
log:
  level: warn
migrations:
  dir: from-file
`)
	t.Setenv(EnvVar("database.max_readers"), "6")
	t.Setenv(EnvVar("log.level"), "error")
	t.Setenv(EnvVar("migrations.dir"), "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("db", "", "")
	flags.String("log-level", "", "")
	flags.String("unbound", "", "")
	require.NoError(t, flags.Parse([]string{"--log-level=debug"}))

	cfg, _, err := (&Loader{Fs: fsys, Dir: "/work", Path: "/repo/sqlforge.yaml", Flags: flags}).Load()
	require.NoError(t, err)

	// flag > env > file > default
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 6, cfg.Database.MaxReaders)
	assert.Equal(t, "/repo/file.db", cfg.Database.Path)
	assert.Equal(t, "/work/from-env", cfg.Migrations.Dir)
	assert.Equal(t, "/work/queries", cfg.Queries.Dir)
}

func TestLoad_FlagPathRelativeToDir(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/repo/sqlforge.yaml", "database:\n  path: file.db\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("db", "", "")
	require.NoError(t, flags.Parse([]string{"--db", "flag.db"}))

	cfg, _, err := (&Loader{Fs: fsys, Dir: "/work", Path: "/repo/sqlforge.yaml", Flags: flags}).Load()
	require.NoError(t, err)
	assert.Equal(t, "/work/flag.db", cfg.Database.Path)
}

func TestLoad_Dotenv(t *testing.T) {
	for _, key := range []string{"database.path", "log.level", "log.format"} {
		unsetEnv(t, EnvVar(key))
	}
	t.Setenv(EnvVar("log.format"), "json")

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/repo/.git", 0o755))
	writeFile(t, fsys, "/repo/.env", "SQLFORGE_DATABASE_PATH=env.db\nSQLFORGE_LOG_LEVEL=warn\nSQLFORGE_LOG_FORMAT=text\n")
	writeFile(t, fsys, "/repo/.env.local", "SQLFORGE_LOG_LEVEL=debug\n")

	cfg, _, err := (&Loader{Fs: fsys, Dir: "/repo"}).Load()
	require.NoError(t, err)

	assert.Equal(t, "/repo/env.db", cfg.Database.Path)
	// .env.local overrides .env
	assert.Equal(t, "debug", cfg.Log.Level)
	// the environment overrides both
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/repo/sqlforge.yaml", "database: [unclosed\n")

	_, path, err := (&Loader{Fs: fsys, Dir: "/repo"}).Load()
	require.Error(t, err)
	assert.Equal(t, "/repo/sqlforge.yaml", path)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:   DatabaseConfig{Path: "a.db", MaxReaders: 1},
			Migrations: MigrationsConfig{Dir: "migrations"},
			Log:        LogConfig{Level: "info", Format: "text"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no path", func(c *Config) { c.Database.Path = "" }, "database.path is required"},
		{"no readers", func(c *Config) { c.Database.MaxReaders = 0 }, "database.max_readers must be at least 1"},
		{"negative busy", func(c *Config) { c.Database.BusyTimeout = -time.Second }, "database.busy_timeout"},
		{"no migrations", func(c *Config) { c.Migrations.Dir = "" }, "migrations.dir is required"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, `unknown format "xml"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "version", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"version":3`)

	buf.Reset()
	l, err = LogConfig{Level: "debug"}.Logger(&buf)
	require.NoError(t, err)
	l.Debug("step", "name", "init")
	assert.Contains(t, buf.String(), "level=DEBUG msg=step name=init")
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "SQLFORGE_DATABASE_SLOW_QUERY_THRESHOLD", EnvVar("database.slow_query_threshold"))
	assert.Equal(t, "SQLFORGE_GENERATE_OUT", EnvVar("generate.out"))
}
