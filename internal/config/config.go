// Package config loads sqlforge configuration with proper precedence:
// flags > env > config file > defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/syssam/sqlforge/dialect/sql"
)

const (
	// EnvPrefix prefixes every environment variable read by sqlforge.
	EnvPrefix = "SQLFORGE"

	maxWalkDepth = 25
)

// FileNames are the config file names looked up during discovery, in
// order of preference.
var FileNames = []string{"sqlforge.yaml", "sqlforge.yml"}

// Config represents the sqlforge configuration from sqlforge.yaml.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
	Queries    QueriesConfig    `mapstructure:"queries"`
	Generate   GenerateConfig   `mapstructure:"generate"`
	Derive     DeriveConfig     `mapstructure:"derive"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	MaxReaders  int           `mapstructure:"max_readers"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	// SlowQueryThreshold enables slow query logging when positive.
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

// SQLite returns the driver config of the database.
func (c DatabaseConfig) SQLite() sql.SQLiteConfig {
	return sql.SQLiteConfig{
		Path:        c.Path,
		MaxReaders:  c.MaxReaders,
		BusyTimeout: c.BusyTimeout,
	}
}

// MigrationsConfig holds Schema Store settings.
type MigrationsConfig struct {
	Dir string `mapstructure:"dir"`
}

// QueriesConfig holds query file settings.
type QueriesConfig struct {
	Dir string `mapstructure:"dir"`
}

// GenerateConfig holds code generation settings.
type GenerateConfig struct {
	Out     string `mapstructure:"out"`
	Package string `mapstructure:"package"`
}

// DeriveConfig holds derived-state settings.
type DeriveConfig struct {
	// Rules is the rules file. Empty disables derived state.
	Rules string `mapstructure:"rules"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Logger returns a logger writing to w in the configured level and format.
func (c LogConfig) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q (want text or json)", c.Format)
	}
}

// Validate checks the values that cannot be checked by unmarshaling.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Database.MaxReaders < 1 {
		errs = append(errs, fmt.Errorf("database.max_readers must be at least 1, got %d", c.Database.MaxReaders))
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, fmt.Errorf("database.busy_timeout must not be negative, got %s", c.Database.BusyTimeout))
	}
	if c.Migrations.Dir == "" {
		errs = append(errs, errors.New("migrations.dir is required"))
	}
	if _, err := c.Log.Logger(io.Discard); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// flagKeys maps the flag names the CLI defines to config keys. Flags
// missing from the bound FlagSet are ignored.
var flagKeys = map[string]string{
	"db":          "database.path",
	"max-readers": "database.max_readers",
	"migrations":  "migrations.dir",
	"queries":     "queries.dir",
	"out":         "generate.out",
	"package":     "generate.package",
	"rules":       "derive.rules",
	"log-level":   "log.level",
	"log-format":  "log.format",
}

// pathKeys are the keys holding file system paths. Relative values read
// from a config file resolve against the directory of that file.
var pathKeys = []string{
	"database.path",
	"migrations.dir",
	"queries.dir",
	"generate.out",
	"derive.rules",
}

// Loader loads a Config.
type Loader struct {
	// Fs is the file system config and env files are read from.
	// Defaults to the OS file system.
	Fs afero.Fs
	// Dir is where discovery starts and what relative flag and env
	// values resolve against. Defaults to the working directory.
	Dir string
	// Path is an explicit config file. It must exist.
	Path string
	// Flags are bound to config keys by name.
	Flags *pflag.FlagSet
}

// Load discovers and loads configuration. It returns the loaded config
// and the path to the config file, empty if none was found.
func Load(explicitPath string, flags *pflag.FlagSet) (*Config, string, error) {
	return (&Loader{Path: explicitPath, Flags: flags}).Load()
}

// Load discovers and loads configuration.
func (l *Loader) Load() (*Config, string, error) {
	fsys := l.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	dir := l.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("getting cwd: %w", err)
		}
		dir = wd
	}

	v := viper.New()
	v.SetFs(fsys)

	// 1. Defaults.
	setDefaults(v)

	// 2. Find the config file.
	configPath, err := findConfigFile(fsys, dir, l.Path)
	if err != nil {
		return nil, "", err
	}

	// 3. Dotenv files next to the config file or in dir, then env.
	envDir := dir
	if configPath != "" {
		envDir = filepath.Dir(configPath)
	}
	if err := loadDotenv(fsys, envDir); err != nil {
		return nil, configPath, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Config file.
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 5. Flags.
	changed := make(map[string]bool)
	if l.Flags != nil {
		for name, key := range flagKeys {
			f := l.Flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, configPath, fmt.Errorf("binding flag --%s: %w", name, err)
			}
			changed[key] = f.Changed
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Paths from the config file are relative to it. Flags, env and
	// defaults are relative to dir.
	for _, key := range pathKeys {
		base := dir
		if configPath != "" && !changed[key] && v.InConfig(key) && !envSet(key) {
			base = filepath.Dir(configPath)
		}
		resolve(cfg.path(key), base)
	}
	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "sqlforge.db")
	v.SetDefault("database.max_readers", sql.DefaultMaxReaders)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.slow_query_threshold", time.Duration(0))

	v.SetDefault("migrations.dir", "migrations")
	v.SetDefault("queries.dir", "queries")

	v.SetDefault("generate.out", "db")
	v.SetDefault("generate.package", "")

	v.SetDefault("derive.rules", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from dir looking for sqlforge.yaml or sqlforge.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(fsys afero.Fs, dir, explicitPath string) (string, error) {
	if explicitPath != "" {
		if !filepath.IsAbs(explicitPath) {
			explicitPath = filepath.Join(dir, explicitPath)
		}
		if _, err := fsys.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := fsys.Stat(path); err == nil {
				return path, nil
			}
		}

		// Stop at the repository root.
		if _, err := fsys.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// loadDotenv sets the variables of dir/.env and dir/.env.local, the
// latter taking priority. Variables already in the environment win over
// both.
func loadDotenv(fsys afero.Fs, dir string) error {
	vars := make(map[string]string)
	for _, name := range []string{".env", ".env.local"} {
		path := filepath.Join(dir, name)
		if _, err := fsys.Stat(path); err != nil {
			continue
		}
		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		parsed, err := godotenv.Parse(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		for k, val := range parsed {
			vars[k] = val
		}
	}
	for k, val := range vars {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, val); err != nil {
			return fmt.Errorf("setting %s: %w", k, err)
		}
	}
	return nil
}

// EnvVar returns the environment variable of key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(EnvVar(key))
	return ok
}

func (c *Config) path(key string) *string {
	switch key {
	case "database.path":
		return &c.Database.Path
	case "migrations.dir":
		return &c.Migrations.Dir
	case "queries.dir":
		return &c.Queries.Dir
	case "generate.out":
		return &c.Generate.Out
	case "derive.rules":
		return &c.Derive.Rules
	}
	panic("config: unknown path key " + key)
}

func resolve(p *string, base string) {
	if *p == "" || filepath.IsAbs(*p) {
		return
	}
	*p = filepath.Join(base, *p)
}
