package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// DisableForeignKeysHeader, when present as a line of an up or down
// script, runs that migration with foreign key enforcement turned off.
// Foreign keys are checked before the step commits.
const DisableForeignKeysHeader = "-- sqlforge:disable-foreign-keys"

var (
	fileRE = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_]+)\.(up|down)\.sql$`)
	nameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Migration is a single versioned pair of up and down scripts.
type Migration struct {
	Version uint64
	Name    string
	Up      string
	Down    string
	// DisableForeignKeys is set by DisableForeignKeysHeader.
	DisableForeignKeys bool
	// Checksum is the hex sha256 of Up, a NUL byte and Down.
	Checksum string
}

// String returns the file stem of the migration.
func (m *Migration) String() string {
	return fmt.Sprintf("%d_%s", m.Version, m.Name)
}

// Script returns the script for the given direction.
func (m *Migration) Script(up bool) string {
	if up {
		return m.Up
	}
	return m.Down
}

// Checksum returns the checksum of a migration pair.
func Checksum(up, down string) string {
	h := sha256.New()
	h.Write([]byte(up))
	h.Write([]byte{0})
	h.Write([]byte(down))
	return hex.EncodeToString(h.Sum(nil))
}

// NewMigration builds a migration and derives its checksum and flags.
func NewMigration(version uint64, name, up, down string) *Migration {
	return &Migration{
		Version:            version,
		Name:               name,
		Up:                 up,
		Down:               down,
		DisableForeignKeys: hasHeader(up) || hasHeader(down),
		Checksum:           Checksum(up, down),
	}
}

func hasHeader(script string) bool {
	for line := range strings.Lines(script) {
		if strings.TrimSpace(line) == DisableForeignKeysHeader {
			return true
		}
	}
	return false
}

// Store is an ordered, validated set of migrations.
type Store struct {
	migrations []*Migration
}

// NewStore validates the migrations and returns them as a Store.
// Versions must be positive and unique. They are sorted ascending.
func NewStore(migrations ...*Migration) (*Store, error) {
	ms := slices.Clone(migrations)
	slices.SortFunc(ms, func(a, b *Migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	for i, m := range ms {
		if m.Version == 0 {
			return nil, fmt.Errorf("migrate: migration %q: version 0 is reserved for the empty schema", m.Name)
		}
		if !nameRE.MatchString(m.Name) {
			return nil, fmt.Errorf("migrate: migration %d: invalid name %q", m.Version, m.Name)
		}
		if i > 0 && ms[i-1].Version == m.Version {
			return nil, fmt.Errorf("migrate: duplicate version %d (%s and %s)", m.Version, ms[i-1], m)
		}
	}
	return &Store{migrations: ms}, nil
}

// Load reads the migrations in dir.
//
// Every file whose name ends in .sql must match
// {version}_{name}.up.sql or {version}_{name}.down.sql, and every version
// needs both directions. Other files are ignored.
func Load(fsys afero.Fs, dir string) (*Store, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: reading %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return load(names, func(name string) ([]byte, error) {
		return afero.ReadFile(fsys, path.Join(dir, name))
	})
}

// FromFS reads the migrations at the root of fsys, usually an embed.FS
// sub-tree:
//
//	//go:embed migrations/*.sql
//	var files embed.FS
//
//	sub, _ := fs.Sub(files, "migrations")
//	store, err := migrate.FromFS(sub)
func FromFS(fsys fs.FS) (*Store, error) {
	return Load(afero.FromIOFS{FS: fsys}, ".")
}

type pair struct {
	version  uint64
	name     string
	up, down *string
}

func load(names []string, read func(string) ([]byte, error)) (*Store, error) {
	pairs := make(map[uint64]*pair)
	for _, name := range names {
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := fileRE.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("migrate: unparseable migration file name %q", name)
		}
		version, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migrate: parsing version of %q: %w", name, err)
		}
		p, ok := pairs[version]
		if !ok {
			p = &pair{version: version, name: m[2]}
			pairs[version] = p
		}
		if p.name != m[2] {
			return nil, fmt.Errorf("migrate: duplicate version %d (%s and %s)", version, p.name, m[2])
		}
		data, err := read(name)
		if err != nil {
			return nil, fmt.Errorf("migrate: reading %s: %w", name, err)
		}
		script := string(data)
		switch m[3] {
		case "up":
			p.up = &script
		default:
			p.down = &script
		}
	}
	var (
		ms   []*Migration
		errs []error
	)
	for _, p := range pairs {
		switch {
		case p.up == nil:
			errs = append(errs, fmt.Errorf("migrate: migration %d_%s has no up script", p.version, p.name))
		case p.down == nil:
			errs = append(errs, fmt.Errorf("migrate: migration %d_%s has no down script", p.version, p.name))
		default:
			ms = append(ms, NewMigration(p.version, p.name, *p.up, *p.down))
		}
	}
	if len(errs) > 0 {
		slices.SortFunc(errs, func(a, b error) int { return strings.Compare(a.Error(), b.Error()) })
		return nil, errors.Join(errs...)
	}
	return NewStore(ms...)
}

// Migrations returns the migrations in ascending version order.
func (s *Store) Migrations() []*Migration {
	return slices.Clone(s.migrations)
}

// Len returns the number of migrations.
func (s *Store) Len() int {
	return len(s.migrations)
}

// Latest returns the highest version, or 0 for an empty store.
func (s *Store) Latest() uint64 {
	if len(s.migrations) == 0 {
		return 0
	}
	return s.migrations[len(s.migrations)-1].Version
}

// Lookup returns the migration with the given version.
func (s *Store) Lookup(version uint64) (*Migration, bool) {
	i, ok := s.index(version)
	if !ok {
		return nil, false
	}
	return s.migrations[i], true
}

// Has reports whether version is 0 or a known migration version.
func (s *Store) Has(version uint64) bool {
	_, ok := s.index(version)
	return version == 0 || ok
}

func (s *Store) index(version uint64) (int, bool) {
	return slices.BinarySearchFunc(s.migrations, version, func(m *Migration, v uint64) int {
		switch {
		case m.Version < v:
			return -1
		case m.Version > v:
			return 1
		}
		return 0
	})
}

// Previous returns the version that precedes version in the store, or 0.
func (s *Store) Previous(version uint64) uint64 {
	var prev uint64
	for _, m := range s.migrations {
		if m.Version >= version {
			break
		}
		prev = m.Version
	}
	return prev
}

// Between returns the migrations with from < version <= to.
func (s *Store) Between(from, to uint64) []*Migration {
	var ms []*Migration
	for _, m := range s.migrations {
		if m.Version > from && m.Version <= to {
			ms = append(ms, m)
		}
	}
	return ms
}

// Create writes an empty migration pair with the next version into dir
// and returns the two file paths. The version is zero padded to four
// digits.
func Create(fsys afero.Fs, dir, name string) (up, down string, err error) {
	name = strings.ToLower(strings.Join(strings.Fields(name), "_"))
	if !nameRE.MatchString(name) {
		return "", "", fmt.Errorf("migrate: invalid migration name %q", name)
	}
	if err := fsys.MkdirAll(dir, os.ModePerm); err != nil {
		return "", "", fmt.Errorf("migrate: creating %s: %w", dir, err)
	}
	s, err := Load(fsys, dir)
	if err != nil {
		return "", "", err
	}
	stem := fmt.Sprintf("%04d_%s", s.Latest()+1, name)
	up, down = path.Join(dir, stem+".up.sql"), path.Join(dir, stem+".down.sql")
	for _, f := range []struct{ path, body string }{
		{up, fmt.Sprintf("-- %s: up\n", stem)},
		{down, fmt.Sprintf("-- %s: down\n", stem)},
	} {
		if err := afero.WriteFile(fsys, f.path, []byte(f.body), 0o644); err != nil {
			return "", "", fmt.Errorf("migrate: writing %s: %w", f.path, err)
		}
	}
	return up, down, nil
}

// WritePair writes a migration pair with the next version and the given
// bodies into dir. It is used to store generated migrations.
func WritePair(fsys afero.Fs, dir, name, upBody, downBody string) (*Migration, error) {
	up, down, err := Create(fsys, dir, name)
	if err != nil {
		return nil, err
	}
	if err := afero.WriteFile(fsys, up, []byte(upBody), 0o644); err != nil {
		return nil, fmt.Errorf("migrate: writing %s: %w", up, err)
	}
	if err := afero.WriteFile(fsys, down, []byte(downBody), 0o644); err != nil {
		return nil, fmt.Errorf("migrate: writing %s: %w", down, err)
	}
	s, err := Load(fsys, dir)
	if err != nil {
		return nil, err
	}
	m, _ := s.Lookup(s.Latest())
	return m, nil
}
