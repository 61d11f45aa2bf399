package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, fs afero.Fs, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fs, dir+"/"+name, []byte(body), 0o644))
	}
}

func TestLoad(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFiles(t, fs, "migrations", map[string]string{
			"0002_posts.up.sql":   "CREATE TABLE posts (id INTEGER PRIMARY KEY);",
			"0002_posts.down.sql": "DROP TABLE posts;",
			"0010_fk.up.sql":      DisableForeignKeysHeader + "\nSELECT 1;",
			"0010_fk.down.sql":    "SELECT 1;",
			"0001_users.up.sql":   "CREATE TABLE users (id INTEGER PRIMARY KEY);",
			"0001_users.down.sql": "DROP TABLE users;",
			"README.md":           "ignored",
		})
		s, err := Load(fs, "migrations")
		require.NoError(t, err)
		require.Equal(t, 3, s.Len())
		ms := s.Migrations()
		assert.Equal(t, []uint64{1, 2, 10}, []uint64{ms[0].Version, ms[1].Version, ms[2].Version})
		assert.Equal(t, "users", ms[0].Name)
		assert.Equal(t, "1_users", ms[0].String())
		assert.Equal(t, Checksum(ms[0].Up, ms[0].Down), ms[0].Checksum)
		assert.False(t, ms[0].DisableForeignKeys)
		assert.True(t, ms[2].DisableForeignKeys)
		assert.Equal(t, uint64(10), s.Latest())
		assert.Equal(t, uint64(2), s.Previous(10))
		assert.Equal(t, uint64(0), s.Previous(1))
		assert.True(t, s.Has(0))
		assert.True(t, s.Has(2))
		assert.False(t, s.Has(3))
		assert.Len(t, s.Between(1, 10), 2)
	})

	tests := []struct {
		name  string
		files map[string]string
		err   string
	}{
		{
			name:  "missing down",
			files: map[string]string{"0001_users.up.sql": ""},
			err:   "migration 1_users has no down script",
		},
		{
			name:  "missing up",
			files: map[string]string{"0001_users.down.sql": ""},
			err:   "migration 1_users has no up script",
		},
		{
			name:  "bad name",
			files: map[string]string{"users.sql": ""},
			err:   `unparseable migration file name "users.sql"`,
		},
		{
			name:  "bad direction",
			files: map[string]string{"0001_users.sideways.sql": ""},
			err:   "unparseable migration file name",
		},
		{
			name: "duplicate version",
			files: map[string]string{
				"0001_users.up.sql":  "",
				"0001_people.up.sql": "",
			},
			err: "duplicate version 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeFiles(t, fs, "m", tt.files)
			_, err := Load(fs, "m")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}

	t.Run("missing dir", func(t *testing.T) {
		_, err := Load(afero.NewMemMapFs(), "nope")
		require.Error(t, err)
	})
}

func TestChecksum(t *testing.T) {
	assert.NotEqual(t, Checksum("ab", "c"), Checksum("a", "bc"))
	assert.Equal(t, Checksum("a", "b"), Checksum("a", "b"))
	assert.Len(t, Checksum("", ""), 64)
}

func TestFromFS(t *testing.T) {
	s, err := FromFS(fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("CREATE TABLE t (id INTEGER);")},
		"0001_init.down.sql": {Data: []byte("DROP TABLE t;")},
	})
	require.NoError(t, err)
	m, ok := s.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "DROP TABLE t;", m.Down)
}

func TestCreate(t *testing.T) {
	fs := afero.NewMemMapFs()
	up, down, err := Create(fs, "migrations", "Create Users")
	require.NoError(t, err)
	assert.Equal(t, "migrations/0001_create_users.up.sql", up)
	assert.Equal(t, "migrations/0001_create_users.down.sql", down)

	up, _, err = Create(fs, "migrations", "add_posts")
	require.NoError(t, err)
	assert.Equal(t, "migrations/0002_add_posts.up.sql", up)

	_, _, err = Create(fs, "migrations", "bad-name!")
	require.Error(t, err)

	m, err := WritePair(fs, "migrations", "tags", "CREATE TABLE tags (id INTEGER);", "DROP TABLE tags;")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m.Version)
	assert.Equal(t, "DROP TABLE tags;", m.Down)

	s, err := Load(fs, "migrations")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
}

func TestNewStore(t *testing.T) {
	_, err := NewStore(NewMigration(0, "zero", "", ""))
	require.Error(t, err)
	_, err = NewStore(NewMigration(1, "a", "", ""), NewMigration(1, "b", "", ""))
	require.Error(t, err)
	_, err = NewStore(NewMigration(1, "bad name", "", ""))
	require.Error(t, err)
	s, err := NewStore(NewMigration(5, "b", "", ""), NewMigration(2, "a", "", ""))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Migrations()[0].Version)
}
