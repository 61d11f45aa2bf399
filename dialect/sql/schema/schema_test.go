package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "test.db")+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func exec(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	exec(t, db,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, name TEXT)`,
		`CREATE UNIQUE INDEX users_email ON users (email)`,
		`CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE, title TEXT NOT NULL DEFAULT 'untitled')`,
		`CREATE TABLE sqlforge_schema_state (id INTEGER PRIMARY KEY, version INTEGER NOT NULL, dirty INTEGER NOT NULL)`,
	)

	snap, err := Inspect(ctx, db)
	require.NoError(t, err)
	require.Len(t, snap.Tables, 2, "internal tables are excluded")
	assert.Equal(t, "posts", snap.Tables[0].Name)
	assert.Equal(t, "users", snap.Tables[1].Name)

	users := snap.Table("users")
	require.NotNil(t, users)
	assert.Equal(t, []string{"id"}, users.PrimaryKey)
	require.Len(t, users.Columns, 3)
	assert.Equal(t, "TEXT", users.Column("email").Type)
	assert.False(t, users.Column("email").Nullable)
	assert.True(t, users.Column("name").Nullable)
	require.Len(t, users.Indexes, 1)
	assert.True(t, users.Indexes[0].Unique)
	assert.Equal(t, []string{"email"}, users.Indexes[0].Columns)

	posts := snap.Table("posts")
	require.Len(t, posts.ForeignKeys, 1)
	assert.Equal(t, "users", posts.ForeignKeys[0].RefTable)
	assert.Equal(t, []string{"user_id"}, posts.ForeignKeys[0].Columns)
	assert.Contains(t, snap.String(), "table users pk(id)")
	assert.Empty(t, Lint(snap).Errors)
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	exec(t, db, `CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)`)
	before, err := Inspect(ctx, db)
	require.NoError(t, err)

	t.Run("identical", func(t *testing.T) {
		again, err := Inspect(ctx, db)
		require.NoError(t, err)
		r := Compare(before, again)
		assert.True(t, r.Empty(), r.String())
		assert.Equal(t, "No differences found", r.String())
	})

	t.Run("added and dropped", func(t *testing.T) {
		exec(t, db,
			`ALTER TABLE users ADD COLUMN name TEXT`,
			`CREATE INDEX users_name ON users (name)`,
			`CREATE TABLE tags (id INTEGER PRIMARY KEY)`,
		)
		after, err := Inspect(ctx, db)
		require.NoError(t, err)

		r := Compare(before, after)
		assert.False(t, r.HasErrors())
		assert.Len(t, r.Warnings, 3)

		r = Compare(after, before)
		assert.True(t, r.HasErrors())
		assert.True(t, r.HasBreakingChanges())
		assert.Contains(t, r.String(), "tags: table dropped [BREAKING]")
		assert.Contains(t, r.String(), "users.name: column dropped")

		r = Compare(after, before, AllowDropTable(), AllowDropColumn(), AllowDropIndex())
		assert.False(t, r.HasErrors())
		assert.True(t, r.HasWarnings())
	})
}

func TestLint(t *testing.T) {
	snap := &Snapshot{Tables: []*Table{
		{Name: "logs", Columns: []*Column{{Name: "msg", Type: "TEXT", Nullable: true}}},
		{
			Name:        "posts",
			PrimaryKey:  []string{"id"},
			Columns:     []*Column{{Name: "id", Type: "INTEGER"}, {Name: "user_id", Type: "INTEGER"}},
			ForeignKeys: []*ForeignKey{{Columns: []string{"user_id"}, RefTable: "users", RefColumns: []string{"id"}}},
		},
	}}
	r := Lint(snap)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "logs: table has no primary key", r.Warnings[0].Error())
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0].Error(), `non-existent table "users"`)
}
