package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sqlforge/migrate"
)

func store(t *testing.T, ups ...string) *migrate.Store {
	t.Helper()
	var ms []*migrate.Migration
	for i, up := range ups {
		ms = append(ms, migrate.NewMigration(uint64(i+1), "m", up, ""))
	}
	s, err := migrate.NewStore(ms...)
	require.NoError(t, err)
	return s
}

func TestBuild(t *testing.T) {
	cat, err := Build(store(t, `
CREATE TABLE users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  email TEXT NOT NULL UNIQUE,
  name VARCHAR(255),
  role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'member')),
  active BOOLEAN NOT NULL DEFAULT 1,
  score DOUBLE PRECISION,
  avatar BLOB,
  meta,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE posts (
  id INTEGER PRIMARY KEY,
  user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
  slug TEXT NOT NULL,
  status TEXT NOT NULL,
  title TEXT NOT NULL,
  title_len INTEGER GENERATED ALWAYS AS (length(title)) VIRTUAL,
  CONSTRAINT posts_status CHECK (status IN ('draft', 'published')),
  UNIQUE (user_id, slug)
) STRICT;
CREATE TRIGGER posts_ai AFTER INSERT ON posts BEGIN
  UPDATE users SET name = name WHERE id = NEW.user_id;
END;
INSERT INTO users (email) VALUES ('root@example.com');
`, `
ALTER TABLE users ADD COLUMN bio TEXT;
ALTER TABLE posts RENAME COLUMN title TO headline;
CREATE UNIQUE INDEX users_name ON users (name COLLATE NOCASE);
CREATE UNIQUE INDEX posts_live ON posts (slug) WHERE status = 'published';
CREATE INDEX posts_lower ON posts (lower(slug));
`))
	require.NoError(t, err)
	require.Len(t, cat.Tables, 2)

	users := cat.Table("users")
	require.NotNil(t, users)
	var names []string
	for _, c := range users.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "email", "name", "role", "active", "score", "avatar", "meta", "created_at", "bio"}, names)

	id := users.Column("id")
	assert.Equal(t, TypeInt, id.Type)
	assert.True(t, id.PrimaryKey)
	assert.False(t, id.Nullable())
	assert.Equal(t, []string{"id"}, users.PrimaryKey)

	email := users.Column("email")
	assert.Equal(t, TypeString, email.Type)
	assert.True(t, email.NotNull)
	assert.True(t, email.Unique)

	assert.Equal(t, "VARCHAR(255)", users.Column("name").DeclType)
	assert.True(t, users.Column("name").Nullable())
	assert.Equal(t, []string{"admin", "member"}, users.Column("role").Enum)
	assert.True(t, users.Column("role").HasDefault)
	assert.Equal(t, TypeBool, users.Column("active").Type)
	assert.Equal(t, TypeFloat, users.Column("score").Type)
	assert.Equal(t, TypeBytes, users.Column("avatar").Type)
	assert.Equal(t, TypeAny, users.Column("meta").Type)
	assert.Equal(t, TypeTime, users.Column("created_at").Type)
	assert.Equal(t, [][]string{{"id"}, {"email"}, {"name"}}, users.Keys())

	posts := cat.Table("posts")
	require.NotNil(t, posts)
	assert.True(t, posts.Strict)
	assert.Nil(t, posts.Column("title"))
	assert.NotNil(t, posts.Column("headline"))
	assert.True(t, posts.Column("title_len").Generated)
	assert.Equal(t, []string{"draft", "published"}, posts.Column("status").Enum)
	fk := posts.Column("user_id").References
	require.NotNil(t, fk)
	assert.Equal(t, ForeignKey{Table: "users", Column: "id", OnDelete: "CASCADE"}, *fk)
	assert.Equal(t, [][]string{{"id"}, {"user_id", "slug"}}, posts.Keys(), "partial and expression indexes are not keys")
}

func TestBuildRenameAndDrop(t *testing.T) {
	cat, err := Build(store(t,
		`CREATE TABLE a (id INTEGER PRIMARY KEY, v TEXT); CREATE TABLE b (id INTEGER PRIMARY KEY, a_id INTEGER REFERENCES a);`,
		`ALTER TABLE a RENAME TO things; ALTER TABLE things DROP COLUMN v;`,
		`CREATE TABLE tmp (x INT); DROP TABLE tmp; DROP TABLE IF EXISTS nope;`,
	))
	require.NoError(t, err)
	require.Len(t, cat.Tables, 2)
	assert.Nil(t, cat.Table("a"))
	things := cat.Table("things")
	require.NotNil(t, things)
	assert.Len(t, things.Columns, 1)
	assert.Equal(t, "things", cat.Table("b").Column("a_id").References.Table)
	assert.Equal(t, "id", cat.Table("b").Column("a_id").References.Column)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		ups  []string
		err  string
	}{
		{
			name: "unknown table",
			ups:  []string{`ALTER TABLE ghosts ADD COLUMN x TEXT;`},
			err:  `catalog: migration 1_m: 1:13: no such table "ghosts"`,
		},
		{
			name: "duplicate table",
			ups:  []string{"CREATE TABLE t (id INT);", "\nCREATE TABLE t (id INT);"},
			err:  `catalog: migration 2_m: 2:14: table "t" already exists`,
		},
		{
			name: "bad column constraint",
			ups:  []string{`CREATE TABLE t (id INT PRIMARY KEY, x TEXT DEFAULT 1 WIBBLE);`},
			err:  `unexpected "WIBBLE"`,
		},
		{
			name: "drop unknown column",
			ups:  []string{`CREATE TABLE t (id INT); ALTER TABLE t DROP COLUMN y;`},
			err:  `no such column "y"`,
		},
		{
			name: "lex error",
			ups:  []string{`CREATE TABLE t (name TEXT DEFAULT 'oops);`},
			err:  "catalog: migration 1_m: 1:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(store(t, tt.ups...))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Build(store(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT);`))
	require.NoError(t, err)
	b, err := Build(store(t, `CREATE TABLE t (id INTEGER PRIMARY KEY,
  name TEXT);`))
	require.NoError(t, err)
	c, err := Build(store(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`))
	require.NoError(t, err)

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	fc, err := c.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb, "formatting does not change the fingerprint")
	assert.NotEqual(t, fa, fc)
	assert.Len(t, fa, 64)
}

func TestAffinity(t *testing.T) {
	for decl, want := range map[string]Type{
		"INTEGER":          TypeInt,
		"BIGINT":           TypeInt,
		"UNSIGNED BIG INT": TypeInt,
		"NVARCHAR(100)":    TypeString,
		"CLOB":             TypeString,
		"BLOB":             TypeBytes,
		"REAL":             TypeFloat,
		"DECIMAL(10,5)":    TypeFloat,
		"BOOLEAN":          TypeBool,
		"TIMESTAMP":        TypeTime,
		"":                 TypeAny,
	} {
		assert.Equal(t, want, Affinity(decl), decl)
	}
}
