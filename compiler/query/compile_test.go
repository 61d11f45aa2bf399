package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sqlforge"
	"github.com/syssam/sqlforge/compiler/catalog"
	"github.com/syssam/sqlforge/migrate"
)

const blogSchema = `
CREATE TABLE users (
  id INTEGER PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT,
  bio TEXT,
  role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'member'))
);
CREATE TABLE posts (
  id INTEGER PRIMARY KEY,
  user_id INTEGER NOT NULL REFERENCES users (id),
  title TEXT NOT NULL,
  score REAL NOT NULL DEFAULT 0
);
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	s, err := migrate.NewStore(migrate.NewMigration(1, "init", blogSchema, ""))
	require.NoError(t, err)
	cat, err := catalog.Build(s)
	require.NoError(t, err)
	return cat
}

func compile(t *testing.T, text string) (*Package, error) {
	t.Helper()
	return Compile(testCatalog(t), []Source{{Name: "queries.sql", Text: text}})
}

func mustCompile(t *testing.T, text string) *Package {
	t.Helper()
	pkg, err := compile(t, text)
	require.NoError(t, err)
	return pkg
}

func compileErrors(t *testing.T, text string) *CompileErrors {
	t.Helper()
	pkg, err := compile(t, text)
	require.Error(t, err)
	require.Nil(t, pkg)
	var cerr *CompileErrors
	require.ErrorAs(t, err, &cerr)
	return cerr
}

func TestCompileModels(t *testing.T) {
	pkg := mustCompile(t, "")
	require.Len(t, pkg.Models, 2)
	user := pkg.Model("users")
	require.NotNil(t, user)
	assert.Equal(t, "User", user.Name)
	var fields []string
	for _, f := range user.Fields {
		fields = append(fields, f.Name)
	}
	assert.Equal(t, []string{"ID", "Email", "Name", "Bio", "Role"}, fields)
	assert.True(t, user.Fields[2].Nullable)
	assert.False(t, user.Fields[0].Nullable)

	require.Len(t, pkg.Enums, 1)
	role := pkg.Enums[0]
	assert.Equal(t, "UserRole", role.Name)
	assert.Equal(t, []string{"admin", "member"}, role.Values)
	assert.Same(t, role, user.Fields[4].Enum)
	assert.NotEmpty(t, pkg.Fingerprint)
	require.Len(t, pkg.Files, 1)
	assert.Equal(t, "queries", pkg.Files[0].Name)
}

func TestCompileSelectOne(t *testing.T) {
	pkg := mustCompile(t, `
-- name: GetUserByEmail :one
-- Returns the user with the given address.
SELECT * FROM users WHERE email = ?;
`)
	qs := pkg.Queries()
	require.Len(t, qs, 1)
	q := qs[0]
	assert.Equal(t, "GetUserByEmail", q.Name)
	assert.Equal(t, One, q.Cardinality)
	assert.Equal(t, Select, q.Kind)
	assert.Equal(t, "SELECT * FROM users WHERE email = ?", q.SQL)
	assert.Equal(t, []string{"Returns the user with the given address."}, q.Doc)
	assert.Empty(t, q.Risk)

	require.Len(t, q.Params, 1)
	p := q.Params[0]
	assert.Equal(t, "email", p.Name)
	assert.Equal(t, "Email", p.Field)
	assert.Equal(t, catalog.TypeString, p.Type)
	assert.False(t, p.Nullable)
	assert.Equal(t, "users.email", p.Column)
	assert.Equal(t, []Bind{{Param: 0}}, q.Binds)

	require.NotNil(t, q.Result)
	assert.False(t, q.Result.Composite())
	assert.Same(t, pkg.Model("users"), q.Result.Model)
	require.Len(t, q.Result.Columns, 5)
	assert.Equal(t, "ID", q.Result.Columns[0].Field)
	assert.True(t, q.Result.Columns[2].Nullable)
	assert.Same(t, pkg.Enums[0], q.Result.Columns[4].Enum)
}

func TestCompileComposite(t *testing.T) {
	pkg := mustCompile(t, `
-- name: ListPostsByUser :many
SELECT posts.id, posts.title, users.email, length(posts.title) AS title_len
FROM posts JOIN users ON users.id = posts.user_id
WHERE users.id = :user_id
ORDER BY posts.id;
`)
	q := pkg.Queries()[0]
	assert.Equal(t, "SELECT posts.id, posts.title, users.email, length(posts.title) AS title_len\nFROM posts JOIN users ON users.id = posts.user_id\nWHERE users.id = ?\nORDER BY posts.id", q.SQL)
	require.Len(t, q.Params, 1)
	assert.Equal(t, "user_id", q.Params[0].Name)
	assert.Equal(t, "UserID", q.Params[0].Field)
	assert.Equal(t, catalog.TypeInt, q.Params[0].Type)

	r := q.Result
	require.True(t, r.Composite())
	require.Len(t, r.Groups, 2)
	assert.Equal(t, "Post", r.Groups[0].Field)
	assert.Equal(t, "User", r.Groups[1].Field)
	assert.Len(t, r.Groups[0].Columns, 2)
	assert.Len(t, r.Groups[1].Columns, 1)
	assert.Nil(t, r.Groups[0].Model)

	top := r.TopLevel()
	require.Len(t, top, 1)
	assert.Equal(t, "TitleLen", top[0].Field)
	assert.Equal(t, catalog.TypeInt, top[0].Type)
}

func TestCompileLeftJoin(t *testing.T) {
	pkg := mustCompile(t, `
-- name: ListUsersWithPosts :many
SELECT u.*, p.title
FROM users u LEFT JOIN posts p ON p.user_id = u.id;
`)
	r := pkg.Queries()[0].Result
	require.Len(t, r.Groups, 2)
	assert.Equal(t, "U", r.Groups[0].Field)
	assert.Same(t, pkg.Model("users"), r.Groups[0].Model)
	assert.Equal(t, "P", r.Groups[1].Field)
	require.Len(t, r.Groups[1].Columns, 1)
	title := r.Groups[1].Columns[0]
	assert.Equal(t, catalog.TypeString, title.Type)
	assert.True(t, title.Nullable, "columns of the optional side of a LEFT JOIN are nullable")
}

func TestCompileWrites(t *testing.T) {
	pkg := mustCompile(t, `
-- name: CreateUser :one
INSERT INTO users (email, name) VALUES (?, ?) RETURNING id;

-- name: DeletePost :exec
DELETE FROM posts WHERE id = ?;

-- name: AddPosts :batch
INSERT INTO posts (user_id, title) VALUES (?, ?);

-- name: PromoteAll :exec
UPDATE users SET role = 'admin' WHERE email LIKE ?;
`)
	qs := pkg.Queries()
	require.Len(t, qs, 4)

	create := qs[0]
	assert.Equal(t, Insert, create.Kind)
	assert.Empty(t, create.Risk)
	require.Len(t, create.Params, 2)
	assert.Equal(t, "email", create.Params[0].Name)
	assert.False(t, create.Params[0].Nullable)
	assert.Equal(t, "name", create.Params[1].Name)
	assert.True(t, create.Params[1].Nullable)
	require.Len(t, create.Result.Columns, 1)
	assert.Equal(t, "ID", create.Result.Columns[0].Field)

	del := qs[1]
	assert.Equal(t, Delete, del.Kind)
	assert.Nil(t, del.Result)
	assert.Equal(t, catalog.TypeInt, del.Params[0].Type)

	batch := qs[2]
	assert.Equal(t, Batch, batch.Cardinality)
	require.Len(t, batch.Params, 2)
	assert.Equal(t, "UserID", batch.Params[0].Field)

	promote := qs[3]
	assert.Equal(t, Update, promote.Kind)
	assert.Equal(t, "email", promote.Params[0].Name)
}

func TestCompileOptionalParams(t *testing.T) {
	pkg := mustCompile(t, `
-- name: UpdateUser :one
-- params: name?, bio?, id
UPDATE users SET name = ?, bio = ? WHERE id = ? RETURNING *;
`)
	q := pkg.Queries()[0]
	assert.Equal(t, "UPDATE users SET name = CASE WHEN ? THEN ? ELSE name END, bio = CASE WHEN ? THEN ? ELSE bio END WHERE id = ? RETURNING *", q.SQL)
	assert.Equal(t, []Bind{
		{Param: 0, Flag: true}, {Param: 0},
		{Param: 1, Flag: true}, {Param: 1},
		{Param: 2},
	}, q.Binds)
	require.Len(t, q.Params, 3)
	assert.True(t, q.Params[0].Optional)
	assert.Equal(t, 2, q.Params[0].Args)
	assert.False(t, q.Params[0].Nullable)
	assert.False(t, q.Params[2].Optional)
	assert.Empty(t, q.Risk)
	assert.Same(t, pkg.Model("users"), q.Result.Model)
}

func TestCompileOptionalOutsideSet(t *testing.T) {
	cerr := compileErrors(t, `
-- name: FindUser :one
-- params: email?
SELECT * FROM users WHERE email = ?;
`)
	require.Len(t, cerr.Errors, 1)
	assert.Equal(t, KindUnsupported, cerr.Errors[0].Kind)
	assert.Equal(t, "FindUser", cerr.Errors[0].Query)
}

func TestCompileParamNumbering(t *testing.T) {
	pkg := mustCompile(t, `
-- name: Between :many
SELECT id FROM posts WHERE score BETWEEN ? AND ? AND user_id = :user AND id <> :user LIMIT ? OFFSET ?;

-- name: Numbered :many
SELECT id FROM posts WHERE user_id = ?2 AND title = ?1;

-- name: Typed :one
SELECT CAST(? AS INTEGER) AS n;
`)
	qs := pkg.Queries()

	between := qs[0]
	var names []string
	for _, p := range between.Params {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"score", "score2", "user", "limit", "offset"}, names)
	assert.Equal(t, catalog.TypeFloat, between.Params[0].Type)
	assert.Equal(t, catalog.TypeInt, between.Params[3].Type)
	assert.Equal(t, []Bind{{Param: 0}, {Param: 1}, {Param: 2}, {Param: 2}, {Param: 3}, {Param: 4}}, between.Binds)

	numbered := qs[1]
	require.Len(t, numbered.Params, 2)
	assert.Equal(t, "title", numbered.Params[0].Name)
	assert.Equal(t, "user_id", numbered.Params[1].Name)
	assert.Equal(t, []Bind{{Param: 1}, {Param: 0}}, numbered.Binds)
	assert.Equal(t, "SELECT id FROM posts WHERE user_id = ? AND title = ?", numbered.SQL)

	typed := qs[2]
	assert.Equal(t, "arg1", typed.Params[0].Name)
	assert.Equal(t, catalog.TypeInt, typed.Params[0].Type)
	assert.Equal(t, catalog.TypeInt, typed.Result.Columns[0].Type)
	assert.False(t, typed.Result.Columns[0].Nullable)
	assert.Empty(t, typed.Risk)
}

func TestCompileRisk(t *testing.T) {
	pkg := mustCompile(t, `
-- name: GetUserByName :one
SELECT * FROM users WHERE name = ?;

-- name: FirstUserByName :one
SELECT * FROM users WHERE name = ? LIMIT 1;

-- name: CountUsers :one
SELECT count(*) AS n FROM users;

-- name: GetUser :one
SELECT * FROM users WHERE id = ? AND name = ?;
`)
	qs := pkg.Queries()
	assert.Contains(t, qs[0].Risk, "users")
	assert.Empty(t, qs[1].Risk)
	assert.Empty(t, qs[2].Risk)
	assert.Equal(t, catalog.TypeInt, qs[2].Result.Columns[0].Type)
	assert.Empty(t, qs[3].Risk)
}

func TestCompileEnum(t *testing.T) {
	pkg := mustCompile(t, `
-- name: ListAdmins :many
SELECT id FROM users WHERE role = 'admin';

-- name: ListByRole :many
SELECT id FROM users WHERE role IN (?, 'member');
`)
	assert.Same(t, pkg.Enums[0], pkg.Queries()[1].Params[0].Enum)

	cerr := compileErrors(t, `
-- name: ListOwners :many
SELECT id FROM users WHERE role = 'owner';
`)
	require.Len(t, cerr.Errors, 1)
	e := cerr.Errors[0]
	assert.Equal(t, KindEnum, e.Kind)
	assert.Equal(t, "owner", e.Ident)
	assert.ErrorIs(t, cerr, sqlforge.ErrInvalidEnumValue)
}

func TestCompileUnresolved(t *testing.T) {
	cerr := compileErrors(t, `
-- name: Good :one
SELECT * FROM users WHERE id = ?;

-- name: BadColumn :many
SELECT nickname FROM users;

-- name: BadTable :many
SELECT * FROM comments;

-- name: Ambiguous :many
SELECT id FROM users JOIN posts ON posts.user_id = users.id;
`)
	unresolved := cerr.Of(KindUnresolved)
	require.Len(t, unresolved, 3)
	assert.Equal(t, "BadColumn", unresolved[0].Query)
	assert.Equal(t, "nickname", unresolved[0].Ident)
	assert.Equal(t, "comments", unresolved[1].Ident)
	assert.Equal(t, "id", unresolved[2].Ident)
	assert.True(t, errors.Is(cerr, sqlforge.ErrUnresolvedIdentifier))
	assert.Contains(t, cerr.Error(), "queries.sql:6:8")
}

func TestCompileArity(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"values", "-- name: A :exec\nINSERT INTO users (email, name) VALUES (?);"},
		{"select", "-- name: A :exec\nINSERT INTO users (email, name) SELECT email FROM users;"},
		{"gap", "-- name: A :many\nSELECT id FROM users WHERE id = ?2;"},
		{"declared", "-- name: A :many\n-- params: a, b\nSELECT id FROM users WHERE id = ?;"},
		{"row value", "-- name: A :exec\nUPDATE users SET (name, bio) = (?, ?, ?);"},
		{"batch", "-- name: A :batch\nDELETE FROM posts;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cerr := compileErrors(t, tt.text)
			require.NotEmpty(t, cerr.Of(KindArity))
			assert.ErrorIs(t, cerr, sqlforge.ErrArityMismatch)
		})
	}
}

func TestCompileDefinitionErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		kind ErrorKind
		msg  string
	}{
		{"no rows", "-- name: A :one\nDELETE FROM posts WHERE id = ?;", KindDefinition, "returns no rows"},
		{"exec select", "-- name: A :exec\nSELECT 1 AS one;", KindDefinition, ":exec cannot run a SELECT"},
		{"untyped param", "-- name: A :one\nSELECT ? AS x;", KindUnsupported, "cannot infer the type of parameter"},
		{"untyped column", "-- name: A :one\nSELECT NULL AS x;", KindUnsupported, "cannot infer the type of result column"},
		{"syntax", "-- name: A :one\nSELECT FROM;", KindSyntax, ""},
		{"cte", "-- name: A :many\nWITH x AS (SELECT 1) SELECT * FROM x;", KindUnsupported, "common table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cerr := compileErrors(t, tt.text)
			require.Len(t, cerr.Errors, 1)
			assert.Equal(t, tt.kind, cerr.Errors[0].Kind)
			assert.Contains(t, cerr.Errors[0].Msg, tt.msg)
			assert.Equal(t, "A", cerr.Errors[0].Query)
		})
	}
}

func TestCompileDuplicateName(t *testing.T) {
	cat := testCatalog(t)
	_, err := Compile(cat, []Source{
		{Name: "a.sql", Text: "-- name: GetUser :one\nSELECT * FROM users WHERE id = ?;"},
		{Name: "b.sql", Text: "-- name: get_user :one\nSELECT * FROM users WHERE email = ?;"},
	})
	var cerr *CompileErrors
	require.ErrorAs(t, err, &cerr)
	require.Len(t, cerr.Errors, 1)
	assert.Equal(t, KindDefinition, cerr.Errors[0].Kind)
	assert.Contains(t, cerr.Errors[0].Msg, "a.sql:1")
}
