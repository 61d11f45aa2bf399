package gen

import (
	"context"
	"errors"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sqlforge/compiler/catalog"
	"github.com/syssam/sqlforge/compiler/query"
	"github.com/syssam/sqlforge/migrate"
)

const schema = `
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

const queries = `
-- name: GetUserByEmail :one
-- GetUserByEmail returns the user with the given address.
SELECT * FROM users WHERE email = ?;

-- name: GetUserByName :one
SELECT * FROM users WHERE name = ?;

-- name: ListPostsByUser :many
SELECT posts.id, posts.title, users.email, length(posts.title) AS title_len
FROM posts JOIN users ON users.id = posts.user_id
WHERE users.id = :user_id;

-- name: CreateUser :one
INSERT INTO users (email, name) VALUES (?, ?) RETURNING id;

-- name: DeletePost :exec
DELETE FROM posts WHERE id = ?;

-- name: AddPosts :batch
INSERT INTO posts (user_id, title) VALUES (?, ?);

-- name: UpdateUser :one
-- params: name?, bio?, id
UPDATE users SET name = ?, bio = ? WHERE id = ? RETURNING *;
`

func compilePackage(t *testing.T, text string) *query.Package {
	t.Helper()
	s, err := migrate.NewStore(migrate.NewMigration(1, "init", schema, ""))
	require.NoError(t, err)
	cat, err := catalog.Build(s)
	require.NoError(t, err)
	pkg, err := query.Compile(cat, []query.Source{{Name: "users.sql", Text: text}})
	require.NoError(t, err)
	return pkg
}

// squash collapses whitespace runs so assertions do not depend on gofmt
// alignment.
func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func render(t *testing.T, opts ...Option) map[string]string {
	t.Helper()
	g, err := New(compilePackage(t, queries), opts...)
	require.NoError(t, err)
	files, err := g.Render(context.Background())
	require.NoError(t, err)
	out := make(map[string]string, len(files))
	for _, f := range files {
		_, err := parser.ParseFile(token.NewFileSet(), f.Name, f.Content, parser.ParseComments)
		require.NoError(t, err, f.Name)
		out[f.Name] = string(f.Content)
	}
	return out
}

func TestRenderFiles(t *testing.T) {
	files := render(t)
	require.Len(t, files, 3)
	for name, src := range files {
		assert.True(t, strings.HasPrefix(src, "// "+Header+"\n"), name)
		assert.Contains(t, src, "// catalog: ", name)
		assert.Contains(t, src, "package db\n", name)
	}
}

func TestRenderDB(t *testing.T) {
	src := squash(render(t)["db.go"])
	assert.Contains(t, src, "type Queries struct { drv dialect.ExecQuerier }")
	assert.Contains(t, src, "func New(drv dialect.ExecQuerier) *Queries { return &Queries{drv: drv} }")
	assert.Contains(t, src, "func (q *Queries) WithTx(tx dialect.Tx) *Queries { return &Queries{drv: tx} }")
	assert.Contains(t, src, "const Fingerprint = ")
}

func TestRenderModels(t *testing.T) {
	src := squash(render(t)["models.go"])
	assert.Contains(t, src, "type User struct { ID int64 `json:\"id\"` Email string `json:\"email\"` Name *string `json:\"name\"` Bio *string `json:\"bio\"` Role UserRole `json:\"role\"` }")
	assert.Contains(t, src, "var scanUser = accessor.ScanTable[User]{")
	assert.Contains(t, src, "func(r *User) any { return &r.Role },")
	assert.Contains(t, src, "type Post struct {")
	assert.Contains(t, src, "Score float64 `json:\"score\"`")

	// Enum.
	assert.Contains(t, src, "type UserRole string")
	assert.Contains(t, src, "UserRoleAdmin UserRole = \"admin\"")
	assert.Contains(t, src, "UserRoleMember UserRole = \"member\"")
	assert.Contains(t, src, "case UserRoleAdmin, UserRoleMember: return true")
	assert.Contains(t, src, "func (UserRole) Values() []UserRole { return []UserRole{UserRoleAdmin, UserRoleMember} }")
	assert.Contains(t, src, "func (e *UserRole) Scan(src any) error { s, err := sqlforge.ScanEnum(\"UserRole\", src,")
	assert.Contains(t, src, "return nil, sqlforge.NewEnumError(\"UserRole\", string(e))")
}

func TestRenderQueries(t *testing.T) {
	src := squash(render(t)["users.sql.go"])
	assert.Contains(t, src, "// source: users.sql")

	t.Run("one", func(t *testing.T) {
		assert.Contains(t, src, "const getUserByEmail = `SELECT * FROM users WHERE email = ?`")
		assert.Contains(t, src, "// GetUserByEmail returns the user with the given address. func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) { return accessor.One(ctx, q.drv, \"GetUserByEmail\", getUserByEmail, []any{email}, scanUser) }")
	})
	t.Run("risk", func(t *testing.T) {
		assert.Contains(t, src, "// GetUserByName runs the GetUserByName query. // // Warning: the WHERE clause does not pin a primary or unique key of users")
		assert.Contains(t, src, "func (q *Queries) GetUserByName(ctx context.Context, name *string) (User, error)")
	})
	t.Run("many", func(t *testing.T) {
		assert.Contains(t, src, "type ListPostsByUserPost struct { ID int64 `json:\"id\"` Title string `json:\"title\"` }")
		assert.Contains(t, src, "type ListPostsByUserRow struct { Post ListPostsByUserPost `json:\"posts\"` User ListPostsByUserUser `json:\"users\"` TitleLen int64 `json:\"title_len\"` }")
		assert.Contains(t, src, "func(r *ListPostsByUserRow) any { return &r.Post.Title },")
		assert.Contains(t, src, "func (q *Queries) ListPostsByUser(ctx context.Context, userID int64) iter.Seq2[ListPostsByUserRow, error] { return accessor.Many(ctx, q.drv, \"ListPostsByUser\", listPostsByUser, []any{userID}, scanListPostsByUserRow) }")
	})
	t.Run("scalar", func(t *testing.T) {
		assert.Contains(t, src, "type CreateUserParams struct { Email string `json:\"email\"` Name *string `json:\"name\"` }")
		assert.Contains(t, src, "var scanCreateUserRow = accessor.ScanTable[int64]{func(v *int64) any { return v }}")
		assert.Contains(t, src, "func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (int64, error) { return accessor.One(ctx, q.drv, \"CreateUser\", createUser, []any{arg.Email, arg.Name}, scanCreateUserRow) }")
	})
	t.Run("exec", func(t *testing.T) {
		assert.Contains(t, src, "func (q *Queries) DeletePost(ctx context.Context, id int64) (int64, error) { return accessor.Exec(ctx, q.drv, deletePost, []any{id}) }")
	})
	t.Run("batch", func(t *testing.T) {
		assert.Contains(t, src, "type AddPostsParams struct { UserID int64 `json:\"user_id\"` Title string `json:\"title\"` }")
		assert.Contains(t, src, "func (q *Queries) AddPosts(ctx context.Context, args []AddPostsParams) []accessor.BatchResult[int64] { return accessor.Batch(ctx, args, func(ctx context.Context, arg AddPostsParams) (int64, error) { return accessor.Exec(ctx, q.drv, addPosts, []any{arg.UserID, arg.Title}) }) }")
	})
	t.Run("optional", func(t *testing.T) {
		assert.Contains(t, src, "type UpdateUserParams struct { Name sqlforge.Optional[string] `json:\"name\"` Bio sqlforge.Optional[string] `json:\"bio\"` ID int64 `json:\"id\"` }")
		assert.Contains(t, src, "set0, val0 := arg.Name.Args() set1, val1 := arg.Bio.Args() return accessor.One(ctx, q.drv, \"UpdateUser\", updateUser, []any{set0, val0, set1, val1, arg.ID}, scanUser)")
	})
}

func TestRenderPackageName(t *testing.T) {
	files := render(t, WithPackage("store"), WithWorkers(1))
	assert.Contains(t, files["db.go"], "package store\n")
}

func TestNewOptions(t *testing.T) {
	pkg := compilePackage(t, "")
	for _, opt := range []Option{WithPackage("my-db"), WithPackage("type"), WithWorkers(0)} {
		_, err := New(pkg, opt)
		var oerr *OptionError
		require.ErrorAs(t, err, &oerr)
		assert.ErrorIs(t, err, ErrInvalidOption)
	}
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestRenderCancelled(t *testing.T) {
	g, err := New(compilePackage(t, queries))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Render(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLocalName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"email", "email"},
		{"user_id", "userID"},
		{"type", "typeArg"},
		{"ctx", "ctxArg"},
		{"len", "lenArg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, localName(tt.in), tt.in)
	}
	assert.Equal(t, "httpLog", unexport("HTTPLog"))
	assert.Equal(t, "getUser", unexport("GetUser"))
	assert.Equal(t, "id", unexport("ID"))
}

func TestWriteAndCheck(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	dir := filepath.Join("internal", "db")
	g, err := New(compilePackage(t, queries))
	require.NoError(t, err)

	diffs, err := g.Check(ctx, fsys, dir)
	require.NoError(t, err)
	assert.Equal(t, []Diff{
		{File: "db.go", Reason: Missing},
		{File: "models.go", Reason: Missing},
		{File: "users.sql.go", Reason: Missing},
	}, diffs)

	written, err := g.Write(ctx, fsys, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"db.go", "models.go", "users.sql.go"}, written)

	diffs, err = g.Check(ctx, fsys, dir)
	require.NoError(t, err)
	assert.Empty(t, diffs)

	// Unchanged files are not rewritten.
	written, err = g.Write(ctx, fsys, dir)
	require.NoError(t, err)
	assert.Empty(t, written)

	// A hand edit, a stale generated file and a hand-written file.
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(dir, "db.go"), []byte("package db\n"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(dir, "old.sql.go"), []byte("// "+Header+"\n\npackage db\n"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(dir, "helpers.go"), []byte("package db\n"), 0o644))
	diffs, err = g.Check(ctx, fsys, dir)
	require.NoError(t, err)
	assert.Equal(t, []Diff{
		{File: "db.go", Reason: Modified},
		{File: "old.sql.go", Reason: Extraneous},
	}, diffs)

	written, err = g.Write(ctx, fsys, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"db.go"}, written)
	exists, err := afero.Exists(fsys, filepath.Join(dir, "old.sql.go"))
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fsys, filepath.Join(dir, "helpers.go"))
	require.NoError(t, err)
	assert.True(t, exists)
}
