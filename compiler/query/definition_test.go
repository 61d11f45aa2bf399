package query

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sqlforge/compiler/catalog"
)

func TestParse(t *testing.T) {
	defs, errs := Parse(Source{Name: "users.sql", Text: `-- name: GetUserByEmail :one
-- Fetch a user by address.
-- Addresses are unique.
SELECT * FROM users WHERE email = ?;

-- name: UpdateUser :ONE
-- params: name?, bio:text?, id
UPDATE users
SET name = ?, bio = ?
WHERE id = ?
RETURNING *;

-- name: DeleteAll :exec
DELETE FROM users
`})
	require.Empty(t, errs)
	require.Len(t, defs, 3)

	get := defs[0]
	assert.Equal(t, "GetUserByEmail", get.Name)
	assert.Equal(t, One, get.Cardinality)
	assert.Equal(t, []string{"Fetch a user by address.", "Addresses are unique."}, get.Doc)
	assert.Nil(t, get.Params)
	assert.Equal(t, "SELECT * FROM users WHERE email = ?", get.SQL())
	assert.Equal(t, "users.sql", get.Source)
	assert.Equal(t, 1, get.Pos.Line)

	upd := defs[1]
	assert.Equal(t, One, upd.Cardinality)
	assert.Empty(t, upd.Doc)
	assert.Equal(t, []ParamDecl{
		{Name: "name", Optional: true},
		{Name: "bio", Type: catalog.TypeString, Optional: true},
		{Name: "id"},
	}, upd.Params)
	assert.Equal(t, "UPDATE users\nSET name = ?, bio = ?\nWHERE id = ?\nRETURNING *", upd.SQL())

	del := defs[2]
	assert.Equal(t, Exec, del.Cardinality)
	assert.Equal(t, "DELETE FROM users", del.SQL())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		msg  string
	}{
		{
			name: "malformed directive",
			text: "-- name: Get User :one\nSELECT 1",
			msg:  "malformed directive",
		},
		{
			name: "unknown cardinality",
			text: "-- name: GetUser :some\nSELECT 1",
			msg:  `unknown cardinality ":some"`,
		},
		{
			name: "statement outside definition",
			text: "SELECT 1;\n-- name: GetUser :one\nSELECT 1",
			msg:  "statement outside a query definition",
		},
		{
			name: "empty statement",
			text: "-- name: GetUser :one\n;",
			msg:  "empty statement",
		},
		{
			name: "two statements",
			text: "-- name: GetUser :one\nSELECT 1; SELECT 2",
			msg:  "single statement",
		},
		{
			name: "unknown param type",
			text: "-- name: GetUser :one\n-- params: id:uuid\nSELECT ?",
			msg:  `unknown type "uuid"`,
		},
		{
			name: "duplicate param",
			text: "-- name: GetUser :one\n-- params: id, id\nSELECT ?, ?",
			msg:  "declared twice",
		},
		{
			name: "empty param entry",
			text: "-- name: GetUser :one\n-- params: id,\nSELECT ?",
			msg:  "empty entry",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := Parse(Source{Name: "q.sql", Text: tt.text})
			require.NotEmpty(t, errs)
			assert.Equal(t, KindDefinition, errs[0].Kind)
			assert.Contains(t, errs[0].Msg, tt.msg)
			assert.Equal(t, "q.sql", errs[0].Pos.Filename)
		})
	}
}

func TestLoadSources(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "queries/posts.sql", []byte("-- name: A :exec\nDELETE FROM posts"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "queries/authors.sql", []byte("-- name: B :exec\nDELETE FROM authors"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "queries/README.md", []byte("notes"), 0o644))

	srcs, err := LoadSources(fs, "queries")
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	assert.Equal(t, "authors.sql", srcs[0].Name)
	assert.Equal(t, "posts.sql", srcs[1].Name)

	_, err = LoadSources(fs, "missing")
	require.Error(t, err)
}
