// Package dialect holds the engine seam of sqlforge.
//
// Migrations, the query compiler and the derived-state maintainer talk to
// the database only through the interfaces declared here. Engine specific
// syntax and capabilities live behind Engine, and dialect/sql provides the
// SQLite implementation.
//
// Statements run through an ExecQuerier:
//
//	var res sql.Result
//	err := ex.Exec(ctx, "DELETE FROM posts WHERE id = ?", []any{id}, &res)
//
// Driver and Tx both satisfy ExecQuerier, which is what generated accessors
// accept, so an accessor call behaves the same on either.
//
// Engine reports whether DDL is transactional, the order in which same
// event triggers fire and how to toggle and check foreign keys. It also
// renders trigger DDL:
//
//	ddl := eng.CreateTrigger(&dialect.Trigger{
//		Name:   "category_tree_after_insert",
//		Table:  "categories",
//		Timing: dialect.After,
//		Event:  dialect.Insert,
//		Body:   []string{"INSERT INTO category_closure ..."},
//	})
//
// See dialect/sql for the database/sql driver with its writer slot and
// reader cap, and dialect/sql/schema for schema snapshots.
package dialect
