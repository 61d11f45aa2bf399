// Package sqlforge holds the error taxonomy and the small set of value
// types shared by the migration engine, the query compiler and the
// accessors it generates.
//
// Errors come in pairs: a sentinel such as ErrNotFound for errors.Is, and a
// typed error such as *NotFoundError carrying details. Each typed error
// matches its sentinel, and an IsX helper accepts either form:
//
//	row, err := q.GetUserByEmail(ctx, "a@example.com")
//	switch {
//	case sqlforge.IsNotFound(err):
//	    // no such user
//	case sqlforge.IsConstraintError(err):
//	    // write rejected by the database
//	}
package sqlforge
