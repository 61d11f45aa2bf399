package sql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/syssam/sqlforge"
)

// errorCoder is implemented by modernc.org/sqlite errors. Code returns the
// extended result code.
type errorCoder interface {
	Code() int
}

// ClassifyError maps a driver error onto the sqlforge error taxonomy:
// constraint failures become sqlforge.ConstraintError, context errors
// become *sqlforge.CancelledError, and open/corruption failures become
// *sqlforge.StorageError. Already classified and unknown errors are
// returned unchanged.
func ClassifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case isClassified(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return sqlforge.NewCancelledError(err)
	case errors.Is(err, sql.ErrConnDone):
		return sqlforge.NewStorageError("conn", err)
	}
	if kind, ok := constraintKind(err); ok {
		return sqlforge.NewConstraintError(kind, constraintMessage(err), err)
	}
	if isStorageError(err) {
		return sqlforge.NewStorageError("", err)
	}
	return err
}

func isClassified(err error) bool {
	return sqlforge.IsConstraintError(err) ||
		errors.Is(err, sqlforge.ErrCancelled) ||
		errors.Is(err, sqlforge.ErrStorageUnavailable)
}

// constraintKind reports the constraint class of err, if it is a constraint failure.
func constraintKind(err error) (sqlforge.ConstraintKind, bool) {
	if e, ok := asError[errorCoder](err); ok {
		switch e.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return sqlforge.ConstraintUnique, true
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_ROWID:
			return sqlforge.ConstraintPrimaryKey, true
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return sqlforge.ConstraintForeignKey, true
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return sqlforge.ConstraintCheck, true
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return sqlforge.ConstraintNotNull, true
		case sqlite3.SQLITE_CONSTRAINT_TRIGGER:
			return sqlforge.ConstraintTrigger, true
		}
	}
	// Fallback to string matching for primary result codes and foreign driver errors.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return sqlforge.ConstraintUnique, true
	case strings.Contains(msg, "PRIMARY KEY constraint failed"):
		return sqlforge.ConstraintPrimaryKey, true
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return sqlforge.ConstraintForeignKey, true
	case strings.Contains(msg, "CHECK constraint failed"):
		return sqlforge.ConstraintCheck, true
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return sqlforge.ConstraintNotNull, true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return sqlforge.ConstraintOther, true
	}
	return "", false
}

// constraintMessage strips the driver prefix and result code from the message.
func constraintMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, "constraint failed: "); i >= 0 {
		msg = msg[i+len("constraint failed: "):]
	}
	if i := strings.LastIndex(msg, " ("); i > 0 && strings.HasSuffix(msg, ")") {
		msg = msg[:i]
	}
	return msg
}

func isStorageError(err error) bool {
	if e, ok := asError[errorCoder](err); ok {
		switch e.Code() & 0xff {
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_IOERR:
			return true
		}
	}
	return containsAny(err.Error(),
		"unable to open database file",
		"file is not a database",
		"sql: database is closed",
	)
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	_, ok := constraintKind(err)
	return ok || sqlforge.IsConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool {
	return isKind(err, sqlforge.ConstraintUnique) || isKind(err, sqlforge.ConstraintPrimaryKey)
}

// IsForeignKeyConstraintError reports if the error resulted from a foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool {
	return isKind(err, sqlforge.ConstraintForeignKey)
}

// IsCheckConstraintError reports if the error resulted from a check constraint violation.
func IsCheckConstraintError(err error) bool {
	return isKind(err, sqlforge.ConstraintCheck)
}

func isKind(err error, kind sqlforge.ConstraintKind) bool {
	if err == nil {
		return false
	}
	var ce sqlforge.ConstraintError
	if errors.As(err, &ce) {
		return ce.Kind() == kind
	}
	k, ok := constraintKind(err)
	return ok && k == kind
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
