package sqlforge_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sqlforge"
)

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := sqlforge.NewNotFoundError("GetUserByEmail")
		assert.Equal(t, "sqlforge: GetUserByEmail not found", err.Error())
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := sqlforge.NewNotFoundError("GetUser")
		assert.True(t, errors.Is(err, sqlforge.ErrNotFound))
		assert.True(t, sqlforge.IsNotFound(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, sqlforge.IsNotFound(sqlforge.ErrNotFound))
		assert.False(t, sqlforge.IsNotFound(errors.New("other error")))
		assert.False(t, sqlforge.IsNotFound(nil))
	})
}

func TestNotSingularError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		assert.Equal(t, "sqlforge: GetPost not singular", sqlforge.NewNotSingularError("GetPost").Error())
		assert.Equal(t, "sqlforge: GetPost not singular (got 2 rows, expected 1)",
			sqlforge.NewNotSingularErrorWithCount("GetPost", 2).Error())
	})

	t.Run("IsNotSingular", func(t *testing.T) {
		err := sqlforge.NewNotSingularErrorWithCount("GetPost", 3)
		assert.True(t, sqlforge.IsNotSingular(fmt.Errorf("wrapper: %w", err)))
		assert.Equal(t, 3, err.Count())
		assert.False(t, sqlforge.IsNotSingular(sqlforge.ErrNotFound))
	})
}

func TestConstraintError(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed: users.email")
	err := sqlforge.NewConstraintError(sqlforge.ConstraintUnique, "users.email", cause)

	assert.Equal(t, "sqlforge: unique constraint failed: users.email", err.Error())
	assert.True(t, sqlforge.IsConstraintError(err))
	assert.True(t, errors.Is(err, sqlforge.ErrConstraintViolation))
	assert.True(t, errors.Is(err, cause))

	var ce sqlforge.ConstraintError
	require.True(t, errors.As(fmt.Errorf("insert: %w", err), &ce))
	assert.Equal(t, sqlforge.ConstraintUnique, ce.Kind())
	assert.False(t, sqlforge.IsConstraintError(nil))
}

func TestEnumError(t *testing.T) {
	err := sqlforge.NewEnumError("UserStatus", "deleted")
	assert.Equal(t, `sqlforge: invalid value "deleted" for enum UserStatus`, err.Error())
	assert.True(t, sqlforge.IsEnumError(err))
	assert.True(t, errors.Is(err, sqlforge.ErrInvalidEnumValue))
}

func TestCancelledError(t *testing.T) {
	t.Run("wraps context errors", func(t *testing.T) {
		err := sqlforge.NewCancelledError(context.DeadlineExceeded)
		assert.True(t, errors.Is(err, sqlforge.ErrCancelled))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.True(t, sqlforge.IsCancelled(err))
	})

	t.Run("defaults to canceled", func(t *testing.T) {
		err := sqlforge.NewCancelledError(nil)
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("bare context error", func(t *testing.T) {
		assert.True(t, sqlforge.IsCancelled(fmt.Errorf("query: %w", context.Canceled)))
		assert.False(t, sqlforge.IsCancelled(errors.New("boom")))
	})
}

func TestStorageError(t *testing.T) {
	err := sqlforge.NewStorageError("open", errors.New("unable to open database file"))
	assert.Equal(t, "sqlforge: storage unavailable (open): unable to open database file", err.Error())
	assert.True(t, sqlforge.IsStorageUnavailable(fmt.Errorf("status: %w", err)))
	assert.False(t, sqlforge.IsStorageUnavailable(errors.New("other")))
}

func TestMigrationErrors(t *testing.T) {
	t.Run("MigrationError", func(t *testing.T) {
		cause := errors.New("no such table: users")
		err := &sqlforge.MigrationError{Version: 3, Name: "add_posts", Direction: sqlforge.DirectionUp, Cause: cause}
		assert.Equal(t, "sqlforge: migration 3_add_posts (up) failed: no such table: users", err.Error())
		assert.True(t, errors.Is(err, sqlforge.ErrMigrationFailed))
		assert.True(t, errors.Is(err, cause))
		assert.True(t, sqlforge.IsMigrationFailed(err))
	})

	t.Run("DirtyStateError", func(t *testing.T) {
		err := &sqlforge.DirtyStateError{Version: 2}
		assert.Contains(t, err.Error(), "dirty at version 2")
		assert.Contains(t, err.Error(), "sqlforge migrate force")
		assert.True(t, sqlforge.IsDirtyState(fmt.Errorf("up: %w", err)))
		assert.True(t, errors.Is(err, sqlforge.ErrDirtyState))
	})

	t.Run("InvalidTargetError", func(t *testing.T) {
		err := &sqlforge.InvalidTargetError{Current: 5, Target: 3, Reason: "target is below current version"}
		assert.Equal(t, "sqlforge: invalid migration target 3 (current 5): target is below current version", err.Error())
		assert.True(t, sqlforge.IsInvalidTarget(err))
		assert.False(t, sqlforge.IsDirtyState(err))
	})
}

func TestAggregateError(t *testing.T) {
	t.Run("nil when empty", func(t *testing.T) {
		assert.NoError(t, sqlforge.NewAggregateError(nil, nil))
	})

	t.Run("single error passes through", func(t *testing.T) {
		e := errors.New("one")
		assert.Equal(t, e, sqlforge.NewAggregateError(nil, e))
	})

	t.Run("multiple errors", func(t *testing.T) {
		e1, e2 := errors.New("first"), errors.New("second")
		err := sqlforge.NewAggregateError(e1, e2)
		var agg *sqlforge.AggregateError
		require.True(t, errors.As(err, &agg))
		assert.Len(t, agg.Errors, 2)
		assert.Contains(t, err.Error(), "[1] first")
		assert.Contains(t, err.Error(), "[2] second")
		assert.True(t, errors.Is(err, e2))
	})
}

func TestOptional(t *testing.T) {
	t.Run("zero value is unset", func(t *testing.T) {
		var o sqlforge.Optional[string]
		assert.False(t, o.IsSet())
		set, v := o.Args()
		assert.False(t, set)
		assert.Nil(t, v)
		assert.Equal(t, "unset", o.String())
	})

	t.Run("null", func(t *testing.T) {
		o := sqlforge.Null[string]()
		assert.True(t, o.IsSet())
		assert.True(t, o.IsNull())
		set, v := o.Args()
		assert.True(t, set)
		assert.Nil(t, v)
	})

	t.Run("some", func(t *testing.T) {
		o := sqlforge.Some("bio")
		got, ok := o.Get()
		assert.True(t, ok)
		assert.Equal(t, "bio", got)
		set, v := o.Args()
		assert.True(t, set)
		assert.Equal(t, "bio", v)
	})

	t.Run("from pointer", func(t *testing.T) {
		assert.True(t, sqlforge.FromPtr[int](nil).IsNull())
		n := 7
		got, ok := sqlforge.FromPtr(&n).Get()
		assert.True(t, ok)
		assert.Equal(t, 7, got)
	})
}

func TestScanEnum(t *testing.T) {
	valid := func(s string) bool { return s == "active" || s == "banned" }

	s, err := sqlforge.ScanEnum("UserStatus", []byte("active"), valid)
	require.NoError(t, err)
	assert.Equal(t, "active", s)

	_, err = sqlforge.ScanEnum("UserStatus", "ghost", valid)
	assert.True(t, sqlforge.IsEnumError(err))

	_, err = sqlforge.ScanEnum("UserStatus", nil, valid)
	assert.True(t, sqlforge.IsEnumError(err))
}
