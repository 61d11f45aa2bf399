package sql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/sqlforge"
)

// codedError mimics the modernc.org/sqlite error type.
type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() int     { return e.code }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(*testing.T, error)
	}{
		{
			name: "nil",
			err:  nil,
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "unique by code",
			err:  &codedError{code: 2067, msg: "constraint failed: UNIQUE constraint failed: users.email (2067)"},
			check: func(t *testing.T, err error) {
				var ce sqlforge.ConstraintError
				assert.True(t, errors.As(err, &ce))
				assert.Equal(t, sqlforge.ConstraintUnique, ce.Kind())
				assert.Equal(t, "sqlforge: unique constraint failed: UNIQUE constraint failed: users.email", err.Error())
			},
		},
		{
			name: "trigger abort",
			err:  &codedError{code: 1811, msg: "constraint failed: category cycle (1811)"},
			check: func(t *testing.T, err error) {
				var ce sqlforge.ConstraintError
				assert.True(t, errors.As(err, &ce))
				assert.Equal(t, sqlforge.ConstraintTrigger, ce.Kind())
			},
		},
		{
			name: "primary constraint code",
			err:  &codedError{code: 19, msg: "constraint failed"},
			check: func(t *testing.T, err error) {
				var ce sqlforge.ConstraintError
				assert.True(t, errors.As(err, &ce))
				assert.Equal(t, sqlforge.ConstraintOther, ce.Kind())
			},
		},
		{
			name: "foreign key by message",
			err:  errors.New("FOREIGN KEY constraint failed"),
			check: func(t *testing.T, err error) {
				assert.True(t, IsForeignKeyConstraintError(err))
			},
		},
		{
			name: "context canceled",
			err:  fmt.Errorf("exec: %w", context.Canceled),
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, sqlforge.ErrCancelled))
				assert.True(t, errors.Is(err, context.Canceled))
			},
		},
		{
			name: "cannot open",
			err:  &codedError{code: 14, msg: "unable to open database file"},
			check: func(t *testing.T, err error) {
				assert.True(t, sqlforge.IsStorageUnavailable(err))
			},
		},
		{
			name: "already classified",
			err:  sqlforge.NewStorageError("open", errors.New("x")),
			check: func(t *testing.T, err error) {
				var se *sqlforge.StorageError
				assert.True(t, errors.As(err, &se))
				assert.Equal(t, "open", se.Op)
			},
		},
		{
			name: "unknown passes through",
			err:  errors.New("near \"SELEC\": syntax error"),
			check: func(t *testing.T, err error) {
				assert.False(t, sqlforge.IsConstraintError(err))
				assert.EqualError(t, err, "near \"SELEC\": syntax error")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ClassifyError(tt.err))
		})
	}
}
