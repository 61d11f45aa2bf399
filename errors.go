package sqlforge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors. Every typed error below reports true for
// errors.Is against its sentinel.
var (
	// ErrNotFound is returned when a `one` query matched no rows.
	ErrNotFound = errors.New("sqlforge: row not found")

	// ErrNotSingular is returned when a `one` query matched more than one row.
	ErrNotSingular = errors.New("sqlforge: row not singular")

	// ErrConstraintViolation is returned when a write violates a unique, foreign-key,
	// check, not-null or trigger-raised constraint.
	ErrConstraintViolation = errors.New("sqlforge: constraint violation")

	// ErrInvalidEnumValue is returned when a value is outside an enum domain.
	ErrInvalidEnumValue = errors.New("sqlforge: invalid enum value")

	// ErrCancelled is returned when the caller's context ended before the operation completed.
	ErrCancelled = errors.New("sqlforge: operation cancelled")

	// ErrStorageUnavailable is returned when the database cannot be reached.
	ErrStorageUnavailable = errors.New("sqlforge: storage unavailable")

	// ErrMigrationFailed is returned when a migration script fails.
	ErrMigrationFailed = errors.New("sqlforge: migration failed")

	// ErrDirtyState is returned when a previous migration did not complete.
	ErrDirtyState = errors.New("sqlforge: dirty migration state")

	// ErrInvalidTarget is returned when a migration target is rejected.
	ErrInvalidTarget = errors.New("sqlforge: invalid migration target")

	// ErrUnresolvedIdentifier is returned by the compiler for unknown tables or columns.
	ErrUnresolvedIdentifier = errors.New("sqlforge: unresolved identifier")

	// ErrArityMismatch is returned by the compiler when placeholders and parameters disagree.
	ErrArityMismatch = errors.New("sqlforge: arity mismatch")
)

// NotFoundError represents a `one` query that returned no rows.
type NotFoundError struct {
	label string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sqlforge: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the query or entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// NewNotFoundError returns a new NotFoundError for the given label.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents a `one` query that returned more than one row.
type NotSingularError struct {
	label string
	count int // -1 if unknown
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("sqlforge: %s not singular (got %d rows, expected 1)", e.label, e.count)
	}
	return fmt.Sprintf("sqlforge: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Label returns the query label.
func (e *NotSingularError) Label() string {
	return e.label
}

// Count returns the number of rows seen, or -1 if unknown.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularError returns a new NotSingularError for the given label.
func NewNotSingularError(label string) *NotSingularError {
	return &NotSingularError{label: label, count: -1}
}

// NewNotSingularErrorWithCount returns a new NotSingularError with the row count.
func NewNotSingularErrorWithCount(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// ConstraintKind identifies the class of a violated constraint.
type ConstraintKind string

// Constraint kinds.
const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintPrimaryKey ConstraintKind = "primary_key"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintCheck      ConstraintKind = "check"
	ConstraintNotNull    ConstraintKind = "not_null"
	ConstraintTrigger    ConstraintKind = "trigger"
	ConstraintOther      ConstraintKind = "other"
)

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	kind ConstraintKind
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("sqlforge: %s constraint failed: %s", e.kind, e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// Is reports whether the target error matches ConstraintError.
func (e ConstraintError) Is(err error) bool {
	return err == ErrConstraintViolation
}

// Kind returns the violated constraint class.
func (e ConstraintError) Kind() ConstraintKind {
	return e.kind
}

// NewConstraintError returns a new ConstraintError with the given kind and message.
func NewConstraintError(kind ConstraintKind, msg string, wrap error) error {
	return ConstraintError{kind: kind, msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// EnumError is returned when a value falls outside an enum domain, either
// while compiling a literal or while decoding a stored value.
type EnumError struct {
	Type  string
	Value string
}

// Error returns the error string.
func (e *EnumError) Error() string {
	return fmt.Sprintf("sqlforge: invalid value %q for enum %s", e.Value, e.Type)
}

// Is reports whether the target error matches EnumError.
func (e *EnumError) Is(err error) bool {
	return err == ErrInvalidEnumValue
}

// NewEnumError returns a new EnumError.
func NewEnumError(typ, value string) *EnumError {
	return &EnumError{Type: typ, Value: value}
}

// IsEnumError returns true if the error is an EnumError.
func IsEnumError(err error) bool {
	if err == nil {
		return false
	}
	var e *EnumError
	return errors.As(err, &e) || errors.Is(err, ErrInvalidEnumValue)
}

// CancelledError wraps a context error. Both ErrCancelled and the
// underlying context error match with errors.Is.
type CancelledError struct {
	Cause error
}

// Error returns the error string.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("sqlforge: cancelled: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches CancelledError.
func (e *CancelledError) Is(err error) bool {
	return err == ErrCancelled
}

// NewCancelledError returns a new CancelledError. A nil cause defaults to context.Canceled.
func NewCancelledError(cause error) *CancelledError {
	if cause == nil {
		cause = context.Canceled
	}
	return &CancelledError{Cause: cause}
}

// IsCancelled returns true if the error is a CancelledError or a bare context error.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// StorageError is returned when the database cannot be opened or reached.
type StorageError struct {
	Op    string
	Cause error
}

// Error returns the error string.
func (e *StorageError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("sqlforge: storage unavailable (%s): %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("sqlforge: storage unavailable: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches StorageError.
func (e *StorageError) Is(err error) bool {
	return err == ErrStorageUnavailable
}

// NewStorageError returns a new StorageError.
func NewStorageError(op string, cause error) *StorageError {
	return &StorageError{Op: op, Cause: cause}
}

// IsStorageUnavailable returns true if the error is a StorageError.
func IsStorageUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var e *StorageError
	return errors.As(err, &e) || errors.Is(err, ErrStorageUnavailable)
}

// Direction is the direction a migration is applied in.
type Direction string

// Migration directions.
const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// MigrationError is returned when a migration script fails. The state is
// left dirty until an operator repairs it.
type MigrationError struct {
	Version   uint64
	Name      string
	Direction Direction
	Cause     error
}

// Error returns the error string.
func (e *MigrationError) Error() string {
	return fmt.Sprintf("sqlforge: migration %d_%s (%s) failed: %v", e.Version, e.Name, e.Direction, e.Cause)
}

// Unwrap returns the underlying error.
func (e *MigrationError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches MigrationError.
func (e *MigrationError) Is(err error) bool {
	return err == ErrMigrationFailed
}

// IsMigrationFailed returns true if the error is a MigrationError.
func IsMigrationFailed(err error) bool {
	if err == nil {
		return false
	}
	var e *MigrationError
	return errors.As(err, &e)
}

// DirtyStateError is returned when a mutating migration operation finds an
// interrupted migration.
type DirtyStateError struct {
	Version uint64
}

// Error returns the error string. It tells the operator how to recover.
func (e *DirtyStateError) Error() string {
	return fmt.Sprintf("sqlforge: database is dirty at version %d: a migration did not complete; "+
		"inspect the schema, repair it by hand, then run `sqlforge migrate force <version>`", e.Version)
}

// Is reports whether the target error matches DirtyStateError.
func (e *DirtyStateError) Is(err error) bool {
	return err == ErrDirtyState
}

// IsDirtyState returns true if the error is a DirtyStateError.
func IsDirtyState(err error) bool {
	if err == nil {
		return false
	}
	var e *DirtyStateError
	return errors.As(err, &e)
}

// InvalidTargetError is returned by target validation.
type InvalidTargetError struct {
	Current uint64
	Target  uint64
	Reason  string
}

// Error returns the error string.
func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("sqlforge: invalid migration target %d (current %d): %s", e.Target, e.Current, e.Reason)
}

// Is reports whether the target error matches InvalidTargetError.
func (e *InvalidTargetError) Is(err error) bool {
	return err == ErrInvalidTarget
}

// IsInvalidTarget returns true if the error is an InvalidTargetError.
func IsInvalidTarget(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidTargetError
	return errors.As(err, &e)
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "sqlforge: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("sqlforge: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
