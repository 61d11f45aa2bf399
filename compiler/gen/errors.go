package gen

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors of this package.
var (
	ErrInvalidOption    = errors.New("gen: invalid option")
	ErrGenerationFailed = errors.New("gen: generation failed")
)

// Phase is the step of a generator run that failed.
type Phase string

// Generator phases.
const (
	PhaseRender Phase = "render"
	PhaseFormat Phase = "format"
	PhaseWrite  Phase = "write"
	PhaseCheck  Phase = "check"
)

// OptionError is an Option given a value the generator cannot use.
type OptionError struct {
	Option string
	Value  any
	Reason string
}

// Error implements the error interface.
func (e *OptionError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("gen: %s: %s", e.Option, e.Reason)
	}
	return fmt.Sprintf("gen: %s %v: %s", e.Option, e.Value, e.Reason)
}

// Is matches ErrInvalidOption.
func (e *OptionError) Is(target error) bool {
	return target == ErrInvalidOption
}

// FileError is a failure to render, format, write or check one output
// file. File is a directory when the failure is not tied to a single file.
type FileError struct {
	Phase Phase
	File  string
	Err   error
}

// Error implements the error interface.
func (e *FileError) Error() string {
	return fmt.Sprintf("gen: %s %s: %v", e.Phase, e.File, e.Err)
}

// Unwrap returns the underlying error.
func (e *FileError) Unwrap() error { return e.Err }

// Is matches ErrGenerationFailed.
func (e *FileError) Is(target error) bool {
	return target == ErrGenerationFailed
}

func optionErr(option string, value any, reason string) error {
	return &OptionError{Option: option, Value: value, Reason: reason}
}

// fileErr wraps err for file in phase. A non-empty what prefixes err.
func fileErr(phase Phase, file, what string, err error) error {
	if what != "" {
		err = fmt.Errorf("%s: %w", what, err)
	}
	return &FileError{Phase: phase, File: file, Err: err}
}
