package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/syssam/sqlforge"
	"github.com/syssam/sqlforge/compiler/catalog"
	"github.com/syssam/sqlforge/compiler/query"
)

// Exit codes.
const (
	ExitSuccess = 0
	ExitGeneral = 1
	ExitConfig  = 2
	ExitCompile = 3
	ExitDirty   = 4
	// ExitDrift reports generated code or derived state out of date.
	ExitDrift = 5
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ConfigError creates an ExitError with ExitConfig code.
func ConfigError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Err: err}
}

// DriftError creates an ExitError with ExitDrift code.
func DriftError(msg string) *ExitError {
	return &ExitError{Code: ExitDrift, Message: msg}
}

// exitCode returns the process exit code of err.
func exitCode(err error) int {
	var (
		exitErr    *ExitError
		compileErr *query.CompileErrors
		catalogErr *catalog.Error
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	case sqlforge.IsDirtyState(err):
		return ExitDirty
	case errors.As(err, &compileErr), errors.As(err, &catalogErr):
		return ExitCompile
	default:
		return ExitGeneral
	}
}

// printError prints err to w. Compile errors are listed one per line so
// editors can jump to their positions.
func printError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	var ce *query.CompileErrors
	if errors.As(err, &ce) {
		red.Fprintf(w, "Error: %d compile error(s)\n", len(ce.Errors))
		for _, e := range ce.Errors {
			fmt.Fprintf(w, "  %v\n", e)
		}
		return
	}
	red.Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
	if sqlforge.IsDirtyState(err) {
		yellow := color.New(color.FgYellow)
		yellow.Fprintln(w, "The database needs manual repair. Run `sqlforge migrate status` to see the failed version.")
	}
}
