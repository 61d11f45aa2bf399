package query

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/syssam/sqlforge"
)

// ErrorKind classifies a compile error.
type ErrorKind int

// Compile error kinds.
const (
	// KindDefinition is a malformed query definition: a bad directive, an
	// unknown cardinality, a duplicate name or an empty statement.
	KindDefinition ErrorKind = iota
	// KindSyntax is SQL the analyzer cannot parse.
	KindSyntax
	// KindUnresolved is an unknown or ambiguous table, column or alias.
	KindUnresolved
	// KindArity is a disagreement between placeholders and parameters.
	KindArity
	// KindEnum is a literal outside the domain of an enum column.
	KindEnum
	// KindUnsupported is a construct the analyzer cannot type.
	KindUnsupported
)

var kindNames = [...]string{"definition", "syntax", "unresolved identifier", "arity mismatch", "invalid enum value", "unsupported"}

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a single compile failure. It names the query it belongs to.
type Error struct {
	Kind  ErrorKind
	Query string
	Pos   lexer.Position
	Msg   string
	// Ident is the offending identifier of KindUnresolved errors.
	Ident string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Pos.Filename != "" {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.Pos.Filename, e.Pos.Line, e.Pos.Column)
	}
	if e.Query != "" {
		fmt.Fprintf(&b, "query %s: ", e.Query)
	}
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Msg)
	return b.String()
}

// Is matches the sentinel of the error kind.
func (e *Error) Is(err error) bool {
	switch e.Kind {
	case KindUnresolved:
		return err == sqlforge.ErrUnresolvedIdentifier
	case KindArity:
		return err == sqlforge.ErrArityMismatch
	case KindEnum:
		return err == sqlforge.ErrInvalidEnumValue
	default:
		return false
	}
}

// CompileErrors lists every failure of a compilation.
type CompileErrors struct {
	Errors []*Error
}

// Error implements the error interface.
func (e *CompileErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d compile errors:", len(e.Errors))
	for _, err := range e.Errors {
		b.WriteString("\n  ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the individual errors.
func (e *CompileErrors) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err
	}
	return errs
}

// Of returns the errors of the given kind.
func (e *CompileErrors) Of(kind ErrorKind) []*Error {
	var out []*Error
	for _, err := range e.Errors {
		if err.Kind == kind {
			out = append(out, err)
		}
	}
	return out
}
