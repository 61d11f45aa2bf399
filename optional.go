package sqlforge

import "fmt"

// optionalState distinguishes the three states of an Optional.
type optionalState uint8

const (
	unset optionalState = iota
	null
	present
)

// Optional is a parameter value that may be unset, explicitly null, or
// present. The zero value is unset.
//
// Optional parameters are used for partial updates: an unset field keeps
// the stored value, Null writes NULL, and a present value is written as is.
type Optional[T any] struct {
	state optionalState
	value T
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{state: present, value: v}
}

// Null returns an Optional that writes NULL.
func Null[T any]() Optional[T] {
	return Optional[T]{state: null}
}

// Unset returns an Optional that leaves the stored value untouched.
func Unset[T any]() Optional[T] {
	return Optional[T]{}
}

// FromPtr returns Null for a nil pointer and Some(*p) otherwise.
func FromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return Null[T]()
	}
	return Some(*p)
}

// IsSet reports whether the value is null or present.
func (o Optional[T]) IsSet() bool { return o.state != unset }

// IsNull reports whether the value is an explicit null.
func (o Optional[T]) IsNull() bool { return o.state == null }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.state == present
}

// Args returns the two positional arguments bound for the optional:
// the set flag and the value (nil when unset or null).
func (o Optional[T]) Args() (bool, any) {
	if o.state != present {
		return o.state == null, nil
	}
	return true, o.value
}

// String implements fmt.Stringer.
func (o Optional[T]) String() string {
	switch o.state {
	case null:
		return "null"
	case present:
		return fmt.Sprint(o.value)
	default:
		return "unset"
	}
}
