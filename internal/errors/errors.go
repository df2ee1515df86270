// Package errors categorizes the failures surfaced by the render core.
//
// Every failure returned by setup, task creation or task start carries one of the
// categories below so callers can tell a bad configuration apart from resource
// exhaustion without string matching. DegradedExecution is not a failure: it is
// used for diagnostics when an auxiliary task leaves the deterministic domain.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category identifies the class of a core error
type Category string

const (
	CategoryConfiguration     Category = "configuration"
	CategoryResource          Category = "resource"
	CategoryRuntimeFault      Category = "runtime-fault"
	CategoryDegradedExecution Category = "degraded-execution"
	CategoryState             Category = "state"
)

// Error wraps an underlying error with its category and the operation that produced it
type Error struct {
	Category Category
	Op       string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same category, then falls back to the wrapped error
func (e *Error) Is(target error) bool {
	var other *Error
	if stderrors.As(target, &other) && other.Err == nil {
		return e.Category == other.Category
	}
	return false
}

// Wrap attaches a category and operation to err. A nil err yields nil.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Op: op, Err: err}
}

// Configuration wraps err as a configuration error
func Configuration(op string, err error) error {
	return Wrap(CategoryConfiguration, op, err)
}

// Resource wraps err as a resource provisioning error
func Resource(op string, err error) error {
	return Wrap(CategoryResource, op, err)
}

// RuntimeFault wraps err as a fault raised outside the core
func RuntimeFault(op string, err error) error {
	return Wrap(CategoryRuntimeFault, op, err)
}

// State wraps err as an invalid lifecycle transition
func State(op string, err error) error {
	return Wrap(CategoryState, op, err)
}

// CategoryOf returns the category of the outermost categorized error in err's chain
func CategoryOf(err error) Category {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category
	}
	return ""
}

// IsConfiguration reports whether err is a configuration error
func IsConfiguration(err error) bool { return CategoryOf(err) == CategoryConfiguration }

// IsResource reports whether err is a resource error
func IsResource(err error) bool { return CategoryOf(err) == CategoryResource }

// IsRuntimeFault reports whether err is a runtime fault
func IsRuntimeFault(err error) bool { return CategoryOf(err) == CategoryRuntimeFault }

// IsState reports whether err is an invalid lifecycle transition
func IsState(err error) bool { return CategoryOf(err) == CategoryState }

// New is errors.New from the standard library
func New(text string) error { return stderrors.New(text) }

// Is is errors.Is from the standard library
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is errors.As from the standard library
func As(err error, target any) bool { return stderrors.As(err, target) }
