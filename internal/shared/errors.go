package shared

import "errors"

// Error kinds shared by every module. Concrete errors declared by a module
// match both their own sentinel and one of these kinds via errors.Is.
var (
	// ErrNotFound indicates a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates rejected input. No state was changed.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict indicates an operation not allowed in the entity's current state.
	ErrStateConflict = errors.New("state conflict")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// Validation builds a sentinel error of kind ErrValidation.
func Validation(msg string) error { return &kindError{kind: ErrValidation, msg: msg} }

// Conflict builds a sentinel error of kind ErrStateConflict.
func Conflict(msg string) error { return &kindError{kind: ErrStateConflict, msg: msg} }

// NotFound builds a sentinel error of kind ErrNotFound.
func NotFound(msg string) error { return &kindError{kind: ErrNotFound, msg: msg} }

// KindOf reports which shared kind err belongs to, or nil for unclassified errors.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrStateConflict):
		return ErrStateConflict
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	}
	return nil
}
