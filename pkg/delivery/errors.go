package delivery

import (
	"errors"
	"fmt"

	"courier/pkg/store"
)

var (
	// ErrValidation marks requests rejected before any durable write.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks operations on a user or message that does not exist.
	ErrNotFound = errors.New("not found")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// translate maps store errors onto the engine taxonomy and leaves
// transient failures untouched.
func translate(what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, store.ErrReplyOutsideConversation):
		return invalid("reply_to", err.Error())
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
