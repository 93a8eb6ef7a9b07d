package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrTimeout              = errors.New("timeout")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
)

// The helpers below build errors whose Error() is the client-facing message
// while errors.Is still reports the kind.

func NotFound(msg string) error {
	return errors.Mark(errors.New(msg), ErrNotFound)
}

func Forbidden(msg string) error {
	return errors.Mark(errors.New(msg), ErrForbidden)
}

func Invalid(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidInput)
}

func Conflict(msg string) error {
	return errors.Mark(errors.New(msg), ErrConflict)
}

// IsRetryable reports whether the caller may repeat the whole operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerializationFailure) || errors.Is(err, ErrTimeout)
}
