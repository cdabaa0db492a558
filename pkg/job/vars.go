package job

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyBody Error
	ErrEmptyBody = errors.New("message has no body")
	// ErrMissingID Error
	ErrMissingID = errors.New("id is required")
	// ErrInvalidID Error
	ErrInvalidID = errors.New("id must be a string or an integer")
	// ErrInvalidPath Error
	ErrInvalidPath = errors.New("path must be relative and stay inside the repository")
	// ErrInvalidEnv Error
	ErrInvalidEnv = errors.New("envVars must map names to string values")
	// ErrFieldCase Error
	ErrFieldCase = errors.New("field names are case sensitive")
)

// MalformedJobError is returned when a message body can not be turned into a
// BuildJob. Such a message can never succeed and is not retried.
type MalformedJobError struct {
	Reason string
	Err    error
}

func (e *MalformedJobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed build job: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed build job: %s", e.Reason)
}

func (e *MalformedJobError) Unwrap() error {
	return e.Err
}

func malformed(reason string, err error) error {
	return &MalformedJobError{Reason: reason, Err: err}
}
