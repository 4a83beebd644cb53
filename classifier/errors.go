package classifier

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork covers transport failures, timeouts and non-2xx responses.
	ErrNetwork = errors.New("classifier: network failure")
	// ErrMalformedResponse means the body lacked a boolean "productive" field.
	ErrMalformedResponse = errors.New("classifier: malformed response")
	// ErrUnexpectedFeedback is returned by DeriveLabel for combinations
	// outside the label table. The label falls back to false.
	ErrUnexpectedFeedback = errors.New("classifier: unexpected feedback combination")
	// ErrEmptyFeedback rejects feedback records without text.
	ErrEmptyFeedback = errors.New("classifier: feedback text is empty")
)

// StatusError is returned when the service answers with a non-2xx status.
// It matches ErrNetwork under errors.Is.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("classifier: %s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("classifier: %s: status %d: %s", e.Op, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrNetwork }
