package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind int

const (
	// Transient covers network failures and 429/500/502/503, retried before surfacing.
	Transient Kind = iota + 1
	// Validation is any 4xx other than 429. Never retried.
	Validation
	// Permanent is every other failure, including unexpected statuses.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Validation:
		return "validation"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is returned by Client.Do for every failed call.
type Error struct {
	Kind     Kind
	Method   string
	Path     string
	Status   int
	Body     string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		body := e.Body
		if len(body) > 300 {
			body = body[:300] + "..."
		}
		return fmt.Sprintf("%s %s: %s error %d: %s", e.Method, e.Path, e.Kind, e.Status, body)
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Method, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a transport error of the given kind.
func IsKind(err error, kind Kind) bool {
	var terr *Error
	return errors.As(err, &terr) && terr.Kind == kind
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Status
	}
	return 0
}
