package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MikeSquared-Agency/ferry/internal/ledger"
	"github.com/MikeSquared-Agency/ferry/internal/transport"
)

// Kind classifies an entity failure.
type Kind int

const (
	// Transient means retries were exhausted. Ends the run.
	Transient Kind = iota + 1
	// Validation means the destination rejected the entity. Only that entity is skipped.
	Validation
	// Configuration means credentials or ids are wrong. Ends the run.
	Configuration
	// DataShape means a response could not be interpreted. Only that entity is skipped.
	DataShape
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Validation:
		return "validation"
	case Configuration:
		return "configuration"
	case DataShape:
		return "data_shape"
	default:
		return "unknown"
	}
}

// Error is an entity-level failure tagged with its source id.
type Error struct {
	Kind     Kind
	Entity   ledger.Entity
	SourceID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Entity, e.SourceID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the failure must end the run.
func (e *Error) Fatal() bool {
	return e.Kind == Transient || e.Kind == Configuration
}

// IsFatal reports whether err ends the run. Errors that are not *Error, such as ledger
// write failures, are always fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Fatal()
	}
	return true
}

// Classify maps a destination error onto the failure taxonomy.
func Classify(err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch {
		case terr.Kind == transport.Transient:
			return Transient
		case terr.Status == http.StatusUnauthorized, terr.Status == http.StatusForbidden:
			return Configuration
		default:
			return Validation
		}
	}
	return DataShape
}

func fatal(err error) bool {
	k := Classify(err)
	return k == Transient || k == Configuration
}

func newError(entity ledger.Entity, sourceID string, err error) *Error {
	return &Error{Kind: Classify(err), Entity: entity, SourceID: sourceID, Err: err}
}
