package activitypub

import (
	"errors"
	"fmt"

	"github.com/deemkeen/hutgate/origin"
)

var (
	// ErrInvalidReference marks a malformed object identifier.
	ErrInvalidReference = errors.New("invalid object reference")
	// ErrMalformed marks a payload that could not be decoded.
	ErrMalformed = errors.New("malformed payload")
	// ErrVerification marks a signature or domain mismatch. Never retried.
	ErrVerification = errors.New("verification failed")
	// ErrUpstream marks an unreachable origin service or remote server.
	ErrUpstream = errors.New("upstream unavailable")
	// ErrNotFound is returned where a missing object makes an activity
	// impossible to apply. Resolvers report absence as a nil result instead.
	ErrNotFound = errors.New("object not found")
	// ErrUnsupported marks an activity or object type this gateway ignores.
	ErrUnsupported = errors.New("unsupported type")
)

// originError classifies an error from an origin service call.
func originError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, origin.ErrConflict):
		return err
	case errors.Is(err, origin.ErrInvalid):
		return fmt.Errorf("%w: %s: %w", ErrMalformed, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
	}
}

// IsRetryable reports whether the failed operation may succeed later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstream)
}
