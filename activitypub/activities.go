package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	TypeFollow = "Follow"
	TypeAccept = "Accept"
	TypeCreate = "Create"
)

// Activity is one of *Follow, *Accept or *Create.
type Activity interface {
	ActivityId() string
	ActorId() string
	Kind() string
	// ObjectId is the id of the object the activity acts upon.
	ObjectId() string
	activity()
}

// ParseActivity decodes an inbound activity. Types other than Follow,
// Accept and Create fail with ErrUnsupported.
func ParseActivity(body []byte) (Activity, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var a Activity
	switch head.Type {
	case TypeFollow:
		a = &Follow{}
	case TypeAccept:
		a = &Accept{}
	case TypeCreate:
		a = &Create{}
	default:
		return nil, fmt.Errorf("%w: activity type %q", ErrUnsupported, head.Type)
	}

	if err := json.Unmarshal(body, a); err != nil {
		if errors.Is(err, ErrUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, head.Type, err)
	}
	if a.ActivityId() == "" || a.ActorId() == "" {
		return nil, fmt.Errorf("%w: %s without id or actor", ErrMalformed, head.Type)
	}
	return a, nil
}

// Verify runs the checks an activity must pass before it is applied.
// Nothing is persisted.
func Verify(ctx context.Context, fed *Federation, a Activity) error {
	if _, err := ParseReference(a.ActorId()); err != nil {
		return err
	}
	if isReference(a.ActivityId()) {
		if err := VerifyDomainsMatch(a.ActivityId(), a.ActorId()); err != nil {
			return err
		}
	}

	switch a := a.(type) {
	case *Follow:
		return a.verify(ctx, fed)
	case *Accept:
		return a.verify(ctx, fed)
	case *Create:
		return a.verify(ctx, fed)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, a)
	}
}

// Receive applies a verified activity.
func Receive(ctx context.Context, fed *Federation, a Activity) error {
	switch a := a.(type) {
	case *Follow:
		return a.receive(ctx, fed)
	case *Accept:
		return a.receive(ctx, fed)
	case *Create:
		return a.receive(ctx, fed)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, a)
	}
}

// isReference reports whether id is a dereferenceable URL rather than an
// opaque identifier such as a urn.
func isReference(id string) bool {
	return strings.HasPrefix(id, "https://") || strings.HasPrefix(id, "http://")
}

// ledgerKey identifies an activity for replay detection. Opaque ids are
// only unique per sender, so they are scoped to the actor.
func ledgerKey(a Activity) string {
	if isReference(a.ActivityId()) {
		return a.ActivityId()
	}
	return a.ActorId() + " " + a.ActivityId()
}
