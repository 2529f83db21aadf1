package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/activitypub"
)

const (
	// SubjectInboxPrefix carries raw activities from a trusted relay.
	SubjectInboxPrefix     = "federation.inbox."
	SubjectListingsCreated = "listings.created"
	SubjectUsersFollow     = "users.follow"
)

// ListingCreated announces a listing created by a local actor.
type ListingCreated struct {
	ApId string `json:"ap_id"`
}

// FollowRequested asks for the local Actor to follow Object, given as an
// actor id or a handle.
type FollowRequested struct {
	Actor  string `json:"actor"`
	Object string `json:"object"`
}

// Handler applies ingested events to the federation.
type Handler struct {
	fed *activitypub.Federation
}

func NewHandler(fed *activitypub.Federation) *Handler {
	return &Handler{fed: fed}
}

// Handle dispatches one event by subject. Unknown subjects are ignored.
func (h *Handler) Handle(ctx context.Context, subject string, data []byte) error {
	switch {
	case strings.HasPrefix(subject, SubjectInboxPrefix):
		return h.relayed(ctx, data)

	case subject == SubjectListingsCreated:
		var ev ListingCreated
		if err := decodeEvent(data, &ev); err != nil {
			return err
		}
		if ev.ApId == "" {
			return fmt.Errorf("%w: listing event without ap_id", activitypub.ErrMalformed)
		}
		return activitypub.PublishListing(ctx, h.fed, ev.ApId)

	case subject == SubjectUsersFollow:
		var ev FollowRequested
		if err := decodeEvent(data, &ev); err != nil {
			return err
		}
		if ev.Actor == "" || ev.Object == "" {
			return fmt.Errorf("%w: follow event needs actor and object", activitypub.ErrMalformed)
		}
		return activitypub.FollowRemote(ctx, h.fed, ev.Actor, ev.Object)

	default:
		log.Debugf("Ingest: Ignoring message on %s", subject)
		return nil
	}
}

// relayed processes an activity from a relay that already authenticated it.
func (h *Handler) relayed(ctx context.Context, data []byte) error {
	activity, err := activitypub.ParseActivity(data)
	if err != nil {
		return err
	}
	log.Infof("Ingest: Relayed %s from %s", activity.Kind(), activity.ActorId())
	return activitypub.Process(ctx, h.fed, activity, data)
}

func decodeEvent(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", activitypub.ErrMalformed, err)
	}
	return nil
}
