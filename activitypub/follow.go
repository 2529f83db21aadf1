package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/origin"
	"golang.org/x/sync/errgroup"
)

type Follow struct {
	Id     string            `json:"id"`
	Type   string            `json:"type"`
	Actor  string            `json:"actor"`
	Object string            `json:"object"`
	To     OneOrMany[string] `json:"to,omitempty"`
}

func (f *Follow) ActivityId() string { return f.Id }
func (f *Follow) ActorId() string    { return f.Actor }
func (f *Follow) ObjectId() string   { return f.Object }
func (f *Follow) Kind() string       { return TypeFollow }
func (*Follow) activity()            {}

// NewFollow builds a Follow of target by follower with a fresh id.
func NewFollow(fed *Federation, follower, target *domain.Actor) *Follow {
	return &Follow{
		Id:     fed.NewObjectId(),
		Type:   TypeFollow,
		Actor:  follower.ApId,
		Object: target.ApId,
		To:     OneOrMany[string]{target.ApId},
	}
}

func (f *Follow) verify(_ context.Context, _ *Federation) error {
	_, err := ParseReference(f.Object)
	return err
}

// receive records the follower on the local target and answers with an
// Accept. The Accept is only sent once the follow is stored; a follow
// that already exists counts as stored.
func (f *Follow) receive(ctx context.Context, fed *Federation) error {
	target, err := ResolveActor(ctx, fed, f.Object)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("%w: follow target %s", ErrNotFound, f.Object)
	}
	if !target.Local {
		return fmt.Errorf("%w: follow target %s is not a local actor", ErrInvalidReference, f.Object)
	}

	var (
		updated  *domain.Actor
		follower *domain.Actor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := fed.Users.FollowUser(gctx, target.ApId, f.Actor)
		switch {
		case errors.Is(err, origin.ErrConflict):
			log.Debugf("Inbox: %s already follows %s", f.Actor, target.ApId)
			return nil
		case err != nil:
			return originError("follow user", err)
		case u == nil:
			return fmt.Errorf("%w: follow target %s", ErrNotFound, target.ApId)
		}
		updated = u
		return nil
	})
	g.Go(func() error {
		a, err := ResolveActor(gctx, fed, f.Actor)
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("%w: follower %s", ErrNotFound, f.Actor)
		}
		follower = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if updated != nil {
		storeCached(ctx, fed, updated, actorKeys(updated)...)
		log.Infof("Inbox: %s now follows %s", follower.ApId, target.ApId)
	}

	accept := &Accept{
		Id:     fed.NewObjectId(),
		Type:   TypeAccept,
		Actor:  target.ApId,
		Object: *f,
		To:     OneOrMany[string]{follower.ApId},
	}
	return Send(ctx, fed, target, accept, []string{follower.SharedInboxOrInbox()}, false)
}
