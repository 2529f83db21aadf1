package activitypub

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/cache"
	"github.com/deemkeen/hutgate/domain"
)

// FollowRemote makes the local actor followerId follow target, given as an
// actor id or a handle. The Follow goes through the delivery queue.
func FollowRemote(ctx context.Context, fed *Federation, followerId, target string) error {
	follower, err := resolveLocal(ctx, fed, followerId)
	if err != nil {
		return err
	}

	var other *domain.Actor
	if isReference(target) {
		other, err = ResolveActor(ctx, fed, target)
	} else {
		other, err = ResolveWebfinger(ctx, fed, target)
	}
	if err != nil {
		return err
	}
	if other == nil {
		return fmt.Errorf("%w: follow target %s", ErrNotFound, target)
	}

	follow := NewFollow(fed, follower, other)
	log.Infof("Outbox: %s follows %s", follower.ApId, other.ApId)
	return Send(ctx, fed, follower, follow, []string{other.SharedInboxOrInbox()}, true)
}

// PublishListing announces a freshly created local listing to every follower
// of the author. Origin already holds the listing, so it is only cached.
func PublishListing(ctx context.Context, fed *Federation, listingId string) error {
	listing, err := ResolveListing(ctx, fed, listingId)
	if err != nil {
		return err
	}
	if listing == nil {
		return fmt.Errorf("%w: listing %s", ErrNotFound, listingId)
	}

	author, err := resolveLocal(ctx, fed, listing.AttributedTo)
	if err != nil {
		return err
	}

	create := NewCreateListing(listing, author, fed.NewObjectId())
	if err := Verify(ctx, fed, create); err != nil {
		return err
	}
	storeCached(ctx, fed, listing, cache.ListingById(listing.ApId))

	inboxes := followerInboxes(ctx, fed, author)
	if len(inboxes) == 0 {
		return nil
	}
	log.Infof("Outbox: Announcing %s to %d inboxes", listing.ApId, len(inboxes))
	return Send(ctx, fed, author, create, inboxes, true)
}

// followerInboxes returns the preferred inbox of every follower that still
// resolves. Unresolvable followers are skipped.
func followerInboxes(ctx context.Context, fed *Federation, a *domain.Actor) []string {
	inboxes := make([]string, 0, len(a.Followers))
	for _, id := range a.Followers {
		f, err := ResolveActor(ctx, fed, id)
		if err != nil || f == nil {
			log.Warnf("Outbox: Skipping follower %s: %v", id, err)
			continue
		}
		inboxes = append(inboxes, f.SharedInboxOrInbox())
	}
	return inboxes
}

func resolveLocal(ctx context.Context, fed *Federation, id string) (*domain.Actor, error) {
	if !fed.IsLocal(id) {
		return nil, fmt.Errorf("%w: %s is not a local actor", ErrInvalidReference, id)
	}

	var (
		a   *domain.Actor
		err error
	)
	if name, ok := fed.LocalUsername(id); ok {
		a, err = ResolveLocalActorByName(ctx, fed, name)
	} else {
		a, err = ResolveActor(ctx, fed, id)
	}
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: local actor %s", ErrNotFound, id)
	}
	return a, nil
}
