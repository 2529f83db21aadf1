package activitypub

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/cache"
	"github.com/deemkeen/hutgate/domain"
)

// resolution describes how one kind of object is looked up.
type resolution[T any] struct {
	key   cache.Key
	query func(ctx context.Context) (*T, error)
	// fresh reports whether a stored copy may be served without asking its
	// home server again.
	fresh func(v *T) bool
	// fetch dereferences the remote object and persists it through origin.
	fetch func(ctx context.Context) (*T, error)
	keys  func(v *T) []cache.Key
}

// resolve looks id up in the cache, then the origin services and, for
// remote objects that are unknown or stale, on their home server. A nil
// result without error means the object does not exist.
func resolve[T any](ctx context.Context, fed *Federation, id string, r resolution[T]) (*T, error) {
	if _, err := ParseReference(id); err != nil {
		return nil, err
	}

	if v := loadCached[T](ctx, fed, r.key); v != nil && r.fresh(v) {
		return v, nil
	}

	stored, err := r.query(ctx)
	if err != nil {
		return nil, err
	}

	local := fed.IsLocal(id)
	if stored != nil && (local || r.fresh(stored)) {
		storeCached(ctx, fed, stored, r.keys(stored)...)
		return stored, nil
	}
	if local {
		return nil, nil
	}

	fetched, err := r.fetch(ctx)
	if err != nil {
		if stored != nil && IsRetryable(err) {
			log.Warnf("Resolver: refreshing %s failed, serving stored copy: %v", id, err)
			return stored, nil
		}
		return nil, err
	}
	if fetched == nil {
		return nil, nil
	}

	storeCached(ctx, fed, fetched, r.keys(fetched)...)
	return fetched, nil
}

func loadCached[T any](ctx context.Context, fed *Federation, key cache.Key) *T {
	if fed.Cache == nil {
		return nil
	}
	v, err := cache.Load[T](ctx, fed.Cache, key)
	if err != nil {
		log.Warnf("Cache: read %s: %v", key, err)
		return nil
	}
	return v
}

func storeCached[T any](ctx context.Context, fed *Federation, v *T, keys ...cache.Key) {
	if fed.Cache == nil || v == nil {
		return
	}
	if err := cache.Store(ctx, fed.Cache, v, fed.CacheTTL, keys...); err != nil {
		log.Warnf("Cache: %v", err)
	}
}

func always[T any](*T) bool { return true }

func actorKeys(a *domain.Actor) []cache.Key {
	keys := []cache.Key{cache.UserById(a.ApId)}
	if a.Local && a.Username != "" {
		keys = append(keys, cache.UserByName(a.Username))
	}
	return keys
}

// ResolveActor returns the actor identified by id. Remote actors are
// refetched once their stored copy is older than fed.RefreshAfter.
func ResolveActor(ctx context.Context, fed *Federation, id string) (*domain.Actor, error) {
	fresh := func(a *domain.Actor) bool {
		return !a.IsStale(fed.Now(), fed.RefreshAfter)
	}
	return resolve(ctx, fed, id, resolution[domain.Actor]{
		key: cache.UserById(id),
		query: func(ctx context.Context) (*domain.Actor, error) {
			a, err := fed.Users.QueryUserByApId(ctx, id)
			return a, originError("query user", err)
		},
		fresh: fresh,
		fetch: func(ctx context.Context) (*domain.Actor, error) {
			return fetchActor(ctx, fed, id)
		},
		keys: actorKeys,
	})
}

// RefreshActor refetches a remote actor from its home server, bypassing
// every stored copy. Used when a signature fails against a cached key.
func RefreshActor(ctx context.Context, fed *Federation, id string) (*domain.Actor, error) {
	if fed.IsLocal(id) {
		return ResolveActor(ctx, fed, id)
	}
	a, err := fetchActor(ctx, fed, id)
	if err != nil || a == nil {
		return nil, err
	}
	storeCached(ctx, fed, a, actorKeys(a)...)
	return a, nil
}

func fetchActor(ctx context.Context, fed *Federation, id string) (*domain.Actor, error) {
	var person Person
	found, err := fetchObject(ctx, fed, id, &person)
	if err != nil || !found {
		return nil, err
	}

	a, err := person.ToActor(fed.Now())
	if err != nil {
		return nil, err
	}

	stored, err := fed.Users.UpsertUser(ctx, a)
	if err != nil {
		return nil, originError("upsert user", err)
	}
	if stored == nil {
		stored = a
	}
	log.Infof("Resolver: fetched actor %s", stored.ApId)
	return stored, nil
}

// ResolveLocalActorByName returns the local actor with the given username.
func ResolveLocalActorByName(ctx context.Context, fed *Federation, username string) (*domain.Actor, error) {
	key := cache.UserByName(username)
	if a := loadCached[domain.Actor](ctx, fed, key); a != nil {
		return a, nil
	}

	a, err := fed.Users.QueryLocalUserByName(ctx, username)
	if err != nil {
		return nil, originError("query local user", err)
	}
	if a == nil || !a.Local {
		return nil, nil
	}
	storeCached(ctx, fed, a, actorKeys(a)...)
	return a, nil
}

// ResolveCategory returns the category identified by id.
func ResolveCategory(ctx context.Context, fed *Federation, id string) (*domain.Category, error) {
	return resolve(ctx, fed, id, resolution[domain.Category]{
		key: cache.CategoryById(id),
		query: func(ctx context.Context) (*domain.Category, error) {
			c, err := fed.Categories.QueryCategoryByApId(ctx, id)
			return c, originError("query category", err)
		},
		fresh: always[domain.Category],
		fetch: func(ctx context.Context) (*domain.Category, error) {
			var obj CategoryObject
			found, err := fetchObject(ctx, fed, id, &obj)
			if err != nil || !found {
				return nil, err
			}
			c, err := obj.ToCategory(false)
			if err != nil {
				return nil, err
			}
			stored, err := fed.Categories.UpsertCategory(ctx, c)
			if err != nil {
				return nil, originError("upsert category", err)
			}
			if stored == nil {
				stored = c
			}
			return stored, nil
		},
		keys: func(c *domain.Category) []cache.Key {
			return []cache.Key{cache.CategoryById(c.ApId)}
		},
	})
}

// ResolveListing returns the listing identified by id. A remote listing is
// only accepted once its author resolves.
func ResolveListing(ctx context.Context, fed *Federation, id string) (*domain.Listing, error) {
	return resolve(ctx, fed, id, resolution[domain.Listing]{
		key: cache.ListingById(id),
		query: func(ctx context.Context) (*domain.Listing, error) {
			l, err := fed.Listings.QueryListingByApId(ctx, id)
			return l, originError("query listing", err)
		},
		fresh: always[domain.Listing],
		fetch: func(ctx context.Context) (*domain.Listing, error) {
			var obj ListingObject
			found, err := fetchObject(ctx, fed, id, &obj)
			if err != nil || !found {
				return nil, err
			}
			return storeListing(ctx, fed, &obj)
		},
		keys: func(l *domain.Listing) []cache.Key {
			return []cache.Key{cache.ListingById(l.ApId)}
		},
	})
}

// storeListing persists a received listing after checking its author.
func storeListing(ctx context.Context, fed *Federation, obj *ListingObject) (*domain.Listing, error) {
	if err := VerifyDomainsMatch(obj.AttributedTo, obj.Id); err != nil {
		return nil, err
	}

	author, err := ResolveActor(ctx, fed, obj.AttributedTo)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, fmt.Errorf("%w: author %s of %s", ErrNotFound, obj.AttributedTo, obj.Id)
	}

	l, err := obj.ToListing(fed.IsLocal(obj.Id))
	if err != nil {
		return nil, err
	}
	stored, err := fed.Listings.CreateListing(ctx, l)
	if err != nil {
		return nil, originError("create listing", err)
	}
	if stored == nil {
		stored = l
	}
	return stored, nil
}

// ListingsOf returns the listings attributed to actorId, newest first.
func ListingsOf(ctx context.Context, fed *Federation, actorId string) ([]domain.Listing, error) {
	listings, err := fed.Listings.QueryListingsByUser(ctx, actorId)
	if err != nil {
		return nil, originError("listings of "+actorId, err)
	}
	return listings, nil
}

// FollowingOf returns the ids of the actors actorId follows.
func FollowingOf(ctx context.Context, fed *Federation, actorId string) ([]string, error) {
	following, err := fed.Users.QueryFollowing(ctx, actorId)
	if err != nil {
		return nil, originError("following of "+actorId, err)
	}
	return following, nil
}
