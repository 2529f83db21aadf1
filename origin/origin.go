// Package origin holds the typed clients for the backend services that own
// users, categories and listings. The gateway never reads their storage; every
// query and mutation goes through these interfaces.
//
// Queries return (nil, nil) when the object does not exist.
package origin

import (
	"context"
	"errors"

	"github.com/deemkeen/hutgate/domain"
)

var (
	// ErrConflict reports a uniqueness violation at the origin, such as
	// following an actor twice.
	ErrConflict = errors.New("origin: conflict")
	// ErrUnavailable reports that the origin could not be reached or failed
	// internally. Callers may retry.
	ErrUnavailable = errors.New("origin: unavailable")
	// ErrInvalid reports that the origin rejected the request as malformed.
	ErrInvalid = errors.New("origin: invalid request")
)

type Users interface {
	QueryUserByApId(ctx context.Context, apId string) (*domain.Actor, error)
	QueryLocalUserByName(ctx context.Context, username string) (*domain.Actor, error)
	UpsertUser(ctx context.Context, user *domain.Actor) (*domain.Actor, error)
	CreateUser(ctx context.Context, user *domain.Actor) (*domain.Actor, error)
	// FollowUser adds follower to the follower set of apId. Adding an
	// existing follower returns ErrConflict.
	FollowUser(ctx context.Context, apId, follower string) (*domain.Actor, error)
	// QueryFollowing lists the ap_ids of the actors apId follows.
	QueryFollowing(ctx context.Context, apId string) ([]string, error)
}

type Categories interface {
	QueryCategoryByApId(ctx context.Context, apId string) (*domain.Category, error)
	UpsertCategory(ctx context.Context, category *domain.Category) (*domain.Category, error)
}

type Listings interface {
	QueryListingByApId(ctx context.Context, apId string) (*domain.Listing, error)
	QueryListingsByUser(ctx context.Context, userApId string) ([]domain.Listing, error)
	// CreateListing upserts by ApId, so repeated delivery of the same listing
	// leaves a single record.
	CreateListing(ctx context.Context, listing *domain.Listing) (*domain.Listing, error)
}
