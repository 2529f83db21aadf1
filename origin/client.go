package origin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/codec"
	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/util"
	"github.com/nats-io/nats.go"
)

// Requester is the request/reply half of a NATS connection.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Client calls the origin services over NATS request/reply. It implements
// Users, Categories and Listings and is safe for concurrent use.
type Client struct {
	nc      Requester
	prefix  string
	timeout time.Duration
}

var (
	_ Users      = (*Client)(nil)
	_ Categories = (*Client)(nil)
	_ Listings   = (*Client)(nil)
)

func NewClient(nc Requester, conf util.OriginConfig) *Client {
	return &Client{nc: nc, prefix: conf.SubjectPrefix, timeout: conf.Timeout}
}

func (c *Client) subject(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "." + name
}

// call sends req and decodes the payload into resp. found is false when the
// service answered not_found.
func (c *Client) call(ctx context.Context, name string, req any, resp any) (found bool, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := codec.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("encoding %s request: %w", name, err)
	}

	msg, err := c.nc.RequestWithContext(ctx, c.subject(name), data)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
	}

	var reply Reply
	if err := codec.Unmarshal(msg.Data, &reply); err != nil {
		return false, fmt.Errorf("%w: %s: decoding reply: %w", ErrUnavailable, name, err)
	}

	if reply.Error != nil {
		switch reply.Error.Code {
		case CodeNotFound:
			return false, nil
		case CodeConflict:
			return false, fmt.Errorf("%w: %s: %s", ErrConflict, name, reply.Error.Message)
		case CodeInvalidArgument:
			return false, fmt.Errorf("%w: %s: %s", ErrInvalid, name, reply.Error.Message)
		default:
			return false, fmt.Errorf("%w: %s: %w", ErrUnavailable, name, reply.Error)
		}
	}

	if len(reply.Payload) == 0 {
		return false, nil
	}
	if resp != nil {
		if err := codec.Unmarshal(reply.Payload, resp); err != nil {
			return false, fmt.Errorf("%w: %s: decoding payload: %w", ErrUnavailable, name, err)
		}
	}
	return true, nil
}

func callOne[T any](ctx context.Context, c *Client, name string, req any) (*T, error) {
	var out T
	found, err := c.call(ctx, name, req, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

func (c *Client) QueryUserByApId(ctx context.Context, apId string) (*domain.Actor, error) {
	return callOne[domain.Actor](ctx, c, SubjectQueryUserByApId, ByApIdRequest{ApId: apId})
}

func (c *Client) QueryLocalUserByName(ctx context.Context, username string) (*domain.Actor, error) {
	return callOne[domain.Actor](ctx, c, SubjectQueryLocalUserByName, ByNameRequest{Username: username})
}

func (c *Client) UpsertUser(ctx context.Context, user *domain.Actor) (*domain.Actor, error) {
	return callOne[domain.Actor](ctx, c, SubjectUpsertUser, UserRequest{User: user})
}

func (c *Client) CreateUser(ctx context.Context, user *domain.Actor) (*domain.Actor, error) {
	return callOne[domain.Actor](ctx, c, SubjectCreateUser, UserRequest{User: user})
}

func (c *Client) FollowUser(ctx context.Context, apId, follower string) (*domain.Actor, error) {
	return callOne[domain.Actor](ctx, c, SubjectFollowUser, FollowUserRequest{ApId: apId, FollowUrl: follower})
}

func (c *Client) QueryFollowing(ctx context.Context, apId string) ([]string, error) {
	var resp FollowingResponse
	found, err := c.call(ctx, SubjectQueryFollowing, ByApIdRequest{ApId: apId}, &resp)
	if err != nil || !found {
		return nil, err
	}
	return resp.Following, nil
}

func (c *Client) QueryCategoryByApId(ctx context.Context, apId string) (*domain.Category, error) {
	return callOne[domain.Category](ctx, c, SubjectQueryCategoryByApId, ByApIdRequest{ApId: apId})
}

func (c *Client) UpsertCategory(ctx context.Context, category *domain.Category) (*domain.Category, error) {
	return callOne[domain.Category](ctx, c, SubjectUpsertCategory, CategoryRequest{Category: category})
}

func (c *Client) QueryListingByApId(ctx context.Context, apId string) (*domain.Listing, error) {
	return callOne[domain.Listing](ctx, c, SubjectQueryListingByApId, ByApIdRequest{ApId: apId})
}

func (c *Client) QueryListingsByUser(ctx context.Context, userApId string) ([]domain.Listing, error) {
	var resp ListingsResponse
	found, err := c.call(ctx, SubjectQueryListingsByUser, ByApIdRequest{ApId: userApId}, &resp)
	if err != nil || !found {
		return nil, err
	}
	return resp.Listings, nil
}

func (c *Client) CreateListing(ctx context.Context, listing *domain.Listing) (*domain.Listing, error) {
	l, err := callOne[domain.Listing](ctx, c, SubjectCreateListing, ListingRequest{Listing: listing})
	if err != nil {
		return nil, err
	}
	if l == nil {
		log.Warn("Origin: create listing returned no record", "ap_id", listing.ApId)
		return nil, fmt.Errorf("%w: %s: empty reply", ErrUnavailable, SubjectCreateListing)
	}
	return l, nil
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
