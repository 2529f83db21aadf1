package activitypub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/cache"
	"github.com/deemkeen/hutgate/domain"
)

type Create struct {
	Id     string            `json:"id"`
	Type   string            `json:"type"`
	Actor  string            `json:"actor"`
	To     OneOrMany[string] `json:"to,omitempty"`
	Cc     OneOrMany[string] `json:"cc,omitempty"`
	Object CreateObject      `json:"object"`
}

func (c *Create) ActivityId() string { return c.Id }
func (c *Create) ActorId() string    { return c.Actor }
func (c *Create) ObjectId() string   { return c.Object.Id() }
func (c *Create) Kind() string       { return TypeCreate }
func (*Create) activity()            {}

// CreateObject holds either a listing or a category.
type CreateObject struct {
	Listing  *ListingObject
	Category *CategoryObject
}

func (o CreateObject) Id() string {
	switch {
	case o.Listing != nil:
		return o.Listing.Id
	case o.Category != nil:
		return o.Category.Id
	}
	return ""
}

func (o CreateObject) MarshalJSON() ([]byte, error) {
	switch {
	case o.Listing != nil:
		return json.Marshal(o.Listing)
	case o.Category != nil:
		return json.Marshal(o.Category)
	}
	return []byte("null"), nil
}

func (o *CreateObject) UnmarshalJSON(b []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}

	switch head.Type {
	case "Article":
		o.Listing = &ListingObject{}
		return json.Unmarshal(b, o.Listing)
	case "Collection":
		o.Category = &CategoryObject{}
		return json.Unmarshal(b, o.Category)
	}
	return fmt.Errorf("%w: object type %q", ErrUnsupported, head.Type)
}

// NewCreateListing wraps a listing of author in a Create with the given id.
func NewCreateListing(l *domain.Listing, author *domain.Actor, id string) *Create {
	return &Create{
		Id:     id,
		Type:   TypeCreate,
		Actor:  author.ApId,
		To:     OneOrMany[string]{PublicAudience},
		Object: CreateObject{Listing: ListingObjectFrom(l)},
	}
}

// verify checks that the created object lives on the creator's domain.
func (c *Create) verify(_ context.Context, _ *Federation) error {
	switch {
	case c.Object.Listing != nil:
		l := c.Object.Listing
		if err := VerifyDomainsMatch(l.Id, c.Actor); err != nil {
			return err
		}
		if err := VerifyDomainsMatch(l.AttributedTo, l.Id); err != nil {
			return err
		}
		if l.Target != "" {
			if _, err := ParseReference(l.Target); err != nil {
				return err
			}
		}
		return nil
	case c.Object.Category != nil:
		return VerifyDomainsMatch(c.Object.Category.Id, c.Actor)
	}
	return fmt.Errorf("%w: create without object", ErrMalformed)
}

func (c *Create) receive(ctx context.Context, fed *Federation) error {
	switch {
	case c.Object.Listing != nil:
		l, err := storeListing(ctx, fed, c.Object.Listing)
		if err != nil {
			return err
		}
		storeCached(ctx, fed, l, cache.ListingById(l.ApId))
		log.Infof("Inbox: stored listing %s by %s", l.ApId, l.AttributedTo)
		return nil

	case c.Object.Category != nil:
		cat, err := c.Object.Category.ToCategory(fed.IsLocal(c.Object.Category.Id))
		if err != nil {
			return err
		}
		stored, err := fed.Categories.UpsertCategory(ctx, cat)
		if err != nil {
			return originError("upsert category", err)
		}
		if stored == nil {
			stored = cat
		}
		storeCached(ctx, fed, stored, cache.CategoryById(stored.ApId))
		log.Infof("Inbox: stored category %s", stored.ApId)
		return nil
	}
	return fmt.Errorf("%w: create without object", ErrMalformed)
}
