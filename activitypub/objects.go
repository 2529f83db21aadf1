package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/hutgate/domain"
)

const (
	ContentType    = "application/activity+json"
	LDContentType  = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	PublicAudience = "https://www.w3.org/ns/activitystreams#Public"
)

// DefaultContext is the @context of every top-level document we serve or send.
var DefaultContext = []string{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
}

// MarshalWithContext encodes v, which must encode as a JSON object, with the
// @context envelope added.
func MarshalWithContext(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%T is not a JSON object: %w", v, err)
	}

	ctx, err := json.Marshal(DefaultContext)
	if err != nil {
		return nil, err
	}
	fields["@context"] = ctx

	return json.Marshal(fields)
}

// OneOrMany decodes a property that may hold a single value or an array.
type OneOrMany[T any] []T

func (o *OneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*o = nil
		return nil
	case b[0] == '[':
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*o = many
		return nil
	default:
		var one T
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*o = OneOrMany[T]{one}
		return nil
	}
}

type PublicKey struct {
	Id           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

type Image struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Url       string `json:"url"`
	MediaType string `json:"mediaType,omitempty"`
}

type Link struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Href      string `json:"href"`
	MediaType string `json:"mediaType,omitempty"`
}

// UnmarshalJSON also accepts a bare URL string.
func (l *Link) UnmarshalJSON(b []byte) error {
	var href string
	if err := json.Unmarshal(b, &href); err == nil {
		*l = Link{Type: "Link", Href: href}
		return nil
	}

	type link Link
	var v link
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*l = Link(v)
	return nil
}

// Person is the federation representation of an Actor.
type Person struct {
	Type              string     `json:"type"`
	Id                string     `json:"id"`
	PreferredUsername string     `json:"preferredUsername"`
	Name              string     `json:"name,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	Inbox             string     `json:"inbox"`
	Outbox            string     `json:"outbox,omitempty"`
	Followers         string     `json:"followers,omitempty"`
	Following         string     `json:"following,omitempty"`
	Endpoints         *Endpoints `json:"endpoints,omitempty"`
	Icon              *Image     `json:"icon,omitempty"`
	PublicKey         PublicKey  `json:"publicKey"`
	Published         *time.Time `json:"published,omitempty"`
}

var actorTypes = map[string]bool{
	"Person":       true,
	"Service":      true,
	"Application":  true,
	"Group":        true,
	"Organization": true,
}

// PersonFromActor renders a for federation. Local actors get their
// endpoints from this instance.
func PersonFromActor(fed *Federation, a *domain.Actor) *Person {
	p := &Person{
		Type:              "Person",
		Id:                a.ApId,
		PreferredUsername: a.Username,
		Name:              a.DisplayName,
		Summary:           a.Summary,
		Inbox:             a.Inbox,
		Outbox:            a.Outbox,
		PublicKey: PublicKey{
			Id:           a.KeyId(),
			Owner:        a.ApId,
			PublicKeyPem: a.PublicKey,
		},
	}

	if a.Local {
		p.Inbox = fed.InboxURL(a.Username)
		p.Outbox = fed.OutboxURL(a.Username)
		p.Followers = fed.FollowersURL(a.Username)
		p.Following = fed.FollowingURL(a.Username)
		p.Endpoints = &Endpoints{SharedInbox: fed.SharedInboxURL()}
	} else if a.SharedInbox != "" {
		p.Endpoints = &Endpoints{SharedInbox: a.SharedInbox}
	}

	if a.AvatarURL != "" {
		p.Icon = &Image{Type: "Image", Url: a.AvatarURL}
	}
	if !a.CreatedAt.IsZero() {
		published := a.CreatedAt.UTC()
		p.Published = &published
	}
	return p
}

// ToActor materializes a fetched Person as a remote Actor.
func (p *Person) ToActor(now time.Time) (*domain.Actor, error) {
	if !actorTypes[p.Type] {
		return nil, fmt.Errorf("%w: %q is not an actor type", ErrUnsupported, p.Type)
	}
	if p.Id == "" || p.Inbox == "" || p.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: actor is missing id, inbox or public key", ErrMalformed)
	}
	if p.PublicKey.Owner != "" && p.PublicKey.Owner != p.Id {
		return nil, fmt.Errorf("%w: key of %s is owned by %s", ErrVerification, p.Id, p.PublicKey.Owner)
	}
	if _, err := ParsePublicKey(p.PublicKey.PublicKeyPem); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	// deliveries to this actor go to its inboxes, so they must live with it
	if err := VerifyDomainsMatch(p.Inbox, p.Id); err != nil {
		return nil, err
	}
	if p.Endpoints != nil && p.Endpoints.SharedInbox != "" {
		if err := VerifyDomainsMatch(p.Endpoints.SharedInbox, p.Id); err != nil {
			return nil, err
		}
	}

	a := &domain.Actor{
		ApId:            p.Id,
		Username:        p.PreferredUsername,
		DisplayName:     p.Name,
		Summary:         p.Summary,
		Inbox:           p.Inbox,
		Outbox:          p.Outbox,
		PublicKey:       p.PublicKey.PublicKeyPem,
		Local:           false,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastRefreshedAt: now,
	}
	if p.Endpoints != nil {
		a.SharedInbox = p.Endpoints.SharedInbox
	}
	if p.Icon != nil {
		a.AvatarURL = p.Icon.Url
	}
	if p.Published != nil {
		a.CreatedAt = *p.Published
	}
	return a, nil
}

type CollectionPage struct {
	Type   string `json:"type"`
	PartOf string `json:"partOf"`
	Items  []Link `json:"items"`
}

// CategoryObject is the federation representation of a Category: a
// Collection whose first page links the sub-categories.
type CategoryObject struct {
	Type       string          `json:"type"`
	Id         string          `json:"id"`
	Name       string          `json:"name"`
	Image      *Image          `json:"image,omitempty"`
	Parent     string          `json:"context,omitempty"`
	TotalItems int             `json:"totalItems"`
	First      *CollectionPage `json:"first,omitempty"`
	Published  *time.Time      `json:"published,omitempty"`
	Updated    *time.Time      `json:"updated,omitempty"`
}

func CategoryObjectFrom(c *domain.Category) *CategoryObject {
	o := &CategoryObject{
		Type:       "Collection",
		Id:         c.ApId,
		Name:       c.Name,
		Parent:     c.ParentId,
		TotalItems: len(c.SubCategories),
		First: &CollectionPage{
			Type:   "CollectionPage",
			PartOf: c.ApId,
			Items:  make([]Link, 0, len(c.SubCategories)),
		},
	}
	for _, sub := range c.SubCategories {
		o.First.Items = append(o.First.Items, Link{Type: "Link", Name: sub.Name, Href: sub.ApId})
	}
	if c.ImageURL != "" {
		o.Image = &Image{Type: "Image", Name: c.Name, Url: c.ImageURL}
	}
	if !c.CreatedAt.IsZero() {
		published := c.CreatedAt.UTC()
		o.Published = &published
	}
	if !c.UpdatedAt.IsZero() {
		updated := c.UpdatedAt.UTC()
		o.Updated = &updated
	}
	return o
}

func (o *CategoryObject) ToCategory(local bool) (*domain.Category, error) {
	if o.Id == "" || o.Name == "" {
		return nil, fmt.Errorf("%w: category is missing id or name", ErrMalformed)
	}

	c := &domain.Category{
		ApId:     o.Id,
		Name:     o.Name,
		ParentId: o.Parent,
		Local:    local,
	}
	if o.Image != nil {
		c.ImageURL = o.Image.Url
	}
	if o.First != nil {
		for _, item := range o.First.Items {
			if _, err := ParseReference(item.Href); err != nil {
				return nil, err
			}
			c.SubCategories = append(c.SubCategories, domain.SubCategory{ApId: item.Href, Name: item.Name})
		}
	}
	if o.Published != nil {
		c.CreatedAt = *o.Published
	}
	if o.Updated != nil {
		c.UpdatedAt = *o.Updated
	}
	return c, nil
}

type Place struct {
	Type      string  `json:"type"`
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Attachment struct {
	Type string          `json:"type"`
	Name string          `json:"name,omitempty"`
	Url  OneOrMany[Link] `json:"url"`
}

// ListingObject is the federation representation of a Listing.
type ListingObject struct {
	Type         string                `json:"type"`
	Id           string                `json:"id"`
	AttributedTo string                `json:"attributedTo"`
	Name         string                `json:"name"`
	Content      string                `json:"content,omitempty"`
	Target       string                `json:"target,omitempty"`
	Attachment   OneOrMany[Attachment] `json:"attachment,omitempty"`
	Location     *Place                `json:"location,omitempty"`
	To           OneOrMany[string]     `json:"to,omitempty"`
	Published    *time.Time            `json:"published,omitempty"`
	Updated      *time.Time            `json:"updated,omitempty"`
}

func ListingObjectFrom(l *domain.Listing) *ListingObject {
	o := &ListingObject{
		Type:         "Article",
		Id:           l.ApId,
		AttributedTo: l.AttributedTo,
		Name:         l.Title,
		Content:      l.Description,
		Target:       l.Category,
		To:           OneOrMany[string]{PublicAudience},
	}
	for _, u := range l.Attachments {
		o.Attachment = append(o.Attachment, Attachment{
			Type: "Image",
			Url:  OneOrMany[Link]{{Type: "Link", Href: u}},
		})
	}
	if l.Location != nil {
		o.Location = &Place{
			Type:      "Place",
			Name:      l.Location.Name,
			Latitude:  l.Location.Latitude,
			Longitude: l.Location.Longitude,
		}
	}
	if !l.CreatedAt.IsZero() {
		published := l.CreatedAt.UTC()
		o.Published = &published
	}
	if !l.UpdatedAt.IsZero() {
		updated := l.UpdatedAt.UTC()
		o.Updated = &updated
	}
	return o
}

func (o *ListingObject) ToListing(local bool) (*domain.Listing, error) {
	if o.Id == "" || o.AttributedTo == "" || o.Name == "" {
		return nil, fmt.Errorf("%w: listing is missing id, attributedTo or name", ErrMalformed)
	}

	l := &domain.Listing{
		ApId:         o.Id,
		AttributedTo: o.AttributedTo,
		Category:     o.Target,
		Title:        o.Name,
		Description:  o.Content,
		Local:        local,
	}
	for _, att := range o.Attachment {
		if len(att.Url) > 0 && att.Url[0].Href != "" {
			l.Attachments = append(l.Attachments, att.Url[0].Href)
		}
	}
	if o.Location != nil {
		l.Location = &domain.Location{
			Name:      o.Location.Name,
			Latitude:  o.Location.Latitude,
			Longitude: o.Location.Longitude,
		}
	}
	if o.Published != nil {
		l.CreatedAt = *o.Published
	}
	if o.Updated != nil {
		l.UpdatedAt = *o.Updated
	}
	return l, nil
}

// Collection lists links, as served for followers.
type Collection struct {
	Type       string `json:"type"`
	Id         string `json:"id"`
	TotalItems int    `json:"totalItems"`
	Items      []Link `json:"items"`
}

func FollowersCollection(fed *Federation, a *domain.Actor) *Collection {
	return linkCollection(fed.FollowersURL(a.Username), a.Followers)
}

// FollowingCollection lists the actors a follows, as reported by the origin.
func FollowingCollection(fed *Federation, a *domain.Actor, following []string) *Collection {
	return linkCollection(fed.FollowingURL(a.Username), following)
}

func linkCollection(id string, hrefs []string) *Collection {
	c := &Collection{
		Type:       "Collection",
		Id:         id,
		TotalItems: len(hrefs),
		Items:      make([]Link, 0, len(hrefs)),
	}
	for _, h := range hrefs {
		c.Items = append(c.Items, Link{Type: "Link", Href: h})
	}
	return c
}

type OrderedCollection struct {
	Type         string    `json:"type"`
	Id           string    `json:"id"`
	TotalItems   int       `json:"totalItems"`
	OrderedItems []*Create `json:"orderedItems"`
}

// OutboxCollection lists the actor's listings as Create activities.
func OutboxCollection(fed *Federation, a *domain.Actor, listings []domain.Listing) *OrderedCollection {
	c := &OrderedCollection{
		Type:         "OrderedCollection",
		Id:           fed.OutboxURL(a.Username),
		TotalItems:   len(listings),
		OrderedItems: make([]*Create, 0, len(listings)),
	}
	for i := range listings {
		c.OrderedItems = append(c.OrderedItems, NewCreateListing(&listings[i], a, listings[i].ApId+"#create"))
	}
	return c
}
