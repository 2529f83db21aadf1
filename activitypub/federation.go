package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/hutgate/cache"
	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/origin"
	"github.com/deemkeen/hutgate/util"
	"github.com/google/uuid"
)

// Ledger records inbound activities so replays are recognised.
type Ledger interface {
	// RecordActivity stores rec unless its ActivityURI is known and reports
	// whether the known activity was already processed.
	RecordActivity(ctx context.Context, rec *domain.ActivityRecord) (processed bool, err error)
	MarkProcessed(ctx context.Context, activityURI string) error
}

// Queue hands delivery tasks to the asynchronous delivery worker.
type Queue interface {
	Enqueue(ctx context.Context, task *domain.DeliveryTask) error
}

// Federation is the shared context of every federation operation. It is
// built once at startup and never mutated while requests are served.
type Federation struct {
	// Domain is host[:port] as it appears in local identifiers.
	Domain string
	// Hostname is the base URL of local identifiers, scheme included.
	Hostname     string
	InstanceName string

	Users      origin.Users
	Categories origin.Categories
	Listings   origin.Listings
	Cache      cache.Cache
	Ledger     Ledger
	Queue      Queue
	Client     *http.Client

	// SystemActor signs fetches of remote objects.
	SystemActor *domain.Actor

	CacheTTL            time.Duration
	RefreshAfter        time.Duration
	DeliveryTimeout     time.Duration
	DeliveryConcurrency int

	now func() time.Time
}

// Services bundles the collaborators a Federation calls into.
type Services struct {
	Users      origin.Users
	Categories origin.Categories
	Listings   origin.Listings
	Cache      cache.Cache
	Ledger     Ledger
	Queue      Queue
}

func NewFederation(conf *util.AppConfig, svc Services) *Federation {
	return &Federation{
		Domain:              conf.Conf.SslDomain,
		Hostname:            conf.Hostname(),
		InstanceName:        conf.Conf.InstanceName,
		Users:               svc.Users,
		Categories:          svc.Categories,
		Listings:            svc.Listings,
		Cache:               svc.Cache,
		Ledger:              svc.Ledger,
		Queue:               svc.Queue,
		Client:              &http.Client{Timeout: 10 * time.Second},
		CacheTTL:            conf.Cache.Ttl,
		RefreshAfter:        conf.Cache.RefreshAfter,
		DeliveryTimeout:     conf.Delivery.Timeout,
		DeliveryConcurrency: conf.Delivery.Concurrency,
		now:                 time.Now,
	}
}

// WithClock returns a copy of fed using now as its time source.
func (fed *Federation) WithClock(now func() time.Time) *Federation {
	cp := *fed
	cp.now = now
	return &cp
}

func (fed *Federation) Now() time.Time {
	if fed.now == nil {
		return time.Now()
	}
	return fed.now()
}

// IsLocal reports whether id is hosted on this instance.
func (fed *Federation) IsLocal(id string) bool {
	return VerifyDomain(id, fed.Domain) == nil
}

// NewObjectId mints a fresh identifier for an object created here.
func (fed *Federation) NewObjectId() string {
	return fmt.Sprintf("%s/objects/%s", fed.Hostname, uuid.New().String())
}

type iriKind int

const (
	iriActor iriKind = iota
	iriInbox
	iriOutbox
	iriFollowers
	iriFollowing
	iriSharedInbox
	iriCategory
	iriListing
)

func (fed *Federation) iri(kind iriKind, name string) string {
	name = url.PathEscape(name)
	switch kind {
	case iriInbox:
		return fmt.Sprintf("%s/users/%s/inbox", fed.Hostname, name)
	case iriOutbox:
		return fmt.Sprintf("%s/users/%s/outbox", fed.Hostname, name)
	case iriFollowers:
		return fmt.Sprintf("%s/users/%s/followers", fed.Hostname, name)
	case iriFollowing:
		return fmt.Sprintf("%s/users/%s/following", fed.Hostname, name)
	case iriSharedInbox:
		return fmt.Sprintf("%s/inbox", fed.Hostname)
	case iriCategory:
		return fmt.Sprintf("%s/categories/%s", fed.Hostname, name)
	case iriListing:
		return fmt.Sprintf("%s/listings/%s", fed.Hostname, name)
	default:
		return fmt.Sprintf("%s/users/%s", fed.Hostname, name)
	}
}

func (fed *Federation) ActorId(username string) string      { return fed.iri(iriActor, username) }
func (fed *Federation) InboxURL(username string) string     { return fed.iri(iriInbox, username) }
func (fed *Federation) OutboxURL(username string) string    { return fed.iri(iriOutbox, username) }
func (fed *Federation) FollowersURL(username string) string { return fed.iri(iriFollowers, username) }
func (fed *Federation) FollowingURL(username string) string { return fed.iri(iriFollowing, username) }
func (fed *Federation) SharedInboxURL() string              { return fed.iri(iriSharedInbox, "") }
func (fed *Federation) CategoryId(name string) string       { return fed.iri(iriCategory, name) }
func (fed *Federation) ListingId(id string) string          { return fed.iri(iriListing, id) }

// LocalUsername extracts the username from a local actor id.
func (fed *Federation) LocalUsername(actorId string) (string, bool) {
	prefix := fed.Hostname + "/users/"
	if !strings.HasPrefix(actorId, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(actorId, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	name, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	return name, true
}
