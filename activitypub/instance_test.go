package activitypub

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/hutgate/cache"
	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/origin/origintest"
	"github.com/stretchr/testify/require"
)

// testInstance is a gateway served by httptest, backed by in-memory origin
// services and cache.
type testInstance struct {
	fed        *Federation
	users      *origintest.Users
	categories *origintest.Categories
	listings   *origintest.Listings
	cache      *cache.MemoryCache
	server     *httptest.Server

	mu       sync.Mutex
	received []string
	fetches  map[string]int
	inboxErr []error
}

func newTestInstance(t *testing.T) *testInstance {
	t.Helper()

	ti := &testInstance{
		users:      origintest.NewUsers(),
		categories: origintest.NewCategories(),
		listings:   origintest.NewListings(),
		cache:      cache.NewMemoryCache(),
		fetches:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/inbox", ti.serveInbox)
	mux.HandleFunc("/users/", ti.serveUser)
	mux.HandleFunc("/listings/", ti.serveListing)
	mux.HandleFunc("/.well-known/webfinger", ti.serveWebfinger)
	ti.server = httptest.NewServer(mux)
	t.Cleanup(ti.server.Close)

	u, err := url.Parse(ti.server.URL)
	require.NoError(t, err)

	ti.fed = &Federation{
		Domain:              u.Host,
		Hostname:            ti.server.URL,
		InstanceName:        "hut",
		Users:               ti.users,
		Categories:          ti.categories,
		Listings:            ti.listings,
		Cache:               ti.cache,
		Client:              &http.Client{Timeout: 5 * time.Second},
		CacheTTL:            time.Hour,
		RefreshAfter:        24 * time.Hour,
		DeliveryTimeout:     5 * time.Second,
		DeliveryConcurrency: 4,
		now:                 time.Now,
	}
	return ti
}

func (ti *testInstance) addUser(t *testing.T, name string) *domain.Actor {
	t.Helper()
	a, err := ProvisionLocalActor(context.Background(), ti.fed, name)
	require.NoError(t, err)
	return a
}

func (ti *testInstance) Received() []string {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return append([]string(nil), ti.received...)
}

func (ti *testInstance) InboxErrors() []error {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return append([]error(nil), ti.inboxErr...)
}

func (ti *testInstance) Fetches(path string) int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.fetches[path]
}

func (ti *testInstance) serveInbox(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	err = HandleInbox(r.Context(), ti.fed, r, body)

	ti.mu.Lock()
	if err != nil {
		ti.inboxErr = append(ti.inboxErr, err)
	} else if a, perr := ParseActivity(body); perr == nil {
		ti.received = append(ti.received, a.Kind())
	}
	ti.mu.Unlock()

	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, ErrVerification):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ErrUpstream):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (ti *testInstance) serveUser(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/inbox") {
		ti.serveInbox(w, r)
		return
	}

	ti.mu.Lock()
	ti.fetches[r.URL.Path]++
	ti.mu.Unlock()

	name := strings.TrimPrefix(r.URL.Path, "/users/")
	a, err := ResolveLocalActorByName(r.Context(), ti.fed, name)
	if err != nil || a == nil {
		http.NotFound(w, r)
		return
	}
	ti.writeJSON(w, PersonFromActor(ti.fed, a))
}

func (ti *testInstance) serveListing(w http.ResponseWriter, r *http.Request) {
	ti.mu.Lock()
	ti.fetches[r.URL.Path]++
	ti.mu.Unlock()

	l := ti.listings.Get(ti.server.URL + r.URL.Path)
	if l == nil {
		http.NotFound(w, r)
		return
	}
	ti.writeJSON(w, ListingObjectFrom(l))
}

func (ti *testInstance) serveWebfinger(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	name, err := ExtractWebfingerName(resource, ti.fed.Domain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a, err := ResolveLocalActorByName(r.Context(), ti.fed, name)
	if err != nil || a == nil {
		http.NotFound(w, r)
		return
	}
	ti.writeJSON(w, NewWebfingerResponse(resource, a))
}

func (ti *testInstance) writeJSON(w http.ResponseWriter, v any) {
	body, err := MarshalWithContext(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	_, _ = w.Write(body)
}

// memoryLedger is an in-memory Ledger.
type memoryLedger struct {
	mu        sync.Mutex
	processed map[string]bool
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{processed: make(map[string]bool)}
}

func (l *memoryLedger) RecordActivity(_ context.Context, rec *domain.ActivityRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	processed, ok := l.processed[rec.ActivityURI]
	if !ok {
		l.processed[rec.ActivityURI] = false
	}
	return processed, nil
}

func (l *memoryLedger) MarkProcessed(_ context.Context, activityURI string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed[activityURI] = true
	return nil
}

// memoryQueue is an in-memory Queue.
type memoryQueue struct {
	mu    sync.Mutex
	tasks []*domain.DeliveryTask
	err   error
}

func (q *memoryQueue) Enqueue(_ context.Context, task *domain.DeliveryTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *memoryQueue) Tasks() []*domain.DeliveryTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*domain.DeliveryTask(nil), q.tasks...)
}
