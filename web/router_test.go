package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/hutgate/activitypub"
	"github.com/deemkeen/hutgate/cache"
	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/origin"
	"github.com/deemkeen/hutgate/origin/origintest"
	"github.com/deemkeen/hutgate/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticActivityLog []domain.ActivityRecord

func (l staticActivityLog) ReadRecentActivities(_ context.Context, limit int) ([]domain.ActivityRecord, error) {
	return l[:min(limit, len(l))], nil
}

type testServer struct {
	fed        *activitypub.Federation
	users      *origintest.Users
	categories *origintest.Categories
	listings   *origintest.Listings
	engine     *gin.Engine
}

func newTestServer(t *testing.T, activities ActivityLog) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = "hut.example"
	conf.Conf.InstanceName = "hut"
	conf.Cache.Ttl = time.Hour
	conf.Cache.RefreshAfter = 24 * time.Hour
	conf.Delivery.Timeout = 5 * time.Second
	conf.Delivery.Concurrency = 2

	ts := &testServer{
		users:      origintest.NewUsers(),
		categories: origintest.NewCategories(),
		listings:   origintest.NewListings(),
	}
	ts.fed = activitypub.NewFederation(conf, activitypub.Services{
		Users:      ts.users,
		Categories: ts.categories,
		Listings:   ts.listings,
		Cache:      cache.NewMemoryCache(),
	})
	ts.engine = Router(ts.fed, conf, activities)
	return ts
}

func (ts *testServer) addUser(t *testing.T, name string) *domain.Actor {
	t.Helper()
	a, err := activitypub.ProvisionLocalActor(context.Background(), ts.fed, name)
	require.NoError(t, err)
	return a
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func (ts *testServer) get(path, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "https://hut.example"+path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return ts.do(req)
}

// remotePeer is another server with one actor, bob, whose inbox records
// every delivery.
type remotePeer struct {
	server *httptest.Server
	actor  *domain.Actor
	keys   *activitypub.KeyPair

	mu       sync.Mutex
	received []string
}

func newRemotePeer(t *testing.T) *remotePeer {
	t.Helper()
	keys, err := activitypub.GenerateKeyPair()
	require.NoError(t, err)

	p := &remotePeer{keys: keys}
	mux := http.NewServeMux()
	mux.HandleFunc("/users/bob/inbox", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(body, &head)
		p.mu.Lock()
		p.received = append(p.received, head.Type)
		p.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	p.actor = &domain.Actor{
		ApId:            p.server.URL + "/users/bob",
		Username:        "bob",
		Inbox:           p.server.URL + "/users/bob/inbox",
		PublicKey:       keys.PublicKeyPem,
		LastRefreshedAt: time.Now(),
	}
	return p
}

func (p *remotePeer) Received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

// signedPost builds an inbox delivery signed with key on behalf of bob.
func (p *remotePeer) signedPost(t *testing.T, path string, activity any, keyPem string) *http.Request {
	t.Helper()
	body, err := json.Marshal(activity)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "https://hut.example"+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", activitypub.ContentType)
	key, err := activitypub.ParsePrivateKey(keyPem)
	require.NoError(t, err)
	require.NoError(t, activitypub.SignRequest(req, key, p.actor.KeyId(), body))
	return req
}

func (p *remotePeer) follow(target string) map[string]any {
	return map[string]any{
		"@context": activitypub.DefaultContext,
		"id":       p.server.URL + "/follows/" + uuid.NewString(),
		"type":     "Follow",
		"actor":    p.actor.ApId,
		"object":   target,
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.get("/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestWebfinger(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.addUser(t, "alice")

	tests := []struct {
		name     string
		resource string
		want     int
	}{
		{"local user", "acct:alice@hut.example", http.StatusOK},
		{"unknown user", "acct:nobody@hut.example", http.StatusNotFound},
		{"foreign domain", "acct:alice@other.example", http.StatusBadRequest},
		{"missing acct prefix", "alice@hut.example", http.StatusBadRequest},
		{"empty", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.get("/.well-known/webfinger?resource="+tt.resource, "")
			assert.Equal(t, tt.want, w.Code)
			if tt.want != http.StatusOK {
				assert.NotContains(t, w.Body.String(), "subject")
				return
			}

			var wf activitypub.WebfingerResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wf))
			assert.Equal(t, tt.resource, wf.Subject)
			href, ok := wf.SelfLink()
			require.True(t, ok)
			assert.Equal(t, alice.ApId, href)
			assert.Contains(t, w.Header().Get("Content-Type"), activitypub.WebfingerContentType)
		})
	}
}

func TestActorContentNegotiation(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.addUser(t, "alice")

	w := ts.get("/users/alice", activitypub.ContentType)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), activitypub.ContentType)
	var person map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &person))
	assert.Equal(t, alice.ApId, person["id"])
	assert.NotNil(t, person["@context"])
	assert.NotContains(t, w.Body.String(), "PRIVATE KEY")

	w = ts.get("/users/alice", activitypub.LDContentType)
	assert.Contains(t, w.Header().Get("Content-Type"), activitypub.ContentType)

	w = ts.get("/users/alice", "text/html,application/xhtml+xml")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "@alice@hut.example")

	w = ts.get("/users/alice", "")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = ts.get("/users/nobody", activitypub.ContentType)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.get("/users/nobody", "text/html")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCollections(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.addUser(t, "alice")
	ts.addUser(t, "carol")
	ts.listings.Put(&domain.Listing{
		ApId:         ts.fed.ListingId("1"),
		AttributedTo: alice.ApId,
		Title:        "Road bike",
		Local:        true,
		CreatedAt:    time.Now(),
	})
	bob := &domain.Actor{
		ApId:            "https://b.example/users/bob",
		Username:        "bob",
		Inbox:           "https://b.example/users/bob/inbox",
		Followers:       []string{alice.ApId},
		LastRefreshedAt: time.Now(),
	}
	ts.users.Put(bob)

	w := ts.get("/users/alice/followers", activitypub.ContentType)
	require.Equal(t, http.StatusOK, w.Code)
	var followers map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &followers))
	assert.Equal(t, ts.fed.FollowersURL("alice"), followers["id"])

	w = ts.get("/users/alice/following", activitypub.ContentType)
	require.Equal(t, http.StatusOK, w.Code)
	var following struct {
		Id         string `json:"id"`
		TotalItems int    `json:"totalItems"`
		Items      []struct {
			Href string `json:"href"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &following))
	assert.Equal(t, ts.fed.FollowingURL("alice"), following.Id)
	assert.Equal(t, 1, following.TotalItems)
	require.Len(t, following.Items, 1)
	assert.Equal(t, bob.ApId, following.Items[0].Href)

	w = ts.get("/users/carol/following", activitypub.ContentType)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"totalItems":0`)

	w = ts.get("/users/alice", activitypub.ContentType)
	var person map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &person))
	assert.Equal(t, ts.fed.FollowingURL("alice"), person["following"])

	w = ts.get("/users/alice/outbox", activitypub.ContentType)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ts.fed.ListingId("1"))

	assert.Equal(t, http.StatusNotFound, ts.get("/users/nobody/followers", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.get("/users/nobody/following", "").Code)
	assert.Equal(t, 2, ts.users.Calls("QueryFollowing"))
}

func TestCollectionsOriginDown(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.addUser(t, "alice")
	ts.listings.Err = origin.ErrUnavailable

	w := ts.get("/users/alice/outbox", activitypub.ContentType)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = ts.get("/feed?username=alice", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestObjects(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.addUser(t, "alice")
	ts.categories.Put(&domain.Category{
		ApId:          ts.fed.CategoryId("bikes"),
		Name:          "Bikes",
		SubCategories: []domain.SubCategory{{ApId: ts.fed.CategoryId("tandems"), Name: "Tandems"}},
		Local:         true,
	})
	ts.listings.Put(&domain.Listing{
		ApId:         ts.fed.ListingId("7"),
		AttributedTo: alice.ApId,
		Title:        "Tandem",
		Description:  "Two seats, one bell",
		Category:     ts.fed.CategoryId("bikes"),
		Local:        true,
		CreatedAt:    time.Now(),
	})

	w := ts.get("/categories/bikes", activitypub.ContentType)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), activitypub.ContentType)
	assert.Equal(t, "Accept", w.Header().Get("Vary"))
	assert.Contains(t, w.Body.String(), `"Collection"`)

	w = ts.get("/listings/7", activitypub.LDContentType)
	require.Equal(t, http.StatusOK, w.Code)
	var listing map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, "Article", listing["type"])
	assert.Equal(t, alice.ApId, listing["attributedTo"])

	assert.Equal(t, http.StatusNotFound, ts.get("/categories/boats", activitypub.ContentType).Code)
	assert.Equal(t, http.StatusNotFound, ts.get("/listings/8", activitypub.ContentType).Code)
}

func TestObjectPages(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.addUser(t, "alice")
	ts.categories.Put(&domain.Category{
		ApId:          ts.fed.CategoryId("bikes"),
		Name:          "Bikes",
		SubCategories: []domain.SubCategory{{ApId: ts.fed.CategoryId("tandems"), Name: "Tandems"}},
		Local:         true,
	})
	ts.listings.Put(&domain.Listing{
		ApId:         ts.fed.ListingId("7"),
		AttributedTo: alice.ApId,
		Title:        "Tandem",
		Description:  "Two seats, one bell",
		Category:     ts.fed.CategoryId("bikes"),
		Local:        true,
		CreatedAt:    time.Now(),
	})

	tests := []struct {
		name     string
		path     string
		accept   string
		want     int
		contains []string
	}{
		{"category", "/categories/bikes", "text/html", http.StatusOK, []string{"<h1>Bikes</h1>", "Tandems"}},
		{"category without accept", "/categories/bikes", "", http.StatusOK, []string{"<h1>Bikes</h1>"}},
		{"listing", "/listings/7", "text/html,application/xhtml+xml", http.StatusOK, []string{"<h1>Tandem</h1>", "Two seats, one bell", alice.ApId, "Bikes"}},
		{"unknown category", "/categories/boats", "text/html", http.StatusNotFound, []string{"no such category"}},
		{"unknown listing", "/listings/8", "text/html", http.StatusNotFound, []string{"no such listing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.get(tt.path, tt.accept)
			require.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
			assert.Equal(t, "Accept", w.Header().Get("Vary"))
			assert.NotContains(t, w.Body.String(), `"@context"`)
			for _, s := range tt.contains {
				assert.Contains(t, w.Body.String(), s)
			}
		})
	}

	ts.categories.Err = origin.ErrUnavailable
	w := ts.get("/categories/cars", "text/html")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
}

func TestInboxFollowIsAccepted(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.addUser(t, "alice")
	bob := newRemotePeer(t)
	ts.users.Put(bob.actor)

	req := bob.signedPost(t, "/users/alice/inbox", bob.follow(alice.ApId), bob.keys.PrivateKeyPem)
	w := ts.do(req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	assert.True(t, ts.users.Get(alice.ApId).HasFollower(bob.actor.ApId))
	assert.Equal(t, []string{"Accept"}, bob.Received())
}

func TestInboxRejections(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.addUser(t, "alice")
	bob := newRemotePeer(t)
	ts.users.Put(bob.actor)

	t.Run("unsigned", func(t *testing.T) {
		body, _ := json.Marshal(bob.follow(alice.ApId))
		req := httptest.NewRequest(http.MethodPost, "https://hut.example/inbox", bytes.NewReader(body))
		assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)
	})

	t.Run("forged signature", func(t *testing.T) {
		other, err := activitypub.GenerateKeyPair()
		require.NoError(t, err)
		req := bob.signedPost(t, "/inbox", bob.follow(alice.ApId), other.PrivateKeyPem)
		assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)
	})

	t.Run("malformed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "https://hut.example/inbox", strings.NewReader("not json"))
		req.Header.Set("Signature", `keyId="x"`)
		assert.Equal(t, http.StatusBadRequest, ts.do(req).Code)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		req := bob.signedPost(t, "/users/nobody/inbox", bob.follow(alice.ApId), bob.keys.PrivateKeyPem)
		assert.Equal(t, http.StatusNotFound, ts.do(req).Code)
	})

	t.Run("too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "https://hut.example/inbox", strings.NewReader(strings.Repeat("x", maxInboxBody+1)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, ts.do(req).Code)
	})

	assert.False(t, ts.users.Get(alice.ApId).HasFollower(bob.actor.ApId))
	assert.Empty(t, bob.Received())
}

func TestFeed(t *testing.T) {
	activities := staticActivityLog{{
		Id:           uuid.New(),
		ActivityURI:  "https://remote.example/follows/1",
		ActivityType: "Follow",
		ActorURI:     "https://remote.example/users/bob",
		ObjectURI:    "https://hut.example/users/alice",
		CreatedAt:    time.Now(),
	}}
	ts := newTestServer(t, activities)
	alice := ts.addUser(t, "alice")
	ts.listings.Put(&domain.Listing{
		ApId:         ts.fed.ListingId("1"),
		AttributedTo: alice.ApId,
		Title:        "Road bike",
		Local:        true,
		CreatedAt:    time.Now(),
	})

	w := ts.get("/feed?username=alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, w.Body.String(), "Road bike")

	w = ts.get("/feed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Follow by https://remote.example/users/bob")

	assert.Equal(t, http.StatusNotFound, ts.get("/feed?username=nobody", "").Code)

	noLog := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, noLog.get("/feed", "").Code)
}

func TestNewServer(t *testing.T) {
	conf := &util.AppConfig{}
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 9999
	conf.Conf.SslDomain = "hut.example"
	conf.Conf.CertCache = t.TempDir()

	srv := NewServer(conf, http.NotFoundHandler())
	assert.Equal(t, "127.0.0.1:9999", srv.Addr)
	assert.Nil(t, srv.TLSConfig)

	conf.Conf.Autocert = true
	srv = NewServer(conf, http.NotFoundHandler())
	require.NotNil(t, srv.TLSConfig)
	assert.Contains(t, srv.TLSConfig.NextProtos, "acme-tls/1")
}
