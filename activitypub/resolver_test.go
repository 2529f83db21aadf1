package activitypub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/origin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveActorCacheThenOrigin(t *testing.T) {
	b := newTestInstance(t)
	ctx := context.Background()
	bob := &domain.Actor{ApId: b.fed.ActorId("bob"), Username: "bob", Local: true}
	b.users.Put(bob)

	first, err := ResolveActor(ctx, b.fed, bob.ApId)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := ResolveActor(ctx, b.fed, bob.ApId)
	require.NoError(t, err)
	assert.Equal(t, first.ApId, second.ApId)

	assert.Equal(t, 1, b.users.Calls("QueryUserByApId"))
}

func TestResolveActorInvalidReference(t *testing.T) {
	b := newTestInstance(t)

	for _, id := range []string{"", "not a url", "ftp://x.example/users/a", "urn:uuid:1234"} {
		_, err := ResolveActor(context.Background(), b.fed, id)
		assert.ErrorIs(t, err, ErrInvalidReference, id)
	}
	assert.Zero(t, b.users.TotalCalls())
}

func TestResolveUnknownLocalActorIsAbsent(t *testing.T) {
	b := newTestInstance(t)

	got, err := ResolveActor(context.Background(), b.fed, b.fed.ActorId("nobody"))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, b.Fetches("/users/nobody"), "local ids never go over HTTP")
}

func TestResolveRemoteActorIsFetchedOnce(t *testing.T) {
	a, b := newTestInstance(t), newTestInstance(t)
	alice := a.addUser(t, "alice")
	ctx := context.Background()

	for range 3 {
		got, err := ResolveActor(ctx, b.fed, alice.ApId)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.False(t, got.Local)
		assert.Equal(t, alice.PublicKey, got.PublicKey)
		_, hasKey := got.PrivateKeyPem()
		assert.False(t, hasKey)
	}

	assert.Equal(t, 1, a.Fetches("/users/alice"))
	assert.Equal(t, 1, b.users.Calls("UpsertUser"))
}

func TestResolveRemoteActorRefreshesWhenStale(t *testing.T) {
	a, b := newTestInstance(t), newTestInstance(t)
	alice := a.addUser(t, "alice")
	ctx := context.Background()

	_, err := ResolveActor(ctx, b.fed, alice.ApId)
	require.NoError(t, err)

	later := b.fed.WithClock(func() time.Time { return time.Now().Add(25 * time.Hour) })
	got, err := ResolveActor(ctx, later, alice.ApId)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, 2, a.Fetches("/users/alice"))
}

func TestResolveStaleActorFallsBackWhenRemoteIsDown(t *testing.T) {
	b := newTestInstance(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	ghost := &domain.Actor{
		ApId:            "http://127.0.0.1:1/users/ghost",
		Inbox:           "http://127.0.0.1:1/users/ghost/inbox",
		LastRefreshedAt: old,
	}
	b.users.Put(ghost)

	got, err := ResolveActor(ctx, b.fed, ghost.ApId)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ghost.Inbox, got.Inbox)
}

func TestResolveRemoteNotFound(t *testing.T) {
	a, b := newTestInstance(t), newTestInstance(t)

	got, err := ResolveActor(context.Background(), b.fed, a.fed.ActorId("nobody"))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, b.users.Calls("UpsertUser"))
}

func TestResolveOriginFailureIsUpstream(t *testing.T) {
	b := newTestInstance(t)
	b.users.Err = origin.ErrUnavailable

	_, err := ResolveActor(context.Background(), b.fed, b.fed.ActorId("bob"))
	assert.ErrorIs(t, err, ErrUpstream)
	assert.True(t, IsRetryable(err))
}

func TestResolveRejectsObjectFromOtherDomain(t *testing.T) {
	b := newTestInstance(t)
	kp := generateTestKeyPair(t)

	liar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := MarshalWithContext(&Person{
			Type:      "Person",
			Id:        "https://elsewhere.example/users/eve",
			Inbox:     "https://elsewhere.example/users/eve/inbox",
			PublicKey: PublicKey{Id: "https://elsewhere.example/users/eve#main-key", PublicKeyPem: kp.PublicKeyPem},
		})
		w.Header().Set("Content-Type", ContentType)
		_, _ = w.Write(body)
	}))
	defer liar.Close()

	_, err := ResolveActor(context.Background(), b.fed, liar.URL+"/users/eve")
	assert.ErrorIs(t, err, ErrVerification)
	assert.Zero(t, b.users.Calls("UpsertUser"))
}

func TestResolveRejectsOversizedDocument(t *testing.T) {
	b := newTestInstance(t)

	big := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", ContentType)
		_, _ = w.Write([]byte(`{"id":"` + r.Host + `","pad":"`))
		_, _ = w.Write(make([]byte, maxObjectSize))
	}))
	defer big.Close()

	_, err := ResolveActor(context.Background(), b.fed, big.URL+"/users/big")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestResolveRemoteListingRequiresAuthor(t *testing.T) {
	a, b := newTestInstance(t), newTestInstance(t)
	alice := a.addUser(t, "alice")
	ctx := context.Background()

	a.listings.Put(&domain.Listing{ApId: a.fed.ListingId("1"), AttributedTo: alice.ApId, Title: "Desk", Local: true})
	a.listings.Put(&domain.Listing{ApId: a.fed.ListingId("2"), AttributedTo: a.fed.ActorId("ghost"), Title: "Chair", Local: true})

	got, err := ResolveListing(ctx, b.fed, a.fed.ListingId("1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Desk", got.Title)
	assert.False(t, got.Local)

	_, err = ResolveListing(ctx, b.fed, a.fed.ListingId("2"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, b.listings.Get(a.fed.ListingId("2")))
}

func TestResolveLocalActorByName(t *testing.T) {
	b := newTestInstance(t)
	bob := b.addUser(t, "bob")
	ctx := context.Background()

	got, err := ResolveLocalActorByName(ctx, b.fed, "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, bob.ApId, got.ApId)
	assert.Zero(t, b.users.Calls("QueryLocalUserByName"), "provisioning writes the name key")

	missing, err := ResolveLocalActorByName(ctx, b.fed, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEnsureSystemActorIsIdempotent(t *testing.T) {
	b := newTestInstance(t)
	ctx := context.Background()

	first, err := EnsureSystemActor(ctx, b.fed)
	require.NoError(t, err)
	second, err := EnsureSystemActor(ctx, b.fed)
	require.NoError(t, err)

	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, 1, b.users.Calls("CreateUser"))
	assert.Same(t, second, b.fed.SystemActor)
	assert.Equal(t, b.fed.ActorId("hut"), second.ApId)
}

func TestSignedFetchUsesSystemActor(t *testing.T) {
	b := newTestInstance(t)
	sys, err := EnsureSystemActor(context.Background(), b.fed)
	require.NoError(t, err)

	var keyOwner string
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyOwner, _ = VerifyRequest(r, sys.PublicKey)
		http.NotFound(w, r)
	}))
	defer remote.Close()

	_, err = ResolveActor(context.Background(), b.fed, remote.URL+"/users/x")
	require.NoError(t, err)
	assert.Equal(t, sys.ApId, keyOwner)
}
