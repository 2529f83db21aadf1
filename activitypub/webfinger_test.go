package activitypub

import (
	"context"
	"testing"

	"github.com/deemkeen/hutgate/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractWebfingerName(t *testing.T) {
	tests := []struct {
		resource string
		want     string
		wantErr  bool
	}{
		{"acct:alice@hut.example", "alice", false},
		{"acct:Alice@HUT.example", "Alice", false},
		{"acct:user_1.test-x@hut.example", "user_1.test-x", false},
		{"acct:alice@other.example", "", true},
		{"alice@hut.example", "", true},
		{"acct:@hut.example", "", true},
		{"acct:alice@bob@hut.example", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			got, err := ExtractWebfingerName(tt.resource, "hut.example")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWebfingerResponse(t *testing.T) {
	a := &domain.Actor{ApId: "https://hut.example/users/alice"}
	wf := NewWebfingerResponse("acct:alice@hut.example", a)

	assert.Equal(t, "acct:alice@hut.example", wf.Subject)
	href, ok := wf.SelfLink()
	require.True(t, ok)
	assert.Equal(t, a.ApId, href)
}

func TestParseHandle(t *testing.T) {
	for _, handle := range []string{"alice@a.example", "@alice@a.example", "acct:alice@a.example"} {
		name, host, err := ParseHandle(handle)
		require.NoError(t, err, handle)
		assert.Equal(t, "alice", name)
		assert.Equal(t, "a.example", host)
	}

	for _, handle := range []string{"alice", "@a.example", "alice@", "a@b@c"} {
		_, _, err := ParseHandle(handle)
		assert.ErrorIs(t, err, ErrInvalidReference, handle)
	}
}

func TestResolveWebfinger(t *testing.T) {
	a, b := newTestInstance(t), newTestInstance(t)
	bob := b.addUser(t, "bob")
	ctx := context.Background()

	got, err := ResolveWebfinger(ctx, a.fed, "@bob@"+b.fed.Domain)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, bob.ApId, got.ApId)

	missing, err := ResolveWebfinger(ctx, a.fed, "nobody@"+b.fed.Domain)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
