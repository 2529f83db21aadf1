package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/origin"
)

// NewLocalActor builds a local actor for username with all endpoints on
// this instance.
func NewLocalActor(fed *Federation, username string, keys *KeyPair) *domain.Actor {
	now := fed.Now()
	return &domain.Actor{
		ApId:            fed.ActorId(username),
		Username:        username,
		Inbox:           fed.InboxURL(username),
		Outbox:          fed.OutboxURL(username),
		SharedInbox:     fed.SharedInboxURL(),
		PublicKey:       keys.PublicKeyPem,
		PrivateKey:      keys.PrivateKeyPem,
		Local:           true,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastRefreshedAt: now,
	}
}

// ProvisionLocalActor creates a local actor with a fresh key pair. The key
// pair is generated only when the actor does not exist yet.
func ProvisionLocalActor(ctx context.Context, fed *Federation, username string) (*domain.Actor, error) {
	id := fed.ActorId(username)

	existing, err := fed.Users.QueryUserByApId(ctx, id)
	if err != nil {
		return nil, originError("query user", err)
	}
	if existing != nil {
		return existing, nil
	}

	keys, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	created, err := fed.Users.CreateUser(ctx, NewLocalActor(fed, username, keys))
	if errors.Is(err, origin.ErrConflict) {
		// Created concurrently; the stored key pair wins.
		created, err = fed.Users.QueryUserByApId(ctx, id)
	}
	if err != nil {
		return nil, originError("create user", err)
	}
	if created == nil {
		return nil, fmt.Errorf("%w: %s vanished after creation", ErrUpstream, id)
	}

	storeCached(ctx, fed, created, actorKeys(created)...)
	log.Infof("Created local actor %s", created.ApId)
	return created, nil
}

// EnsureSystemActor makes sure the instance actor that signs fetches
// exists and installs it on fed.
func EnsureSystemActor(ctx context.Context, fed *Federation) (*domain.Actor, error) {
	a, err := ProvisionLocalActor(ctx, fed, fed.InstanceName)
	if err != nil {
		return nil, fmt.Errorf("system actor: %w", err)
	}
	if _, ok := a.PrivateKeyPem(); !ok {
		return nil, fmt.Errorf("system actor %s has no private key", a.ApId)
	}
	fed.SystemActor = a
	return a, nil
}
