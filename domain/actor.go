package domain

import (
	"fmt"
	"slices"
	"time"
)

// Actor is a federated user, owned either by this instance or a remote one.
type Actor struct {
	ApId            string
	Username        string
	DisplayName     string
	Summary         string
	AvatarURL       string
	Inbox           string
	Outbox          string
	SharedInbox     string
	PublicKey       string
	PrivateKey      string
	Followers       []string
	Local           bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastRefreshedAt time.Time
}

// PrivateKeyPem returns the signing key of a locally owned actor.
// Remote actors never expose a private key, even if one was set by mistake.
func (a *Actor) PrivateKeyPem() (string, bool) {
	if !a.Local || a.PrivateKey == "" {
		return "", false
	}
	return a.PrivateKey, true
}

// KeyId is the identifier of the actor's public key in signature headers.
func (a *Actor) KeyId() string {
	return a.ApId + "#main-key"
}

// SharedInboxOrInbox prefers the shared inbox when the actor advertises one.
func (a *Actor) SharedInboxOrInbox() string {
	if a.SharedInbox != "" {
		return a.SharedInbox
	}
	return a.Inbox
}

func (a *Actor) HasFollower(apId string) bool {
	return slices.Contains(a.Followers, apId)
}

// IsStale reports whether a remote actor should be fetched again.
func (a *Actor) IsStale(now time.Time, refreshAfter time.Duration) bool {
	if a.Local {
		return false
	}
	return now.Sub(a.LastRefreshedAt) > refreshAfter
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tApId: %s \n\tUsername: %s \n\tLocal: %t \n\tFollowers: %d \n\tUPDATED_AT: %s)", a.ApId, a.Username, a.Local, len(a.Followers), a.UpdatedAt)
}
