package activitypub

import (
	"context"
	"fmt"
	"time"

	"github.com/deemkeen/hutgate/domain"
)

var backoffSchedule = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

// Backoff returns how long to wait before retrying a delivery that failed
// for the attempt-th time.
func Backoff(attempt int) time.Duration {
	return backoffSchedule[min(max(attempt, 1)-1, len(backoffSchedule)-1)]
}

// Deliver performs one queued delivery. The sender is resolved again and
// the body is signed now, so tasks never carry key material.
func Deliver(ctx context.Context, fed *Federation, task *domain.DeliveryTask) error {
	sender, err := ResolveActor(ctx, fed, task.ActorId)
	if err != nil {
		return fmt.Errorf("failed to get local account: %w", err)
	}
	if sender == nil {
		return fmt.Errorf("%w: sender %s", ErrNotFound, task.ActorId)
	}

	pem, ok := sender.PrivateKeyPem()
	if !ok {
		return fmt.Errorf("%w: %s has no signing key", ErrVerification, sender.ApId)
	}
	key, err := ParsePrivateKey(pem)
	if err != nil {
		return fmt.Errorf("%w: failed to parse private key: %w", ErrVerification, err)
	}

	if err := deliver(ctx, fed, key, sender.KeyId(), task.InboxURI, task.Body); err != nil {
		return &DeliveryError{Inbox: task.InboxURI, Err: err}
	}
	return nil
}
