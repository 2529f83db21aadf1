package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/util"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DeliveryError reports a failed delivery to one inbox.
type DeliveryError struct {
	Inbox string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s: %v", e.Inbox, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// StatusError is a non-2xx answer from a remote inbox.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote server returned status: %d", e.StatusCode)
}

// Send delivers activity, signed by sender, to every inbox. With useQueue
// the deliveries are handed to the delivery worker and Send returns once
// they are enqueued. Otherwise they are made now and every failure is
// returned as a *DeliveryError joined with the others.
func Send(ctx context.Context, fed *Federation, sender *domain.Actor, activity Activity, inboxes []string, useQueue bool) error {
	pem, ok := sender.PrivateKeyPem()
	if !ok {
		return fmt.Errorf("%w: %s has no signing key", ErrVerification, sender.ApId)
	}

	body, err := MarshalWithContext(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	targets := dedupeInboxes(inboxes)
	if len(targets) == 0 {
		return nil
	}

	if useQueue {
		return enqueue(ctx, fed, sender, activity, targets, body)
	}

	key, err := ParsePrivateKey(pem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(max(1, fed.DeliveryConcurrency))
	for i, inbox := range targets {
		g.Go(func() error {
			if err := deliver(ctx, fed, key, sender.KeyId(), inbox, body); err != nil {
				errs[i] = &DeliveryError{Inbox: inbox, Err: err}
				return nil
			}
			log.Infof("Outbox: Sent %s %s to %s", activity.Kind(), activity.ActivityId(), inbox)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func enqueue(ctx context.Context, fed *Federation, sender *domain.Actor, activity Activity, targets []string, body []byte) error {
	if fed.Queue == nil {
		return fmt.Errorf("no delivery queue configured")
	}

	var errs []error
	for _, inbox := range targets {
		task := &domain.DeliveryTask{
			Id:         uuid.New(),
			ActivityId: activity.ActivityId(),
			ActorId:    sender.ApId,
			InboxURI:   inbox,
			Body:       body,
			CreatedAt:  fed.Now(),
		}
		if err := fed.Queue.Enqueue(ctx, task); err != nil {
			errs = append(errs, &DeliveryError{Inbox: inbox, Err: err})
			continue
		}
		log.Debugf("Outbox: Queued %s %s for %s", activity.Kind(), activity.ActivityId(), inbox)
	}
	return errors.Join(errs...)
}

// dedupeInboxes drops empty and repeated inboxes, keeping first-seen order.
func dedupeInboxes(inboxes []string) []string {
	seen := make(map[string]bool, len(inboxes))
	out := make([]string, 0, len(inboxes))
	for _, inbox := range inboxes {
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		out = append(out, inbox)
	}
	return out
}

// deliver POSTs a signed body to inbox. Network failures, 429 and 5xx
// answers wrap ErrUpstream; other non-2xx answers are permanent.
func deliver(ctx context.Context, fed *Federation, key *rsa.PrivateKey, keyId, inbox string, body []byte) error {
	if _, err := ParseReference(inbox); err != nil {
		return err
	}

	if fed.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fed.DeliveryTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if err := SignRequest(req, key, keyId, body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := fed.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := &StatusError{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %w", ErrUpstream, statusErr)
	}
	return statusErr
}
