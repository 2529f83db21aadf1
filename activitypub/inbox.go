package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/domain"
	"github.com/google/uuid"
)

// HandleInbox authenticates a POSTed activity and applies it. body is the
// already read request body. Activity types this gateway does not handle
// are logged and dropped without error.
func HandleInbox(ctx context.Context, fed *Federation, req *http.Request, body []byte) error {
	if req.Header.Get("Signature") == "" {
		return fmt.Errorf("%w: missing HTTP signature", ErrVerification)
	}

	activity, err := ParseActivity(body)
	if errors.Is(err, ErrUnsupported) {
		log.Infof("Inbox: Ignoring activity: %v", err)
		return nil
	}
	if err != nil {
		return err
	}

	log.Infof("Inbox: Received %s from %s", activity.Kind(), activity.ActorId())

	if isReference(activity.ActivityId()) {
		if err := VerifyDomainsMatch(activity.ActivityId(), activity.ActorId()); err != nil {
			return err
		}
	}

	if err := verifySignature(ctx, fed, req, activity.ActorId()); err != nil {
		log.Warnf("Inbox: Signature verification failed for %s: %v", activity.ActorId(), err)
		return err
	}
	if err := VerifyDigest(req, body); err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}

	return Process(ctx, fed, activity, body)
}

// verifySignature checks req against the key of actorId. A failure against
// a stored key is retried once with the actor refetched, which covers key
// rotation.
func verifySignature(ctx context.Context, fed *Federation, req *http.Request, actorId string) error {
	actor, err := ResolveActor(ctx, fed, actorId)
	if err != nil {
		return err
	}
	if actor == nil {
		return fmt.Errorf("%w: unknown actor %s", ErrVerification, actorId)
	}

	err = checkSignature(req, actor)
	if err == nil || actor.Local {
		return err
	}

	refreshed, rerr := RefreshActor(ctx, fed, actorId)
	if rerr != nil || refreshed == nil || refreshed.PublicKey == actor.PublicKey {
		return err
	}
	return checkSignature(req, refreshed)
}

func checkSignature(req *http.Request, actor *domain.Actor) error {
	owner, err := VerifyRequest(req, actor.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}
	if owner != actor.ApId {
		return fmt.Errorf("%w: key of %s used to sign for %s", ErrVerification, owner, actor.ApId)
	}
	return nil
}

// Process runs an authenticated activity through replay detection,
// verification and its handler. raw is kept in the ledger.
func Process(ctx context.Context, fed *Federation, activity Activity, raw []byte) error {
	key := ledgerKey(activity)

	if fed.Ledger != nil {
		processed, err := fed.Ledger.RecordActivity(ctx, &domain.ActivityRecord{
			Id:           uuid.New(),
			ActivityURI:  key,
			ActivityType: activity.Kind(),
			ActorURI:     activity.ActorId(),
			ObjectURI:    activity.ObjectId(),
			RawJSON:      string(raw),
			Local:        fed.IsLocal(activity.ActorId()),
			CreatedAt:    fed.Now(),
		})
		switch {
		case err != nil:
			log.Warnf("Inbox: Failed to store activity: %v", err)
		case processed:
			log.Infof("Inbox: Ignoring replayed %s %s", activity.Kind(), activity.ActivityId())
			return nil
		}
	}

	if err := Verify(ctx, fed, activity); err != nil {
		return err
	}
	if err := Receive(ctx, fed, activity); err != nil {
		log.Errorf("Inbox: Failed to handle %s: %v", activity.Kind(), err)
		return err
	}

	if fed.Ledger != nil {
		if err := fed.Ledger.MarkProcessed(ctx, key); err != nil {
			log.Warnf("Inbox: Failed to mark %s processed: %v", key, err)
		}
	}
	return nil
}
