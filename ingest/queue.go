package ingest

import (
	"context"
	"fmt"

	"github.com/deemkeen/hutgate/activitypub"
	"github.com/deemkeen/hutgate/codec"
	"github.com/deemkeen/hutgate/domain"
	"github.com/nats-io/nats.go"
)

// Publisher is the publishing half of a JetStream context.
type Publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// JetStreamQueue publishes delivery tasks to the delivery stream. The task
// id is the message id, so a repeated enqueue within the duplicate window is
// dropped by the server.
type JetStreamQueue struct {
	js      Publisher
	subject string
}

var _ activitypub.Queue = (*JetStreamQueue)(nil)

func NewJetStreamQueue(js Publisher, subject string) *JetStreamQueue {
	return &JetStreamQueue{js: js, subject: subject}
}

func (q *JetStreamQueue) Enqueue(ctx context.Context, task *domain.DeliveryTask) error {
	data, err := codec.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding delivery task: %w", err)
	}

	if _, err := q.js.Publish(q.subject, data, nats.MsgId(task.Id.String()), nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: enqueue delivery to %s: %w", activitypub.ErrUpstream, task.InboxURI, err)
	}
	return nil
}
