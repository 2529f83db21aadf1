package ingest

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/activitypub"
	"github.com/deemkeen/hutgate/codec"
	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/util"
	"github.com/nats-io/nats.go"
)

// DeliveryWorker drains the delivery queue. Failed deliveries are redelivered
// by the server after a growing delay until MaxAttempts is reached.
type DeliveryWorker struct {
	fed    *activitypub.Federation
	js     Subscriber
	conf   util.NatsConfig
	policy retryPolicy
}

func NewDeliveryWorker(fed *activitypub.Federation, js Subscriber, conf util.NatsConfig) *DeliveryWorker {
	return &DeliveryWorker{
		fed:  fed,
		js:   js,
		conf: conf,
		policy: retryPolicy{
			maxAttempts: conf.Delivery.MaxAttempts,
			backoff:     activitypub.Backoff,
		},
	}
}

// Run processes delivery tasks until ctx is done.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	d := w.conf.Delivery
	sub, err := w.js.PullSubscribe(d.Subject, d.Consumer, nats.Bind(d.Stream, d.Consumer))
	if err != nil {
		return fmt.Errorf("binding delivery consumer: %w", err)
	}
	defer sub.Unsubscribe()

	log.Info("Delivery worker started")
	return pullLoop(ctx, sub, fetchBatch, func(m *nats.Msg) {
		w.process(ctx, m, m.Data, attempts(m))
	})
}

func (w *DeliveryWorker) process(ctx context.Context, m Acker, data []byte, attempt int) outcome {
	var task domain.DeliveryTask
	if err := codec.Unmarshal(data, &task); err != nil {
		log.Errorf("Delivery: Dropping undecodable task: %v", err)
		return settle(m, fmt.Errorf("%w: %w", activitypub.ErrMalformed, err), attempt, w.policy)
	}

	err := activitypub.Deliver(ctx, w.fed, &task)
	o := settle(m, err, attempt, w.policy)
	switch o {
	case outcomeAck:
		log.Infof("Delivery: Delivered %s to %s", task.ActivityId, task.InboxURI)
	case outcomeRetry:
		log.Warnf("Delivery: Attempt %d to %s failed, retrying in %v: %v", attempt, task.InboxURI, activitypub.Backoff(attempt), err)
	default:
		log.Errorf("Delivery: Giving up on %s to %s after %d attempts: %v", task.ActivityId, task.InboxURI, attempt, err)
	}
	return o
}
