package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/activitypub"
	"github.com/deemkeen/hutgate/util"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	fetchBatch = 10
	fetchWait  = 5 * time.Second
	fetchPause = time.Second
)

// Subscriber is the subscribing half of a JetStream context.
type Subscriber interface {
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (*nats.Subscription, error)
	Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// Fetcher pulls message batches. *nats.Subscription implements it.
type Fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// Consumers runs every configured ingestion consumer against a Handler.
type Consumers struct {
	js      Subscriber
	streams []util.StreamConfig
	handler *Handler
	policy  retryPolicy
}

// NewConsumers builds the ingestion consumers. Retryable failures are naked
// with the delivery backoff; the stream's MaxDeliver bounds the attempts.
func NewConsumers(js Subscriber, streams []util.StreamConfig, handler *Handler) *Consumers {
	return &Consumers{
		js:      js,
		streams: streams,
		handler: handler,
		policy:  retryPolicy{backoff: activitypub.Backoff},
	}
}

// Run starts one goroutine per consumer and blocks until all of them return.
// A failed consumer is logged and not restarted; the others keep running.
func (c *Consumers) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, sc := range c.streams {
		for _, cc := range sc.Consumers {
			stream, durable := sc.Name, ConsumerConfig(cc).Durable
			push := cc.IsPush()
			g.Go(func() error {
				var err error
				if push {
					err = c.runPush(ctx, stream, durable)
				} else {
					err = c.runPull(ctx, stream, durable)
				}
				if err != nil {
					log.Errorf("Ingest: Consumer %s/%s stopped: %v", stream, durable, err)
				}
				return err
			})
		}
	}
	return g.Wait()
}

func (c *Consumers) runPull(ctx context.Context, stream, durable string) error {
	sub, err := c.js.PullSubscribe("", durable, nats.Bind(stream, durable))
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	log.Infof("Ingest: Pulling from %s/%s", stream, durable)
	return pullLoop(ctx, sub, fetchBatch, func(m *nats.Msg) {
		c.handle(ctx, m)
	})
}

func (c *Consumers) runPush(ctx context.Context, stream, durable string) error {
	sub, err := c.js.Subscribe("", func(m *nats.Msg) {
		c.handle(ctx, m)
	}, nats.Bind(stream, durable), nats.ManualAck())
	if err != nil {
		return err
	}

	log.Infof("Ingest: Subscribed to %s/%s", stream, durable)
	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		log.Warnf("Ingest: Failed to drain %s/%s: %v", stream, durable, err)
	}
	return nil
}

func (c *Consumers) handle(ctx context.Context, m *nats.Msg) {
	c.process(ctx, m, m.Subject, m.Data, attempts(m))
}

func (c *Consumers) process(ctx context.Context, m Acker, subject string, data []byte, attempt int) outcome {
	err := c.handler.Handle(ctx, subject, data)
	o := settle(m, err, attempt, c.policy)
	if err != nil {
		log.Warnf("Ingest: %s on %s: %v", o, subject, err)
	}
	return o
}

// pullLoop fetches batches from sub and passes each message to fn until ctx
// is done. Empty fetches are not errors.
func pullLoop(ctx context.Context, sub Fetcher, batch int, fn func(*nats.Msg)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(batch, nats.Context(fetchCtx))
		cancel()

		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			continue
		default:
			log.Warnf("Ingest: Fetch failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchPause):
			}
			continue
		}

		for _, m := range msgs {
			fn(m)
		}
	}
}
