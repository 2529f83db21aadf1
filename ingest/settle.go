package ingest

import (
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/activitypub"
	"github.com/nats-io/nats.go"
)

// Acker settles a JetStream message. *nats.Msg implements it.
type Acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeTerm
)

func (o outcome) String() string {
	switch o {
	case outcomeAck:
		return "ack"
	case outcomeRetry:
		return "retry"
	default:
		return "term"
	}
}

// classify maps a handler result to how its message is settled. Types the
// gateway does not handle are acknowledged so they are not redelivered.
func classify(err error) outcome {
	switch {
	case err == nil, errors.Is(err, activitypub.ErrUnsupported):
		return outcomeAck
	case activitypub.IsRetryable(err):
		return outcomeRetry
	default:
		return outcomeTerm
	}
}

// retryPolicy decides how a retryable failure is redelivered. The zero value
// naks immediately and never gives up before the server does.
type retryPolicy struct {
	maxAttempts int
	backoff     func(attempt int) time.Duration
}

func (p retryPolicy) decide(err error, attempt int) outcome {
	o := classify(err)
	if o == outcomeRetry && p.maxAttempts > 0 && attempt >= p.maxAttempts {
		return outcomeTerm
	}
	return o
}

// settle acknowledges m according to err and returns the outcome applied.
func settle(m Acker, err error, attempt int, p retryPolicy) outcome {
	o := p.decide(err, attempt)

	var ackErr error
	switch o {
	case outcomeAck:
		ackErr = m.Ack()
	case outcomeRetry:
		if p.backoff != nil {
			ackErr = m.NakWithDelay(p.backoff(attempt))
		} else {
			ackErr = m.Nak()
		}
	default:
		ackErr = m.Term()
	}
	if ackErr != nil {
		log.Warnf("Ingest: Failed to %s message: %v", o, ackErr)
	}
	return o
}

// attempts returns how often m has been delivered, counting this delivery.
func attempts(m *nats.Msg) int {
	md, err := m.Metadata()
	if err != nil {
		return 1
	}
	return int(md.NumDelivered)
}
