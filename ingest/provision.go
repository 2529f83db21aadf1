// Package ingest connects the gateway to NATS JetStream: it provisions the
// configured streams and consumers, feeds consumed events into the
// federation layer and runs the outbound delivery queue.
package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/util"
	"github.com/nats-io/nats.go"
)

// StreamManager is the part of a JetStream context used to provision streams
// and consumers.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	ConsumerInfo(stream, name string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
}

const deliveryDuplicateWindow = 10 * time.Minute

// EnsureStream returns the stream named in cfg, creating it when missing.
// An existing stream is left as is.
func EnsureStream(js StreamManager, cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	info, err := js.StreamInfo(cfg.Name)
	if err == nil {
		log.Debugf("Ingest: Stream %s exists", cfg.Name)
		return info, nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return nil, fmt.Errorf("looking up stream %s: %w", cfg.Name, err)
	}

	info, err = js.AddStream(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating stream %s: %w", cfg.Name, err)
	}
	log.Infof("Ingest: Created stream %s on %v", cfg.Name, cfg.Subjects)
	return info, nil
}

// EnsureConsumer returns the durable consumer in cfg, creating it on stream
// when missing.
func EnsureConsumer(js StreamManager, stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error) {
	info, err := js.ConsumerInfo(stream, cfg.Durable)
	if err == nil {
		log.Debugf("Ingest: Consumer %s/%s exists", stream, cfg.Durable)
		return info, nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return nil, fmt.Errorf("looking up consumer %s/%s: %w", stream, cfg.Durable, err)
	}

	info, err = js.AddConsumer(stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating consumer %s/%s: %w", stream, cfg.Durable, err)
	}
	log.Infof("Ingest: Created consumer %s/%s", stream, cfg.Durable)
	return info, nil
}

// Provision creates every configured ingestion stream and consumer plus the
// delivery queue.
func Provision(js StreamManager, conf util.NatsConfig) error {
	for _, sc := range conf.Jetstream {
		if _, err := EnsureStream(js, StreamConfig(sc)); err != nil {
			return err
		}
		for _, cc := range sc.Consumers {
			if _, err := EnsureConsumer(js, sc.Name, ConsumerConfig(cc)); err != nil {
				return err
			}
		}
	}

	stream, consumer := DeliveryConfig(conf)
	if _, err := EnsureStream(js, stream); err != nil {
		return err
	}
	_, err := EnsureConsumer(js, stream.Name, consumer)
	return err
}

func StreamConfig(sc util.StreamConfig) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:     sc.Name,
		Subjects: sc.Subjects,
		MaxMsgs:  sc.MaxMsgs,
		MaxBytes: sc.MaxBytes,
		Storage:  nats.FileStorage,
	}
}

// ConsumerConfig builds a durable explicit-ack consumer. A deliver subject
// makes it a push consumer.
func ConsumerConfig(cc util.ConsumerConfig) *nats.ConsumerConfig {
	durable := cc.Durable
	if durable == "" {
		durable = cc.Name
	}
	cfg := &nats.ConsumerConfig{
		Durable:        durable,
		DeliverPolicy:  nats.DeliverAllPolicy,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: cc.DeliverSubject,
	}
	switch len(cc.FilterSubjects) {
	case 0:
	case 1:
		cfg.FilterSubject = cc.FilterSubjects[0]
	default:
		cfg.FilterSubjects = cc.FilterSubjects
	}
	return cfg
}

// DeliveryConfig returns the work-queue stream holding delivery tasks and
// its pull consumer. Redelivery stops after MaxAttempts.
func DeliveryConfig(conf util.NatsConfig) (*nats.StreamConfig, *nats.ConsumerConfig) {
	d := conf.Delivery
	stream := &nats.StreamConfig{
		Name:       d.Stream,
		Subjects:   []string{d.Subject},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: deliveryDuplicateWindow,
	}
	consumer := &nats.ConsumerConfig{
		Durable:       d.Consumer,
		DeliverPolicy: nats.DeliverAllPolicy,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       time.Minute,
		MaxDeliver:    d.MaxAttempts,
		FilterSubject: d.Subject,
	}
	return stream, consumer
}
