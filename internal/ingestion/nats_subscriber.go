package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamName is the JetStream stream carrying the ledger event feed.
const StreamName = "LEDGER_EVENTS"

// NATSSubscriber consumes the event feed from JetStream and hands each
// message to the feeder via the raw channel.
type NATSSubscriber struct {
	js       jetstream.JetStream
	rawChan  chan<- RawEvent
	cfg      SubscriberConfig
	consumer jetstream.ConsumeContext
	logger   zerolog.Logger
}

// RawEvent is one undecoded feed message. Ack or Nak must be called once
// the engine has settled it.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time // Receive time, for ingest latency
	AckFunc   func()
	NakFunc   func(delay time.Duration)
}

func (r RawEvent) Ack() {
	if r.AckFunc != nil {
		r.AckFunc()
	}
}

func (r RawEvent) Nak(delay time.Duration) {
	if r.NakFunc != nil {
		r.NakFunc(delay)
	}
}

// SubscriberConfig tunes the durable feed consumer.
type SubscriberConfig struct {
	Stream        string
	Durable       string
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
}

func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		Stream:        StreamName,
		Durable:       "ledger-stats",
		AckWait:       30 * time.Second,
		MaxDeliver:    -1,
		MaxAckPending: 256,
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawEvent, cfg SubscriberConfig, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		cfg:     cfg,
		logger:  logger,
	}
}

// Subscribe creates the durable consumer over every event subject and
// starts delivering. The stream preserves feed order across subjects.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, ns.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       ns.cfg.Durable,
		FilterSubject: SubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ns.cfg.AckWait,
		MaxDeliver:    ns.cfg.MaxDeliver,
		MaxAckPending: ns.cfg.MaxAckPending,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", ns.cfg.Durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawEvent{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc: func() {
				if err := msg.Ack(); err != nil {
					ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("ack failed")
				}
			},
			NakFunc: func(delay time.Duration) {
				if err := msg.NakWithDelay(delay); err != nil {
					ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("nak failed")
				}
			},
		}

		select {
		case ns.rawChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", ns.cfg.Durable, err)
	}
	ns.consumer = cc

	ns.logger.Info().
		Str("stream", ns.cfg.Stream).
		Str("consumer", ns.cfg.Durable).
		Msg("subscribed to event feed")
	return nil
}

// Stop drains the consumer.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// EnsureStreams creates the feed and notification streams if they don't
// exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      StreamName,
			Subjects:  []string{SubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      NotifyStreamName,
			Subjects:  []string{NotifyPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("ledger-stats"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
