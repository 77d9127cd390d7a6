// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/signalweave/signalweave/internal/config"
	"github.com/signalweave/signalweave/internal/metrics"
)

// Publisher wraps a Watermill NATS publisher with a circuit breaker. The
// breaker keeps ingest requests from stacking up behind a dead broker: once
// open, publishes fail fast and the gateway returns 502 instead of timing out.
type Publisher struct {
	publisher  message.Publisher
	breaker    *gobreaker.CircuitBreaker[interface{}]
	serializer *Serializer
	mu         sync.RWMutex
	closed     bool
}

// NewPublisher creates a JetStream publisher with message id tracking for
// broker-side deduplication.
func NewPublisher(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = NewLoggerAdapter()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // Streams are pre-created by the initializer
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "bus-publisher",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Publisher{
		publisher:  pub,
		breaker:    breaker,
		serializer: NewSerializer(),
	}, nil
}

// Publish sends a message with the message UUID as Nats-Msg-Id so redundant
// gateway retries collapse inside the broker's dedupe window.
func (p *Publisher) Publish(ctx context.Context, topic string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publisher.Publish(topic, msg)
	})
	if err == nil {
		metrics.RecordBusPublish(topic)
	}
	return err
}

// PublishEvent serializes and publishes an event onto raw-events.
func (p *Publisher) PublishEvent(ctx context.Context, m *EventMessage) error {
	msg, err := p.serializer.MarshalEvent(m)
	if err != nil {
		return err
	}
	return p.Publish(ctx, TopicRawEvents, msg)
}

// PublishIdentityUpdate serializes and publishes an identity update.
func (p *Publisher) PublishIdentityUpdate(ctx context.Context, u *IdentityUpdate) error {
	msg, err := p.serializer.MarshalIdentityUpdate(u)
	if err != nil {
		return err
	}
	return p.Publish(ctx, TopicIdentityUpdates, msg)
}

// WatermillPublisher exposes the underlying publisher for components that
// need the native interface, such as the poison queue middleware.
func (p *Publisher) WatermillPublisher() message.Publisher {
	return p.publisher
}

// Close shuts the publisher down. Safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
