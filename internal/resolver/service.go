// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package resolver

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/signalweave/signalweave/internal/config"
	"github.com/signalweave/signalweave/internal/eventbus"
)

// Service runs the resolver consumer under a supervision tree. A crash in the
// router tears the service down and the supervisor restarts it; JetStream
// redelivers whatever was in flight.
type Service struct {
	subscriber *eventbus.Subscriber
	router     *eventbus.Router
}

// NewService wires the durable subscriber, the middleware router, and the
// processor into a runnable service. poisonPublisher receives events that
// exhaust their retries.
func NewService(cfg config.NATSConfig, processor *Processor, poisonPublisher message.Publisher, logger watermill.LoggerAdapter) (*Service, error) {
	if logger == nil {
		logger = eventbus.NewLoggerAdapter()
	}

	subscriber, err := eventbus.NewSubscriber(cfg, eventbus.StreamRawEvents, logger)
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	router, err := eventbus.NewRouter(cfg, poisonPublisher, logger)
	if err != nil {
		_ = subscriber.Close()
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddConsumerHandler(
		"identity-resolver",
		eventbus.TopicRawEvents,
		subscriber.WatermillSubscriber(),
		processor.Handle,
	)

	return &Service{subscriber: subscriber, router: router}, nil
}

// Serve implements suture.Service. Blocks until the context is canceled.
func (s *Service) Serve(ctx context.Context) error {
	defer func() {
		_ = s.subscriber.Close()
	}()
	return s.router.Run(ctx)
}

// String names the service in supervisor logs.
func (s *Service) String() string {
	return "identity-resolver"
}
