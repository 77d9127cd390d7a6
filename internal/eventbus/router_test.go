// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/signalweave/signalweave/internal/config"
)

// TestRouterRetriesBeforePoisoning drives a permanently failing handler and
// verifies the middleware ordering: the retry policy must exhaust before the
// message is routed to the poison topic and acked.
func TestRouterRetriesBeforePoisoning(t *testing.T) {
	logger := watermill.NopLogger{}
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
	defer func() {
		_ = pubSub.Close()
	}()

	cfg := config.NATSConfig{
		RouterRetryCount:           3,
		RouterRetryInitialInterval: time.Millisecond,
		RouterRetryMaxInterval:     5 * time.Millisecond,
		RouterPoisonTopic:          "raw-events.poison",
		CloseTimeout:               time.Second,
	}
	r, err := NewRouter(cfg, pubSub, logger)
	if err != nil {
		t.Fatalf("NewRouter() failed: %v", err)
	}

	var calls int32
	r.AddConsumerHandler("failing-consumer", "raw-events", pubSub, func(*message.Message) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("record store unavailable")
	})

	poisoned, err := pubSub.Subscribe(context.Background(), "raw-events.poison")
	if err != nil {
		t.Fatalf("subscribe poison topic: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = r.Run(ctx)
	}()
	<-r.Running()
	defer func() {
		_ = r.Close()
	}()

	if err := pubSub.Publish("raw-events", message.NewMessage("msg-1", []byte(`{}`))); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-poisoned:
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("message never reached the poison topic")
	}

	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("handler ran %d times before poisoning, want 4 (first delivery + 3 retries)", got)
	}
}

// TestRouterRecoversPanicsIntoRetries verifies a panicking handler is retried
// like any failing handler instead of crashing the consumer.
func TestRouterRecoversPanicsIntoRetries(t *testing.T) {
	logger := watermill.NopLogger{}
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
	defer func() {
		_ = pubSub.Close()
	}()

	cfg := config.NATSConfig{
		RouterRetryCount:           1,
		RouterRetryInitialInterval: time.Millisecond,
		RouterRetryMaxInterval:     5 * time.Millisecond,
		RouterPoisonTopic:          "raw-events.poison",
		CloseTimeout:               time.Second,
	}
	r, err := NewRouter(cfg, pubSub, logger)
	if err != nil {
		t.Fatalf("NewRouter() failed: %v", err)
	}

	var calls int32
	r.AddConsumerHandler("panicking-consumer", "raw-events", pubSub, func(*message.Message) error {
		atomic.AddInt32(&calls, 1)
		panic("corrupt payload")
	})

	poisoned, err := pubSub.Subscribe(context.Background(), "raw-events.poison")
	if err != nil {
		t.Fatalf("subscribe poison topic: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = r.Run(ctx)
	}()
	<-r.Running()
	defer func() {
		_ = r.Close()
	}()

	if err := pubSub.Publish("raw-events", message.NewMessage("msg-2", []byte(`{}`))); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-poisoned:
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("panicking message never reached the poison topic")
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("handler ran %d times, want 2 (first delivery + 1 retry)", got)
	}
}
