// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/signalweave/signalweave/internal/config"
	"github.com/signalweave/signalweave/internal/logging"
)

// Stream names. Each topic gets its own stream; the poison stream captures
// messages the resolver gave up on.
const (
	StreamRawEvents       = "RAW_EVENTS"
	StreamIdentityUpdates = "IDENTITY_UPDATES"
	StreamPoison          = "RAW_EVENTS_POISON"
)

// jetStreamManager is the subset of jetstream.JetStream used here, kept as an
// interface for tests.
type jetStreamManager interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// StreamInitializer provisions the JetStream streams before publishers and
// subscribers start, so neither side ever auto-creates a misconfigured stream.
type StreamInitializer struct {
	js  jetStreamManager
	cfg config.NATSConfig
}

// NewStreamInitializer connects to NATS and prepares a stream initializer.
// The caller owns the returned connection and closes it after initialization.
func NewStreamInitializer(cfg config.NATSConfig) (*StreamInitializer, *natsgo.Conn, error) {
	nc, err := natsgo.Connect(cfg.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}

	return &StreamInitializer{js: js, cfg: cfg}, nc, nil
}

// EnsureStreams creates or updates every stream the pipeline relies on.
// Idempotent; safe at every process start.
func (s *StreamInitializer) EnsureStreams(ctx context.Context) error {
	maxAge := time.Duration(s.cfg.StreamRetentionDays) * 24 * time.Hour

	streams := []jetstream.StreamConfig{
		{
			Name:        StreamRawEvents,
			Subjects:    []string{TopicRawEvents},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      maxAge,
			Duplicates:  2 * time.Minute,
			Storage:     jetstream.FileStorage,
			AllowDirect: true,
			Discard:     jetstream.DiscardOld,
		},
		{
			Name:        StreamIdentityUpdates,
			Subjects:    []string{TopicIdentityUpdates},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      maxAge,
			Duplicates:  2 * time.Minute,
			Storage:     jetstream.FileStorage,
			AllowDirect: true,
			Discard:     jetstream.DiscardOld,
		},
		{
			// Poisoned events keep a longer shelf life so operators have time
			// to inspect and replay them.
			Name:        StreamPoison,
			Subjects:    []string{s.cfg.RouterPoisonTopic},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			AllowDirect: true,
			Discard:     jetstream.DiscardOld,
		},
	}

	for _, streamCfg := range streams {
		if err := s.ensureStream(ctx, streamCfg); err != nil {
			return err
		}
	}
	return nil
}

func (s *StreamInitializer) ensureStream(ctx context.Context, cfg jetstream.StreamConfig) error {
	_, err := s.js.Stream(ctx, cfg.Name)
	if err == nil {
		if _, err := s.js.UpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("update stream %s: %w", cfg.Name, err)
		}
		return nil
	}

	if errors.Is(err, jetstream.ErrStreamNotFound) {
		if _, err := s.js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logging.Info().Str("stream", cfg.Name).Msg("Created JetStream stream")
		return nil
	}

	return fmt.Errorf("check stream %s: %w", cfg.Name, err)
}
