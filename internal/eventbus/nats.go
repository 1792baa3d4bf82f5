/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/signcast/signcast/internal/events"
)

const subjectPrefix = "signcast."

// natsMessage is the wire envelope for events published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Bridge forwards in-process bus events to NATS subjects so external
// consumers (device agents, notifiers) can follow the fleet without
// touching the HTTP API. Subjects are "signcast.<event_type>".
type Bridge struct {
	conn   *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	subs []struct {
		eventType events.EventType
		ch        events.Subscriber
	}
	quit chan struct{}
}

// NewBridge connects to NATS. Forwarding starts with Start.
func NewBridge(url, nodeID string, bus *events.Bus, logger zerolog.Logger) (*Bridge, error) {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	conn, err := nats.Connect(url,
		nats.Name("signcast-"+nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logger.Info().Str("url", url).Str("node_id", nodeID).Msg("connected to nats")

	return &Bridge{
		conn:   conn,
		bus:    bus,
		logger: logger.With().Str("component", "nats_bridge").Logger(),
		nodeID: nodeID,
		quit:   make(chan struct{}),
	}, nil
}

// Start subscribes to the given event types and forwards them until Close.
func (b *Bridge) Start(eventTypes ...events.EventType) {
	for _, eventType := range eventTypes {
		ch := b.bus.Subscribe(eventType)
		b.subs = append(b.subs, struct {
			eventType events.EventType
			ch        events.Subscriber
		}{eventType, ch})

		go b.forward(eventType, ch)
	}
	b.logger.Info().Int("event_types", len(eventTypes)).Msg("nats bridge started")
}

// Close stops forwarding and drains the connection.
func (b *Bridge) Close() error {
	close(b.quit)
	for _, sub := range b.subs {
		b.bus.Unsubscribe(sub.eventType, sub.ch)
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

func (b *Bridge) forward(eventType events.EventType, ch events.Subscriber) {
	for {
		select {
		case <-b.quit:
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			b.publish(eventType, payload)
		}
	}
}

func (b *Bridge) publish(eventType events.EventType, payload events.Payload) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    b.nodeID,
		MessageID: uuid.NewString(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("type", string(eventType)).Msg("marshal nats message failed")
		return
	}

	subject := subjectPrefix + string(eventType)
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Warn().Err(err).Str("subject", subject).Msg("nats publish failed")
	}
}
