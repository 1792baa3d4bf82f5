/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/signcast/signcast/internal/events"
)

// wsEvent is one frame pushed to event stream clients.
type wsEvent struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
}

// handleEventsWebSocket streams engine and schedule events to dashboards.
// Each connection gets its own bus subscriptions; a slow client only loses
// its own frames.
func (a *API) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		a.logger.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	streamed := append([]events.EventType{}, events.EngineEventTypes...)
	streamed = append(streamed,
		events.EventExecutionSuperseded,
		events.EventScheduleTriggered,
		events.EventScheduleReleased,
	)

	merged := make(chan wsEvent, 64)
	for _, eventType := range streamed {
		eventType := eventType
		ch := a.bus.Subscribe(eventType)
		defer a.bus.Unsubscribe(eventType, ch)

		go func() {
			for payload := range ch {
				select {
				case merged <- wsEvent{Type: eventType, Payload: payload}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Reader goroutine detects client disconnect; inbound frames are not
	// part of the protocol.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case ev := <-merged:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
