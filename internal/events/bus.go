/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Engine lifecycle events, emitted once per transition per slot.
	EventEngineStarted   EventType = "engine.started"
	EventEnginePaused    EventType = "engine.paused"
	EventEngineResumed   EventType = "engine.resumed"
	EventEngineStopped   EventType = "engine.stopped"
	EventEngineCompleted EventType = "engine.completed"
	EventEngineError     EventType = "engine.error"

	// Execution bookkeeping.
	EventExecutionSuperseded EventType = "execution.superseded"

	// Schedule runner boundaries.
	EventScheduleTriggered EventType = "schedule.triggered"
	EventScheduleReleased  EventType = "schedule.released"

	// Audit events (for operations that need explicit audit logging)
	EventAuditActionExecute  EventType = "audit.action.execute"
	EventAuditActionStop     EventType = "audit.action.stop"
	EventAuditActionPause    EventType = "audit.action.pause"
	EventAuditActionResume   EventType = "audit.action.resume"
	EventAuditScheduleCreate EventType = "audit.schedule.create"
	EventAuditScheduleUpdate EventType = "audit.schedule.update"
	EventAuditScheduleDelete EventType = "audit.schedule.delete"
	EventAuditAPIKeyCreate   EventType = "audit.apikey.create"
	EventAuditAPIKeyRevoke   EventType = "audit.apikey.revoke"
)

// EngineEventTypes lists the lifecycle events engines can emit, in no
// particular order. Consumers that want "everything an engine does"
// subscribe to each of these.
var EngineEventTypes = []EventType{
	EventEngineStarted,
	EventEnginePaused,
	EventEngineResumed,
	EventEngineStopped,
	EventEngineCompleted,
	EventEngineError,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. Publish never blocks: slow
// subscribers lose events rather than stalling playback.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 16)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. The read lock is held across the
// sends so Unsubscribe cannot close a channel mid-publish; sends stay
// non-blocking, so the hold time is bounded.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
