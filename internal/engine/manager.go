/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/signcast/signcast/internal/events"
	"github.com/signcast/signcast/internal/telemetry"
)

// Listener receives engine lifecycle events off the dispatch queue.
type Listener func(Event)

// SlotStatus is the projection served by the status API.
type SlotStatus struct {
	HasEngine   bool
	State       State
	ExecutionID string
	Position    int
}

// Manager is the single authority binding display slots to rendering
// engines. It owns the slot→engine map, routes commands by slot id, and
// fans engine events out to global listeners on a dedicated dispatcher so
// slow consumers never stall playback advancement.
type Manager struct {
	logger zerolog.Logger
	bus    *events.Bus

	mu        sync.RWMutex
	engines   map[string]*Engine
	listeners []Listener
	disposed  bool

	eventCh chan Event
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewManager creates the engine registry and starts its event dispatcher.
func NewManager(bus *events.Bus, logger zerolog.Logger) *Manager {
	m := &Manager{
		logger:  logger.With().Str("component", "engine_manager").Logger(),
		bus:     bus,
		engines: make(map[string]*Engine),
		eventCh: make(chan Event, 256),
		quit:    make(chan struct{}),
	}

	m.wg.Add(1)
	go m.dispatchLoop()

	return m
}

// AddListener registers a global listener for all engine events. Listeners
// registered before engines are created observe every event those engines
// emit.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// GetOrCreateEngine returns the engine bound to slotID, creating it when
// unseen. Creation is single-flight: concurrent callers for the same slot
// always observe the same instance.
func (m *Manager) GetOrCreateEngine(slotID string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if eng, ok := m.engines[slotID]; ok {
		return eng
	}

	eng := newEngine(slotID, m.publish, m.logger)
	m.engines[slotID] = eng
	m.logger.Debug().Str("slot_id", slotID).Msg("engine created")
	return eng
}

// GetEngine returns the bound engine or nil.
func (m *Manager) GetEngine(slotID string) *Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engines[slotID]
}

// HasEngine reports whether a slot has a bound engine.
func (m *Manager) HasEngine(slotID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.engines[slotID]
	return ok
}

// StartExecution binds an execution to the slot's engine, creating the
// engine if needed.
func (m *Manager) StartExecution(slotID, executionID string, playlist Playlist) bool {
	ok := m.GetOrCreateEngine(slotID).Start(executionID, playlist)
	if ok {
		telemetry.EngineTransitionsTotal.WithLabelValues("start").Inc()
	}
	m.updateActiveGauge()
	return ok
}

// PauseSlot pauses playback on the slot. No-op when no engine is bound:
// commands never implicitly create engines.
func (m *Manager) PauseSlot(slotID string) {
	if eng := m.GetEngine(slotID); eng != nil {
		eng.Pause()
		telemetry.EngineTransitionsTotal.WithLabelValues("pause").Inc()
		m.updateActiveGauge()
	}
}

// ResumeSlot resumes playback on the slot. No-op when unbound.
func (m *Manager) ResumeSlot(slotID string) {
	if eng := m.GetEngine(slotID); eng != nil {
		eng.Resume()
		telemetry.EngineTransitionsTotal.WithLabelValues("resume").Inc()
		m.updateActiveGauge()
	}
}

// StopSlot stops playback on the slot. No-op when unbound.
func (m *Manager) StopSlot(slotID string) {
	if eng := m.GetEngine(slotID); eng != nil {
		eng.Stop()
		telemetry.EngineTransitionsTotal.WithLabelValues("stop").Inc()
		m.updateActiveGauge()
	}
}

// SkipToNext advances the slot's playlist position. No-op when unbound.
func (m *Manager) SkipToNext(slotID string) {
	if eng := m.GetEngine(slotID); eng != nil {
		eng.SkipToNext()
	}
}

// RemoveEngine disposes the slot's engine and unbinds it. Safe to call on
// an unbound slot.
func (m *Manager) RemoveEngine(slotID string) {
	m.mu.Lock()
	eng := m.engines[slotID]
	delete(m.engines, slotID)
	m.mu.Unlock()

	if eng != nil {
		eng.Dispose()
		m.logger.Debug().Str("slot_id", slotID).Msg("engine removed")
	}
	m.updateActiveGauge()
}

// SlotStatus projects the slot's engine state for the status API.
func (m *Manager) SlotStatus(slotID string) SlotStatus {
	eng := m.GetEngine(slotID)
	if eng == nil {
		return SlotStatus{}
	}
	return SlotStatus{
		HasEngine:   true,
		State:       eng.State(),
		ExecutionID: eng.ExecutionID(),
		Position:    eng.Position(),
	}
}

// ActiveSlots returns slot ids whose engine is RUNNING or PAUSED, sorted.
func (m *Manager) ActiveSlots() []string {
	m.mu.RLock()
	engines := make(map[string]*Engine, len(m.engines))
	for id, eng := range m.engines {
		engines[id] = eng
	}
	m.mu.RUnlock()

	slots := make([]string, 0, len(engines))
	for id, eng := range engines {
		switch eng.State() {
		case StateRunning, StatePaused:
			slots = append(slots, id)
		}
	}
	sort.Strings(slots)
	return slots
}

// StopAll concurrently stops every bound engine and waits for completion.
// Engines remain bound and reusable; used for graceful shutdown.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, eng := range m.engines {
		engines = append(engines, eng)
	}
	m.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, eng := range engines {
		eng := eng
		g.Go(func() error {
			eng.Stop()
			return nil
		})
	}
	err := g.Wait()
	m.updateActiveGauge()
	return err
}

// Dispose disposes every engine, clears the registry and stops the event
// dispatcher. Used for full teardown and tests.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	engines := m.engines
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for _, eng := range engines {
		eng.Dispose()
	}

	close(m.quit)
	m.wg.Wait()
	telemetry.EnginesActive.Set(0)
}

// publish enqueues an event for async delivery. Never blocks: when the
// queue is full the event is dropped and counted.
func (m *Manager) publish(ev Event) {
	select {
	case m.eventCh <- ev:
	default:
		telemetry.EngineEventsDropped.Inc()
		m.logger.Warn().
			Str("slot_id", ev.SlotID).
			Str("type", string(ev.Type)).
			Msg("event queue full, dropping engine event")
	}
}

func (m *Manager) dispatchLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.quit:
			return
		case ev := <-m.eventCh:
			m.deliver(ev)
		}
	}
}

func (m *Manager) deliver(ev Event) {
	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}

	if m.bus != nil {
		m.bus.Publish(ev.Type, events.Payload{
			"slot_id":       ev.SlotID,
			"execution_id":  ev.ExecutionID,
			"media_list_id": ev.MediaListID,
			"position":      ev.Position,
			"detail":        ev.Detail,
			"timestamp":     ev.Timestamp,
		})
	}
}

func (m *Manager) updateActiveGauge() {
	telemetry.EnginesActive.Set(float64(len(m.ActiveSlots())))
}
