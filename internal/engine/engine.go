package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signcast/signcast/internal/events"
)

// State enumerates rendering engine states.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
	StateStopped State = "STOPPED"
	StateError   State = "ERROR"
)

// defaultItemDuration is used for items with no usable duration so the
// engine never schedules a zero-length timer loop.
const defaultItemDuration = 10 * time.Second

// Item is one playlist entry as the engine sees it.
type Item struct {
	MediaItemID string
	Title       string
	Duration    time.Duration
}

// Playlist is the engine's immutable snapshot of a media list.
type Playlist struct {
	MediaListID string
	Loop        bool
	Items       []Item
}

// Event is an engine lifecycle notification.
type Event struct {
	SlotID      string
	ExecutionID string
	MediaListID string
	Type        events.EventType
	Position    int
	Detail      string
	Timestamp   time.Time
}

type emitFunc func(Event)

// Engine drives playback of one media list on one display slot. All
// operations serialize on the engine mutex, including timer callbacks, so
// a stop racing a timer-fired advance can never interleave. Emission is a
// non-blocking enqueue; delivery happens on the manager's dispatcher.
type Engine struct {
	slotID string
	logger zerolog.Logger
	emit   emitFunc

	mu            sync.Mutex
	state         State
	executionID   string
	playlist      Playlist
	index         int
	timer         *time.Timer
	timerSeq      uint64
	remaining     time.Duration
	itemStartedAt time.Time
	disposed      bool
}

// newEngine creates an engine bound to a slot. Engines are created only by
// the Manager so events are wired before the engine is reachable.
func newEngine(slotID string, emit emitFunc, logger zerolog.Logger) *Engine {
	return &Engine{
		slotID: slotID,
		emit:   emit,
		logger: logger.With().Str("slot_id", slotID).Logger(),
		state:  StateIdle,
	}
}

// Start binds an execution and begins advancing through the playlist.
// Returns false without side effects when the engine is already running or
// paused with a different execution, or sits in ERROR awaiting an explicit
// Stop. Starting the currently bound execution again succeeds: a no-op
// while RUNNING, a resume while PAUSED.
func (e *Engine) Start(executionID string, playlist Playlist) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return false
	}

	switch e.state {
	case StateRunning:
		return executionID == e.executionID
	case StatePaused:
		if executionID != e.executionID {
			return false
		}
		// Re-starting the bound execution resumes it; start must always
		// leave the engine RUNNING when it reports success.
		e.state = StateRunning
		e.scheduleLocked(e.remaining)
		e.emitLocked(events.EventEngineResumed, "")
		return true
	case StateError:
		return false
	}

	e.executionID = executionID
	e.playlist = playlist
	e.index = 0
	e.state = StateRunning
	e.emitLocked(events.EventEngineStarted, "")

	if len(playlist.Items) == 0 {
		// Nothing to play: complete immediately.
		e.state = StateStopped
		e.emitLocked(events.EventEngineCompleted, "empty media list")
		return true
	}

	e.scheduleLocked(itemDuration(playlist.Items[0]))
	return true
}

// Pause suspends advancement without resetting the playback position.
// No-op outside RUNNING.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return
	}

	elapsed := time.Since(e.itemStartedAt)
	e.cancelTimerLocked()
	e.remaining -= elapsed
	if e.remaining < 0 {
		e.remaining = 0
	}
	e.state = StatePaused
	e.emitLocked(events.EventEnginePaused, "")
}

// Resume continues playback of the current item. No-op outside PAUSED.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePaused {
		return
	}

	e.state = StateRunning
	e.scheduleLocked(e.remaining)
	e.emitLocked(events.EventEngineResumed, "")
}

// Stop cancels any pending timer and parks the engine. Idempotent: stopping
// a STOPPED or IDLE engine does nothing. An ERROR engine returns to IDLE so
// the slot becomes usable again.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateStopped, StateIdle:
		return
	case StateError:
		e.cancelTimerLocked()
		e.state = StateIdle
		e.emitLocked(events.EventEngineStopped, "cleared error")
		return
	}

	e.cancelTimerLocked()
	e.state = StateStopped
	e.emitLocked(events.EventEngineStopped, "")
}

// SkipToNext advances to the next item and restarts the per-item timer.
// Valid only while RUNNING.
func (e *Engine) SkipToNext() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return
	}

	e.cancelTimerLocked()
	e.advanceLocked()
}

// Dispose cancels timers and silences the engine permanently. A disposed
// engine emits no further events; late timer fires are ignored via the
// timer generation counter.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelTimerLocked()
	e.disposed = true
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ExecutionID returns the bound execution id, if any.
func (e *Engine) ExecutionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executionID
}

// Position returns the current playlist index.
func (e *Engine) Position() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// timer path

func (e *Engine) scheduleLocked(d time.Duration) {
	e.timerSeq++
	seq := e.timerSeq
	if d < 0 {
		d = 0
	}
	e.remaining = d
	e.itemStartedAt = time.Now()
	e.timer = time.AfterFunc(d, func() { e.advance(seq) })
}

func (e *Engine) cancelTimerLocked() {
	e.timerSeq++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// advance is the timer callback. The seq check rejects fires scheduled
// before a pause/stop/skip/dispose invalidated them.
func (e *Engine) advance(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed || seq != e.timerSeq || e.state != StateRunning {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.failLocked(fmt.Sprintf("advance panic: %v", r))
		}
	}()

	e.advanceLocked()
}

func (e *Engine) advanceLocked() {
	if len(e.playlist.Items) == 0 {
		e.failLocked("advance with empty playlist")
		return
	}

	e.index++
	if e.index >= len(e.playlist.Items) {
		if !e.playlist.Loop {
			e.cancelTimerLocked()
			e.state = StateStopped
			e.emitLocked(events.EventEngineCompleted, "")
			return
		}
		e.index = 0
	}

	e.scheduleLocked(itemDuration(e.playlist.Items[e.index]))
}

// failLocked transitions to ERROR. The state is terminal until an explicit
// Stop returns the engine to IDLE.
func (e *Engine) failLocked(detail string) {
	e.cancelTimerLocked()
	e.state = StateError
	e.logger.Error().Str("execution_id", e.executionID).Str("detail", detail).Msg("engine fault")
	e.emitLocked(events.EventEngineError, detail)
}

func (e *Engine) emitLocked(eventType events.EventType, detail string) {
	if e.disposed || e.emit == nil {
		return
	}
	e.emit(Event{
		SlotID:      e.slotID,
		ExecutionID: e.executionID,
		MediaListID: e.playlist.MediaListID,
		Type:        eventType,
		Position:    e.index,
		Detail:      detail,
		Timestamp:   time.Now(),
	})
}

func itemDuration(item Item) time.Duration {
	if item.Duration <= 0 {
		return defaultItemDuration
	}
	return item.Duration
}
