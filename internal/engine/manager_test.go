package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/signcast/signcast/internal/events"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(events.NewBus(), zerolog.Nop())
	t.Cleanup(m.Dispose)
	return m
}

func TestGetOrCreateEngineIsSingleFlight(t *testing.T) {
	m := newTestManager(t)

	const goroutines = 32
	engines := make([]*Engine, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			engines[i] = m.GetOrCreateEngine("slot-1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if engines[i] != engines[0] {
			t.Fatal("concurrent callers observed different engines for one slot")
		}
	}
}

func TestCommandsOnUnboundSlotAreNoOps(t *testing.T) {
	m := newTestManager(t)

	// None of these may create an engine as a side effect.
	m.PauseSlot("ghost")
	m.ResumeSlot("ghost")
	m.StopSlot("ghost")
	m.SkipToNext("ghost")
	m.RemoveEngine("ghost")

	if m.HasEngine("ghost") {
		t.Fatal("commands must not create engines")
	}
}

func TestStartExecutionBindsEngine(t *testing.T) {
	m := newTestManager(t)

	ok := m.StartExecution("slot-1", "exec-1", testPlaylist(true, time.Minute))
	if !ok {
		t.Fatal("start should succeed")
	}
	if !m.HasEngine("slot-1") {
		t.Fatal("engine should be bound")
	}

	st := m.SlotStatus("slot-1")
	if !st.HasEngine || st.State != StateRunning || st.ExecutionID != "exec-1" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestSlotStatusUnknownSlot(t *testing.T) {
	m := newTestManager(t)

	st := m.SlotStatus("missing")
	if st.HasEngine {
		t.Fatal("unknown slot must report no engine")
	}
}

func TestRemoveEngineUnbinds(t *testing.T) {
	m := newTestManager(t)

	m.StartExecution("slot-1", "exec-1", testPlaylist(true, time.Minute))
	m.RemoveEngine("slot-1")

	if m.HasEngine("slot-1") {
		t.Fatal("engine should be unbound")
	}
	// Removing again is safe.
	m.RemoveEngine("slot-1")
}

func TestActiveSlotsSortedAndFiltered(t *testing.T) {
	m := newTestManager(t)

	m.StartExecution("slot-b", "exec-1", testPlaylist(true, time.Minute))
	m.StartExecution("slot-a", "exec-2", testPlaylist(true, time.Minute))
	m.StartExecution("slot-c", "exec-3", testPlaylist(true, time.Minute))
	m.PauseSlot("slot-c")
	m.StopSlot("slot-b")

	got := m.ActiveSlots()
	want := []string{"slot-a", "slot-c"}
	if len(got) != len(want) {
		t.Fatalf("active slots = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("active slots = %v, want %v", got, want)
		}
	}
}

func TestStopAllStopsEveryEngine(t *testing.T) {
	m := newTestManager(t)

	for _, slot := range []string{"s1", "s2", "s3", "s4"} {
		m.StartExecution(slot, "exec-"+slot, testPlaylist(true, time.Minute))
	}

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all: %v", err)
	}

	for _, slot := range []string{"s1", "s2", "s3", "s4"} {
		st := m.SlotStatus(slot)
		if !st.HasEngine {
			t.Fatalf("slot %s should stay bound after StopAll", slot)
		}
		if st.State != StateStopped {
			t.Fatalf("slot %s state = %s, want STOPPED", slot, st.State)
		}
	}
}

func TestListenerReceivesEngineEvents(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	var received []Event
	m.AddListener(func(ev Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})

	m.StartExecution("slot-1", "exec-1", testPlaylist(true, time.Minute))
	m.StopSlot("slot-1")

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].Type != events.EventEngineStarted {
		t.Fatalf("first event = %s, want started", received[0].Type)
	}
	if received[len(received)-1].Type != events.EventEngineStopped {
		t.Fatalf("last event = %s, want stopped", received[len(received)-1].Type)
	}
	if received[0].SlotID != "slot-1" || received[0].ExecutionID != "exec-1" {
		t.Fatalf("unexpected event fields: %+v", received[0])
	}
}

func TestBusReceivesEngineEvents(t *testing.T) {
	bus := events.NewBus()
	m := NewManager(bus, zerolog.Nop())
	t.Cleanup(m.Dispose)

	sub := bus.Subscribe(events.EventEngineStarted)
	m.StartExecution("slot-1", "exec-1", testPlaylist(true, time.Minute))

	select {
	case payload := <-sub:
		if payload["slot_id"] != "slot-1" || payload["execution_id"] != "exec-1" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no started event on bus")
	}
}
