package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/engine"
	"github.com/signcast/signcast/internal/events"
	"github.com/signcast/signcast/internal/media"
	"github.com/signcast/signcast/internal/models"
)

type stubPlaylists struct {
	lists map[string]engine.Playlist
}

func (s *stubPlaylists) PlaylistForEngine(ctx context.Context, mediaListID string) (engine.Playlist, error) {
	pl, ok := s.lists[mediaListID]
	if !ok {
		return engine.Playlist{}, media.ErrNotFound
	}
	return pl, nil
}

func openActionTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Organization{},
		&models.DisplaySlot{},
		&models.MediaList{},
		&models.MediaItem{},
		&models.ActionExecution{},
		&models.PlaybackLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newActionTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := openActionTestDB(t)
	seedActionFixtures(t, db)

	manager := engine.NewManager(events.NewBus(), zerolog.Nop())
	t.Cleanup(manager.Dispose)

	playlists := &stubPlaylists{lists: map[string]engine.Playlist{
		"list-1": {
			MediaListID: "list-1",
			Loop:        true,
			Items:       []engine.Item{{MediaItemID: "item-1", Duration: time.Minute}},
		},
	}}

	svc := NewService(db, manager, playlists, events.NewBus(), zerolog.Nop())
	return svc, db
}

func seedActionFixtures(t *testing.T, db *gorm.DB) {
	t.Helper()

	fixtures := []any{
		&models.Organization{ID: "org-1", Name: "acme"},
		&models.DisplaySlot{ID: "slot-1", OrganizationID: "org-1", Name: "lobby"},
		&models.DisplaySlot{ID: "slot-2", OrganizationID: "org-1", Name: "cafeteria"},
	}
	for _, f := range fixtures {
		if err := db.Create(f).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func validRequest() ExecuteRequest {
	return ExecuteRequest{
		SourceAppID:    "app-1",
		OrganizationID: "org-1",
		MediaListID:    "list-1",
		DisplaySlotID:  "slot-1",
	}
}

func TestExecuteValidation(t *testing.T) {
	svc, _ := newActionTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*ExecuteRequest)
	}{
		{"missing source app", func(r *ExecuteRequest) { r.SourceAppID = "" }},
		{"missing organization", func(r *ExecuteRequest) { r.OrganizationID = "" }},
		{"missing media list", func(r *ExecuteRequest) { r.MediaListID = "" }},
		{"missing slot", func(r *ExecuteRequest) { r.DisplaySlotID = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := svc.Execute(ctx, req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestExecuteUnknownReferences(t *testing.T) {
	svc, _ := newActionTestService(t)
	ctx := context.Background()

	req := validRequest()
	req.DisplaySlotID = "nope"
	if _, err := svc.Execute(ctx, req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown slot err = %v, want ErrNotFound", err)
	}

	req = validRequest()
	req.MediaListID = "nope"
	if _, err := svc.Execute(ctx, req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown media list err = %v, want ErrNotFound", err)
	}
}

func TestExecuteStartsPlayback(t *testing.T) {
	svc, db := newActionTestService(t)
	ctx := context.Background()

	exec, err := svc.Execute(ctx, validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != models.ExecutionRunning {
		t.Fatalf("status = %s, want running", exec.Status)
	}
	if exec.OrganizationID != "org-1" {
		t.Fatalf("organization = %s, want org-1 from slot", exec.OrganizationID)
	}

	var row models.ActionExecution
	if err := db.First(&row, "id = ?", exec.ID).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.Status != models.ExecutionRunning {
		t.Fatalf("persisted status = %s, want running", row.Status)
	}
}

func TestExecuteRecoversSlotHeldByUnknownExecution(t *testing.T) {
	svc, _ := newActionTestService(t)
	ctx := context.Background()

	// The engine holds an execution the database never saw, as after a
	// crash between engine start and row write. Execute must reclaim the
	// slot instead of failing forever.
	held := svc.manager.StartExecution("slot-1", "exec-ghost", engine.Playlist{
		MediaListID: "list-1",
		Loop:        true,
		Items:       []engine.Item{{MediaItemID: "item-1", Duration: time.Minute}},
	})
	if !held {
		t.Fatal("seed start should succeed")
	}

	exec, err := svc.Execute(ctx, validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != models.ExecutionRunning {
		t.Fatalf("status = %s, want running", exec.Status)
	}

	st := svc.manager.SlotStatus("slot-1")
	if st.ExecutionID != exec.ID {
		t.Fatalf("engine holds %q, want %q", st.ExecutionID, exec.ID)
	}
}

func TestExecuteConflictWhenEngineCannotStart(t *testing.T) {
	svc, db := newActionTestService(t)
	ctx := context.Background()

	// A disposed engine refuses every start, including the retry.
	svc.manager.GetOrCreateEngine("slot-1").Dispose()

	_, err := svc.Execute(ctx, validRequest())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	var row models.ActionExecution
	if err := db.Order("created_at DESC").First(&row, "display_slot_id = ?", "slot-1").Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.Status != models.ExecutionError || row.Error != "engine refused start" {
		t.Fatalf("refused execution row not recorded: %+v", row)
	}
}

func TestExecuteSupersedesActiveExecution(t *testing.T) {
	svc, db := newActionTestService(t)
	ctx := context.Background()

	first, err := svc.Execute(ctx, validRequest())
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := svc.Execute(ctx, validRequest())
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}

	var old models.ActionExecution
	if err := db.First(&old, "id = ?", first.ID).Error; err != nil {
		t.Fatalf("load superseded row: %v", err)
	}
	if old.Status != models.ExecutionStopped {
		t.Fatalf("old status = %s, want stopped", old.Status)
	}
	if old.StoppedBy != StoppedBySupersede {
		t.Fatalf("old stoppedBy = %q, want %q", old.StoppedBy, StoppedBySupersede)
	}
	if old.SupersededBy != second.ID {
		t.Fatalf("old supersededBy = %q, want %q", old.SupersededBy, second.ID)
	}

	if second.Status != models.ExecutionRunning {
		t.Fatalf("new status = %s, want running", second.Status)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	svc, _ := newActionTestService(t)
	ctx := context.Background()

	exec, err := svc.Execute(ctx, validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	stopped, err := svc.Stop(ctx, exec.ID, "user:tester")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != models.ExecutionStopped || stopped.StoppedBy != "user:tester" {
		t.Fatalf("unexpected stop result: %+v", stopped)
	}

	again, err := svc.Stop(ctx, exec.ID, "user:other")
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if again.StoppedBy != "user:tester" {
		t.Fatalf("second stop rewrote stoppedBy: %q", again.StoppedBy)
	}
}

func TestStopRequiresStoppedBy(t *testing.T) {
	svc, _ := newActionTestService(t)

	_, err := svc.Stop(context.Background(), "whatever", "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	svc, _ := newActionTestService(t)
	ctx := context.Background()

	exec, err := svc.Execute(ctx, validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	paused, err := svc.Pause(ctx, exec.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != models.ExecutionPaused || paused.PausedAt == nil {
		t.Fatalf("unexpected pause result: %+v", paused)
	}

	// Pausing a paused execution is rejected.
	if _, err := svc.Pause(ctx, exec.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("double pause err = %v, want ErrValidation", err)
	}

	resumed, err := svc.Resume(ctx, exec.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != models.ExecutionRunning || resumed.PausedAt != nil {
		t.Fatalf("unexpected resume result: %+v", resumed)
	}

	if _, err := svc.Resume(ctx, exec.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("double resume err = %v, want ErrValidation", err)
	}
}

func TestSlotStatusWithoutEngine(t *testing.T) {
	svc, _ := newActionTestService(t)

	status, err := svc.SlotStatus(context.Background(), "slot-2")
	if err != nil {
		t.Fatalf("slot status: %v", err)
	}
	if status.HasEngine || status.State != nil || status.ExecutionID != nil {
		t.Fatalf("unbound slot must report null state, got %+v", status)
	}
	if status.DisplaySlotID != "slot-2" {
		t.Fatalf("slot id = %s, want slot-2", status.DisplaySlotID)
	}
}

func TestSlotStatusReportsRunningExecution(t *testing.T) {
	svc, _ := newActionTestService(t)
	ctx := context.Background()

	exec, err := svc.Execute(ctx, validRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	status, err := svc.SlotStatus(ctx, "slot-1")
	if err != nil {
		t.Fatalf("slot status: %v", err)
	}
	if !status.HasEngine {
		t.Fatal("expected hasEngine for bound slot")
	}
	if status.State == nil || *status.State != string(engine.StateRunning) {
		t.Fatalf("state = %v, want RUNNING", status.State)
	}
	if status.ExecutionID == nil || *status.ExecutionID != exec.ID {
		t.Fatalf("execution id = %v, want %s", status.ExecutionID, exec.ID)
	}
	if status.MediaListID == nil || *status.MediaListID != "list-1" {
		t.Fatalf("media list = %v, want list-1", status.MediaListID)
	}
}

func TestSlotStatusReconcilesStaleRow(t *testing.T) {
	svc, db := newActionTestService(t)
	ctx := context.Background()

	// An active row with no live engine, as after a crash or restart.
	stale := models.ActionExecution{
		ID:             "exec-stale",
		OrganizationID: "org-1",
		SourceAppID:    "app-1",
		MediaListID:    "list-1",
		DisplaySlotID:  "slot-2",
		Status:         models.ExecutionRunning,
		StartedAt:      time.Now().Add(-time.Hour),
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale row: %v", err)
	}

	status, err := svc.SlotStatus(ctx, "slot-2")
	if err != nil {
		t.Fatalf("slot status: %v", err)
	}
	if status.State != nil {
		t.Fatalf("state = %v, want null", status.State)
	}

	var row models.ActionExecution
	if err := db.First(&row, "id = ?", "exec-stale").Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.Status != models.ExecutionStopped || row.StoppedBy != "system:reconcile" {
		t.Fatalf("stale row not reconciled: %+v", row)
	}
}

func TestEngineCompletionUpdatesRowAndPlaybackLog(t *testing.T) {
	svc, db := newActionTestService(t)

	exec := models.ActionExecution{
		ID:             "exec-done",
		OrganizationID: "org-1",
		SourceAppID:    "app-1",
		MediaListID:    "list-1",
		DisplaySlotID:  "slot-1",
		Status:         models.ExecutionRunning,
		StartedAt:      time.Now().Add(-time.Minute),
	}
	if err := db.Create(&exec).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc.HandleEngineEvent(engine.Event{
		SlotID:      "slot-1",
		ExecutionID: "exec-done",
		MediaListID: "list-1",
		Type:        events.EventEngineCompleted,
		Timestamp:   time.Now(),
	})

	var row models.ActionExecution
	if err := db.First(&row, "id = ?", "exec-done").Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.Status != models.ExecutionCompleted || row.StoppedAt == nil {
		t.Fatalf("row not completed: %+v", row)
	}

	var logs []models.PlaybackLog
	if err := db.Find(&logs, "execution_id = ?", "exec-done").Error; err != nil {
		t.Fatalf("load logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Outcome != string(models.ExecutionCompleted) {
		t.Fatalf("unexpected playback logs: %+v", logs)
	}
}
