/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/engine"
	"github.com/signcast/signcast/internal/events"
	"github.com/signcast/signcast/internal/media"
	"github.com/signcast/signcast/internal/models"
	"github.com/signcast/signcast/internal/telemetry"
)

// Sentinel errors the HTTP layer maps to status codes.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// StoppedBySupersede marks executions stopped because a newer execution
// took their slot.
const StoppedBySupersede = "system:supersede"

// ExecuteRequest is the contract for starting playback on a slot.
type ExecuteRequest struct {
	SourceAppID    string `json:"sourceAppId"`
	OrganizationID string `json:"organizationId"`
	MediaListID    string `json:"mediaListId"`
	DisplaySlotID  string `json:"displaySlotId"`
}

// SlotStatusView is the reconciled status of one display slot.
type SlotStatusView struct {
	DisplaySlotID string  `json:"displaySlotId"`
	HasEngine     bool    `json:"hasEngine"`
	State         *string `json:"state"`
	ExecutionID   *string `json:"executionId"`
	MediaListID   *string `json:"mediaListId"`
	Position      int     `json:"position"`
}

// PlaylistLoader resolves a media list id into the snapshot an engine plays.
type PlaylistLoader interface {
	PlaylistForEngine(ctx context.Context, mediaListID string) (engine.Playlist, error)
}

// Service orchestrates action executions: it validates requests, applies
// the supersede policy, persists execution records and drives the engine
// manager. The database row is the durable source of truth; the engine is
// the live one, and SlotStatus reconciles the two.
type Service struct {
	db       *gorm.DB
	manager  *engine.Manager
	playlist PlaylistLoader
	bus      *events.Bus
	logger   zerolog.Logger
}

// NewService creates the action execution service and registers it as an
// engine event listener so terminal transitions are written back to rows.
func NewService(db *gorm.DB, manager *engine.Manager, playlist PlaylistLoader, bus *events.Bus, logger zerolog.Logger) *Service {
	s := &Service{
		db:       db,
		manager:  manager,
		playlist: playlist,
		bus:      bus,
		logger:   logger.With().Str("component", "action").Logger(),
	}
	manager.AddListener(s.HandleEngineEvent)
	return s
}

// Execute starts playback of a media list on a display slot. Any execution
// currently holding the slot is superseded first; the slot always ends up
// playing the most recently requested list.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*models.ActionExecution, error) {
	if err := validateExecute(req); err != nil {
		telemetry.ExecutionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var slot models.DisplaySlot
	if err := s.db.WithContext(ctx).First(&slot, "id = ?", req.DisplaySlotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: display slot %s", ErrNotFound, req.DisplaySlotID)
		}
		return nil, fmt.Errorf("load display slot: %w", err)
	}

	playlist, err := s.playlist.PlaylistForEngine(ctx, req.MediaListID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, media.ErrNotFound) {
			return nil, fmt.Errorf("%w: media list %s", ErrNotFound, req.MediaListID)
		}
		return nil, fmt.Errorf("load media list: %w", err)
	}

	exec := &models.ActionExecution{
		ID:             uuid.NewString(),
		OrganizationID: slot.OrganizationID,
		SourceAppID:    req.SourceAppID,
		MediaListID:    req.MediaListID,
		DisplaySlotID:  req.DisplaySlotID,
		Status:         models.ExecutionPending,
		StartedAt:      time.Now().UTC(),
	}

	if err := s.supersedeActive(ctx, req.DisplaySlotID, exec.ID); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(exec).Error; err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	started := s.manager.StartExecution(req.DisplaySlotID, exec.ID, playlist)
	if !started {
		// The engine can refuse while holding an execution the database
		// never saw (crash leftovers) or while parked in ERROR. Stop
		// clears both, so one stop-and-retry recovers the slot.
		s.manager.StopSlot(req.DisplaySlotID)
		started = s.manager.StartExecution(req.DisplaySlotID, exec.ID, playlist)
	}
	if !started {
		exec.Status = models.ExecutionError
		exec.Error = "engine refused start"
		now := time.Now().UTC()
		exec.StoppedAt = &now
		if err := s.db.WithContext(ctx).Save(exec).Error; err != nil {
			s.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("save refused execution failed")
		}
		telemetry.ExecutionsTotal.WithLabelValues("refused").Inc()
		return nil, fmt.Errorf("%w: slot %s refused execution %s", ErrConflict, req.DisplaySlotID, exec.ID)
	}

	exec.Status = models.ExecutionRunning
	if err := s.db.WithContext(ctx).Save(exec).Error; err != nil {
		return nil, fmt.Errorf("save execution: %w", err)
	}

	telemetry.ExecutionsTotal.WithLabelValues("started").Inc()
	s.bus.Publish(events.EventAuditActionExecute, events.Payload{
		"execution_id":    exec.ID,
		"organization_id": exec.OrganizationID,
		"display_slot_id": exec.DisplaySlotID,
		"media_list_id":   exec.MediaListID,
		"source_app_id":   exec.SourceAppID,
	})

	s.logger.Info().
		Str("execution_id", exec.ID).
		Str("slot_id", exec.DisplaySlotID).
		Str("media_list_id", exec.MediaListID).
		Msg("execution started")
	return exec, nil
}

// Stop ends an execution. Idempotent: stopping an already terminal
// execution returns the row unchanged.
func (s *Service) Stop(ctx context.Context, executionID, stoppedBy string) (*models.ActionExecution, error) {
	if stoppedBy == "" {
		return nil, fmt.Errorf("%w: stoppedBy is required", ErrValidation)
	}

	exec, err := s.FindByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return exec, nil
	}

	s.manager.StopSlot(exec.DisplaySlotID)

	now := time.Now().UTC()
	exec.Status = models.ExecutionStopped
	exec.StoppedAt = &now
	exec.StoppedBy = stoppedBy
	if err := s.db.WithContext(ctx).Save(exec).Error; err != nil {
		return nil, fmt.Errorf("save execution: %w", err)
	}

	telemetry.ExecutionsTotal.WithLabelValues("stopped").Inc()
	s.bus.Publish(events.EventAuditActionStop, events.Payload{
		"execution_id": exec.ID,
		"stopped_by":   stoppedBy,
	})
	return exec, nil
}

// Pause suspends a running execution, keeping its slot position.
func (s *Service) Pause(ctx context.Context, executionID string) (*models.ActionExecution, error) {
	exec, err := s.FindByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != models.ExecutionRunning {
		return nil, fmt.Errorf("%w: execution is %s, not running", ErrValidation, exec.Status)
	}

	s.manager.PauseSlot(exec.DisplaySlotID)

	now := time.Now().UTC()
	exec.Status = models.ExecutionPaused
	exec.PausedAt = &now
	if err := s.db.WithContext(ctx).Save(exec).Error; err != nil {
		return nil, fmt.Errorf("save execution: %w", err)
	}

	s.bus.Publish(events.EventAuditActionPause, events.Payload{"execution_id": exec.ID})
	return exec, nil
}

// Resume continues a paused execution from where it was paused.
func (s *Service) Resume(ctx context.Context, executionID string) (*models.ActionExecution, error) {
	exec, err := s.FindByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != models.ExecutionPaused {
		return nil, fmt.Errorf("%w: execution is %s, not paused", ErrValidation, exec.Status)
	}

	s.manager.ResumeSlot(exec.DisplaySlotID)

	exec.Status = models.ExecutionRunning
	exec.PausedAt = nil
	if err := s.db.WithContext(ctx).Save(exec).Error; err != nil {
		return nil, fmt.Errorf("save execution: %w", err)
	}

	s.bus.Publish(events.EventAuditActionResume, events.Payload{"execution_id": exec.ID})
	return exec, nil
}

// SkipToNext advances playback to the next item on the slot.
func (s *Service) SkipToNext(ctx context.Context, executionID string) (*models.ActionExecution, error) {
	exec, err := s.FindByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != models.ExecutionRunning {
		return nil, fmt.Errorf("%w: execution is %s, not running", ErrValidation, exec.Status)
	}
	s.manager.SkipToNext(exec.DisplaySlotID)
	return exec, nil
}

// FindByID loads an execution row.
func (s *Service) FindByID(ctx context.Context, executionID string) (*models.ActionExecution, error) {
	var exec models.ActionExecution
	err := s.db.WithContext(ctx).First(&exec, "id = ?", executionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: execution %s", ErrNotFound, executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("find execution: %w", err)
	}
	return &exec, nil
}

// List returns executions, newest first, optionally filtered by slot.
func (s *Service) List(ctx context.Context, organizationID, slotID string, limit, offset int) ([]models.ActionExecution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if organizationID != "" {
		q = q.Where("organization_id = ?", organizationID)
	}
	if slotID != "" {
		q = q.Where("display_slot_id = ?", slotID)
	}
	var execs []models.ActionExecution
	if err := q.Find(&execs).Error; err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

// SlotStatus reports the slot's live engine state reconciled against the
// persisted execution row. Slots without an engine report null state.
func (s *Service) SlotStatus(ctx context.Context, slotID string) (*SlotStatusView, error) {
	view := &SlotStatusView{DisplaySlotID: slotID}

	st := s.manager.SlotStatus(slotID)
	view.HasEngine = st.HasEngine
	if st.HasEngine && st.State != engine.StateIdle {
		state := string(st.State)
		view.State = &state
		view.Position = st.Position
		if st.ExecutionID != "" {
			execID := st.ExecutionID
			view.ExecutionID = &execID
		}
	}

	// A row left active after its engine is gone (crash, restart) is stale;
	// close it out so the API never reports playback that is not happening.
	var active models.ActionExecution
	err := s.db.WithContext(ctx).
		Where("display_slot_id = ? AND status IN ?", slotID, []models.ExecutionStatus{models.ExecutionPending, models.ExecutionRunning, models.ExecutionPaused}).
		Order("created_at DESC").
		First(&active).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return view, nil
	case err != nil:
		return nil, fmt.Errorf("load active execution: %w", err)
	}

	if view.ExecutionID != nil && *view.ExecutionID == active.ID {
		mediaListID := active.MediaListID
		view.MediaListID = &mediaListID
		return view, nil
	}

	now := time.Now().UTC()
	active.Status = models.ExecutionStopped
	active.StoppedAt = &now
	active.StoppedBy = "system:reconcile"
	if err := s.db.WithContext(ctx).Save(&active).Error; err != nil {
		s.logger.Error().Err(err).Str("execution_id", active.ID).Msg("reconcile save failed")
	} else {
		s.logger.Warn().Str("execution_id", active.ID).Str("slot_id", slotID).Msg("stale execution reconciled")
	}
	return view, nil
}

// HandleEngineEvent writes terminal engine transitions back to execution
// rows and records finished sessions in the playback log. Runs on the
// manager's dispatcher goroutine.
func (s *Service) HandleEngineEvent(ev engine.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch ev.Type {
	case events.EventEngineCompleted:
		s.finishExecution(ctx, ev, models.ExecutionCompleted, "")
	case events.EventEngineError:
		s.finishExecution(ctx, ev, models.ExecutionError, ev.Detail)
	case events.EventEngineStopped:
		// Service-initiated stops already updated the row; this catches
		// stops that originated inside the engine.
		s.finishExecution(ctx, ev, models.ExecutionStopped, "")
	}
}

func (s *Service) finishExecution(ctx context.Context, ev engine.Event, status models.ExecutionStatus, detail string) {
	if ev.ExecutionID == "" {
		return
	}

	var exec models.ActionExecution
	err := s.db.WithContext(ctx).First(&exec, "id = ?", ev.ExecutionID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error().Err(err).Str("execution_id", ev.ExecutionID).Msg("load execution for event failed")
		}
		return
	}
	if exec.Status.IsTerminal() {
		return
	}

	now := time.Now().UTC()
	exec.Status = status
	exec.StoppedAt = &now
	if exec.StoppedBy == "" {
		exec.StoppedBy = "engine"
	}
	if detail != "" {
		exec.Error = detail
	}
	if err := s.db.WithContext(ctx).Save(&exec).Error; err != nil {
		s.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("save execution for event failed")
		return
	}

	log := models.PlaybackLog{
		ID:             uuid.NewString(),
		OrganizationID: exec.OrganizationID,
		DisplaySlotID:  exec.DisplaySlotID,
		MediaListID:    exec.MediaListID,
		ExecutionID:    exec.ID,
		StartedAt:      exec.StartedAt,
		EndedAt:        now,
		Outcome:        string(status),
	}
	if err := s.db.WithContext(ctx).Create(&log).Error; err != nil {
		s.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("playback log write failed")
	}

	if status == models.ExecutionCompleted {
		telemetry.ExecutionsTotal.WithLabelValues("completed").Inc()
	} else if status == models.ExecutionError {
		telemetry.ExecutionsTotal.WithLabelValues("error").Inc()
	}
}

// supersedeActive stops and marks any execution currently holding the slot.
func (s *Service) supersedeActive(ctx context.Context, slotID, newExecutionID string) error {
	var active []models.ActionExecution
	err := s.db.WithContext(ctx).
		Where("display_slot_id = ? AND status IN ?", slotID, []models.ExecutionStatus{models.ExecutionPending, models.ExecutionRunning, models.ExecutionPaused}).
		Find(&active).Error
	if err != nil {
		return fmt.Errorf("load active executions: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	s.manager.StopSlot(slotID)

	now := time.Now().UTC()
	for i := range active {
		old := &active[i]
		old.Status = models.ExecutionStopped
		old.StoppedAt = &now
		old.StoppedBy = StoppedBySupersede
		old.SupersededBy = newExecutionID
		if err := s.db.WithContext(ctx).Save(old).Error; err != nil {
			return fmt.Errorf("supersede execution %s: %w", old.ID, err)
		}

		telemetry.ExecutionsSuperseded.Inc()
		s.bus.Publish(events.EventExecutionSuperseded, events.Payload{
			"execution_id":  old.ID,
			"superseded_by": newExecutionID,
			"slot_id":       slotID,
		})
		s.logger.Info().
			Str("execution_id", old.ID).
			Str("superseded_by", newExecutionID).
			Msg("execution superseded")
	}
	return nil
}

func validateExecute(req ExecuteRequest) error {
	var missing []string
	if req.SourceAppID == "" {
		missing = append(missing, "sourceAppId")
	}
	if req.OrganizationID == "" {
		missing = append(missing, "organizationId")
	}
	if req.MediaListID == "" {
		missing = append(missing, "mediaListId")
	}
	if req.DisplaySlotID == "" {
		missing = append(missing, "displaySlotId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %v", ErrValidation, missing)
	}
	return nil
}
