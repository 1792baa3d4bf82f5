/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/action"
	"github.com/signcast/signcast/internal/events"
	"github.com/signcast/signcast/internal/models"
	"github.com/signcast/signcast/internal/telemetry"
)

// Executor is the slice of the action service the runner drives.
type Executor interface {
	Execute(ctx context.Context, req action.ExecuteRequest) (*models.ActionExecution, error)
	Stop(ctx context.Context, executionID, stoppedBy string) (*models.ActionExecution, error)
	FindByID(ctx context.Context, executionID string) (*models.ActionExecution, error)
}

// Runner evaluates schedule rules on a fixed tick and drives executions
// across window boundaries. It runs on exactly one instance; multi-node
// deployments gate it behind leader election.
type Runner struct {
	db     *gorm.DB
	exec   Executor
	bus    *events.Bus
	logger zerolog.Logger
	tick   time.Duration

	mu    sync.Mutex
	owned map[string]string // schedule id -> execution id
}

// NewRunner constructs the schedule runner.
func NewRunner(db *gorm.DB, exec Executor, bus *events.Bus, tick time.Duration, logger zerolog.Logger) *Runner {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Runner{
		db:     db,
		exec:   exec,
		bus:    bus,
		logger: logger.With().Str("component", "schedule_runner").Logger(),
		tick:   tick,
		owned:  make(map[string]string),
	}
}

// Run executes the runner loop until the context is cancelled. The first
// evaluation happens immediately so windows in progress at startup are
// picked up without waiting a full tick.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.logger.Info().Dur("tick", r.tick).Msg("schedule runner started")
	r.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("schedule runner stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick evaluates every active schedule once against the current time.
func (r *Runner) Tick(ctx context.Context) {
	r.tickAt(ctx, time.Now())
}

func (r *Runner) tickAt(ctx context.Context, now time.Time) {
	telemetry.ScheduleTicksTotal.Inc()

	var scheds []models.Schedule
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&scheds).Error
	if err != nil {
		r.logger.Error().Err(err).Msg("load schedules failed")
		telemetry.ScheduleErrorsTotal.WithLabelValues("load").Inc()
		return
	}

	seen := make(map[string]bool, len(scheds))
	for i := range scheds {
		sched := &scheds[i]
		active, err := activeAt(sched, now)
		if err != nil {
			r.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("schedule evaluation failed")
			telemetry.ScheduleErrorsTotal.WithLabelValues("evaluate").Inc()
			continue
		}
		seen[sched.ID] = true
		if active {
			r.enterWindow(ctx, sched, now)
		} else {
			r.exitWindow(ctx, sched.ID)
		}
	}

	// Schedules deleted or deactivated mid-window release their slot.
	r.mu.Lock()
	var orphaned []string
	for schedID := range r.owned {
		if !seen[schedID] {
			orphaned = append(orphaned, schedID)
		}
	}
	r.mu.Unlock()
	for _, schedID := range orphaned {
		r.exitWindow(ctx, schedID)
	}
}

// enterWindow starts playback for a schedule whose window is active,
// unless the runner already triggered it for this window. A triggered
// execution that an operator stopped stays stopped until the next window.
func (r *Runner) enterWindow(ctx context.Context, sched *models.Schedule, now time.Time) {
	r.mu.Lock()
	execID, owned := r.owned[sched.ID]
	r.mu.Unlock()

	if owned {
		if _, err := r.exec.FindByID(ctx, execID); err != nil {
			// Row vanished; forget it and re-trigger next tick.
			r.mu.Lock()
			delete(r.owned, sched.ID)
			r.mu.Unlock()
		}
		return
	}

	exec, err := r.exec.Execute(ctx, action.ExecuteRequest{
		SourceAppID:    "scheduler:" + sched.ID,
		OrganizationID: sched.OrganizationID,
		MediaListID:    sched.MediaListID,
		DisplaySlotID:  sched.DisplaySlotID,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("scheduled execute failed")
		telemetry.ScheduleErrorsTotal.WithLabelValues("execute").Inc()
		return
	}

	r.mu.Lock()
	r.owned[sched.ID] = exec.ID
	r.mu.Unlock()

	fired := now.UTC()
	sched.LastFiredAt = &fired
	if err := r.db.WithContext(ctx).Model(sched).Update("last_fired_at", fired).Error; err != nil {
		r.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("record fire time failed")
	}

	telemetry.ScheduleTriggersTotal.WithLabelValues("execute").Inc()
	r.bus.Publish(events.EventScheduleTriggered, events.Payload{
		"schedule_id":     sched.ID,
		"execution_id":    exec.ID,
		"display_slot_id": sched.DisplaySlotID,
	})
	r.logger.Info().
		Str("schedule_id", sched.ID).
		Str("execution_id", exec.ID).
		Str("slot_id", sched.DisplaySlotID).
		Msg("schedule triggered")
}

// exitWindow stops the owned execution when a schedule's window closes.
func (r *Runner) exitWindow(ctx context.Context, schedID string) {
	r.mu.Lock()
	execID, owned := r.owned[schedID]
	delete(r.owned, schedID)
	r.mu.Unlock()
	if !owned {
		return
	}

	if _, err := r.exec.Stop(ctx, execID, "scheduler:"+schedID); err != nil {
		r.logger.Error().Err(err).Str("schedule_id", schedID).Str("execution_id", execID).Msg("scheduled stop failed")
		telemetry.ScheduleErrorsTotal.WithLabelValues("stop").Inc()
		return
	}

	telemetry.ScheduleTriggersTotal.WithLabelValues("stop").Inc()
	r.bus.Publish(events.EventScheduleReleased, events.Payload{
		"schedule_id":  schedID,
		"execution_id": execID,
	})
	r.logger.Info().Str("schedule_id", schedID).Str("execution_id", execID).Msg("schedule released")
}
