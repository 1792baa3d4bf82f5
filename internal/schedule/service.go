/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/events"
	"github.com/signcast/signcast/internal/models"
)

// Sentinel errors the HTTP layer maps to status codes.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Input is the contract for creating or updating a schedule.
type Input struct {
	OrganizationID  string `json:"organizationId"`
	DisplaySlotID   string `json:"displaySlotId"`
	MediaListID     string `json:"mediaListId"`
	CronExpression  string `json:"cronExpression"`
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime"`
	DaysOfWeek      string `json:"daysOfWeek"`
	DurationMinutes int    `json:"durationMinutes"`
	Timezone        string `json:"timezone"`
	IsActive        *bool  `json:"isActive"`
}

// ListFilter narrows List results.
type ListFilter struct {
	OrganizationID string
	IsActive       *bool
	Limit          int
	Offset         int
}

// Service manages schedule rules. Overlapping schedules on a slot are
// legal at write time; the runner resolves contention when they fire, so
// overlaps are only warned about, once per slot pair.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger

	warnMu     sync.Mutex
	warnedKeys map[string]struct{}
}

// NewService constructs the schedule service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:         db,
		bus:        bus,
		logger:     logger.With().Str("component", "schedule").Logger(),
		warnedKeys: make(map[string]struct{}),
	}
}

// Create validates and persists a schedule rule.
func (s *Service) Create(ctx context.Context, in Input) (*models.Schedule, error) {
	if err := s.validate(ctx, in); err != nil {
		return nil, err
	}

	sched := &models.Schedule{
		ID:              uuid.NewString(),
		OrganizationID:  in.OrganizationID,
		DisplaySlotID:   in.DisplaySlotID,
		MediaListID:     in.MediaListID,
		CronExpression:  in.CronExpression,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		DaysOfWeek:      in.DaysOfWeek,
		DurationMinutes: in.DurationMinutes,
		Timezone:        in.Timezone,
		IsActive:        true,
	}
	if in.IsActive != nil {
		sched.IsActive = *in.IsActive
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	if err := s.db.WithContext(ctx).Create(sched).Error; err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	s.warnOnOverlap(ctx, sched)
	s.bus.Publish(events.EventAuditScheduleCreate, events.Payload{
		"schedule_id":     sched.ID,
		"organization_id": sched.OrganizationID,
		"display_slot_id": sched.DisplaySlotID,
	})

	s.logger.Info().Str("schedule_id", sched.ID).Str("slot_id", sched.DisplaySlotID).Msg("schedule created")
	return sched, nil
}

// Update validates and applies new rule fields to an existing schedule.
func (s *Service) Update(ctx context.Context, id string, in Input) (*models.Schedule, error) {
	sched, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.OrganizationID == "" {
		in.OrganizationID = sched.OrganizationID
	}
	if err := s.validate(ctx, in); err != nil {
		return nil, err
	}

	sched.DisplaySlotID = in.DisplaySlotID
	sched.MediaListID = in.MediaListID
	sched.CronExpression = in.CronExpression
	sched.StartTime = in.StartTime
	sched.EndTime = in.EndTime
	sched.DaysOfWeek = in.DaysOfWeek
	sched.DurationMinutes = in.DurationMinutes
	if in.Timezone != "" {
		sched.Timezone = in.Timezone
	}
	if in.IsActive != nil {
		sched.IsActive = *in.IsActive
	}

	if err := s.db.WithContext(ctx).Save(sched).Error; err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}

	s.warnOnOverlap(ctx, sched)
	s.bus.Publish(events.EventAuditScheduleUpdate, events.Payload{"schedule_id": sched.ID})
	return sched, nil
}

// Delete removes a schedule rule.
func (s *Service) Delete(ctx context.Context, id string) error {
	sched, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(sched).Error; err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	s.bus.Publish(events.EventAuditScheduleDelete, events.Payload{"schedule_id": id})
	return nil
}

// SetActive toggles whether the runner considers the schedule.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*models.Schedule, error) {
	sched, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sched.IsActive = active
	if err := s.db.WithContext(ctx).Save(sched).Error; err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	return sched, nil
}

// FindByID loads one schedule.
func (s *Service) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	var sched models.Schedule
	err := s.db.WithContext(ctx).First(&sched, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find schedule: %w", err)
	}
	return &sched, nil
}

// FindByDisplaySlotID returns all schedules targeting a slot.
func (s *Service) FindByDisplaySlotID(ctx context.Context, slotID string) ([]models.Schedule, error) {
	var scheds []models.Schedule
	err := s.db.WithContext(ctx).
		Where("display_slot_id = ?", slotID).
		Order("created_at ASC").
		Find(&scheds).Error
	if err != nil {
		return nil, fmt.Errorf("find schedules: %w", err)
	}
	return scheds, nil
}

// List returns schedules matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Schedule, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(filter.Offset)
	if filter.OrganizationID != "" {
		q = q.Where("organization_id = ?", filter.OrganizationID)
	}
	if filter.IsActive != nil {
		q = q.Where("is_active = ?", *filter.IsActive)
	}
	var scheds []models.Schedule
	if err := q.Find(&scheds).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return scheds, nil
}

func (s *Service) validate(ctx context.Context, in Input) error {
	if in.OrganizationID == "" || in.DisplaySlotID == "" || in.MediaListID == "" {
		return fmt.Errorf("%w: organizationId, displaySlotId and mediaListId are required", ErrValidation)
	}

	var slot models.DisplaySlot
	if err := s.db.WithContext(ctx).First(&slot, "id = ?", in.DisplaySlotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: display slot %s", ErrNotFound, in.DisplaySlotID)
		}
		return fmt.Errorf("load display slot: %w", err)
	}
	var list models.MediaList
	if err := s.db.WithContext(ctx).First(&list, "id = ?", in.MediaListID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: media list %s", ErrNotFound, in.MediaListID)
		}
		return fmt.Errorf("load media list: %w", err)
	}

	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrValidation, in.Timezone)
		}
	}

	switch {
	case in.CronExpression != "":
		if in.StartTime != "" || in.EndTime != "" {
			return fmt.Errorf("%w: cronExpression and startTime/endTime are mutually exclusive", ErrValidation)
		}
		if _, err := cronParser.Parse(in.CronExpression); err != nil {
			return fmt.Errorf("%w: invalid cron expression: %v", ErrValidation, err)
		}
		if in.DurationMinutes <= 0 {
			return fmt.Errorf("%w: durationMinutes must be positive for cron schedules", ErrValidation)
		}
	case in.StartTime != "" && in.EndTime != "":
		if _, err := parseClock(in.StartTime); err != nil {
			return fmt.Errorf("%w: invalid startTime %q", ErrValidation, in.StartTime)
		}
		if _, err := parseClock(in.EndTime); err != nil {
			return fmt.Errorf("%w: invalid endTime %q", ErrValidation, in.EndTime)
		}
		if in.StartTime == in.EndTime {
			return fmt.Errorf("%w: startTime and endTime must differ", ErrValidation)
		}
		if _, err := parseDays(in.DaysOfWeek); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	default:
		return fmt.Errorf("%w: either cronExpression or startTime/endTime must be set", ErrValidation)
	}

	return nil
}

// warnOnOverlap logs once per slot when schedules can overlap. Overlap is
// resolved at trigger time by supersede, so this is advisory only.
func (s *Service) warnOnOverlap(ctx context.Context, sched *models.Schedule) {
	others, err := s.FindByDisplaySlotID(ctx, sched.DisplaySlotID)
	if err != nil || len(others) < 2 {
		return
	}

	key := sched.DisplaySlotID
	s.warnMu.Lock()
	_, warned := s.warnedKeys[key]
	if !warned {
		s.warnedKeys[key] = struct{}{}
	}
	s.warnMu.Unlock()
	if warned {
		return
	}

	s.logger.Warn().
		Str("slot_id", sched.DisplaySlotID).
		Int("schedules", len(others)).
		Msg("slot has multiple schedules; later triggers supersede earlier playback")
}
