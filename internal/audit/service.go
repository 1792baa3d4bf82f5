/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/events"
	"github.com/signcast/signcast/internal/models"
)

// auditedEvents maps bus events to the audit action and resource type
// recorded for them.
var auditedEvents = map[events.EventType]struct {
	action       string
	resourceType string
	resourceKey  string
}{
	events.EventAuditActionExecute:   {"action.execute", "execution", "execution_id"},
	events.EventAuditActionStop:      {"action.stop", "execution", "execution_id"},
	events.EventAuditActionPause:     {"action.pause", "execution", "execution_id"},
	events.EventAuditActionResume:    {"action.resume", "execution", "execution_id"},
	events.EventExecutionSuperseded:  {"action.supersede", "execution", "execution_id"},
	events.EventAuditScheduleCreate:  {"schedule.create", "schedule", "schedule_id"},
	events.EventAuditScheduleUpdate:  {"schedule.update", "schedule", "schedule_id"},
	events.EventAuditScheduleDelete:  {"schedule.delete", "schedule", "schedule_id"},
	events.EventScheduleTriggered:    {"schedule.trigger", "schedule", "schedule_id"},
	events.EventScheduleReleased:     {"schedule.release", "schedule", "schedule_id"},
	events.EventAuditAPIKeyCreate:    {"apikey.create", "apikey", "apikey_id"},
	events.EventAuditAPIKeyRevoke:    {"apikey.revoke", "apikey", "apikey_id"},
}

// Service persists an audit trail by subscribing to operation events.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates the audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to audited events and records entries until the context
// is cancelled. Blocks; run in a goroutine.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service started")

	type subscription struct {
		eventType events.EventType
		ch        events.Subscriber
	}
	var subs []subscription
	for eventType := range auditedEvents {
		subs = append(subs, subscription{eventType, s.bus.Subscribe(eventType)})
	}
	defer func() {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub.eventType, sub.ch)
		}
	}()

	// Fan the per-type channels into one so a single loop drains them.
	merged := make(chan struct {
		eventType events.EventType
		payload   events.Payload
	}, 64)
	forward := func(eventType events.EventType, ch events.Subscriber) {
		for payload := range ch {
			select {
			case merged <- struct {
				eventType events.EventType
				payload   events.Payload
			}{eventType, payload}:
			case <-ctx.Done():
				return
			}
		}
	}
	for _, sub := range subs {
		go forward(sub.eventType, sub.ch)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return
		case ev := <-merged:
			s.record(ev.eventType, ev.payload)
		}
	}
}

func (s *Service) record(eventType events.EventType, payload events.Payload) {
	meta := auditedEvents[eventType]

	entry := models.AuditEntry{
		ID:           uuid.NewString(),
		Action:       meta.action,
		ResourceType: meta.resourceType,
		ResourceID:   stringField(payload, meta.resourceKey),
		Actor:        actorFrom(payload),
		Detail:       detailFrom(payload),
	}
	if org := stringField(payload, "organization_id"); org != "" {
		entry.OrganizationID = org
	}

	if err := s.db.Create(&entry).Error; err != nil {
		s.logger.Error().Err(err).Str("action", entry.Action).Msg("audit write failed")
	}
}

// Entries returns recent audit entries for an organization, newest first.
func (s *Service) Entries(ctx context.Context, organizationID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if organizationID != "" {
		q = q.Where("organization_id = ?", organizationID)
	}
	var entries []models.AuditEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

func stringField(payload events.Payload, key string) string {
	if key == "" {
		return ""
	}
	v, _ := payload[key].(string)
	return v
}

func actorFrom(payload events.Payload) string {
	for _, key := range []string{"stopped_by", "source_app_id", "actor"} {
		if v := stringField(payload, key); v != "" {
			return v
		}
	}
	return "system"
}

func detailFrom(payload events.Payload) string {
	for _, key := range []string{"detail", "superseded_by", "display_slot_id"} {
		if v := stringField(payload, key); v != "" {
			return fmt.Sprintf("%s=%s", key, v)
		}
	}
	return ""
}
