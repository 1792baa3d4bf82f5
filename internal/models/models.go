package models

import (
	"time"
)

// RoleName enumerates the RBAC roles.
type RoleName string

const (
	RoleAdmin    RoleName = "admin"
	RoleOperator RoleName = "operator"
	RoleViewer   RoleName = "viewer"
)

// Organization is a tenant owning display slots, media and schedules.
type Organization struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User represents an authenticated account.
type User struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	OrganizationID string `gorm:"type:uuid;index"`
	Email          string `gorm:"uniqueIndex"`
	Password       string
	Role           RoleName `gorm:"type:varchar(16)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// APIKey stores a hashed machine credential (schedulers, device agents).
type APIKey struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;index"`
	Name      string
	KeyHash   string `gorm:"uniqueIndex"`
	KeyPrefix string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// IsExpired reports whether the key is past its expiry.
func (k *APIKey) IsExpired() bool {
	return !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt)
}

// DisplaySlot is a uniquely addressable screen within a tenant's fleet.
// Slots are created by tenant provisioning; the playback core only binds
// engines to existing slot ids.
type DisplaySlot struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	OrganizationID string `gorm:"type:uuid;index"`
	Name           string `gorm:"index"`
	Location       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MediaList is an ordered sequence of playable media items. Immutable for
// the duration of playback: engines receive a snapshot of the items.
type MediaList struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	OrganizationID string `gorm:"type:uuid;index"`
	Name           string `gorm:"index"`
	Loop           bool
	Items          []MediaItem `gorm:"foreignKey:MediaListID"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MediaItem is one entry of a media list with its display duration.
type MediaItem struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	MediaListID string `gorm:"type:uuid;index"`
	Position    int
	Title       string
	ContentType string `gorm:"type:varchar(64)"`
	URI         string
	StorageKey  string
	Duration    time.Duration
}

// ExecutionStatus tracks an ActionExecution through its lifecycle.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionStopped   ExecutionStatus = "stopped"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionError     ExecutionStatus = "error"
)

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStopped || s == ExecutionCompleted || s == ExecutionError
}

// IsActive reports whether the execution currently holds its slot.
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionRunning || s == ExecutionPaused
}

// ActionExecution is the persisted record of one playback session bound to
// a slot and media list.
type ActionExecution struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	OrganizationID string          `gorm:"type:uuid;index"`
	SourceAppID    string          `gorm:"index"`
	MediaListID    string          `gorm:"type:uuid;index"`
	DisplaySlotID  string          `gorm:"type:uuid;index"`
	Status         ExecutionStatus `gorm:"type:varchar(16);index"`
	StartedAt      time.Time
	PausedAt       *time.Time
	StoppedAt      *time.Time
	StoppedBy      string
	SupersededBy   string `gorm:"type:uuid"`
	Error          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Schedule is a time-based rule that triggers playback on a slot. Either a
// cron expression with a duration or a daily time window.
type Schedule struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	OrganizationID string `gorm:"type:uuid;index"`
	DisplaySlotID  string `gorm:"type:uuid;index"`
	MediaListID    string `gorm:"type:uuid;index"`

	CronExpression string `gorm:"type:varchar(64)"`
	// StartTime/EndTime are "HH:MM" in the schedule's timezone.
	StartTime string `gorm:"type:varchar(5)"`
	EndTime   string `gorm:"type:varchar(5)"`
	// DaysOfWeek is a comma separated list like "mon,tue,fri"; empty means
	// every day.
	DaysOfWeek      string `gorm:"type:varchar(32)"`
	DurationMinutes int
	Timezone        string `gorm:"type:varchar(48)"`
	IsActive        bool   `gorm:"index"`
	LastFiredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsCron reports whether the schedule is cron-driven rather than
// window-driven.
func (s *Schedule) IsCron() bool {
	return s.CronExpression != ""
}

// AuditEntry records an operator or system action for the audit trail.
type AuditEntry struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	OrganizationID string `gorm:"type:uuid;index"`
	Action         string `gorm:"type:varchar(64);index"`
	ResourceType   string `gorm:"type:varchar(32)"`
	ResourceID     string `gorm:"type:uuid;index"`
	Actor          string
	Detail         string `gorm:"type:text"`
	CreatedAt      time.Time
}

// PlaybackLog records one finished playback session per slot.
type PlaybackLog struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	OrganizationID string `gorm:"type:uuid;index"`
	DisplaySlotID  string `gorm:"type:uuid;index"`
	MediaListID    string `gorm:"type:uuid"`
	ExecutionID    string `gorm:"type:uuid;index"`
	StartedAt      time.Time
	EndedAt        time.Time
	Outcome        string `gorm:"type:varchar(16)"`
}
