package db

import (
	"github.com/signcast/signcast/internal/models"
	"gorm.io/gorm"
)

// Migrate applies the schema for all Signcast models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.APIKey{},
		&models.DisplaySlot{},
		&models.MediaList{},
		&models.MediaItem{},
		&models.ActionExecution{},
		&models.Schedule{},
		&models.AuditEntry{},
		&models.PlaybackLog{},
	)
}
