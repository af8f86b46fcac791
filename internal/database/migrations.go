package database

import (
	"gorm.io/gorm"

	"github.com/solarops/activity/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	tables := append([]any{&models.CacheEntry{}}, models.SourceRecords()...)
	return db.AutoMigrate(tables...)
}
