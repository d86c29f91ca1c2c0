package db

import (
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every persisted model.
func AllModels() []interface{} {
	return []interface{}{
		&models.WatchedPipeline{},
		&models.WatchedMergeRequest{},
		&models.ChainTask{},
		&models.ChainStep{},
	}
}

// AutoMigrate creates any missing tables and columns.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
