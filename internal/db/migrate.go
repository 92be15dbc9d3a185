package db

import (
	"fmt"

	"github.com/zulandar/junction/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model Junction persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageRead{},
		&models.Agent{},
		&models.Assignment{},
		&models.PendingAssignment{},
		&models.PresenceSnapshot{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops every Junction table and migrates them again.
func Reset(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return AutoMigrate(db)
}
