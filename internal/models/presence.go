package models

import "time"

// PresenceSnapshot is the last known presence of a user, written periodically
// so status can be recomputed after a restart.
type PresenceSnapshot struct {
	UserID         string    `gorm:"primaryKey;size:36" json:"user_id"`
	Status         string    `gorm:"size:16" json:"status"`
	Devices        int       `json:"devices"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
