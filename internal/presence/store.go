package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists presence snapshots for restart recovery.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewStore creates a Store. timeout bounds every store call.
func NewStore(conn *gorm.DB, timeout time.Duration) *Store {
	return &Store{db: conn, timeout: timeout}
}

// Save upserts one snapshot row per user.
func (s *Store) Save(ctx context.Context, rows []Status) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now()
	snaps := make([]models.PresenceSnapshot, len(rows))
	for i, r := range rows {
		snaps[i] = models.PresenceSnapshot{
			UserID:         r.UserID,
			Status:         r.Status,
			Devices:        r.Devices,
			LastActivityAt: r.LastActivityAt,
			UpdatedAt:      now,
		}
	}

	conn, cancel := db.Scoped(ctx, s.db, s.timeout)
	defer cancel()
	if err := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "devices", "last_activity_at", "updated_at"}),
	}).CreateInBatches(snaps, 200).Error; err != nil {
		return fmt.Errorf("presence: save snapshot: %w", err)
	}
	return nil
}

// Load returns every stored snapshot.
func (s *Store) Load(ctx context.Context) ([]Status, error) {
	conn, cancel := db.Scoped(ctx, s.db, s.timeout)
	defer cancel()

	var snaps []models.PresenceSnapshot
	if err := conn.Order("user_id").Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("presence: load snapshot: %w", err)
	}
	out := make([]Status, len(snaps))
	for i, sn := range snaps {
		out[i] = Status{
			UserID:         sn.UserID,
			Status:         sn.Status,
			Devices:        sn.Devices,
			LastActivityAt: sn.LastActivityAt,
		}
	}
	return out, nil
}
