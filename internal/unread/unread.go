// Package unread keeps per-participant unread counters and read receipts.
//
// Counters are only ever changed here: IncrementTx runs inside the ledger's
// append transaction, MarkRead clears a counter, Recount rebuilds one from
// the message table.
package unread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/chaterr"
	"github.com/zulandar/junction/internal/conversation"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tracker reads and writes unread state in the relational store.
type Tracker struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

// NewTracker creates a Tracker. timeout bounds every store call.
func NewTracker(conn *gorm.DB, timeout time.Duration) *Tracker {
	return &Tracker{db: conn, timeout: timeout, now: time.Now}
}

// IncrementTx adds one unread message for every active participant of the
// conversation except the sender. It must run in the transaction that
// inserts the message.
func IncrementTx(tx *gorm.DB, conversationID, senderID string) error {
	if err := tx.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id <> ? AND left_at IS NULL", conversationID, senderID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error; err != nil {
		return fmt.Errorf("unread: increment %s: %w", conversationID, err)
	}
	return nil
}

// MarkRead records that userID has read messageID and clears the user's
// counter when the message is newer than the last one marked. created is
// false when the receipt already existed.
func (t *Tracker) MarkRead(ctx context.Context, conversationID, userID string, messageID uint) (*models.MessageRead, bool, error) {
	var (
		receipt models.MessageRead
		created bool
	)
	err := db.Transact(ctx, t.db, t.timeout, func(tx *gorm.DB) error {
		if _, err := conversation.RequireAccessTx(tx, conversationID, userID, false); err != nil {
			return err
		}

		var msg models.Message
		if err := tx.Where("id = ? AND conversation_id = ?", messageID, conversationID).
			First(&msg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return chaterr.MessageNotFound.With("message %d is not in conversation %s", messageID, conversationID)
			}
			return fmt.Errorf("unread: load message %d: %w", messageID, err)
		}

		receipt = models.MessageRead{
			MessageID:      msg.ID,
			ReaderID:       userID,
			ConversationID: conversationID,
			ReadAt:         t.now(),
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt)
		if result.Error != nil {
			return fmt.Errorf("unread: insert receipt: %w", result.Error)
		}
		created = result.RowsAffected > 0
		if !created {
			if err := tx.Where("message_id = ? AND reader_id = ?", msg.ID, userID).
				First(&receipt).Error; err != nil {
				return fmt.Errorf("unread: load receipt: %w", err)
			}
		}

		// Message ids grow with sequence inside a conversation, so an id
		// comparison is enough to tell newer from older.
		if err := tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Where("last_read_message_id IS NULL OR last_read_message_id < ?", msg.ID).
			Updates(map[string]interface{}{
				"unread_count":         0,
				"last_read_message_id": msg.ID,
			}).Error; err != nil {
			return fmt.Errorf("unread: clear counter: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, chaterr.Infra(err, "unread: mark read")
	}
	return &receipt, created, nil
}

// Count returns userID's unread counter for the conversation.
func (t *Tracker) Count(ctx context.Context, conversationID, userID string) (int, error) {
	conn, cancel := db.Scoped(ctx, t.db, t.timeout)
	defer cancel()

	var p models.ConversationParticipant
	if err := conn.Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, chaterr.AccessDenied.With("no access to conversation %s", conversationID)
		}
		return 0, chaterr.Infra(err, "unread: count")
	}
	return p.UnreadCount, nil
}

// Counts returns the unread counters of every conversation userID is in.
func (t *Tracker) Counts(ctx context.Context, userID string) (map[string]int, error) {
	conn, cancel := db.Scoped(ctx, t.db, t.timeout)
	defer cancel()

	var rows []models.ConversationParticipant
	if err := conn.Where("user_id = ? AND left_at IS NULL", userID).Find(&rows).Error; err != nil {
		return nil, chaterr.Infra(err, "unread: counts")
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ConversationID] = r.UnreadCount
	}
	return out, nil
}

// Recount rebuilds userID's counter: messages after both the user's join
// point and last read message, not sent by the user.
func (t *Tracker) Recount(ctx context.Context, conversationID, userID string) (int, error) {
	var n int
	err := db.Transact(ctx, t.db, t.timeout, func(tx *gorm.DB) error {
		var err error
		n, err = recountTx(tx, conversationID, userID)
		return err
	})
	if err != nil {
		return 0, chaterr.Infra(err, "unread: recount")
	}
	return n, nil
}

// RecountConversation rebuilds the counters of every active participant.
func (t *Tracker) RecountConversation(ctx context.Context, conversationID string) (map[string]int, error) {
	out := map[string]int{}
	err := db.Transact(ctx, t.db, t.timeout, func(tx *gorm.DB) error {
		conv, err := conversation.LoadTx(tx, conversationID, true)
		if err != nil {
			return err
		}
		for _, user := range conv.ActiveMembers() {
			n, err := recountTx(tx, conv.ID, user)
			if err != nil {
				return err
			}
			out[user] = n
		}
		return nil
	})
	if err != nil {
		return nil, chaterr.Infra(err, "unread: recount conversation")
	}
	return out, nil
}

func recountTx(tx *gorm.DB, conversationID, userID string) (int, error) {
	var p models.ConversationParticipant
	if err := tx.Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, chaterr.NotMember.With("user %s is not a participant", userID)
		}
		return 0, fmt.Errorf("unread: load participant: %w", err)
	}

	floor := p.JoinedSequence
	if p.LastReadMessageID != nil {
		var last models.Message
		err := tx.Select("sequence").Where("id = ?", *p.LastReadMessageID).First(&last).Error
		switch {
		case err == nil:
			if last.Sequence > floor {
				floor = last.Sequence
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return 0, fmt.Errorf("unread: load last read: %w", err)
		}
	}

	var count int64
	if err := tx.Model(&models.Message{}).
		Where("conversation_id = ? AND sequence > ? AND sender_id <> ?", conversationID, floor, userID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("unread: count messages: %w", err)
	}
	if err := tx.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		UpdateColumn("unread_count", count).Error; err != nil {
		return 0, fmt.Errorf("unread: store recount: %w", err)
	}
	return int(count), nil
}
