// Package ledger appends messages to conversations and serves history.
//
// Every conversation has its own sequence. Append takes the conversation
// row lock, so sequences are gap-free and strictly increasing no matter how
// many senders write at once.
package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zulandar/junction/internal/chaterr"
	"github.com/zulandar/junction/internal/conversation"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/unread"
	"gorm.io/gorm"
)

// MaxContentRunes is the longest message accepted, in characters.
const MaxContentRunes = 10000

// MaxHistoryLimit caps a single history page.
const MaxHistoryLimit = 500

var scriptSpan = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)

// Sanitize strips every <script>...</script> span from content.
func Sanitize(content string) string {
	for {
		out := scriptSpan.ReplaceAllString(content, "")
		if out == content {
			return out
		}
		content = out
	}
}

// CheckContent rejects blank and oversized message bodies.
func CheckContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return chaterr.EmptyContent.With("message content is empty")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentRunes {
		return chaterr.ContentTooLong.With("message has %d characters, limit is %d", n, MaxContentRunes)
	}
	return nil
}

// HistoryOpts narrows a history read.
type HistoryOpts struct {
	AfterSequence uint64 // only messages with a greater sequence
	Limit         int    // 0 means MaxHistoryLimit
}

// Ledger stores messages in the relational store.
type Ledger struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

// New creates a Ledger. timeout bounds every store call.
func New(conn *gorm.DB, timeout time.Duration) *Ledger {
	return &Ledger{db: conn, timeout: timeout, now: time.Now}
}

// Append sanitizes content and stores it as the next message of the
// conversation. The unread counters of the other participants move in the
// same transaction.
func (l *Ledger) Append(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	if err := CheckContent(content); err != nil {
		return nil, err
	}
	clean := Sanitize(content)
	if strings.TrimSpace(clean) == "" {
		return nil, chaterr.EmptyContent.With("message content is empty after sanitizing")
	}

	var msg models.Message
	err := db.Transact(ctx, l.db, l.timeout, func(tx *gorm.DB) error {
		conv, err := conversation.RequireAccessTx(tx, conversationID, senderID, true)
		if err != nil {
			return err
		}
		if conv.Archived() {
			return chaterr.ConversationArchived.With("conversation %s is archived", conv.ID)
		}

		now := l.now()
		msg = models.Message{
			ConversationID: conv.ID,
			Sequence:       conv.LastSequence + 1,
			SenderID:       senderID,
			Content:        clean,
			CreatedAt:      now,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("ledger: insert message: %w", err)
		}
		result := tx.Model(&models.Conversation{}).
			Where("id = ? AND last_sequence = ?", conv.ID, conv.LastSequence).
			Updates(map[string]interface{}{"last_sequence": msg.Sequence, "updated_at": now})
		if result.Error != nil {
			return fmt.Errorf("ledger: advance sequence: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("ledger: sequence of %s moved during append", conv.ID)
		}
		return unread.IncrementTx(tx, conv.ID, senderID)
	})
	if err != nil {
		return nil, chaterr.Infra(err, "ledger: append")
	}
	return &msg, nil
}

// History returns the conversation's messages in sequence order. The reader
// must be an active participant; archived conversations stay readable.
func (l *Ledger) History(ctx context.Context, conversationID, readerID string, opts HistoryOpts) ([]models.Message, error) {
	conn, cancel := db.Scoped(ctx, l.db, l.timeout)
	defer cancel()

	if _, err := conversation.RequireAccessTx(conn, conversationID, readerID, false); err != nil {
		return nil, chaterr.Infra(err, "ledger: history")
	}

	limit := opts.Limit
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	msgs := []models.Message{}
	if err := conn.Where("conversation_id = ? AND sequence > ?", conversationID, opts.AfterSequence).
		Order("sequence ASC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, chaterr.Infra(err, "ledger: history")
	}
	return msgs, nil
}

// Message loads one message of a conversation.
func (l *Ledger) Message(ctx context.Context, conversationID string, id uint) (*models.Message, error) {
	conn, cancel := db.Scoped(ctx, l.db, l.timeout)
	defer cancel()

	var msg models.Message
	result := conn.Where("id = ? AND conversation_id = ?", id, conversationID).Limit(1).Find(&msg)
	if result.Error != nil {
		return nil, chaterr.Infra(result.Error, "ledger: load message")
	}
	if result.RowsAffected == 0 {
		return nil, chaterr.MessageNotFound.With("message %d is not in conversation %s", id, conversationID)
	}
	return &msg, nil
}
