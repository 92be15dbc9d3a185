// Package conversation owns conversation entities, their membership rules
// and access control.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/chaterr"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/ids"
	"github.com/zulandar/junction/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Cardinality limits.
const (
	DirectSize   = 2
	GroupMin     = 2
	GroupMax     = 8
	BusinessMin  = 2
	MaxNameRunes = 128
)

// CreateOpts holds optional parameters for creating a conversation.
type CreateOpts struct {
	CreatedBy string // initiating user; added as a member when absent
	Name      string
	Metadata  map[string]string // business: businessId, assignedAgentId
}

// Registry manages conversations in the relational store.
type Registry struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

// NewRegistry creates a Registry. timeout bounds every store call.
func NewRegistry(conn *gorm.DB, timeout time.Duration) *Registry {
	return &Registry{db: conn, timeout: timeout, now: time.Now}
}

// Create validates the membership rules for convType and stores a new
// conversation.
func (r *Registry) Create(ctx context.Context, convType string, participants []string, opts CreateOpts) (*models.Conversation, error) {
	conv, err := Build(convType, participants, opts, r.now())
	if err != nil {
		return nil, err
	}
	err = db.Transact(ctx, r.db, r.timeout, func(tx *gorm.DB) error {
		return CreateTx(tx, conv)
	})
	if err != nil {
		return nil, chaterr.Infra(err, "conversation: create")
	}
	return conv, nil
}

// Build validates the membership rules for convType and returns the
// conversation entity, ready for CreateTx.
func Build(convType string, participants []string, opts CreateOpts, now time.Time) (*models.Conversation, error) {
	members, err := normalizeMembers(convType, participants, opts)
	if err != nil {
		return nil, err
	}
	if n := len([]rune(opts.Name)); n > MaxNameRunes {
		return nil, chaterr.InvalidArgument.With("name has %d characters, limit is %d", n, MaxNameRunes)
	}

	conv := &models.Conversation{
		ID:        ids.New(),
		Type:      convType,
		Name:      opts.Name,
		CreatedBy: opts.CreatedBy,
		Metadata:  copyMetadata(opts.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range members {
		conv.Participants = append(conv.Participants, models.ConversationParticipant{
			ConversationID: conv.ID,
			UserID:         m,
			Role:           roleFor(convType, m, opts),
			JoinedAt:       now,
		})
	}
	return conv, nil
}

// CreateTx inserts a fully built conversation and its participants.
func CreateTx(tx *gorm.DB, conv *models.Conversation) error {
	if err := tx.Create(conv).Error; err != nil {
		return fmt.Errorf("conversation: insert %s: %w", conv.ID, err)
	}
	return nil
}

// AddParticipant adds userID to a group or business conversation. A user
// who previously left rejoins with a fresh unread counter.
func (r *Registry) AddParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	var conv *models.Conversation
	err := db.Transact(ctx, r.db, r.timeout, func(tx *gorm.DB) error {
		c, err := LoadTx(tx, conversationID, true)
		if err != nil {
			return err
		}
		if err := checkMutable(c); err != nil {
			return err
		}
		if err := ids.Check("participant", userID); err != nil {
			return err
		}

		if isActive(c, userID) {
			return chaterr.AlreadyMember.With("user %s is already a participant", userID)
		}
		if c.Type == models.TypeGroup && len(c.Participants) >= GroupMax {
			return chaterr.CapacityExceeded.With("group conversations hold at most %d participants", GroupMax)
		}

		now := r.now()
		if err := JoinTx(tx, c, userID, models.RoleMember, now); err != nil {
			return err
		}
		if err := TouchTx(tx, c.ID, now); err != nil {
			return err
		}
		conv, err = LoadTx(tx, c.ID, false)
		return err
	})
	if err != nil {
		return nil, chaterr.Infra(err, "conversation: add participant")
	}
	return conv, nil
}

// RemoveParticipant marks userID as having left the conversation.
func (r *Registry) RemoveParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	var conv *models.Conversation
	err := db.Transact(ctx, r.db, r.timeout, func(tx *gorm.DB) error {
		c, err := LoadTx(tx, conversationID, true)
		if err != nil {
			return err
		}
		if err := checkMutable(c); err != nil {
			return err
		}
		if !isActive(c, userID) {
			return chaterr.NotMember.With("user %s is not a participant", userID)
		}
		if c.Type == models.TypeBusiness && c.Metadata[models.MetaAssignedAgentID] == userID {
			return chaterr.InvalidArgument.With("the assigned agent leaves through reassignment")
		}
		floor := GroupMin
		if c.Type == models.TypeBusiness {
			floor = BusinessMin
		}
		if len(c.Participants)-1 < floor {
			return chaterr.InvalidParticipantCount.With("%s conversations need at least %d participants", c.Type, floor)
		}

		now := r.now()
		if err := LeaveTx(tx, c.ID, userID, now); err != nil {
			return err
		}
		if err := TouchTx(tx, c.ID, now); err != nil {
			return err
		}
		conv, err = LoadTx(tx, c.ID, false)
		return err
	})
	if err != nil {
		return nil, chaterr.Infra(err, "conversation: remove participant")
	}
	return conv, nil
}

// ValidateAccess reports whether userID is an active participant. A missing
// conversation is reported as false.
func (r *Registry) ValidateAccess(ctx context.Context, conversationID, userID string) (bool, error) {
	conn, cancel := db.Scoped(ctx, r.db, r.timeout)
	defer cancel()
	ok, err := HasAccessTx(conn, conversationID, userID)
	if err != nil {
		return false, chaterr.Infra(err, "conversation: validate access")
	}
	return ok, nil
}

// RequireAccess loads the conversation when userID is an active participant
// and fails closed with AccessDenied otherwise.
func (r *Registry) RequireAccess(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conn, cancel := db.Scoped(ctx, r.db, r.timeout)
	defer cancel()
	conv, err := RequireAccessTx(conn, conversationID, userID, false)
	if err != nil {
		return nil, chaterr.Infra(err, "conversation: require access")
	}
	return conv, nil
}

// Archive sets the terminal archived timestamp. Archiving twice keeps the
// first timestamp.
func (r *Registry) Archive(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	return r.ArchiveWith(ctx, conversationID, userID, nil)
}

// ArchiveWith archives like Archive and runs onArchive in the same
// transaction when the conversation is newly archived. An onArchive error
// rolls the archive back.
func (r *Registry) ArchiveWith(ctx context.Context, conversationID, userID string, onArchive func(tx *gorm.DB, c *models.Conversation) error) (*models.Conversation, error) {
	var conv *models.Conversation
	err := db.Transact(ctx, r.db, r.timeout, func(tx *gorm.DB) error {
		c, err := RequireAccessTx(tx, conversationID, userID, true)
		if err != nil {
			return err
		}
		if !c.Archived() {
			now := r.now()
			if err := tx.Model(&models.Conversation{}).Where("id = ?", c.ID).
				Updates(map[string]interface{}{"archived_at": now, "updated_at": now}).Error; err != nil {
				return fmt.Errorf("conversation: archive %s: %w", c.ID, err)
			}
			if onArchive != nil {
				if err := onArchive(tx, c); err != nil {
					return err
				}
			}
		}
		conv, err = LoadTx(tx, c.ID, false)
		return err
	})
	if err != nil {
		return nil, chaterr.Infra(err, "conversation: archive")
	}
	return conv, nil
}

// ListForUser returns every conversation where userID is an active
// participant, archived ones included, most recently updated first.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	conn, cancel := db.Scoped(ctx, r.db, r.timeout)
	defer cancel()

	member := conn.Model(&models.ConversationParticipant{}).
		Select("conversation_id").
		Where("user_id = ? AND left_at IS NULL", userID)

	var convs []models.Conversation
	if err := conn.Preload("Participants", "left_at IS NULL").
		Where("id IN (?)", member).
		Order("updated_at DESC, id ASC").
		Find(&convs).Error; err != nil {
		return nil, chaterr.Infra(err, "conversation: list for user")
	}
	return convs, nil
}

// Get loads a conversation with its active participants.
func (r *Registry) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conn, cancel := db.Scoped(ctx, r.db, r.timeout)
	defer cancel()
	conv, err := LoadTx(conn, conversationID, false)
	if err != nil {
		return nil, chaterr.Infra(err, "conversation: get")
	}
	return conv, nil
}

// Participants returns the active participant ids of a conversation.
func (r *Registry) Participants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := r.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.ActiveMembers(), nil
}

// Contacts returns every user sharing at least one conversation with userID,
// excluding userID itself.
func (r *Registry) Contacts(ctx context.Context, userID string) ([]string, error) {
	conn, cancel := db.Scoped(ctx, r.db, r.timeout)
	defer cancel()

	member := conn.Model(&models.ConversationParticipant{}).
		Select("conversation_id").
		Where("user_id = ? AND left_at IS NULL", userID)

	var users []string
	if err := conn.Model(&models.ConversationParticipant{}).
		Distinct("user_id").
		Where("conversation_id IN (?) AND left_at IS NULL AND user_id <> ?", member, userID).
		Order("user_id").
		Pluck("user_id", &users).Error; err != nil {
		return nil, chaterr.Infra(err, "conversation: contacts")
	}
	return users, nil
}

// LoadTx loads a conversation and its active participants, optionally
// locking the conversation row for update.
func LoadTx(tx *gorm.DB, conversationID string, lock bool) (*models.Conversation, error) {
	if !ids.Valid(conversationID) {
		return nil, chaterr.ConversationNotFound.With("conversation %q", conversationID)
	}
	q := tx.Preload("Participants", "left_at IS NULL")
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var conv models.Conversation
	if err := q.Where("id = ?", conversationID).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chaterr.ConversationNotFound.With("conversation %s", conversationID)
		}
		return nil, fmt.Errorf("conversation: load %s: %w", conversationID, err)
	}
	return &conv, nil
}

// HasAccessTx reports whether userID actively participates in the conversation.
func HasAccessTx(tx *gorm.DB, conversationID, userID string) (bool, error) {
	var count int64
	if err := tx.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("conversation: check access: %w", err)
	}
	return count > 0, nil
}

// RequireAccessTx loads the conversation for an active participant. Both a
// missing conversation and non-membership fail with AccessDenied.
func RequireAccessTx(tx *gorm.DB, conversationID, userID string, lock bool) (*models.Conversation, error) {
	conv, err := LoadTx(tx, conversationID, lock)
	if err != nil {
		if errors.Is(err, chaterr.ConversationNotFound) {
			return nil, chaterr.AccessDenied.With("no access to conversation %s", conversationID)
		}
		return nil, err
	}
	if !isActive(conv, userID) {
		return nil, chaterr.AccessDenied.With("no access to conversation %s", conversationID)
	}
	return conv, nil
}

// JoinTx makes userID an active participant of c, reviving a previous
// membership row if one exists. The joiner starts with no unread messages.
func JoinTx(tx *gorm.DB, c *models.Conversation, userID, role string, now time.Time) error {
	result := tx.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", c.ID, userID).
		Updates(map[string]interface{}{
			"left_at":              nil,
			"joined_at":            now,
			"joined_sequence":      c.LastSequence,
			"unread_count":         0,
			"last_read_message_id": nil,
			"role":                 role,
		})
	if result.Error != nil {
		return fmt.Errorf("conversation: rejoin %s: %w", userID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	p := models.ConversationParticipant{
		ConversationID: c.ID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       now,
		JoinedSequence: c.LastSequence,
	}
	if err := tx.Create(&p).Error; err != nil {
		return fmt.Errorf("conversation: add %s: %w", userID, err)
	}
	return nil
}

// LeaveTx marks userID as having left the conversation.
func LeaveTx(tx *gorm.DB, conversationID, userID string, now time.Time) error {
	if err := tx.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Update("left_at", now).Error; err != nil {
		return fmt.Errorf("conversation: remove %s: %w", userID, err)
	}
	return nil
}

func checkMutable(c *models.Conversation) error {
	if c.Archived() {
		return chaterr.ConversationArchived.With("conversation %s is archived", c.ID)
	}
	if c.Type == models.TypeDirect {
		return chaterr.ConversationTypeImmutable.With("direct conversations have fixed membership")
	}
	return nil
}

func isActive(c *models.Conversation, userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID && p.LeftAt == nil {
			return true
		}
	}
	return false
}

// TouchTx bumps the conversation's updated_at.
func TouchTx(tx *gorm.DB, conversationID string, now time.Time) error {
	if err := tx.Model(&models.Conversation{}).Where("id = ?", conversationID).
		Update("updated_at", now).Error; err != nil {
		return fmt.Errorf("conversation: touch %s: %w", conversationID, err)
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
