package models

import "time"

// Conversation types.
const (
	TypeDirect   = "direct"
	TypeGroup    = "group"
	TypeBusiness = "business"
)

// Participant roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleAgent  = "agent"
)

// Metadata keys carried by business conversations.
const (
	MetaBusinessID      = "businessId"
	MetaAssignedAgentID = "assignedAgentId"
)

// Conversation is a direct, group or business chat.
type Conversation struct {
	ID           string            `gorm:"primaryKey;size:36" json:"id"`
	Type         string            `gorm:"size:16;not null;index" json:"type"`
	Name         string            `gorm:"size:128" json:"name"`
	CreatedBy    string            `gorm:"size:36" json:"created_by"`
	Metadata     map[string]string `gorm:"serializer:json;type:text" json:"metadata"`
	LastSequence uint64            `gorm:"not null;default:0" json:"last_sequence"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `gorm:"index" json:"updated_at"`
	ArchivedAt   *time.Time        `json:"archived_at,omitempty"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants"`
}

// Archived reports whether the conversation has been archived.
func (c *Conversation) Archived() bool { return c.ArchivedAt != nil }

// ActiveMembers returns the user IDs of participants that have not left.
func (c *Conversation) ActiveMembers() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.LeftAt == nil {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// ConversationParticipant is one user's membership in a conversation.
// JoinedSequence is the conversation's LastSequence when the user joined;
// only messages after it count toward UnreadCount.
type ConversationParticipant struct {
	ConversationID    string     `gorm:"primaryKey;size:36" json:"conversation_id"`
	UserID            string     `gorm:"primaryKey;size:36;index" json:"user_id"`
	Role              string     `gorm:"size:16;default:member" json:"role"`
	JoinedAt          time.Time  `json:"joined_at"`
	JoinedSequence    uint64     `gorm:"not null;default:0" json:"joined_sequence"`
	LeftAt            *time.Time `gorm:"index" json:"left_at,omitempty"`
	LastReadMessageID *uint      `json:"last_read_message_id,omitempty"`
	UnreadCount       int        `gorm:"not null;default:0" json:"unread_count"`
}
