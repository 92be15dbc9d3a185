package models

import "time"

// Agent statuses.
const (
	AgentAvailable = "available"
	AgentBusy      = "busy"
	AgentOffline   = "offline"
)

// Agent is a support agent serving one business.
type Agent struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	BusinessID         string    `gorm:"size:64;not null;index" json:"business_id"`
	Status             string    `gorm:"size:16;default:available;index" json:"status"`
	MaxConcurrentChats int       `gorm:"not null;default:5" json:"max_concurrent_chats"`
	CurrentChatCount   int       `gorm:"not null;default:0" json:"current_chat_count"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Assignment binds a business conversation to its current agent.
type Assignment struct {
	ConversationID string    `gorm:"primaryKey;size:36" json:"conversation_id"`
	AgentID        string    `gorm:"size:36;not null;index" json:"agent_id"`
	BusinessID     string    `gorm:"size:64;not null;index" json:"business_id"`
	AssignedAt     time.Time `json:"assigned_at"`
}

// Pending assignment statuses.
const (
	PendingWaiting   = "pending"
	PendingFulfilled = "fulfilled"
)

// PendingAssignment is a queued business conversation request waiting for
// an agent with spare capacity.
type PendingAssignment struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	BusinessID     string     `gorm:"size:64;not null;index" json:"business_id"`
	CustomerID     string     `gorm:"size:36;not null" json:"customer_id"`
	Name           string     `gorm:"size:128" json:"name"`
	Status         string     `gorm:"size:16;default:pending;index" json:"status"`
	ConversationID string     `gorm:"size:36" json:"conversation_id"`
	RequestedAt    time.Time  `json:"requested_at"`
	FulfilledAt    *time.Time `json:"fulfilled_at,omitempty"`
}
