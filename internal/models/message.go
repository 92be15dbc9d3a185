package models

import "time"

// Message is one immutable entry in a conversation's ledger. Sequence is
// strictly increasing within a conversation.
type Message struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"size:36;not null;uniqueIndex:idx_messages_conversation_sequence" json:"conversation_id"`
	Sequence       uint64    `gorm:"not null;uniqueIndex:idx_messages_conversation_sequence" json:"sequence"`
	SenderID       string    `gorm:"size:36;not null;index" json:"sender_id"`
	Content        string    `gorm:"type:text" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageRead records that a reader has read a message.
type MessageRead struct {
	MessageID      uint      `gorm:"primaryKey" json:"message_id"`
	ReaderID       string    `gorm:"primaryKey;size:36" json:"reader_id"`
	ConversationID string    `gorm:"size:36;index" json:"conversation_id"`
	ReadAt         time.Time `json:"read_at"`
}
