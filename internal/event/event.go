// Package event defines the events the core pushes to realtime sessions.
//
// Event is a closed set: MessageCreated, ReadReceiptCreated and
// PresenceChanged. Each carries the full entity, never a diff.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/models"
)

// Kind names an event variant on the wire.
type Kind string

const (
	KindMessageCreated     Kind = "message.created"
	KindReadReceiptCreated Kind = "read_receipt.created"
	KindPresenceChanged    Kind = "presence.changed"
)

// Event is implemented only by the variants in this package.
type Event interface {
	Kind() Kind
	isEvent()
}

// MessageCreated announces a newly appended message.
type MessageCreated struct {
	ID             uint      `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Sequence       uint64    `json:"sequence"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReadReceiptCreated announces that a reader has read a message.
type ReadReceiptCreated struct {
	MessageID      uint      `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
}

// PresenceChanged announces a user's new presence status.
type PresenceChanged struct {
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	Previous       string    `json:"previous"`
	Devices        int       `json:"devices"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (MessageCreated) Kind() Kind     { return KindMessageCreated }
func (ReadReceiptCreated) Kind() Kind { return KindReadReceiptCreated }
func (PresenceChanged) Kind() Kind    { return KindPresenceChanged }

func (MessageCreated) isEvent()     {}
func (ReadReceiptCreated) isEvent() {}
func (PresenceChanged) isEvent()    {}

// NewMessageCreated builds the event for a stored message.
func NewMessageCreated(m models.Message) MessageCreated {
	return MessageCreated{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Sequence:       m.Sequence,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

// NewReadReceiptCreated builds the event for a stored read receipt.
func NewReadReceiptCreated(r models.MessageRead) ReadReceiptCreated {
	return ReadReceiptCreated{
		MessageID:      r.MessageID,
		ConversationID: r.ConversationID,
		ReaderID:       r.ReaderID,
		ReadAt:         r.ReadAt,
	}
}

// envelope is the JSON framing shared by websocket and SSE sessions.
type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode frames e as {"type": ..., "payload": ...}.
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: encode %s: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Type: e.Kind(), Payload: payload})
}

// Decode parses a framed event back into its variant.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("event: decode envelope: %w", err)
	}
	var (
		e   Event
		err error
	)
	switch env.Type {
	case KindMessageCreated:
		var v MessageCreated
		err = json.Unmarshal(env.Payload, &v)
		e = v
	case KindReadReceiptCreated:
		var v ReadReceiptCreated
		err = json.Unmarshal(env.Payload, &v)
		e = v
	case KindPresenceChanged:
		var v PresenceChanged
		err = json.Unmarshal(env.Payload, &v)
		e = v
	default:
		return nil, fmt.Errorf("event: unknown type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("event: decode %s: %w", env.Type, err)
	}
	return e, nil
}
