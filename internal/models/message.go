// Package models provides data model definitions for the Cinq offline core.
package models

import "time"

// MessageStatus represents the delivery state of a queued message.
type MessageStatus string

const (
	// MessageStatusPending marks a message awaiting delivery.
	MessageStatusPending MessageStatus = "pending"
	// MessageStatusSending marks a message currently being delivered.
	MessageStatusSending MessageStatus = "sending"
	// MessageStatusFailed marks a message that exhausted its retries.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusSent is transient: a delivered message is moved to the
	// sent log and deleted from the queue within the same transaction, so
	// no queue row ever rests in this state.
	MessageStatusSent MessageStatus = "sent"
)

// QueuedMessage represents an outgoing message persisted while offline.
type QueuedMessage struct {
	ID         int64         `db:"id" json:"id"`
	ClientID   string        `db:"client_id" json:"client_id"` // idempotency key, UUID v4
	ContactID  string        `db:"contact_id" json:"contact_id"`
	Content    string        `db:"content" json:"content,omitempty"`
	IsPing     bool          `db:"is_ping" json:"is_ping"`
	Status     MessageStatus `db:"status" json:"status"`
	Retries    int           `db:"retries" json:"retries"`
	MaxRetries int           `db:"max_retries" json:"max_retries"`
	LastError  string        `db:"last_error" json:"last_error,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for QueuedMessage.
func (QueuedMessage) TableName() string {
	return "pending_messages"
}

// SentMessage is an audit row recorded when a queued message is delivered.
type SentMessage struct {
	ID              int64     `db:"id" json:"id"`
	ClientID        string    `db:"client_id" json:"client_id"`
	ContactID       string    `db:"contact_id" json:"contact_id"`
	ServerMessageID string    `db:"server_message_id" json:"server_message_id,omitempty"`
	SentAt          time.Time `db:"sent_at" json:"sent_at"`
}

// TableName returns the table name for SentMessage.
func (SentMessage) TableName() string {
	return "sent_log"
}
