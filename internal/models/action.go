package models

import (
	"encoding/json"
	"time"
)

// ActionStatus represents the state of a queued action.
type ActionStatus string

const (
	ActionStatusPending ActionStatus = "pending"
	ActionStatusFailed  ActionStatus = "failed"
)

// DefaultActionPriority is used when the caller does not specify one.
// Priority 1 is the most urgent, 10 the least.
const DefaultActionPriority = 5

// PendingAction represents a generic HTTP call to replay once online.
type PendingAction struct {
	ID        int64           `db:"id" json:"id"`
	Type      string          `db:"type" json:"type"`
	Endpoint  string          `db:"endpoint" json:"endpoint"`
	Method    string          `db:"method" json:"method"`
	Body      json.RawMessage `db:"body" json:"body,omitempty"`
	Priority  int             `db:"priority" json:"priority"`
	Status    ActionStatus    `db:"status" json:"status"`
	Retries   int             `db:"retries" json:"retries"`
	LastError string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// TableName returns the table name for PendingAction.
func (PendingAction) TableName() string {
	return "pending_actions"
}
