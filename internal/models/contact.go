package models

import "time"

// CachedContact represents a locally cached contact row.
// The cache is always a complete snapshot of the last successful fetch:
// it is cleared and rewritten in one transaction, never merged.
type CachedContact struct {
	ID          string    `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"display_name,omitempty"`
	CachedAt    time.Time `db:"cached_at" json:"cached_at"`
}

// TableName returns the table name for CachedContact.
func (CachedContact) TableName() string {
	return "contacts_cache"
}
