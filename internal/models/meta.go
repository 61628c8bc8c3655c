package models

import "time"

// Well-known sync_meta keys.
const (
	MetaKeyLastSync  = "last_successful_sync"
	MetaKeySyncLease = "sync_lease"
	MetaKeySyncTags  = "registered_sync_tags"
)

// SyncMeta is a key-value bookkeeping row.
type SyncMeta struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncMeta.
func (SyncMeta) TableName() string {
	return "sync_meta"
}

// SyncLease is the JSON value stored under MetaKeySyncLease. Only the
// process holding a live lease may drain the queues; this keeps two
// processes sharing one database from syncing the same row concurrently.
type SyncLease struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the lease is still in force at the given instant.
func (l SyncLease) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}
