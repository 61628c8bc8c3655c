package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Whitemarmot/cinq-offline/internal/models"
)

// Background sync tags registered when work is queued. A reconnecting
// worker reads them back to know which drains to resume.
const (
	TagSyncMessages = "sync-messages"
	TagSyncActions  = "sync-actions"
)

// SetMeta stores a sync metadata value, overwriting any previous one.
func (s *Store) SetMeta(key, value string) error {
	now := s.now().UTC().Format(timeFormat)
	query := `
	INSERT INTO sync_meta (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, key, value, now); err != nil {
		return fmt.Errorf("failed to set sync metadata %q: %w", key, err)
	}
	return nil
}

// Meta returns a sync metadata value and whether it exists.
func (s *Store) Meta(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM sync_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get sync metadata %q: %w", key, err)
	}
	return value, true, nil
}

// DeleteMeta removes a sync metadata key. Idempotent.
func (s *Store) DeleteMeta(key string) error {
	if _, err := s.db.Exec("DELETE FROM sync_meta WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete sync metadata %q: %w", key, err)
	}
	return nil
}

// SetLastSync records the timestamp of the last successful sync pass.
func (s *Store) SetLastSync(t time.Time) error {
	return s.SetMeta(models.MetaKeyLastSync, t.UTC().Format(timeFormat))
}

// LastSync returns the timestamp of the last successful sync pass, if any.
func (s *Store) LastSync() (time.Time, bool, error) {
	value, ok, err := s.Meta(models.MetaKeyLastSync)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(timeFormat, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last sync timestamp: %w", err)
	}
	return t, true, nil
}

// RegisterSyncTag records a background sync tag. Duplicate registrations
// are no-ops.
func (s *Store) RegisterSyncTag(tag string) error {
	tags, err := s.SyncTags()
	if err != nil {
		return err
	}
	for _, existing := range tags {
		if existing == tag {
			return nil
		}
	}

	tags = append(tags, tag)
	data, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal sync tags: %w", err)
	}
	return s.SetMeta(models.MetaKeySyncTags, string(data))
}

// SyncTags returns the currently registered background sync tags.
func (s *Store) SyncTags() ([]string, error) {
	value, ok, err := s.Meta(models.MetaKeySyncTags)
	if err != nil || !ok {
		return nil, err
	}

	var tags []string
	if err := json.Unmarshal([]byte(value), &tags); err != nil {
		return nil, fmt.Errorf("failed to parse sync tags: %w", err)
	}
	return tags, nil
}

// ClearSyncTag removes a registered tag once its drain completes cleanly.
func (s *Store) ClearSyncTag(tag string) error {
	tags, err := s.SyncTags()
	if err != nil {
		return err
	}

	kept := tags[:0]
	for _, existing := range tags {
		if existing != tag {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(tags) {
		return nil
	}

	data, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("failed to marshal sync tags: %w", err)
	}
	return s.SetMeta(models.MetaKeySyncTags, string(data))
}

// =====================================================
// Sync Lease
// =====================================================

// AcquireLease claims the sync lease for owner with the given TTL. It
// returns false when another owner holds a live lease. Re-acquiring an
// owned lease refreshes its expiry.
func (s *Store) AcquireLease(owner string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()

	value, ok, err := s.Meta(models.MetaKeySyncLease)
	if err != nil {
		return false, err
	}

	if ok {
		var lease models.SyncLease
		if err := json.Unmarshal([]byte(value), &lease); err == nil {
			if lease.Owner != owner && lease.Live(now) {
				return false, nil
			}
		}
		// Corrupt, expired or our own lease: fall through and overwrite.
	}

	lease := models.SyncLease{Owner: owner, ExpiresAt: now.Add(ttl)}
	data, err := json.Marshal(lease)
	if err != nil {
		return false, fmt.Errorf("failed to marshal sync lease: %w", err)
	}
	if err := s.SetMeta(models.MetaKeySyncLease, string(data)); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLease drops the sync lease if owner holds it.
func (s *Store) ReleaseLease(owner string) error {
	value, ok, err := s.Meta(models.MetaKeySyncLease)
	if err != nil || !ok {
		return err
	}

	var lease models.SyncLease
	if err := json.Unmarshal([]byte(value), &lease); err != nil || lease.Owner != owner {
		return nil
	}
	return s.DeleteMeta(models.MetaKeySyncLease)
}
