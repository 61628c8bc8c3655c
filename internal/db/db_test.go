package db

import (
	"testing"
)

// TestOpenCreatesSchema verifies opening migrates to the latest version.
func TestOpenCreatesSchema(t *testing.T) {
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close()

	version, err := NewMigrator(database.DB).CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected schema version 2, got %d", version)
	}

	// All five tables must exist
	for _, table := range []string{"pending_messages", "contacts_cache", "pending_actions", "sync_meta", "sent_log"} {
		var name string
		err := database.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Expected table %s to exist: %v", table, err)
		}
	}
}

// TestOpenSingleFlight verifies concurrent/repeated opens share one handle.
func TestOpenSingleFlight(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer first.Close()

	second, err := Open(dir)
	if err != nil {
		t.Fatalf("Second Open failed: %v", err)
	}

	if first != second {
		t.Error("Expected both opens to return the same handle")
	}
}

// TestOpenReopensAfterClose verifies Close releases the shared handle.
func TestOpenReopensAfterClose(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := Open(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer second.Close()

	if first == second {
		t.Error("Expected a fresh handle after Close")
	}
}

// TestMigrateIdempotent verifies applying migrations twice is a no-op.
func TestMigrateIdempotent(t *testing.T) {
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close()

	if err := Migrate(database.DB); err != nil {
		t.Fatalf("Second Migrate failed: %v", err)
	}

	applied, err := NewMigrator(database.DB).GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("Expected 2 applied migrations, got %d", len(applied))
	}
	for _, mig := range applied {
		if len(mig.Checksum) != 64 {
			t.Errorf("Expected 64-char checksum for V%d, got %q", mig.Version, mig.Checksum)
		}
	}
}
