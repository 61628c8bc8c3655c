package store

import (
	"testing"
	"time"
)

// TestMetaRoundTrip verifies set, overwrite, get and delete of metadata.
func TestMetaRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)

	if _, ok, err := st.Meta("missing"); err != nil || ok {
		t.Fatalf("Expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := st.SetMeta("k", "v1"); err != nil {
		t.Fatalf("SetMeta failed: %v", err)
	}
	if err := st.SetMeta("k", "v2"); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	value, ok, err := st.Meta("k")
	if err != nil || !ok || value != "v2" {
		t.Fatalf("Expected v2, got %q ok=%v err=%v", value, ok, err)
	}

	if err := st.DeleteMeta("k"); err != nil {
		t.Fatalf("DeleteMeta failed: %v", err)
	}
	if _, ok, _ := st.Meta("k"); ok {
		t.Error("Expected key gone after delete")
	}
	if err := st.DeleteMeta("k"); err != nil {
		t.Errorf("Expected double delete to be a no-op, got %v", err)
	}
}

// TestLastSyncRoundTrip verifies the last sync timestamp survives storage.
func TestLastSyncRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)

	if _, ok, err := st.LastSync(); err != nil || ok {
		t.Fatalf("Expected no last sync yet, got ok=%v err=%v", ok, err)
	}

	stamp := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := st.SetLastSync(stamp); err != nil {
		t.Fatalf("SetLastSync failed: %v", err)
	}

	got, ok, err := st.LastSync()
	if err != nil || !ok {
		t.Fatalf("LastSync failed: ok=%v err=%v", ok, err)
	}
	if !got.Equal(stamp) {
		t.Errorf("Expected %v, got %v", stamp, got)
	}
}

// TestSyncTags verifies tag registration is idempotent and clearable.
func TestSyncTags(t *testing.T) {
	st, _ := newTestStore(t)

	st.RegisterSyncTag(TagSyncMessages)
	st.RegisterSyncTag(TagSyncActions)
	st.RegisterSyncTag(TagSyncMessages)

	tags, err := st.SyncTags()
	if err != nil {
		t.Fatalf("SyncTags failed: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("Expected 2 distinct tags, got %v", tags)
	}

	if err := st.ClearSyncTag(TagSyncMessages); err != nil {
		t.Fatalf("ClearSyncTag failed: %v", err)
	}
	tags, _ = st.SyncTags()
	if len(tags) != 1 || tags[0] != TagSyncActions {
		t.Errorf("Expected only sync-actions left, got %v", tags)
	}

	// Clearing a tag that is not registered is a no-op.
	if err := st.ClearSyncTag("unknown"); err != nil {
		t.Errorf("Expected clearing unknown tag to be a no-op, got %v", err)
	}
}

// TestAcquireLease verifies mutual exclusion between owners.
func TestAcquireLease(t *testing.T) {
	st, _ := newTestStore(t)

	ok, err := st.AcquireLease("proc-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Expected first acquire to succeed: ok=%v err=%v", ok, err)
	}

	ok, err = st.AcquireLease("proc-b", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}
	if ok {
		t.Error("Expected foreign live lease to block acquisition")
	}

	// The holder can refresh its own lease.
	ok, err = st.AcquireLease("proc-a", time.Minute)
	if err != nil || !ok {
		t.Errorf("Expected holder refresh to succeed: ok=%v err=%v", ok, err)
	}
}

// TestAcquireLeaseExpired verifies an expired lease can be taken over.
func TestAcquireLeaseExpired(t *testing.T) {
	st, _ := newTestStore(t)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }

	if ok, _ := st.AcquireLease("proc-a", time.Minute); !ok {
		t.Fatal("Expected first acquire to succeed")
	}

	st.now = func() time.Time { return base.Add(2 * time.Minute) }

	ok, err := st.AcquireLease("proc-b", time.Minute)
	if err != nil || !ok {
		t.Errorf("Expected expired lease takeover to succeed: ok=%v err=%v", ok, err)
	}
}

// TestReleaseLease verifies only the holder can release.
func TestReleaseLease(t *testing.T) {
	st, _ := newTestStore(t)

	st.AcquireLease("proc-a", time.Minute)

	// A non-holder release changes nothing.
	if err := st.ReleaseLease("proc-b"); err != nil {
		t.Fatalf("ReleaseLease failed: %v", err)
	}
	if ok, _ := st.AcquireLease("proc-b", time.Minute); ok {
		t.Fatal("Expected lease still held by proc-a")
	}

	if err := st.ReleaseLease("proc-a"); err != nil {
		t.Fatalf("ReleaseLease failed: %v", err)
	}
	if ok, _ := st.AcquireLease("proc-b", time.Minute); !ok {
		t.Error("Expected acquisition after release")
	}
}

// TestCorruptLeaseOverwritten verifies unparseable lease data never wedges
// the queue.
func TestCorruptLeaseOverwritten(t *testing.T) {
	st, _ := newTestStore(t)

	st.SetMeta("sync_lease", "not json")

	ok, err := st.AcquireLease("proc-a", time.Minute)
	if err != nil || !ok {
		t.Errorf("Expected corrupt lease to be overwritten: ok=%v err=%v", ok, err)
	}
}
