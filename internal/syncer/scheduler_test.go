package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Whitemarmot/cinq-offline/internal/events"
)

func newTestScheduler(t *testing.T, endpoint string) (*Scheduler, *events.Bus) {
	t.Helper()

	st, bus := newTestStore(t)
	engine := NewEngine(st, bus, staticToken("tok"), Config{MessagesEndpoint: endpoint})
	return NewScheduler(engine, st, bus, SchedulerConfig{}), bus
}

// TestSchedulerStartStop verifies the loop lifecycle is idempotent.
func TestSchedulerStartStop(t *testing.T) {
	scheduler, _ := newTestScheduler(t, "http://unused.invalid")

	if scheduler.IsRunning() {
		t.Fatal("Expected scheduler stopped initially")
	}

	ctx := context.Background()
	scheduler.Start(ctx)
	scheduler.Start(ctx) // second start is a no-op
	if !scheduler.IsRunning() {
		t.Fatal("Expected scheduler running")
	}

	scheduler.Stop()
	scheduler.Stop() // second stop is a no-op
	if scheduler.IsRunning() {
		t.Error("Expected scheduler stopped")
	}
}

// TestSetOnlinePublishesTransitions verifies only real transitions emit
// online-changed.
func TestSetOnlinePublishesTransitions(t *testing.T) {
	scheduler, bus := newTestScheduler(t, "http://unused.invalid")
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	ctx := context.Background()

	scheduler.SetOnline(ctx, true) // already online: no event
	select {
	case ev := <-ch:
		t.Fatalf("Expected no event for a non-transition, got %+v", ev)
	default:
	}

	scheduler.SetOnline(ctx, false)
	if scheduler.IsOnline() {
		t.Error("Expected offline")
	}

	select {
	case ev := <-ch:
		if ev.Type != events.TypeOnlineChanged || ev.Online == nil || ev.Online.Online {
			t.Errorf("Unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for online-changed")
	}
}

// TestOnlineRestoreDrains verifies coming back online triggers a drain.
func TestOnlineRestoreDrains(t *testing.T) {
	drained := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case drained <- struct{}{}:
		default:
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"message": map[string]string{"id": "srv-1"},
		})
	}))
	defer server.Close()

	st, bus := newTestStore(t)
	engine := NewEngine(st, bus, staticToken("tok"), Config{MessagesEndpoint: server.URL})
	scheduler := NewScheduler(engine, st, bus, SchedulerConfig{})

	st.QueueMessage("u1", "hi", false)

	ctx := context.Background()
	scheduler.SetOnline(ctx, false)
	scheduler.SetOnline(ctx, true)

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a drain after connectivity restore")
	}
}

// TestTriggerSyncAndStatus verifies the status aggregate tracks the queue
// through a drain.
func TestTriggerSyncAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"message": map[string]string{"id": "srv-1"},
		})
	}))
	defer server.Close()

	st, bus := newTestStore(t)
	engine := NewEngine(st, bus, staticToken("tok"), Config{MessagesEndpoint: server.URL})
	scheduler := NewScheduler(engine, st, bus, SchedulerConfig{})

	st.QueueMessage("u1", "hi", false)

	status, err := scheduler.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.PendingMessages != 1 || status.Total() != 1 {
		t.Errorf("Expected 1 pending, got %+v", status)
	}
	if !status.IsOnline || status.Syncing {
		t.Errorf("Unexpected flags: %+v", status)
	}
	if status.LastSync != nil {
		t.Error("Expected no last sync yet")
	}

	result, err := scheduler.TriggerSync(context.Background())
	if err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}
	if result.Sent != 1 {
		t.Errorf("Expected 1 sent, got %+v", result)
	}

	status, err = scheduler.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Total() != 0 {
		t.Errorf("Expected empty queue, got %+v", status)
	}
	if status.LastSync == nil {
		t.Error("Expected last sync after a successful drain")
	}
}
