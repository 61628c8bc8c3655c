package syncer

import (
	"time"

	"github.com/Whitemarmot/cinq-offline/internal/store"
)

// Status is the read-side aggregate consumed by the badge UI, the CLI and
// the HTTP API. Computing it never mutates anything.
type Status struct {
	PendingMessages int        `json:"pending_messages"`
	PendingActions  int        `json:"pending_actions"`
	FailedMessages  int        `json:"failed_messages"`
	LastSync        *time.Time `json:"last_sync,omitempty"`
	IsOnline        bool       `json:"is_online"`
	Syncing         bool       `json:"syncing"`
}

// Total returns the overall queue depth shown on the indicator badge.
func (s Status) Total() int {
	return s.PendingMessages + s.PendingActions
}

// CollectStatus computes the current aggregate from the store.
func CollectStatus(st *store.Store, isOnline, syncing bool) (Status, error) {
	status := Status{IsOnline: isOnline, Syncing: syncing}

	var err error
	if status.PendingMessages, err = st.QueuedCount(); err != nil {
		return status, err
	}
	if status.PendingActions, err = st.PendingActionCount(); err != nil {
		return status, err
	}
	if status.FailedMessages, err = st.FailedMessageCount(); err != nil {
		return status, err
	}

	lastSync, ok, err := st.LastSync()
	if err != nil {
		return status, err
	}
	if ok {
		status.LastSync = &lastSync
	}

	return status, nil
}
