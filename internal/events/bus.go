// Package events provides a typed publish/subscribe bus decoupling store
// mutations from their observers. Delivery is fire-and-forget: there is no
// buffering for late subscribers and a slow subscriber drops events rather
// than blocking the publisher. All state is re-derivable from the store.
package events

import (
	"sync"
	"time"
)

// Type discriminates event payloads.
type Type string

const (
	TypeMessageQueued        Type = "message-queued"
	TypeMessageStatusChanged Type = "message-status-changed"
	TypeMessageSent          Type = "message-sent"
	TypeMessageRemoved       Type = "message-removed"
	TypeActionQueued         Type = "action-queued"
	TypeActionCompleted      Type = "action-completed"
	TypeSyncComplete         Type = "sync-complete"
	TypeContactsCached       Type = "contacts-cached"
	TypeOnlineChanged        Type = "online-changed"
)

// MessagePayload carries message lifecycle details.
type MessagePayload struct {
	ID              int64  `json:"id"`
	ClientID        string `json:"client_id,omitempty"`
	ContactID       string `json:"contact_id,omitempty"`
	Status          string `json:"status,omitempty"`
	ServerMessageID string `json:"server_message_id,omitempty"`
}

// ActionPayload carries action lifecycle details.
type ActionPayload struct {
	ID   int64  `json:"id"`
	Kind string `json:"kind,omitempty"`
}

// SyncPayload carries the aggregate result of one sync pass.
type SyncPayload struct {
	Kind   string `json:"kind"` // "messages" or "actions"
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

// ContactsPayload carries the size of a cache replacement.
type ContactsPayload struct {
	Count int `json:"count"`
}

// OnlinePayload carries a connectivity transition.
type OnlinePayload struct {
	Online bool `json:"online"`
}

// Event is the union of all bus notifications. Exactly one payload field
// matching Type is set.
type Event struct {
	Type      Type             `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Message   *MessagePayload  `json:"message,omitempty"`
	Action    *ActionPayload   `json:"action,omitempty"`
	Sync      *SyncPayload     `json:"sync,omitempty"`
	Contacts  *ContactsPayload `json:"contacts,omitempty"`
	Online    *OnlinePayload   `json:"online,omitempty"`
}

// Bus fans events out to all current subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates a new Bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns its event channel plus a cancel function. Events published while
// the buffer is full are dropped for that subscriber.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer is full, drop the event for it
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
