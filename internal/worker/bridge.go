// Package worker bridges the offline core to a cooperating background
// worker process over WebSocket. Inbound typed messages trigger the same
// sync entry points the other triggers converge on; queue events are
// pushed outbound so the worker can update its own state. When no worker
// ever connects the core degrades gracefully to online-event-driven sync.
package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Whitemarmot/cinq-offline/internal/events"
	"github.com/Whitemarmot/cinq-offline/internal/logging"
	"github.com/Whitemarmot/cinq-offline/internal/syncer"
)

// Envelope wraps all bridge messages in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Inbound message types from the worker.
const (
	MsgSyncMessages = "SYNC_MESSAGES"
	MsgSyncActions  = "SYNC_ACTIONS"
	MsgSyncStatus   = "SYNC_STATUS"
)

// Outbound message types to the worker.
const (
	MsgSyncResult = "SYNC_RESULT"
	MsgStatus     = "STATUS"
	MsgEvent      = "EVENT"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bridge only serves local worker processes
		return true
	},
}

// client represents one connected worker.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Bridge maintains worker connections and routes sync triggers.
type Bridge struct {
	scheduler *syncer.Scheduler

	mu      sync.RWMutex
	clients map[string]*client
}

// NewBridge creates a new Bridge.
func NewBridge(scheduler *syncer.Scheduler) *Bridge {
	return &Bridge{
		scheduler: scheduler,
		clients:   make(map[string]*client),
	}
}

// Run forwards bus events to all connected workers until ctx is done.
func (b *Bridge) Run(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b.broadcast(MsgEvent, ev)
		}
	}
}

// Handler returns the HTTP handler upgrading worker connections.
func (b *Bridge) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error("Worker upgrade failed", err)
			return
		}

		c := &client{
			id:   uuid.New().String(),
			send: make(chan []byte, 64),
			conn: conn,
		}

		b.mu.Lock()
		b.clients[c.id] = c
		total := len(b.clients)
		b.mu.Unlock()

		logging.Info("Worker connected",
			map[string]interface{}{"worker_id": c.id, "total": total})

		go b.writeLoop(c)
		b.readLoop(r.Context(), c)
	}
}

// WorkerCount returns the number of connected workers.
func (b *Bridge) WorkerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// readLoop handles inbound envelopes until the connection drops.
func (b *Bridge) readLoop(ctx context.Context, c *client) {
	defer b.drop(c)

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("Worker connection error",
					map[string]interface{}{"worker_id": c.id, "error": err.Error()})
			}
			return
		}

		b.handle(ctx, c, env)
	}
}

// handle dispatches one inbound envelope.
func (b *Bridge) handle(ctx context.Context, c *client, env Envelope) {
	switch env.Type {
	case MsgSyncMessages, MsgSyncActions:
		result, err := b.scheduler.TriggerSync(ctx)
		reply := syncResultData{Sent: result.Sent, Failed: result.Failed}
		if err != nil {
			reply.Error = err.Error()
		}
		b.send(c, MsgSyncResult, reply)

	case MsgSyncStatus:
		status, err := b.scheduler.Status()
		if err != nil {
			b.send(c, MsgStatus, syncResultData{Error: err.Error()})
			return
		}
		b.send(c, MsgStatus, status)

	default:
		logging.Debug("Ignoring unknown worker message",
			map[string]interface{}{"type": env.Type})
	}
}

type syncResultData struct {
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
	Error  string `json:"error,omitempty"`
}

// writeLoop flushes the client's send channel to the socket.
func (b *Bridge) writeLoop(c *client) {
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// send queues one envelope for a single client.
func (b *Bridge) send(c *client, msgType string, data interface{}) {
	payload, err := encode(msgType, data)
	if err != nil {
		logging.Error("Failed to encode worker message", err)
		return
	}

	select {
	case c.send <- payload:
	default:
		// Client send buffer is full, drop the message
	}
}

// broadcast queues one envelope for every connected client.
func (b *Bridge) broadcast(msgType string, data interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.clients) == 0 {
		return
	}

	payload, err := encode(msgType, data)
	if err != nil {
		logging.Error("Failed to encode worker broadcast", err)
		return
	}

	for _, c := range b.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// drop unregisters a client and closes its connection.
func (b *Bridge) drop(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c.id]; ok {
		delete(b.clients, c.id)
		close(c.send)
	}
	total := len(b.clients)
	b.mu.Unlock()

	c.conn.Close()
	logging.Info("Worker disconnected",
		map[string]interface{}{"worker_id": c.id, "total": total})
}

func encode(msgType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now().Unix(),
	})
}
