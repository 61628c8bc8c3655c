// Package syncer drains the offline queues against the network. One pass
// processes items strictly sequentially to preserve per-conversation
// ordering of sent messages; per-item failures are converted into retry
// state and never abort the rest of the pass.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Whitemarmot/cinq-offline/internal/errors"
	"github.com/Whitemarmot/cinq-offline/internal/events"
	"github.com/Whitemarmot/cinq-offline/internal/logging"
	"github.com/Whitemarmot/cinq-offline/internal/models"
	"github.com/Whitemarmot/cinq-offline/internal/store"
)

// TokenSource supplies the bearer token for outgoing requests. A nil or
// empty token is a recoverable per-item failure for messages and simply
// omits the header for generic actions.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func(ctx context.Context) (string, error)

// AccessToken implements TokenSource.
func (f TokenFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// Config holds engine settings.
type Config struct {
	// MessagesEndpoint is the absolute URL messages are posted to.
	MessagesEndpoint string
	// ActionBaseURL prefixes relative action endpoints.
	ActionBaseURL string
	// RequestTimeout bounds each delivery attempt.
	RequestTimeout time.Duration
	// LeaseTTL is how long a drain pass holds the sync lease.
	LeaseTTL time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		LeaseTTL:       2 * time.Minute,
	}
}

// Result aggregates one sync pass.
type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Engine drains pending messages and actions.
type Engine struct {
	store  *store.Store
	bus    *events.Bus
	tokens TokenSource
	client *http.Client
	cfg    Config

	// owner identifies this process for the sync lease.
	owner string

	mu         sync.Mutex
	inProgress bool
}

// NewEngine creates a new Engine.
func NewEngine(st *store.Store, bus *events.Bus, tokens TokenSource, cfg Config) *Engine {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultConfig().LeaseTTL
	}

	return &Engine{
		store:  st,
		bus:    bus,
		tokens: tokens,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:    cfg,
		owner:  uuid.New().String(),
	}
}

// Syncing reports whether a pass is currently running.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inProgress
}

// begin claims the single-pass slot. Returns false if a pass is running.
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inProgress {
		return false
	}
	e.inProgress = true
	return true
}

func (e *Engine) end() {
	e.mu.Lock()
	e.inProgress = false
	e.mu.Unlock()
}

// SyncAll drains messages then actions in one leased pass. This is the
// entry point all triggers (explicit, connectivity restore, worker
// message) converge on.
func (e *Engine) SyncAll(ctx context.Context) (Result, error) {
	if !e.begin() {
		return Result{}, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer e.end()

	acquired, err := e.store.AcquireLease(e.owner, e.cfg.LeaseTTL)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		return Result{}, apperrors.New(apperrors.ErrLeaseHeld, "another process is draining the queue")
	}
	defer e.store.ReleaseLease(e.owner)

	messages, err := e.syncMessages(ctx)
	if err != nil {
		return messages, err
	}

	actions, err := e.syncActions(ctx)
	total := Result{
		Sent:   messages.Sent + actions.Sent,
		Failed: messages.Failed + actions.Failed,
	}
	return total, err
}

// SyncMessages drains only the message queue in one leased pass.
func (e *Engine) SyncMessages(ctx context.Context) (Result, error) {
	if !e.begin() {
		return Result{}, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer e.end()

	acquired, err := e.store.AcquireLease(e.owner, e.cfg.LeaseTTL)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		return Result{}, apperrors.New(apperrors.ErrLeaseHeld, "another process is draining the queue")
	}
	defer e.store.ReleaseLease(e.owner)

	return e.syncMessages(ctx)
}

// SyncActions drains only the action queue in one leased pass.
func (e *Engine) SyncActions(ctx context.Context) (Result, error) {
	if !e.begin() {
		return Result{}, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer e.end()

	acquired, err := e.store.AcquireLease(e.owner, e.cfg.LeaseTTL)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		return Result{}, apperrors.New(apperrors.ErrLeaseHeld, "another process is draining the queue")
	}
	defer e.store.ReleaseLease(e.owner)

	return e.syncActions(ctx)
}

// syncMessages runs one message drain pass. The pending set is a snapshot:
// messages enqueued mid-pass wait for the next one.
func (e *Engine) syncMessages(ctx context.Context) (Result, error) {
	var result Result

	messages, err := e.store.PendingMessages()
	if err != nil {
		return result, err
	}

	if len(messages) == 0 {
		logging.Debug("No messages to sync")
		return result, nil
	}

	logging.Info("Syncing messages", map[string]interface{}{"count": len(messages)})

	for _, msg := range messages {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := e.sendMessage(ctx, msg); err != nil {
			status, recordErr := e.store.RecordSendFailure(msg.ID, err.Error())
			if recordErr != nil {
				logging.Error("Failed to record send failure", recordErr,
					map[string]interface{}{"message_id": msg.ID})
			} else if status == models.MessageStatusFailed {
				logging.Warn("Message dead-lettered after max retries",
					map[string]interface{}{"message_id": msg.ID, "error": err.Error()})
			}
			result.Failed++
			continue
		}
		result.Sent++
	}

	if result.Sent > 0 {
		if err := e.store.SetLastSync(time.Now()); err != nil {
			logging.Error("Failed to record last sync time", err)
		}
	}
	e.clearTagIfDrained(store.TagSyncMessages)

	logging.Info("Message sync complete",
		map[string]interface{}{"sent": result.Sent, "failed": result.Failed})

	e.publishSyncComplete("messages", result)
	return result, nil
}

// sendMessage performs one delivery attempt: mark sending, fetch a token,
// post, and on success move the row to the sent log.
func (e *Engine) sendMessage(ctx context.Context, msg *models.QueuedMessage) error {
	if err := e.store.UpdateMessageStatus(msg.ID, models.MessageStatusSending, nil); err != nil {
		return err
	}

	token, err := e.tokens.AccessToken(ctx)
	if err != nil || token == "" {
		return apperrors.New(apperrors.ErrNoAuthToken, "No auth token")
	}

	payload := messageRequest{
		ContactID: msg.ContactID,
		IsPing:    msg.IsPing,
		ClientID:  msg.ClientID,
	}
	if msg.Content != "" {
		payload.Content = &msg.Content
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.MessagesEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	var reply messageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reply); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !reply.Success {
		if reply.Error != "" {
			return fmt.Errorf("server rejected message: %s", reply.Error)
		}
		return fmt.Errorf("server rejected message: HTTP %d", resp.StatusCode)
	}

	return e.store.CompleteMessage(msg.ID, reply.Message.ID)
}

// messageRequest is the wire body for the messages endpoint.
type messageRequest struct {
	ContactID string  `json:"contact_id"`
	Content   *string `json:"content,omitempty"`
	IsPing    bool    `json:"is_ping,omitempty"`
	ClientID  string  `json:"client_id"`
}

// messageResponse is the reply from the messages endpoint.
type messageResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message struct {
		ID string `json:"id"`
	} `json:"message"`
}

// syncActions runs one action drain pass in ascending priority order.
// Success is judged purely by HTTP-ok status.
func (e *Engine) syncActions(ctx context.Context) (Result, error) {
	var result Result

	actions, err := e.store.PendingActions()
	if err != nil {
		return result, err
	}

	if len(actions) == 0 {
		return result, nil
	}

	logging.Info("Syncing actions", map[string]interface{}{"count": len(actions)})

	for _, action := range actions {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := e.replayAction(ctx, action); err != nil {
			if _, recordErr := e.store.RecordActionFailure(action.ID, err.Error()); recordErr != nil {
				logging.Error("Failed to record action failure", recordErr,
					map[string]interface{}{"action_id": action.ID})
			}
			result.Failed++
			continue
		}

		if err := e.store.RemoveAction(action.ID); err != nil {
			logging.Error("Failed to remove completed action", err,
				map[string]interface{}{"action_id": action.ID})
		}
		result.Sent++
	}

	e.clearTagIfDrained(store.TagSyncActions)

	logging.Info("Action sync complete",
		map[string]interface{}{"succeeded": result.Sent, "failed": result.Failed})

	e.publishSyncComplete("actions", result)
	return result, nil
}

// replayAction re-issues one stored HTTP call. The bearer header is added
// when a token is available but its absence does not fail the action.
func (e *Engine) replayAction(ctx context.Context, action *models.PendingAction) error {
	var body io.Reader
	if len(action.Body) > 0 {
		body = bytes.NewReader(action.Body)
	}

	req, err := http.NewRequestWithContext(ctx, action.Method, e.resolveEndpoint(action.Endpoint), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if token, err := e.tokens.AccessToken(ctx); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to replay action: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// resolveEndpoint prefixes relative endpoints with the configured base.
func (e *Engine) resolveEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return strings.TrimSuffix(e.cfg.ActionBaseURL, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

// clearTagIfDrained drops a registered sync tag once its queue is empty.
func (e *Engine) clearTagIfDrained(tag string) {
	var count int
	var err error

	switch tag {
	case store.TagSyncMessages:
		count, err = e.store.QueuedCount()
	case store.TagSyncActions:
		count, err = e.store.PendingActionCount()
	}
	if err != nil || count > 0 {
		return
	}
	if err := e.store.ClearSyncTag(tag); err != nil {
		logging.Error("Failed to clear sync tag", err, map[string]interface{}{"tag": tag})
	}
}

func (e *Engine) publishSyncComplete(kind string, result Result) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Type: events.TypeSyncComplete,
		Sync: &events.SyncPayload{Kind: kind, Sent: result.Sent, Failed: result.Failed},
	})
}
