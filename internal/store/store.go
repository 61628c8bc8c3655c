// Package store provides CRUD operations over the offline collections:
// the pending message queue, the contacts snapshot cache, the generic
// action queue, the sent log and sync metadata. All mutation of those
// tables goes through this package; the sync engine and the queueing
// surface never touch SQL directly.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Whitemarmot/cinq-offline/internal/db"
	apperrors "github.com/Whitemarmot/cinq-offline/internal/errors"
	"github.com/Whitemarmot/cinq-offline/internal/events"
	"github.com/Whitemarmot/cinq-offline/internal/models"
)

// timeFormat is the on-disk timestamp representation.
const timeFormat = time.RFC3339Nano

// DefaultMaxRetries bounds send attempts per message before it is
// dead-lettered into the terminal failed state.
const DefaultMaxRetries = 10

// Store provides access to the offline collections.
type Store struct {
	db  *db.DB
	bus *events.Bus

	// MaxRetries is stamped onto newly queued messages and actions.
	MaxRetries int

	// now is swappable for tests.
	now func() time.Time
}

// New creates a new Store. The bus may be nil; events are then discarded.
func New(database *db.DB, bus *events.Bus) *Store {
	return &Store{
		db:         database,
		bus:        bus,
		MaxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
}

// publish emits an event when a bus is attached.
func (s *Store) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// =====================================================
// Message Queue Operations
// =====================================================

// QueueMessage persists an outgoing message with status pending and a
// client-generated idempotency key, registers the message sync tag and
// emits message-queued. Returns the stored row with its assigned local id.
func (s *Store) QueueMessage(contactID, content string, isPing bool) (*models.QueuedMessage, error) {
	if contactID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "contact id is required")
	}

	now := s.now().UTC()
	msg := &models.QueuedMessage{
		ClientID:   uuid.New().String(),
		ContactID:  contactID,
		Content:    content,
		IsPing:     isPing,
		Status:     models.MessageStatusPending,
		MaxRetries: s.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	query := `
	INSERT INTO pending_messages (client_id, contact_id, content, is_ping, status, retries, max_retries, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`
	res, err := s.db.Exec(query, msg.ClientID, msg.ContactID, nullString(msg.Content),
		msg.IsPing, msg.Status, msg.MaxRetries,
		now.Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to queue message: %w", err)
	}

	msg.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read assigned message id: %w", err)
	}

	if err := s.RegisterSyncTag(TagSyncMessages); err != nil {
		return nil, err
	}

	s.publish(events.Event{
		Type: events.TypeMessageQueued,
		Message: &events.MessagePayload{
			ID:        msg.ID,
			ClientID:  msg.ClientID,
			ContactID: msg.ContactID,
			Status:    string(msg.Status),
		},
	})

	return msg, nil
}

// PendingMessages returns all pending messages in insertion order.
func (s *Store) PendingMessages() ([]*models.QueuedMessage, error) {
	return s.messagesByStatus(models.MessageStatusPending)
}

// DeadLetterMessages returns all permanently failed messages.
func (s *Store) DeadLetterMessages() ([]*models.QueuedMessage, error) {
	return s.messagesByStatus(models.MessageStatusFailed)
}

func (s *Store) messagesByStatus(status models.MessageStatus) ([]*models.QueuedMessage, error) {
	query := `
	SELECT id, client_id, contact_id, content, is_ping, status, retries, max_retries, last_error, created_at, updated_at
	FROM pending_messages WHERE status = ? ORDER BY id
	`
	rows, err := s.db.Query(query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.QueuedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Message returns a single queued message by local id.
func (s *Store) Message(id int64) (*models.QueuedMessage, error) {
	query := `
	SELECT id, client_id, contact_id, content, is_ping, status, retries, max_retries, last_error, created_at, updated_at
	FROM pending_messages WHERE id = ?
	`
	msg, err := scanMessage(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("message %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// QueuedCount returns the number of messages with status pending.
func (s *Store) QueuedCount() (int, error) {
	return s.countWhere("pending_messages", string(models.MessageStatusPending))
}

// FailedMessageCount returns the number of dead-lettered messages.
func (s *Store) FailedMessageCount() (int, error) {
	return s.countWhere("pending_messages", string(models.MessageStatusFailed))
}

// UpdateMessageStatus transitions a message, stamps updated_at and emits
// message-status-changed. Extra fields are merged when non-nil. Fails with
// NOT_FOUND if the id does not exist.
func (s *Store) UpdateMessageStatus(id int64, status models.MessageStatus, extra *MessageUpdate) error {
	now := s.now().UTC()

	query := "UPDATE pending_messages SET status = ?, updated_at = ?"
	args := []interface{}{status, now.Format(timeFormat)}

	if extra != nil {
		if extra.Retries != nil {
			query += ", retries = ?"
			args = append(args, *extra.Retries)
		}
		if extra.LastError != nil {
			query += ", last_error = ?"
			args = append(args, nullString(*extra.LastError))
		}
	}

	query += " WHERE id = ?"
	args = append(args, id)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("message %d not found", id))
	}

	s.publish(events.Event{
		Type:    events.TypeMessageStatusChanged,
		Message: &events.MessagePayload{ID: id, Status: string(status)},
	})

	return nil
}

// MessageUpdate holds optional fields merged by UpdateMessageStatus.
type MessageUpdate struct {
	Retries   *int
	LastError *string
}

// RecordSendFailure reverts a message to pending after a failed delivery
// attempt, incrementing retries and recording the error. Once retries
// reach the per-message cap the row transitions to the terminal failed
// state instead and leaves the drain set. Returns the resulting status.
func (s *Store) RecordSendFailure(id int64, sendErr string) (models.MessageStatus, error) {
	msg, err := s.Message(id)
	if err != nil {
		return "", err
	}

	retries := msg.Retries + 1
	status := models.MessageStatusPending
	if msg.MaxRetries > 0 && retries >= msg.MaxRetries {
		status = models.MessageStatusFailed
	}

	if err := s.UpdateMessageStatus(id, status, &MessageUpdate{
		Retries:   &retries,
		LastError: &sendErr,
	}); err != nil {
		return "", err
	}

	return status, nil
}

// CompleteMessage records a successful delivery: in one transaction the
// message is copied to the sent log and removed from the queue. Emits
// message-sent. Fails with NOT_FOUND if the id does not exist.
func (s *Store) CompleteMessage(id int64, serverMessageID string) error {
	msg, err := s.Message(id)
	if err != nil {
		return err
	}

	now := s.now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO sent_log (client_id, contact_id, server_message_id, sent_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, msg.ClientID, msg.ContactID, nullString(serverMessageID), now.Format(timeFormat)); err != nil {
		return fmt.Errorf("failed to record sent message: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM pending_messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove delivered message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delivery: %w", err)
	}

	s.publish(events.Event{
		Type: events.TypeMessageSent,
		Message: &events.MessagePayload{
			ID:              id,
			ClientID:        msg.ClientID,
			ContactID:       msg.ContactID,
			Status:          string(models.MessageStatusSent),
			ServerMessageID: serverMessageID,
		},
	})

	return nil
}

// RemoveSentMessage hard-deletes a queued message. Removing an id that
// does not exist is a no-op, never an error.
func (s *Store) RemoveSentMessage(id int64) error {
	res, err := s.db.Exec("DELETE FROM pending_messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove message: %w", err)
	}

	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		s.publish(events.Event{
			Type:    events.TypeMessageRemoved,
			Message: &events.MessagePayload{ID: id},
		})
	}

	return nil
}

// RetryFailed resets all dead-lettered messages and actions to pending so
// the next pass picks them up again. Returns the number of rows re-armed.
func (s *Store) RetryFailed() (int, error) {
	now := s.now().UTC().Format(timeFormat)

	res, err := s.db.Exec(
		"UPDATE pending_messages SET status = ?, retries = 0, last_error = NULL, updated_at = ? WHERE status = ?",
		models.MessageStatusPending, now, models.MessageStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed messages: %w", err)
	}
	messages, _ := res.RowsAffected()

	res, err = s.db.Exec(
		"UPDATE pending_actions SET status = ?, retries = 0, last_error = NULL WHERE status = ?",
		models.ActionStatusPending, models.ActionStatusFailed)
	if err != nil {
		return int(messages), fmt.Errorf("failed to reset failed actions: %w", err)
	}
	actions, _ := res.RowsAffected()

	return int(messages + actions), nil
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*models.QueuedMessage, error) {
	var msg models.QueuedMessage
	var content, lastError sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&msg.ID, &msg.ClientID, &msg.ContactID, &content, &msg.IsPing,
		&msg.Status, &msg.Retries, &msg.MaxRetries, &lastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	msg.Content = content.String
	msg.LastError = lastError.String
	msg.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	msg.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &msg, nil
}

// =====================================================
// Pending Action Operations
// =====================================================

// QueueAction persists a generic HTTP replay with status pending,
// registers the action sync tag and emits action-queued. Priority 1 is the
// most urgent; non-positive priorities take the default.
func (s *Store) QueueAction(kind, endpoint, method string, body json.RawMessage, priority int) (*models.PendingAction, error) {
	if kind == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "action type is required")
	}
	if endpoint == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "action endpoint is required")
	}
	if method == "" {
		method = "POST"
	}
	if priority <= 0 {
		priority = models.DefaultActionPriority
	}

	now := s.now().UTC()
	action := &models.PendingAction{
		Type:      kind,
		Endpoint:  endpoint,
		Method:    method,
		Body:      body,
		Priority:  priority,
		Status:    models.ActionStatusPending,
		CreatedAt: now,
	}

	query := `
	INSERT INTO pending_actions (type, endpoint, method, body, priority, status, retries, created_at)
	VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`
	var bodyArg interface{}
	if len(body) > 0 {
		bodyArg = string(body)
	}
	res, err := s.db.Exec(query, action.Type, action.Endpoint, action.Method, bodyArg,
		action.Priority, action.Status, now.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to queue action: %w", err)
	}

	action.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read assigned action id: %w", err)
	}

	if err := s.RegisterSyncTag(TagSyncActions); err != nil {
		return nil, err
	}

	s.publish(events.Event{
		Type:   events.TypeActionQueued,
		Action: &events.ActionPayload{ID: action.ID, Kind: action.Type},
	})

	return action, nil
}

// PendingActions returns pending actions in ascending priority order.
// Actions with equal priority keep insertion order.
func (s *Store) PendingActions() ([]*models.PendingAction, error) {
	query := `
	SELECT id, type, endpoint, method, body, priority, status, retries, last_error, created_at
	FROM pending_actions WHERE status = ? ORDER BY priority, id
	`
	rows, err := s.db.Query(query, models.ActionStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.PendingAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// PendingActionCount returns the number of actions with status pending.
func (s *Store) PendingActionCount() (int, error) {
	return s.countWhere("pending_actions", string(models.ActionStatusPending))
}

// RecordActionFailure increments an action's retry count and records the
// error; at the cap the action is dead-lettered like a message.
func (s *Store) RecordActionFailure(id int64, actionErr string) (models.ActionStatus, error) {
	var retries int
	err := s.db.QueryRow("SELECT retries FROM pending_actions WHERE id = ?", id).Scan(&retries)
	if err == sql.ErrNoRows {
		return "", apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("action %d not found", id))
	}
	if err != nil {
		return "", fmt.Errorf("failed to get action: %w", err)
	}

	retries++
	status := models.ActionStatusPending
	if s.MaxRetries > 0 && retries >= s.MaxRetries {
		status = models.ActionStatusFailed
	}

	_, err = s.db.Exec("UPDATE pending_actions SET status = ?, retries = ?, last_error = ? WHERE id = ?",
		status, retries, nullString(actionErr), id)
	if err != nil {
		return "", fmt.Errorf("failed to record action failure: %w", err)
	}

	return status, nil
}

// RemoveAction hard-deletes a queued action. Idempotent.
func (s *Store) RemoveAction(id int64) error {
	res, err := s.db.Exec("DELETE FROM pending_actions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove action: %w", err)
	}

	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		s.publish(events.Event{
			Type:   events.TypeActionCompleted,
			Action: &events.ActionPayload{ID: id},
		})
	}

	return nil
}

func scanAction(row scanner) (*models.PendingAction, error) {
	var action models.PendingAction
	var body, lastError sql.NullString
	var createdAt string

	err := row.Scan(&action.ID, &action.Type, &action.Endpoint, &action.Method, &body,
		&action.Priority, &action.Status, &action.Retries, &lastError, &createdAt)
	if err != nil {
		return nil, err
	}

	if body.Valid {
		action.Body = json.RawMessage(body.String)
	}
	action.LastError = lastError.String
	action.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return &action, nil
}

// =====================================================
// Contacts Cache Operations
// =====================================================

// CacheContacts replaces the entire contact cache with the given snapshot
// inside one transaction. Readers never observe a partial mix of the old
// and new snapshots.
func (s *Store) CacheContacts(contacts []models.CachedContact) error {
	now := s.now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM contacts_cache"); err != nil {
		return fmt.Errorf("failed to clear contact cache: %w", err)
	}

	query := `INSERT INTO contacts_cache (id, email, display_name, cached_at) VALUES (?, ?, ?, ?)`
	for _, contact := range contacts {
		if _, err := tx.Exec(query, contact.ID, contact.Email, nullString(contact.DisplayName), now.Format(timeFormat)); err != nil {
			return fmt.Errorf("failed to cache contact %s: %w", contact.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact cache: %w", err)
	}

	s.publish(events.Event{
		Type:     events.TypeContactsCached,
		Contacts: &events.ContactsPayload{Count: len(contacts)},
	})

	return nil
}

// CachedContacts returns the current contact snapshot.
func (s *Store) CachedContacts() ([]models.CachedContact, error) {
	rows, err := s.db.Query("SELECT id, email, display_name, cached_at FROM contacts_cache ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("failed to list cached contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.CachedContact
	for rows.Next() {
		var contact models.CachedContact
		var displayName sql.NullString
		var cachedAt string
		if err := rows.Scan(&contact.ID, &contact.Email, &displayName, &cachedAt); err != nil {
			return nil, err
		}
		contact.DisplayName = displayName.String
		contact.CachedAt, _ = time.Parse(timeFormat, cachedAt)
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}

// =====================================================
// Sent Log Operations
// =====================================================

// SentLog returns the most recent delivery audit rows, newest first.
func (s *Store) SentLog(limit int) ([]models.SentMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		"SELECT id, client_id, contact_id, server_message_id, sent_at FROM sent_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent log: %w", err)
	}
	defer rows.Close()

	var sent []models.SentMessage
	for rows.Next() {
		var row models.SentMessage
		var serverID sql.NullString
		var sentAt string
		if err := rows.Scan(&row.ID, &row.ClientID, &row.ContactID, &serverID, &sentAt); err != nil {
			return nil, err
		}
		row.ServerMessageID = serverID.String
		row.SentAt, _ = time.Parse(timeFormat, sentAt)
		sent = append(sent, row)
	}
	return sent, rows.Err()
}

// ClearSentLog removes all delivery audit rows.
func (s *Store) ClearSentLog() error {
	_, err := s.db.Exec("DELETE FROM sent_log")
	if err != nil {
		return fmt.Errorf("failed to clear sent log: %w", err)
	}
	return nil
}

// =====================================================
// Helpers
// =====================================================

func (s *Store) countWhere(table, status string) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = ?", table)
	if err := s.db.QueryRow(query, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
