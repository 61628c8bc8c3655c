// Package server exposes the offline core over a local HTTP API: queue
// status, manual sync triggers, queue inspection and the worker bridge
// endpoint. The UI enqueues work through this surface.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apperrors "github.com/Whitemarmot/cinq-offline/internal/errors"
	"github.com/Whitemarmot/cinq-offline/internal/models"
	"github.com/Whitemarmot/cinq-offline/internal/syncer"
)

// Queue is the store surface the API consumes.
type Queue interface {
	QueueMessage(contactID, content string, isPing bool) (*models.QueuedMessage, error)
	QueueAction(kind, endpoint, method string, body json.RawMessage, priority int) (*models.PendingAction, error)
	PendingMessages() ([]*models.QueuedMessage, error)
	PendingActions() ([]*models.PendingAction, error)
	DeadLetterMessages() ([]*models.QueuedMessage, error)
	RetryFailed() (int, error)
	CacheContacts(contacts []models.CachedContact) error
	CachedContacts() ([]models.CachedContact, error)
	SentLog(limit int) ([]models.SentMessage, error)
}

// Server routes the local API.
type Server struct {
	queue     Queue
	scheduler *syncer.Scheduler
	router    chi.Router
}

// New creates a new Server. workerHandler may be nil when no bridge is
// configured.
func New(queue Queue, scheduler *syncer.Scheduler, workerHandler http.HandlerFunc) *Server {
	s := &Server{
		queue:     queue,
		scheduler: scheduler,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.health)
	r.Get("/api/status", s.status)
	r.Post("/api/sync", s.triggerSync)

	r.Route("/api/queue", func(r chi.Router) {
		r.Get("/messages", s.listMessages)
		r.Post("/messages", s.queueMessage)
		r.Get("/actions", s.listActions)
		r.Post("/actions", s.queueAction)
		r.Get("/dead-letters", s.listDeadLetters)
		r.Post("/retry-failed", s.retryFailed)
		r.Get("/sent-log", s.sentLog)
	})

	r.Route("/api/contacts", func(r chi.Router) {
		r.Get("/", s.listContacts)
		r.Post("/cache", s.cacheContacts)
	})

	if workerHandler != nil {
		r.Get("/api/worker", func(w http.ResponseWriter, r *http.Request) {
			workerHandler(w, r)
		})
	}

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// errResponse is the error body for all endpoints.
type errResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// renderError maps application error codes to HTTP statuses.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrSyncInProgress, apperrors.ErrLeaseHeld:
		status = http.StatusConflict
	case apperrors.ErrStorageUnavailable:
		status = http.StatusServiceUnavailable
	}

	render.Status(r, status)
	render.JSON(w, r, errResponse{Error: err.Error(), Code: string(apperrors.CodeOf(err))})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok", "service": "cinq-offline"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	status, err := s.scheduler.Status()
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, status)
}

func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.scheduler.TriggerSync(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// queueMessageRequest is the enqueue body from the UI.
type queueMessageRequest struct {
	ContactID string `json:"contact_id"`
	Content   string `json:"content"`
	IsPing    bool   `json:"is_ping"`
}

func (s *Server) queueMessage(w http.ResponseWriter, r *http.Request) {
	var req queueMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	msg, err := s.queue.QueueMessage(req.ContactID, req.Content, req.IsPing)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, msg)
}

// queueActionRequest is the generic replay enqueue body.
type queueActionRequest struct {
	Type     string          `json:"type"`
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Body     json.RawMessage `json:"body"`
	Priority int             `json:"priority"`
}

func (s *Server) queueAction(w http.ResponseWriter, r *http.Request) {
	var req queueActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	action, err := s.queue.QueueAction(req.Type, req.Endpoint, req.Method, req.Body, req.Priority)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, action)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.queue.PendingMessages()
	if err != nil {
		renderError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*models.QueuedMessage{}
	}
	render.JSON(w, r, messages)
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.queue.PendingActions()
	if err != nil {
		renderError(w, r, err)
		return
	}
	if actions == nil {
		actions = []*models.PendingAction{}
	}
	render.JSON(w, r, actions)
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	messages, err := s.queue.DeadLetterMessages()
	if err != nil {
		renderError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*models.QueuedMessage{}
	}
	render.JSON(w, r, messages)
}

func (s *Server) retryFailed(w http.ResponseWriter, r *http.Request) {
	count, err := s.queue.RetryFailed()
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]int{"rearmed": count})
}

func (s *Server) sentLog(w http.ResponseWriter, r *http.Request) {
	sent, err := s.queue.SentLog(0)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if sent == nil {
		sent = []models.SentMessage{}
	}
	render.JSON(w, r, sent)
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.queue.CachedContacts()
	if err != nil {
		renderError(w, r, err)
		return
	}
	if contacts == nil {
		contacts = []models.CachedContact{}
	}
	render.JSON(w, r, contacts)
}

func (s *Server) cacheContacts(w http.ResponseWriter, r *http.Request) {
	var contacts []models.CachedContact
	if err := json.NewDecoder(r.Body).Decode(&contacts); err != nil {
		renderError(w, r, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	if err := s.queue.CacheContacts(contacts); err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]int{"cached": len(contacts)})
}
