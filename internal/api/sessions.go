package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/speechprep/internal/feedback"
	"github.com/snarg/speechprep/internal/mqttclient"
	"github.com/snarg/speechprep/internal/session"
)

const maxSessionBody = 1 << 20

// SessionEvents receives saved sessions. Implemented by the MQTT client.
type SessionEvents interface {
	PublishSession(ev mqttclient.SessionSaved)
}

// SessionsHandler serves session history, progress, and practice prompts.
type SessionsHandler struct {
	store   *session.Store
	catalog *session.Catalog
	events  SessionEvents
	log     zerolog.Logger
}

// NewSessionsHandler creates a sessions handler. events may be nil.
func NewSessionsHandler(store *session.Store, catalog *session.Catalog, events SessionEvents, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		store:   store,
		catalog: catalog,
		events:  events,
		log:     log.With().Str("handler", "sessions").Logger(),
	}
}

// Routes registers session endpoints.
func (h *SessionsHandler) Routes(r chi.Router) {
	r.Get("/sessions", h.ListSessions)
	r.Post("/sessions", h.CreateSession)
	r.Get("/progress", h.GetProgress)
	r.Get("/prompts", h.GetPrompt)
}

type createSessionRequest struct {
	Mode             feedback.Mode      `json:"mode"`
	Transcript       string             `json:"transcript"`
	Feedback         *feedback.Feedback `json:"feedback"`
	Script           string             `json:"script"`
	ScriptTone       string             `json:"scriptTone"`
	Topic            string             `json:"topic"`
	TimeLimitSeconds *float64           `json:"timeLimitSeconds"`
	ElapsedSeconds   *float64           `json:"elapsedSeconds"`
}

// ListSessions handles GET /api/sessions.
func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("list sessions failed")
		WriteErrorDetail(w, http.StatusInternalServerError, "Failed to load sessions.", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"sessions": recs})
}

// CreateSession handles POST /api/sessions.
func (h *SessionsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSessionBody)
	var req createSessionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "Invalid session body.", err.Error())
		return
	}

	id := IdentityFrom(r.Context())
	rec, err := h.store.Save(r.Context(), id, session.Record{
		Mode:             req.Mode,
		Transcript:       req.Transcript,
		Feedback:         req.Feedback,
		Script:           req.Script,
		ScriptTone:       req.ScriptTone,
		Topic:            req.Topic,
		TimeLimitSeconds: req.TimeLimitSeconds,
		ElapsedSeconds:   req.ElapsedSeconds,
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidRecord) {
			WriteErrorDetail(w, http.StatusBadRequest, "Invalid session.", err.Error())
			return
		}
		h.log.Error().Err(err).Msg("save session failed")
		WriteErrorDetail(w, http.StatusInternalServerError, "Failed to save session.", err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, rec)

	if h.events != nil {
		overall, _ := rec.Overall()
		h.events.PublishSession(mqttclient.SessionSaved{
			SessionID:     rec.ID,
			Mode:          string(rec.Mode),
			Overall:       overall,
			Authenticated: id.Authenticated(),
			At:            time.Now().UTC(),
		})
	}
}

// GetProgress handles GET /api/progress.
func (h *SessionsHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("list sessions for progress failed")
		WriteErrorDetail(w, http.StatusInternalServerError, "Failed to load sessions.", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, session.ComputeProgress(recs))
}

// GetPrompt handles GET /api/prompts?mode=script|topic.
func (h *SessionsHandler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("mode") {
	case "", string(feedback.ModeScript):
		WriteJSON(w, http.StatusOK, h.catalog.Drill())
	case string(feedback.ModeTopic):
		WriteJSON(w, http.StatusOK, h.catalog.Topic())
	default:
		WriteError(w, http.StatusBadRequest, "mode must be script or topic")
	}
}
