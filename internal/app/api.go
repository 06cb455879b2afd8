package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parleyhq/parley/internal/observe"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/pkg/speech/push"
)

// apiHandler serves the JSON session control API.
type apiHandler struct {
	manager *Manager
	ingest  *push.Source

	// baseCtx supplies the lifetime for started sessions. A session must
	// outlive the request that starts it.
	baseCtx func() context.Context
}

func (h *apiHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/session/start", h.startSession)
	mux.HandleFunc("POST /v1/session/stop", h.stopSession)
	mux.HandleFunc("GET /v1/session", h.sessionInfo)
	mux.HandleFunc("POST /v1/session/listen", h.listen)
	mux.HandleFunc("POST /v1/session/reset", h.reset)
	mux.HandleFunc("POST /v1/session/exit", h.exitConversation)
	mux.HandleFunc("POST /v1/session/message", h.sendMessage)
	mux.HandleFunc("GET /v1/session/notifications", h.notifications)

	if h.ingest != nil {
		mux.HandleFunc("POST /v1/speech/transcript", h.pushTranscript)
		mux.HandleFunc("POST /v1/speech/end", h.endOfSpeech)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type textRequest struct {
	Text string `json:"text"`
}

type stateResponse struct {
	State session.State `json:"state"`
}

type notificationPayload struct {
	Kind  session.NotificationKind `json:"kind"`
	Text  string                   `json:"text"`
	Error string                   `json:"error,omitempty"`
}

func (h *apiHandler) startSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.manager.Start(h.baseCtx())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *apiHandler) stopSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Stop(); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *apiHandler) sessionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.manager.Info()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *apiHandler) listen(w http.ResponseWriter, r *http.Request) {
	orch, err := h.manager.Orchestrator()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := orch.StartListening(); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: orch.State()})
}

func (h *apiHandler) reset(w http.ResponseWriter, r *http.Request) {
	orch, err := h.manager.Orchestrator()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	orch.Reset()
	writeJSON(w, http.StatusOK, stateResponse{State: session.StateIdle})
}

func (h *apiHandler) exitConversation(w http.ResponseWriter, r *http.Request) {
	orch, err := h.manager.Orchestrator()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := orch.ExitConversation(); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: session.StateIdle})
}

func (h *apiHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be JSON with a non-empty \"text\" field"})
		return
	}
	orch, err := h.manager.Orchestrator()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := orch.SendMessage(req.Text); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stateResponse{State: orch.State()})
}

func (h *apiHandler) notifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.manager.TakeNotifications()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	payload := make([]notificationPayload, 0, len(notes))
	for _, n := range notes {
		p := notificationPayload{Kind: n.Kind, Text: n.Text}
		if n.Err != nil {
			p.Error = n.Err.Error()
		}
		payload = append(payload, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": payload})
}

func (h *apiHandler) pushTranscript(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be JSON with a \"text\" field"})
		return
	}
	if err := h.ingest.Push(req.Text); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *apiHandler) endOfSpeech(w http.ResponseWriter, r *http.Request) {
	if err := h.ingest.End(); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// writeError maps domain errors onto HTTP status codes. Unmapped errors are
// logged with the request's trace context before surfacing as a 500.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, ErrSessionActive),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrNotConversing):
		status = http.StatusConflict
	case errors.Is(err, push.ErrNotStarted):
		status = http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		status = http.StatusGone
	}
	if status == http.StatusInternalServerError {
		observe.Logger(ctx).Error("app: unhandled session error", "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
