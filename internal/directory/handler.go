package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
	"github.com/ovaphlow/pitchfork/service-directory-go/internal/viewer"
)

// Handler exposes directory sessions over HTTP.
type Handler struct {
	svc      *Service
	verifier *viewer.Verifier
	logger   *zap.SugaredLogger
}

func NewHandler(svc *Service, verifier *viewer.Verifier, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, verifier: verifier, logger: logger}
}

// OpenRequest request body for opening a session.
type OpenRequest struct {
	Locale string `json:"locale"`
}

// SessionResponse wraps a snapshot with the session id and viewer state.
type SessionResponse struct {
	SessionID       string `json:"session_id"`
	ViewerConnected bool   `json:"viewer_connected"`
	entity.Snapshot
}

// Open starts a session and returns its first snapshot, which is usually
// still loading.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Debugw("invalid open session payload", "err", err)
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
	}
	id, eng, err := h.svc.Open(req.Locale)
	if err != nil {
		h.logger.Warnw("open session failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "open session failed"})
		return
	}
	snap, err := eng.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.response(r, id, snap))
}

// Get returns the current snapshot of a session.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	eng, err := h.svc.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	snap, err := eng.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.response(r, id, snap))
}

// Refresh refetches the pool. On failure it answers 503 with the snapshot,
// which still holds the previous window.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	eng, err := h.svc.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusOK
	if err := eng.Refresh(r.Context()); err != nil {
		if errors.Is(err, ErrStopped) {
			h.writeError(w, err)
			return
		}
		h.logger.Warnw("manual refresh failed", "session", id, "err", err)
		status = http.StatusServiceUnavailable
	}
	snap, err := eng.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, status, h.response(r, id, snap))
}

// Close tears a session down.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events streams session events as server-sent events until the client
// goes away or the session ends. A session has at most one stream.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	eng, release, err := h.svc.AttachStream(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer release()
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := eng.Events()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
				h.logger.Debugw("event stream write failed", "session", id, "err", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) response(r *http.Request, id string, snap entity.Snapshot) SessionResponse {
	v, err := h.verifier.FromRequest(r)
	if err != nil && !errors.Is(err, viewer.ErrMissingToken) {
		h.logger.Debugw("viewer token rejected", "err", err)
	}
	return SessionResponse{SessionID: id, ViewerConnected: v.Authenticated, Snapshot: snap}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, ErrStreamBusy):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "event stream already attached"})
	case errors.Is(err, ErrStopped):
		h.writeJSON(w, http.StatusGone, map[string]string{"error": "session closed"})
	default:
		h.logger.Warnw("directory request failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
