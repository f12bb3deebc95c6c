// Package http exposes the conversation control API and the live transcript stream.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"screening-session-service/internal/models"
	"screening-session-service/internal/service/capture"
	"screening-session-service/internal/service/coordinator"
)

// Conversation is the coordinator surface driven by the API.
type Conversation interface {
	View() coordinator.View
	Submit(ctx context.Context, text string) (models.Utterance, error)
	ToggleMic(ctx context.Context) (bool, error)
	Stop(ctx context.Context) (models.CloseOutcome, error)
	SetCameraEnabled(ctx context.Context, enabled bool) (capture.Status, error)
	SelectCamera(ctx context.Context, deviceID string) (capture.Status, error)
}

// ReadyFunc reports whether the service accepts traffic.
type ReadyFunc func() bool

// SubmitRequest is the body of POST /v1/session/messages.
type SubmitRequest struct {
	Text string `json:"text"`
}

// CameraRequest is the body of PUT /v1/camera. Absent fields are left unchanged.
type CameraRequest struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	DeviceID *string `json:"deviceId,omitempty"`
}

type errorResponse struct {
	Error  string          `json:"error"`
	Camera *capture.Status `json:"camera,omitempty"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(conv Conversation, hub *Hub, ready ReadyFunc) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	h := &handlers{conv: conv}

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Post("/messages", h.submit)
			r.Post("/mic", h.toggleMic)
			r.Post("/stop", h.stop)
			if hub != nil {
				r.Get("/stream", hub.ServeWS)
			}
		})
		r.Get("/camera", h.getCamera)
		r.Put("/camera", h.putCamera)
	})

	return r
}

type handlers struct {
	conv Conversation
}

func (h *handlers) getSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.conv.View())
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.conv.Submit(r.Context(), req.Text)
	switch {
	case errors.Is(err, coordinator.ErrEmptyText):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, coordinator.ErrStopped):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusAccepted, u)
	}
}

func (h *handlers) toggleMic(w http.ResponseWriter, r *http.Request) {
	on, err := h.conv.ToggleMic(r.Context())
	switch {
	case errors.Is(err, coordinator.ErrStopped):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, coordinator.ErrMicUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"micOn": on})
	}
}

// stop is idempotent for callers: once stopped, the recorded outcome is
// returned again without a new close request.
func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.conv.Stop(r.Context())
	switch {
	case errors.Is(err, coordinator.ErrAlreadyStopping):
		writeError(w, http.StatusConflict, err)
	case err != nil && !errors.Is(err, coordinator.ErrStopped):
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, outcome)
	}
}

func (h *handlers) getCamera(w http.ResponseWriter, _ *http.Request) {
	v := h.conv.View()
	if v.Camera == nil {
		writeError(w, http.StatusNotFound, coordinator.ErrCameraUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, v.Camera)
}

func (h *handlers) putCamera(w http.ResponseWriter, r *http.Request) {
	var req CameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Enabled == nil && req.DeviceID == nil {
		writeError(w, http.StatusBadRequest, errors.New("nothing to change"))
		return
	}

	var (
		status capture.Status
		err    error
	)
	if req.DeviceID != nil {
		status, err = h.conv.SelectCamera(r.Context(), *req.DeviceID)
	}
	if err == nil && req.Enabled != nil {
		status, err = h.conv.SetCameraEnabled(r.Context(), *req.Enabled)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, status)
	case errors.Is(err, coordinator.ErrCameraUnavailable):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, coordinator.ErrStopped):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, capture.ErrUnknownDevice):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, capture.ErrNoDevices):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Camera: &status})
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// requestLogger logs each request through zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
