package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesync/go/internal/timer"
)

// TimerHandler exposes the timer control operations over HTTP. It owns access
// code extraction and the mapping from typed core errors to status codes; all
// state logic lives in the timer service.
type TimerHandler struct {
	service *timer.Service
}

func NewTimerHandler(service *timer.Service) *TimerHandler {
	return &TimerHandler{service: service}
}

// RegisterRoutes mounts the control endpoints on a mux.
func (h *TimerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/timer/start", post(h.HandleStart))
	mux.HandleFunc("/api/timer/stop", post(h.HandleStop))
	mux.HandleFunc("/api/timer/pause", post(h.HandlePause))
	mux.HandleFunc("/api/timer/continue", post(h.HandleResume))
	mux.HandleFunc("/api/timer/set-elapsed", post(h.HandleSetElapsed))
	mux.HandleFunc("/api/timer/status", get(h.HandleStatus))
	mux.HandleFunc("/api/timer/active", get(h.HandleActiveTimers))
}

// controlRequest is the body accepted by the control endpoints. Fields not
// relevant to an endpoint are simply ignored.
type controlRequest struct {
	AccessCode  string   `json:"accessCode"`
	Duration    *float64 `json:"duration"`
	ElapsedTime *float64 `json:"elapsedTime"`
}

// extractAccessCode resolves the access code from body, query parameter, or
// the X-Access-Code header, in that precedence order.
func extractAccessCode(r *http.Request, body controlRequest) string {
	if body.AccessCode != "" {
		return body.AccessCode
	}
	if code := r.URL.Query().Get("accessCode"); code != "" {
		return code
	}
	return r.Header.Get("X-Access-Code")
}

func decodeBody(r *http.Request) controlRequest {
	var body controlRequest
	if r.Body != nil {
		// A missing or malformed body is treated the same as an empty one;
		// the access code may still arrive via query or header.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	return body
}

func (h *TimerHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	accessCode, ok := requireAccessCode(w, r, body)
	if !ok {
		return
	}

	duration := 0.0
	if body.Duration != nil {
		duration = *body.Duration
	}

	status, err := h.service.Start(r.Context(), accessCode, duration)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Timer started successfully",
		"timer":   status,
	})
}

func (h *TimerHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	accessCode, ok := requireAccessCode(w, r, body)
	if !ok {
		return
	}

	status, err := h.service.Stop(r.Context(), accessCode)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Timer stopped successfully",
		"timer": map[string]any{
			"id":            status.ID,
			"accessCode":    status.AccessCode,
			"remainingTime": status.RemainingTime,
			"isRunning":     status.IsRunning,
		},
	})
}

func (h *TimerHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	accessCode, ok := requireAccessCode(w, r, body)
	if !ok {
		return
	}

	status, err := h.service.Pause(r.Context(), accessCode)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Timer paused successfully",
		"timer":   trimmedTimer(status),
	})
}

func (h *TimerHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	accessCode, ok := requireAccessCode(w, r, body)
	if !ok {
		return
	}

	status, err := h.service.Resume(r.Context(), accessCode)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Timer resumed successfully",
		"timer":   trimmedTimer(status),
	})
}

func (h *TimerHandler) HandleSetElapsed(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)
	accessCode, ok := requireAccessCode(w, r, body)
	if !ok {
		return
	}

	elapsed := -1.0
	if body.ElapsedTime != nil {
		elapsed = *body.ElapsedTime
	}

	status, err := h.service.SetElapsed(r.Context(), accessCode, elapsed)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Elapsed time set successfully",
		"timer":   status,
	})
}

func (h *TimerHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	accessCode, ok := requireAccessCode(w, r, decodeBody(r))
	if !ok {
		return
	}

	status, err := h.service.Status(accessCode)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"timer": status,
	})
}

// HandleActiveTimers lists every timer that has an id. Admin/debug endpoint.
func (h *TimerHandler) HandleActiveTimers(w http.ResponseWriter, r *http.Request) {
	active := h.service.ActiveTimers()

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Active timers retrieved successfully",
		"count":   len(active),
		"timers":  active,
	})
}

func trimmedTimer(status timer.Status) map[string]any {
	return map[string]any{
		"id":            status.ID,
		"accessCode":    status.AccessCode,
		"remainingTime": status.RemainingTime,
		"isRunning":     status.IsRunning,
		"isPaused":      status.IsPaused,
	}
}

func requireAccessCode(w http.ResponseWriter, r *http.Request, body controlRequest) (string, bool) {
	accessCode := extractAccessCode(r, body)
	if accessCode == "" {
		writeError(w, http.StatusBadRequest, "Access code is required. Please provide it in request body, query parameters, or X-Access-Code header.")
		return "", false
	}
	return accessCode, true
}

func post(next http.HandlerFunc) http.HandlerFunc {
	return allow(http.MethodPost, next)
}

func get(next http.HandlerFunc) http.HandlerFunc {
	return allow(http.MethodGet, next)
}

func allow(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}

// writeServiceError maps typed core errors to 400; anything unexpected is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timer.ErrInvalidAccessCode),
		errors.Is(err, timer.ErrTimerNotFound),
		errors.Is(err, timer.ErrInvalidDuration),
		errors.Is(err, timer.ErrInvalidElapsed),
		errors.Is(err, timer.ErrElapsedExceedsDuration),
		errors.Is(err, timer.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("unexpected control operation error")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
