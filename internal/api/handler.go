package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/metrics-sidecar/internal/configstore"
	"github.com/eugenenazirov/metrics-sidecar/internal/lifecycle"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// ConfigSource exposes the current export configuration.
type ConfigSource interface {
	Path() string
	Snapshot() *configstore.Snapshot
	Settings() configstore.Settings
}

// Reporter exposes the export lifecycle state.
type Reporter interface {
	Status() lifecycle.Status
}

// ReloadTrigger requests an early configuration reload.
type ReloadTrigger interface {
	Trigger() bool
}

// Handler wires the configuration store, the reporter lifecycle and the
// reload scheduler into HTTP handlers.
type Handler struct {
	config   ConfigSource
	reporter Reporter
	reload   ReloadTrigger
	metrics  http.Handler

	clock     func() time.Time
	startedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(metrics http.Handler) HandlerOption {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(config ConfigSource, reporter Reporter, reload ReloadTrigger, opts ...HandlerOption) *Handler {
	h := &Handler{
		config:   config,
		reporter: reporter,
		reload:   reload,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	now := h.clock()
	resp := healthResponse{
		Status:    "ok",
		Reporter:  h.reporter.Status().State,
		Uptime:    now.Sub(h.startedAt).Round(time.Second).String(),
		Timestamp: now,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	snap := h.config.Snapshot()
	annotate(r.Context(), zap.Int("keys", snap.Len()))
	resp := configResponse{
		Path:     h.config.Path(),
		Values:   snap.Redacted(),
		Settings: h.config.Settings().Redacted(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetReporter(w http.ResponseWriter, r *http.Request) {
	status := h.reporter.Status()
	annotate(r.Context(), zap.String("reporter_state", status.State))
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	scheduled := h.reload.Trigger()
	annotate(r.Context(), zap.Bool("reload_scheduled", scheduled))
	if !scheduled {
		writeError(w, http.StatusTooManyRequests, "Reload not scheduled",
			"a reload is already pending, was requested too recently or the scheduler is stopped",
			"Configuration is also reloaded on the regular schedule")
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Reload scheduled"})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		http.NotFound(w, r)
		return
	}
	h.metrics.ServeHTTP(w, r)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type healthResponse struct {
	Status    string    `json:"status"`
	Reporter  string    `json:"reporter"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

type configResponse struct {
	Path     string               `json:"path"`
	Values   map[string]string    `json:"values"`
	Settings configstore.Settings `json:"settings"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// writeJSON encodes payload before writing the header, so an encoding failure
// still produces a well-formed 500 response.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	body, _ := json.Marshal(errorResponse{Error: "Internal error", Details: err.Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(append(body, '\n'))
}
