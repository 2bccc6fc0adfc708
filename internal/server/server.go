// Package server is the HTTP surface: health probes, metrics, the
// progress feed and the relay history API.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
	"github.com/debridrelay/debridrelay/internal/feed"
	"github.com/debridrelay/debridrelay/internal/health"
	"github.com/debridrelay/debridrelay/internal/history"
	"github.com/debridrelay/debridrelay/internal/logger"
	"github.com/debridrelay/debridrelay/internal/metrics"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// HistoryLister lists past relays of a chat.
type HistoryLister interface {
	Recent(ctx context.Context, chatID int64, limit int) ([]history.Entry, error)
}

// Deps are the handlers the router mounts. Feed and History are optional.
type Deps struct {
	Health  *health.Handler
	Metrics *metrics.Metrics
	Feed    http.Handler
	Tokens  *feed.Tokens
	History HistoryLister
}

type Router struct {
	mux  *http.ServeMux
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}
	r := &Router{mux: http.NewServeMux(), deps: deps}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("GET /health", r.deps.Health.HealthHandler)
	r.mux.HandleFunc("GET /health/live", r.deps.Health.LivenessHandler)
	r.mux.HandleFunc("GET /health/ready", r.deps.Health.ReadinessHandler)
	r.mux.HandleFunc("GET /metrics", r.deps.Metrics.Handler())

	if r.deps.Feed != nil {
		r.mux.Handle("GET /ws", r.deps.Feed)
	}
	if r.deps.Tokens != nil {
		auth := feed.Authenticate(r.deps.Tokens)
		r.mux.Handle("GET /api/v1/history", auth(apperrors.HandleFunc(r.listHistory)))
	}

	r.mux.HandleFunc("/", r.deps.Health.FallbackHandler)
}

// Handler wraps the router in the middleware chain, outermost first.
func (r *Router) Handler() http.Handler {
	var h http.Handler = r
	h = metrics.MetricsMiddleware(r.deps.Metrics)(h)
	h = logger.RecoveryMiddleware(h)
	h = logger.LoggingMiddleware(h)
	h = apperrors.RequestIDMiddleware(h)
	return h
}

// New returns an http.Server for addr serving the router.
func New(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

type relayJSON struct {
	TaskID      string    `json:"task_id"`
	RemoteID    string    `json:"remote_id"`
	Filename    string    `json:"filename"`
	Bytes       int64     `json:"bytes"`
	Destination string    `json:"destination"`
	Location    string    `json:"location,omitempty"`
	Status      string    `json:"status"`
	ErrorCode   string    `json:"error_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	DurationMS  int64     `json:"duration_ms"`
}

func (r *Router) listHistory(w http.ResponseWriter, req *http.Request) error {
	if r.deps.History == nil {
		return apperrors.NotFound("relay history")
	}
	chatID, ok := feed.ChatID(req.Context())
	if !ok {
		return apperrors.Unauthorized("missing chat")
	}

	limit := defaultHistoryLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperrors.BadRequest("limit must be a positive integer")
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := r.deps.History.Recent(req.Context(), chatID, limit)
	if err != nil {
		return err
	}
	relays := make([]relayJSON, 0, len(entries))
	for _, e := range entries {
		relays = append(relays, relayJSON{
			TaskID:      e.TaskID,
			RemoteID:    e.RemoteID,
			Filename:    e.Filename,
			Bytes:       e.Bytes,
			Destination: e.Destination,
			Location:    e.Location,
			Status:      e.Status,
			ErrorCode:   e.ErrorCode,
			Error:       e.ErrorMessage,
			StartedAt:   e.StartedAt,
			FinishedAt:  e.FinishedAt,
			DurationMS:  e.Duration().Milliseconds(),
		})
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(req.Context()), http.StatusOK, map[string]any{"relays": relays})
	return nil
}
