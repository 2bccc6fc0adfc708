// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Check is a named dependency probe. Optional failures degrade readiness
// instead of failing it.
type Check struct {
	Name     string
	Probe    CheckFunc
	Optional bool
}

// Checker performs health checks on the configured dependencies. Services
// that are not configured are simply not registered.
type Checker struct {
	checks       []Check
	version      string
	started      time.Time
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker
type CheckerConfig struct {
	Checks  []Check
	Version string
	Timeout time.Duration
}

func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	checks := append([]Check(nil), cfg.Checks...)
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return &Checker{
		checks:       checks,
		version:      cfg.Version,
		started:      time.Now(),
		checkTimeout: timeout,
	}
}

func (c *Checker) run(ctx context.Context, check Check) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := check.Probe(ctx); err != nil {
		status := StatusUnhealthy
		if check.Optional {
			status = StatusDegraded
		}
		return ComponentHealth{
			Status:   status,
			Message:  check.Name + " check failed",
			Duration: time.Since(start).String(),
		}
	}
	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// Check performs a basic health check (liveness)
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
	}
}

// DeepCheck runs every registered check in parallel (readiness).
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Components: make(map[string]ComponentHealth),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, check := range c.checks {
		wg.Add(1)
		go func(ch Check) {
			defer wg.Done()
			result := c.run(ctx, ch)
			mu.Lock()
			response.Components[ch.Name] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	for _, comp := range response.Components {
		if comp.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
			break
		} else if comp.Status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// Handler provides HTTP handlers for health endpoints
type Handler struct {
	checker *Checker
}

func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler reports that the process is up.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.checker.Check(r.Context()))
}

// ReadinessHandler runs the dependency checks. Degraded still accepts
// traffic.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.DeepCheck(r.Context())
	status := http.StatusOK
	if response.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// HealthHandler serves /health, deep when ?deep=true.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

// FallbackHandler answers 200 to any GET or HEAD so platform probes on
// arbitrary paths succeed.
func (h *Handler) FallbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write([]byte("OK"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
