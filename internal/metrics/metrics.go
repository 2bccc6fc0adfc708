package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Counter names shared by the relay components.
const (
	DebridPolls          = "debrid_polls_total"
	DebridPollFailures   = "debrid_poll_transient_failures_total"
	JobsSubmitted        = "jobs_submitted_total"
	JobsReady            = "jobs_ready_total"
	JobsFailed           = "jobs_failed_total"
	NotificationsSent    = "notifications_sent_total"
	NotificationsDropped = "notifications_dropped_total"
	WatcherSweeps        = "watcher_sweeps_total"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	requestCount    map[string]*uint64    // endpoint:method -> count
	requestDuration map[string]*Histogram // endpoint:method -> duration histogram
	requestErrors   map[string]*uint64    // endpoint:method:status_class -> count

	// Relay metrics
	relayOutcomes map[string]*uint64 // outcome -> count
	relayDuration *Histogram
	relayBytes    uint64

	activeWSConnections int64
	taskQueueLength     int64
	activeRelays        int64

	counters map[string]*uint64

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu         sync.Mutex
	count      uint64
	sum        float64
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a histogram with request-latency buckets
// (5ms to 10s).
func NewHistogram() *Histogram {
	return newHistogram([]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
}

// newRelayHistogram buckets whole relays, 10s to 4h.
func newRelayHistogram() *Histogram {
	return newHistogram([]float64{10, 30, 60, 300, 600, 1800, 3600, 7200, 14400})
}

func newHistogram(buckets []float64) *Histogram {
	return &Histogram{
		buckets:    buckets,
		bucketVals: make([]uint64, len(buckets)),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]*uint64),
		requestDuration: make(map[string]*Histogram),
		requestErrors:   make(map[string]*uint64),
		relayOutcomes:   make(map[string]*uint64),
		relayDuration:   newRelayHistogram(),
		counters:        make(map[string]*uint64),
		startTime:       time.Now(),
	}
}

// global metrics instance
var defaultMetrics = New()

// Default returns the default metrics instance
func Default() *Metrics {
	return defaultMetrics
}

// counter returns the counter stored under key in m, creating it if needed.
func (m *Metrics) counter(set map[string]*uint64, key string) *uint64 {
	m.mu.RLock()
	c := set[key]
	m.mu.RUnlock()
	if c != nil {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if set[key] == nil {
		var zero uint64
		set[key] = &zero
	}
	return set[key]
}

// RecordRequest records a request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)

	atomic.AddUint64(m.counter(m.requestCount, key), 1)

	m.mu.Lock()
	h := m.requestDuration[key]
	if h == nil {
		h = NewHistogram()
		m.requestDuration[key] = h
	}
	m.mu.Unlock()
	h.Observe(duration.Seconds())

	if statusCode >= 400 {
		errorKey := fmt.Sprintf("%s:%d", key, statusCode/100*100)
		atomic.AddUint64(m.counter(m.requestErrors, errorKey), 1)
	}
}

// RecordRelay records a finished relay. outcome is "success" or an error
// code.
func (m *Metrics) RecordRelay(outcome string, bytes int64, duration time.Duration) {
	atomic.AddUint64(m.counter(m.relayOutcomes, outcome), 1)
	if bytes > 0 {
		atomic.AddUint64(&m.relayBytes, uint64(bytes))
	}
	m.relayDuration.Observe(duration.Seconds())
}

// normalizeEndpoint normalizes an endpoint path for metrics (removes IDs)
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if len(part) > 0 && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, 1)
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, -1)
}

// SetTaskQueueLength sets the pending task count
func (m *Metrics) SetTaskQueueLength(length int64) {
	atomic.StoreInt64(&m.taskQueueLength, length)
}

// IncActiveRelays and DecActiveRelays track relays in flight.
func (m *Metrics) IncActiveRelays() { atomic.AddInt64(&m.activeRelays, 1) }

func (m *Metrics) DecActiveRelays() { atomic.AddInt64(&m.activeRelays, -1) }

// IncCounter increments a counter
func (m *Metrics) IncCounter(name string) {
	atomic.AddUint64(m.counter(m.counters, name), 1)
}

// CounterValue returns the current value of a named counter.
func (m *Metrics) CounterValue(name string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.counters[name]; c != nil {
		return atomic.LoadUint64(c)
	}
	return 0
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		gauge := func(name, help string, v float64) {
			fmt.Fprintf(&sb, "# HELP drl_%s %s\n# TYPE drl_%s gauge\ndrl_%s %g\n\n", name, help, name, name, v)
		}
		gauge("uptime_seconds", "Time since the server started", time.Since(m.startTime).Seconds())
		gauge("websocket_connections_active", "Active progress feed connections", float64(atomic.LoadInt64(&m.activeWSConnections)))
		gauge("task_queue_length", "Tasks waiting for a worker", float64(atomic.LoadInt64(&m.taskQueueLength)))
		gauge("relays_active", "Relays currently streaming", float64(atomic.LoadInt64(&m.activeRelays)))

		sb.WriteString("# HELP drl_relay_bytes_total Bytes relayed to the chat platform\n")
		sb.WriteString("# TYPE drl_relay_bytes_total counter\n")
		fmt.Fprintf(&sb, "drl_relay_bytes_total %d\n\n", atomic.LoadUint64(&m.relayBytes))

		m.mu.RLock()
		defer m.mu.RUnlock()

		if len(m.relayOutcomes) > 0 {
			sb.WriteString("# HELP drl_relays_total Finished relays by outcome\n")
			sb.WriteString("# TYPE drl_relays_total counter\n")
			for _, key := range sortedKeys(m.relayOutcomes) {
				fmt.Fprintf(&sb, "drl_relays_total{outcome=\"%s\"} %d\n", key, atomic.LoadUint64(m.relayOutcomes[key]))
			}
			sb.WriteString("\n")

			h := m.relayDuration
			h.mu.Lock()
			sb.WriteString("# HELP drl_relay_duration_seconds Relay wall-clock duration\n")
			sb.WriteString("# TYPE drl_relay_duration_seconds histogram\n")
			for i, bucket := range h.buckets {
				fmt.Fprintf(&sb, "drl_relay_duration_seconds_bucket{le=\"%g\"} %d\n", bucket, h.bucketVals[i])
			}
			fmt.Fprintf(&sb, "drl_relay_duration_seconds_bucket{le=\"+Inf\"} %d\n", h.count)
			fmt.Fprintf(&sb, "drl_relay_duration_seconds_sum %f\n", h.sum)
			fmt.Fprintf(&sb, "drl_relay_duration_seconds_count %d\n\n", h.count)
			h.mu.Unlock()
		}

		if len(m.requestCount) > 0 {
			sb.WriteString("# HELP drl_http_requests_total Total HTTP requests\n")
			sb.WriteString("# TYPE drl_http_requests_total counter\n")
			for _, key := range sortedKeys(m.requestCount) {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					fmt.Fprintf(&sb, "drl_http_requests_total{endpoint=\"%s\",method=\"%s\"} %d\n", parts[0], parts[1], atomic.LoadUint64(m.requestCount[key]))
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestDuration) > 0 {
			sb.WriteString("# HELP drl_http_request_duration_seconds HTTP request latency\n")
			sb.WriteString("# TYPE drl_http_request_duration_seconds histogram\n")
			for _, key := range sortedKeys(m.requestDuration) {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) != 2 {
					continue
				}
				h := m.requestDuration[key]
				h.mu.Lock()
				for i, bucket := range h.buckets {
					fmt.Fprintf(&sb, "drl_http_request_duration_seconds_bucket{endpoint=\"%s\",method=\"%s\",le=\"%g\"} %d\n", parts[0], parts[1], bucket, h.bucketVals[i])
				}
				fmt.Fprintf(&sb, "drl_http_request_duration_seconds_bucket{endpoint=\"%s\",method=\"%s\",le=\"+Inf\"} %d\n", parts[0], parts[1], h.count)
				fmt.Fprintf(&sb, "drl_http_request_duration_seconds_sum{endpoint=\"%s\",method=\"%s\"} %f\n", parts[0], parts[1], h.sum)
				fmt.Fprintf(&sb, "drl_http_request_duration_seconds_count{endpoint=\"%s\",method=\"%s\"} %d\n", parts[0], parts[1], h.count)
				h.mu.Unlock()
			}
			sb.WriteString("\n")
		}

		if len(m.requestErrors) > 0 {
			sb.WriteString("# HELP drl_http_errors_total Total HTTP errors by status class\n")
			sb.WriteString("# TYPE drl_http_errors_total counter\n")
			for _, key := range sortedKeys(m.requestErrors) {
				// key format: endpoint:method:statusClass
				parts := strings.Split(key, ":")
				if len(parts) >= 3 {
					fmt.Fprintf(&sb, "drl_http_errors_total{endpoint=\"%s\",method=\"%s\",status_class=\"%sxx\"} %d\n", parts[0], parts[1], parts[2][:1], atomic.LoadUint64(m.requestErrors[key]))
				}
			}
			sb.WriteString("\n")
		}

		if len(m.counters) > 0 {
			sb.WriteString("# HELP drl_counter Relay pipeline counters\n")
			sb.WriteString("# TYPE drl_counter counter\n")
			for _, name := range sortedKeys(m.counters) {
				fmt.Fprintf(&sb, "drl_counter{name=\"%s\"} %d\n", name, atomic.LoadUint64(m.counters[name]))
			}
		}

		w.Write([]byte(sb.String()))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer for websocket hijacking.
func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
