package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// authentication events, media library activity, and dependency health. It
// coordinates concurrent writers via a RWMutex while exposing atomic gauges
// for counts that change on every request.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	authEvents       map[string]uint64
	mediaEvents      map[string]uint64
	uploadBytesTotal uint64
	servedBytesTotal uint64
	depHealthValue   map[string]float64
	depHealthState   map[string]string
	revokedTokens    atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		authEvents:      make(map[string]uint64),
		mediaEvents:     make(map[string]uint64),
		depHealthValue:  make(map[string]float64),
		depHealthState:  make(map[string]string),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveAuthEvent records an authentication lifecycle event keyed by type
// (e.g., "register", "login", "login_failure", "logout").
func (r *Recorder) ObserveAuthEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.authEvents[normalized]++
	r.mu.Unlock()
}

// TokenRevoked records a revocation event and bumps the revoked token gauge.
func (r *Recorder) TokenRevoked() {
	r.ObserveAuthEvent("logout")
	r.revokedTokens.Add(1)
}

// RevokedTokens exposes the number of tokens revoked since start.
func (r *Recorder) RevokedTokens() int64 {
	return r.revokedTokens.Load()
}

// ObserveMediaEvent records a media library event keyed by type
// (e.g., "created", "updated", "deleted", "served", "search_miss").
func (r *Recorder) ObserveMediaEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.mediaEvents[normalized]++
	r.mu.Unlock()
}

// ObserveUploadBytes accumulates the size of accepted upload payloads.
func (r *Recorder) ObserveUploadBytes(n int64) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.uploadBytesTotal += uint64(n)
	r.mu.Unlock()
}

// ObserveServedBytes accumulates the decoded size of media payloads returned
// to clients.
func (r *Recorder) ObserveServedBytes(n int64) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.servedBytesTotal += uint64(n)
	r.mu.Unlock()
}

// SetDependencyHealth normalizes dependency identifiers, maps status strings
// to numeric health values, and stores both representations for export.
func (r *Recorder) SetDependencyHealth(dependency, status string) {
	normalizedDep := normalizeName(dependency)
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "healthy":
		value = 1
	case "disabled":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.depHealthValue[normalizedDep] = value
	r.depHealthState[normalizedDep] = normalizedStatus
	r.mu.Unlock()
}

// AuthEventCounts returns a copy of the auth event counters for testing and
// reporting purposes.
func (r *Recorder) AuthEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.authEvents))
	for k, v := range r.authEvents {
		counts[k] = v
	}
	return counts
}

// MediaEventCounts returns a copy of the media event counters.
func (r *Recorder) MediaEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.mediaEvents))
	for k, v := range r.mediaEvents {
		counts[k] = v
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.authEvents = make(map[string]uint64)
	r.mediaEvents = make(map[string]uint64)
	r.uploadBytesTotal = 0
	r.servedBytesTotal = 0
	r.depHealthValue = make(map[string]float64)
	r.depHealthState = make(map[string]string)
	r.revokedTokens.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	authEvents := r.sortedAuthEvents()
	mediaEvents := r.sortedMediaEvents()
	dependencies := r.sortedDependencies()

	fmt.Fprintln(w, "# HELP mediabin_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE mediabin_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "mediabin_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP mediabin_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE mediabin_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "mediabin_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP mediabin_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE mediabin_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "mediabin_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP mediabin_auth_events_total Authentication events by type")
	fmt.Fprintln(w, "# TYPE mediabin_auth_events_total counter")
	for _, event := range authEvents {
		count := r.authEvents[event]
		fmt.Fprintf(w, "mediabin_auth_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP mediabin_revoked_tokens_total Tokens revoked since process start")
	fmt.Fprintln(w, "# TYPE mediabin_revoked_tokens_total counter")
	fmt.Fprintf(w, "mediabin_revoked_tokens_total %d\n", r.revokedTokens.Load())

	fmt.Fprintln(w, "# HELP mediabin_media_events_total Media library events by type")
	fmt.Fprintln(w, "# TYPE mediabin_media_events_total counter")
	for _, event := range mediaEvents {
		count := r.mediaEvents[event]
		fmt.Fprintf(w, "mediabin_media_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP mediabin_upload_bytes_total Bytes accepted across media uploads")
	fmt.Fprintln(w, "# TYPE mediabin_upload_bytes_total counter")
	fmt.Fprintf(w, "mediabin_upload_bytes_total %d\n", r.uploadBytesTotal)

	fmt.Fprintln(w, "# HELP mediabin_served_bytes_total Decoded bytes returned in media responses")
	fmt.Fprintln(w, "# TYPE mediabin_served_bytes_total counter")
	fmt.Fprintf(w, "mediabin_served_bytes_total %d\n", r.servedBytesTotal)

	fmt.Fprintln(w, "# HELP mediabin_dependency_health Health reported by backing dependencies (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE mediabin_dependency_health gauge")
	for _, dep := range dependencies {
		value := r.depHealthValue[dep]
		status := r.depHealthState[dep]
		fmt.Fprintf(w, "mediabin_dependency_health{dependency=\"%s\",status=\"%s\"} %f\n", dep, status, value)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedAuthEvents() []string {
	events := make([]string, 0, len(r.authEvents))
	for event := range r.authEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedMediaEvents() []string {
	events := make([]string, 0, len(r.mediaEvents))
	for event := range r.mediaEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedDependencies() []string {
	deps := make([]string, 0, len(r.depHealthValue))
	for dep := range r.depHealthValue {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveAuthEvent records an auth event on the default recorder.
func ObserveAuthEvent(event string) {
	defaultRecorder.ObserveAuthEvent(event)
}

// ObserveMediaEvent records a media event on the default recorder.
func ObserveMediaEvent(event string) {
	defaultRecorder.ObserveMediaEvent(event)
}

// SetDependencyHealth updates dependency health on the default recorder.
func SetDependencyHealth(dependency, status string) {
	defaultRecorder.SetDependencyHealth(dependency, status)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
