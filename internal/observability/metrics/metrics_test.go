package metrics

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	type testCase struct {
		name     string
		method   string
		path     string
		status   int
		duration time.Duration
	}

	cases := []testCase{
		{
			name:     "root path",
			method:   "get",
			path:     "/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "empty path",
			method:   "GET",
			path:     "",
			status:   200,
			duration: 25 * time.Millisecond,
		},
		{
			name:     "id segment",
			method:   "get",
			path:     "/media/123",
			status:   200,
			duration: 100 * time.Millisecond,
		},
		{
			name:     "trailing slash and uuid",
			method:   "GET",
			path:     "/media/0d94cf4b-0d9f-4de6-93a8-7e3ad8e37b61/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "multi ids",
			method:   "PUT",
			path:     "media/user/456/extra",
			status:   404,
			duration: 10 * time.Millisecond,
		},
	}

	expectedCounts := make(map[requestLabel]struct {
		count    uint64
		duration time.Duration
	})

	for _, tc := range cases {
		recorder.ObserveRequest(tc.method, tc.path, tc.status, tc.duration)

		label := requestLabel{
			method: strings.ToUpper(tc.method),
			path:   normalizePath(tc.path),
			status: fmt.Sprintf("%d", tc.status),
		}
		current := expectedCounts[label]
		current.count++
		current.duration += tc.duration
		expectedCounts[label] = current
	}

	if len(recorder.requestCount) != len(expectedCounts) {
		t.Fatalf("unexpected number of labels: got %d want %d", len(recorder.requestCount), len(expectedCounts))
	}

	for label, expected := range expectedCounts {
		gotCount := recorder.requestCount[label]
		gotDuration := recorder.requestDuration[label]
		if gotCount != expected.count {
			t.Errorf("count mismatch for %+v: got %d want %d", label, gotCount, expected.count)
		}
		if gotDuration != expected.duration {
			t.Errorf("duration mismatch for %+v: got %s want %s", label, gotDuration, expected.duration)
		}
	}

	labels := recorder.sortedRequestLabels()
	sortedExpected := make([]requestLabel, 0, len(expectedCounts))
	for label := range expectedCounts {
		sortedExpected = append(sortedExpected, label)
	}
	sort.Slice(sortedExpected, func(i, j int) bool {
		if sortedExpected[i].method != sortedExpected[j].method {
			return sortedExpected[i].method < sortedExpected[j].method
		}
		if sortedExpected[i].path != sortedExpected[j].path {
			return sortedExpected[i].path < sortedExpected[j].path
		}
		return sortedExpected[i].status < sortedExpected[j].status
	})

	if len(labels) != len(sortedExpected) {
		t.Fatalf("sorted labels length mismatch: got %d want %d", len(labels), len(sortedExpected))
	}

	for i := range labels {
		if labels[i] != sortedExpected[i] {
			t.Errorf("sorted label %d mismatch: got %+v want %+v", i, labels[i], sortedExpected[i])
		}
	}
}

func TestNormalizePathKeepsRouteWords(t *testing.T) {
	cases := map[string]string{
		"/register":     "/register",
		"/media/latest": "/media/latest",
		"/media/search": "/media/search",
		"/healthz":      "/healthz",
	}
	for input, want := range cases {
		if got := normalizePath(input); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/media/0d94cf4b-0d9f-4de6-93a8-7e3ad8e37b61", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/media/456/", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/media", 201, time.Second)

	recorder.ObserveAuthEvent("login")
	recorder.ObserveAuthEvent("login")
	recorder.ObserveAuthEvent("register")
	recorder.TokenRevoked()

	recorder.ObserveMediaEvent("created")
	recorder.ObserveMediaEvent("served")
	recorder.ObserveMediaEvent("served")

	recorder.ObserveUploadBytes(2048)
	recorder.ObserveServedBytes(512)
	recorder.ObserveServedBytes(512)

	recorder.SetDependencyHealth(" Storage ", "Healthy")
	recorder.SetDependencyHealth("revocation", "Degraded")

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP mediabin_http_requests_total Total number of HTTP requests processed by the API
# TYPE mediabin_http_requests_total counter
mediabin_http_requests_total{method="GET",path="/media/:id",status="200"} 2
mediabin_http_requests_total{method="POST",path="/media",status="201"} 1
# HELP mediabin_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE mediabin_http_request_duration_seconds_sum counter
mediabin_http_request_duration_seconds_sum{method="GET",path="/media/:id",status="200"} 0.200000
mediabin_http_request_duration_seconds_sum{method="POST",path="/media",status="201"} 1.000000
# HELP mediabin_http_request_duration_seconds_count Total number of observations for request durations
# TYPE mediabin_http_request_duration_seconds_count counter
mediabin_http_request_duration_seconds_count{method="GET",path="/media/:id",status="200"} 2
mediabin_http_request_duration_seconds_count{method="POST",path="/media",status="201"} 1
# HELP mediabin_auth_events_total Authentication events by type
# TYPE mediabin_auth_events_total counter
mediabin_auth_events_total{event="login"} 2
mediabin_auth_events_total{event="logout"} 1
mediabin_auth_events_total{event="register"} 1
# HELP mediabin_revoked_tokens_total Tokens revoked since process start
# TYPE mediabin_revoked_tokens_total counter
mediabin_revoked_tokens_total 1
# HELP mediabin_media_events_total Media library events by type
# TYPE mediabin_media_events_total counter
mediabin_media_events_total{event="created"} 1
mediabin_media_events_total{event="served"} 2
# HELP mediabin_upload_bytes_total Bytes accepted across media uploads
# TYPE mediabin_upload_bytes_total counter
mediabin_upload_bytes_total 2048
# HELP mediabin_served_bytes_total Decoded bytes returned in media responses
# TYPE mediabin_served_bytes_total counter
mediabin_served_bytes_total 1024
# HELP mediabin_dependency_health Health reported by backing dependencies (1=ok,0=disabled,-1=degraded)
# TYPE mediabin_dependency_health gauge
mediabin_dependency_health{dependency="revocation",status="degraded"} -1.000000
mediabin_dependency_health{dependency="storage",status="healthy"} 1.000000`

	if diff := compareLines(buf.String(), expected); diff != "" {
		t.Fatalf("unexpected write output:\n%s", diff)
	}

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	if diff := compareLines(res.Body.String(), expected); diff != "" {
		t.Fatalf("unexpected handler output:\n%s", diff)
	}
}

func compareLines(actual, expected string) string {
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	if len(actualLines) != len(expectedLines) {
		return formatDiff(actualLines, expectedLines)
	}
	for i := range actualLines {
		if actualLines[i] != expectedLines[i] {
			return formatDiff(actualLines, expectedLines)
		}
	}
	return ""
}

func formatDiff(actual, expected []string) string {
	var b strings.Builder
	b.WriteString("expected\n")
	for _, line := range expected {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("got\n")
	for _, line := range actual {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
