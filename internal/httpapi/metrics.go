package httpapi

import (
	"net/http"
	"regexp"
	"sync"
)

// apiMetrics counts requests by "METHOD /normalized/path". Counts include
// requests later rejected by the auth middleware (401) and unmatched paths
// that end as 404 responses.
type apiMetrics struct {
	mu     sync.RWMutex
	counts map[string]int
}

func newAPIMetrics() *apiMetrics {
	return &apiMetrics{counts: map[string]int{}}
}

var apiPathNormalizers = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{pattern: regexp.MustCompile(`^/api/v1/approvals/[^/]+/approve$`), replacement: "/api/v1/approvals/{id}/approve"},
	{pattern: regexp.MustCompile(`^/api/v1/approvals/[^/]+/reject$`), replacement: "/api/v1/approvals/{id}/reject"},
	{pattern: regexp.MustCompile(`^/api/v1/approvals/[^/]+/steer$`), replacement: "/api/v1/approvals/{id}/steer"},
	{pattern: regexp.MustCompile(`^/api/v1/nemawashi/[^/]+/request-approval$`), replacement: "/api/v1/nemawashi/{action_id}/request-approval"},
	{pattern: regexp.MustCompile(`^/api/v1/nemawashi/[^/]+/execute$`), replacement: "/api/v1/nemawashi/{action_id}/execute"},
	{pattern: regexp.MustCompile(`^/api/v1/audit/[^/]+$`), replacement: "/api/v1/audit/{thread_id}"},
}

func normalizeAPIPath(path string) string {
	for _, normalizer := range apiPathNormalizers {
		if normalizer.pattern.MatchString(path) {
			// Keep replacements literal; never interpret $n as backreferences.
			return normalizer.pattern.ReplaceAllLiteralString(path, normalizer.replacement)
		}
	}
	return path
}

func endpointKey(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return r.Method + " " + normalizeAPIPath(path)
}

func (m *apiMetrics) record(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[endpoint]++
}

func (m *apiMetrics) snapshot() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.counts))
	for endpoint, count := range m.counts {
		out[endpoint] = count
	}
	return out
}

// middleware records every request that reaches the router.
func (m *apiMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.record(endpointKey(r))
		next.ServeHTTP(w, r)
	})
}

// MetricsResponse is the JSON body of GET /api/v1/metrics.
type MetricsResponse struct {
	APIRequestCounts map[string]int `json:"api_request_counts"`
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MetricsResponse{APIRequestCounts: s.metrics.snapshot()})
}
