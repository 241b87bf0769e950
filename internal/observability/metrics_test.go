package observability

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsAreExposed(t *testing.T) {
	ns := fmt.Sprintf("gaia_obs_test_%d", time.Now().UnixNano())
	m := NewMetrics(ns)
	m.HTTPRequests.WithLabelValues("token", "200").Inc()
	m.ObserveUpstream("chat.completions", 420*time.Millisecond)

	rr := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{ns + "_http_requests_total", ns + "_upstream_latency_ms_bucket"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
