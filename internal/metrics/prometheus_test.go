package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(EventRegistered)
	m.Add(EventRelayForwarded, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE parley_hub_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `parley_hub_events_total{event="relay_forwarded"} 2`) {
		t.Fatalf("missing relay counter: %s", body)
	}
	if !strings.Contains(body, `parley_hub_events_total{event="registered"} 1`) {
		t.Fatalf("missing register counter: %s", body)
	}
	// Ensure label escaping matches Prometheus text format rules.
	if !strings.Contains(body, `parley_hub_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	m := New()
	m.Inc(EventLogout)
	snap := m.Snapshot()
	snap[EventLogout] = 100
	if m.Get(EventLogout) != 1 {
		t.Fatalf("snapshot must be a copy")
	}
}
