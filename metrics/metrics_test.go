package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 200 {
		t.Fatalf("scrape failed: %d", w.Code)
	}

	return w.Body.String()
}

func TestMetrics(t *testing.T) {
	t.Run("dispatch outcomes are exposed", func(t *testing.T) {
		m := New()
		m.ObserveDispatch("h1", 200, 30*time.Millisecond)
		m.ObserveDispatch("h1", 200, 50*time.Millisecond)
		m.ObserveDispatch("h1", 500, 10*time.Millisecond)

		body := scrape(t, m)
		for _, line := range []string{
			`portmux_dispatch_requests_total{code="200",handler="h1"} 2`,
			`portmux_dispatch_requests_total{code="500",handler="h1"} 1`,
			`portmux_dispatch_duration_seconds_count{handler="h1"} 3`,
		} {
			if !strings.Contains(body, line) {
				t.Errorf("missing %q in:\n%s", line, body)
			}
		}
	})

	t.Run("unresolved requests fall into the unknown label", func(t *testing.T) {
		m := New()
		m.ObserveDispatch("", 404, time.Millisecond)

		if !strings.Contains(scrape(t, m), `handler="unknown"`) {
			t.Error("unknown label missing")
		}
	})

	t.Run("rejections are counted by reason", func(t *testing.T) {
		m := New()
		m.IncRejection("ratelimit")
		m.IncRejection("ratelimit")
		m.IncRejection("queue_full")

		body := scrape(t, m)
		for _, line := range []string{
			`portmux_dispatch_rejections_total{reason="ratelimit"} 2`,
			`portmux_dispatch_rejections_total{reason="queue_full"} 1`,
		} {
			if !strings.Contains(body, line) {
				t.Errorf("missing %q", line)
			}
		}
	})

	t.Run("nil metrics are a no-op", func(t *testing.T) {
		var m *Metrics
		m.ObserveDispatch("h1", 200, time.Millisecond)
		m.IncRejection("ratelimit")
	})
}
