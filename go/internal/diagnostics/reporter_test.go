package diagnostics

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mcdev12/kifu/go/clients"
)

func TestReportErrorSetsRateLimitFlag(t *testing.T) {
	t.Parallel()

	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	r := NewReporter(metrics)

	r.ReportError("fetchGame", errors.New("boom"))
	if r.Flag(FlagHitRateLimiter) {
		t.Fatal("rate limit flag set by a plain error")
	}

	r.ReportError("fetchGame", fmt.Errorf("fetch game 3: %w", &clients.HTTPError{StatusCode: http.StatusTooManyRequests}))
	if !r.Flag(FlagHitRateLimiter) {
		t.Error("rate limit flag not set after 429")
	}
	if got := testutil.ToFloat64(metrics.rateLimited); got != 1 {
		t.Errorf("rate limited counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.syncErrors.WithLabelValues("fetchGame", "permanent")); got != 1 {
		t.Errorf("permanent errors = %v, want 1", got)
	}

	// The flag is standing: later errors never clear it.
	r.ReportError("fetchGame", errors.New("another"))
	if !r.Flags()[FlagHitRateLimiter] {
		t.Error("rate limit flag cleared by a later error")
	}
}

func TestReportAnomalyCounts(t *testing.T) {
	t.Parallel()

	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	r := NewReporter(metrics)
	r.ReportAnomaly("refreshActiveGames", 12, "game not returned by overview but not finished")

	if got := testutil.ToFloat64(metrics.anomalies.WithLabelValues("refreshActiveGames")); got != 1 {
		t.Errorf("anomalies = %v, want 1", got)
	}
}
