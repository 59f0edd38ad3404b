package diagnostics

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/clients"
	"github.com/mcdev12/kifu/go/internal/retry"
)

// FlagHitRateLimiter is set once any remote request has been rejected with 429.
const FlagHitRateLimiter = "HIT_RATE_LIMITER"

// Reporter is the terminal handler of every sync pipeline. It logs, counts,
// and keeps standing flags that stay set for the life of the process.
type Reporter struct {
	metrics MetricsCollector

	mu    sync.RWMutex
	flags map[string]bool
}

// NewReporter returns a reporter writing counters to metrics. A nil collector
// disables metrics.
func NewReporter(metrics MetricsCollector) *Reporter {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &Reporter{
		metrics: metrics,
		flags:   make(map[string]bool),
	}
}

// Metrics returns the collector used by the reporter.
func (r *Reporter) Metrics() MetricsCollector {
	return r.metrics
}

// ReportError records a failure that ended the named operation.
func (r *Reporter) ReportError(operation string, err error) {
	if err == nil {
		return
	}
	kind := retry.Classify(err)

	message := operation
	var httpErr *clients.HTTPError
	if errors.As(err, &httpErr) {
		message = operation + ": " + httpErr.Body
	}

	if kind == retry.RateLimited {
		r.SetFlag(FlagHitRateLimiter)
		r.metrics.RecordRateLimited()
		log.Warn().
			Str("operation", operation).
			Msg("remote API rate limit hit")
	}

	r.metrics.RecordSyncError(operation, kind.String())
	log.Error().
		Err(err).
		Str("operation", operation).
		Str("kind", kind.String()).
		Msg(message)
}

// ReportAnomaly records a non-fatal consistency problem.
func (r *Reporter) ReportAnomaly(operation string, gameID int64, message string) {
	r.metrics.RecordAnomaly(operation)
	log.Warn().
		Str("operation", operation).
		Int64("game_id", gameID).
		Msg(message)
}

// SetFlag raises a standing diagnostic flag.
func (r *Reporter) SetFlag(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[name] = true
}

// Flag reports whether the named flag has been raised.
func (r *Reporter) Flag(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags[name]
}

// Flags returns a copy of all raised flags.
func (r *Reporter) Flags() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.flags))
	for k, v := range r.flags {
		out[k] = v
	}
	return out
}
