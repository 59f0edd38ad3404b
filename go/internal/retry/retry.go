package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is the fixed wait between attempts after a transient failure.
const DefaultInterval = 15 * time.Second

// Kind is the retry classification of an error.
type Kind int

const (
	// Permanent errors terminate the pipeline.
	Permanent Kind = iota
	// Transient errors are I/O failures that are retried forever.
	Transient
	// RateLimited is an HTTP 429. It is not retried but is reported distinctly.
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	default:
		return "permanent"
	}
}

// statusCoder is implemented by HTTP errors returned from the remote client.
type statusCoder interface {
	HTTPStatus() int
}

// Classify maps err onto the retry taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return Permanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Permanent
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		if sc.HTTPStatus() == http.StatusTooManyRequests {
			return RateLimited
		}
		return Permanent
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}

	var transient *transientError
	if errors.As(err, &transient) {
		return Transient
	}

	return Permanent
}

// IsRateLimited reports whether err is an HTTP 429.
func IsRateLimited(err error) bool {
	return Classify(err) == RateLimited
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient flags err as an I/O failure for errors that do not carry a
// net or io cause, such as a dropped push connection.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Policy retries transient failures forever at a fixed interval.
type Policy struct {
	clock    clockwork.Clock
	interval time.Duration
}

// NewPolicy returns a policy using clock and the default interval.
func NewPolicy(clock clockwork.Clock) *Policy {
	return NewPolicyWithInterval(clock, DefaultInterval)
}

// NewPolicyWithInterval returns a policy that waits interval between attempts.
func NewPolicyWithInterval(clock clockwork.Clock, interval time.Duration) *Policy {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Policy{clock: clock, interval: interval}
}

// Interval returns the wait between attempts.
func (p *Policy) Interval() time.Duration {
	return p.interval
}

// Run calls fn until it succeeds, fails with a non-transient error, or ctx ends.
func (p *Policy) Run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is Run for functions that produce a value.
func Do[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if Classify(err) != Transient {
			return zero, err
		}

		log.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("retry_in", p.interval).
			Msg("transient failure, retrying")

		timer := p.clock.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.Chan():
		}
	}
}
