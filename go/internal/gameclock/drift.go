package gameclock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DriftTracker estimates server time from the offset observed in clock events.
type DriftTracker struct {
	clock clockwork.Clock

	mu     sync.RWMutex
	offset time.Duration
}

func NewDriftTracker(clock clockwork.Clock) *DriftTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DriftTracker{clock: clock}
}

// Observe records the server's notion of now at the moment it is received.
func (d *DriftTracker) Observe(serverNow time.Time) {
	offset := serverNow.Sub(d.clock.Now())
	d.mu.Lock()
	d.offset = offset
	d.mu.Unlock()
}

// Offset is server time minus local time.
func (d *DriftTracker) Offset() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.offset
}

// ServerTime is the local clock corrected by the last observed offset.
func (d *DriftTracker) ServerTime() time.Time {
	return d.clock.Now().Add(d.Offset())
}
