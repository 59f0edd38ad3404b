package gameclock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/kifu/go/internal/models"
)

// Frame is one redraw of a game's countdown.
type Frame struct {
	GameID  int64
	Display Display
	Visible bool
	Next    time.Duration
}

type refreshState struct {
	game    models.Game
	loading bool
}

// Refresher owns the single redraw timer of one displayed game. Every Reset
// cancels the pending redraw, emits a frame for the new state and schedules
// the next redraw from it.
type Refresher struct {
	clock      clockwork.Clock
	serverTime func() time.Time

	resetCh chan refreshState
	frames  chan Frame
}

// NewRefresher returns a refresher pacing on clock and rendering against
// serverTime.
func NewRefresher(clock clockwork.Clock, serverTime func() time.Time) *Refresher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if serverTime == nil {
		serverTime = clock.Now
	}
	return &Refresher{
		clock:      clock,
		serverTime: serverTime,
		resetCh:    make(chan refreshState, 1),
		frames:     make(chan Frame, 1),
	}
}

// Frames delivers the most recent frame. Stale frames are dropped.
func (r *Refresher) Frames() <-chan Frame {
	return r.frames
}

// Reset replaces the game being displayed.
func (r *Refresher) Reset(game models.Game, loading bool) {
	st := refreshState{game: game, loading: loading}
	for {
		select {
		case r.resetCh <- st:
			return
		default:
		}
		select {
		case <-r.resetCh:
		default:
		}
	}
}

// Run paces redraws until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	var (
		current *refreshState
		timer   clockwork.Timer
		tick    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			stopAndDrainTimer(timer)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case st := <-r.resetCh:
			current = &st
		case <-tick:
		}
		if current == nil {
			continue
		}

		frame := r.render(*current)
		r.emit(frame)

		if timer != nil {
			stopAndDrainTimer(timer)
		}
		timer = r.clock.NewTimer(frame.Next)
		tick = timer.Chan()
	}
}

func (r *Refresher) render(st refreshState) Frame {
	d, ok := Compute(st.game, r.serverTime(), st.loading)
	next := DefaultRefresh
	if ok {
		next = RefreshInterval(d.Remaining)
	}
	return Frame{GameID: st.game.ID, Display: d, Visible: ok, Next: next}
}

func (r *Refresher) emit(f Frame) {
	select {
	case <-r.frames:
	default:
	}
	r.frames <- f
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
