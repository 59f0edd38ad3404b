package gameclock

import (
	"time"

	"github.com/mcdev12/kifu/go/internal/models"
)

// StartWindow is the basis for the start-mode countdown percentage.
const StartWindow = 300000 * time.Millisecond

// DefaultRefresh is used when there is no remaining time to pace against.
const DefaultRefresh = time.Second

// SideDisplay is the rendered countdown for one color.
type SideDisplay struct {
	FirstLine  string `json:"first_line"`
	SecondLine string `json:"second_line"`
	Percentage int    `json:"percentage"`
	Faded      bool   `json:"faded"`
}

// Display is the rendered countdown for both colors. Remaining is the time
// left for the side that is running, used to pace the next refresh.
type Display struct {
	White     SideDisplay    `json:"white"`
	Black     SideDisplay    `json:"black"`
	Remaining *time.Duration `json:"-"`
}

// MaxTime is the percentage basis for a time control. Only fischer has a
// meaningful bound; other systems use 1ms so any remaining time shows full.
func MaxTime(tc *models.TimeControl) time.Duration {
	if tc != nil && tc.System == models.TimeSystemFischer && tc.InitialTime > 0 {
		return time.Duration(tc.InitialTime) * 1000 * time.Millisecond
	}
	return time.Millisecond
}

// Percentage returns remaining as a share of max clamped to [0, 100].
func Percentage(remaining, max time.Duration) int {
	if max <= 0 {
		return 100
	}
	p := float64(remaining) / float64(max) * 100
	switch {
	case p <= 0:
		return 0
	case p >= 100:
		return 100
	default:
		return int(p)
	}
}

// Compute renders the countdown of game at serverNow. ok is false when no
// countdown should be shown: no clock, a start-mode clock without expiration,
// or a normal clock outside play and stone removal or while still loading.
func Compute(game models.Game, serverNow time.Time, loading bool) (d Display, ok bool) {
	clock := game.Clock
	if clock == nil {
		return Display{}, false
	}

	whiteToMove := game.WhiteToMove()
	blackToMove := game.BlackToMove()

	white := ComputeTimeLeft(clock, clock.WhiteTimeSimple, clock.WhiteTime, whiteToMove, game.PausedSince, serverNow)
	black := ComputeTimeLeft(clock, clock.BlackTimeSimple, clock.BlackTime, blackToMove, game.PausedSince, serverNow)

	if clock.StartMode {
		if clock.Expiration == nil {
			return Display{}, false
		}
		left := clock.Expiration.Sub(serverNow)
		running := SideDisplay{
			FirstLine:  FormatDuration(left),
			SecondLine: "(start)",
			Percentage: Percentage(left, StartWindow),
		}
		if whiteToMove {
			d.White = running
			d.Black = SideDisplay{FirstLine: black.FirstLine, SecondLine: black.SecondLine, Percentage: 100, Faded: true}
		} else {
			d.White = SideDisplay{FirstLine: white.FirstLine, SecondLine: white.SecondLine, Percentage: 100, Faded: true}
			d.Black = running
		}
		d.Remaining = &left
		return d, true
	}

	if (game.Phase != models.PhasePlay && game.Phase != models.PhaseStoneRemoval) || loading {
		return Display{}, false
	}

	maxTime := MaxTime(game.TimeControl)
	d.White = SideDisplay{
		FirstLine:  white.FirstLine,
		SecondLine: white.SecondLine,
		Percentage: Percentage(white.Remaining, maxTime),
		Faded:      blackToMove,
	}
	d.Black = SideDisplay{
		FirstLine:  black.FirstLine,
		SecondLine: black.SecondLine,
		Percentage: Percentage(black.Remaining, maxTime),
		Faded:      whiteToMove,
	}
	remaining := black.Remaining
	if whiteToMove {
		remaining = white.Remaining
	}
	d.Remaining = &remaining
	return d, true
}

// RefreshInterval is the delay until the countdown should be redrawn.
func RefreshInterval(remaining *time.Duration) time.Duration {
	if remaining == nil {
		return DefaultRefresh
	}
	switch r := *remaining; {
	case r < 10*time.Second:
		return 100 * time.Millisecond
	case r < time.Hour:
		return time.Second
	case r < 24*time.Hour:
		return time.Minute
	default:
		return 12 * time.Minute
	}
}
