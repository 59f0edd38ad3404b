package gameclock

import (
	"fmt"
	"time"

	"github.com/mcdev12/kifu/go/internal/models"
)

// TimeLeft is one side's countdown as shown to the player.
type TimeLeft struct {
	FirstLine  string
	SecondLine string
	Remaining  time.Duration
}

// ComputeTimeLeft derives one side's remaining time at now. Time only runs for
// the side to move, and stops at the pause instant while the game is paused.
// A structured clock whose thinking time is exhausted spends byo-yomi periods.
func ComputeTimeLeft(
	clock *models.Clock,
	simple *time.Duration,
	structured *models.PlayerTime,
	toMove bool,
	pausedSince *time.Time,
	now time.Time,
) TimeLeft {
	if clock == nil {
		return TimeLeft{}
	}
	spent := elapsed(clock, toMove, pausedSince, now)

	switch {
	case structured != nil:
		return structuredTimeLeft(structured, spent)
	case simple != nil:
		remaining := *simple - spent
		if remaining < 0 {
			remaining = 0
		}
		return TimeLeft{FirstLine: FormatDuration(remaining), Remaining: remaining}
	default:
		return TimeLeft{}
	}
}

func elapsed(clock *models.Clock, toMove bool, pausedSince *time.Time, now time.Time) time.Duration {
	if !toMove || clock.LastMove.IsZero() {
		return 0
	}
	end := now
	switch {
	case pausedSince != nil:
		end = *pausedSince
	case clock.PausedSince != nil:
		end = *clock.PausedSince
	}
	d := end.Sub(clock.LastMove)
	if d < 0 {
		return 0
	}
	return d
}

func structuredTimeLeft(pt *models.PlayerTime, spent time.Duration) TimeLeft {
	periods := 0
	if pt.Periods != nil {
		periods = *pt.Periods
	}
	var periodTime time.Duration
	if pt.PeriodTime != nil {
		periodTime = *pt.PeriodTime
	}

	thinking := pt.ThinkingTime - spent
	if thinking > 0 {
		tl := TimeLeft{FirstLine: FormatDuration(thinking), Remaining: thinking}
		if periods > 0 && periodTime > 0 {
			tl.SecondLine = periodsLabel(periods, periodTime)
		}
		return tl
	}

	if periods <= 0 || periodTime <= 0 {
		return TimeLeft{FirstLine: FormatDuration(0)}
	}

	overflow := -thinking
	used := int(overflow / periodTime)
	left := periods - used
	if left <= 0 {
		return TimeLeft{FirstLine: FormatDuration(0)}
	}
	current := periodTime - overflow%periodTime
	return TimeLeft{
		FirstLine:  FormatDuration(current),
		SecondLine: periodsLabel(left, periodTime),
		Remaining:  current,
	}
}

func periodsLabel(periods int, periodTime time.Duration) string {
	if periods == 1 {
		return "SD"
	}
	return fmt.Sprintf("%d × %s", periods, FormatDuration(periodTime))
}

// FormatDuration renders a countdown with precision that shrinks as the
// duration grows.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < 10*time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		total := int(d / time.Second)
		return fmt.Sprintf("%d:%02d", total/60, total%60)
	case d < 24*time.Hour:
		total := int(d / time.Minute)
		return fmt.Sprintf("%dh %02dm", total/60, total%60)
	default:
		total := int(d / time.Hour)
		return fmt.Sprintf("%dd %dh", total/24, total%24)
	}
}
