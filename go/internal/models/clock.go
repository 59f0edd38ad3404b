package models

import (
	"time"
)

// TimeSystem names a time control scheme.
type TimeSystem string

const (
	TimeSystemFischer  TimeSystem = "fischer"
	TimeSystemByoyomi  TimeSystem = "byoyomi"
	TimeSystemCanadian TimeSystem = "canadian"
	TimeSystemSimple   TimeSystem = "simple"
	TimeSystemAbsolute TimeSystem = "absolute"
	TimeSystemNone     TimeSystem = "none"
)

// TimeControl holds the game's time settings. Durations are in seconds as
// reported by the service.
type TimeControl struct {
	System        TimeSystem `json:"system"`
	InitialTime   int        `json:"initial_time,omitempty"`
	TimeIncrement int        `json:"time_increment,omitempty"`
	MaxTime       int        `json:"max_time,omitempty"`
	MainTime      int        `json:"main_time,omitempty"`
	PeriodTime    int        `json:"period_time,omitempty"`
	Periods       int        `json:"periods,omitempty"`
	PerMove       int        `json:"per_move,omitempty"`
	TotalTime     int        `json:"total_time,omitempty"`
}

// PlayerTime is the structured per-side clock used by period based systems.
type PlayerTime struct {
	ThinkingTime time.Duration  `json:"thinking_time"`
	Periods      *int           `json:"periods,omitempty"`
	PeriodTime   *time.Duration `json:"period_time,omitempty"`
}

// Clock is the last clock state received for a game. For each side at most one
// of the simple and structured representations is set.
type Clock struct {
	CurrentPlayerID int64          `json:"current_player_id"`
	LastMove        time.Time      `json:"last_move"`
	Expiration      *time.Time     `json:"expiration,omitempty"`
	ServerNow       *time.Time     `json:"server_now,omitempty"`
	PausedSince     *time.Time     `json:"paused_since,omitempty"`
	StartMode       bool           `json:"start_mode"`
	WhiteTimeSimple *time.Duration `json:"white_time_simple,omitempty"`
	BlackTimeSimple *time.Duration `json:"black_time_simple,omitempty"`
	WhiteTime       *PlayerTime    `json:"white_time,omitempty"`
	BlackTime       *PlayerTime    `json:"black_time,omitempty"`
}
