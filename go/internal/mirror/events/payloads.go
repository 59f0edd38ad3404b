package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/kifu/go/internal/models"
)

// Wire payloads shared by the REST client and the push transports. Timestamps
// in clock payloads are epoch milliseconds, durations are seconds.

// PlayerPayload describes a player inside a game snapshot.
type PlayerPayload struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Rating   float64 `json:"rating"`
	Country  string  `json:"country,omitempty"`
}

// ScorePayload is one side's score.
type ScorePayload struct {
	Total float64 `json:"total"`
}

// PlayerTimePayload is a structured side clock.
type PlayerTimePayload struct {
	ThinkingTime float64  `json:"thinking_time"`
	Periods      *int     `json:"periods,omitempty"`
	PeriodTime   *float64 `json:"period_time,omitempty"`
}

// SideTime holds a side clock that is either a bare number of seconds or a
// structured object.
type SideTime struct {
	Simple     *float64
	Structured *PlayerTimePayload
}

func (s *SideTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '{' {
		var p PlayerTimePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode structured time: %w", err)
		}
		s.Structured = &p
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode simple time: %w", err)
	}
	s.Simple = &f
	return nil
}

func (s SideTime) MarshalJSON() ([]byte, error) {
	switch {
	case s.Structured != nil:
		return json.Marshal(s.Structured)
	case s.Simple != nil:
		return json.Marshal(*s.Simple)
	default:
		return []byte("null"), nil
	}
}

// ClockPayload is the clock event body, also embedded in full snapshots.
type ClockPayload struct {
	GameID        int64    `json:"game_id,omitempty"`
	CurrentPlayer int64    `json:"current_player"`
	LastMove      int64    `json:"last_move"`
	Expiration    *int64   `json:"expiration,omitempty"`
	Now           *int64   `json:"now,omitempty"`
	PausedSince   *int64   `json:"paused_since,omitempty"`
	StartMode     bool     `json:"start_mode,omitempty"`
	WhiteTime     SideTime `json:"white_time"`
	BlackTime     SideTime `json:"black_time"`
}

// ScoresPayload groups both sides' scores.
type ScoresPayload struct {
	White *ScorePayload `json:"white,omitempty"`
	Black *ScorePayload `json:"black,omitempty"`
}

// GameDataPayload is the authoritative full snapshot of a game.
type GameDataPayload struct {
	GameID        int64                    `json:"game_id,omitempty"`
	Width         int                      `json:"width,omitempty"`
	Height        int                      `json:"height,omitempty"`
	Phase         models.Phase             `json:"phase"`
	Moves         [][]float64              `json:"moves"`
	Clock         *ClockPayload            `json:"clock,omitempty"`
	TimeControl   *models.TimeControl      `json:"time_control,omitempty"`
	Outcome       string                   `json:"outcome,omitempty"`
	Removed       string                   `json:"removed,omitempty"`
	Score         *ScoresPayload           `json:"score,omitempty"`
	UndoRequested *int                     `json:"undo_requested,omitempty"`
	Winner        *int64                   `json:"winner,omitempty"`
	WhitePlayerID int64                    `json:"white_player_id"`
	BlackPlayerID int64                    `json:"black_player_id"`
	PausedSince   *int64                   `json:"paused_since,omitempty"`
	EndTime       *int64                   `json:"end_time,omitempty"`
	Players       map[string]PlayerPayload `json:"players,omitempty"`
}

// MovePayload announces one new move. Move holds x, y and optionally the time
// the move took.
type MovePayload struct {
	GameID     int64     `json:"game_id,omitempty"`
	MoveNumber int       `json:"move_number"`
	Move       []float64 `json:"move"`
}

// RemovedStonesPayload is a stone removal proposal.
type RemovedStonesPayload struct {
	AllRemoved *string `json:"all_removed,omitempty"`
	Stones     string  `json:"stones,omitempty"`
	Removed    bool    `json:"removed"`
}

// AcceptedStones is one side's acceptance state.
type AcceptedStones struct {
	AcceptedStones *string `json:"accepted_stones,omitempty"`
}

// AcceptedPlayers groups both sides' acceptance state.
type AcceptedPlayers struct {
	White *AcceptedStones `json:"white,omitempty"`
	Black *AcceptedStones `json:"black,omitempty"`
}

// RemovedStonesAcceptedPayload carries both sides' accepted removal strings.
type RemovedStonesAcceptedPayload struct {
	PlayerID int64            `json:"player_id,omitempty"`
	Players  *AcceptedPlayers `json:"players,omitempty"`
}

// PhasePayload is the new phase name.
type PhasePayload models.Phase

// UndoRequestedPayload is the move number an undo was requested for.
type UndoRequestedPayload int

// ActiveGamePayload is the global notification about an active game.
type ActiveGamePayload struct {
	ID    int64        `json:"id"`
	Phase models.Phase `json:"phase,omitempty"`
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func msToTimePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := msToTime(*ms)
	return &t
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Cell converts a wire move into a board cell.
func (m MovePayload) Cell() (models.Cell, error) {
	if len(m.Move) < 2 {
		return models.Cell{}, fmt.Errorf("move payload has %d coordinates", len(m.Move))
	}
	return models.Cell{X: int(m.Move[0]), Y: int(m.Move[1])}, nil
}

// Accepted returns the white and black accepted removal strings.
func (p RemovedStonesAcceptedPayload) Accepted() (white, black *string) {
	if p.Players == nil {
		return nil, nil
	}
	if p.Players.White != nil {
		white = p.Players.White.AcceptedStones
	}
	if p.Players.Black != nil {
		black = p.Players.Black.AcceptedStones
	}
	return white, black
}

// AllStones returns the full removal string of the proposal.
func (p RemovedStonesPayload) AllStones() string {
	if p.AllRemoved != nil {
		return *p.AllRemoved
	}
	return ""
}

// ToClock converts the wire clock into the model clock.
func (c *ClockPayload) ToClock() *models.Clock {
	if c == nil {
		return nil
	}
	clock := &models.Clock{
		CurrentPlayerID: c.CurrentPlayer,
		LastMove:        msToTime(c.LastMove),
		Expiration:      msToTimePtr(c.Expiration),
		ServerNow:       msToTimePtr(c.Now),
		PausedSince:     msToTimePtr(c.PausedSince),
		StartMode:       c.StartMode,
	}
	clock.WhiteTimeSimple, clock.WhiteTime = c.WhiteTime.toModel()
	clock.BlackTimeSimple, clock.BlackTime = c.BlackTime.toModel()
	return clock
}

func (s SideTime) toModel() (*time.Duration, *models.PlayerTime) {
	switch {
	case s.Structured != nil:
		pt := &models.PlayerTime{
			ThinkingTime: secondsToDuration(s.Structured.ThinkingTime),
			Periods:      s.Structured.Periods,
		}
		if s.Structured.PeriodTime != nil {
			d := secondsToDuration(*s.Structured.PeriodTime)
			pt.PeriodTime = &d
		}
		return nil, pt
	case s.Simple != nil:
		d := secondsToDuration(*s.Simple)
		return &d, nil
	default:
		return nil, nil
	}
}

// MoveCells rebuilds the move list from coordinate tuples.
func (d GameDataPayload) MoveCells() []models.Cell {
	cells := make([]models.Cell, 0, len(d.Moves))
	for _, m := range d.Moves {
		if len(m) < 2 {
			continue
		}
		cells = append(cells, models.Cell{X: int(m[0]), Y: int(m[1])})
	}
	return cells
}

// ToUpdate converts the snapshot into the fields it replaces locally. The
// loser is the color whose player id is not the reported winner.
func (d GameDataPayload) ToUpdate() models.GameDataUpdate {
	u := models.GameDataUpdate{
		Outcome:       d.Outcome,
		Phase:         d.Phase,
		Moves:         d.MoveCells(),
		RemovedStones: d.Removed,
		Clock:         d.Clock.ToClock(),
		UndoRequested: d.UndoRequested,
		PausedSince:   msToTimePtr(d.PausedSince),
	}
	if d.Clock != nil {
		u.PlayerToMoveID = d.Clock.CurrentPlayer
	}
	if d.Score != nil {
		if d.Score.White != nil {
			w := d.Score.White.Total
			u.WhiteScore = &w
		}
		if d.Score.Black != nil {
			b := d.Score.Black.Total
			u.BlackScore = &b
		}
	}
	if d.Winner != nil {
		whiteLost := *d.Winner == d.BlackPlayerID
		blackLost := *d.Winner == d.WhitePlayerID
		u.WhiteLost = &whiteLost
		u.BlackLost = &blackLost
	}
	if d.EndTime != nil {
		ended := time.UnixMilli(*d.EndTime * 1000)
		u.Ended = &ended
	}
	return u
}
