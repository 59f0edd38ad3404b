package models

import (
	"time"
)

// Phase is the lifecycle stage of a game.
type Phase string

const (
	PhasePlay         Phase = "play"
	PhaseStoneRemoval Phase = "stone removal"
	PhaseFinished     Phase = "finished"
)

// Cell is a board coordinate. The pass move is encoded as (-1, -1).
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PassCell is the cell submitted and recorded for a pass.
var PassCell = Cell{X: -1, Y: -1}

// IsPass reports whether the cell encodes a pass.
func (c Cell) IsPass() bool {
	return c.X == -1 && c.Y == -1
}

// Player is one side of a game.
type Player struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Rating   float64 `json:"rating"`
	Country  string  `json:"country,omitempty"`
}

// Game is the locally mirrored copy of a remote game.
type Game struct {
	ID                  int64        `json:"id"`
	Width               int          `json:"width"`
	Height              int          `json:"height"`
	WhitePlayer         Player       `json:"white_player"`
	BlackPlayer         Player       `json:"black_player"`
	Moves               []Cell       `json:"moves"`
	Phase               Phase        `json:"phase"`
	Clock               *Clock       `json:"clock,omitempty"`
	PlayerToMoveID      int64        `json:"player_to_move_id"`
	TimeControl         *TimeControl `json:"time_control,omitempty"`
	Outcome             string       `json:"outcome,omitempty"`
	WhiteLost           *bool        `json:"white_lost,omitempty"`
	BlackLost           *bool        `json:"black_lost,omitempty"`
	WhiteScore          *float64     `json:"white_score,omitempty"`
	BlackScore          *float64     `json:"black_score,omitempty"`
	RemovedStones       string       `json:"removed_stones,omitempty"`
	WhiteStonesAccepted *string      `json:"white_stones_accepted,omitempty"`
	BlackStonesAccepted *string      `json:"black_stones_accepted,omitempty"`
	UndoRequested       *int         `json:"undo_requested,omitempty"`
	PausedSince         *time.Time   `json:"paused_since,omitempty"`
	Ended               *time.Time   `json:"ended,omitempty"`
	MessagesCount       int          `json:"messages_count"`
}

// GameRef is a lightweight reference returned by the historic listing endpoints.
type GameRef struct {
	ID    int64
	Ended *time.Time
}

// IsPlayer reports whether userID plays either color in the game.
func (g Game) IsPlayer(userID int64) bool {
	return g.WhitePlayer.ID == userID || g.BlackPlayer.ID == userID
}

// WhiteToMove reports whether the clock is running for white.
func (g Game) WhiteToMove() bool {
	return g.PlayerToMoveID != 0 && g.PlayerToMoveID == g.WhitePlayer.ID
}

// BlackToMove reports whether the clock is running for black.
func (g Game) BlackToMove() bool {
	return g.PlayerToMoveID != 0 && g.PlayerToMoveID == g.BlackPlayer.ID
}

// IsMyTurn reports whether userID is expected to act: place a stone while the
// game is being played, or accept the current removal proposal during stone
// removal.
func (g Game) IsMyTurn(userID int64) bool {
	switch g.Phase {
	case PhasePlay:
		return g.PlayerToMoveID == userID
	case PhaseStoneRemoval:
		var accepted *string
		switch userID {
		case g.WhitePlayer.ID:
			accepted = g.WhiteStonesAccepted
		case g.BlackPlayer.ID:
			accepted = g.BlackStonesAccepted
		default:
			return false
		}
		return accepted == nil || *accepted != g.RemovedStones
	default:
		return false
	}
}

// Clone returns a deep copy of the move list so callers can mutate it freely.
func (g Game) Clone() Game {
	c := g
	if g.Moves != nil {
		c.Moves = append([]Cell(nil), g.Moves...)
	}
	return c
}

// GameDataUpdate is the set of fields replaced by an authoritative full
// snapshot of a game.
type GameDataUpdate struct {
	Outcome        string
	Phase          Phase
	PlayerToMoveID int64
	Moves          []Cell
	RemovedStones  string
	WhiteScore     *float64
	BlackScore     *float64
	Clock          *Clock
	UndoRequested  *int
	WhiteLost      *bool
	BlackLost      *bool
	PausedSince    *time.Time
	Ended          *time.Time
}

// Apply overwrites the snapshot fields of g with u.
func (u GameDataUpdate) Apply(g *Game) {
	g.Outcome = u.Outcome
	g.Phase = u.Phase
	g.PlayerToMoveID = u.PlayerToMoveID
	g.Moves = append([]Cell(nil), u.Moves...)
	g.RemovedStones = u.RemovedStones
	g.WhiteScore = u.WhiteScore
	g.BlackScore = u.BlackScore
	g.Clock = u.Clock
	g.UndoRequested = u.UndoRequested
	g.WhiteLost = u.WhiteLost
	g.BlackLost = u.BlackLost
	g.PausedSince = u.PausedSince
	g.Ended = u.Ended
}

// HistoricGamesMetadata tracks how much of the completed-game history has been
// mirrored locally. It is a persisted singleton.
type HistoricGamesMetadata struct {
	OldestGameEnded  *time.Time `json:"oldest_game_ended,omitempty"`
	NewestGameEnded  *time.Time `json:"newest_game_ended,omitempty"`
	LoadedOldestGame bool       `json:"loaded_oldest_game"`
}
