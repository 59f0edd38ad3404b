package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/kifu/go/internal/models"
	"github.com/mcdev12/kifu/go/internal/sqlutil"
)

// PageSize bounds the completed-game views.
const PageSize = 10

const playerFilter = "(white_id = ? OR black_id = ?)"

// InsertGames upserts full snapshots. Existing rows keep their messages count.
func (s *SQLStore) InsertGames(ctx context.Context, games []models.Game) error {
	if len(games) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(q *Queries) error {
		for _, g := range games {
			if err := q.upsertGame(ctx, g); err != nil {
				return fmt.Errorf("upsert game %d: %w", g.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: insert games: %w", err)
	}
	return nil
}

// UpdateGames overwrites already stored games with fresh snapshots.
func (s *SQLStore) UpdateGames(ctx context.Context, games []models.Game) error {
	if len(games) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(q *Queries) error {
		for _, g := range games {
			if err := q.updateGame(ctx, g); err != nil {
				return fmt.Errorf("update game %d: %w", g.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: update games: %w", err)
	}
	return nil
}

// GetGame returns one stored game or ErrNotFound.
func (s *SQLStore) GetGame(ctx context.Context, id int64) (models.Game, error) {
	g, err := s.q.getGame(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Game{}, ErrNotFound
	}
	if err != nil {
		return models.Game{}, fmt.Errorf("store: get game %d: %w", id, err)
	}
	return g, nil
}

// updateColumns runs a single-row column update and wakes watchers.
func (s *SQLStore) updateColumns(ctx context.Context, op string, id int64, set string, args ...interface{}) error {
	args = append(args, id)
	if _, err := s.q.exec(ctx, "UPDATE games SET "+set+" WHERE id = ?", args...); err != nil {
		return fmt.Errorf("store: %s of game %d: %w", op, id, err)
	}
	s.changed(ctx)
	return nil
}

// UpdateGameData applies an authoritative full snapshot.
func (s *SQLStore) UpdateGameData(ctx context.Context, id int64, u models.GameDataUpdate) error {
	moves, err := marshalMoves(u.Moves)
	if err != nil {
		return err
	}
	clock, err := sqlutil.ToNullJSON(u.Clock)
	if err != nil {
		return err
	}
	return s.updateColumns(ctx, "update game data", id, `
		outcome = ?, phase = ?, player_to_move_id = ?, moves = ?, removed_stones = ?,
		white_score = ?, black_score = ?, clock = ?, undo_requested = ?,
		white_lost = ?, black_lost = ?, paused_since = ?, ended = ?`,
		u.Outcome, string(u.Phase), u.PlayerToMoveID, moves, u.RemovedStones,
		sqlutil.ToSqlFloat64(u.WhiteScore), sqlutil.ToSqlFloat64(u.BlackScore), clock,
		sqlutil.ToSqlInt32(u.UndoRequested),
		sqlutil.ToSqlBool(u.WhiteLost), sqlutil.ToSqlBool(u.BlackLost),
		sqlutil.ToSqlMillis(u.PausedSince), sqlutil.ToSqlMillis(u.Ended),
	)
}

// UpdateClock replaces the clock and the player to move.
func (s *SQLStore) UpdateClock(ctx context.Context, id int64, playerToMoveID int64, clock *models.Clock) error {
	raw, err := sqlutil.ToNullJSON(clock)
	if err != nil {
		return err
	}
	var pausedSince *time.Time
	if clock != nil {
		pausedSince = clock.PausedSince
	}
	return s.updateColumns(ctx, "update clock", id,
		"clock = ?, player_to_move_id = ?, paused_since = ?",
		raw, playerToMoveID, sqlutil.ToSqlMillis(pausedSince),
	)
}

// UpdatePhase replaces the phase.
func (s *SQLStore) UpdatePhase(ctx context.Context, id int64, phase models.Phase) error {
	return s.updateColumns(ctx, "update phase", id, "phase = ?", string(phase))
}

// UpdateMoves replaces the whole move list.
func (s *SQLStore) UpdateMoves(ctx context.Context, id int64, moves []models.Cell) error {
	raw, err := marshalMoves(moves)
	if err != nil {
		return err
	}
	return s.updateColumns(ctx, "update moves", id, "moves = ?", raw)
}

// UpdateRemovedStones replaces the current removal proposal.
func (s *SQLStore) UpdateRemovedStones(ctx context.Context, id int64, removed string) error {
	return s.updateColumns(ctx, "update removed stones", id, "removed_stones = ?", removed)
}

// UpdateRemovedStonesAccepted replaces both sides' accepted removal strings.
func (s *SQLStore) UpdateRemovedStonesAccepted(ctx context.Context, id int64, white, black *string) error {
	return s.updateColumns(ctx, "update accepted stones", id,
		"white_stones_accepted = ?, black_stones_accepted = ?",
		sqlutil.ToSqlString(white), sqlutil.ToSqlString(black),
	)
}

// UpdateUndoRequested records the move number a pending undo refers to.
func (s *SQLStore) UpdateUndoRequested(ctx context.Context, id int64, moveNo int) error {
	return s.updateColumns(ctx, "update undo request", id, "undo_requested = ?", moveNo)
}

// ActiveGames lists unfinished games userID plays in.
func (s *SQLStore) ActiveGames(ctx context.Context, userID int64) ([]models.Game, error) {
	games, err := s.q.listGames(ctx,
		selectGamesSQL+" WHERE phase <> ? AND "+playerFilter+" ORDER BY id",
		string(models.PhaseFinished), userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: active games: %w", err)
	}
	return games, nil
}

// RecentGames lists the most recently ended games of userID.
func (s *SQLStore) RecentGames(ctx context.Context, userID int64) ([]models.Game, error) {
	games, err := s.q.listGames(ctx,
		selectGamesSQL+" WHERE phase = ? AND ended IS NOT NULL AND "+playerFilter+
			" ORDER BY ended DESC LIMIT ?",
		string(models.PhaseFinished), userID, userID, PageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent games: %w", err)
	}
	return games, nil
}

// FinishedNotRecentGames lists the page of finished games that follows the
// recent games.
func (s *SQLStore) FinishedNotRecentGames(ctx context.Context, userID int64) ([]models.Game, error) {
	games, err := s.q.listGames(ctx,
		selectGamesSQL+" WHERE phase = ? AND "+playerFilter+
			" AND id NOT IN (SELECT id FROM games WHERE phase = ? AND ended IS NOT NULL AND "+playerFilter+
			" ORDER BY ended DESC LIMIT ?) ORDER BY ended DESC LIMIT ?",
		string(models.PhaseFinished), userID, userID,
		string(models.PhaseFinished), userID, userID, PageSize,
		PageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("store: finished not recent games: %w", err)
	}
	return games, nil
}

// FinishedGamesEndedBefore lists the page of finished games that ended before ts.
func (s *SQLStore) FinishedGamesEndedBefore(ctx context.Context, userID int64, ts time.Time) ([]models.Game, error) {
	games, err := s.q.listGames(ctx,
		selectGamesSQL+" WHERE phase = ? AND ended < ? AND "+playerFilter+" ORDER BY ended DESC LIMIT ?",
		string(models.PhaseFinished), ts.UnixMilli(), userID, userID, PageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("store: finished games before %d: %w", ts.UnixMilli(), err)
	}
	return games, nil
}

// HistoricGamesThatDontNeedUpdating returns the subset of ids already stored as
// finished. Those snapshots are final and never need fetching again.
func (s *SQLStore) HistoricGamesThatDontNeedUpdating(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return []int64{}, nil
	}
	args := append([]interface{}{string(models.PhaseFinished)}, int64Args(ids)...)
	found, err := s.q.listIDs(ctx,
		"SELECT id FROM games WHERE phase = ? AND id IN ("+placeholders(len(ids))+") ORDER BY id",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("store: games that don't need updating: %w", err)
	}
	return found, nil
}

// GamesThatShouldBeFinished returns games userID plays that are stored as
// unfinished but missing from the remote active listing.
func (s *SQLStore) GamesThatShouldBeFinished(ctx context.Context, userID int64, activeIDs []int64) ([]int64, error) {
	query := "SELECT id FROM games WHERE phase <> ? AND " + playerFilter
	args := []interface{}{string(models.PhaseFinished), userID, userID}
	if len(activeIDs) > 0 {
		query += " AND id NOT IN (" + placeholders(len(activeIDs)) + ")"
		args = append(args, int64Args(activeIDs)...)
	}
	ids, err := s.q.listIDs(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("store: games that should be finished: %w", err)
	}
	return ids, nil
}

func marshalMoves(moves []models.Cell) (string, error) {
	if moves == nil {
		moves = []models.Cell{}
	}
	raw, err := json.Marshal(moves)
	if err != nil {
		return "", fmt.Errorf("store: marshal moves: %w", err)
	}
	return string(raw), nil
}
