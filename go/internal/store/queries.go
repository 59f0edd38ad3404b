package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/kifu/go/internal/models"
	"github.com/mcdev12/kifu/go/internal/sqlutil"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries runs the store's statements against a connection or transaction.
type Queries struct {
	db      DBTX
	dialect dialect
}

func newQueries(db DBTX, d dialect) *Queries {
	return &Queries{db: db, dialect: d}
}

func runTx(ctx context.Context, db *sql.DB, d dialect, fn func(q *Queries) error) error {
	return sqlutil.Run(ctx, db, func(tx *sql.Tx) *Queries { return newQueries(tx, d) }, fn)
}

func (q *Queries) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.dialect.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.dialect.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return q.db.QueryRowContext(ctx, q.dialect.rebind(query), args...)
}

// gameColumns is the column order used by every game read and write.
var gameColumns = []string{
	"id", "width", "height",
	"white_id", "white_username", "white_rating", "white_country",
	"black_id", "black_username", "black_rating", "black_country",
	"phase", "moves", "clock", "time_control", "player_to_move_id",
	"outcome", "white_lost", "black_lost", "white_score", "black_score",
	"removed_stones", "white_stones_accepted", "black_stones_accepted",
	"undo_requested", "paused_since", "ended", "messages_count",
}

// upsertColumns are replaced when a snapshot for a known game is inserted.
// messages_count is maintained outside the sync engine.
var upsertColumns = gameColumns[1 : len(gameColumns)-1]

var (
	selectGamesSQL = "SELECT " + strings.Join(gameColumns, ", ") + " FROM games"

	upsertGameSQL = func() string {
		sets := make([]string, len(upsertColumns))
		for i, c := range upsertColumns {
			sets[i] = c + " = excluded." + c
		}
		return "INSERT INTO games (" + strings.Join(gameColumns, ", ") + ") VALUES (" +
			placeholders(len(gameColumns)) + ") ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
	}()

	updateGameSQL = func() string {
		sets := make([]string, len(upsertColumns))
		for i, c := range upsertColumns {
			sets[i] = c + " = ?"
		}
		return "UPDATE games SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	}()
)

// gameArgs returns the values of g in gameColumns order.
func gameArgs(g models.Game) ([]interface{}, error) {
	moves := g.Moves
	if moves == nil {
		moves = []models.Cell{}
	}
	movesJSON, err := json.Marshal(moves)
	if err != nil {
		return nil, fmt.Errorf("marshal moves: %w", err)
	}
	clock, err := sqlutil.ToNullJSON(g.Clock)
	if err != nil {
		return nil, err
	}
	tc, err := sqlutil.ToNullJSON(g.TimeControl)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		g.ID, g.Width, g.Height,
		g.WhitePlayer.ID, g.WhitePlayer.Username, g.WhitePlayer.Rating, g.WhitePlayer.Country,
		g.BlackPlayer.ID, g.BlackPlayer.Username, g.BlackPlayer.Rating, g.BlackPlayer.Country,
		string(g.Phase), string(movesJSON), clock, tc, g.PlayerToMoveID,
		g.Outcome, sqlutil.ToSqlBool(g.WhiteLost), sqlutil.ToSqlBool(g.BlackLost),
		sqlutil.ToSqlFloat64(g.WhiteScore), sqlutil.ToSqlFloat64(g.BlackScore),
		g.RemovedStones, sqlutil.ToSqlString(g.WhiteStonesAccepted), sqlutil.ToSqlString(g.BlackStonesAccepted),
		sqlutil.ToSqlInt32(g.UndoRequested), sqlutil.ToSqlMillis(g.PausedSince), sqlutil.ToSqlMillis(g.Ended),
		g.MessagesCount,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGame(row rowScanner) (models.Game, error) {
	var (
		g                            models.Game
		phase, moves                 string
		clock, tc                    pqtype.NullRawMessage
		whiteLost, blackLost         sql.NullInt64
		whiteScore, blackScore       sql.NullFloat64
		whiteAccepted, blackAccepted sql.NullString
		undo                         sql.NullInt32
		pausedSince, ended           sql.NullInt64
	)
	err := row.Scan(
		&g.ID, &g.Width, &g.Height,
		&g.WhitePlayer.ID, &g.WhitePlayer.Username, &g.WhitePlayer.Rating, &g.WhitePlayer.Country,
		&g.BlackPlayer.ID, &g.BlackPlayer.Username, &g.BlackPlayer.Rating, &g.BlackPlayer.Country,
		&phase, &moves, &clock, &tc, &g.PlayerToMoveID,
		&g.Outcome, &whiteLost, &blackLost, &whiteScore, &blackScore,
		&g.RemovedStones, &whiteAccepted, &blackAccepted,
		&undo, &pausedSince, &ended, &g.MessagesCount,
	)
	if err != nil {
		return models.Game{}, err
	}

	g.Phase = models.Phase(phase)
	if err := json.Unmarshal([]byte(moves), &g.Moves); err != nil {
		return models.Game{}, fmt.Errorf("unmarshal moves of game %d: %w", g.ID, err)
	}
	if g.Clock, err = sqlutil.FromNullJSON[models.Clock](clock); err != nil {
		return models.Game{}, fmt.Errorf("game %d clock: %w", g.ID, err)
	}
	if g.TimeControl, err = sqlutil.FromNullJSON[models.TimeControl](tc); err != nil {
		return models.Game{}, fmt.Errorf("game %d time control: %w", g.ID, err)
	}
	g.WhiteLost = sqlutil.FromSqlBool(whiteLost)
	g.BlackLost = sqlutil.FromSqlBool(blackLost)
	g.WhiteScore = sqlutil.FromSqlFloat64(whiteScore)
	g.BlackScore = sqlutil.FromSqlFloat64(blackScore)
	g.WhiteStonesAccepted = sqlutil.FromSqlStringPtr(whiteAccepted)
	g.BlackStonesAccepted = sqlutil.FromSqlStringPtr(blackAccepted)
	g.UndoRequested = sqlutil.FromSqlInt32(undo)
	g.PausedSince = sqlutil.FromSqlMillis(pausedSince)
	g.Ended = sqlutil.FromSqlMillis(ended)
	return g, nil
}

func (q *Queries) listGames(ctx context.Context, query string, args ...interface{}) ([]models.Game, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	games := []models.Game{}
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (q *Queries) listIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *Queries) upsertGame(ctx context.Context, g models.Game) error {
	args, err := gameArgs(g)
	if err != nil {
		return err
	}
	_, err = q.exec(ctx, upsertGameSQL, args...)
	return err
}

func (q *Queries) updateGame(ctx context.Context, g models.Game) error {
	args, err := gameArgs(g)
	if err != nil {
		return err
	}
	// Drop id and messages_count, then append id for the WHERE clause.
	args = append(args[1:len(args)-1], g.ID)
	_, err = q.exec(ctx, updateGameSQL, args...)
	return err
}

func (q *Queries) getGame(ctx context.Context, id int64) (models.Game, error) {
	return scanGame(q.queryRow(ctx, selectGamesSQL+" WHERE id = ?", id))
}

func (q *Queries) getMetadata(ctx context.Context) (models.HistoricGamesMetadata, error) {
	var (
		meta           models.HistoricGamesMetadata
		oldest, newest sql.NullInt64
		loaded         int64
	)
	err := q.queryRow(ctx,
		"SELECT oldest_game_ended, newest_game_ended, loaded_oldest_game FROM historic_games_metadata WHERE id = 1",
	).Scan(&oldest, &newest, &loaded)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, nil
	}
	if err != nil {
		return meta, err
	}
	meta.OldestGameEnded = sqlutil.FromSqlMillis(oldest)
	meta.NewestGameEnded = sqlutil.FromSqlMillis(newest)
	meta.LoadedOldestGame = loaded != 0
	return meta, nil
}

func (q *Queries) putMetadata(ctx context.Context, meta models.HistoricGamesMetadata) error {
	_, err := q.exec(ctx, `
		INSERT INTO historic_games_metadata (id, oldest_game_ended, newest_game_ended, loaded_oldest_game)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			oldest_game_ended  = excluded.oldest_game_ended,
			newest_game_ended  = excluded.newest_game_ended,
			loaded_oldest_game = excluded.loaded_oldest_game`,
		sqlutil.ToSqlMillis(meta.OldestGameEnded),
		sqlutil.ToSqlMillis(meta.NewestGameEnded),
		sqlutil.BoolToInt(meta.LoadedOldestGame),
	)
	return err
}
