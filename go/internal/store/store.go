package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver registered as "pgx".
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/mcdev12/kifu/go/internal/dbconfig"
)

// ErrNotFound is returned by point reads for a missing game.
var ErrNotFound = errors.New("store: game not found")

// NotifyChannel is the Postgres channel used to invalidate watchers in other
// processes sharing the database.
const NotifyChannel = "kifu_games"

// schema is applied on every open; each statement is idempotent. The DDL is
// valid for both SQLite and Postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS games (
    id                    BIGINT PRIMARY KEY,
    width                 INTEGER NOT NULL DEFAULT 19,
    height                INTEGER NOT NULL DEFAULT 19,
    white_id              BIGINT NOT NULL DEFAULT 0,
    white_username        TEXT NOT NULL DEFAULT '',
    white_rating          DOUBLE PRECISION NOT NULL DEFAULT 0,
    white_country         TEXT NOT NULL DEFAULT '',
    black_id              BIGINT NOT NULL DEFAULT 0,
    black_username        TEXT NOT NULL DEFAULT '',
    black_rating          DOUBLE PRECISION NOT NULL DEFAULT 0,
    black_country         TEXT NOT NULL DEFAULT '',
    phase                 TEXT NOT NULL,
    moves                 TEXT NOT NULL DEFAULT '[]',
    clock                 TEXT,
    time_control          TEXT,
    player_to_move_id     BIGINT NOT NULL DEFAULT 0,
    outcome               TEXT NOT NULL DEFAULT '',
    white_lost            INTEGER,
    black_lost            INTEGER,
    white_score           DOUBLE PRECISION,
    black_score           DOUBLE PRECISION,
    removed_stones        TEXT NOT NULL DEFAULT '',
    white_stones_accepted TEXT,
    black_stones_accepted TEXT,
    undo_requested        INTEGER,
    paused_since          BIGINT,
    ended                 BIGINT,
    messages_count        INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS games_phase_ended ON games (phase, ended)`,
	`CREATE INDEX IF NOT EXISTS games_white_id ON games (white_id)`,
	`CREATE INDEX IF NOT EXISTS games_black_id ON games (black_id)`,
	`CREATE TABLE IF NOT EXISTS historic_games_metadata (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    oldest_game_ended  BIGINT,
    newest_game_ended  BIGINT,
    loaded_oldest_game INTEGER NOT NULL DEFAULT 0
)`,
}

// dialect papers over placeholder syntax.
type dialect struct {
	postgres bool
}

// rebind rewrites ? placeholders as $n for Postgres.
func (d dialect) rebind(q string) string {
	if !d.postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore is the local mirror of remote games.
type SQLStore struct {
	db      *sql.DB
	q       *Queries
	dialect dialect
	hub     *changeHub

	stopListener context.CancelFunc
	listenerDone chan struct{}
}

// Open opens the store configured by cfg.
func Open(ctx context.Context, cfg dbconfig.Config) (*SQLStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if cfg.Driver == dbconfig.DriverPostgres {
		return OpenPostgres(ctx, cfg.DSN())
	}
	return OpenSQLite(ctx, cfg.Path)
}

// OpenSQLite opens (or creates) a SQLite database at path in WAL mode.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite has a single writer; one pooled connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set busy timeout: %w", err)
	}

	s, err := newStore(ctx, db, dialect{})
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("opened sqlite game store")
	return s, nil
}

// OpenPostgres connects to Postgres and listens for change notifications from
// other processes.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s, err := newStore(ctx, db, dialect{postgres: true})
	if err != nil {
		db.Close()
		return nil, err
	}

	listener, err := newChangeListener(dsn, NotifyChannel, s.hub)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	lctx, cancel := context.WithCancel(context.Background())
	s.stopListener = cancel
	s.listenerDone = make(chan struct{})
	go func() {
		defer close(s.listenerDone)
		listener.Start(lctx)
	}()

	log.Info().Msg("opened postgres game store")
	return s, nil
}

func newStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("store: create schema: %w", err)
		}
	}
	return &SQLStore{
		db:      db,
		q:       newQueries(db, d),
		dialect: d,
		hub:     newChangeHub(),
	}, nil
}

// Close stops the change listener and closes the database.
func (s *SQLStore) Close() error {
	if s.stopListener != nil {
		s.stopListener()
		<-s.listenerDone
	}
	return s.db.Close()
}

// changed wakes every watcher after a committed write.
func (s *SQLStore) changed(ctx context.Context) {
	s.hub.notify()
	if !s.dialect.postgres {
		return
	}
	if _, err := s.db.ExecContext(ctx, "SELECT pg_notify($1, '')", NotifyChannel); err != nil {
		log.Warn().Err(err).Msg("failed to publish store change notification")
	}
}

func (s *SQLStore) inTx(ctx context.Context, fn func(q *Queries) error) error {
	if err := runTx(ctx, s.db, s.dialect, fn); err != nil {
		return err
	}
	s.changed(ctx)
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
