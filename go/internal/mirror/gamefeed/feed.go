package gamefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/clients/realtime"
	"github.com/mcdev12/kifu/go/internal/diagnostics"
	"github.com/mcdev12/kifu/go/internal/gameclock"
	"github.com/mcdev12/kifu/go/internal/mirror/events"
	"github.com/mcdev12/kifu/go/internal/models"
	"github.com/mcdev12/kifu/go/internal/store"
)

// Store is the part of the game store a feed writes to.
type Store interface {
	GetGame(ctx context.Context, id int64) (models.Game, error)
	UpdateGameData(ctx context.Context, id int64, u models.GameDataUpdate) error
	UpdateMoves(ctx context.Context, id int64, moves []models.Cell) error
	UpdateClock(ctx context.Context, id int64, playerToMoveID int64, clock *models.Clock) error
	UpdatePhase(ctx context.Context, id int64, phase models.Phase) error
	UpdateRemovedStones(ctx context.Context, id int64, removed string) error
	UpdateRemovedStonesAccepted(ctx context.Context, id int64, white, black *string) error
	UpdateUndoRequested(ctx context.Context, id int64, moveNo int) error
}

// Feed folds the push events of one game into the store. All events of the
// game are applied by the single goroutine running Run, which also owns the
// cached move list.
type Feed struct {
	gameID   int64
	conn     realtime.GameConnection
	store    Store
	reporter *diagnostics.Reporter
	drift    *gameclock.DriftTracker

	seeds chan []models.Cell

	// Owned by Run.
	moves    []models.Cell
	phase    models.Phase
	streamed bool
}

// New returns a feed for conn. drift may be nil.
func New(conn realtime.GameConnection, st Store, reporter *diagnostics.Reporter, drift *gameclock.DriftTracker) *Feed {
	return &Feed{
		gameID:   conn.GameID(),
		conn:     conn,
		store:    st,
		reporter: reporter,
		drift:    drift,
		seeds:    make(chan []models.Cell, 1),
	}
}

// GameID is the id of the followed game.
func (f *Feed) GameID() int64 {
	return f.gameID
}

// Seed offers the store's copy of the move list. It is ignored once the
// stream itself has populated the cache.
func (f *Feed) Seed(moves []models.Cell) {
	moves = append([]models.Cell(nil), moves...)
	select {
	case f.seeds <- moves:
	default:
		// Replace the pending seed with the newer one.
		select {
		case <-f.seeds:
		default:
		}
		select {
		case f.seeds <- moves:
		default:
		}
	}
}

// Run applies events until the connection's event channel closes or ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	g, err := f.store.GetGame(ctx, f.gameID)
	switch {
	case err == nil:
		f.moves = append([]models.Cell(nil), g.Moves...)
		f.phase = g.Phase
	case errors.Is(err, store.ErrNotFound):
	default:
		f.reporter.ReportError("gamefeed.seed", err)
	}

	log.Debug().Int64("game_id", f.gameID).Int("moves", len(f.moves)).Msg("game feed started")

	evs := f.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case moves := <-f.seeds:
			if !f.streamed {
				f.moves = moves
			}
		case ev, ok := <-evs:
			if !ok {
				log.Debug().Int64("game_id", f.gameID).Msg("game feed closed")
				return nil
			}
			f.apply(ctx, ev)
		}
	}
}

func (f *Feed) apply(ctx context.Context, ev events.Event) {
	op := "gamefeed." + string(ev.Kind)

	payload, err := events.ParseEventPayload(ev)
	if err != nil {
		f.reporter.ReportError(op, fmt.Errorf("decode event %s: %w", ev.ID, err))
		return
	}

	switch p := payload.(type) {
	case events.GameDataPayload:
		u := p.ToUpdate()
		f.observeServerTime(p.Clock)
		if err := f.store.UpdateGameData(ctx, f.gameID, u); err != nil {
			f.reporter.ReportError(op, err)
			return
		}
		f.moves = u.Moves
		f.phase = u.Phase
		f.streamed = true

	case events.MovePayload:
		if f.phase == models.PhaseFinished {
			log.Debug().Int64("game_id", f.gameID).Str("event_id", ev.ID).Msg("dropping move for finished game")
			return
		}
		cell, err := p.Cell()
		if err != nil {
			f.reporter.ReportError(op, err)
			return
		}
		moves := make([]models.Cell, len(f.moves), len(f.moves)+1)
		copy(moves, f.moves)
		moves = append(moves, cell)
		if err := f.store.UpdateMoves(ctx, f.gameID, moves); err != nil {
			f.reporter.ReportError(op, err)
			return
		}
		f.moves = moves
		f.streamed = true

	case events.ClockPayload:
		f.observeServerTime(&p)
		if err := f.store.UpdateClock(ctx, f.gameID, p.CurrentPlayer, p.ToClock()); err != nil {
			f.reporter.ReportError(op, err)
		}

	case events.PhasePayload:
		if err := f.store.UpdatePhase(ctx, f.gameID, models.Phase(p)); err != nil {
			f.reporter.ReportError(op, err)
			return
		}
		f.phase = models.Phase(p)

	case events.RemovedStonesPayload:
		if err := f.store.UpdateRemovedStones(ctx, f.gameID, p.AllStones()); err != nil {
			f.reporter.ReportError(op, err)
		}

	case events.RemovedStonesAcceptedPayload:
		white, black := p.Accepted()
		if err := f.store.UpdateRemovedStonesAccepted(ctx, f.gameID, white, black); err != nil {
			f.reporter.ReportError(op, err)
		}

	case events.UndoRequestedPayload:
		if err := f.store.UpdateUndoRequested(ctx, f.gameID, int(p)); err != nil {
			f.reporter.ReportError(op, err)
		}
	}

	log.Debug().
		Int64("game_id", f.gameID).
		Str("kind", string(ev.Kind)).
		Str("event_id", ev.ID).
		Msg("applied push event")
}

func (f *Feed) observeServerTime(c *events.ClockPayload) {
	if f.drift == nil || c == nil || c.Now == nil {
		return
	}
	f.drift.Observe(time.UnixMilli(*c.Now))
}
