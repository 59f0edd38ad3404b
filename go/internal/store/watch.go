package store

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/internal/models"
)

// changeHub fans store writes out to running watch queries.
type changeHub struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newChangeHub() *changeHub {
	return &changeHub{subs: make(map[chan struct{}]struct{})}
}

func (h *changeHub) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *changeHub) unsubscribe(ch chan struct{}) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// notify never blocks; a pending wake-up already covers this change.
func (h *changeHub) notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// watchQuery re-runs load after every store change and emits its result when it
// differs from the last emission. The returned channel is closed when ctx is done.
func watchQuery[T any](ctx context.Context, s *SQLStore, name string, load func(context.Context) (T, error)) <-chan T {
	out := make(chan T)
	wake := s.hub.subscribe()

	go func() {
		defer close(out)
		defer s.hub.unsubscribe(wake)

		var (
			last    T
			emitted bool
		)
		for {
			v, err := load(ctx)
			switch {
			case err != nil && ctx.Err() != nil:
				return
			case err != nil:
				log.Error().Err(err).Str("watch", name).Msg("watch query failed")
			case !emitted || !reflect.DeepEqual(last, v):
				select {
				case out <- v:
					last, emitted = v, true
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// WatchActiveGames emits the active games of userID whenever they change.
func (s *SQLStore) WatchActiveGames(ctx context.Context, userID int64) <-chan []models.Game {
	return watchQuery(ctx, s, "active_games", func(ctx context.Context) ([]models.Game, error) {
		return s.ActiveGames(ctx, userID)
	})
}

// WatchGame emits the stored game whenever it changes. Nothing is emitted while
// the game is not stored.
func (s *SQLStore) WatchGame(ctx context.Context, id int64) <-chan models.Game {
	in := watchQuery(ctx, s, "game", func(ctx context.Context) (*models.Game, error) {
		g, err := s.GetGame(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &g, nil
	})

	out := make(chan models.Game)
	go func() {
		defer close(out)
		for g := range in {
			if g == nil {
				continue
			}
			select {
			case out <- *g:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// WatchRecentGames emits the most recently ended games of userID.
func (s *SQLStore) WatchRecentGames(ctx context.Context, userID int64) <-chan []models.Game {
	return watchQuery(ctx, s, "recent_games", func(ctx context.Context) ([]models.Game, error) {
		return s.RecentGames(ctx, userID)
	})
}

// WatchFinishedNotRecentGames emits the page of finished games after the recent ones.
func (s *SQLStore) WatchFinishedNotRecentGames(ctx context.Context, userID int64) <-chan []models.Game {
	return watchQuery(ctx, s, "finished_not_recent_games", func(ctx context.Context) ([]models.Game, error) {
		return s.FinishedNotRecentGames(ctx, userID)
	})
}

// WatchFinishedGamesEndedBefore emits the page of finished games ended before ts.
func (s *SQLStore) WatchFinishedGamesEndedBefore(ctx context.Context, userID int64, ts time.Time) <-chan []models.Game {
	return watchQuery(ctx, s, "finished_games_before", func(ctx context.Context) ([]models.Game, error) {
		return s.FinishedGamesEndedBefore(ctx, userID, ts)
	})
}

// WatchHistoricMetadata emits the pagination watermarks whenever they change.
func (s *SQLStore) WatchHistoricMetadata(ctx context.Context) <-chan models.HistoricGamesMetadata {
	return watchQuery(ctx, s, "historic_metadata", s.GetHistoricMetadata)
}
