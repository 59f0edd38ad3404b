package historic

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mcdev12/kifu/go/internal/diagnostics"
	"github.com/mcdev12/kifu/go/internal/live"
	"github.com/mcdev12/kifu/go/internal/models"
	"github.com/mcdev12/kifu/go/internal/retry"
)

// PageSize is the number of games a full history page holds.
const PageSize = 10

const fetchConcurrency = 4

const (
	opFetchOlder = "fetchHistoricGames"
	opFetchNewer = "fetchRecentlyFinishedGames"
)

// Remote is the part of the remote API the paginator reads.
type Remote interface {
	FetchGame(ctx context.Context, id int64) (models.Game, error)
	FetchHistoricGamesAfter(ctx context.Context, ts *time.Time) ([]models.GameRef, error)
	FetchHistoricGamesBefore(ctx context.Context, ts *time.Time) ([]models.GameRef, error)
}

// Store is the part of the game store the paginator uses.
type Store interface {
	GetHistoricMetadata(ctx context.Context) (models.HistoricGamesMetadata, error)
	UpdateHistoricMetadata(ctx context.Context, meta models.HistoricGamesMetadata) error
	InsertHistoricGames(ctx context.Context, games []models.Game, meta models.HistoricGamesMetadata) error
	HistoricGamesThatDontNeedUpdating(ctx context.Context, ids []int64) ([]int64, error)
	WatchHistoricMetadata(ctx context.Context) <-chan models.HistoricGamesMetadata
	WatchRecentGames(ctx context.Context, userID int64) <-chan []models.Game
	WatchFinishedNotRecentGames(ctx context.Context, userID int64) <-chan []models.Game
	WatchFinishedGamesEndedBefore(ctx context.Context, userID int64, ts time.Time) <-chan []models.Game
}

// Page is one emission of an older-games view.
type Page struct {
	Games        []models.Game `json:"games"`
	StillLoading bool          `json:"still_loading"`
}

// Paginator mirrors the user's completed games, walking backward from the
// oldest known game and forward from the newest.
type Paginator struct {
	remote   Remote
	store    Store
	policy   *retry.Policy
	reporter *diagnostics.Reporter
	userID   int64

	flights    singleflight.Group
	olderAgain atomic.Bool
	newerAgain atomic.Bool
	wg         sync.WaitGroup

	mu   sync.RWMutex
	meta models.HistoricGamesMetadata

	exhausted *live.Value[bool]
}

func NewPaginator(remote Remote, st Store, policy *retry.Policy, reporter *diagnostics.Reporter, userID int64) *Paginator {
	return &Paginator{
		remote:    remote,
		store:     st,
		policy:    policy,
		reporter:  reporter,
		userID:    userID,
		exhausted: live.New(func(a, b bool) bool { return a == b }),
	}
}

// Start loads the persisted watermarks and follows later changes to them
// until ctx is done.
func (p *Paginator) Start(ctx context.Context) error {
	meta, err := p.store.GetHistoricMetadata(ctx)
	if err != nil {
		return fmt.Errorf("load historic metadata: %w", err)
	}
	p.observe(meta)

	updates := p.store.WatchHistoricMetadata(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for m := range updates {
			p.observe(m)
		}
	}()
	return nil
}

// Wait blocks until background fetches and the metadata follower have exited.
func (p *Paginator) Wait() {
	p.wg.Wait()
}

// Metadata returns the current in-memory watermarks.
func (p *Paginator) Metadata() models.HistoricGamesMetadata {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meta
}

func (p *Paginator) observe(meta models.HistoricGamesMetadata) {
	p.mu.Lock()
	p.meta = mergeMetadata(p.meta, meta)
	loaded := p.meta.LoadedOldestGame
	p.mu.Unlock()
	p.exhausted.Set(loaded)
}

// MonitorRecent fetches games finished since the newest watermark and streams
// the recent completed games.
func (p *Paginator) MonitorRecent(ctx context.Context) <-chan []models.Game {
	p.trigger(ctx, p.FetchNewer)
	return p.store.WatchRecentGames(ctx, p.userID)
}

// MonitorOlder streams a page of older games: the page after the recent games
// when endedBefore is nil, else the page ended before it. Short pages trigger a
// backward fetch until the whole history is loaded.
func (p *Paginator) MonitorOlder(ctx context.Context, endedBefore *time.Time) <-chan Page {
	var games <-chan []models.Game
	if endedBefore == nil {
		games = p.store.WatchFinishedNotRecentGames(ctx, p.userID)
	} else {
		games = p.store.WatchFinishedGamesEndedBefore(ctx, p.userID, *endedBefore)
	}
	exhausted := p.exhausted.Subscribe(ctx)

	out := make(chan Page)
	go func() {
		defer close(out)

		var (
			current []models.Game
			have    bool
			last    *Page
		)
		for {
			select {
			case <-ctx.Done():
				return
			case g, ok := <-games:
				if !ok {
					return
				}
				current, have = g, true
			case _, ok := <-exhausted:
				if !ok {
					return
				}
				if !have {
					continue
				}
			}

			page := Page{Games: current, StillLoading: true}
			if len(current) < PageSize {
				if p.Metadata().LoadedOldestGame {
					page.StillLoading = false
				} else {
					p.trigger(ctx, p.FetchOlder)
				}
			}
			if last != nil && last.StillLoading == page.StillLoading && reflect.DeepEqual(last.Games, page.Games) {
				continue
			}
			select {
			case out <- page:
				last = &page
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (p *Paginator) trigger(ctx context.Context, fetch func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fetch(ctx) //nolint:errcheck // reported by the fetch itself
	}()
}

// FetchOlder loads the page of games that ended before the oldest watermark.
func (p *Paginator) FetchOlder(ctx context.Context) error {
	return p.coalesced(ctx, "older", &p.olderAgain, opFetchOlder, p.fetchOlder)
}

// FetchNewer loads games that ended after the newest watermark.
func (p *Paginator) FetchNewer(ctx context.Context) error {
	return p.coalesced(ctx, "newer", &p.newerAgain, opFetchNewer, p.fetchNewer)
}

// coalesced runs fn at most once at a time per key. A request arriving while
// fn runs makes the running flight call fn once more.
func (p *Paginator) coalesced(ctx context.Context, key string, again *atomic.Bool, op string, fn func(context.Context) error) error {
	again.Store(true)
	for again.Load() {
		_, err, _ := p.flights.Do(key, func() (interface{}, error) {
			for again.Swap(false) {
				if err := p.policy.Run(ctx, op, fn); err != nil {
					p.reporter.ReportError(op, err)
					return nil, err
				}
			}
			return nil, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Paginator) fetchOlder(ctx context.Context) error {
	meta := p.Metadata()
	if meta.LoadedOldestGame {
		return nil
	}

	refs, err := p.remote.FetchHistoricGamesBefore(ctx, meta.OldestGameEnded)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		meta.LoadedOldestGame = true
		if err := p.store.UpdateHistoricMetadata(ctx, meta); err != nil {
			return err
		}
		p.observe(meta)
		log.Info().Int64("user_id", p.userID).Msg("loaded the oldest historic game")
		return nil
	}
	return p.storePage(ctx, opFetchOlder, refs)
}

func (p *Paginator) fetchNewer(ctx context.Context) error {
	meta := p.Metadata()
	refs, err := p.remote.FetchHistoricGamesAfter(ctx, meta.NewestGameEnded)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}
	return p.storePage(ctx, opFetchNewer, refs)
}

// storePage fetches the snapshots of refs that are not already final locally
// and stores them together with the widened watermarks.
func (p *Paginator) storePage(ctx context.Context, op string, refs []models.GameRef) error {
	ids := make([]int64, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	known, err := p.store.HistoricGamesThatDontNeedUpdating(ctx, ids)
	if err != nil {
		return err
	}
	skip := make(map[int64]bool, len(known))
	for _, id := range known {
		skip[id] = true
	}

	var (
		mu    sync.Mutex
		games []models.Game
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, id := range ids {
		if skip[id] {
			continue
		}
		g.Go(func() error {
			game, err := p.remote.FetchGame(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			games = append(games, game)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	oldest, newest := bounds(refs, games)
	meta := mergeMetadata(p.Metadata(), models.HistoricGamesMetadata{OldestGameEnded: oldest, NewestGameEnded: newest})
	if err := p.store.InsertHistoricGames(ctx, games, meta); err != nil {
		return err
	}
	p.observe(meta)
	p.reporter.Metrics().RecordGamesFetched(op, len(games))

	log.Info().
		Str("operation", op).
		Int("candidates", len(refs)).
		Int("fetched", len(games)).
		Msg("stored historic games")
	return nil
}
