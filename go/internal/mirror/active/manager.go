package active

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mcdev12/kifu/go/clients/realtime"
	"github.com/mcdev12/kifu/go/internal/diagnostics"
	"github.com/mcdev12/kifu/go/internal/gameclock"
	"github.com/mcdev12/kifu/go/internal/live"
	"github.com/mcdev12/kifu/go/internal/mirror/gamefeed"
	"github.com/mcdev12/kifu/go/internal/models"
	"github.com/mcdev12/kifu/go/internal/retry"
	"github.com/mcdev12/kifu/go/internal/store"
)

const (
	opRefreshActiveGames  = "refreshActiveGames"
	opActiveNotification  = "activeGameNotification"
	opMonitorGame         = "monitorGame"
	opConnectToGame       = "connectToGame"
	staleFetchConcurrency = 4
)

// ErrAlreadySubscribed is returned by Subscribe while a subscription is running.
var ErrAlreadySubscribed = errors.New("active: already subscribed")

// Remote is the part of the remote API the manager reads.
type Remote interface {
	FetchGame(ctx context.Context, id int64) (models.Game, error)
	FetchActiveGames(ctx context.Context) ([]models.Game, error)
}

// Store is the part of the game store the manager and its game feeds use.
type Store interface {
	gamefeed.Store
	InsertGames(ctx context.Context, games []models.Game) error
	UpdateGames(ctx context.Context, games []models.Game) error
	GamesThatShouldBeFinished(ctx context.Context, userID int64, activeIDs []int64) ([]int64, error)
	WatchActiveGames(ctx context.Context, userID int64) <-chan []models.Game
	WatchGame(ctx context.Context, id int64) <-chan models.Game
}

// connection is a live push connection and the feed applying its events.
type connection struct {
	conn   realtime.GameConnection
	feed   *gamefeed.Feed
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *connection) close() {
	if err := c.conn.Close(); err != nil && !errors.Is(err, realtime.ErrClosed) {
		log.Warn().Err(err).Int64("game_id", c.conn.GameID()).Msg("failed to close game connection")
	}
	c.cancel()
	<-c.done
}

// Manager keeps the set of active games in the store in line with the remote
// listing and holds one push connection per tracked game.
type Manager struct {
	remote   Remote
	store    Store
	push     realtime.PushChannel
	policy   *retry.Policy
	reporter *diagnostics.Reporter
	drift    *gameclock.DriftTracker
	userID   int64

	fetches singleflight.Group

	// mu guards the active cache, the connections and the subscription scope.
	// Dials run outside mu; dialing reserves their ids and generation changes
	// on Unsubscribe so a dial finishing late is closed instead of installed.
	mu         sync.Mutex
	games      []models.Game
	conns      map[int64]*connection
	dialing    map[int64]struct{}
	generation uint64
	cancel     context.CancelFunc
	feeds      sync.WaitGroup

	activeGames *live.Value[[]models.Game]
	myTurn      *live.Value[int]
}

// NewManager returns a manager for the games of userID. drift may be nil.
func NewManager(remote Remote, st Store, push realtime.PushChannel, policy *retry.Policy, reporter *diagnostics.Reporter, drift *gameclock.DriftTracker, userID int64) *Manager {
	return &Manager{
		remote:      remote,
		store:       st,
		push:        push,
		policy:      policy,
		reporter:    reporter,
		drift:       drift,
		userID:      userID,
		conns:       make(map[int64]*connection),
		dialing:     make(map[int64]struct{}),
		activeGames: live.New[[]models.Game](nil),
		myTurn:      live.New(func(a, b int) bool { return a == b }),
	}
}

// UserID is the player whose games are tracked.
func (m *Manager) UserID() int64 {
	return m.userID
}

// RefreshActiveGames stores the remote active listing and force-updates every
// stored game the listing no longer contains. Transient failures retry the
// whole pipeline.
func (m *Manager) RefreshActiveGames(ctx context.Context) error {
	err := m.policy.Run(ctx, opRefreshActiveGames, m.refreshActiveGames)
	if err != nil && ctx.Err() == nil {
		m.reporter.ReportError(opRefreshActiveGames, err)
	}
	return err
}

func (m *Manager) refreshActiveGames(ctx context.Context) error {
	games, err := m.remote.FetchActiveGames(ctx)
	if err != nil {
		return err
	}
	if err := m.store.InsertGames(ctx, games); err != nil {
		return err
	}

	activeIDs := make([]int64, len(games))
	for i, g := range games {
		activeIDs[i] = g.ID
	}
	stale, err := m.store.GamesThatShouldBeFinished(ctx, m.userID, activeIDs)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		updated []models.Game
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(staleFetchConcurrency)
	for _, id := range stale {
		g.Go(func() error {
			game, err := m.remote.FetchGame(gctx, id)
			if err != nil {
				return fmt.Errorf("fetch game %d: %w", id, err)
			}
			mu.Lock()
			updated = append(updated, game)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := m.store.UpdateGames(ctx, updated); err != nil {
		return err
	}
	for _, game := range updated {
		if game.Phase != models.PhaseFinished {
			m.reporter.ReportAnomaly(opRefreshActiveGames, game.ID, "game missing from the active listing is not finished")
		}
	}

	log.Info().
		Int64("user_id", m.userID).
		Int("active", len(games)).
		Int("finished", len(updated)).
		Msg("refreshed active games")
	return nil
}

// Subscribe starts the listing refresh, the active game notification follower
// and the store watch of active games. They run until Unsubscribe or until ctx
// is done.
func (m *Manager) Subscribe(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadySubscribed
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	notifications, err := m.push.ActiveGameNotifications(ctx)
	if err != nil {
		cancel()
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		return fmt.Errorf("subscribe to active game notifications: %w", err)
	}
	active := m.store.WatchActiveGames(ctx, m.userID)

	m.feeds.Add(3)
	go func() {
		defer m.feeds.Done()
		m.RefreshActiveGames(ctx) //nolint:errcheck // reported by the refresh itself
	}()
	go func() {
		defer m.feeds.Done()
		m.followNotifications(ctx, notifications)
	}()
	go func() {
		defer m.feeds.Done()
		for games := range active {
			m.setActiveGames(ctx, games)
		}
	}()

	log.Info().Int64("user_id", m.userID).Msg("subscribed to active games")
	return nil
}

// Unsubscribe stops the feeds started by Subscribe, waits for them and closes
// every push connection.
func (m *Manager) Unsubscribe() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.feeds.Wait()
	}

	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[int64]*connection)
	m.generation++
	m.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	log.Info().Int64("user_id", m.userID).Int("connections", len(conns)).Msg("unsubscribed from active games")
}

// followNotifications fetches and stores games announced by the push channel
// that are not in the store yet.
func (m *Manager) followNotifications(ctx context.Context, ids <-chan int64) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-ids:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.fetchIfUnknown(ctx, id)
			}()
		}
	}
}

// fetchAndInsert stores a fresh snapshot of id. Concurrent calls for one id
// share a single fetch.
func (m *Manager) fetchAndInsert(ctx context.Context, op string, id int64) error {
	_, err, _ := m.fetches.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		game, err := retry.Do(ctx, m.policy, op, func(ctx context.Context) (models.Game, error) {
			return m.remote.FetchGame(ctx, id)
		})
		if err != nil {
			return nil, err
		}
		return nil, m.store.InsertGames(ctx, []models.Game{game})
	})
	if err != nil && ctx.Err() == nil {
		m.reporter.ReportError(op, err)
	}
	return err
}

// fetchIfUnknown fetches and stores id unless the store already has it.
func (m *Manager) fetchIfUnknown(ctx context.Context, id int64) {
	_, err := m.store.GetGame(ctx, id)
	switch {
	case err == nil:
		log.Debug().Int64("game_id", id).Msg("notified game already stored")
		return
	case !errors.Is(err, store.ErrNotFound):
		if ctx.Err() == nil {
			m.reporter.ReportError(opActiveNotification, fmt.Errorf("look up game %d: %w", id, err))
		}
		return
	}
	m.fetchAndInsert(ctx, opActiveNotification, id) //nolint:errcheck // reported
}

// setActiveGames replaces the active cache, connects to every game in it and
// recomputes the my-turn count.
func (m *Manager) setActiveGames(ctx context.Context, games []models.Game) {
	m.mu.Lock()
	m.games = games
	n := countMyTurn(games, m.userID)
	m.mu.Unlock()

	for _, g := range games {
		m.connect(ctx, g)
	}

	m.activeGames.Set(games)
	if m.myTurn.Set(n) {
		log.Debug().Int64("user_id", m.userID).Int("my_turn", n).Msg("my turn count changed")
	}
}

// connect makes sure game has a push connection. An existing connection is
// reseeded with the stored move list instead; a game being dialed is left to
// the dial.
func (m *Manager) connect(ctx context.Context, game models.Game) {
	m.mu.Lock()
	if c, ok := m.conns[game.ID]; ok {
		c.feed.Seed(game.Moves)
		m.mu.Unlock()
		return
	}
	if _, ok := m.dialing[game.ID]; ok {
		m.mu.Unlock()
		return
	}
	m.dialing[game.ID] = struct{}{}
	generation := m.generation
	m.mu.Unlock()

	conn, err := m.push.ConnectToGame(ctx, game.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dialing, game.ID)
	if err != nil {
		if ctx.Err() == nil {
			m.reporter.ReportError(opConnectToGame, fmt.Errorf("connect to game %d: %w", game.ID, err))
		}
		return
	}
	if generation != m.generation {
		if err := conn.Close(); err != nil && !errors.Is(err, realtime.ErrClosed) {
			log.Warn().Err(err).Int64("game_id", game.ID).Msg("failed to close game connection")
		}
		return
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	c := &connection{
		conn:   conn,
		feed:   gamefeed.New(conn, m.store, m.reporter, m.drift),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.conns[game.ID] = c

	go func() {
		defer close(c.done)
		c.feed.Run(feedCtx) //nolint:errcheck // stops on close
		m.dropConnection(game.ID, c)
	}()

	log.Debug().Int64("game_id", game.ID).Msg("connected to game")
}

// dropConnection forgets c if it is still the connection of id, so the next
// emission reconnects.
func (m *Manager) dropConnection(id int64, c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[id] == c {
		delete(m.conns, id)
	}
}

// MonitorGame stores a fresh snapshot of id and streams the stored game,
// connecting to its push channel on every emission.
func (m *Manager) MonitorGame(ctx context.Context, id int64) <-chan models.Game {
	updates := m.store.WatchGame(ctx, id)
	go m.fetchAndInsert(ctx, opMonitorGame, id) //nolint:errcheck // reported

	out := make(chan models.Game)
	go func() {
		defer close(out)
		for g := range updates {
			m.connect(ctx, g)

			select {
			case out <- g:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// ActiveGames streams the active game cache.
func (m *Manager) ActiveGames(ctx context.Context) <-chan []models.Game {
	return m.activeGames.Subscribe(ctx)
}

// MyTurnCount streams the number of active games waiting on the user. Only
// changes are emitted.
func (m *Manager) MyTurnCount(ctx context.Context) <-chan int {
	return m.myTurn.Subscribe(ctx)
}

// MyTurnGames returns the active games waiting on the user.
func (m *Manager) MyTurnGames() []models.Game {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Game
	for _, g := range m.games {
		if g.IsMyTurn(m.userID) {
			out = append(out, g.Clone())
		}
	}
	return out
}

// Games returns a copy of the active game cache.
func (m *Manager) Games() []models.Game {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Game, len(m.games))
	for i, g := range m.games {
		out[i] = g.Clone()
	}
	return out
}

// Connected reports whether id has a live push connection.
func (m *Manager) Connected(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[id]
	return ok
}

// ConnectionCount is the number of live push connections.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// ConnectedIDs returns the ids with a live push connection in ascending order.
func (m *Manager) ConnectedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SubmitMove sends a move over the push connection of id.
func (m *Manager) SubmitMove(ctx context.Context, id int64, cell models.Cell) error {
	m.mu.Lock()
	c, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("submit move to game %d: %w", id, realtime.ErrNotConnected)
	}
	return c.conn.SubmitMove(ctx, cell)
}

func countMyTurn(games []models.Game, userID int64) int {
	n := 0
	for _, g := range games {
		if g.IsMyTurn(userID) {
			n++
		}
	}
	return n
}
