package submit

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/internal/models"
)

// GameSource delivers moves to games and streams their stored state.
type GameSource interface {
	SubmitMove(ctx context.Context, id int64, cell models.Cell) error
	MonitorGame(ctx context.Context, id int64) <-chan models.Game
}

// Registry keeps one submitter per game. Each submitter is confirmed by a
// stream of its game that lives until Close.
type Registry struct {
	games GameSource
	clock clockwork.Clock
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[int64]*Submitter
}

func NewRegistry(games GameSource, clock clockwork.Clock, cfg Config) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		games:  games,
		clock:  clock,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int64]*Submitter),
	}
}

// Submitter returns the submitter of id, creating it on first use.
func (r *Registry) Submitter(id int64) *Submitter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[id]; ok {
		return s
	}

	s := New(id, SenderFunc(func(ctx context.Context, cell models.Cell) error {
		return r.games.SubmitMove(ctx, id, cell)
	}), r.clock, r.cfg)
	r.subs[id] = s

	updates := r.games.MonitorGame(r.ctx, id)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for g := range updates {
			s.ObserveGame(g)
		}
	}()
	log.Debug().Int64("game_id", id).Msg("tracking move submissions")
	return s
}

// Submit sends cell as move moveNo of game id. Resends outlive the caller and
// stop at Close.
func (r *Registry) Submit(id int64, cell models.Cell, moveNo int) error {
	return r.Submitter(id).Submit(r.ctx, cell, moveNo)
}

// Pass submits a pass as move moveNo of game id.
func (r *Registry) Pass(id int64, moveNo int) error {
	return r.Submitter(id).Pass(r.ctx, moveNo)
}

// Retry resubmits the move behind the retry prompt of game id.
func (r *Registry) Retry(id int64) error {
	return r.Submitter(id).Retry(r.ctx)
}

// Dismiss drops the move behind the retry prompt of game id.
func (r *Registry) Dismiss(id int64) {
	r.Submitter(id).DismissPrompt()
}

// State returns the submission state of game id.
func (r *Registry) State(id int64) State {
	r.mu.Lock()
	s, ok := r.subs[id]
	r.mu.Unlock()
	if !ok {
		return State{}
	}
	return s.State()
}

// Close stops every resend and game stream.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}
