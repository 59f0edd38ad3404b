package submit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/internal/live"
	"github.com/mcdev12/kifu/go/internal/models"
)

const (
	// DefaultResendDelay is how long a move may stay unconfirmed before it is sent again.
	DefaultResendDelay = 5 * time.Second
	// DefaultMaxAttempts is the number of sends before the user is asked to retry.
	DefaultMaxAttempts = 3
)

// ErrNothingToRetry is returned by Retry when no retry prompt is raised.
var ErrNothingToRetry = errors.New("submit: no move waiting for retry")

// Sender delivers a move to the remote game.
type Sender interface {
	SubmitMove(ctx context.Context, cell models.Cell) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, cell models.Cell) error

func (f SenderFunc) SubmitMove(ctx context.Context, cell models.Cell) error {
	return f(ctx, cell)
}

// PendingMove is a submitted move that the game has not reflected yet.
type PendingMove struct {
	Cell    models.Cell `json:"cell"`
	MoveNo  int         `json:"move_no"`
	Attempt int         `json:"attempt"`
}

// Status names the stage of the submission state machine.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusCandidate      Status = "candidate"
	StatusPending        Status = "pending"
	StatusRetryExhausted Status = "retry_exhausted"
)

// State is a snapshot of a submitter.
type State struct {
	Candidate *models.Cell `json:"candidate,omitempty"`
	Pending   *PendingMove `json:"pending,omitempty"`
	Prompt    bool         `json:"prompt"`
}

// Status derives the state machine stage from the snapshot.
func (s State) Status() Status {
	switch {
	case s.Prompt:
		return StatusRetryExhausted
	case s.Pending != nil:
		return StatusPending
	case s.Candidate != nil:
		return StatusCandidate
	default:
		return StatusIdle
	}
}

// Config tunes resends.
type Config struct {
	ResendDelay time.Duration
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		ResendDelay: DefaultResendDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Submitter sends the user's moves in one game and resends them until the game
// shows them or the attempts run out.
type Submitter struct {
	gameID int64
	sender Sender
	clock  clockwork.Clock
	cfg    Config

	mu        sync.Mutex
	candidate *models.Cell
	pending   *PendingMove
	stop      chan struct{}

	prompt *live.Value[bool]
}

// New returns a submitter for gameID.
func New(gameID int64, sender Sender, clock clockwork.Clock, cfg Config) *Submitter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.ResendDelay <= 0 {
		cfg.ResendDelay = DefaultResendDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	s := &Submitter{
		gameID: gameID,
		sender: sender,
		clock:  clock,
		cfg:    cfg,
		prompt: live.New(func(a, b bool) bool { return a == b }),
	}
	s.prompt.Set(false)
	return s
}

// GameID is the game moves are submitted to.
func (s *Submitter) GameID() int64 {
	return s.gameID
}

// Select marks cell as the move the user is about to play.
func (s *Submitter) Select(cell models.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate = &cell
}

// Discard drops the selected cell.
func (s *Submitter) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate = nil
}

// Submit sends cell as move number moveNo and resends it every resend delay
// until ObserveGame confirms it. Once the attempts are used up the retry prompt
// is raised. ctx bounds the resends.
func (s *Submitter) Submit(ctx context.Context, cell models.Cell, moveNo int) error {
	p := PendingMove{Cell: cell, MoveNo: moveNo, Attempt: 1}
	stop := make(chan struct{})

	s.mu.Lock()
	s.stopLocked()
	s.pending = &p
	s.stop = stop
	s.prompt.Set(false)
	s.mu.Unlock()

	err := s.send(ctx, p)
	go s.resend(ctx, p, stop)
	return err
}

// Pass submits a pass as move number moveNo.
func (s *Submitter) Pass(ctx context.Context, moveNo int) error {
	return s.Submit(ctx, models.PassCell, moveNo)
}

// Retry resubmits the move behind a raised retry prompt, starting again from
// the first attempt.
func (s *Submitter) Retry(ctx context.Context) error {
	s.mu.Lock()
	if !s.promptLocked() || s.pending == nil {
		s.mu.Unlock()
		return ErrNothingToRetry
	}
	p := *s.pending
	s.mu.Unlock()
	return s.Submit(ctx, p.Cell, p.MoveNo)
}

// DismissPrompt gives up on the move behind the retry prompt.
func (s *Submitter) DismissPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.pending = nil
	s.prompt.Set(false)
}

// ObserveGame confirms the pending move when game shows it at its move number.
// It reports whether a move was confirmed.
func (s *Submitter) ObserveGame(game models.Game) bool {
	if game.ID != s.gameID {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	if p == nil || p.MoveNo < 0 || p.MoveNo >= len(game.Moves) || game.Moves[p.MoveNo] != p.Cell {
		return false
	}

	s.stopLocked()
	s.pending = nil
	s.candidate = nil
	s.prompt.Set(false)
	log.Debug().
		Int64("game_id", s.gameID).
		Int("move_no", p.MoveNo).
		Int("attempt", p.Attempt).
		Msg("move confirmed")
	return true
}

// State returns a snapshot of the submitter.
func (s *Submitter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{Prompt: s.promptLocked()}
	if s.candidate != nil {
		c := *s.candidate
		st.Candidate = &c
	}
	if s.pending != nil {
		p := *s.pending
		st.Pending = &p
	}
	return st
}

// Prompts streams the retry prompt flag until ctx is done.
func (s *Submitter) Prompts(ctx context.Context) <-chan bool {
	return s.prompt.Subscribe(ctx)
}

func (s *Submitter) promptLocked() bool {
	v, _ := s.prompt.Get()
	return v
}

func (s *Submitter) stopLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// resend sends p again after every resend delay while it is still the pending
// move, and raises the prompt after the last attempt.
func (s *Submitter) resend(ctx context.Context, p PendingMove, stop chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-s.clock.After(s.cfg.ResendDelay):
		}

		s.mu.Lock()
		if s.stop != stop {
			s.mu.Unlock()
			return
		}
		if p.Attempt >= s.cfg.MaxAttempts {
			s.stop = nil
			s.prompt.Set(true)
			s.mu.Unlock()
			log.Warn().
				Int64("game_id", s.gameID).
				Int("move_no", p.MoveNo).
				Int("attempts", p.Attempt).
				Msg("move not confirmed, asking to retry")
			return
		}
		p.Attempt++
		pending := p
		s.pending = &pending
		s.mu.Unlock()

		s.send(ctx, p) //nolint:errcheck // the next resend covers failures
	}
}

func (s *Submitter) send(ctx context.Context, p PendingMove) error {
	err := s.sender.SubmitMove(ctx, p.Cell)
	if err != nil {
		log.Warn().
			Err(err).
			Int64("game_id", s.gameID).
			Int("move_no", p.MoveNo).
			Int("attempt", p.Attempt).
			Msg("failed to send move")
		return err
	}
	log.Debug().
		Int64("game_id", s.gameID).
		Int("move_no", p.MoveNo).
		Int("attempt", p.Attempt).
		Msg("sent move")
	return nil
}
