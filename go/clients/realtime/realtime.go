package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/kifu/go/internal/mirror/events"
	"github.com/mcdev12/kifu/go/internal/models"
)

var (
	// ErrAlreadyConnected is returned when a game already has a live connection.
	ErrAlreadyConnected = errors.New("realtime: game already connected")
	// ErrNotConnected is returned for commands sent while the transport is down.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrClosed is returned by a game connection after Close.
	ErrClosed = errors.New("realtime: game connection closed")
)

// PushChannel delivers push events for individual games and global active game
// notifications.
type PushChannel interface {
	ConnectToGame(ctx context.Context, id int64) (GameConnection, error)
	ActiveGameNotifications(ctx context.Context) (<-chan int64, error)
}

// GameConnection is the push stream of one game. Events are delivered in the
// order they were received; the channel is closed by Close.
type GameConnection interface {
	GameID() int64
	Events() <-chan events.Event
	SubmitMove(ctx context.Context, cell models.Cell) error
	Close() error
}

type connectCommand struct {
	GameID   int64 `json:"game_id"`
	PlayerID int64 `json:"player_id"`
	Chat     bool  `json:"chat"`
}

type disconnectCommand struct {
	GameID int64 `json:"game_id"`
}

type moveCommand struct {
	GameID   int64  `json:"game_id"`
	PlayerID int64  `json:"player_id"`
	Move     string `json:"move"`
}

// EncodeMove renders a cell as two lowercase letters, column first. A pass is "..".
func EncodeMove(c models.Cell) string {
	if c.IsPass() {
		return ".."
	}
	return string([]byte{byte('a' + c.X), byte('a' + c.Y)})
}

func encodeFrame(name string, payload interface{}) ([]byte, error) {
	env, err := events.NewEnvelope(name, payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", name, err)
	}
	return data, nil
}

// frame is a decoded inbound message: either a game event or an active game
// notification. Both are empty for names the engine does not consume.
type frame struct {
	activeGameID int64
	event        *events.Event
}

func parseFrame(data []byte, now time.Time) (frame, error) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return frame{}, err
	}

	if env.Name == events.ActiveGameEvent {
		var p events.ActiveGamePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return frame{}, fmt.Errorf("decode active game: %w", err)
		}
		return frame{activeGameID: p.ID}, nil
	}

	id, kind, ok := events.SplitGameEventName(env.Name)
	if !ok || !kind.Known() {
		return frame{}, nil
	}
	return frame{event: &events.Event{
		ID:         uuid.NewString(),
		GameID:     id,
		Kind:       kind,
		ReceivedAt: now,
		Data:       env.Payload,
	}}, nil
}

// gameConn is the GameConnection shared by both transports.
type gameConn struct {
	id     int64
	events chan events.Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	submit  func(ctx context.Context, cell models.Cell) error
	release func()
}

func newGameConn(id int64, buffer int) *gameConn {
	return &gameConn{
		id:     id,
		events: make(chan events.Event, buffer),
		done:   make(chan struct{}),
	}
}

func (g *gameConn) GameID() int64 {
	return g.id
}

func (g *gameConn) Events() <-chan events.Event {
	return g.events
}

func (g *gameConn) SubmitMove(ctx context.Context, cell models.Cell) error {
	select {
	case <-g.done:
		return ErrClosed
	default:
	}
	return g.submit(ctx, cell)
}

// deliver blocks until the event is queued, the connection closes, or ctx ends.
func (g *gameConn) deliver(ctx context.Context, ev events.Event) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return
	}
	select {
	case g.events <- ev:
	case <-g.done:
	case <-ctx.Done():
	}
}

func (g *gameConn) Close() error {
	g.once.Do(func() {
		close(g.done)
		if g.release != nil {
			g.release()
		}
		g.mu.Lock()
		g.closed = true
		close(g.events)
		g.mu.Unlock()
	})
	return nil
}
