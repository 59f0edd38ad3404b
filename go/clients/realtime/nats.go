package realtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/internal/diagnostics"
	"github.com/mcdev12/kifu/go/internal/mirror/events"
	"github.com/mcdev12/kifu/go/internal/models"
)

// ActiveGamesSubject carries active_game frames for the relayed user.
const ActiveGamesSubject = "kifu.games.active"

// GameEventsSubject carries the push frames of one game.
func GameEventsSubject(id int64) string {
	return "kifu.games." + strconv.FormatInt(id, 10) + ".events"
}

// GameMovesSubject receives move commands for one game.
func GameMovesSubject(id int64) string {
	return "kifu.games." + strconv.FormatInt(id, 10) + ".moves"
}

// NATSConfig holds configuration for the NATS relay transport
type NATSConfig struct {
	URL           string
	UserID        int64
	MaxReconnects int
	ReconnectWait time.Duration
	EventBuffer   int
}

// DefaultNATSConfig returns default NATS relay configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		EventBuffer:   256,
	}
}

// NATSChannel is a PushChannel fed by a relay that republishes the service's
// socket frames on NATS subjects, one subject per game.
type NATSChannel struct {
	nc      *nats.Conn
	cfg     NATSConfig
	clock   clockwork.Clock
	metrics diagnostics.MetricsCollector

	mu    sync.Mutex
	games map[int64]*gameConn
}

func NewNATSChannel(cfg NATSConfig, clock clockwork.Clock, metrics diagnostics.MetricsCollector) (*NATSChannel, error) {
	opts := []nats.Option{
		nats.Name("kifu-sync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return newNATSChannel(nc, cfg, clock, metrics), nil
}

func newNATSChannel(nc *nats.Conn, cfg NATSConfig, clock clockwork.Clock, metrics diagnostics.MetricsCollector) *NATSChannel {
	if metrics == nil {
		metrics = &diagnostics.NoOpMetricsCollector{}
	}
	return &NATSChannel{
		nc:      nc,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		games:   make(map[int64]*gameConn),
	}
}

// Close drains the NATS connection.
func (c *NATSChannel) Close() error {
	return c.nc.Drain()
}

// ConnectToGame subscribes to the game's event subject.
func (c *NATSChannel) ConnectToGame(ctx context.Context, id int64) (GameConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.games[id]; ok {
		return nil, ErrAlreadyConnected
	}

	gc := newGameConn(id, c.cfg.EventBuffer)
	sub, err := c.nc.Subscribe(GameEventsSubject(id), func(msg *nats.Msg) {
		c.handleGameMessage(gc, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to game %d: %w", id, err)
	}

	gc.submit = func(ctx context.Context, cell models.Cell) error {
		if !c.nc.IsConnected() {
			return ErrNotConnected
		}
		data, err := encodeFrame(events.MoveCommand, moveCommand{GameID: id, PlayerID: c.cfg.UserID, Move: EncodeMove(cell)})
		if err != nil {
			return err
		}
		if err := c.nc.Publish(GameMovesSubject(id), data); err != nil {
			return fmt.Errorf("publish move for game %d: %w", id, err)
		}
		return nil
	}
	gc.release = func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Int64("game_id", id).Msg("failed to unsubscribe from game")
		}
		c.mu.Lock()
		delete(c.games, id)
		n := len(c.games)
		c.mu.Unlock()
		c.metrics.SetPushConnections(n)
	}

	c.games[id] = gc
	c.metrics.SetPushConnections(len(c.games))
	log.Debug().Int64("game_id", id).Str("subject", sub.Subject).Msg("subscribed to game events")
	return gc, nil
}

func (c *NATSChannel) handleGameMessage(gc *gameConn, msg *nats.Msg) {
	f, err := parseFrame(msg.Data, c.clock.Now())
	if err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed relay frame")
		return
	}
	if f.event == nil || f.event.GameID != gc.id {
		return
	}
	c.metrics.RecordPushEvent(string(f.event.Kind))
	gc.deliver(context.Background(), *f.event)
}

// ActiveGameNotifications subscribes to the active games subject until ctx is done.
func (c *NATSChannel) ActiveGameNotifications(ctx context.Context) (<-chan int64, error) {
	msgs := make(chan *nats.Msg, c.cfg.EventBuffer)
	sub, err := c.nc.ChanSubscribe(ActiveGamesSubject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe to active games: %w", err)
	}

	out := make(chan int64, c.cfg.EventBuffer)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				f, err := parseFrame(msg.Data, c.clock.Now())
				if err != nil || f.activeGameID == 0 {
					continue
				}
				select {
				case out <- f.activeGameID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
