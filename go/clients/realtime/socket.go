package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/internal/diagnostics"
	"github.com/mcdev12/kifu/go/internal/mirror/events"
	"github.com/mcdev12/kifu/go/internal/models"
)

// SocketConfig holds configuration for the push websocket.
type SocketConfig struct {
	URL            string
	Token          string
	UserID         int64
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	ReconnectWait  time.Duration
	SendBuffer     int
	EventBuffer    int
}

// DefaultSocketConfig returns default websocket configuration
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		URL:            "wss://online-go.com/socket",
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   25 * time.Second,
		MaxMessageSize: 1 << 20,
		ReconnectWait:  5 * time.Second,
		SendBuffer:     64,
		EventBuffer:    256,
	}
}

// Socket is a PushChannel over a single multiplexed websocket. It reconnects
// after a fixed wait and re-announces every tracked game on the new connection.
type Socket struct {
	cfg     SocketConfig
	dialer  *websocket.Dialer
	clock   clockwork.Clock
	metrics diagnostics.MetricsCollector

	send chan []byte

	mu        sync.Mutex
	connected bool
	games     map[int64]*gameConn
	active    map[chan int64]struct{}
}

func NewSocket(cfg SocketConfig, clock clockwork.Clock, metrics diagnostics.MetricsCollector) *Socket {
	if metrics == nil {
		metrics = &diagnostics.NoOpMetricsCollector{}
	}
	return &Socket{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.WriteTimeout},
		clock:   clock,
		metrics: metrics,
		send:    make(chan []byte, cfg.SendBuffer),
		games:   make(map[int64]*gameConn),
		active:  make(map[chan int64]struct{}),
	}
}

// Run keeps the socket connected until ctx is done.
func (s *Socket) Run(ctx context.Context) error {
	log.Info().Str("url", s.cfg.URL).Msg("push socket started")

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("push socket shutting down")
			return nil
		}
		log.Warn().
			Err(err).
			Dur("reconnect_wait", s.cfg.ReconnectWait).
			Msg("push socket disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.cfg.ReconnectWait):
		}
	}
}

// session runs one physical connection until it fails or ctx ends.
func (s *Socket) session(ctx context.Context) error {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial push socket: %w", err)
	}
	defer conn.Close()

	connID := uuid.NewString()
	ids := s.markConnected(true)
	defer s.markConnected(false)

	for _, id := range ids {
		data, err := encodeFrame(events.ConnectCommand, connectCommand{GameID: id, PlayerID: s.cfg.UserID})
		if err != nil {
			return err
		}
		if err := s.write(conn, websocket.TextMessage, data); err != nil {
			return fmt.Errorf("re-announce game %d: %w", id, err)
		}
	}

	log.Info().
		Str("connection_id", connID).
		Int("games", len(ids)).
		Msg("push socket connected")

	var readErr error
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readErr = s.readPump(ctx, conn, connID)
	}()

	err = s.writePump(ctx, conn, connID, readerDone)
	conn.Close()
	<-readerDone
	if err == nil {
		err = readErr
	}
	return err
}

// markConnected flips the connection state and returns the tracked game ids.
func (s *Socket) markConnected(connected bool) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	ids := make([]int64, 0, len(s.games))
	for id := range s.games {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Socket) write(conn *websocket.Conn, messageType int, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(messageType, data)
}

// writePump handles sending queued commands and pings
func (s *Socket) writePump(ctx context.Context, conn *websocket.Conn, connID string, readerDone <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case <-readerDone:
			return nil
		case message := <-s.send:
			if err := s.write(conn, websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", connID).
					Msg("failed to write message to push socket")
				return err
			}
		case <-ticker.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", connID).
					Msg("failed to send ping")
				return err
			}
		}
	}
}

// readPump handles reading frames from the push socket
func (s *Socket) readPump(ctx context.Context, conn *websocket.Conn, connID string) error {
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", connID).
					Msg("unexpected push socket close error")
			}
			return err
		}
		s.dispatch(ctx, message)
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
}

func (s *Socket) dispatch(ctx context.Context, message []byte) {
	f, err := parseFrame(message, s.clock.Now())
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed push frame")
		return
	}

	switch {
	case f.activeGameID != 0:
		s.notifyActive(f.activeGameID)
	case f.event != nil:
		s.mu.Lock()
		gc := s.games[f.event.GameID]
		s.mu.Unlock()
		if gc == nil {
			return
		}
		s.metrics.RecordPushEvent(string(f.event.Kind))
		log.Debug().
			Int64("game_id", f.event.GameID).
			Str("kind", string(f.event.Kind)).
			Msg("push event received")
		gc.deliver(ctx, *f.event)
	}
}

func (s *Socket) notifyActive(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.active {
		select {
		case ch <- id:
		default:
			log.Warn().Int64("game_id", id).Msg("active game subscriber full, dropping notification")
		}
	}
}

// enqueue queues a command for the current connection.
func (s *Socket) enqueue(ctx context.Context, name string, payload interface{}) error {
	data, err := encodeFrame(name, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	select {
	case s.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectToGame tracks id and announces it on the live connection. While the
// socket is down the game is announced on the next connect.
func (s *Socket) ConnectToGame(ctx context.Context, id int64) (GameConnection, error) {
	s.mu.Lock()
	if _, ok := s.games[id]; ok {
		s.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	gc := newGameConn(id, s.cfg.EventBuffer)
	gc.submit = func(ctx context.Context, cell models.Cell) error {
		return s.enqueue(ctx, events.MoveCommand, moveCommand{GameID: id, PlayerID: s.cfg.UserID, Move: EncodeMove(cell)})
	}
	gc.release = func() { s.release(id) }
	s.games[id] = gc
	n := len(s.games)
	s.mu.Unlock()
	s.metrics.SetPushConnections(n)

	err := s.enqueue(ctx, events.ConnectCommand, connectCommand{GameID: id, PlayerID: s.cfg.UserID})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		gc.Close()
		return nil, fmt.Errorf("connect to game %d: %w", id, err)
	}

	log.Debug().Int64("game_id", id).Msg("connected to game")
	return gc, nil
}

func (s *Socket) release(id int64) {
	s.mu.Lock()
	delete(s.games, id)
	n := len(s.games)
	s.mu.Unlock()
	s.metrics.SetPushConnections(n)

	data, err := encodeFrame(events.DisconnectCommand, disconnectCommand{GameID: id})
	if err != nil {
		return
	}
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return
	}
	select {
	case s.send <- data:
	default:
		log.Warn().Int64("game_id", id).Msg("send buffer full, dropping disconnect")
	}
}

// ActiveGameNotifications streams ids from global active game notifications
// until ctx is done.
func (s *Socket) ActiveGameNotifications(ctx context.Context) (<-chan int64, error) {
	ch := make(chan int64, s.cfg.EventBuffer)
	s.mu.Lock()
	s.active[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.active, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}
