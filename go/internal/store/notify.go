package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ListenerConfig tunes the Postgres change listener.
type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to wake watchers if a notification was missed
	PingInterval     time.Duration
}

func defaultListenerConfig(dsn, channel string) ListenerConfig {
	return ListenerConfig{
		DatabaseURL:      dsn,
		NotifyChannel:    channel,
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// changeListener forwards pg_notify calls made by other processes to the
// local change hub.
type changeListener struct {
	listener *pq.Listener
	hub      *changeHub
	cfg      ListenerConfig
}

func newChangeListener(dsn, channel string, hub *changeHub) (*changeListener, error) {
	cfg := defaultListenerConfig(dsn, channel)
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("store listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for store changes")

	return &changeListener{listener: l, hub: hub, cfg: cfg}, nil
}

// Start blocks until ctx is done.
func (l *changeListener) Start(ctx context.Context) {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := l.listener.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close store listener")
			}
			return
		case <-l.listener.Notify:
			// A nil notification means the connection was re-established and
			// changes may have been missed, so it also wakes watchers.
			l.hub.notify()
		case <-fallbackTicker.C:
			l.hub.notify()
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping store listener")
			}
		}
	}
}
