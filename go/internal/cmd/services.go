package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/clients/ogs_client"
	"github.com/mcdev12/kifu/go/clients/realtime"
	"github.com/mcdev12/kifu/go/internal/diagnostics"
	"github.com/mcdev12/kifu/go/internal/gameclock"
	"github.com/mcdev12/kifu/go/internal/mirror/active"
	"github.com/mcdev12/kifu/go/internal/mirror/historic"
	"github.com/mcdev12/kifu/go/internal/mirror/submit"
	"github.com/mcdev12/kifu/go/internal/retry"
	"github.com/mcdev12/kifu/go/internal/store"
)

// Services is the wired sync engine.
type Services struct {
	Config    *Config
	Clock     clockwork.Clock
	Store     *store.SQLStore
	Client    *ogs_client.OGSClient
	Registry  *prometheus.Registry
	Metrics   *diagnostics.PrometheusMetrics
	Reporter  *diagnostics.Reporter
	Policy    *retry.Policy
	Drift     *gameclock.DriftTracker
	Paginator *historic.Paginator

	// Set by setupPush.
	Push     realtime.PushChannel
	Manager  *active.Manager
	Moves    *submit.Registry
	runPush  func(ctx context.Context) error
	stopPush func() error
}

func setupServices(cfg *Config, st *store.SQLStore) *Services {
	// Wire up the engine
	// Store → remote client → retry policy and reporter → paginator / manager
	clock := clockwork.NewRealClock()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := diagnostics.NewPrometheusMetrics(registry)
	reporter := diagnostics.NewReporter(metrics)

	policy := retry.NewPolicy(clock)
	if interval := cfg.retryInterval(); interval > 0 {
		policy = retry.NewPolicyWithInterval(clock, interval)
	}

	client := ogs_client.NewOGSClient(cfg.OGS.BaseURL, cfg.OGS.Token, cfg.OGS.UserID)
	drift := gameclock.NewDriftTracker(clock)

	s := &Services{
		Config:    cfg,
		Clock:     clock,
		Store:     st,
		Client:    client,
		Registry:  registry,
		Metrics:   metrics,
		Reporter:  reporter,
		Policy:    policy,
		Drift:     drift,
		Paginator: historic.NewPaginator(client, st, policy, reporter, cfg.OGS.UserID),
	}
	// Without a push channel the manager can still refresh the listing.
	s.Manager = active.NewManager(client, st, nil, policy, reporter, drift, cfg.OGS.UserID)
	return s
}

// setupPush connects the configured push transport and the parts of the
// engine that need it.
func (s *Services) setupPush() error {
	cfg := s.Config
	switch cfg.Push.Transport {
	case TransportNATS:
		natsCfg := realtime.DefaultNATSConfig()
		natsCfg.UserID = cfg.OGS.UserID
		if cfg.Push.NATSURL != "" {
			natsCfg.URL = cfg.Push.NATSURL
		}
		channel, err := realtime.NewNATSChannel(natsCfg, s.Clock, s.Metrics)
		if err != nil {
			return fmt.Errorf("failed to set up NATS push channel: %w", err)
		}
		s.Push = channel
		s.stopPush = channel.Close
		log.Info().Str("nats_url", natsCfg.URL).Msg("using NATS push relay")

	default:
		socketCfg := realtime.DefaultSocketConfig()
		socketCfg.Token = cfg.OGS.Token
		socketCfg.UserID = cfg.OGS.UserID
		if cfg.Push.SocketURL != "" {
			socketCfg.URL = cfg.Push.SocketURL
		}
		if cfg.Push.ReconnectWaitSec > 0 {
			socketCfg.ReconnectWait = time.Duration(cfg.Push.ReconnectWaitSec) * time.Second
		}
		socket := realtime.NewSocket(socketCfg, s.Clock, s.Metrics)
		s.Push = socket
		s.runPush = socket.Run
		log.Info().Str("url", socketCfg.URL).Msg("using websocket push channel")
	}

	s.Manager = active.NewManager(s.Client, s.Store, s.Push, s.Policy, s.Reporter, s.Drift, s.Config.OGS.UserID)
	s.Moves = submit.NewRegistry(s.Manager, s.Clock, submit.DefaultConfig())
	return nil
}

// Close releases the push transport and the store.
func (s *Services) Close() {
	if s.Moves != nil {
		s.Moves.Close()
	}
	if s.stopPush != nil {
		if err := s.stopPush(); err != nil {
			log.Warn().Err(err).Msg("failed to close push channel")
		}
	}
	if err := s.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close game store")
	}
}
