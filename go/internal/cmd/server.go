package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/kifu/go/internal/mirror/api"
)

const shutdownTimeout = 10 * time.Second

func setupServer(s *Services) *http.Server {
	handler := api.NewHandler(s.Manager, s.Store, s.Paginator, s.Moves, s.Drift, s.Reporter, s.Registry)
	return api.NewServer(s.Config.Listen, handler)
}

// runServe mirrors the user's games until ctx is cancelled and serves the
// mirror over HTTP.
func runServe(ctx context.Context, s *Services) error {
	if err := s.setupPush(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.runPush != nil {
		g.Go(func() error {
			if err := s.runPush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("push channel stopped: %w", err)
			}
			return nil
		})
	}

	if err := s.Paginator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start history paginator: %w", err)
	}
	g.Go(func() error {
		for games := range s.Paginator.MonitorRecent(ctx) {
			log.Debug().Int("games", len(games)).Msg("recent games updated")
		}
		return nil
	})

	if err := s.Manager.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to active games: %w", err)
	}
	g.Go(func() error {
		for n := range s.Manager.MyTurnCount(ctx) {
			log.Info().Int("my_turn", n).Msg("games waiting on a move")
		}
		return nil
	})

	server := setupServer(s)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("serving game mirror")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown")
		}
		return nil
	})

	err := g.Wait()
	log.Info().Msg("shutting down")
	s.Moves.Close()
	s.Manager.Unsubscribe()
	s.Paginator.Wait()
	return err
}
