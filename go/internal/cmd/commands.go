package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/kifu/go/internal/gameclock"
	"github.com/mcdev12/kifu/go/internal/models"
	"github.com/mcdev12/kifu/go/internal/session"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "kifu",
		Short:         "Keep a local mirror of your online-go.com games in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "kifu.yaml", "path to the YAML config file")

	cmd.AddCommand(
		newServeCommand(opts),
		newRefreshCommand(opts),
		newHistoryCommand(opts),
		newWatchCommand(opts),
	)
	return cmd
}

// withServices loads config, opens the store and wires the engine around fn.
func withServices(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, s *Services) error) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(cfg.logLevel())
	if cfg.OGS.Token != "" {
		if err := session.CheckExpiry(cfg.OGS.Token, time.Now()); err != nil {
			log.Warn().Err(err).Msg("session token will be rejected by the server")
		}
	}

	st, err := setupStore(ctx)
	if err != nil {
		return err
	}
	s := setupServices(cfg, st)
	defer s.Close()

	return fn(ctx, s)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Mirror active and historic games and serve them over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), opts, runServe)
		},
	}
}

func newRefreshCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the active games listing once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), opts, func(ctx context.Context, s *Services) error {
				if err := s.Manager.RefreshActiveGames(ctx); err != nil {
					return err
				}
				log.Info().Int64("user_id", s.Config.OGS.UserID).Msg("active games refreshed")
				return nil
			})
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var older bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Fetch one page of newer completed games, or older ones with --older",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), opts, func(ctx context.Context, s *Services) error {
				ctx, cancel := context.WithCancel(ctx)
				defer s.Paginator.Wait()
				defer cancel()
				if err := s.Paginator.Start(ctx); err != nil {
					return err
				}

				fetch := s.Paginator.FetchNewer
				if older {
					fetch = s.Paginator.FetchOlder
				}
				if err := fetch(ctx); err != nil {
					return err
				}

				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(s.Paginator.Metadata())
			})
		},
	}
	cmd.Flags().BoolVar(&older, "older", false, "page backward from the oldest known game")
	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <game-id>",
		Short: "Follow one game and print its clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid game id %q: %w", args[0], err)
			}
			return withServices(cmd.Context(), opts, func(ctx context.Context, s *Services) error {
				return runWatch(ctx, s, id)
			})
		},
	}
}

func runWatch(ctx context.Context, s *Services, id int64) error {
	if err := s.setupPush(); err != nil {
		return err
	}
	if s.runPush != nil {
		go func() {
			if err := s.runPush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("push channel stopped")
			}
		}()
	}

	defer s.Manager.Unsubscribe()

	refresher := gameclock.NewRefresher(s.Clock, s.Drift.ServerTime)
	go refresher.Run(ctx)
	refresher.Reset(models.Game{ID: id}, true)

	updates := s.Manager.MonitorGame(ctx, id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case g, ok := <-updates:
			if !ok {
				return nil
			}
			log.Info().Int64("game_id", id).Int("moves", len(g.Moves)).Str("phase", string(g.Phase)).Msg("game updated")
			refresher.Reset(g, false)
		case f := <-refresher.Frames():
			if !f.Visible {
				continue
			}
			fmt.Printf("black %s %s | white %s %s\n",
				f.Display.Black.FirstLine, f.Display.Black.SecondLine,
				f.Display.White.FirstLine, f.Display.White.SecondLine)
		}
	}
}
