package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/internal/dbconfig"
	"github.com/mcdev12/kifu/go/internal/store"
)

func setupStore(ctx context.Context) (*store.SQLStore, error) {
	dbConfig := dbconfig.NewConfigFromEnv()

	st, err := store.Open(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open game store: %w", err)
	}

	log.Info().
		Str("driver", dbConfig.Driver).
		Str("database", dbConfig.Database).
		Str("path", dbConfig.Path).
		Msg("game store ready")
	return st, nil
}
