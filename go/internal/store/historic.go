package store

import (
	"context"
	"fmt"

	"github.com/mcdev12/kifu/go/internal/models"
)

// GetHistoricMetadata returns the pagination watermarks. The zero value is
// returned before anything was recorded.
func (s *SQLStore) GetHistoricMetadata(ctx context.Context) (models.HistoricGamesMetadata, error) {
	meta, err := s.q.getMetadata(ctx)
	if err != nil {
		return models.HistoricGamesMetadata{}, fmt.Errorf("store: get historic metadata: %w", err)
	}
	return meta, nil
}

// UpdateHistoricMetadata replaces the pagination watermarks.
func (s *SQLStore) UpdateHistoricMetadata(ctx context.Context, meta models.HistoricGamesMetadata) error {
	if err := s.inTx(ctx, func(q *Queries) error { return q.putMetadata(ctx, meta) }); err != nil {
		return fmt.Errorf("store: update historic metadata: %w", err)
	}
	return nil
}

// InsertHistoricGames stores a fetched page of finished games together with the
// watermarks it moves, so readers never see one without the other.
func (s *SQLStore) InsertHistoricGames(ctx context.Context, games []models.Game, meta models.HistoricGamesMetadata) error {
	err := s.inTx(ctx, func(q *Queries) error {
		for _, g := range games {
			if err := q.upsertGame(ctx, g); err != nil {
				return fmt.Errorf("upsert game %d: %w", g.ID, err)
			}
		}
		return q.putMetadata(ctx, meta)
	})
	if err != nil {
		return fmt.Errorf("store: insert historic games: %w", err)
	}
	return nil
}
