package historic

import (
	"time"

	"github.com/mcdev12/kifu/go/internal/models"
)

// MergeOldest returns the older of prev and batch. A nil batch keeps prev and a
// nil prev is replaced.
func MergeOldest(prev, batch *time.Time) *time.Time {
	switch {
	case batch == nil:
		return prev
	case prev == nil || batch.Before(*prev):
		return batch
	default:
		return prev
	}
}

// MergeNewest returns the newer of prev and batch. A nil batch keeps prev and a
// nil prev is replaced.
func MergeNewest(prev, batch *time.Time) *time.Time {
	switch {
	case batch == nil:
		return prev
	case prev == nil || batch.After(*prev):
		return batch
	default:
		return prev
	}
}

// mergeMetadata refines prev with next. Watermarks only widen and exhaustion
// never resets.
func mergeMetadata(prev, next models.HistoricGamesMetadata) models.HistoricGamesMetadata {
	return models.HistoricGamesMetadata{
		OldestGameEnded:  MergeOldest(prev.OldestGameEnded, next.OldestGameEnded),
		NewestGameEnded:  MergeNewest(prev.NewestGameEnded, next.NewestGameEnded),
		LoadedOldestGame: prev.LoadedOldestGame || next.LoadedOldestGame,
	}
}

// bounds returns the oldest and newest ended time among refs and games.
func bounds(refs []models.GameRef, games []models.Game) (oldest, newest *time.Time) {
	for _, r := range refs {
		oldest, newest = MergeOldest(oldest, r.Ended), MergeNewest(newest, r.Ended)
	}
	for _, g := range games {
		oldest, newest = MergeOldest(oldest, g.Ended), MergeNewest(newest, g.Ended)
	}
	return oldest, newest
}
