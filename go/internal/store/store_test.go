package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/mcdev12/kifu/go/internal/models"
)

const me int64 = 100

// testStore creates a temporary SQLite store for testing and registers cleanup.
func testStore(t *testing.T) *SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.kifu.db")
	s, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var gameOpts = cmp.Options{
	cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) }),
	cmpopts.EquateEmpty(),
}

func ms(v int64) *time.Time {
	t := time.UnixMilli(v)
	return &t
}

func activeGame(id, toMove int64) models.Game {
	return models.Game{
		ID:             id,
		Width:          19,
		Height:         19,
		WhitePlayer:    models.Player{ID: me, Username: "me", Rating: 1500},
		BlackPlayer:    models.Player{ID: 200 + id, Username: "opponent", Rating: 1450},
		Phase:          models.PhasePlay,
		PlayerToMoveID: toMove,
	}
}

func finishedGame(id int64, ended int64) models.Game {
	g := activeGame(id, 0)
	g.Phase = models.PhaseFinished
	g.Outcome = "Resignation"
	g.Ended = ms(ended)
	return g
}

func ids(games []models.Game) []int64 {
	out := make([]int64, len(games))
	for i, g := range games {
		out[i] = g.ID
	}
	return out
}

func TestOpenSQLite_WAL(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

func TestInsertAndGetGame(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	white := 90 * time.Second
	periods := 3
	periodTime := 30 * time.Second
	undo := 4
	lost := true
	g := activeGame(1, me)
	g.Moves = []models.Cell{{X: 3, Y: 3}, {X: 15, Y: 15}, models.PassCell}
	g.TimeControl = &models.TimeControl{System: models.TimeSystemByoyomi, MainTime: 600, PeriodTime: 30, Periods: 3}
	g.Clock = &models.Clock{
		CurrentPlayerID: me,
		LastMove:        time.UnixMilli(1_700_000_000_000),
		Expiration:      ms(1_700_000_090_000),
		WhiteTimeSimple: &white,
		BlackTime:       &models.PlayerTime{ThinkingTime: time.Minute, Periods: &periods, PeriodTime: &periodTime},
	}
	g.UndoRequested = &undo
	g.BlackLost = &lost
	g.PausedSince = ms(1_700_000_010_000)

	if err := s.InsertGames(ctx, []models.Game{g}); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}
	got, err := s.GetGame(ctx, 1)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if diff := cmp.Diff(g, got, gameOpts); diff != "" {
		t.Errorf("GetGame mismatch (-want +got):\n%s", diff)
	}
}

func TestGetGame_NotFound(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	_, err := s.GetGame(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetGame(missing) error = %v, want ErrNotFound", err)
	}
}

func TestInsertGames_KeepsMessagesCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	if err := s.InsertGames(ctx, []models.Game{activeGame(1, me)}); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}
	if _, err := s.db.Exec("UPDATE games SET messages_count = 7 WHERE id = 1"); err != nil {
		t.Fatalf("set messages_count: %v", err)
	}

	again := activeGame(1, 201)
	if err := s.InsertGames(ctx, []models.Game{again}); err != nil {
		t.Fatalf("InsertGames again: %v", err)
	}
	got, err := s.GetGame(ctx, 1)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if got.MessagesCount != 7 {
		t.Errorf("MessagesCount = %d, want 7", got.MessagesCount)
	}
	if got.PlayerToMoveID != 201 {
		t.Errorf("PlayerToMoveID = %d, want 201", got.PlayerToMoveID)
	}
}

func TestActiveGames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	other := activeGame(4, 300)
	other.WhitePlayer = models.Player{ID: 300, Username: "stranger"}
	games := []models.Game{activeGame(3, me), activeGame(1, 201), finishedGame(2, 1000), other}
	if err := s.InsertGames(ctx, games); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}

	got, err := s.ActiveGames(ctx, me)
	if err != nil {
		t.Fatalf("ActiveGames: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, ids(got)); diff != "" {
		t.Errorf("ActiveGames ids (-want +got):\n%s", diff)
	}
}

func TestFinishedGamePages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	// Games 1..25 ended at 1000*id, so higher ids are more recent.
	var games []models.Game
	for id := int64(1); id <= 25; id++ {
		games = append(games, finishedGame(id, 1000*id))
	}
	games = append(games, activeGame(99, me))
	if err := s.InsertGames(ctx, games); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}

	recent, err := s.RecentGames(ctx, me)
	if err != nil {
		t.Fatalf("RecentGames: %v", err)
	}
	if diff := cmp.Diff([]int64{25, 24, 23, 22, 21, 20, 19, 18, 17, 16}, ids(recent)); diff != "" {
		t.Errorf("RecentGames (-want +got):\n%s", diff)
	}

	next, err := s.FinishedNotRecentGames(ctx, me)
	if err != nil {
		t.Fatalf("FinishedNotRecentGames: %v", err)
	}
	if diff := cmp.Diff([]int64{15, 14, 13, 12, 11, 10, 9, 8, 7, 6}, ids(next)); diff != "" {
		t.Errorf("FinishedNotRecentGames (-want +got):\n%s", diff)
	}

	before, err := s.FinishedGamesEndedBefore(ctx, me, time.UnixMilli(4000))
	if err != nil {
		t.Fatalf("FinishedGamesEndedBefore: %v", err)
	}
	if diff := cmp.Diff([]int64{3, 2, 1}, ids(before)); diff != "" {
		t.Errorf("FinishedGamesEndedBefore (-want +got):\n%s", diff)
	}
}

func TestGamesThatShouldBeFinished(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	games := []models.Game{activeGame(1, me), activeGame(2, me), activeGame(3, me), finishedGame(4, 1000)}
	if err := s.InsertGames(ctx, games); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}

	tests := []struct {
		name   string
		active []int64
		want   []int64
	}{
		{"empty listing", nil, []int64{1, 2, 3}},
		{"some still active", []int64{2, 77}, []int64{1, 3}},
		{"all active", []int64{1, 2, 3}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GamesThatShouldBeFinished(ctx, me, tt.active)
			if err != nil {
				t.Fatalf("GamesThatShouldBeFinished: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestHistoricGamesThatDontNeedUpdating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	games := []models.Game{finishedGame(1, 1000), activeGame(2, me), finishedGame(3, 3000)}
	if err := s.InsertGames(ctx, games); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}

	got, err := s.HistoricGamesThatDontNeedUpdating(ctx, []int64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("HistoricGamesThatDontNeedUpdating: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	none, err := s.HistoricGamesThatDontNeedUpdating(ctx, nil)
	if err != nil || len(none) != 0 {
		t.Errorf("empty input = (%v, %v), want empty", none, err)
	}
}

func TestPartialUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	if err := s.InsertGames(ctx, []models.Game{activeGame(1, me)}); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}

	moves := []models.Cell{{X: 0, Y: 0}, {X: 1, Y: 1}}
	if err := s.UpdateMoves(ctx, 1, moves); err != nil {
		t.Fatalf("UpdateMoves: %v", err)
	}
	clock := &models.Clock{CurrentPlayerID: 201, LastMove: time.UnixMilli(5000), PausedSince: ms(6000)}
	if err := s.UpdateClock(ctx, 1, 201, clock); err != nil {
		t.Fatalf("UpdateClock: %v", err)
	}
	if err := s.UpdatePhase(ctx, 1, models.PhaseStoneRemoval); err != nil {
		t.Fatalf("UpdatePhase: %v", err)
	}
	if err := s.UpdateRemovedStones(ctx, 1, "aabb"); err != nil {
		t.Fatalf("UpdateRemovedStones: %v", err)
	}
	accepted := "aabb"
	if err := s.UpdateRemovedStonesAccepted(ctx, 1, nil, &accepted); err != nil {
		t.Fatalf("UpdateRemovedStonesAccepted: %v", err)
	}
	if err := s.UpdateUndoRequested(ctx, 1, 2); err != nil {
		t.Fatalf("UpdateUndoRequested: %v", err)
	}

	got, err := s.GetGame(ctx, 1)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	want := activeGame(1, 201)
	want.Moves = moves
	want.Clock = clock
	want.PausedSince = clock.PausedSince
	want.Phase = models.PhaseStoneRemoval
	want.RemovedStones = "aabb"
	want.BlackStonesAccepted = &accepted
	undo := 2
	want.UndoRequested = &undo
	if diff := cmp.Diff(want, got, gameOpts); diff != "" {
		t.Errorf("after partial updates (-want +got):\n%s", diff)
	}
	if !got.IsMyTurn(me) {
		t.Error("white has not accepted the proposal, IsMyTurn(me) = false")
	}
}

func TestUpdateGameData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	g := activeGame(1, me)
	g.TimeControl = &models.TimeControl{System: models.TimeSystemFischer, InitialTime: 600}
	if err := s.InsertGames(ctx, []models.Game{g}); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}

	whiteScore, blackScore := 80.5, 70.0
	yes, no := true, false
	u := models.GameDataUpdate{
		Outcome:    "10.5 points",
		Phase:      models.PhaseFinished,
		Moves:      []models.Cell{{X: 2, Y: 2}},
		WhiteScore: &whiteScore,
		BlackScore: &blackScore,
		WhiteLost:  &no,
		BlackLost:  &yes,
		Ended:      ms(9000),
	}
	if err := s.UpdateGameData(ctx, 1, u); err != nil {
		t.Fatalf("UpdateGameData: %v", err)
	}

	got, err := s.GetGame(ctx, 1)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	want := g
	u.Apply(&want)
	if diff := cmp.Diff(want, got, gameOpts); diff != "" {
		t.Errorf("UpdateGameData (-want +got):\n%s", diff)
	}
}

func TestHistoricMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	empty, err := s.GetHistoricMetadata(ctx)
	if err != nil {
		t.Fatalf("GetHistoricMetadata: %v", err)
	}
	if diff := cmp.Diff(models.HistoricGamesMetadata{}, empty); diff != "" {
		t.Errorf("initial metadata (-want +got):\n%s", diff)
	}

	meta := models.HistoricGamesMetadata{OldestGameEnded: ms(1000), NewestGameEnded: ms(2000)}
	games := []models.Game{finishedGame(1, 1000), finishedGame(2, 2000)}
	if err := s.InsertHistoricGames(ctx, games, meta); err != nil {
		t.Fatalf("InsertHistoricGames: %v", err)
	}
	got, err := s.GetHistoricMetadata(ctx)
	if err != nil {
		t.Fatalf("GetHistoricMetadata: %v", err)
	}
	if diff := cmp.Diff(meta, got, gameOpts); diff != "" {
		t.Errorf("metadata (-want +got):\n%s", diff)
	}

	meta.LoadedOldestGame = true
	if err := s.UpdateHistoricMetadata(ctx, meta); err != nil {
		t.Fatalf("UpdateHistoricMetadata: %v", err)
	}
	got, err = s.GetHistoricMetadata(ctx)
	if err != nil {
		t.Fatalf("GetHistoricMetadata: %v", err)
	}
	if !got.LoadedOldestGame {
		t.Error("LoadedOldestGame = false after update")
	}

	recent, err := s.RecentGames(ctx, me)
	if err != nil {
		t.Fatalf("RecentGames: %v", err)
	}
	if diff := cmp.Diff([]int64{2, 1}, ids(recent)); diff != "" {
		t.Errorf("RecentGames (-want +got):\n%s", diff)
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed")
		}
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch emission")
	}
	var zero T
	return zero
}

func TestWatchActiveGames(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := testStore(t)

	ch := s.WatchActiveGames(ctx, me)
	if got := receive(t, ch); len(got) != 0 {
		t.Fatalf("initial emission = %v, want empty", ids(got))
	}

	if err := s.InsertGames(ctx, []models.Game{activeGame(1, me)}); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}
	if diff := cmp.Diff([]int64{1}, ids(receive(t, ch))); diff != "" {
		t.Errorf("after insert (-want +got):\n%s", diff)
	}

	// A write that does not change the result is not re-emitted; the next
	// emission reflects the phase change.
	if err := s.InsertGames(ctx, []models.Game{finishedGame(50, 1000)}); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}
	if err := s.UpdatePhase(ctx, 1, models.PhaseFinished); err != nil {
		t.Fatalf("UpdatePhase: %v", err)
	}
	if got := receive(t, ch); len(got) != 0 {
		t.Errorf("after finishing = %v, want empty", ids(got))
	}

	cancel()
	for range ch {
	}
}

func TestWatchGame_WaitsForInsert(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := testStore(t)

	ch := s.WatchGame(ctx, 7)
	if err := s.InsertGames(ctx, []models.Game{activeGame(7, me)}); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}
	if got := receive(t, ch); got.ID != 7 {
		t.Errorf("WatchGame emitted game %d, want 7", got.ID)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	got := dialect{postgres: true}.rebind("SELECT * FROM games WHERE id = ? AND phase = ?")
	want := "SELECT * FROM games WHERE id = $1 AND phase = $2"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
	if got := (dialect{}).rebind("id = ?"); got != "id = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}
