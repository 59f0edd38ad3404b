package historic

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/kifu/go/internal/diagnostics"
	"github.com/mcdev12/kifu/go/internal/models"
	"github.com/mcdev12/kifu/go/internal/retry"
	"github.com/mcdev12/kifu/go/internal/store"
)

const me int64 = 1

func ms(v int64) *time.Time {
	t := time.UnixMilli(v)
	return &t
}

func finished(id int64) models.Game {
	return models.Game{
		ID:          id,
		WhitePlayer: models.Player{ID: me},
		BlackPlayer: models.Player{ID: 100 + id},
		Phase:       models.PhaseFinished,
		Ended:       ms(1000 * id),
	}
}

// fakeRemote serves finished games 1..n, game i having ended at i seconds.
type fakeRemote struct {
	n int64

	mu         sync.Mutex
	before     []*time.Time
	after      []*time.Time
	fetched    []int64
	failBefore int
}

func (r *fakeRemote) FetchGame(ctx context.Context, id int64) (models.Game, error) {
	r.mu.Lock()
	r.fetched = append(r.fetched, id)
	r.mu.Unlock()
	return finished(id), nil
}

func (r *fakeRemote) FetchHistoricGamesBefore(ctx context.Context, ts *time.Time) ([]models.GameRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.before = append(r.before, ts)
	if r.failBefore > 0 {
		r.failBefore--
		return nil, io.ErrUnexpectedEOF
	}
	var refs []models.GameRef
	for id := r.n; id >= 1 && len(refs) < PageSize; id-- {
		g := finished(id)
		if ts == nil || g.Ended.Before(*ts) {
			refs = append(refs, models.GameRef{ID: id, Ended: g.Ended})
		}
	}
	return refs, nil
}

func (r *fakeRemote) FetchHistoricGamesAfter(ctx context.Context, ts *time.Time) ([]models.GameRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after = append(r.after, ts)
	var refs []models.GameRef
	for id := int64(1); id <= r.n && len(refs) < PageSize; id++ {
		g := finished(id)
		if ts == nil || g.Ended.After(*ts) {
			refs = append(refs, models.GameRef{ID: id, Ended: g.Ended})
		}
	}
	return refs, nil
}

func (r *fakeRemote) fetchedIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := append([]int64(nil), r.fetched...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func testStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "historic.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPaginator(t *testing.T, ctx context.Context, remote Remote, st Store, clock clockwork.Clock) *Paginator {
	t.Helper()
	p := NewPaginator(remote, st, retry.NewPolicy(clock), diagnostics.NewReporter(nil), me)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p
}

func TestMergeWatermarks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		prev, batch    *time.Time
		oldest, newest *time.Time
	}{
		{"nil previous is replaced", nil, ms(5), ms(5), ms(5)},
		{"nil batch keeps previous", ms(5), nil, ms(5), ms(5)},
		{"both nil", nil, nil, nil, nil},
		{"older batch", ms(5), ms(3), ms(3), ms(5)},
		{"newer batch", ms(5), ms(8), ms(5), ms(8)},
	}
	eq := cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.oldest, MergeOldest(tt.prev, tt.batch), eq); diff != "" {
				t.Errorf("MergeOldest (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.newest, MergeNewest(tt.prev, tt.batch), eq); diff != "" {
				t.Errorf("MergeNewest (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeMetadata_ExhaustionIsSticky(t *testing.T) {
	t.Parallel()

	prev := models.HistoricGamesMetadata{OldestGameEnded: ms(10), NewestGameEnded: ms(20), LoadedOldestGame: true}
	got := mergeMetadata(prev, models.HistoricGamesMetadata{OldestGameEnded: ms(15), NewestGameEnded: ms(18)})
	if !got.LoadedOldestGame {
		t.Error("LoadedOldestGame reset to false")
	}
	if got.OldestGameEnded.UnixMilli() != 10 || got.NewestGameEnded.UnixMilli() != 20 {
		t.Errorf("watermarks narrowed: %v .. %v", got.OldestGameEnded, got.NewestGameEnded)
	}
}

func TestFetchOlder_SkipsFinalGamesAndWidensWatermarks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := testStore(t)
	if err := st.InsertGames(ctx, []models.Game{finished(20)}); err != nil {
		t.Fatalf("InsertGames: %v", err)
	}
	remote := &fakeRemote{n: 25}
	p := newTestPaginator(t, ctx, remote, st, clockwork.NewFakeClock())

	if err := p.FetchOlder(ctx); err != nil {
		t.Fatalf("FetchOlder: %v", err)
	}

	// Games 25..16 are candidates; 20 is already final locally.
	if diff := cmp.Diff([]int64{16, 17, 18, 19, 21, 22, 23, 24, 25}, remote.fetchedIDs()); diff != "" {
		t.Errorf("fetched (-want +got):\n%s", diff)
	}
	meta, err := st.GetHistoricMetadata(ctx)
	if err != nil {
		t.Fatalf("GetHistoricMetadata: %v", err)
	}
	if meta.OldestGameEnded == nil || meta.OldestGameEnded.UnixMilli() != 16000 {
		t.Errorf("oldest = %v, want 16000ms", meta.OldestGameEnded)
	}
	if meta.NewestGameEnded == nil || meta.NewestGameEnded.UnixMilli() != 25000 {
		t.Errorf("newest = %v, want 25000ms", meta.NewestGameEnded)
	}

	// The next page starts at the oldest watermark.
	if err := p.FetchOlder(ctx); err != nil {
		t.Fatalf("second FetchOlder: %v", err)
	}
	if got := p.Metadata().OldestGameEnded; got == nil || got.UnixMilli() != 6000 {
		t.Errorf("oldest after second page = %v, want 6000ms", got)
	}
}

// gatedRemote holds the first backward listing until release is closed and
// tracks how many listings run at once.
type gatedRemote struct {
	*fakeRemote
	entered chan struct{}
	release chan struct{}

	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
}

func (r *gatedRemote) FetchHistoricGamesBefore(ctx context.Context, ts *time.Time) ([]models.GameRef, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.mu.Unlock()

	if first {
		close(r.entered)
		<-r.release
	}

	refs, err := r.fakeRemote.FetchHistoricGamesBefore(ctx, ts)
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	return refs, err
}

func TestFetchOlder_ConcurrentTriggersShareOneFlight(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	remote := &gatedRemote{
		fakeRemote: &fakeRemote{n: 25},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	p := newTestPaginator(t, ctx, remote, testStore(t), clockwork.NewFakeClock())

	errs := make(chan error, 2)
	go func() { errs <- p.FetchOlder(ctx) }()
	select {
	case <-remote.entered:
	case <-ctx.Done():
		t.Fatal("first listing never started")
	}

	go func() { errs <- p.FetchOlder(ctx) }()
	// The second trigger marks a follow-up before joining the running flight.
	deadline := time.Now().Add(5 * time.Second)
	for !p.olderAgain.Load() {
		if time.Now().After(deadline) {
			t.Fatal("second FetchOlder never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(remote.release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("FetchOlder: %v", err)
		}
	}

	remote.mu.Lock()
	calls, maxInFlight := remote.calls, remote.maxInFlight
	remote.mu.Unlock()
	if calls != 2 {
		t.Errorf("backward listings = %d, want 2 (one flight and one follow-up)", calls)
	}
	if maxInFlight != 1 {
		t.Errorf("max concurrent listings = %d, want 1", maxInFlight)
	}
	if got := p.Metadata().OldestGameEnded; got == nil || got.UnixMilli() != 6000 {
		t.Errorf("oldest after follow-up = %v, want 6000ms", got)
	}
}

func TestFetchOlder_EmptyPagePinsOldestAndExhausts(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := testStore(t)
	start := models.HistoricGamesMetadata{OldestGameEnded: ms(1000), NewestGameEnded: ms(9000)}
	if err := st.UpdateHistoricMetadata(ctx, start); err != nil {
		t.Fatalf("UpdateHistoricMetadata: %v", err)
	}
	remote := &fakeRemote{n: 0}
	p := newTestPaginator(t, ctx, remote, st, clockwork.NewFakeClock())

	if err := p.FetchOlder(ctx); err != nil {
		t.Fatalf("FetchOlder: %v", err)
	}
	meta, err := st.GetHistoricMetadata(ctx)
	if err != nil {
		t.Fatalf("GetHistoricMetadata: %v", err)
	}
	if !meta.LoadedOldestGame {
		t.Error("LoadedOldestGame = false after empty backward page")
	}
	if meta.OldestGameEnded == nil || meta.OldestGameEnded.UnixMilli() != 1000 {
		t.Errorf("oldest = %v, want pinned at 1000ms", meta.OldestGameEnded)
	}

	if err := p.FetchOlder(ctx); err != nil {
		t.Fatalf("FetchOlder after exhaustion: %v", err)
	}
	remote.mu.Lock()
	calls := len(remote.before)
	remote.mu.Unlock()
	if calls != 1 {
		t.Errorf("remote called %d times, want 1", calls)
	}
}

func TestFetchOlder_RetriesTransientFailure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	remote := &fakeRemote{n: 3, failBefore: 1}
	p := newTestPaginator(t, ctx, remote, testStore(t), clock)

	done := make(chan error, 1)
	go func() { done <- p.FetchOlder(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("fetch never waited for retry: %v", err)
	}
	clock.Advance(retry.DefaultInterval)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("FetchOlder: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("FetchOlder did not finish after retry")
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, remote.fetchedIDs()); diff != "" {
		t.Errorf("fetched (-want +got):\n%s", diff)
	}
}

type failingRemote struct{ fakeRemote }

func (r *failingRemote) FetchHistoricGamesBefore(ctx context.Context, ts *time.Time) ([]models.GameRef, error) {
	return nil, errors.New("bad request")
}

func TestFetchOlder_PermanentFailureLeavesState(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := testStore(t)
	p := newTestPaginator(t, ctx, &failingRemote{}, st, clockwork.NewFakeClock())

	if err := p.FetchOlder(ctx); err == nil {
		t.Fatal("FetchOlder succeeded, want error")
	}
	meta, err := st.GetHistoricMetadata(ctx)
	if err != nil {
		t.Fatalf("GetHistoricMetadata: %v", err)
	}
	if diff := cmp.Diff(models.HistoricGamesMetadata{}, meta); diff != "" {
		t.Errorf("metadata changed (-want +got):\n%s", diff)
	}
}

func nextPage(t *testing.T, ch <-chan Page) Page {
	t.Helper()
	select {
	case page, ok := <-ch:
		if !ok {
			t.Fatal("page channel closed")
		}
		return page
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for page")
	}
	return Page{}
}

func TestMonitorOlder_LoadsUntilExhausted(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := &fakeRemote{n: 3}
	p := newTestPaginator(t, ctx, remote, testStore(t), clockwork.NewFakeClock())

	pages := p.MonitorOlder(ctx, ms(100_000))
	first := nextPage(t, pages)
	if !first.StillLoading {
		t.Errorf("first page StillLoading = false, want true")
	}

	// Keep reading until the history is exhausted.
	for {
		page := nextPage(t, pages)
		if page.StillLoading {
			continue
		}
		var ids []int64
		for _, g := range page.Games {
			ids = append(ids, g.ID)
		}
		if diff := cmp.Diff([]int64{3, 2, 1}, ids); diff != "" {
			t.Errorf("final page (-want +got):\n%s", diff)
		}
		break
	}
	if !p.Metadata().LoadedOldestGame {
		t.Error("LoadedOldestGame = false")
	}

	cancel()
	p.Wait()
}

func TestMonitorRecent_FetchesNewerGames(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := &fakeRemote{n: 4}
	p := newTestPaginator(t, ctx, remote, testStore(t), clockwork.NewFakeClock())

	recent := p.MonitorRecent(ctx)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case games := <-recent:
			if len(games) == 4 {
				if games[0].ID != 4 {
					t.Errorf("most recent game = %d, want 4", games[0].ID)
				}
				if got := p.Metadata().NewestGameEnded; got == nil || got.UnixMilli() != 4000 {
					t.Errorf("newest = %v, want 4000ms", got)
				}
				cancel()
				p.Wait()
				return
			}
		case <-deadline:
			t.Fatal("recent games never reached 4 entries")
		}
	}
}
