package pipeline

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/normalize"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/source"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/store"
)

type stubRegistry struct{}

func (stubRegistry) LookupSymbol(context.Context, string) (*model.Gene, bool, error) {
	return nil, false, nil
}

// fakeClient serves canned evidence per gene symbol.
type fakeClient struct {
	name  string
	fetch func(ctx context.Context, gene *model.Gene) ([]source.Evidence, error)

	mu    sync.Mutex
	calls []string
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) FetchGene(ctx context.Context, gene *model.Gene) ([]source.Evidence, error) {
	f.mu.Lock()
	f.calls = append(f.calls, gene.ApprovedSymbol)
	f.mu.Unlock()
	if f.fetch != nil {
		return f.fetch(ctx, gene)
	}
	return []source.Evidence{{Data: map[string]any{"symbol": gene.ApprovedSymbol}}}, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakePager serves a fixed sequence of pages and records which were fetched.
type fakePager struct {
	fakeClient
	pages []source.Page

	mu      sync.Mutex
	fetched []int
}

func (f *fakePager) FetchPage(_ context.Context, cursor string) (*source.Page, error) {
	idx := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, err
		}
		idx = n
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, idx)
	f.mu.Unlock()

	page := f.pages[idx]
	if idx < len(f.pages)-1 {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(idx + 1)
	}
	return &page, nil
}

func (f *fakePager) fetchedPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.fetched...)
}

type testEnv struct {
	store    store.Store
	registry *source.Registry
	orch     *Orchestrator
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	registry := source.NewRegistry()
	n := normalize.New(st, stubRegistry{}, normalize.Options{ChunksPerSec: 1000})
	return &testEnv{
		store:    st,
		registry: registry,
		orch:     New(st, registry, n, NewController(), opts),
	}
}

func (e *testEnv) seedGene(t *testing.T, symbol string) *model.Gene {
	t.Helper()
	g := &model.Gene{ApprovedSymbol: symbol}
	require.NoError(t, e.store.UpsertGene(context.Background(), g))
	return g
}

func (e *testEnv) seedSource(t *testing.T, name string, lastUpdate *time.Time, failed bool) {
	t.Helper()
	require.NoError(t, e.store.SaveSourceConfig(context.Background(), &model.SourceConfig{
		SourceName:      name,
		IsActive:        true,
		UpdateFrequency: time.Hour,
		CacheTTL:        time.Hour,
		LastUpdate:      lastUpdate,
		LastRunFailed:   failed,
	}))
}

func sourceState(t *testing.T, summary *model.RunSummary, name string) model.PipelineRunState {
	t.Helper()
	for _, st := range summary.Sources {
		if st.SourceName == name {
			return st
		}
	}
	t.Fatalf("source %s missing from summary", name)
	return model.PipelineRunState{}
}

func TestRun_FullIsIdempotent(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.seedGene(t, "PKD1")
	env.seedGene(t, "NPHS2")
	env.seedSource(t, "alpha", nil, false)
	env.registry.Register(&fakeClient{name: "alpha"})

	summary, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
	require.NoError(t, err)
	assert.Equal(t, model.OverallCompleted, summary.Overall)

	st := sourceState(t, summary, "alpha")
	assert.Equal(t, model.RunCompleted, st.Status)
	assert.Equal(t, 2, st.ItemsProcessed)
	assert.Equal(t, 2, st.ItemsAdded)
	assert.Equal(t, float64(100), st.ProgressPercentage)

	// Second run against unchanged data adds nothing.
	summary2, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
	require.NoError(t, err)
	st2 := sourceState(t, summary2, "alpha")
	assert.Equal(t, 0, st2.ItemsAdded)
	assert.Equal(t, 2, st2.ItemsUpdated)

	count, err := env.store.CountEvidence(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRun_NoDataGenesSkipped(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.seedGene(t, "PKD1")
	env.seedGene(t, "OBSCURE1")
	env.seedSource(t, "alpha", nil, false)
	env.registry.Register(&fakeClient{
		name: "alpha",
		fetch: func(_ context.Context, g *model.Gene) ([]source.Evidence, error) {
			if g.ApprovedSymbol == "OBSCURE1" {
				return nil, source.ErrNoData
			}
			return []source.Evidence{{Data: map[string]any{"ok": true}}}, nil
		},
	})

	summary, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
	require.NoError(t, err)
	st := sourceState(t, summary, "alpha")
	assert.Equal(t, model.RunCompleted, st.Status)
	assert.Equal(t, 2, st.ItemsProcessed)
	assert.Equal(t, 1, st.ItemsAdded)
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.seedGene(t, "PKD1")
	env.seedSource(t, "bad", nil, false)
	env.seedSource(t, "good", nil, false)
	env.registry.Register(&fakeClient{
		name: "bad",
		fetch: func(context.Context, *model.Gene) ([]source.Evidence, error) {
			return nil, assert.AnError
		},
	})
	env.registry.Register(&fakeClient{name: "good"})

	summary, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
	require.NoError(t, err)

	assert.Equal(t, model.OverallPartial, summary.Overall)
	assert.Equal(t, model.RunFailed, sourceState(t, summary, "bad").Status)
	assert.NotEmpty(t, sourceState(t, summary, "bad").LastError)
	assert.Equal(t, model.RunCompleted, sourceState(t, summary, "good").Status)

	// The failure is recorded so the next incremental run retries the source.
	cfg, err := env.store.GetSourceConfig(ctx, "bad")
	require.NoError(t, err)
	assert.True(t, cfg.LastRunFailed)
}

func TestRun_SelectiveRequiresSources(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, err := env.orch.Run(context.Background(), RunOptions{Strategy: model.StrategySelective})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one source")
}

func TestRun_SelectiveUnknownSource(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seedSource(t, "alpha", nil, false)
	_, err := env.orch.Run(context.Background(), RunOptions{
		Strategy: model.StrategySelective,
		Sources:  []string{"alpha", "mystery"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestRun_SelectiveSubset(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.seedGene(t, "PKD1")
	env.seedSource(t, "alpha", nil, false)
	env.seedSource(t, "beta", nil, false)
	alpha := &fakeClient{name: "alpha"}
	beta := &fakeClient{name: "beta"}
	env.registry.Register(alpha)
	env.registry.Register(beta)

	summary, err := env.orch.Run(ctx, RunOptions{
		Strategy: model.StrategySelective,
		Sources:  []string{"beta"},
	})
	require.NoError(t, err)
	require.Len(t, summary.Sources, 1)
	assert.Equal(t, 0, alpha.callCount())
	assert.Equal(t, 1, beta.callCount())
}

func TestRun_IncrementalPicksStaleAndFailed(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.seedGene(t, "PKD1")

	stale := time.Now().UTC().Add(-2 * time.Hour)
	fresh := time.Now().UTC().Add(-time.Minute)
	env.seedSource(t, "stale", &stale, false)
	env.seedSource(t, "fresh", &fresh, false)
	env.seedSource(t, "failedlast", &fresh, true)

	staleClient := &fakeClient{name: "stale"}
	freshClient := &fakeClient{name: "fresh"}
	failedClient := &fakeClient{name: "failedlast"}
	env.registry.Register(staleClient)
	env.registry.Register(freshClient)
	env.registry.Register(failedClient)

	summary, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyIncremental})
	require.NoError(t, err)
	require.Len(t, summary.Sources, 2)
	assert.Positive(t, staleClient.callCount())
	assert.Positive(t, failedClient.callCount())
	assert.Zero(t, freshClient.callCount(), "fresh source left untouched")

	// Success clears the stale timestamp and the failure flag.
	cfg, err := env.store.GetSourceConfig(ctx, "stale")
	require.NoError(t, err)
	require.NotNil(t, cfg.LastUpdate)
	assert.True(t, cfg.LastUpdate.After(stale))
	cfg, err = env.store.GetSourceConfig(ctx, "failedlast")
	require.NoError(t, err)
	assert.False(t, cfg.LastRunFailed)
}

func pageOf(symbols []string, details []string) source.Page {
	items := make([]source.PageItem, len(symbols))
	for i := range symbols {
		items[i] = source.PageItem{
			GeneSymbol: symbols[i],
			Detail:     details[i],
			Data:       map[string]any{"pmid": details[i]},
		}
	}
	return source.Page{Items: items}
}

func TestRun_PaginatedFullRefetch(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	gene := env.seedGene(t, "PKD1")
	env.seedSource(t, "lit", nil, false)

	pager := &fakePager{
		fakeClient: fakeClient{name: "lit"},
		pages: []source.Page{
			pageOf([]string{"PKD1", "PKD1"}, []string{"100", "101"}),
			pageOf([]string{"PKD1"}, []string{"102"}),
		},
	}
	env.registry.Register(pager)

	summary, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
	require.NoError(t, err)
	st := sourceState(t, summary, "lit")
	assert.Equal(t, model.RunCompleted, st.Status)
	assert.Equal(t, 3, st.ItemsAdded)
	assert.Equal(t, []int{0, 1}, pager.fetchedPages())

	keys, err := env.store.ListEvidenceKeys(ctx, "lit")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"100": true, "101": true, "102": true}, keys)

	// FULL again: prior records are soft-deleted and reactivated by the
	// refetch, so the active set is unchanged.
	_, err = env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
	require.NoError(t, err)
	count, err := env.store.CountEvidence(ctx, "lit")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	_ = gene
}

func TestRun_IncrementalDuplicateStop(t *testing.T) {
	env := newTestEnv(t, Options{DuplicateStopPages: 3})
	ctx := context.Background()
	env.seedGene(t, "PKD1")
	stale := time.Now().UTC().Add(-2 * time.Hour)
	env.seedSource(t, "lit", &stale, false)

	// Import pages 0-2 first so their records are known.
	seedPager := &fakePager{
		fakeClient: fakeClient{name: "lit"},
		pages: []source.Page{
			pageOf([]string{"PKD1", "PKD1"}, []string{"100", "101"}),
			pageOf([]string{"PKD1", "PKD1"}, []string{"102", "103"}),
			pageOf([]string{"PKD1", "PKD1"}, []string{"104", "105"}),
		},
	}
	env.registry.Register(seedPager)
	_, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
	require.NoError(t, err)

	// Incremental run: one new article on page 0, then all-duplicate pages.
	pager := &fakePager{
		fakeClient: fakeClient{name: "lit"},
		pages: []source.Page{
			pageOf([]string{"PKD1", "PKD1"}, []string{"200", "100"}),
			pageOf([]string{"PKD1", "PKD1"}, []string{"100", "101"}),
			pageOf([]string{"PKD1", "PKD1"}, []string{"102", "103"}),
			pageOf([]string{"PKD1", "PKD1"}, []string{"104", "105"}),
			pageOf([]string{"PKD1"}, []string{"999"}),
		},
	}
	registry := source.NewRegistry()
	registry.Register(pager)
	env.orch.registry = registry

	// The seed run refreshed last_update; re-stale it so the incremental
	// worklist picks the source up again.
	env.seedSource(t, "lit", &stale, false)

	summary, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyIncremental})
	require.NoError(t, err)
	st := sourceState(t, summary, "lit")
	assert.Equal(t, model.RunCompleted, st.Status)

	// Pages 1-3 are >=90% duplicate; the fetch halts after the third and
	// never reaches page 4.
	assert.Equal(t, []int{0, 1, 2, 3}, pager.fetchedPages())
	assert.Equal(t, 1, st.ItemsAdded, "only the new article landed")

	keys, err := env.store.ListEvidenceKeys(ctx, "lit")
	require.NoError(t, err)
	assert.True(t, keys["200"])
	assert.False(t, keys["999"], "page past the stop boundary was not fetched")
}

func TestRun_PaginatedUnknownSymbolsStaged(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.seedGene(t, "PKD1")
	env.seedSource(t, "lit", nil, false)

	pager := &fakePager{
		fakeClient: fakeClient{name: "lit"},
		pages: []source.Page{
			pageOf([]string{"PKD1", "NOTAGENE123"}, []string{"100", "100"}),
		},
	}
	env.registry.Register(pager)

	summary, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
	require.NoError(t, err)
	st := sourceState(t, summary, "lit")
	assert.Equal(t, 1, st.ItemsAdded, "unresolvable mention yields no evidence")

	pending, err := env.store.ListPendingStaging(ctx, store.StagingFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "NOTAGENE123", pending[0].OriginalText)
	assert.Equal(t, "lit", pending[0].SourceName)
}

func TestRun_PauseResumeBoundary(t *testing.T) {
	env := newTestEnv(t, Options{BatchSize: 1})
	ctx := context.Background()
	for _, symbol := range []string{"AAA1", "BBB1", "CCC1", "DDD1"} {
		env.seedGene(t, symbol)
	}
	env.seedSource(t, "alpha", nil, false)

	release := make(chan struct{})
	var once sync.Once
	client := &fakeClient{name: "alpha"}
	client.fetch = func(_ context.Context, g *model.Gene) ([]source.Evidence, error) {
		// Pause the run after the first gene, from inside the worker, so
		// the request lands mid-run deterministically.
		once.Do(func() {
			env.orch.Control().Pause("")
			close(release)
		})
		return []source.Evidence{{Data: map[string]any{"symbol": g.ApprovedSymbol}}}, nil
	}
	env.registry.Register(client)

	done := make(chan *model.RunSummary, 1)
	go func() {
		summary, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
		assert.NoError(t, err)
		done <- summary
	}()

	<-release
	// The worker honors the pause at the next batch boundary.
	require.Eventually(t, func() bool {
		states, err := env.orch.Status(ctx)
		require.NoError(t, err)
		return len(states) == 1 && states[0].Status == model.RunPaused
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-done:
		t.Fatal("run finished while paused")
	case <-time.After(300 * time.Millisecond):
	}

	env.orch.Control().Resume("")
	var summary *model.RunSummary
	select {
	case summary = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}

	// Every gene was processed exactly once across the pause.
	st := sourceState(t, summary, "alpha")
	assert.Equal(t, model.RunCompleted, st.Status)
	assert.Equal(t, 4, st.ItemsProcessed)
	assert.Equal(t, 4, client.callCount())
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.seedGene(t, "PKD1")
	env.seedSource(t, "slow", nil, false)

	started := make(chan struct{})
	unblock := make(chan struct{})
	env.registry.Register(&fakeClient{
		name: "slow",
		fetch: func(context.Context, *model.Gene) ([]source.Evidence, error) {
			close(started)
			<-unblock
			return nil, source.ErrNoData
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
		assert.NoError(t, err)
	}()

	<-started
	_, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	close(unblock)
	<-done
}

func TestRun_WallClockCeiling(t *testing.T) {
	env := newTestEnv(t, Options{MaxRunDuration: 50 * time.Millisecond})
	ctx := context.Background()
	env.seedGene(t, "PKD1")
	env.seedSource(t, "glacial", nil, false)
	env.registry.Register(&fakeClient{
		name: "glacial",
		fetch: func(ctx context.Context, _ *model.Gene) ([]source.Evidence, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	summary, err := env.orch.Run(ctx, RunOptions{Strategy: model.StrategyFull})
	require.NoError(t, err)
	st := sourceState(t, summary, "glacial")
	assert.Equal(t, model.RunFailed, st.Status)
	assert.NotEmpty(t, st.LastError)
	assert.Equal(t, model.OverallFailed, summary.Overall)
}
