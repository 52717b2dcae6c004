// Package pipeline runs annotation updates: it selects a worklist per
// strategy, fans source fetches out over a bounded worker pool, persists
// evidence in periodic batches, and isolates per-source failures so one
// degraded upstream cannot sink a whole run.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/normalize"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/source"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/store"
)

// Options bounds a pipeline run.
type Options struct {
	// Workers caps concurrent source fetch tasks. Default: 3.
	Workers int
	// BatchSize is the number of genes fetched per evidence commit. Default: 100.
	BatchSize int
	// CommitEveryBatches controls how often run state is persisted. Default: 50.
	CommitEveryBatches int
	// MaxRunDuration is the wall-clock ceiling; past it the run is marked
	// failed. Default: 6h.
	MaxRunDuration time.Duration
	// DuplicateThreshold is the rolling page duplicate ratio that counts
	// toward an incremental stop. Default: 0.9.
	DuplicateThreshold float64
	// DuplicateStopPages is how many consecutive duplicate-heavy pages end an
	// incremental paginated fetch. Default: 3.
	DuplicateStopPages int
	// MaxPages bounds a paginated fetch regardless of duplicates. Default: 500.
	MaxPages int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 3
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.CommitEveryBatches <= 0 {
		o.CommitEveryBatches = 50
	}
	if o.MaxRunDuration <= 0 {
		o.MaxRunDuration = 6 * time.Hour
	}
	if o.DuplicateThreshold <= 0 {
		o.DuplicateThreshold = 0.9
	}
	if o.DuplicateStopPages <= 0 {
		o.DuplicateStopPages = 3
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 500
	}
	return o
}

// RunOptions selects what a run covers.
type RunOptions struct {
	Strategy model.Strategy
	// Sources restricts the run; required for SELECTIVE, ignored otherwise.
	Sources []string
	// Force bypasses cache-freshness checks for any strategy, the way FORCED
	// does implicitly.
	Force bool
}

// Orchestrator coordinates pipeline runs. One run at a time; Run returns an
// error if another run is in flight.
type Orchestrator struct {
	store      store.Store
	registry   *source.Registry
	normalizer *normalize.Normalizer
	control    *Controller
	opts       Options
	log        *zap.Logger

	mu      sync.Mutex
	running bool
	tracker *Tracker
}

// New creates an orchestrator.
func New(st store.Store, registry *source.Registry, n *normalize.Normalizer, control *Controller, opts Options) *Orchestrator {
	if control == nil {
		control = NewController()
	}
	return &Orchestrator{
		store:      st,
		registry:   registry,
		normalizer: n,
		control:    control,
		opts:       opts.withDefaults(),
		log:        zap.L().With(zap.String("component", "pipeline")),
	}
}

// Control returns the pause controller shared with the admin surface.
func (o *Orchestrator) Control() *Controller { return o.control }

// Status returns the current run's per-source states, or the persisted
// states of the last run when nothing is in flight.
func (o *Orchestrator) Status(ctx context.Context) ([]model.PipelineRunState, error) {
	o.mu.Lock()
	tracker := o.tracker
	o.mu.Unlock()
	if tracker != nil {
		states := tracker.Snapshot()
		sort.Slice(states, func(i, j int) bool { return states[i].SourceName < states[j].SourceName })
		return states, nil
	}
	return o.store.GetRunStates(ctx)
}

// Subscribe attaches a progress observer to the current run. Returns false
// when no run is in flight.
func (o *Orchestrator) Subscribe() (<-chan model.PipelineRunState, func(), bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tracker == nil {
		return nil, nil, false
	}
	ch, cancel := o.tracker.Subscribe()
	return ch, cancel, true
}

// Run executes one pipeline run and blocks until it finishes. Per-source
// failures are captured in the summary, not returned as errors; the error
// return covers invalid options and worklist resolution only.
func (o *Orchestrator) Run(ctx context.Context, runOpts RunOptions) (*model.RunSummary, error) {
	worklist, err := o.worklist(ctx, runOpts)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	tracker := NewTracker(runID, o.store)

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, eris.New("pipeline: a run is already in progress")
	}
	o.running = true
	o.tracker = tracker
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, o.opts.MaxRunDuration)
	defer cancel()
	if runOpts.Strategy == model.StrategyForced || runOpts.Force {
		ctx = source.CacheBypass(ctx)
	}

	genes, err := o.store.ListGenes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load gene worklist")
	}

	summary := &model.RunSummary{
		RunID:     runID,
		Strategy:  runOpts.Strategy,
		StartedAt: time.Now().UTC(),
	}
	o.log.Info("run started",
		zap.String("run_id", runID),
		zap.String("strategy", string(runOpts.Strategy)),
		zap.Int("sources", len(worklist)),
		zap.Int("genes", len(genes)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for _, cfg := range worklist {
		g.Go(func() error {
			o.runSource(gctx, tracker, runOpts.Strategy, cfg, genes)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	summary.CompletedAt = time.Now().UTC()
	summary.Sources = tracker.Snapshot()
	sort.Slice(summary.Sources, func(i, j int) bool {
		return summary.Sources[i].SourceName < summary.Sources[j].SourceName
	})
	summary.Classify()

	o.log.Info("run finished",
		zap.String("run_id", runID),
		zap.String("overall", string(summary.Overall)),
		zap.Duration("elapsed", summary.CompletedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

// worklist resolves the source configs covered by the run.
func (o *Orchestrator) worklist(ctx context.Context, runOpts RunOptions) ([]model.SourceConfig, error) {
	configs, err := o.store.ListSourceConfigs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list source configs")
	}

	switch runOpts.Strategy {
	case model.StrategyFull, model.StrategyForced:
		return activeConfigs(configs), nil

	case model.StrategyIncremental:
		now := time.Now().UTC()
		var due []model.SourceConfig
		for _, cfg := range activeConfigs(configs) {
			if cfg.Due(now) {
				due = append(due, cfg)
			}
		}
		return due, nil

	case model.StrategySelective:
		if len(runOpts.Sources) == 0 {
			return nil, eris.New("pipeline: selective run requires at least one source")
		}
		byName := make(map[string]model.SourceConfig, len(configs))
		for _, cfg := range configs {
			byName[cfg.SourceName] = cfg
		}
		selected := make([]model.SourceConfig, 0, len(runOpts.Sources))
		for _, name := range runOpts.Sources {
			cfg, ok := byName[name]
			if !ok {
				return nil, eris.Errorf("pipeline: unknown source %q", name)
			}
			selected = append(selected, cfg)
		}
		return selected, nil

	default:
		return nil, eris.Errorf("pipeline: unknown strategy %q", runOpts.Strategy)
	}
}

func activeConfigs(configs []model.SourceConfig) []model.SourceConfig {
	var active []model.SourceConfig
	for _, cfg := range configs {
		if cfg.IsActive {
			active = append(active, cfg)
		}
	}
	return active
}

// runSource processes one source to completion or failure. Failures are
// recorded in the tracker, never propagated, so sibling sources keep going.
func (o *Orchestrator) runSource(ctx context.Context, tracker *Tracker, strategy model.Strategy, cfg model.SourceConfig, genes []model.Gene) {
	name := cfg.SourceName
	tracker.Begin(ctx, name)

	client, err := o.registry.Get(name)
	if err != nil {
		o.failSource(ctx, tracker, cfg, err)
		return
	}

	if pf, ok := client.(source.PageFetcher); ok {
		err = o.runPaginated(ctx, tracker, strategy, cfg, pf)
	} else {
		err = o.runPerGene(ctx, tracker, cfg, client, genes)
	}
	if err != nil {
		o.failSource(ctx, tracker, cfg, err)
		return
	}

	now := time.Now().UTC()
	next := now.Add(cfg.UpdateFrequency)
	if err := o.store.TouchSourceUpdate(ctx, name, now, next, false); err != nil {
		o.log.Warn("record source update failed", zap.String("source", name), zap.Error(err))
	}
	tracker.Update(ctx, name, Delta{Status: model.RunCompleted})
	tracker.Commit(ctx, name)
}

func (o *Orchestrator) failSource(ctx context.Context, tracker *Tracker, cfg model.SourceConfig, err error) {
	name := cfg.SourceName
	o.log.Error("source failed", zap.String("source", name), zap.Error(err))

	// Persisting with a fresh context: the run context may already be past
	// its deadline, and the failure record must still land.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if touchErr := o.store.TouchSourceUpdate(persistCtx, name, now, now, true); touchErr != nil {
		o.log.Warn("record source failure failed", zap.String("source", name), zap.Error(touchErr))
	}
	tracker.Update(persistCtx, name, Delta{Status: model.RunFailed, LastError: err.Error()})
	tracker.Commit(persistCtx, name)
}

// pauseBoundary blocks at a safe boundary while the source is paused,
// recording the Paused/Running transitions.
func (o *Orchestrator) pauseBoundary(ctx context.Context, tracker *Tracker, name string) error {
	if !o.control.Paused(name) {
		return ctx.Err()
	}
	tracker.Update(ctx, name, Delta{Status: model.RunPaused})
	if _, err := o.control.WaitIfPaused(ctx, name); err != nil {
		return err
	}
	tracker.Update(ctx, name, Delta{Status: model.RunRunning})
	return nil
}

// runPerGene walks the gene list in stable symbol order, batching evidence
// upserts. Counters move only after each batch is committed.
func (o *Orchestrator) runPerGene(ctx context.Context, tracker *Tracker, cfg model.SourceConfig, client source.Client, genes []model.Gene) error {
	name := cfg.SourceName
	total := len(genes)
	if total == 0 {
		return nil
	}

	batch := 0
	for start := 0; start < total; start += o.opts.BatchSize {
		if err := o.pauseBoundary(ctx, tracker, name); err != nil {
			return err
		}

		end := min(start+o.opts.BatchSize, total)
		batch++
		tracker.Update(ctx, name, Delta{
			Operation: fmt.Sprintf("genes %d-%d of %d", start+1, end, total),
		})

		var records []model.EvidenceRecord
		processed := 0
		noData := 0
		for i := start; i < end; i++ {
			gene := genes[i]
			items, err := client.FetchGene(ctx, &gene)
			if err != nil {
				if source.IsNoData(err) {
					processed++
					noData++
					continue
				}
				return eris.Wrapf(err, "fetch %s for gene %s", name, gene.ApprovedSymbol)
			}
			for _, item := range items {
				records = append(records, model.EvidenceRecord{
					GeneID:       gene.ID,
					SourceName:   name,
					SourceDetail: item.Detail,
					Data:         item.Data,
					Active:       true,
				})
			}
			processed++
		}

		result, err := o.store.UpsertEvidence(ctx, records)
		if err != nil {
			return eris.Wrapf(err, "persist %s evidence batch", name)
		}
		tracker.Update(ctx, name, Delta{
			Percentage: float64(end) / float64(total) * 100,
			Processed:  processed,
			Added:      result.Added,
			Updated:    result.Updated,
		})
		if batch%o.opts.CommitEveryBatches == 0 {
			tracker.Commit(ctx, name)
		}
		if noData > 0 {
			o.log.Debug("genes without source data",
				zap.String("source", name), zap.Int("count", noData))
		}
	}
	return nil
}

// runPaginated walks a relevance-ordered corpus feed. FULL and FORCED runs
// soft-delete prior evidence and refetch everything; INCREMENTAL runs stop
// early once consecutive pages are dominated by already-imported records.
func (o *Orchestrator) runPaginated(ctx context.Context, tracker *Tracker, strategy model.Strategy, cfg model.SourceConfig, pf source.PageFetcher) error {
	name := cfg.SourceName
	incremental := strategy == model.StrategyIncremental

	known := make(map[string]bool)
	if incremental {
		var err error
		known, err = o.store.ListEvidenceKeys(ctx, name)
		if err != nil {
			return eris.Wrapf(err, "load %s evidence keys", name)
		}
	} else {
		cleared, err := o.store.DeactivateSourceEvidence(ctx, name)
		if err != nil {
			return eris.Wrapf(err, "clear %s evidence", name)
		}
		o.log.Info("cleared source evidence for refetch",
			zap.String("source", name), zap.Int("records", cleared))
	}

	// Symbols repeat heavily across articles; resolve each once per run.
	resolved := make(map[string]string)

	cursor := ""
	pages := 0
	duplicatePages := 0
	for {
		if err := o.pauseBoundary(ctx, tracker, name); err != nil {
			return err
		}

		pages++
		tracker.Update(ctx, name, Delta{Operation: fmt.Sprintf("page %d", pages)})
		page, err := pf.FetchPage(ctx, cursor)
		if err != nil {
			return eris.Wrapf(err, "fetch %s page %d", name, pages)
		}

		records, duplicates, failed, err := o.collectPageRecords(ctx, name, page.Items, known, resolved)
		if err != nil {
			return err
		}
		result, err := o.store.UpsertEvidence(ctx, records)
		if err != nil {
			return eris.Wrapf(err, "persist %s page %d", name, pages)
		}
		tracker.Update(ctx, name, Delta{
			Processed: len(page.Items),
			Added:     result.Added,
			Updated:   result.Updated,
			Failed:    failed,
		})
		if pages%o.opts.CommitEveryBatches == 0 {
			tracker.Commit(ctx, name)
		}

		if incremental && len(page.Items) > 0 {
			ratio := float64(duplicates) / float64(len(page.Items))
			if ratio >= o.opts.DuplicateThreshold {
				duplicatePages++
				if duplicatePages >= o.opts.DuplicateStopPages {
					o.log.Info("incremental fetch saturated, stopping early",
						zap.String("source", name),
						zap.Int("pages", pages),
						zap.Float64("duplicate_ratio", ratio),
					)
					return nil
				}
			} else {
				duplicatePages = 0
			}
		}

		if !page.HasMore || pages >= o.opts.MaxPages {
			return nil
		}
		cursor = page.NextCursor
	}
}

// collectPageRecords normalizes page items into evidence records. Items
// whose gene symbol stages or fails normalization produce no evidence; the
// staging path has already captured them for review.
func (o *Orchestrator) collectPageRecords(ctx context.Context, sourceName string, items []source.PageItem, known map[string]bool, resolved map[string]string) (records []model.EvidenceRecord, duplicates, failed int, err error) {
	seen := make(map[string]bool)
	for _, item := range items {
		if known[item.Detail] {
			duplicates++
		}
		known[item.Detail] = true

		geneID, ok := resolved[item.GeneSymbol]
		if !ok {
			result, normErr := o.normalizer.Normalize(ctx, normalize.Request{
				Text:         item.GeneSymbol,
				SourceName:   sourceName,
				OriginalData: item.Data,
			})
			if normErr != nil {
				if ctx.Err() != nil {
					return nil, 0, 0, normErr
				}
				failed++
				continue
			}
			if result.Outcome != model.OutcomeResolved {
				resolved[item.GeneSymbol] = ""
				continue
			}
			geneID = result.GeneID
			resolved[item.GeneSymbol] = geneID
		}
		if geneID == "" {
			continue
		}

		key := geneID + "\x00" + item.Detail
		if seen[key] {
			continue
		}
		seen[key] = true
		records = append(records, model.EvidenceRecord{
			GeneID:       geneID,
			SourceName:   sourceName,
			SourceDetail: item.Detail,
			Data:         item.Data,
			Active:       true,
		})
	}
	return records, duplicates, failed, nil
}
