package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/store"
)

// Delta is one progress update for a source. Counter fields accumulate;
// Percentage and Operation replace the current values.
type Delta struct {
	Status     model.RunStatus
	Operation  string
	Percentage float64
	Processed  int
	Added      int
	Updated    int
	Failed     int
	LastError  string
}

// Tracker maintains per-source run state in memory, fans out change events
// to subscribers, and persists state transitions. Percentage is monotonic
// within a run; counter updates are applied only after the underlying work
// is durably committed, so callers must report post-commit.
type Tracker struct {
	mu     sync.Mutex
	runID  string
	states map[string]*model.PipelineRunState
	subs   map[int]chan model.PipelineRunState
	nextID int

	store store.Store
	log   *zap.Logger
}

// NewTracker creates a tracker bound to one run. st may be nil when
// persistence is not wanted (tests).
func NewTracker(runID string, st store.Store) *Tracker {
	return &Tracker{
		runID:  runID,
		states: make(map[string]*model.PipelineRunState),
		subs:   make(map[int]chan model.PipelineRunState),
		store:  st,
		log:    zap.L().With(zap.String("component", "progress"), zap.String("run_id", runID)),
	}
}

// Begin registers a source in the run and marks it running.
func (t *Tracker) Begin(ctx context.Context, sourceName string) {
	now := time.Now().UTC()
	t.mu.Lock()
	st := &model.PipelineRunState{
		RunID:      t.runID,
		SourceName: sourceName,
		Status:     model.RunRunning,
		StartedAt:  &now,
	}
	t.states[sourceName] = st
	snapshot := *st
	t.mu.Unlock()

	t.persist(ctx, &snapshot)
	t.publish(snapshot)
}

// Update applies a progress delta. Status transitions and terminal states
// are persisted; intermediate counter updates are only fanned out.
func (t *Tracker) Update(ctx context.Context, sourceName string, d Delta) {
	t.mu.Lock()
	st, ok := t.states[sourceName]
	if !ok {
		t.mu.Unlock()
		return
	}

	transition := d.Status != "" && d.Status != st.Status
	if d.Status != "" {
		st.Status = d.Status
	}
	if d.Operation != "" {
		st.CurrentOperation = d.Operation
	}
	if d.Percentage > st.ProgressPercentage {
		st.ProgressPercentage = d.Percentage
	}
	st.ItemsProcessed += d.Processed
	st.ItemsAdded += d.Added
	st.ItemsUpdated += d.Updated
	st.ItemsFailed += d.Failed
	if d.LastError != "" {
		st.LastError = d.LastError
	}
	if st.Status.Terminal() && st.CompletedAt == nil {
		now := time.Now().UTC()
		st.CompletedAt = &now
		st.CurrentOperation = ""
		if st.Status == model.RunCompleted {
			st.ProgressPercentage = 100
		}
	}
	snapshot := *st
	t.mu.Unlock()

	if transition {
		t.persist(ctx, &snapshot)
	}
	t.publish(snapshot)
}

// Commit persists the source's current state regardless of transitions,
// called at periodic commit boundaries so progress survives a restart.
func (t *Tracker) Commit(ctx context.Context, sourceName string) {
	t.mu.Lock()
	st, ok := t.states[sourceName]
	if !ok {
		t.mu.Unlock()
		return
	}
	snapshot := *st
	t.mu.Unlock()
	t.persist(ctx, &snapshot)
}

// Get returns the current state for one source.
func (t *Tracker) Get(sourceName string) (model.PipelineRunState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[sourceName]
	if !ok {
		return model.PipelineRunState{}, false
	}
	return *st, true
}

// Snapshot returns the current state of every source in the run.
func (t *Tracker) Snapshot() []model.PipelineRunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.PipelineRunState, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, *st)
	}
	return out
}

// Subscribe registers an observer. Events are delivered best-effort: a slow
// observer loses events instead of blocking the pipeline. The returned
// cancel function must be called to release the channel.
func (t *Tracker) Subscribe() (<-chan model.PipelineRunState, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	ch := make(chan model.PipelineRunState, 64)
	t.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if ch, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (t *Tracker) publish(st model.PipelineRunState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (t *Tracker) persist(ctx context.Context, st *model.PipelineRunState) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveRunState(ctx, st); err != nil {
		t.log.Warn("persist run state failed",
			zap.String("source", st.SourceName),
			zap.Error(err),
		)
	}
}
