package pipeline

import (
	"context"
	"sync"
	"time"
)

// Controller carries pause requests into running pipelines. Pausing is
// cooperative: workers call WaitIfPaused between discrete units of work
// (pages, batches), never mid-unit, so resume always starts from a clean
// boundary.
type Controller struct {
	mu        sync.Mutex
	global    bool
	perSource map[string]bool
}

// NewController creates an unpaused controller.
func NewController() *Controller {
	return &Controller{perSource: make(map[string]bool)}
}

// Pause requests a pause. An empty source pauses every source.
func (c *Controller) Pause(sourceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sourceName == "" {
		c.global = true
		return
	}
	c.perSource[sourceName] = true
}

// Resume lifts a pause. An empty source lifts the global pause and every
// per-source pause.
func (c *Controller) Resume(sourceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sourceName == "" {
		c.global = false
		c.perSource = make(map[string]bool)
		return
	}
	delete(c.perSource, sourceName)
}

// Paused reports whether the source is currently paused.
func (c *Controller) Paused(sourceName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global || c.perSource[sourceName]
}

// WaitIfPaused blocks while the source is paused, polling at a coarse
// interval. Returns the context error if the run is cancelled while waiting,
// and reports whether any waiting happened so the caller can record the
// paused state transition.
func (c *Controller) WaitIfPaused(ctx context.Context, sourceName string) (waited bool, err error) {
	for c.Paused(sourceName) {
		waited = true
		select {
		case <-ctx.Done():
			return waited, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return waited, nil
}
