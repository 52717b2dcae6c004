package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
)

func TestTracker_PercentageMonotonic(t *testing.T) {
	tr := NewTracker("run-1", nil)
	ctx := context.Background()
	tr.Begin(ctx, "alpha")

	tr.Update(ctx, "alpha", Delta{Percentage: 40})
	tr.Update(ctx, "alpha", Delta{Percentage: 25})

	st, ok := tr.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, float64(40), st.ProgressPercentage, "percentage never regresses")

	// Pause and resume keep the high-water mark.
	tr.Update(ctx, "alpha", Delta{Status: model.RunPaused})
	tr.Update(ctx, "alpha", Delta{Status: model.RunRunning})
	st, _ = tr.Get("alpha")
	assert.Equal(t, float64(40), st.ProgressPercentage)
}

func TestTracker_CountersAccumulate(t *testing.T) {
	tr := NewTracker("run-1", nil)
	ctx := context.Background()
	tr.Begin(ctx, "alpha")

	tr.Update(ctx, "alpha", Delta{Processed: 10, Added: 4, Updated: 6})
	tr.Update(ctx, "alpha", Delta{Processed: 5, Added: 1, Failed: 2})

	st, _ := tr.Get("alpha")
	assert.Equal(t, 15, st.ItemsProcessed)
	assert.Equal(t, 5, st.ItemsAdded)
	assert.Equal(t, 6, st.ItemsUpdated)
	assert.Equal(t, 2, st.ItemsFailed)
}

func TestTracker_TerminalState(t *testing.T) {
	tr := NewTracker("run-1", nil)
	ctx := context.Background()
	tr.Begin(ctx, "alpha")
	tr.Update(ctx, "alpha", Delta{Percentage: 60, Operation: "genes 1-100 of 200"})

	tr.Update(ctx, "alpha", Delta{Status: model.RunCompleted})
	st, _ := tr.Get("alpha")
	assert.Equal(t, float64(100), st.ProgressPercentage)
	assert.Empty(t, st.CurrentOperation)
	require.NotNil(t, st.CompletedAt)
	assert.WithinDuration(t, time.Now().UTC(), *st.CompletedAt, time.Minute)
}

func TestTracker_FailedKeepsPercentage(t *testing.T) {
	tr := NewTracker("run-1", nil)
	ctx := context.Background()
	tr.Begin(ctx, "alpha")
	tr.Update(ctx, "alpha", Delta{Percentage: 30})
	tr.Update(ctx, "alpha", Delta{Status: model.RunFailed, LastError: "boom"})

	st, _ := tr.Get("alpha")
	assert.Equal(t, float64(30), st.ProgressPercentage, "failure does not fake completion")
	assert.Equal(t, "boom", st.LastError)
	assert.NotNil(t, st.CompletedAt)
}

func TestTracker_SubscribeReceivesEvents(t *testing.T) {
	tr := NewTracker("run-1", nil)
	ctx := context.Background()
	ch, cancel := tr.Subscribe()
	defer cancel()

	tr.Begin(ctx, "alpha")
	tr.Update(ctx, "alpha", Delta{Processed: 1})

	ev := <-ch
	assert.Equal(t, "alpha", ev.SourceName)
	assert.Equal(t, model.RunRunning, ev.Status)
	ev = <-ch
	assert.Equal(t, 1, ev.ItemsProcessed)
}

func TestTracker_SlowSubscriberDropsEvents(t *testing.T) {
	tr := NewTracker("run-1", nil)
	ctx := context.Background()
	ch, cancel := tr.Subscribe()
	defer cancel()

	tr.Begin(ctx, "alpha")
	// Nobody drains the channel; publishing must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			tr.Update(ctx, "alpha", Delta{Processed: 1})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	_ = ch
}

func TestTracker_CancelStopsDelivery(t *testing.T) {
	tr := NewTracker("run-1", nil)
	ctx := context.Background()
	ch, cancel := tr.Subscribe()
	tr.Begin(ctx, "alpha")
	cancel()

	_, open := <-ch
	for open {
		_, open = <-ch
	}
	// Publishing after cancel must not panic on the closed channel.
	tr.Update(ctx, "alpha", Delta{Processed: 1})
}

func TestController_GlobalPause(t *testing.T) {
	c := NewController()
	assert.False(t, c.Paused("alpha"))

	c.Pause("")
	assert.True(t, c.Paused("alpha"))
	assert.True(t, c.Paused("beta"))

	c.Resume("")
	assert.False(t, c.Paused("alpha"))
}

func TestController_PerSourcePause(t *testing.T) {
	c := NewController()
	c.Pause("alpha")
	assert.True(t, c.Paused("alpha"))
	assert.False(t, c.Paused("beta"))

	c.Resume("alpha")
	assert.False(t, c.Paused("alpha"))
}

func TestController_WaitIfPaused(t *testing.T) {
	c := NewController()

	waited, err := c.WaitIfPaused(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, waited)

	c.Pause("alpha")
	go func() {
		time.Sleep(150 * time.Millisecond)
		c.Resume("alpha")
	}()
	waited, err = c.WaitIfPaused(context.Background(), "alpha")
	require.NoError(t, err)
	assert.True(t, waited)
}

func TestController_WaitHonorsCancellation(t *testing.T) {
	c := NewController()
	c.Pause("")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.WaitIfPaused(ctx, "alpha")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
