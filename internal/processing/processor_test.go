package processing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/registry/internal/queue"
)

type fakeFinalizer struct {
	mu       sync.Mutex
	promoted []string
	purged   []string
	block    chan struct{}
}

func (f *fakeFinalizer) Promote(_ context.Context, p queue.BatchPayload) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoted = append(f.promoted, p.Token)
	return nil
}

func (f *fakeFinalizer) Purge(_ context.Context, p queue.BatchPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, p.Token)
	return errors.New("bucket gone")
}

func TestProcessorRunsJobs(t *testing.T) {
	f := &fakeFinalizer{}
	p := New(f, 2, nil)
	p.Start(context.Background())

	require.NoError(t, p.Promote(context.Background(), queue.BatchPayload{Token: "a", Bucket: "b"}))
	require.NoError(t, p.Purge(context.Background(), queue.BatchPayload{Token: "c", Bucket: "b"}))
	p.Stop()

	assert.Equal(t, []string{"a"}, f.promoted)
	assert.Equal(t, []string{"c"}, f.purged)
}

func TestProcessorRejectsAfterStop(t *testing.T) {
	p := New(&fakeFinalizer{}, 1, nil)
	p.Start(context.Background())
	p.Stop()
	p.Stop()

	err := p.Promote(context.Background(), queue.BatchPayload{Token: "late"})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestProcessorQueueFullHonoursContext(t *testing.T) {
	f := &fakeFinalizer{block: make(chan struct{})}
	p := New(f, 1, nil)

	// Not started: nothing drains the buffer.
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Promote(context.Background(), queue.BatchPayload{Token: "t"}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Promote(ctx, queue.BatchPayload{Token: "t"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(f.block)
	p.Start(context.Background())
	p.Stop()
	assert.Len(t, f.promoted, 4)
}

func TestProcessorQueueFullWaitsForRoom(t *testing.T) {
	f := &fakeFinalizer{block: make(chan struct{})}
	p := New(f, 1, nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Promote(context.Background(), queue.BatchPayload{Token: "t"}))
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Promote(context.Background(), queue.BatchPayload{Token: "late"})
	}()
	select {
	case err := <-done:
		t.Fatalf("promote returned before the queue had room: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(f.block)
	p.Start(context.Background())
	require.NoError(t, <-done)
	p.Stop()

	assert.Len(t, f.promoted, 5)
	assert.Contains(t, f.promoted, "late")
}
