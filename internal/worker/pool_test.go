package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/careeros/careeros-back/internal/domain"
	"github.com/careeros/careeros-back/internal/events"
	"github.com/careeros/careeros-back/internal/queue"
)

// fastConfig keeps pool loops tight enough for test timeouts.
func fastConfig() Config {
	return Config{
		Queues:              []domain.QueueName{domain.QueueResumeOptimization},
		Concurrency:         1,
		Visibility:          time.Minute,
		BackoffBase:         5 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
		MaintenanceInterval: 5 * time.Millisecond,
	}
}

func newPoolHarness(t *testing.T, mux *Mux) (*Pool, *queue.Store, *events.MemoryBus) {
	t.Helper()
	mrd := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mrd.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := queue.NewStore(rdb)
	bus := events.NewMemoryBus()
	pool := New(store, bus, mux, fastConfig(), nil)
	return pool, store, bus
}

func enqueue(t *testing.T, store *queue.Store, id, jobType string, maxAttempts int) {
	t.Helper()
	require.NoError(t, store.Enqueue(context.Background(), &domain.Job{
		ID:          id,
		Queue:       domain.QueueResumeOptimization,
		Type:        jobType,
		Payload:     json.RawMessage(`{}`),
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UnixMilli(),
	}, 0))
}

func waitForState(t *testing.T, store *queue.Store, jobID string, want domain.StoreState) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, state, _, err := store.Find(context.Background(), domain.QueueResumeOptimization, jobID)
		if err == nil && state == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached state %s", jobID, want)
	return nil
}

func TestPoolRunsHandlerToCompletion(t *testing.T) {
	mux := NewMux()
	mux.Handle("echo", func(ctx context.Context, payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		progress(50, "halfway")
		return json.RawMessage(`{"ok":true}`), nil
	})

	pool, store, bus := newPoolHarness(t, mux)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, stop, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	enqueue(t, store, "user-1:echo:1:aaaa", "echo", 3)
	go pool.Run(ctx)

	job := waitForState(t, store, "user-1:echo:1:aaaa", domain.StateCompleted)
	require.JSONEq(t, `{"ok":true}`, string(job.Result))
	require.NotZero(t, job.StartedAt)
	require.NotZero(t, job.CompletedAt)

	kinds := collectKinds(t, stream, 2)
	require.Equal(t, domain.EventJobProgress, kinds[0].Kind)
	require.Equal(t, 50, kinds[0].Progress.Percent)
	require.Equal(t, domain.EventJobCompleted, kinds[1].Kind)
	require.Equal(t, "user-1", kinds[1].UserID)
}

func TestPoolRetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	mux := NewMux()
	mux.Handle("flaky", func(ctx context.Context, payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return json.RawMessage(`{"ok":true}`), nil
	})

	pool, store, _ := newPoolHarness(t, mux)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enqueue(t, store, "user-1:flaky:1:aaaa", "flaky", 3)
	go pool.Run(ctx)

	waitForState(t, store, "user-1:flaky:1:aaaa", domain.StateCompleted)
	require.Equal(t, int32(3), calls.Load())
}

func TestPoolFailsAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	mux := NewMux()
	mux.Handle("doomed", func(ctx context.Context, payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		calls.Add(1)
		return nil, errors.New("permanent damage")
	})

	pool, store, bus := newPoolHarness(t, mux)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, stop, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	enqueue(t, store, "user-1:doomed:1:aaaa", "doomed", 3)
	go pool.Run(ctx)

	job := waitForState(t, store, "user-1:doomed:1:aaaa", domain.StateFailed)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, "permanent damage", job.FailedReason)

	failed := collectKinds(t, stream, 1)
	require.Equal(t, domain.EventJobFailed, failed[0].Kind)
	require.Equal(t, "permanent damage", failed[0].FailedReason)
}

func TestPoolFailsUnknownJobType(t *testing.T) {
	pool, store, _ := newPoolHarness(t, NewMux())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enqueue(t, store, "user-1:mystery:1:aaaa", "mystery", 3)
	go pool.Run(ctx)

	job := waitForState(t, store, "user-1:mystery:1:aaaa", domain.StateFailed)
	require.Contains(t, job.FailedReason, "no handler")
}

func TestPoolDiscardsLateCompletionOfCancelledJob(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	mux := NewMux()
	mux.Handle("slow", func(ctx context.Context, payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{"ok":true}`), nil
	})

	pool, store, _ := newPoolHarness(t, mux)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enqueue(t, store, "user-1:slow:1:aaaa", "slow", 3)
	go pool.Run(ctx)

	<-started

	// Cancel while the handler is running.
	job, state, raw, err := store.Find(context.Background(), domain.QueueResumeOptimization, "user-1:slow:1:aaaa")
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, state)
	require.NoError(t, store.MoveToCancelled(context.Background(), domain.QueueResumeOptimization, state, raw, job))

	close(release)

	// The job must stay cancelled; the late completion is dropped.
	require.Never(t, func() bool {
		_, foundState, _, err := store.Find(context.Background(), domain.QueueResumeOptimization, "user-1:slow:1:aaaa")
		return err == nil && foundState == domain.StateCompleted
	}, 200*time.Millisecond, 10*time.Millisecond)

	job = waitForState(t, store, "user-1:slow:1:aaaa", domain.StateCancelled)
	require.Empty(t, job.Result)
}

func TestPoolDropsCancelledJobOnHandlerError(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	mux := NewMux()
	mux.Handle("slow", func(ctx context.Context, payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil, errors.New("transient")
	})

	pool, store, _ := newPoolHarness(t, mux)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enqueue(t, store, "user-1:slow:1:aaaa", "slow", 3)
	go pool.Run(ctx)

	<-started

	// Cancel while the handler is running, before it errors out.
	job, state, raw, err := store.Find(context.Background(), domain.QueueResumeOptimization, "user-1:slow:1:aaaa")
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, state)
	require.NoError(t, store.MoveToCancelled(context.Background(), domain.QueueResumeOptimization, state, raw, job))

	close(release)

	// The failed attempt must be dropped, not retried into the delayed set.
	waitForState(t, store, "user-1:slow:1:aaaa", domain.StateCancelled)
	require.Never(t, func() bool {
		_, foundState, _, err := store.Find(context.Background(), domain.QueueResumeOptimization, "user-1:slow:1:aaaa")
		return err == nil && foundState != domain.StateCancelled
	}, 250*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
}

func collectKinds(t *testing.T, stream <-chan domain.Event, n int) []domain.Event {
	t.Helper()
	got := make([]domain.Event, 0, n)
	timeout := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case event := <-stream:
			got = append(got, event)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}
