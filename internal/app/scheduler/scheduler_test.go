package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func blockingRun(release <-chan struct{}) RunFunc {
	return func(ctx context.Context) (any, error) {
		<-release
		return "done", nil
	}
}

func TestEnqueue_RunsAndReturnsResult(t *testing.T) {
	s := New(DefaultConfig(), nil)
	result, err := s.Enqueue(context.Background(), EnqueueParams{
		Lane: LaneFast,
		Run:  func(ctx context.Context) (any, error) { return 42, nil },
	})
	require.NoError(t, err)
	require.Equal(t, 42, result)
}

func TestEnqueue_RejectsNilRun(t *testing.T) {
	s := New(DefaultConfig(), nil)
	_, err := s.Enqueue(context.Background(), EnqueueParams{})
	var rejectErr *RejectError
	require.True(t, errors.As(err, &rejectErr))
	require.Equal(t, CodeInvalidJob, rejectErr.Code)
}

func TestEnqueue_PerUserCapBlocksBurst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInFlightGlobal = 10
	cfg.MaxInFlightPerUser = 1
	s := New(cfg, nil)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Enqueue(context.Background(), EnqueueParams{UserID: "u1", Run: blockingRun(release)})
	}()

	// Give the first job a moment to start and occupy the per-user slot.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, s.InFlight())

	// A second job for the same user stays queued while the first runs.
	go func() {
		defer wg.Done()
		_, _ = s.Enqueue(context.Background(), EnqueueParams{UserID: "u1", Run: blockingRun(release)})
	}()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, s.InFlight())
	require.Equal(t, 1, s.QueueDepth(LaneDefault))

	close(release)
	wg.Wait()
}

func TestEnqueue_SupersedeCancelsQueuedJob(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInFlightGlobal = 1
	cfg.SupersedeQueuedByKey = true
	s := New(cfg, nil)

	blockRelease := make(chan struct{})
	blockerDone := make(chan struct{})
	go func() {
		_, _ = s.Enqueue(context.Background(), EnqueueParams{
			UserID: "busy", Run: blockingRun(blockRelease),
		})
		close(blockerDone)
	}()
	time.Sleep(20 * time.Millisecond) // let the blocker occupy the only global slot

	supersededDone := make(chan error, 1)
	go func() {
		_, err := s.Enqueue(context.Background(), EnqueueParams{
			SupersedeKey: "digest-job",
			Run:          func(ctx context.Context) (any, error) { return nil, nil },
		})
		supersededDone <- err
	}()
	time.Sleep(20 * time.Millisecond) // ensure it's queued, not running

	// The newer enqueue stays queued behind the blocker; Enqueue blocks until
	// its job runs, so it is submitted from its own goroutine.
	go func() {
		_, _ = s.Enqueue(context.Background(), EnqueueParams{
			SupersedeKey: "digest-job",
			Run:          func(ctx context.Context) (any, error) { return "newer", nil },
		})
	}()

	firstErr := <-supersededDone
	var rejectErr *RejectError
	require.True(t, errors.As(firstErr, &rejectErr))
	require.Equal(t, CodeSuperseded, rejectErr.Code)

	close(blockRelease)
	<-blockerDone
}

func TestEnqueue_QueueFullRejectsWithRetryHint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInFlightGlobal = 1
	cfg.MaxQueueSize = 1
	s := New(cfg, nil)

	blockRelease := make(chan struct{})
	go func() { _, _ = s.Enqueue(context.Background(), EnqueueParams{Run: blockingRun(blockRelease)}) }()
	time.Sleep(20 * time.Millisecond)

	go func() {
		_, _ = s.Enqueue(context.Background(), EnqueueParams{Run: func(ctx context.Context) (any, error) { return nil, nil }})
	}()
	time.Sleep(20 * time.Millisecond)

	_, err := s.Enqueue(context.Background(), EnqueueParams{Run: func(ctx context.Context) (any, error) { return nil, nil }})
	var rejectErr *RejectError
	require.True(t, errors.As(err, &rejectErr))
	require.Equal(t, CodeQueueFull, rejectErr.Code)
	require.Greater(t, rejectErr.RetryAfterMs, 0)

	close(blockRelease)
}

func TestBuildRoundRobinVector_RepeatsLaneByWeight(t *testing.T) {
	vec := buildRoundRobinVector(map[string]int{LaneFast: 2, LaneDefault: 1})
	fastCount, defaultCount := 0, 0
	for _, l := range vec {
		switch l {
		case LaneFast:
			fastCount++
		case LaneDefault:
			defaultCount++
		}
	}
	require.Equal(t, 2, fastCount)
	require.Equal(t, 1, defaultCount)
}
