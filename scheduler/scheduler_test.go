package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	job := Job{Name: "fonts", Every: time.Hour}

	require.True(t, shouldRun(job, time.Time{}, now))
	require.False(t, shouldRun(job, now.Add(-30*time.Minute), now))
	require.True(t, shouldRun(job, now.Add(-time.Hour), now))
	require.False(t, shouldRun(Job{Name: "off"}, time.Time{}, now))
}

func TestCheckRecordsSuccessOnly(t *testing.T) {
	t.Parallel()
	var okRuns, badRuns atomic.Int32
	s := New(nil,
		Job{Name: "ok", Every: time.Hour, Run: func(context.Context) error { okRuns.Add(1); return nil }},
		Job{Name: "bad", Every: time.Hour, Run: func(context.Context) error { badRuns.Add(1); return errors.New("boom") }},
	)
	now := time.Now()

	s.check(context.Background(), now)
	s.Wait()
	require.EqualValues(t, 1, okRuns.Load())
	require.EqualValues(t, 1, badRuns.Load())

	last, ok := s.LastRun("ok")
	require.True(t, ok)
	require.Equal(t, now, last)
	_, ok = s.LastRun("bad")
	require.False(t, ok)

	// The failed job is retried on the next tick, the successful one waits.
	s.check(context.Background(), now.Add(time.Minute))
	s.Wait()
	require.EqualValues(t, 1, okRuns.Load())
	require.EqualValues(t, 2, badRuns.Load())
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	t.Parallel()
	ran := make(chan struct{}, 1)
	s := New(nil, Job{Name: "fonts", Every: time.Hour, Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
	cancel()
	s.Wait()
}
