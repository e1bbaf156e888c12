package internal

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler("not a schedule", func(context.Context) {})
	assert.Error(t, err)
}

func TestScheduler_RunsAndStops(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler("@every 1s", func(ctx context.Context) { runs.Add(1) })
	require.NoError(t, err)

	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stop is idempotent")
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	s, err := NewScheduler("0 2 * * *", func(ctx context.Context) {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
	})
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 1)
	job := entries[0].WrappedJob

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		job.Run()
	}()
	<-started

	job.Run() // returns at once, the first run still holds the slot
	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, runs.Load())
}

func TestScheduler_StopCancelsRun(t *testing.T) {
	started := make(chan struct{})
	var once atomic.Bool
	s, err := NewScheduler("@every 1s", func(ctx context.Context) {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
	})
	require.NoError(t, err)

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled run did not start")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
