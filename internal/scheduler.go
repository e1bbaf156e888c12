package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts the global zap logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	zap.S().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.S().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs a job on a cron schedule. A run still in progress when the next one is
// due causes that one to be skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	spec    string
	job     func(ctx context.Context)
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewScheduler validates spec and prepares job. Nothing runs until Start.
func NewScheduler(spec string, job func(ctx context.Context)) (*Scheduler, error) {
	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, spec: spec, job: job, ctx: ctx, cancel: cancel}
	if _, err := c.AddFunc(spec, s.fire); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) fire() {
	zap.S().Infow("scheduled run started", "spec", s.spec)
	s.job(s.ctx)
	zap.S().Infow("scheduled run finished", "spec", s.spec)
}

// Start begins scheduling. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	zap.S().Infow("scheduler started", "spec", s.spec)
}

// Stop cancels a run in progress and waits for it to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		zap.S().Infow("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the next scheduled run times, for diagnostics.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}
