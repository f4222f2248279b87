// Package scheduler runs periodic maintenance jobs such as verifying the
// local font cache.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"digifusion/logging"
)

// Runner performs one run of a job.
type Runner func(ctx context.Context) error

// Job is a runner repeated every Every. A zero or negative interval
// disables the job.
type Job struct {
	Name  string
	Every time.Duration
	Run   Runner
}

type Scheduler struct {
	logger *zap.Logger
	tick   time.Duration

	mu      sync.Mutex
	jobs    []Job
	lastRun map[string]time.Time
	running map[string]bool
	wg      sync.WaitGroup
}

func New(logger *zap.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		logger:  logging.OrNop(logger).Named("scheduler"),
		tick:    30 * time.Second,
		jobs:    append([]Job(nil), jobs...),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
	}
}

// Start checks the jobs immediately and then on every tick until ctx is
// done.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		s.check(ctx, time.Now())
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return
			case now := <-ticker.C:
				s.check(ctx, now)
			}
		}
	}()
}

// Wait blocks until the loop and every started run have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) check(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Name == "" || job.Run == nil || s.running[job.Name] {
			continue
		}
		if !shouldRun(job, s.lastRun[job.Name], now) {
			continue
		}
		s.running[job.Name] = true
		s.wg.Add(1)
		go s.runOnce(ctx, job, now)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job, now time.Time) {
	defer s.wg.Done()
	err := job.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[job.Name] = false
	if err != nil {
		s.logger.Warn("job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	s.lastRun[job.Name] = now
	s.logger.Debug("job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(now)))
}

func shouldRun(job Job, lastRun, now time.Time) bool {
	if job.Every <= 0 {
		return false
	}
	if lastRun.IsZero() {
		return true
	}
	return now.Sub(lastRun) >= job.Every
}

// LastRun reports when a job last succeeded.
func (s *Scheduler) LastRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastRun[name]
	return t, ok
}
