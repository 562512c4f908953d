package schedule

import (
	"context"
	"sync"
	"time"
)

// Scheduler holds at most one Job. Starting a new job first shuts down the
// previous one.
type Scheduler struct {
	mu   sync.Mutex
	job  *Job
	opts []Option
}

// NewScheduler returns a Scheduler with no job.
func NewScheduler(opts ...Option) *Scheduler {
	return &Scheduler{opts: opts}
}

// Start replaces the current job, if any, with a new registration. When the
// new registration fails the previous job has already been shut down.
func (s *Scheduler) Start(id string, period, firstRunDelay time.Duration, fn func()) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != nil {
		s.job.Shutdown()
		s.job = nil
	}

	job, err := Start(id, period, firstRunDelay, fn, s.opts...)
	if err != nil {
		return nil, err
	}
	s.job = job
	return job, nil
}

// Current returns the active job, or nil.
func (s *Scheduler) Current() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// Shutdown releases the current job. The returned context is done once any
// running invocation has returned.
func (s *Scheduler) Shutdown() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	ctx := s.job.Shutdown()
	s.job = nil
	return ctx
}
