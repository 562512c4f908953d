// Package schedule runs a single recurring job on a fixed period.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/autopeer-io/videoupload/pkg/log"
)

// JobSuffix is appended to the owner name to form a job id.
const JobSuffix = "_interval_save"

// JobID returns the stable job id for the named owner.
func JobID(name string) string {
	return name + JobSuffix
}

// Option configures a Job.
type Option func(*options)

type options struct {
	logger log.Logger
}

// WithLogger sets the logger used for job lifecycle and recovered panics.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Job is one active recurring registration.
type Job struct {
	id     string
	period time.Duration
	engine *cron.Cron
	entry  cron.EntryID
	log    log.Logger

	once    sync.Once
	stopped context.Context
}

// Start registers fn to run first at now+firstRunDelay and then every period.
// Every invocation runs on its own goroutine; a panic in fn is recovered and
// logged without affecting later invocations.
func Start(id string, period, firstRunDelay time.Duration, fn func(), opts ...Option) (*Job, error) {
	if id == "" {
		return nil, errors.New("job id is required")
	}
	if period <= 0 {
		return nil, fmt.Errorf("job %s: period must be positive, got %s", id, period)
	}
	if firstRunDelay < 0 {
		return nil, fmt.Errorf("job %s: first run delay must not be negative, got %s", id, firstRunDelay)
	}
	if fn == nil {
		return nil, fmt.Errorf("job %s: func is required", id)
	}

	o := &options{logger: log.Std()}
	for _, opt := range opts {
		opt(o)
	}
	l := o.logger.WithName("scheduler").WithValues("job", id)

	engine := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(l.Logr()),
		cron.WithChain(cron.Recover(l.Logr())),
	)
	entry := engine.Schedule(newDelayedSchedule(firstRunDelay, period), cron.FuncJob(fn))
	engine.Start()

	l.Info("Job registered", "period", period, "firstRunDelay", firstRunDelay)

	return &Job{
		id:     id,
		period: period,
		engine: engine,
		entry:  entry,
		log:    l,
	}, nil
}

// ID returns the job id.
func (j *Job) ID() string {
	return j.id
}

// Period returns the interval between fires.
func (j *Job) Period() time.Duration {
	return j.period
}

// Next returns the time of the next fire, or the zero time once shut down.
func (j *Job) Next() time.Time {
	return j.engine.Entry(j.entry).Next
}

// Shutdown stops future fires. It neither waits for nor cancels an
// invocation already running; the returned context is done once running
// invocations have returned. Calling Shutdown again returns the same context.
func (j *Job) Shutdown() context.Context {
	j.once.Do(func() {
		j.engine.Remove(j.entry)
		j.stopped = j.engine.Stop()
		j.log.Info("Job shut down")
	})
	return j.stopped
}

// delayedSchedule fires once after delay, then every period.
type delayedSchedule struct {
	mu      sync.Mutex
	started bool
	delay   time.Duration
	period  time.Duration
}

var _ cron.Schedule = (*delayedSchedule)(nil)

func newDelayedSchedule(delay, period time.Duration) *delayedSchedule {
	return &delayedSchedule{delay: delay, period: period}
}

func (s *delayedSchedule) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		return t.Add(s.delay)
	}
	return t.Add(s.period)
}
