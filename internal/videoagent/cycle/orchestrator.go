// Package cycle runs one gated save-then-upload pass per scheduler tick.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/videoupload/internal/pkg/metrics"
	"github.com/autopeer-io/videoupload/internal/videoagent/core"
	"github.com/autopeer-io/videoupload/internal/videoagent/uploader"
	"github.com/autopeer-io/videoupload/internal/videoagent/window"
	"github.com/autopeer-io/videoupload/pkg/log"
)

// DefaultSettleDelay is the pause between a successful save and the scan, so
// the device can finish writing the file.
const DefaultSettleDelay = 5 * time.Second

// Result is the outcome of one RunCycle call.
type Result string

const (
	ResultSkipped    Result = "skipped"
	ResultBusy       Result = "busy"
	ResultSaveFailed Result = "save_failed"
	ResultFailed     Result = "failed"
	ResultCompleted  Result = "completed"
)

// Uploader moves local artifacts to the remote target.
type Uploader interface {
	UploadAll(ctx context.Context, localDir, prefix string) uploader.Report
}

// Snapshot is the configuration a cycle runs with. It is never mutated once
// handed to an Orchestrator.
type Snapshot struct {
	JobID       string
	Schedule    window.Schedule
	Interval    time.Duration
	SettleDelay time.Duration
	Target      core.Target
	VideoStore  core.VideoStore

	// Uploader is required for a core.Remote target.
	Uploader Uploader

	// Closers are released with the snapshot, after VideoStore.
	Closers []func() error
}

// Validate checks that the snapshot can drive a cycle.
func (s *Snapshot) Validate() error {
	if s == nil {
		return errors.New("snapshot is nil")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", s.Interval)
	}
	if s.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative, got %s", s.SettleDelay)
	}
	if s.VideoStore == nil {
		return errors.New("video store is required")
	}
	switch s.Target.(type) {
	case core.SaveOnly:
	case core.Remote:
		if s.Uploader == nil {
			return errors.New("remote target requires an uploader")
		}
	default:
		return fmt.Errorf("unsupported target %T", s.Target)
	}
	return nil
}

// Close releases the snapshot's clients.
func (s *Snapshot) Close() error {
	var errs []error
	if s.VideoStore != nil {
		errs = append(errs, s.VideoStore.Close())
	}
	for _, c := range s.Closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator runs cycles against the current Snapshot. At most one cycle
// runs at a time; a cycle started while another is running returns
// ResultBusy without doing anything.
type Orchestrator struct {
	snap  atomic.Pointer[Snapshot]
	guard *semaphore.Weighted
	clock clock.Clock
	log   log.Logger
}

// New creates an Orchestrator for snap.
func New(snap *Snapshot, opts ...Option) (*Orchestrator, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		guard: semaphore.NewWeighted(1),
		clock: clock.RealClock{},
		log:   log.Std(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithName("cycle")
	o.snap.Store(snap)
	return o, nil
}

// Snapshot returns the configuration the next cycle will use.
func (o *Orchestrator) Snapshot() *Snapshot {
	return o.snap.Load()
}

// Swap installs snap for subsequent cycles and returns the previous one. A
// running cycle keeps the snapshot it started with.
func (o *Orchestrator) Swap(snap *Snapshot) (*Snapshot, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return o.snap.Swap(snap), nil
}

// Drain blocks until no cycle is running or ctx is done.
func (o *Orchestrator) Drain(ctx context.Context) error {
	if err := o.guard.Acquire(ctx, 1); err != nil {
		return err
	}
	o.guard.Release(1)
	return nil
}

// Retire closes old once any cycle that may still be using it has finished.
// The returned channel is closed when that has happened.
func (o *Orchestrator) Retire(old *Snapshot) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if old == nil {
			return
		}
		_ = o.Drain(context.Background())
		if err := old.Close(); err != nil {
			o.log.Warn("Failed to close retired configuration", "job", old.JobID, "error", err)
		}
	}()
	return done
}

// RunCycle performs one cycle: gate, save command, and for a remote target a
// settle wait followed by the upload pass. It never panics.
func (o *Orchestrator) RunCycle(ctx context.Context) (result Result) {
	if !o.guard.TryAcquire(1) {
		o.log.Warn("Previous cycle still running, dropping tick")
		metrics.CyclesTotal.WithLabelValues(string(ResultBusy)).Inc()
		return ResultBusy
	}
	defer o.guard.Release(1)

	snap := o.snap.Load()
	l := o.log.WithValues("cycle", uuid.NewString(), "job", snap.JobID)
	ph := newPhases(l)
	start := o.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			l.Error(fmt.Errorf("panic: %v", r), "Cycle aborted", "phase", ph.Current())
			result = ResultFailed
		}
		metrics.CyclesTotal.WithLabelValues(string(result)).Inc()
		if result != ResultSkipped {
			metrics.CycleDuration.Observe(o.clock.Since(start).Seconds())
		}
	}()

	now := o.clock.Now()
	if !window.IsActive(snap.Schedule, now) {
		ph.fire(ctx, EventSkip)
		l.Debug("Outside active windows, skipping", "now", now)
		return ResultSkipped
	}

	req := NewRequest(now, snap.Interval)
	ph.fire(ctx, EventSave)
	l.Info("Requesting video save", "from", req.FromString(), "to", req.ToString())

	saveStart := o.clock.Now()
	res, err := snap.VideoStore.DoCommand(ctx, req.Command())
	if err != nil {
		metrics.SaveLatency.WithLabelValues("failed").Observe(o.clock.Since(saveStart).Seconds())
		ph.fire(ctx, EventFail, err)
		l.Error(err, "Save command failed, skipping upload")
		return ResultSaveFailed
	}
	metrics.SaveLatency.WithLabelValues("success").Observe(o.clock.Since(saveStart).Seconds())
	l.Info("Video save requested", "result", res)

	remote, ok := snap.Target.(core.Remote)
	if !ok {
		ph.fire(ctx, EventComplete)
		return ResultCompleted
	}

	ph.fire(ctx, EventSettle)
	if err := o.settle(ctx, snap.SettleDelay); err != nil {
		ph.fire(ctx, EventFail, err)
		l.Warn("Cycle interrupted while waiting for the device to flush", "error", err)
		return ResultFailed
	}

	ph.fire(ctx, EventUpload)
	report := snap.Uploader.UploadAll(ctx, remote.LocalPath, remote.Prefix)
	if report.Err != nil && report.Total() == 0 {
		ph.fire(ctx, EventFail, report.Err)
		return ResultFailed
	}

	ph.fire(ctx, EventComplete)
	l.Info("Cycle completed",
		"uploaded", len(report.Uploaded),
		"conflicts", len(report.Conflicts),
		"failed", len(report.Failed),
		"reconciled", len(report.Reconciled),
		"duration", o.clock.Since(start),
	)
	return ResultCompleted
}

func (o *Orchestrator) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := o.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
