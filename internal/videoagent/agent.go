// Package videoagent runs the scheduled save-and-upload loop for one video
// store.
package videoagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/videoupload/internal/pkg/metrics"
	"github.com/autopeer-io/videoupload/internal/videoagent/core"
	"github.com/autopeer-io/videoupload/internal/videoagent/cycle"
	"github.com/autopeer-io/videoupload/internal/videoagent/schedule"
	"github.com/autopeer-io/videoupload/internal/videoagent/storage"
	"github.com/autopeer-io/videoupload/internal/videoagent/uploader"
	"github.com/autopeer-io/videoupload/internal/videoagent/videostore"
	"github.com/autopeer-io/videoupload/pkg/log"
	"github.com/autopeer-io/videoupload/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/videoupload/pkg/mqtt/topic"
)

// ProviderFactory opens the object store for a remote target.
type ProviderFactory func(ctx context.Context, target core.Remote) (storage.Provider, error)

// VideoStoreFactory opens the client for the named video store.
type VideoStoreFactory func(ctx context.Context, s Settings) (core.VideoStore, error)

// Option configures an Agent.
type Option func(*Agent)

// WithMQTT sets the MQTT client used to reach the video store. The Agent
// starts and disconnects it.
func WithMQTT(client mqtt.Client, builder *mqtttopic.Builder) Option {
	return func(a *Agent) {
		a.mqtt = client
		a.topics = builder
	}
}

// WithPresence publishes the agent status, retained, on topic.
func WithPresence(topic string) Option {
	return func(a *Agent) {
		a.presence = topic
	}
}

// WithProviderFactory replaces the GCS/S3 provider constructor.
func WithProviderFactory(f ProviderFactory) Option {
	return func(a *Agent) { a.newProvider = f }
}

// WithVideoStoreFactory replaces the MQTT video store constructor.
func WithVideoStoreFactory(f VideoStoreFactory) Option {
	return func(a *Agent) { a.newVideoStore = f }
}

// WithFs sets the filesystem scanned for saved files.
func WithFs(fs afero.Fs) Option {
	return func(a *Agent) { a.fs = fs }
}

// WithClock replaces the wall clock used by cycles.
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// WithDrainTimeout bounds how long Close waits for a running cycle.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.drainTimeout = d
		}
	}
}

// Agent owns the orchestrator and the single scheduled job driving it.
type Agent struct {
	mqtt     mqtt.Client
	topics   *mqtttopic.Builder
	presence string

	newProvider   ProviderFactory
	newVideoStore VideoStoreFactory
	fs            afero.Fs
	clock         clock.Clock
	log           log.Logger
	drainTimeout  time.Duration

	// cycleCtx outlives shutdown of the scheduler so a running cycle can
	// finish; it is cancelled only when draining times out.
	cycleCtx    context.Context
	cancelCycle context.CancelFunc

	mu        sync.Mutex
	settings  Settings
	orch      *cycle.Orchestrator
	scheduler *schedule.Scheduler
	started   bool
	closed    bool

	ready atomic.Bool
}

// NewAgent creates an Agent for s. Nothing runs until Run is called.
func NewAgent(s Settings, opts ...Option) (*Agent, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		settings:     s,
		fs:           afero.NewOsFs(),
		clock:        clock.RealClock{},
		log:          log.Std(),
		drainTimeout: DefaultDrainTimeout,
	}
	a.newProvider = defaultProvider
	a.newVideoStore = a.mqttVideoStore
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.WithName("agent").WithValues("videoStore", s.VideoStore)
	a.scheduler = schedule.NewScheduler(schedule.WithLogger(a.log))
	a.cycleCtx, a.cancelCycle = context.WithCancel(context.Background())
	return a, nil
}

// Run starts the agent and blocks until ctx is done, then shuts down.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.log.Info("Agent shutting down...")
	return a.Close()
}

// Start connects the transport, builds the first configuration and
// schedules the first cycle one interval from now.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.New("agent already started")
	}

	if a.mqtt != nil {
		if err := a.mqtt.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt client: %w", err)
		}
	}

	if err := a.startLocked(ctx); err != nil {
		if a.mqtt != nil {
			a.mqtt.Disconnect(context.Background())
		}
		return err
	}

	a.started = true
	a.ready.Store(true)
	go a.announce(a.cycleCtx, true)
	a.log.Info("Agent started",
		"mode", a.settings.Target.Mode(),
		"interval", a.settings.Interval,
		"windows", len(a.settings.Schedule),
	)
	return nil
}

func (a *Agent) startLocked(ctx context.Context) error {
	snap, err := a.buildSnapshot(ctx, a.settings)
	if err != nil {
		return err
	}

	orch, err := cycle.New(snap, cycle.WithClock(a.clock), cycle.WithLogger(a.log))
	if err != nil {
		_ = snap.Close()
		return err
	}

	if err := a.startJob(a.settings); err != nil {
		_ = snap.Close()
		return err
	}
	a.orch = orch
	return nil
}

// Reconfigure applies new settings. The new clients are built first; when
// that fails the running configuration is kept. Otherwise the job is
// replaced and the old clients are closed once no cycle uses them.
func (a *Agent) Reconfigure(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started || a.closed {
		return errors.New("agent is not running")
	}

	snap, err := a.buildSnapshot(ctx, s)
	if err != nil {
		return fmt.Errorf("keeping previous configuration: %w", err)
	}

	old, err := a.orch.Swap(snap)
	if err != nil {
		_ = snap.Close()
		return fmt.Errorf("keeping previous configuration: %w", err)
	}
	a.orch.Retire(old)

	if err := a.startJob(s); err != nil {
		a.ready.Store(false)
		return err
	}

	a.settings = s
	a.log.Info("Agent reconfigured",
		"mode", s.Target.Mode(),
		"interval", s.Interval,
		"windows", len(s.Schedule),
	)
	return nil
}

// Close stops scheduling, waits up to the drain timeout for a running cycle
// and releases every client. It is safe to call more than once.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.ready.Store(false)

	a.scheduler.Shutdown()

	var errs []error
	if a.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.drainTimeout)
		if err := a.orch.Drain(ctx); err != nil {
			a.log.Warn("Running cycle did not finish in time, cancelling it", "timeout", a.drainTimeout)
			a.cancelCycle()
			_ = a.orch.Drain(context.Background())
		}
		cancel()
		errs = append(errs, a.orch.Snapshot().Close())
	}
	a.cancelCycle()

	if a.mqtt != nil {
		a.announce(context.Background(), false)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.mqtt.Disconnect(ctx)
		cancel()
	}

	a.log.Info("Agent stopped")
	return errors.Join(errs...)
}

// RunCycle runs one cycle immediately. It is what the scheduled job calls.
func (a *Agent) RunCycle() cycle.Result {
	a.mu.Lock()
	orch, closed := a.orch, a.closed
	a.mu.Unlock()

	if orch == nil || closed {
		return cycle.ResultSkipped
	}
	return orch.RunCycle(a.cycleCtx)
}

// Settings returns the active settings.
func (a *Agent) Settings() Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Job returns the scheduled job, or nil before Start and after Close.
func (a *Agent) Job() *schedule.Job {
	return a.scheduler.Current()
}

// Healthy reports whether the agent has not been closed.
func (a *Agent) Healthy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("agent closed")
	}
	return nil
}

// Ready reports whether cycles are scheduled and the video store transport
// is connected.
func (a *Agent) Ready() error {
	if !a.ready.Load() {
		return errors.New("agent not started")
	}
	if a.mqtt != nil {
		if !a.mqtt.IsConnected() {
			metrics.VideoStoreConnected.Set(0)
			return errors.New("video store broker not connected")
		}
		metrics.VideoStoreConnected.Set(1)
	}
	return nil
}

func (a *Agent) startJob(s Settings) error {
	_, err := a.scheduler.Start(schedule.JobID(s.Name), s.Interval, s.Interval, func() {
		a.RunCycle()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cycles: %w", err)
	}
	return nil
}

func (a *Agent) buildSnapshot(ctx context.Context, s Settings) (*cycle.Snapshot, error) {
	vs, err := a.newVideoStore(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to open video store %q: %w", s.VideoStore, err)
	}

	snap := &cycle.Snapshot{
		JobID:       schedule.JobID(s.Name),
		Schedule:    s.Schedule,
		Interval:    s.Interval,
		SettleDelay: s.SettleDelay,
		Target:      s.Target,
		VideoStore:  videostore.NewBreaker(s.VideoStore, vs, s.Breaker, a.log),
	}

	if remote, ok := s.Target.(core.Remote); ok {
		provider, err := a.newProvider(ctx, remote)
		if err != nil {
			_ = vs.Close()
			return nil, fmt.Errorf("failed to open %s storage: %w", remote.Backend, err)
		}

		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := provider.CheckBucket(checkCtx); err != nil {
			a.log.Warn("Bucket check failed, uploads may fail", "bucket", remote.Bucket, "error", err)
		}
		cancel()

		snap.Uploader = uploader.New(provider,
			uploader.WithFs(a.fs),
			uploader.WithExtensions(s.Extensions...),
			uploader.WithReconcile(s.ReconcileConflicts),
			uploader.WithLogger(a.log),
		)
		snap.Closers = append(snap.Closers, provider.Close)
	}

	return snap, nil
}

func (a *Agent) mqttVideoStore(ctx context.Context, s Settings) (core.VideoStore, error) {
	if a.mqtt == nil || a.topics == nil {
		return nil, errors.New("no mqtt transport configured")
	}
	store := videostore.NewMQTT(a.mqtt, a.topics, s.VideoStore, s.VideoStoreTimeout, a.log)
	if err := store.Start(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func defaultProvider(ctx context.Context, target core.Remote) (storage.Provider, error) {
	switch target.Backend {
	case core.ModeGCPProject:
		return storage.NewGCSProvider(ctx, target.Bucket, target.CredentialsFile)
	case core.ModeS3:
		opts := *target.S3
		opts.BucketName = target.Bucket
		return storage.NewMinIOProvider(&opts)
	default:
		return nil, fmt.Errorf("no storage backend for mode %q", target.Backend)
	}
}

// PlanUploads lists what the next upload pass would move for s without
// touching the remote store.
func PlanUploads(fs afero.Fs, s Settings) ([]uploader.Artifact, error) {
	remote, ok := s.Target.(core.Remote)
	if !ok {
		return nil, fmt.Errorf("upload mode %q does not upload files", s.Target.Mode())
	}
	return uploader.New(nil, uploader.WithFs(fs), uploader.WithExtensions(s.Extensions...), uploader.WithLogger(log.NewNopLogger())).
		Plan(remote.LocalPath, remote.Prefix)
}
