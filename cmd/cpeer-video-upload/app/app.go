package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/videoupload/cmd/cpeer-video-upload/app/options"
	"github.com/autopeer-io/videoupload/internal/pkg/metrics"
	"github.com/autopeer-io/videoupload/internal/videoagent"
	"github.com/autopeer-io/videoupload/internal/videoagent/server"
	"github.com/autopeer-io/videoupload/pkg/app"
	"github.com/autopeer-io/videoupload/pkg/log"
)

const (
	commandName = "cpeer-video-upload"
	commandDesc = `The Cloupeer video upload agent periodically asks a video store to save
the last interval of footage, then moves the saved segments from a local
directory to Google Cloud Storage or an S3-compatible bucket.

Cycles only run inside the configured schedule windows. Without a schedule
the agent is always active.`
)

func NewApp() *app.App {
	opts := options.NewUploadOptions()
	r := &runner{opts: opts}

	application := app.NewApp(
		commandName,
		"Launch a Cloupeer video upload agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(r.run),
		app.WithReloadFunc(func() app.NamedFlagSetOptions { return options.NewUploadOptions() }, r.reload),
		app.WithSubCommands(newPlanCommand(opts)),
	)
	return application
}

// runner keeps the running agent so that configuration changes can reach it.
type runner struct {
	opts *options.UploadOptions

	mu    sync.Mutex
	ctx   context.Context
	agent *videoagent.Agent
}

func (r *runner) run() error {
	log.Init(r.opts.Log)
	defer func() { _ = log.Sync() }()

	ctx := genericapiserver.SetupSignalContext()

	cfg, err := r.opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	agent, err := cfg.NewAgent(videoagent.WithLogger(log.Std()))
	if err != nil {
		return fmt.Errorf("failed to create video upload agent: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	r.setAgent(ctx, agent)
	defer r.setAgent(context.Background(), nil)

	g.Go(func() error {
		return agent.Run(ctx)
	})

	if r.opts.Metrics.Enabled() {
		srv := server.NewServer(r.opts.Metrics, metrics.Registry, agent.Healthy, agent.Ready)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	return g.Wait()
}

func (r *runner) setAgent(ctx context.Context, agent *videoagent.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx, r.agent = ctx, agent
}

// reload applies the runtime settings and the log level of a changed
// configuration file. The MQTT and metrics groups are only read at startup.
func (r *runner) reload(o app.NamedFlagSetOptions) error {
	opts, ok := o.(*options.UploadOptions)
	if !ok {
		return fmt.Errorf("unexpected options type %T", o)
	}

	s, err := opts.Settings()
	if err != nil {
		return err
	}

	r.mu.Lock()
	ctx, agent := r.ctx, r.agent
	r.mu.Unlock()
	if agent == nil {
		return errors.New("agent is not running")
	}

	if err := agent.Reconfigure(ctx, s); err != nil {
		return err
	}
	return log.SetLevel(opts.Log.Level)
}
