package options

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/videoupload/internal/videoagent"
	"github.com/autopeer-io/videoupload/internal/videoagent/core"
	"github.com/autopeer-io/videoupload/internal/videoagent/cycle"
	"github.com/autopeer-io/videoupload/internal/videoagent/uploader"
	"github.com/autopeer-io/videoupload/internal/videoagent/videostore"
	"github.com/autopeer-io/videoupload/internal/videoagent/window"
	"github.com/autopeer-io/videoupload/pkg/app"
	"github.com/autopeer-io/videoupload/pkg/log"
	genericoptions "github.com/autopeer-io/videoupload/pkg/options"
)

// WindowOptions is one entry of the schedule list.
type WindowOptions struct {
	Start string `json:"start" mapstructure:"start" validate:"required"`
	End   string `json:"end" mapstructure:"end" validate:"required"`
}

// UploadOptions is the full configuration of cpeer-video-upload. The keys
// without a group prefix match the configuration file of the video upload
// module.
type UploadOptions struct {
	Name string `json:"name" mapstructure:"name" validate:"required"`

	Upload     string `json:"upload" mapstructure:"upload" validate:"oneof=viam-cloud gcp-project s3"`
	VideoStore string `json:"video_store" mapstructure:"video_store" validate:"required"`

	// Interval is the cycle period in minutes.
	Interval int `json:"interval" mapstructure:"interval" validate:"gt=0"`

	UploadPath           string          `json:"upload_path" mapstructure:"upload_path" validate:"required_unless=Upload viam-cloud"`
	PathToServiceAccount string          `json:"path_to_service_account" mapstructure:"path_to_service_account" validate:"required_if=Upload gcp-project"`
	GoogleCloudPath      string          `json:"google_cloud_path" mapstructure:"google_cloud_path" validate:"required_if=Upload gcp-project"`
	Schedule             []WindowOptions `json:"schedule" mapstructure:"schedule" validate:"dive"`

	SettleDelay        time.Duration `json:"settle_delay" mapstructure:"settle_delay" validate:"gte=0"`
	Extensions         []string      `json:"extensions" mapstructure:"extensions" validate:"dive,startswith=."`
	ReconcileConflicts bool          `json:"reconcile_conflicts" mapstructure:"reconcile_conflicts"`
	VideoStoreTimeout  time.Duration `json:"video_store_timeout" mapstructure:"video_store_timeout" validate:"gt=0"`
	DrainTimeout       time.Duration `json:"drain_timeout" mapstructure:"drain_timeout" validate:"gte=0"`

	BreakerFailures    uint32        `json:"breaker_failures" mapstructure:"breaker_failures" validate:"gt=0"`
	BreakerOpenTimeout time.Duration `json:"breaker_open_timeout" mapstructure:"breaker_open_timeout" validate:"gt=0"`

	Log     *log.Options                   `json:"log" mapstructure:"log" validate:"-"`
	Mqtt    *genericoptions.MqttOptions    `json:"mqtt" mapstructure:"mqtt" validate:"-"`
	S3      *genericoptions.S3Options      `json:"s3" mapstructure:"s3" validate:"-"`
	Metrics *genericoptions.MetricsOptions `json:"metrics" mapstructure:"metrics" validate:"-"`
}

var _ app.NamedFlagSetOptions = (*UploadOptions)(nil)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// NewUploadOptions returns options with every default filled in.
func NewUploadOptions() *UploadOptions {
	breaker := videostore.DefaultBreakerSettings()
	return &UploadOptions{
		Name:               "video-upload",
		Upload:             string(core.ModeViamCloud),
		SettleDelay:        cycle.DefaultSettleDelay,
		Extensions:         slices.Clone(uploader.DefaultExtensions),
		VideoStoreTimeout:  videostore.DefaultTimeout,
		DrainTimeout:       videoagent.DefaultDrainTimeout,
		BreakerFailures:    breaker.ConsecutiveFailures,
		BreakerOpenTimeout: breaker.OpenTimeout,
		Log:                log.NewOptions(),
		Mqtt:               genericoptions.NewMqttOptions(),
		S3:                 genericoptions.NewS3Options(),
		Metrics:            genericoptions.NewMetricsOptions(),
	}
}

func (o *UploadOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}

	fs := fss.FlagSet("Upload")
	fs.StringVar(&o.Name, "name", o.Name, "Name of this agent. The cycle job is registered as <name>_interval_save.")
	fs.StringVar(&o.Upload, "upload", o.Upload, "Upload mode: viam-cloud, gcp-project or s3.")
	fs.StringVar(&o.VideoStore, "video_store", o.VideoStore, "Name of the video store that receives save commands.")
	fs.IntVar(&o.Interval, "interval", o.Interval, "Cycle period in minutes.")
	fs.StringVar(&o.UploadPath, "upload_path", o.UploadPath, "Local directory the video store saves segments into.")
	fs.StringVar(&o.PathToServiceAccount, "path_to_service_account", o.PathToServiceAccount, "Service-account key file for gcp-project mode.")
	fs.StringVar(&o.GoogleCloudPath, "google_cloud_path", o.GoogleCloudPath, "Destination as <bucket>/<optional/prefix> for gcp-project mode.")
	fs.DurationVar(&o.SettleDelay, "settle_delay", o.SettleDelay, "Wait between a successful save and the upload pass. 0 uploads right away.")
	fs.StringSliceVar(&o.Extensions, "extensions", o.Extensions, "File extensions picked up by the upload pass.")
	fs.BoolVar(&o.ReconcileConflicts, "reconcile_conflicts", o.ReconcileConflicts,
		"Delete a local file whose object already exists remotely with the same size.")
	fs.DurationVar(&o.VideoStoreTimeout, "video_store_timeout", o.VideoStoreTimeout, "Maximum wait for a video store reply.")
	fs.DurationVar(&o.DrainTimeout, "drain_timeout", o.DrainTimeout, "Maximum wait for a running cycle on shutdown.")
	fs.Uint32Var(&o.BreakerFailures, "breaker_failures", o.BreakerFailures, "Consecutive video store failures that open the circuit breaker.")
	fs.DurationVar(&o.BreakerOpenTimeout, "breaker_open_timeout", o.BreakerOpenTimeout, "How long the circuit breaker stays open.")

	o.Log.AddFlags(fss.FlagSet("Log"))
	o.Mqtt.AddFlags(fss.FlagSet("MQTT"))
	o.S3.AddFlags(fss.FlagSet("S3"))
	o.Metrics.AddFlags(fss.FlagSet("Metrics"))

	return fss
}

func (o *UploadOptions) Complete() error {
	o.Name = strings.TrimSpace(o.Name)
	o.Upload = strings.ToLower(strings.TrimSpace(o.Upload))
	o.UploadPath = strings.TrimSpace(o.UploadPath)
	if len(o.Extensions) == 0 {
		o.Extensions = slices.Clone(uploader.DefaultExtensions)
	}
	return nil
}

func (o *UploadOptions) Validate() error {
	errs := []error{}

	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	for i, w := range o.Schedule {
		if _, err := window.Parse(w.Start, w.End); err != nil {
			errs = append(errs, fmt.Errorf("schedule[%d]: %w", i, err))
		}
	}

	if o.Upload == string(core.ModeGCPProject) && o.GoogleCloudPath != "" {
		if _, _, err := core.SplitBucketPath(o.GoogleCloudPath); err != nil {
			errs = append(errs, fmt.Errorf("google_cloud_path: %w", err))
		}
	}

	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.Metrics.Validate()...)
	if o.Upload == string(core.ModeS3) {
		errs = append(errs, o.S3.ValidateRequired()...)
	} else {
		errs = append(errs, o.S3.Validate()...)
	}

	return utilerrors.NewAggregate(errs)
}

func fieldError(fe validator.FieldError) error {
	key := strings.TrimPrefix(fe.Namespace(), "UploadOptions.")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", key)
	case "required_if", "required_unless":
		return fmt.Errorf("%s is required for this upload mode", key)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", key, fe.Param(), fe.Value())
	default:
		return fmt.Errorf("%s failed the %q check (%s)", key, fe.Tag(), fe.Param())
	}
}

// Settings builds the runtime settings. The options must be valid.
func (o *UploadOptions) Settings() (videoagent.Settings, error) {
	target, err := o.target()
	if err != nil {
		return videoagent.Settings{}, err
	}

	var sched window.Schedule
	for i, w := range o.Schedule {
		parsed, err := window.Parse(w.Start, w.End)
		if err != nil {
			return videoagent.Settings{}, fmt.Errorf("schedule[%d]: %w", i, err)
		}
		sched = append(sched, parsed)
	}

	return videoagent.Settings{
		Name:               o.Name,
		VideoStore:         o.VideoStore,
		Interval:           time.Duration(o.Interval) * time.Minute,
		Schedule:           sched,
		Target:             target,
		SettleDelay:        o.SettleDelay,
		Extensions:         slices.Clone(o.Extensions),
		ReconcileConflicts: o.ReconcileConflicts,
		VideoStoreTimeout:  o.VideoStoreTimeout,
		Breaker: videostore.BreakerSettings{
			ConsecutiveFailures: o.BreakerFailures,
			OpenTimeout:         o.BreakerOpenTimeout,
		},
	}, nil
}

func (o *UploadOptions) target() (core.Target, error) {
	mode, err := core.ParseMode(o.Upload)
	if err != nil {
		return nil, err
	}

	switch mode {
	case core.ModeGCPProject:
		bucket, prefix, err := core.SplitBucketPath(o.GoogleCloudPath)
		if err != nil {
			return nil, fmt.Errorf("google_cloud_path: %w", err)
		}
		return core.Remote{
			Backend:         mode,
			LocalPath:       o.UploadPath,
			Bucket:          bucket,
			Prefix:          prefix,
			CredentialsFile: o.PathToServiceAccount,
		}, nil
	case core.ModeS3:
		return core.Remote{
			Backend:   mode,
			LocalPath: o.UploadPath,
			Bucket:    o.S3.BucketName,
			Prefix:    o.S3.CleanPrefix(),
			S3:        o.S3,
		}, nil
	default:
		return core.SaveOnly{}, nil
	}
}

// Config returns the agent configuration.
func (o *UploadOptions) Config() (*videoagent.Config, error) {
	s, err := o.Settings()
	if err != nil {
		return nil, err
	}
	return &videoagent.Config{
		Settings:     s,
		MqttOptions:  o.Mqtt,
		DrainTimeout: o.DrainTimeout,
	}, nil
}
