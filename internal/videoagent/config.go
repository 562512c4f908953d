package videoagent

import (
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/videoupload/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/videoupload/internal/videoagent/core"
	"github.com/autopeer-io/videoupload/internal/videoagent/videostore"
	"github.com/autopeer-io/videoupload/internal/videoagent/window"
	"github.com/autopeer-io/videoupload/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/videoupload/pkg/mqtt/topic"
	"github.com/autopeer-io/videoupload/pkg/options"
)

// DefaultDrainTimeout bounds how long Close waits for a running cycle.
const DefaultDrainTimeout = 30 * time.Second

// Settings is the part of the configuration that can change at runtime.
type Settings struct {
	// Name identifies this agent; the job id is derived from it.
	Name string

	// VideoStore names the device that receives save commands.
	VideoStore string

	Interval time.Duration
	Schedule window.Schedule
	Target   core.Target

	// SettleDelay is the pause between a save and the upload pass. Zero
	// uploads right after the save.
	SettleDelay        time.Duration
	Extensions         []string
	ReconcileConflicts bool
	VideoStoreTimeout  time.Duration
	Breaker            videostore.BreakerSettings
}

// Validate checks the invariants the cycle relies on.
func (s *Settings) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.VideoStore == "" {
		errs = append(errs, errors.New("video store is required"))
	}
	if s.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", s.Interval))
	}
	if s.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle delay must not be negative, got %s", s.SettleDelay))
	}
	for i, w := range s.Schedule {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("schedule[%d]: %w", i, err))
		}
	}
	switch t := s.Target.(type) {
	case core.SaveOnly:
	case core.Remote:
		if t.LocalPath == "" {
			errs = append(errs, errors.New("remote target requires a local path"))
		}
		if t.Bucket == "" {
			errs = append(errs, errors.New("remote target requires a bucket"))
		}
		if t.Backend == core.ModeS3 && t.S3 == nil {
			errs = append(errs, errors.New("s3 target requires s3 options"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported target %T", s.Target))
	}
	return errors.Join(errs...)
}

// Config is everything needed to build an Agent.
type Config struct {
	Settings     Settings
	MqttOptions  *options.MqttOptions
	DrainTimeout time.Duration
}

// NewAgent builds the MQTT client and the Agent.
func (cfg *Config) NewAgent(opts ...Option) (*Agent, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	client, builder, err := cfg.initMqttClientAndTopicBuilder()
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}

	defaults := []Option{
		WithMQTT(client, builder),
		WithDrainTimeout(cfg.DrainTimeout),
	}
	if cfg.MqttOptions.Presence {
		defaults = append(defaults, WithPresence(cfg.presenceTopic(builder)))
	}
	opts = append(defaults, opts...)
	return NewAgent(cfg.Settings, opts...)
}

func (cfg *Config) initMqttClientAndTopicBuilder() (mqtt.Client, *mqtttopic.Builder, error) {
	if cfg.MqttOptions == nil {
		return nil, nil, errors.New("mqtt options are required")
	}
	topicBuilder := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("cpeer-video-upload-%s", cfg.Settings.Name)
	}

	if cfg.MqttOptions.Presence {
		mqttConfig.Will = &mqtt.Will{
			Topic:   cfg.presenceTopic(topicBuilder),
			Payload: presencePayload(false, time.Time{}),
			QoS:     mqtt.AtLeastOnce,
			Retain:  true,
		}
	}

	mqttClient, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}
	return mqttClient, topicBuilder, nil
}

func (cfg *Config) presenceTopic(builder *mqtttopic.Builder) string {
	return builder.Build(paths.Online, cfg.Settings.Name)
}
