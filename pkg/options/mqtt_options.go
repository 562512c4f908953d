package options

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/videoupload/pkg/mqtt"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains configuration for the MQTT connection used to reach
// video-store devices.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// Session tuning. KeepAlive is sent to the broker in whole seconds.
	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ReconnectDelay time.Duration `json:"reconnect-delay" mapstructure:"reconnect-delay"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify accepts any broker certificate on ssl/tls/mqtts/wss
	// URLs. Test brokers only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// Presence publishes a retained online status and registers the
	// offline status as the session will.
	Presence bool `json:"presence" mapstructure:"presence"`

	// TopicRoot namespaces every topic: {TopicRoot}/command/{device}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:         "tcp://127.0.0.1:1883",
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		ReconnectDelay: 3 * time.Second,
		SessionExpiry:  60,
		CleanStart:     true,
		Presence:       true,
		TopicRoot:      "video/v1",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Broker == "" {
		errs = append(errs, errors.New("--mqtt.broker is required"))
	} else if u, err := url.Parse(o.Broker); err != nil || u.Scheme == "" {
		errs = append(errs, fmt.Errorf("--mqtt.broker %q is not a valid URL", o.Broker))
	}

	if o.KeepAlive < time.Second || o.KeepAlive > 65535*time.Second {
		errs = append(errs, fmt.Errorf("--mqtt.keep-alive must be between 1s and 65535s, got %s", o.KeepAlive))
	}
	if o.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("--mqtt.reconnect-delay must not be negative, got %s", o.ReconnectDelay))
	}

	if o.TopicRoot == "" {
		errs = append(errs, errors.New("--mqtt.topic-root must not be empty"))
	}

	return errs
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker the video store listens on.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "Username presented to the broker.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "Password presented to the broker.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "MQTT client ID. Defaults to cpeer-video-upload-<name>.")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "Interval between keep-alive pings.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "How long one connection attempt may take.")
	fs.DurationVar(&o.ReconnectDelay, "mqtt.reconnect-delay", o.ReconnectDelay, "Delay between MQTT reconnect attempts.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "Seconds the broker keeps the session after a disconnect.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start a clean MQTT session on the first connection.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "Skip broker certificate verification.")

	fs.BoolVar(&o.Presence, "mqtt.presence", o.Presence, "Publish a retained online/offline status for this agent.")
	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Topic prefix for video-store commands and replies.")
}

// ToClientConfig maps the options onto the client settings. The client ID and
// will are filled in by the caller.
func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		ReconnectDelay:     o.ReconnectDelay,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
}
