package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*MetricsOptions)(nil)

// MetricsOptions configures the optional HTTP listener serving /metrics and
// the health probes. An empty Addr disables the listener.
type MetricsOptions struct {
	// Addr with server address, e.g. "0.0.0.0:9090".
	Addr string `json:"addr" mapstructure:"addr"`

	// ShutdownTimeout bounds the graceful shutdown of the listener.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewMetricsOptions creates a MetricsOptions with the listener disabled.
func NewMetricsOptions() *MetricsOptions {
	return &MetricsOptions{
		Addr:            "",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Enabled reports whether a listener should be started.
func (o *MetricsOptions) Enabled() bool {
	return o != nil && o.Addr != ""
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MetricsOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// AddFlags adds flags for the metrics listener to the specified FlagSet.
func (o *MetricsOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "metrics.addr", o.Addr, "Bind address for /metrics, /healthz and /readyz. Empty disables the listener.")
	fs.DurationVar(&o.ShutdownTimeout, "metrics.shutdown-timeout", o.ShutdownTimeout, "Grace period for shutting the metrics listener down.")
}
