// Copyright 2025 The Autopeer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures the agent logger.
type Options struct {
	// Name is prefixed to every logger name.
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is debug, info, warn or error. It can change at runtime.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format is console or json.
	Format string `json:"format,omitempty" mapstructure:"format"`

	EnableColor       bool `json:"enable-color,omitempty" mapstructure:"enable-color"`
	DisableCaller     bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`
	DisableStacktrace bool `json:"disable-stacktrace,omitempty" mapstructure:"disable-stacktrace"`

	// OutputPaths are files or the special names stdout and stderr.
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

// NewOptions returns console logging at info level to stdout.
func NewOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      FormatConsole,
		EnableColor: true,
		OutputPaths: []string{"stdout"},
	}
}

func (o *Options) level() (zapcore.Level, error) {
	return zapcore.ParseLevel(o.Level)
}

// Validate checks the level and format values.
func (o *Options) Validate() []error {
	var errs []error

	if _, err := o.level(); err != nil {
		errs = append(errs, fmt.Errorf("--log.level: %w", err))
	}

	if o.Format != FormatConsole && o.Format != FormatJSON {
		errs = append(errs, fmt.Errorf("--log.format must be %q or %q, got %q", FormatConsole, FormatJSON, o.Format))
	}

	return errs
}

// AddFlags binds the options to fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "Name prefixed to every logger.")
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum level to log: debug, info, warn or error.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Log format: console or json.")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Colorize levels in the console format.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit the caller file and line.")
	fs.BoolVar(&o.DisableStacktrace, "log.disable-stacktrace", o.DisableStacktrace, "Omit stack traces on error entries.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Where to write logs, e.g. stdout or /var/log/cpeer-video-upload.log.")
}
