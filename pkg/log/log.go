// Package log is the structured logger of the video upload agent: a small
// logr-style facade over zap whose level can be changed while running.
package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging facade passed to every component.
// Key/value pairs follow the logr convention.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)

	// Error logs at error level. A nil err is allowed.
	Error(err error, msg string, keysAndValues ...any)

	// WithName appends name to the logger name.
	WithName(name string) Logger

	// WithValues returns a logger that adds the pairs to every entry.
	WithValues(keysAndValues ...any) Logger

	// Logr returns a logr view for libraries that take one, such as cron.
	Logr() logr.Logger

	Sync() error
}

var _ Logger = (*zapLogger)(nil)

type zapLogger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// New builds a Logger from opts. A nil opts means defaults.
func New(opts *Options) (Logger, error) {
	l, err := newZapLogger(opts)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func newZapLogger(opts *Options) (*zapLogger, error) {
	if opts == nil {
		opts = NewOptions()
	}

	lvl, err := opts.level()
	if err != nil {
		return nil, err
	}
	level := zap.NewAtomicLevelAt(lvl)

	paths := opts.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}
	sink, _, err := zap.Open(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}

	zopts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr)), zap.AddCallerSkip(1)}
	if !opts.DisableCaller {
		zopts = append(zopts, zap.AddCaller())
	}
	if !opts.DisableStacktrace {
		zopts = append(zopts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	z := zap.New(zapcore.NewCore(encoder(opts), sink, level), zopts...)
	if opts.Name != "" {
		z = z.Named(opts.Name)
	}
	return &zapLogger{z: z, level: level}, nil
}

func encoder(opts *Options) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	if opts.Format == FormatJSON {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	if opts.EnableColor {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// FromZap wraps an existing zap logger. Tests use it with zaptest/observer.
func FromZap(l *zap.Logger) Logger {
	return &zapLogger{z: l, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &zapLogger{z: zap.NewNop(), level: zap.NewAtomicLevel()}
}

func (l *zapLogger) Debug(msg string, keysAndValues ...any) {
	l.z.Debug(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...any) {
	l.z.Info(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...any) {
	l.z.Warn(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.z.Error(msg, fields...)
}

func (l *zapLogger) WithName(name string) Logger {
	return &zapLogger{z: l.z.Named(name), level: l.level}
}

func (l *zapLogger) WithValues(keysAndValues ...any) Logger {
	return &zapLogger{z: l.z.With(toFields(keysAndValues...)...), level: l.level}
}

func (l *zapLogger) Logr() logr.Logger {
	// zapr adds its own frame.
	return zapr.NewLogger(l.z.WithOptions(zap.AddCallerSkip(-1)))
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

var (
	mu  sync.RWMutex
	std = &zapLogger{z: zap.NewNop(), level: zap.NewAtomicLevel()}

	// helpers is std with one more frame skipped for the package functions.
	helpers = std.z
)

// Init replaces the package logger. When opts cannot be honored the logger
// falls back to console output on stderr and the error is reported there.
func Init(opts *Options) {
	l, err := newZapLogger(opts)
	if err != nil {
		fallback := NewOptions()
		fallback.OutputPaths = []string{"stderr"}
		l, _ = newZapLogger(fallback)
		l.Error(err, "Invalid log options, using defaults")
	}

	mu.Lock()
	defer mu.Unlock()
	std = l
	helpers = l.z.WithOptions(zap.AddCallerSkip(1))
}

// SetLevel changes the level of the package logger and of every logger
// derived from it.
func SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	mu.RLock()
	defer mu.RUnlock()
	std.level.SetLevel(lvl)
	return nil
}

// Std returns the package logger.
func Std() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

func helper() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return helpers
}

func Debug(msg string, keysAndValues ...any) { helper().Debug(msg, toFields(keysAndValues...)...) }
func Info(msg string, keysAndValues ...any)  { helper().Info(msg, toFields(keysAndValues...)...) }
func Warn(msg string, keysAndValues ...any)  { helper().Warn(msg, toFields(keysAndValues...)...) }

func Error(err error, msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	helper().Error(msg, fields...)
}

func WithName(name string) Logger            { return Std().WithName(name) }
func WithValues(keysAndValues ...any) Logger { return Std().WithValues(keysAndValues...) }
func Sync() error                            { return Std().Sync() }
