// Package trace writes diagnostic lines to sinks chosen by environment
// variables such as TIG_TRACE and TIG_TRACE_PERFORMANCE.
package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	Default     = "TIG_TRACE"
	Performance = "TIG_TRACE_PERFORMANCE"
	// Bare suppresses the timestamp prefix of every key when set.
	Bare = "TIG_TRACE_BARE"
)

type Option func(*Key)

// WithEnv replaces os.Getenv as the variable lookup.
func WithEnv(getenv func(string) string) Option {
	return func(k *Key) { k.getenv = getenv }
}

// WithStderr replaces os.Stderr both as the default sink and as the
// destination of warnings about unusable settings.
func WithStderr(w io.Writer) Option {
	return func(k *Key) { k.stderr = w }
}

// Key is a trace sink named by an environment variable. The variable is read
// once, on first use.
type Key struct {
	name   string
	getenv func(string) string
	stderr io.Writer

	once   sync.Once
	logger *zap.Logger
	closer io.Closer
}

func NewKey(name string, opts ...Option) *Key {
	k := &Key{name: name, getenv: os.Getenv, stderr: os.Stderr}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Key) Name() string { return k.name }

func isOff(v string) bool {
	return v == "" || v == "0" || strings.EqualFold(v, "false")
}

// sink resolves the variable: off, stderr for "1" or "true", an inherited
// file descriptor for a single digit, or a file opened for appending for an
// absolute path. Anything else falls back to stderr with a warning.
func (k *Key) sink() (io.Writer, io.Closer) {
	v := k.getenv(k.name)
	switch {
	case isOff(v):
		return nil, nil
	case v == "1" || strings.EqualFold(v, "true"):
		return k.stderr, nil
	case len(v) == 1 && v[0] >= '0' && v[0] <= '9':
		fd, _ := strconv.Atoi(v)
		if fd == 2 {
			return k.stderr, nil
		}
		return os.NewFile(uintptr(fd), k.name), nil
	case filepath.IsAbs(v):
		f, err := os.OpenFile(v, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
		if err != nil {
			fmt.Fprintf(k.stderr, "Could not open '%s' for tracing: %v\nDefaulting to tracing on stderr...\n", v, err)
			return k.stderr, nil
		}
		return f, f
	}
	fmt.Fprintf(k.stderr, "What does '%s' for %s mean?\n", v, k.name)
	fmt.Fprintf(k.stderr, "If you want to trace into a file, then please set %s to an absolute pathname (starting with /).\n", k.name)
	fmt.Fprintf(k.stderr, "Defaulting to tracing on stderr...\n")
	return k.stderr, nil
}

func (k *Key) init() {
	k.once.Do(func() {
		w, closer := k.sink()
		if w == nil {
			return
		}
		k.closer = closer

		cfg := zapcore.EncoderConfig{
			MessageKey:       "msg",
			LineEnding:       zapcore.DefaultLineEnding,
			ConsoleSeparator: " ",
		}
		if isOff(k.getenv(Bare)) {
			cfg.TimeKey = "ts"
			cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
		}
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(zapcore.AddSync(w)), zapcore.DebugLevel)
		k.logger = zap.New(core)
	})
}

// Want reports whether the key is enabled.
func (k *Key) Want() bool {
	k.init()
	return k.logger != nil
}

func (k *Key) Printf(format string, args ...any) {
	if !k.Want() {
		return
	}
	k.emit(fmt.Sprintf(format, args...))
}

// Write traces a prepared buffer as one line.
func (k *Key) Write(p []byte) (int, error) {
	if k.Want() {
		k.emit(string(p))
	}
	return len(p), nil
}

// PerformanceSince traces the time elapsed since start, in seconds with
// nanosecond precision, followed by the formatted message.
func (k *Key) PerformanceSince(start time.Time, format string, args ...any) {
	if !k.Want() {
		return
	}
	msg := fmt.Sprintf("performance: %.9f s", time.Since(start).Seconds())
	if format != "" {
		msg += ": " + fmt.Sprintf(format, args...)
	}
	k.emit(msg)
}

func (k *Key) emit(msg string) {
	k.logger.Info(strings.TrimSuffix(msg, "\n"))
}

// Close releases a file opened for an absolute path setting.
func (k *Key) Close() error {
	if k.logger != nil {
		_ = k.logger.Sync()
	}
	if k.closer != nil {
		return k.closer.Close()
	}
	return nil
}
