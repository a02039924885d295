// Package logger builds the slog.Logger the rest of the module logs
// through, from the validated logging section of the module config, and
// carries the field-tagging helpers that keep log records correlated with
// pkg/metrics labels (device) and pkg/client exchanges (correlation id).
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/commatea/modbus-engine/pkg/config"
)

// Logger wraps slog.Logger with the module's field-tagging helpers.
type Logger struct {
	*slog.Logger
}

var global atomic.Pointer[Logger]

// New builds a Logger from cfg, which is expected to have passed
// config.Validate (level/format/output are enumerated there). An output of
// "file" with an unopenable path is an error; there is no silent stdout
// fallback.
func New(cfg config.LoggingConfig) (*Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("logger: level %q: %w", cfg.Level, err)
		}
	}

	var w io.Writer = os.Stdout
	if cfg.Output == "file" {
		if cfg.File == "" {
			return nil, fmt.Errorf("logger: output %q requires a file path", cfg.Output)
		}
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logger: open %s: %w", cfg.File, err)
		}
		w = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}, nil
}

// Global returns the installed logger, defaulting to info-level text on
// stdout until SetGlobal installs a configured one.
func Global() *Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l := &Logger{Logger: slog.New(slog.NewTextHandler(os.Stdout, nil))}
	global.CompareAndSwap(nil, l)
	return global.Load()
}

// SetGlobal installs l as the logger Global returns.
func SetGlobal(l *Logger) {
	global.Store(l)
}

// WithDevice tags every record with "device", the serial port or poll job
// name identifying which Client an exchange belongs to. It is the same
// label pkg/metrics uses on its per-device gauge.
func (l *Logger) WithDevice(device string) *Logger {
	return &Logger{Logger: l.Logger.With("device", device)}
}

// WithExchange tags every record with the correlation id the client facade
// stamps on an outbound request, so one exchange's start/result lines can
// be joined after the fact.
func (l *Logger) WithExchange(correlationID string) *Logger {
	return &Logger{Logger: l.Logger.With("correlation_id", correlationID)}
}
