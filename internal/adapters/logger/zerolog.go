// Package logger provides the production ports.Logger implementation backed
// by zerolog.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config controls the adapter's output.
type Config struct {
	// Level is the minimum level emitted: debug, info, warn or error.
	Level string
	// Pretty switches to the human-readable console writer. JSON otherwise.
	Pretty bool
	// Output defaults to stderr when nil.
	Output io.Writer
}

// Adapter wraps a zerolog.Logger behind the ports.Logger interface.
type Adapter struct {
	log zerolog.Logger
}

// ParseLevel maps a config string to a zerolog level.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level: %q", s)
	}
}

// New builds the adapter. An unknown level falls back to info with an error
// so the caller can decide whether that is fatal.
func New(cfg Config) (*Adapter, error) {
	level, err := ParseLevel(cfg.Level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Adapter{log: log}, err
}

func (a *Adapter) event(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, m := range fields {
		for k, v := range m {
			e = e.Interface(k, v)
		}
	}
	e.Msg(msg)
}

func (a *Adapter) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	a.event(a.log.Debug(), msg, fields)
}

func (a *Adapter) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	a.event(a.log.Info(), msg, fields)
}

func (a *Adapter) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	a.event(a.log.Warn(), msg, fields)
}

func (a *Adapter) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	a.event(a.log.Error().Err(err), msg, fields)
}
