// Package log configures the process-wide zerolog logger. Components take
// a child logger tagged with their name via For, and every rendered entry is
// also published so the status display can tail the log.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jacokyle01/analysis-bridge/internal/pubsub"
)

// Config selects level, format and destination.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	File   string // empty writes to Output
	Output io.Writer
}

var (
	mu     sync.RWMutex
	base   = zerolog.Nop()
	broker = pubsub.NewBrokerWithBuffer[string](256)
	file   *os.File
)

// Init replaces the global logger. The returned cleanup closes the log file,
// if any.
func Init(cfg Config) (func(), error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	out := cfg.Output
	var f *os.File
	if cfg.File != "" {
		var err error
		f, err = os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // operator-chosen log path
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", cfg.File, err)
		}
		out = f
	}
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(cfg.Format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: f != nil}
	case "json":
	default:
		if f != nil {
			_ = f.Close()
		}
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	tailWriter := zerolog.ConsoleWriter{Out: tail{}, TimeFormat: time.TimeOnly, NoColor: true}
	logger := zerolog.New(zerolog.MultiLevelWriter(out, tailWriter)).
		Level(level).
		With().
		Timestamp().
		Logger()

	mu.Lock()
	base = logger
	file = f
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		if file != nil {
			_ = file.Close()
			file = nil
		}
	}, nil
}

// For returns a logger tagged with component.
func For(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", component).Logger()
}

// Subscribe tails log entries, rendered without color, until ctx is cancelled.
func Subscribe(ctx context.Context) <-chan pubsub.Event[string] {
	return broker.Subscribe(ctx)
}

// tail publishes each rendered entry to the broker.
type tail struct{}

func (tail) Write(p []byte) (int, error) {
	broker.Publish(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
