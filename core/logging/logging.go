// Package logging builds the zerolog logger shared by the server components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// Options configures the log sink
type Options struct {
	Enabled bool
	// Level is one of debug, info, warn, error
	Level string
	// Dir receives one file per day; empty logs to stderr
	Dir string
	// QueueSize > 0 makes writes asynchronous through a ring of that size
	QueueSize int
}

type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, cl := range c {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// New returns a logger and the closer that flushes it
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	if !opts.Enabled {
		return zerolog.Nop(), closers(nil), nil
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.Nop(), nil, fmt.Errorf("log level %q: invalid", opts.Level)
	}

	var (
		// Wrapped so closing the diode never closes stderr
		out io.Writer = struct{ io.Writer }{os.Stderr}
		cs  closers
	)
	if opts.Dir != "" {
		f, err := openDaily(opts.Dir, time.Now())
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		out = f
		cs = append(cs, f)
	}

	if opts.QueueSize > 0 {
		dw := diode.NewWriter(out, opts.QueueSize, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "logger dropped %d messages\n", missed)
		})
		out = dw
		// Closing the diode drains it and closes the file underneath
		cs = closers{dw}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, cs, nil
}

func openDaily(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := filepath.Join(dir, now.Format("2006_01_02")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
