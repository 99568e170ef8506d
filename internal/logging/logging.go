package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Options controls how the process-wide logger is configured.
type Options struct {
	Level string
	// File, when set, receives log output instead of stderr.
	File   string
	Prefix string
	JSON   bool
}

// Setup configures the default charmbracelet logger and returns a closer for
// the log file, if one was opened.
func Setup(opts Options) (io.Closer, error) {
	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		level = log.InfoLevel
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = f, f
	}

	logOpts := log.Options{
		Level:           level,
		Prefix:          opts.Prefix,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	}
	if opts.JSON {
		logOpts.Formatter = log.JSONFormatter
	}
	log.SetDefault(log.NewWithOptions(out, logOpts))
	return closer, nil
}

// For returns a child of the default logger tagged with a component name.
func For(component string) *log.Logger {
	return log.Default().With("component", component)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
