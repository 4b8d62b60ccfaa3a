// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the log level and sinks.
type Options struct {
	Level   string
	DevMode bool      // Human readable console output at debug level or below
	File    string    // Optional JSON log file, appended to
	Out     io.Writer // Defaults to os.Stderr
}

// Configure builds the logger, installs it as log.Logger and returns it
// together with a function that closes the log file.
func Configure(opts Options) (zerolog.Logger, func() error, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level '%s': %w", opts.Level, err)
		}
		level = l
	}
	if opts.DevMode && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var console io.Writer = out
	if opts.DevMode {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339Nano}
	}

	closer := func() error { return nil }
	writer := console
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), os.ModePerm); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = zerolog.MultiLevelWriter(f, console)
		closer = f.Close
	}

	log.Logger = zerolog.New(writer).
		With().
		Timestamp().
		Logger().
		Level(level)
	return log.Logger, closer, nil
}
