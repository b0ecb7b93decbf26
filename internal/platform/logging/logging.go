// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the logger output.
type Options struct {
	Level     string
	Console   bool
	File      string
	MaxSizeMB int
	// Stdout is used instead of os.Stdout when set.
	Stdout io.Writer
}

// New returns a logger writing JSON (or console output when Console is set)
// to stdout, tee'd into a rotating file when File is set. The returned closer
// flushes and closes the file and is never nil.
func New(opts Options) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var stdout io.Writer = os.Stdout
	if opts.Stdout != nil {
		stdout = opts.Stdout
	}
	if opts.Console {
		stdout = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	out := stdout
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		closer = file
		out = zerolog.MultiLevelWriter(stdout, file)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "emr").Logger()
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
