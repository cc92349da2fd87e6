// Package logging directs the debug loggers to stderr or a rotated file.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/womat/debug"
	"github.com/womat/hm3301/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup calls debug.SetDebug with the configured level ("full" or
// "standard") and output. The returned closer releases the log file.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	var w io.Writer = os.Stderr
	var c io.Closer = nopCloser{}

	if cfg.File.Filename != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		w, c = lj, lj
	}

	switch strings.ToLower(cfg.Level) {
	case "full":
		debug.SetDebug(w, debug.Full)
	case "standard":
		debug.SetDebug(w, debug.Standard)
	default:
		return nil, errors.Errorf("unknown log level %q", cfg.Level)
	}
	return c, nil
}
