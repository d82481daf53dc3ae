// Package logging configures the process-wide zerolog logger.
//
// stdout carries the DAP stream, so logs go to stderr as console output or,
// when a file is configured, to a size-rotated JSON log.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stefan/lua-dap/internal/runtime/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger for cfg. The returned closer releases the log file.
func New(cfg config.LoggingConfig, stderr io.Writer) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.File == "" {
		out := zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly, NoColor: true}
		return zerolog.New(out).Level(level).With().Timestamp().Logger(), nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	return zerolog.New(rotator).Level(level).With().Timestamp().Logger(), rotator
}

// Setup installs the logger for cfg as the global log.Logger.
func Setup(cfg config.LoggingConfig, stderr io.Writer) io.Closer {
	logger, closer := New(cfg, stderr)
	log.Logger = logger
	return closer
}
