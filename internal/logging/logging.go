// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package logging constructs the loggers used by the labrad commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvLevel, if set, overrides the level passed to New.
const EnvLevel = "LABRAD_LOG_LEVEL"

// ParseLevel parses a level name. The empty string is "info".
func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "off", "none", "disabled":
		return zerolog.Disabled, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", raw)
}

// Options control the construction of a logger.
type Options struct {
	Level   string    // see ParseLevel
	JSON    bool      // write JSON lines rather than console text
	Output  io.Writer // if nil, os.Stderr
	NoColor bool      // disable color in console output
}

// New returns a logger for app with the given options. The level is taken
// from the environment variable EnvLevel if it is set.
func New(app string, opts Options) (zerolog.Logger, error) {
	level := opts.Level
	if v, ok := os.LookupEnv(EnvLevel); ok {
		level = v
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("app", app).Logger(), nil
}
