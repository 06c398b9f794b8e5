// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Config controls logger setup.
type Config struct {
	// Format is "json", "console" or "auto" (console when stderr is a
	// terminal).
	Format string
	// Level is a zerolog level name; unknown values fall back to info.
	Level string
	// Component is stamped on every line when set.
	Component string
}

// Init installs the global logger.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out = os.Stderr
	var logger zerolog.Logger
	useConsole := cfg.Format == "console" ||
		(cfg.Format != "json" && term.IsTerminal(int(out.Fd())))
	if useConsole {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	} else {
		logger = zerolog.New(out)
	}

	ctx := logger.With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	log.Logger = ctx.Logger()
}
