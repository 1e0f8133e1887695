package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// setupLogging configures the global zerolog logger. Pretty console output
// when writing to a terminal, JSON lines otherwise (CI, redirected files).
func setupLogging(debug bool, out io.Writer) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		out = zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// silenceLogging drops all log output below error. The mock backend runs
// with this: its failures surface through response codes, not logs.
func silenceLogging() {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
