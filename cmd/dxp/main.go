package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dataxchange/dxp/cmd/dxp/commands"
	"github.com/dataxchange/dxp/pkg/engine"
)

// Set with -ldflags "-X main.version=..." at release time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configureLogger(os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, version, commit, buildDate)
	stop()

	if err != nil {
		event := log.Error().Err(err)
		if code := engine.ErrorCode(err); code != "" {
			event = event.Str("code", code)
		}
		event.Msg("dxp failed")
	}
	os.Exit(commands.ExitCode(err))
}

// configureLogger sends the CLI's own messages to stderr so stdout stays
// free for exports and JSON reports.
func configureLogger(level string) {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
