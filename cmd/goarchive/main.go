package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/hyperifyio/goarchive/internal/app"
)

// Exit codes.
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := parseConfig(os.Args[1:])
	switch {
	case errors.Is(err, flag.ErrHelp):
		os.Exit(exitOK)
	case errors.Is(err, errVersion):
		fmt.Printf("goarchive %s (%s, %s)\n", app.BuildVersion, app.BuildCommit, app.BuildDate)
		os.Exit(exitOK)
	case err != nil:
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(exitFatal)
	}
	setupLogging(cfg)

	// maxprocs.Set only fails on an invalid GOMAXPROCS env; runtime defaults apply then.
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug().Msgf(format, args...)
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rep, err := run(ctx, cfg)
	stop()
	os.Exit(exitCode(rep, err))
}

func setupLogging(cfg app.Config) {
	if cfg.LogJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func run(ctx context.Context, cfg app.Config) (app.Report, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return app.Report{}, fmt.Errorf("init app: %w", err)
	}
	defer a.Close()
	log.Logger = log.With().Str("run", a.RunID()).Logger()

	rep, err := a.Run(ctx)
	if err != nil {
		return rep, err
	}
	s := rep.Stats
	log.Info().
		Int("total", s.Total).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("resumed", s.Resumed).
		Int("attachments", s.Attachments).
		Int("attachment_failures", s.AttachmentFailures).
		Float64("seconds", rep.Meta.DurationSeconds).
		Msg("archive complete")
	return rep, nil
}

// exitCode is 0 when every row succeeded, 2 when the run was cancelled or
// some row failed, and 1 when the run could not start or report.
func exitCode(rep app.Report, err error) int {
	if err != nil {
		log.Error().Err(err).Msg("run failed")
		return exitFatal
	}
	if rep.Meta.Cancelled || rep.Stats.Failed > 0 {
		return exitPartial
	}
	return exitOK
}
