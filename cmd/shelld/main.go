// shelld is the background daemon that supervises shell jobs: one-shot
// commands, long-running services, and cron/interval schedules.
//
// Usage:
//
//	shelld [--root <dir>] [--socket <path>] [--recipes <file>]
//
// shelld listens on a per-user Unix domain socket (or, on Windows, a named
// pipe) and handles requests from the shellc CLI. It is normally started
// automatically by shellc; you do not need to run it by hand.
package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ianlt/shelld/internal/ipc"
	"github.com/ianlt/shelld/internal/logbuf"
	"github.com/ianlt/shelld/internal/recipe"
	"github.com/ianlt/shelld/internal/registry"
	"github.com/ianlt/shelld/internal/sampler"
	"github.com/ianlt/shelld/internal/scheduler"
	"github.com/ianlt/shelld/internal/supervisor"
	"github.com/ianlt/shelld/internal/wire"
)

func main() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot determine home directory")
	}
	defaultRoot := filepath.Join(homeDir, ".shelld")
	// SHELLD_ROOT overrides the default so tests/CI can point at a scratch
	// directory without touching the real home directory.
	if env := os.Getenv("SHELLD_ROOT"); env != "" {
		defaultRoot = env
	}

	rootDir := flag.String("root", defaultRoot, "shelld data directory (env: SHELLD_ROOT)")
	socketFlag := flag.String("socket", "", "override the socket/pipe path (default: per-user path under the runtime directory)")
	recipesFlag := flag.String("recipes", "", "path to a recipes.yaml file defining named jobs and groups for start/up")
	flag.Parse()

	zerolog.SetGlobalLevel(levelFromEnv())
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := os.MkdirAll(*rootDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("root", *rootDir).Msg("cannot create data directory")
	}

	enumerator := recipe.Enumerator(recipe.Empty{})
	if *recipesFlag != "" {
		f, err := recipe.Load(*recipesFlag)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *recipesFlag).Msg("cannot load recipes")
		}
		enumerator = f
	}

	sched := scheduler.New()
	sup := supervisor.New(supervisor.Config{
		Registry:  registry.New(),
		Logs:      logbuf.NewBuffer(),
		Scheduler: sched,
		Recipes:   enumerator,
		Sampler:   sampler.GopsutilSampler{},
		Logger:    logger,
	})

	go sched.Run()
	go sup.Run()

	socketPath := *socketFlag
	if socketPath == "" {
		socketPath = ipc.DefaultSocketPath()
	}

	if alive, _ := ipc.Ping(socketPath); alive {
		logger.Fatal().Str("socket", socketPath).Str("kind", wire.ErrSocketBusy).
			Msg("a daemon is already listening on this socket")
	}
	ipc.Cleanup(socketPath)

	listener, err := ipc.Listen(socketPath)
	if err != nil {
		logger.Fatal().Err(err).Str("socket", socketPath).Msg("cannot bind socket")
	}

	server := ipc.New(listener, sup, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		server.Close()
		sup.Stop()
		sched.Stop()
		ipc.Cleanup(socketPath)
		os.Exit(0)
	}()

	logger.Info().Str("socket", socketPath).Str("root", *rootDir).Msg("shelld listening")
	if err := server.Serve(); err != nil {
		logger.Fatal().Err(err).Msg("serve")
	}
}

func levelFromEnv() zerolog.Level {
	switch os.Getenv("SHELLD_LOG_LEVEL") {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
