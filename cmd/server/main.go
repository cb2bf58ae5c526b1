package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/openrooms/internal/adapters/http"
	"github.com/dkeye/openrooms/internal/adapters/rtc"
	"github.com/dkeye/openrooms/internal/app"
	"github.com/dkeye/openrooms/internal/config"
	"github.com/dkeye/openrooms/internal/metrics"
)

var baseFlags = []cli.Flag{
	&cli.IntFlag{
		Name:  "port",
		Usage: "port to listen on, overrides RPC_PORT",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "debug log level, console formatter and gin debug mode",
	},
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cliApp := &cli.App{
		Name:        "openrooms",
		Usage:       "SFU room and session manager",
		Description: "run without subcommands to start the server",
		Flags:       baseFlags,
		Action:      startServer,
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func setupLogging(c *cli.Context, cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if c.Bool("dev") {
		level = zerolog.DebugLevel
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(level)
}

func startServer(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.Bool("dev") {
		cfg.Mode = "debug"
	}
	setupLogging(c, cfg)

	engine, err := rtc.NewEngine(rtc.Config{
		ICEServers:          cfg.ICEServers,
		DisconnectedTimeout: cfg.ICEDisconnectedTimeout,
		FailedTimeout:       cfg.ICEFailedTimeout,
		KeepaliveInterval:   cfg.ICEKeepaliveInterval,
	})
	if err != nil {
		return fmt.Errorf("negotiation engine: %w", err)
	}

	mgr := app.NewManager(app.NewRegistry(), engine, app.Config{
		IdleTimeout:        cfg.IdleTimeout,
		SweepInterval:      cfg.SweepInterval,
		NegotiationTimeout: cfg.NegotiationTimeout,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mgr.Metrics = metrics.New(reg, mgr.Registry)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, mgr, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Dur("idle_timeout", mgr.Config().IdleTimeout).Msg("openrooms server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return mgr.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
