package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/websetdedup/internal/cli"
	"horse.fit/websetdedup/internal/config"
	"horse.fit/websetdedup/internal/db"
	"horse.fit/websetdedup/internal/broadcast"
	"horse.fit/websetdedup/internal/httpapi"
	"horse.fit/websetdedup/internal/ingest"
	"horse.fit/websetdedup/internal/llm"
	"horse.fit/websetdedup/internal/logging"
	"horse.fit/websetdedup/internal/resolve"
	"horse.fit/websetdedup/internal/store"
	"horse.fit/websetdedup/internal/upstream"
	"horse.fit/websetdedup/internal/vector"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 0, "HTTP port (defaults to PORT env var or 8090)")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	listenPort := *port
	if listenPort <= 0 {
		listenPort = cfg.Port
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	bus := broadcast.New()
	recorder := store.New(pool, logger)
	upstreamClient := upstream.New(cfg.UpstreamBaseURL, cfg.ExaAPIKey, logger)
	vectorClient := vector.New(cfg.VectorURL, logger)
	adjudicator := llm.New(llm.Config{
		BaseURL:   cfg.LLMBaseURL,
		APIKey:    cfg.GoogleAPIKey,
		Model:     "gemini-2.0-flash",
		BatchSize: cfg.LLMBatchSize,
		BatchLat:  time.Duration(cfg.LLMBatchLatMS) * time.Millisecond,
	}, logger)

	urlResolver := resolve.New(logger)

	controller := ingest.New(
		upstreamClient,
		adjudicator,
		vectorClient,
		bus,
		recorder,
		logger,
		time.Duration(cfg.PollIntervalSec)*time.Second,
		time.Duration(cfg.PollDeadlineMin)*time.Minute,
		ingest.Options{
			EnableDedup:         cfg.EnableDedup,
			EnableURLResolution: cfg.EnableURLResolution,
			URLResolver:         urlResolver,
		},
	)

	srv := httpapi.NewServer(pool, bus, controller, logger, httpapi.Options{
		Host:            *host,
		Port:            listenPort,
		ReadTimeout:     *readTimeout,
		ShutdownTimeout: *shutdownTimeout,
		CORSOrigins:     cfg.CORSAllowedOriginsList(),
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", listenPort).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
