package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/quizarena/internal/broadcast"
	"github.com/playperu/quizarena/internal/config"
	"github.com/playperu/quizarena/internal/database"
	"github.com/playperu/quizarena/internal/engine"
	"github.com/playperu/quizarena/internal/handler/health"
	"github.com/playperu/quizarena/internal/migrations"
	"github.com/playperu/quizarena/internal/server"
	"github.com/playperu/quizarena/internal/store"
	"github.com/playperu/quizarena/internal/telemetry"
	"github.com/playperu/quizarena/internal/token"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- Tracing ---
	shutdownTracing, err := telemetry.Setup(ctx, "quizarena", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.RunContext(ctx, db, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	sqlStore := store.NewSQL(db)
	checks := map[string]health.Checker{
		"sqlite": database.Checker{DB: db},
	}

	g, gctx := errgroup.WithContext(ctx)

	// --- Events ---
	broker := broadcast.NewBroker(logger)
	var events engine.Broadcaster = broker
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")

		pub := broadcast.NewRedis(rdb, logger)
		events = pub
		checks["redis"] = broadcast.Checker{Client: rdb}

		g.Go(func() error { return pub.Run(gctx) })
		g.Go(func() error { return broadcast.Relay(gctx, rdb, broker, logger) })
	}

	// --- Engine ---
	eng := engine.New(engine.Options{
		Store:           sqlStore,
		Catalog:         sqlStore,
		Gate:            engine.NewPlanGate(sqlStore, cfg.PremiumHosts),
		Broadcaster:     events,
		Rand:            engine.NewRand(cfg.RNGSeed),
		Logger:          logger,
		DefaultMaxTeams: cfg.DefaultMaxTeams,
	})

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Engine:          eng,
		Shows:           sqlStore,
		Broker:          broker,
		Tokens:          token.NewIssuer(cfg.TokenSecret, cfg.TokenTTL),
		OperatorKeyHash: []byte(cfg.OperatorKeyHash),
		Checks:          checks,
	})

	// --- Run ---
	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
