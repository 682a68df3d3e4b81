package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"stranger/internal/app/registry"
	"stranger/internal/app/server"
	"stranger/internal/app/server/handlers"
	"stranger/internal/app/worker"
	"stranger/internal/config"
	"stranger/internal/core/domain"
	"stranger/internal/core/services"
	"stranger/internal/platform/logger"
	"stranger/internal/platform/metrics"
	"stranger/internal/platform/telemetry"
	"stranger/internal/plugins/postgres"
	redisPlugin "stranger/internal/plugins/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
	} else {
		defer func() {
			log.Info("flushing telemetry...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				log.Error("telemetry shutdown failed", "err", err)
			}
		}()
	}
	m := metrics.New()

	// Infra
	rdb, err := redisPlugin.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
		return err
	}
	defer rdb.Close()
	log.Info("redis connected")

	queue := redisPlugin.NewStreamQueue(rdb, cfg.Redis.StreamMaxLen)
	for _, stream := range []string{cfg.Worker.MatchStream, cfg.Worker.DeadLetterStream} {
		if err := queue.EnsureConsumerGroup(ctx, stream, cfg.Worker.Group); err != nil {
			log.Error("consumer group setup failed", "stream", stream, "err", err)
			return err
		}
	}
	pool := redisPlugin.NewRedisWaitingPool(rdb, cfg.Worker.PoolPrefix, cfg.Worker.PoolTTL)

	checks := map[string]handlers.Pinger{
		"redis": handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}
	// Left as a nil interface when no store is configured.
	var matches domain.MatchRepository
	if cfg.Postgres.DSN != "" {
		pdb, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			log.Error("postgres connection failed", "err", err)
			return err
		}
		defer pdb.Close()
		if err := postgres.Migrate(ctx, pdb); err != nil {
			log.Error("postgres migration failed", "err", err)
			return err
		}
		matches = postgres.NewMatchRepo(pdb)
		checks["postgres"] = handlers.PingFunc(pdb.PingContext)
		log.Info("postgres connected")
	} else {
		log.Info("postgres disabled, match history is not kept")
	}

	// Core
	hub := registry.NewRegistry(log, m)
	engine := services.NewSessionEngine(log, hub, queue, cfg.Worker.MatchStream, m)
	matchmaker := services.NewMatchmaker(log, pool, hub, matches, cfg.Worker.PoolTTL)

	workers := worker.NewPool(log, queue, matchmaker.Process, cfg.Worker, m)
	reclaimer := worker.NewReclaimer(log, queue, matchmaker.Process, cfg.Worker, m)

	// Server
	srv := server.NewServer(*cfg, log, server.Deps{
		Registry: hub,
		Engine:   engine,
		Checks:   checks,
		Metrics:  m.Handler(),
		Matches:  matches,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workers.Run(gctx) })
	g.Go(func() error { return reclaimer.Run(gctx) })
	g.Go(func() error { return srv.Start(gctx) })

	err = g.Wait()
	// Workers have acked their in-flight batches; release every session.
	hub.Close()
	if err != nil {
		log.Error("application stopped with error", slog.String("err", err.Error()))
		return err
	}
	log.Info("application stopped")
	return nil
}
