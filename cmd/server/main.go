package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/app"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/broadcast"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/bus"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/config"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/coordination"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/index"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/logging"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/metrics"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/platform/version"
	appredis "github.com/mcfalli/TickSTockAppV2-sub020/internal/redis"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/registry"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/router"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/server"
)

const heartbeatInterval = 15 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, redisURL string) *appredis.Client {
	client, err := appredis.NewClient(redisURL)
	if err != nil {
		slog.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func instanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return uuid.NewString()
}

func runGracefulShutdown(cancel context.CancelFunc, srv *server.Server, broadcaster *broadcast.Broadcaster) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		broadcaster.Stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, runtime.Version()).Set(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := setupRedis(ctx, cfg.RedisURL)
	defer func() { _ = redisClient.Close() }()

	ix := index.New(cfg.IndexShards)
	rt := router.New(ix, clock, cfg.RoutingCacheTTL)
	rt.StartEviction(ctx, cfg.CacheEvictionInterval)

	// The registry's deregistration callback closes over the facade, which
	// is constructed afterwards; no session can deregister before wiring
	// completes because no transport is registered yet.
	var svc *app.Service
	reg := registry.New(clock, cfg.SessionIdleTimeout, func(sessionID uuid.UUID) {
		svc.OnDeregister(sessionID)
	})
	reg.StartSweeper(ctx, cfg.SweepInterval)

	broadcaster := broadcast.New(reg, clock, broadcast.Config{
		Workers:       cfg.DispatchWorkers,
		QueueCapacity: cfg.QueueCapacity,
		BatchWindow:   cfg.BatchWindow,
		SendTimeout:   cfg.SendTimeout,
	})

	svc = app.New(ix, reg, rt, broadcaster, cfg.WildcardSubscriptionsPerMinute)

	consumer := bus.NewConsumer(redisClient.Underlying(), cfg.EventsChannel, svc)
	go func() {
		if err := consumer.Run(ctx); err != nil {
			slog.Error("Bus consumer exited", "error", err)
		}
	}()

	instances := coordination.NewInstanceRegistry(redisClient.Underlying(), instanceID(), heartbeatInterval, info.Version, reg.Count)
	go instances.Start(ctx)

	srv := server.NewServer(cfg, svc, reg, clock, redisClient.Underlying(), instances)
	done := runGracefulShutdown(cancel, srv, broadcaster)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
