package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ordersync/api/routes"
	"github.com/angelmondragon/ordersync/internal/cache"
	"github.com/angelmondragon/ordersync/internal/dispatch"
	"github.com/angelmondragon/ordersync/internal/localstore"
	"github.com/angelmondragon/ordersync/internal/poller"
	"github.com/angelmondragon/ordersync/internal/remote"
	"github.com/angelmondragon/ordersync/internal/stream"
	enginesync "github.com/angelmondragon/ordersync/internal/sync"
	"github.com/angelmondragon/ordersync/internal/tombstone"
	"github.com/angelmondragon/ordersync/pkg/config"
	"github.com/angelmondragon/ordersync/pkg/enums"
	"github.com/angelmondragon/ordersync/pkg/logger"
	"github.com/angelmondragon/ordersync/pkg/metrics"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "syncd"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "syncd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logg.Error(ctx, "failed to open local store", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logg.Error(context.Background(), "error closing local store", err)
		}
	}()

	tombStore, err := tombstone.NewStore(store)
	if err != nil {
		logg.Error(ctx, "failed to create tombstone store", err)
		os.Exit(1)
	}
	orderCache, err := cache.New(store)
	if err != nil {
		logg.Error(ctx, "failed to create order cache", err)
		os.Exit(1)
	}

	remoteClient, err := remote.NewClient(
		cfg.Remote.BaseURL,
		cfg.Remote.Token,
		remote.WithTimeout(cfg.Remote.RequestTimeout),
	)
	if err != nil {
		logg.Error(ctx, "failed to create backend client", err)
		os.Exit(1)
	}

	identity := remote.Identity{}
	if cfg.Remote.Token != "" {
		identity, err = remote.IdentityFromToken(cfg.Remote.Token)
		if err != nil {
			logg.Warn(ctx, "token carries no usable identity; accepting all orders")
			identity = remote.Identity{}
		} else if identity.Email != "" {
			ctx = logg.WithSessionEmail(ctx, identity.Email)
		}
	}

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSyncMetrics(registry)

	dispatcher := dispatch.New(logg, syncMetrics)

	streamClient, err := stream.NewClient(stream.Options{
		Transport:             stream.NewHTTPTransport(cfg.Stream.URL, cfg.Remote.Token),
		Publisher:             dispatcher,
		Logger:                logg,
		Metrics:               syncMetrics,
		ConnectTimeout:        cfg.Stream.ConnectTimeout,
		BackoffBase:           cfg.Stream.BackoffBase,
		BackoffCap:            cfg.Stream.BackoffCap,
		AttemptCeiling:        cfg.Stream.AttemptCeiling,
		FallbackRetryInterval: cfg.Stream.FallbackRetryInterval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create stream client", err)
		os.Exit(1)
	}

	fallbackPoller, err := poller.New(poller.Params{
		Logger:    logg,
		Fetcher:   remoteClient,
		Publisher: dispatcher,
		Metrics:   syncMetrics,
		Interval:  cfg.Poller.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create poller", err)
		os.Exit(1)
	}

	engine, err := enginesync.NewEngine(enginesync.Params{
		Logger:          logg,
		Stream:          streamClient,
		Poller:          fallbackPoller,
		Dispatcher:      dispatcher,
		Tombstones:      tombStore,
		Cache:           orderCache,
		Remote:          remoteClient,
		Identity:        identity,
		MutationTimeout: cfg.Remote.RequestTimeout,
	})
	if err != nil {
		logg.Error(ctx, "failed to create sync engine", err)
		os.Exit(1)
	}

	if err := engine.Run(ctx); err != nil {
		logg.Error(ctx, "failed to start sync engine", err)
		os.Exit(1)
	}

	addr := ":" + cfg.App.Port
	startCtx := logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"addr":    addr,
		"backend": cfg.Store.Backend,
	})
	logg.Info(startCtx, "starting sync daemon")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, engine, registry),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logg.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "http server stopped unexpectedly", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "http server shutdown failed", err)
	}
	if err := engine.Close(); err != nil {
		logg.Error(context.Background(), "engine shutdown failed", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (localstore.Store, error) {
	switch cfg.Store.BackendEnum() {
	case enums.StoreBackendRedis:
		return localstore.NewRedisStore(ctx, cfg.Redis)
	case enums.StoreBackendMemory:
		return localstore.NewMemoryStore(), nil
	default:
		return localstore.NewPebbleStore(cfg.Store.Path)
	}
}
