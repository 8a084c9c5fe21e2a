package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"account-console/internal/api"
	"account-console/internal/auth"
	"account-console/internal/config"
	"account-console/internal/counter"
	"account-console/internal/db"
	"account-console/internal/logging"
	"account-console/internal/redis"
	"account-console/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, "account-console")
	logger.Info("starting_service", "http_addr", cfg.HTTPAddr, "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConn, err := db.New(ctx, cfg.DBDSN, cfg.DBMaxConns)
	if err != nil {
		logger.Error("db_connect_failed", "error", err.Error())
		os.Exit(1)
	}
	defer dbConn.Close()

	// Counter store strategy is picked once here and injected everywhere.
	// With REDIS_DSN set, counters are shared across instances and degrade
	// to per-instance memory during an outage; without it they are
	// per-instance from the start.
	memStore := counter.NewMemoryStore()
	defer memStore.Close()

	var store counter.Store = memStore
	var redisClient *redis.Client
	if cfg.RedisDSN != "" {
		redisClient, err = redis.New(cfg.RedisDSN)
		if err != nil {
			logger.Warn("redis_connect_failed", "error", err.Error(), "mode", "in_process_counters")
		} else {
			store = counter.NewFailoverStore(logger, counter.NewRedisStore(redisClient), memStore)
			logger.Info("counter_store_ready", "mode", "shared")
		}
	} else {
		logger.Info("counter_store_ready", "mode", "in_process")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventStore := db.NewSecurityEvents(logger, dbConn)
	dispatcher := security.NewDispatcher(security.MultiSink{
		security.LogSink{Log: logger},
		eventStore,
	}, 1024)
	defer dispatcher.Close()

	if cfg.AuthProviderURL == "" {
		logger.Error("auth_provider_url_missing")
		os.Exit(1)
	}
	provider := auth.NewHTTPProvider(logger, cfg.AuthProviderURL)

	srv := api.NewServer(logger, cfg, api.Deps{
		Users:      db.NewUsers(dbConn),
		Feed:       eventStore,
		Store:      store,
		Provider:   provider,
		Dispatcher: dispatcher,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_listen_failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	logger.Info("api_server_ready", "addr", cfg.HTTPAddr)

	// graceful shutdown
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err.Error())
	} else {
		logger.Info("http_server_stopped")
	}

	// flush queued security events before closing the stores under them
	dispatcher.Close()
	logger.Info("event_dispatcher_stopped", "dropped", dispatcher.Dropped())

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis_close_error", "error", err.Error())
		} else {
			logger.Info("redis_closed")
		}
	}

	dbConn.Close()
	logger.Info("db_closed")

	logger.Info("api_stopped")
}
