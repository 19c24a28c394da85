package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/serroba/collab-core/internal/acl"
	"github.com/serroba/collab-core/internal/activity"
	"github.com/serroba/collab-core/internal/api"
	"github.com/serroba/collab-core/internal/config"
	"github.com/serroba/collab-core/internal/conflict"
	"github.com/serroba/collab-core/internal/lock"
	"github.com/serroba/collab-core/internal/presence"
	"github.com/serroba/collab-core/internal/session"
	"github.com/serroba/collab-core/internal/storage"
	"github.com/serroba/collab-core/internal/ws"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Stores
	store := storage.NewMemoryStore()
	permStore := acl.NewMemoryStore()

	// WebSocket hub
	hub := ws.NewHub()

	// Collaboration components
	directory := presence.NewDirectory()

	locks := lock.NewManager(lock.ManagerConfig{Logger: logger})

	recorder := activity.NewRecorder(activity.RecorderConfig{
		Store:     activity.NewMemoryStore(),
		Broadcast: hub,
		Logger:    logger,
	})

	resolver := conflict.NewResolver(conflict.ResolverConfig{
		PositionThreshold: cfg.Conflict.PositionThreshold,
		Logger:            logger,
	})

	registry := session.NewRegistry(session.RegistryConfig{
		Store:       store,
		Perms:       acl.NewChecker(permStore),
		Resolver:    resolver,
		Broadcast:   hub,
		GracePeriod: cfg.Session.GracePeriod,
		HistorySize: cfg.Session.HistorySize,
		Logger:      logger,
	})

	// API server
	server := api.NewServer(api.ServerConfig{
		Registry:       registry,
		Directory:      directory,
		Locks:          locks,
		Recorder:       recorder,
		Hub:            hub,
		PermStore:      permStore,
		Logger:         logger,
		CursorRate:     rate.Limit(cfg.Cursor.Rate),
		CursorBurst:    cfg.Cursor.Burst,
		DefaultLockTTL: cfg.Lock.DefaultTTL,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", cfg.Addr))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		locks.Sweep(ctx, cfg.Lock.SweepInterval)

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", slog.Any("error", err))
		}

		// Flush every open document before exit.
		return registry.CloseAll(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
