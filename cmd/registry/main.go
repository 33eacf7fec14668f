// Command registry runs the Agent Registry (C2): manifest validation,
// capability discovery, health polling, and egress allowlist/block
// enforcement, per spec.md §4.1.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kenny-fabric/kenny/pkg/config"
	"github.com/kenny-fabric/kenny/pkg/database"
	"github.com/kenny-fabric/kenny/pkg/registry"
	"github.com/kenny-fabric/kenny/pkg/security"
	"github.com/kenny-fabric/kenny/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, database.FromAppConfig(cfg.Database))
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()

	store := registry.NewPostgresStore(dbClient.DB())
	egress := registry.NewEgressStore(cfg.Egress.Allowlist)

	// The Security plane's block lists live in Redis, shared across both
	// processes: wiring a BlockList here (rather than importing Plane)
	// keeps the Registry consulting live blocks without depending on
	// Security's correlator/notifier/event store.
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Cache.L2.Endpoint})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Warn("block-list redis unreachable, egress checks will only consult the allowlist", "error", err)
	} else {
		egress.SetBlockChecker(security.NewBlockList(redisClient))
	}
	defer redisClient.Close()

	reg := registry.New(egress, store)
	if err := reg.Restore(ctx); err != nil {
		slog.Warn("failed to restore registry snapshot from storage", "error", err)
	}

	srv := registry.NewServer(reg)

	addr := ":" + getEnv("HTTP_PORT", "8701")
	slog.Info("starting registry", "version", version.Full(), "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("registry server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("registry server shutdown error", "error", err)
	}
}
