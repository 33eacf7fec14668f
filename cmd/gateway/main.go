// Command gateway runs the Gateway (C4): the single client-facing front
// door that classifies an utterance and routes it either straight to one
// agent or through the Coordinator's multi-step pipeline, per spec.md §4.4.
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

	"github.com/kenny-fabric/kenny/pkg/config"
	"github.com/kenny-fabric/kenny/pkg/gateway"
	"github.com/kenny-fabric/kenny/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// defaultVerbRules is the starting keyword table the Gateway's Classifier
// checks before any LLM verb classifier; with none configured, as here, it
// is the only classification path.
func defaultVerbRules() []gateway.RuleEntry {
	return []gateway.RuleEntry{
		{Verb: "mail.search", Keywords: []string{"mail"}},
		{Verb: "calendar.search", Keywords: []string{"calendar"}},
	}
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

	registryClient := gateway.NewRegistryClient(cfg.Registry.BaseURL, nil)
	coordinatorClient := gateway.NewCoordinatorClient(getEnv("COORDINATOR_BASE_URL", "http://localhost:8703"), nil)
	classifier := gateway.NewClassifier(defaultVerbRules(), nil)
	direct := gateway.NewDirectCaller(nil)

	srv := gateway.NewServer(registryClient, coordinatorClient, classifier, direct, cfg.Gateway.InflightMax, cfg.Gateway.RatePerSecond)

	addr := ":" + getEnv("HTTP_PORT", "8700")
	slog.Info("starting gateway", "version", version.Full(), "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("gateway server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("gateway server shutdown error", "error", err)
	}
}
