// Command coordinator runs the Coordinator (C3): intent routing, plan
// construction, DAG execution, and policy review, per spec.md §4.3.
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
	"github.com/kenny-fabric/kenny/pkg/coordinator"
	"github.com/kenny-fabric/kenny/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// defaultRouting is the starting keyword-rule table the Router checks
// before any LLM classifier (spec.md §4.3's rule-table-first fast path); with
// no LLM classifier configured, as here, it is the only routing path. Each rule's decomposition lists the capability calls that
// intent resolves to.
func defaultRouting() ([]coordinator.RuleEntry, []coordinator.DecompositionEntry) {
	rules := []coordinator.RuleEntry{
		{IntentLabel: "search_mail", Keywords: []string{"mail"}, Strategy: coordinator.StrategySingle},
		{IntentLabel: "search_calendar", Keywords: []string{"calendar"}, Strategy: coordinator.StrategySingle},
	}
	decomposition := []coordinator.DecompositionEntry{
		{IntentLabel: "search_mail", Requests: []coordinator.PlanRequest{{Verb: "mail.search", Required: true}}},
		{IntentLabel: "search_calendar", Requests: []coordinator.PlanRequest{{Verb: "calendar.search", Required: true}}},
	}
	return rules, decomposition
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

	registryView := coordinator.NewHTTPRegistryView(cfg.Registry.BaseURL, nil)

	rules, decomposition := defaultRouting()
	router := coordinator.NewRouter(rules, nil, registryView)
	classifier := coordinator.NewRuleClassifier(decomposition)
	planner := coordinator.NewPlanner(registryView)
	executor := coordinator.NewExecutor(cfg.Coordinator.FanoutMax)
	reviewer := coordinator.NewReviewer(nil, nil)

	co := coordinator.New(router, classifier, planner, executor, reviewer, registryView)
	srv := coordinator.NewServer(co, coordinator.NewHTTPAgentCaller(nil))

	addr := ":" + getEnv("HTTP_PORT", "8703")
	slog.Info("starting coordinator", "version", version.Full(), "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("coordinator server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("coordinator server shutdown error", "error", err)
	}
}
