// Command security runs the Security/Policy plane (C5): egress evaluation
// support, security-event collection, incident correlation, and automated
// response actions, per spec.md §4.5.
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
	"github.com/kenny-fabric/kenny/pkg/security"
	"github.com/kenny-fabric/kenny/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// defaultRules is the response-rule table the Security plane runs with
// (spec.md §4.5's example pattern → actions mappings). It is fixed in code;
// the configuration tree has no section that overrides it.
func defaultRules() []security.ResponseRule {
	return []security.ResponseRule{
		{Name: "critical-immediate-freeze", Priority: 0, MatchSeverity: security.SeverityCritical,
			Actions: []security.Action{security.ActionFreeze, security.ActionAlert, security.ActionEscalate}},
		{Name: "policy-violation-block", Priority: 10, MatchKind: security.EventPolicyViolation,
			Actions: []security.Action{security.ActionBlock, security.ActionNotify, security.ActionAudit}},
		{Name: "egress-attempt-monitor", Priority: 20, MatchKind: security.EventEgressAttempt,
			Actions: []security.Action{security.ActionMonitor, security.ActionAudit}},
		{Name: "data-access-quarantine", Priority: 20, MatchKind: security.EventDataAccess,
			Actions: []security.Action{security.ActionQuarantine, security.ActionRateLimit, security.ActionReview}},
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Cache.L2.Endpoint})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to block-list/rate-limit redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	store := security.NewPostgresStore(dbClient.DB())
	blocks := security.NewBlockList(redisClient)
	rateLimit := security.NewRateLimiter(redisClient)
	correlator := security.NewCorrelator(store, store, cfg.Security.CorrelationWindow())

	var notifier *security.Notifier
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		notifier = security.NewNotifier(token, getEnv("SLACK_SECURITY_CHANNEL", "#security-incidents"))
	}

	plane := security.NewPlane(store, store, correlator, blocks, rateLimit, notifier, defaultRules(), cfg.Egress.BlockTTLDefault())
	srv := security.NewServer(plane)

	addr := ":" + getEnv("HTTP_PORT", "8705")
	slog.Info("starting security plane", "version", version.Full(), "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("security server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("security server shutdown error", "error", err)
	}
}
