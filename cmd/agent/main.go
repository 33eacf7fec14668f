// Command agent runs a demo capability-providing Agent Service Base (C1):
// a minimal "mail-agent" exposing one basic capability, mail.search,
// registering itself with the Agent Registry on startup. Real agents embed
// pkg/agentbase the same way; this command exists to exercise the fabric
// end-to-end and as a template for new agents.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kenny-fabric/kenny/pkg/agentbase"
	"github.com/kenny-fabric/kenny/pkg/cache"
	"github.com/kenny-fabric/kenny/pkg/config"
	"github.com/kenny-fabric/kenny/pkg/manifest"
	"github.com/kenny-fabric/kenny/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func mailAgentManifest() manifest.Manifest {
	return manifest.Manifest{
		AgentID:     "mail-agent",
		DisplayName: "Mail Agent",
		Version:     "1.0.0",
		Description: "Searches the local mail index",
		AgentType:   manifest.AgentTypeBasic,
		Capabilities: []manifest.CapabilityDescriptor{
			{
				Verb:              "mail.search",
				InputSchema:       json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
				OutputSchema:      json.RawMessage(`{"type":"object","properties":{"results":{"type":"array"}}}`),
				SafetyAnnotations: []manifest.SafetyAnnotation{manifest.SafetyReadOnly},
				SLA:               manifest.SLA{TargetLatencyMS: 200, MaxLatencyMS: 2000},
			},
		},
		HealthCheck: manifest.HealthCheckSpec{Endpoint: "/health", IntervalS: 30},
	}
}

func searchMail(ctx context.Context, params map[string]any) (agentbase.ConfidenceResult, error) {
	query, _ := params["query"].(string)
	value, err := json.Marshal(map[string]any{
		"results": []map[string]any{
			{"subject": fmt.Sprintf("demo result for %q", query), "snippet": "..."},
		},
	})
	if err != nil {
		return agentbase.ConfidenceResult{}, err
	}
	return agentbase.ConfidenceResult{Value: value, Confidence: 1.0}, nil
}

// registerWithRegistry posts this agent's manifest to the Registry's
// POST /agents/register (spec.md §4.1 "Register"), retrying a handful of
// times since the Registry may still be starting up.
func registerWithRegistry(ctx context.Context, registryBaseURL, baseURL string, m manifest.Manifest) error {
	body, err := json.Marshal(struct {
		Manifest manifest.Manifest `json:"manifest"`
		BaseURL  string            `json:"base_url"`
	}{Manifest: m, BaseURL: baseURL})
	if err != nil {
		return fmt.Errorf("marshal registration request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, registryBaseURL+"/agents/register", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build registration request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("registry returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("registering with registry: %w", lastErr)
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

	m := mailAgentManifest()
	if err := manifest.Validate(ctx, &m); err != nil {
		slog.Error("agent manifest is invalid", "error", err)
		os.Exit(1)
	}

	c := cache.New(cache.Tiers{
		L1Capacity: cfg.Cache.L1.Capacity,
		L1TTL:      cfg.Cache.L1.TTL(),
		LFUWeight:  cfg.Cache.L1.LFUWeight,
	}, nil, nil)

	base := agentbase.New(m.AgentID, m, c, nil, nil)
	base.RegisterHandler("mail.search", searchMail)

	srv := agentbase.NewServer(base)

	httpPort := getEnv("HTTP_PORT", "9100")
	baseURL := getEnv("AGENT_BASE_URL", "http://localhost:"+httpPort)

	regCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = registerWithRegistry(regCtx, cfg.Registry.BaseURL, baseURL, m)
	cancel()
	if err != nil {
		slog.Error("failed to register with registry", "error", err)
		os.Exit(1)
	}
	slog.Info("registered with registry", "agent_id", m.AgentID, "registry", cfg.Registry.BaseURL)

	addr := ":" + httpPort
	slog.Info("starting agent", "agent_id", m.AgentID, "version", version.Full(), "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("agent server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("agent server shutdown error", "error", err)
	}
}
