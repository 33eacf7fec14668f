package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kenny-fabric/kenny/pkg/registry"
)

// snapshotTTL is spec.md §4.4's "serves from its last successful
// agent/capability snapshot (TTL ≤5 min)" bound.
const snapshotTTL = 5 * time.Minute

// snapshot is the last successfully fetched Registry view, held for
// degraded-mode serving when the Registry is unreachable.
type snapshot struct {
	agents       []registry.AgentSummary
	capabilities []registry.CapabilityRef
	fetchedAt    time.Time
}

func (s *snapshot) stale(now time.Time) bool {
	return s.fetchedAt.IsZero() || now.Sub(s.fetchedAt) > snapshotTTL
}

// RegistryClient fetches the Registry's aggregated views over HTTP and
// falls back to its last good snapshot when the Registry is unreachable,
// matching pkg/agentbase's "resolve via HTTP, classify failure" shape
// (dependency.go's callCapability) generalized from a single-capability
// call to whole-collection GETs.
type RegistryClient struct {
	baseURL string
	client  *http.Client

	mu   sync.RWMutex
	snap snapshot
}

// NewRegistryClient builds a RegistryClient against the Registry's base
// URL. A nil client falls back to http.DefaultClient.
func NewRegistryClient(baseURL string, client *http.Client) *RegistryClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RegistryClient{baseURL: baseURL, client: client}
}

// ListAgents returns the live agent list, or the last snapshot (with a
// staleness flag) if the Registry is unreachable.
func (c *RegistryClient) ListAgents(ctx context.Context) (agents []registry.AgentSummary, live bool, err error) {
	var out []registry.AgentSummary
	if fetchErr := c.getJSON(ctx, "agents", &out); fetchErr != nil {
		return c.fallbackAgents(fetchErr)
	}
	c.mu.Lock()
	c.snap.agents = out
	c.snap.fetchedAt = time.Now()
	c.mu.Unlock()
	return out, true, nil
}

// ListCapabilities returns the live capability catalog, or the last
// snapshot if the Registry is unreachable.
func (c *RegistryClient) ListCapabilities(ctx context.Context) (caps []registry.CapabilityRef, live bool, err error) {
	var out []registry.CapabilityRef
	if fetchErr := c.getJSON(ctx, "capabilities", &out); fetchErr != nil {
		return c.fallbackCapabilities(fetchErr)
	}
	c.mu.Lock()
	c.snap.capabilities = out
	c.snap.fetchedAt = time.Now()
	c.mu.Unlock()
	return out, true, nil
}

// SystemHealth proxies GET /system/health; unlike ListAgents/ListCapabilities
// it has no snapshot fallback since stale health data is actively
// misleading rather than merely outdated.
func (c *RegistryClient) SystemHealth(ctx context.Context) (registry.SystemHealthSnapshot, error) {
	var out registry.SystemHealthSnapshot
	if err := c.getJSON(ctx, "system/health", &out); err != nil {
		return registry.SystemHealthSnapshot{}, err
	}
	return out, nil
}

// SnapshotAge reports how old the currently held degraded-mode snapshot is,
// for the /health handler's diagnostics.
func (c *RegistryClient) SnapshotAge() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap.fetchedAt.IsZero() {
		return 0
	}
	return time.Since(c.snap.fetchedAt)
}

func (c *RegistryClient) fallbackAgents(fetchErr error) ([]registry.AgentSummary, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap.stale(time.Now()) {
		return nil, false, fmt.Errorf("registry unreachable and no fresh snapshot: %w", fetchErr)
	}
	return c.snap.agents, false, nil
}

func (c *RegistryClient) fallbackCapabilities(fetchErr error) ([]registry.CapabilityRef, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap.stale(time.Now()) {
		return nil, false, fmt.Errorf("registry unreachable and no fresh snapshot: %w", fetchErr)
	}
	return c.snap.capabilities, false, nil
}

func (c *RegistryClient) getJSON(ctx context.Context, path string, dest any) error {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build endpoint: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("registry returned status %d for %q", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response from %q: %w", path, err)
	}
	return nil
}
