package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kenny-fabric/kenny/pkg/registry"
)

// HTTPRegistryView implements RegistryView against the Registry's HTTP
// surface (spec.md §6), the same out-of-process adapter role
// pkg/gateway.RegistryClient plays for the Gateway. Unlike RegistryClient it
// has no snapshot/degraded-mode fallback: the Coordinator's Planner
// validates a Plan against live registry state, so a stale view here would
// silently approve calls against agents that no longer exist.
type HTTPRegistryView struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRegistryView builds an HTTPRegistryView. A nil client falls back to
// http.DefaultClient.
func NewHTTPRegistryView(baseURL string, client *http.Client) *HTTPRegistryView {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRegistryView{baseURL: baseURL, client: client}
}

func (v *HTTPRegistryView) ListCapabilities() []registry.CapabilityRef {
	var out []registry.CapabilityRef
	_ = v.getJSON("capabilities", &out)
	return out
}

func (v *HTTPRegistryView) LookupCapability(verb string) []registry.CapabilityRef {
	var out []registry.CapabilityRef
	endpoint, err := url.JoinPath("capabilities", verb)
	if err != nil {
		return nil
	}
	_ = v.getJSON(endpoint, &out)
	return out
}

// GetAgent fetches the named agent's record. The returned RegistryRecord
// carries only its exported fields (Manifest, BaseURL, health metadata) —
// the unexported health ring never crosses the wire, and callers in this
// package only ever read the exported ones.
func (v *HTTPRegistryView) GetAgent(agentID string) (*registry.RegistryRecord, bool) {
	var rec registry.RegistryRecord
	endpoint, err := url.JoinPath("agents", agentID)
	if err != nil {
		return nil, false
	}
	if err := v.getJSON(endpoint, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (v *HTTPRegistryView) getJSON(path string, out any) error {
	endpoint, err := url.JoinPath(v.baseURL, path)
	if err != nil {
		return fmt.Errorf("build endpoint: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("registry returned status %d for %s", resp.StatusCode, endpoint)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
