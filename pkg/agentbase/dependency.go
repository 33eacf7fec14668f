package agentbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kenny-fabric/kenny/pkg/errkind"
)

// dependencyBreaker wraps one declared Dependency's circuit breaker,
// tripping after repeated QueryAgent failures so a persistently failing
// peer stops adding latency to every caller (spec.md §4.2 "on timeout/error
// returns dependency_unavailable").
type dependencyBreaker struct {
	dep Dependency
	cb  *gobreaker.CircuitBreaker
}

// RegisterDependency declares an inter-agent need (spec.md §4.2 public
// surface). Must be called before QueryAgent(agentID, ...).
func (b *Base) RegisterDependency(agentID string, requiredCapabilities []string, required bool, timeout time.Duration) {
	dep := Dependency{AgentID: agentID, RequiredCapabilities: requiredCapabilities, Required: required, Timeout: timeout}

	settings := gobreaker.Settings{
		Name:        "dependency:" + agentID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	b.depsMu.Lock()
	defer b.depsMu.Unlock()
	b.deps[agentID] = dep
	b.breakers[agentID] = &dependencyBreaker{dep: dep, cb: gobreaker.NewCircuitBreaker(settings)}
}

// QueryAgent performs a registry-mediated capability call to another agent
// (spec.md §4.2). The target's address is resolved via the Registry
// (never a hard-coded URL); on timeout/error it returns
// error_kind=dependency_unavailable, which the caller may tolerate if the
// dependency was registered with required=false.
func (b *Base) QueryAgent(ctx context.Context, agentID, verb string, params map[string]any) (json.RawMessage, error) {
	b.depsMu.RLock()
	br, ok := b.breakers[agentID]
	b.depsMu.RUnlock()
	if !ok {
		return nil, errkind.New(errkind.DependencyUnavailable, fmt.Sprintf("agent %q has no registered dependency on %q", b.AgentID, agentID))
	}

	timeout := br.dep.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := br.cb.Execute(func() (interface{}, error) {
		return b.callCapability(ctx, agentID, verb, params)
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.DependencyUnavailable, fmt.Sprintf("dependency call to %q/%q failed", agentID, verb), err)
	}
	return result.(json.RawMessage), nil
}

func (b *Base) callCapability(ctx context.Context, agentID, verb string, params map[string]any) (json.RawMessage, error) {
	if b.registry == nil {
		return nil, fmt.Errorf("no registry client configured")
	}
	baseURL, err := b.registry.ResolveAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent %q: %w", agentID, err)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	endpoint, err := url.JoinPath(baseURL, "capabilities", verb)
	if err != nil {
		return nil, fmt.Errorf("build endpoint for %q: %w", verb, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("agent %q returned status %d for %q", agentID, resp.StatusCode, verb)
	}

	var value json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&value); err != nil {
		return nil, fmt.Errorf("decode response from %q: %w", agentID, err)
	}
	return value, nil
}
