// Package agentbase implements the Agent Service Base (C1): the uniform
// contract every capability-providing service takes (spec.md §4.2).
// Implementers supply domain capability handlers; Base supplies capability
// dispatch, the LLM-driven natural-language interpretation layer, the
// multi-tier cache, inter-agent dependency calls, and health reporting.
package agentbase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kenny-fabric/kenny/pkg/cache"
	"github.com/kenny-fabric/kenny/pkg/errkind"
	"github.com/kenny-fabric/kenny/pkg/manifest"
)

// ConfidenceResult is returned by an intelligent capability handler
// (spec.md §3).
type ConfidenceResult struct {
	Value          json.RawMessage `json:"value"`
	Confidence     float64         `json:"confidence"`
	FallbackUsed   bool            `json:"fallback_used"`
	FallbackReason string          `json:"fallback_reason,omitempty"`
}

// Handler is one capability's domain implementation. It receives the
// dispatched parameters and returns a ConfidenceResult; a handler that has
// no notion of confidence (a "basic" agent_type capability) returns
// Confidence: 1.0 unconditionally.
type Handler func(ctx context.Context, params map[string]any) (ConfidenceResult, error)

// RegistryClient is the subset of pkg/registry's HTTP-facing contract the
// base needs: resolving another agent's base_url for QueryAgent.
type RegistryClient interface {
	ResolveAgent(ctx context.Context, agentID string) (baseURL string, err error)
}

// Dependency is a declared inter-agent need (RegisterDependency).
type Dependency struct {
	AgentID              string
	RequiredCapabilities []string
	Required             bool
	Timeout              time.Duration
}

// Base is the reusable implementation every Agent Service Base instance
// embeds. Grounded on the teacher's BaseAgent/Controller split
// (pkg/agent/base_agent.go): Base plays BaseAgent's role, the registered
// Handler per verb plays Controller's role, generalized from "one
// investigation strategy" to "one verb per capability".
type Base struct {
	AgentID  string
	Manifest manifest.Manifest

	handlers     map[string]Handler
	broadeners   map[string]Broadener
	alternatives map[string][]string
	cache        *cache.Cache
	llm          LLMClient
	registry     RegistryClient

	depsMu   sync.RWMutex
	deps     map[string]Dependency
	breakers map[string]*dependencyBreaker

	minConfidence float64
	logger        *slog.Logger
}

// New builds a Base. llm may be nil for a purely "basic" agent_type with
// no NL Query() path.
func New(agentID string, m manifest.Manifest, c *cache.Cache, llm LLMClient, registry RegistryClient) *Base {
	return &Base{
		AgentID:       agentID,
		Manifest:      m,
		handlers:      make(map[string]Handler),
		broadeners:    make(map[string]Broadener),
		alternatives:  make(map[string][]string),
		cache:         c,
		llm:           llm,
		registry:      registry,
		deps:          make(map[string]Dependency),
		breakers:      make(map[string]*dependencyBreaker),
		minConfidence: 0.7,
		logger:        slog.Default(),
	}
}

// RegisterHandler wires a verb's domain implementation. Must be called for
// every CapabilityDescriptor in the agent's manifest before serving
// traffic.
func (b *Base) RegisterHandler(verb string, h Handler) {
	b.handlers[verb] = h
}

// Broadener relaxes a capability's parameters for a confidence-fallback
// retry (spec.md §4.2 fallback chain step "a. Try broader parameters"),
// e.g. dropping an optional filter or widening a date range.
type Broadener func(params map[string]any) map[string]any

// RegisterBroadener wires a verb's parameter-broadening strategy, used when
// its handler returns a ConfidenceResult below the minimum threshold.
func (b *Base) RegisterBroadener(verb string, fn Broadener) {
	b.broadeners[verb] = fn
}

// RegisterAlternative declares that altVerb on this same agent can serve as
// a substitute for verb when verb's result falls short of the confidence
// threshold or its handler errors (spec.md §4.2 fallback chain step
// "b. Try an alternative capability on the same agent"). Only the first
// registered alternative that has a handler is tried; later ones are not
// attempted.
func (b *Base) RegisterAlternative(verb, altVerb string) {
	b.alternatives[verb] = append(b.alternatives[verb], altVerb)
}

// HandleCapability dispatches to the registered handler, applying caching
// and the capability's configured timeout (spec.md §4.2). The returned
// ConfidenceResult carries Confidence/FallbackUsed/FallbackReason through
// to callers (the HTTP /capabilities/{verb} and /query handlers, Query's
// own NL path) so a degraded answer is never silently reported as a plain
// value — a cache hit is treated as the confidence the entry was stored
// under, not an unconditional 1.0.
func (b *Base) HandleCapability(ctx context.Context, verb string, params map[string]any) (ConfidenceResult, error) {
	descriptor, ok := b.capability(verb)
	if !ok {
		return ConfidenceResult{}, errkind.New(errkind.CapabilityUnknown, fmt.Sprintf("agent %q has no capability %q", b.AgentID, verb))
	}

	handler, ok := b.handlers[verb]
	if !ok {
		return ConfidenceResult{}, errkind.New(errkind.CapabilityUnknown, fmt.Sprintf("agent %q has not registered a handler for %q", b.AgentID, verb))
	}

	timeout := 30 * time.Second
	if descriptor.SLA.MaxLatencyMS > 0 {
		timeout = time.Duration(descriptor.SLA.MaxLatencyMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fingerprint := cache.Fingerprint(b.AgentID, verb, params, schemaDefaults(descriptor.InputSchema))
	if b.cache != nil {
		if entry, hit := b.cache.Lookup(ctx, fingerprint); hit {
			return ConfidenceResult{Value: entry.Value, Confidence: entry.Confidence}, nil
		}
	}

	result, err := b.executeWithConfidence(ctx, verb, handler, params, b.minConfidence)
	if err != nil {
		return ConfidenceResult{}, errkind.Wrap(errkind.Internal, fmt.Sprintf("capability %q handler failed", verb), err)
	}

	if b.cache != nil {
		b.cache.Put(ctx, fingerprint, result.Value, result.Confidence)
	}
	return result, nil
}

// schemaDefaults pulls the top-level `"default"` value out of each property
// in a JSON-Schema input_schema, so HandleCapability's fingerprinting can
// drop a parameter that was only ever set to its own schema default
// (spec.md §3's cache-fingerprint normalization) on the real dispatch path,
// not just in tests that hand-build a defaults map directly.
func schemaDefaults(raw json.RawMessage) map[string]any {
	var schema struct {
		Properties map[string]struct {
			Default any `json:"default"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	if len(schema.Properties) == 0 {
		return nil
	}
	defaults := make(map[string]any, len(schema.Properties))
	for name, prop := range schema.Properties {
		if prop.Default != nil {
			defaults[name] = prop.Default
		}
	}
	return defaults
}

func (b *Base) capability(verb string) (manifest.CapabilityDescriptor, bool) {
	for _, c := range b.Manifest.Capabilities {
		if c.Verb == verb {
			return c, true
		}
	}
	return manifest.CapabilityDescriptor{}, false
}

// CacheLookup/CachePut/InvalidatePattern expose the tiered cache directly,
// for handlers that want finer control than HandleCapability's automatic
// fingerprinting (spec.md §4.2 public surface).
func (b *Base) CacheLookup(ctx context.Context, fingerprint string) (json.RawMessage, bool) {
	if b.cache == nil {
		return nil, false
	}
	e, ok := b.cache.Lookup(ctx, fingerprint)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

func (b *Base) CachePut(ctx context.Context, fingerprint string, value json.RawMessage, confidence float64) {
	if b.cache != nil {
		b.cache.Put(ctx, fingerprint, value, confidence)
	}
}

func (b *Base) InvalidatePattern(ctx context.Context, pattern string) int {
	if b.cache == nil {
		return 0
	}
	return b.cache.InvalidatePattern(ctx, pattern)
}

// HealthCheck is one named probe in a Health() report.
type HealthCheck struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// HealthReport is the Health() return shape (spec.md §4.2).
type HealthReport struct {
	State  string        `json:"state"`
	Checks []HealthCheck `json:"checks"`
}

// Health reports this agent's own readiness: every manifest capability has a
// registered handler, and no dependency's circuit breaker is open (a
// best-effort signal, not a live probe — live probing other agents is the
// Registry's job).
func (b *Base) Health(ctx context.Context) HealthReport {
	checks := make([]HealthCheck, 0, len(b.Manifest.Capabilities)+1)
	allHealthy := true
	for _, c := range b.Manifest.Capabilities {
		_, ok := b.handlers[c.Verb]
		checks = append(checks, HealthCheck{Name: "handler:" + c.Verb, Healthy: ok})
		allHealthy = allHealthy && ok
	}

	b.depsMu.RLock()
	for id, br := range b.breakers {
		healthy := br.cb.State().String() != "open"
		checks = append(checks, HealthCheck{Name: "dependency:" + id, Healthy: healthy, Detail: br.cb.State().String()})
		allHealthy = allHealthy && healthy
	}
	b.depsMu.RUnlock()

	state := "healthy"
	if !allHealthy {
		state = "degraded"
	}
	return HealthReport{State: state, Checks: checks}
}
