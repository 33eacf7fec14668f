package coordinator

import (
	"context"
	"encoding/json"

	"github.com/kenny-fabric/kenny/pkg/manifest"
	"github.com/kenny-fabric/kenny/pkg/registry"
)

type fakeRegistry struct {
	records map[string]*registry.RegistryRecord
	byVerb  map[string][]registry.CapabilityRef
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{records: map[string]*registry.RegistryRecord{}, byVerb: map[string][]registry.CapabilityRef{}}
}

func (f *fakeRegistry) addAgent(agentID, baseURL string, health registry.HealthStatus, verbs ...string) {
	caps := make([]manifest.CapabilityDescriptor, 0, len(verbs))
	for _, v := range verbs {
		caps = append(caps, manifest.CapabilityDescriptor{Verb: v, InputSchema: json.RawMessage(`{}`), OutputSchema: json.RawMessage(`{}`)})
	}
	f.records[agentID] = &registry.RegistryRecord{
		Manifest:     manifest.Manifest{AgentID: agentID, DisplayName: agentID, AgentType: manifest.AgentTypeBasic, Capabilities: caps},
		BaseURL:      baseURL,
		HealthStatus: health,
	}
	for _, v := range verbs {
		f.byVerb[v] = append(f.byVerb[v], registry.CapabilityRef{Verb: v, AgentID: agentID, BaseURL: baseURL})
	}
}

func (f *fakeRegistry) ListCapabilities() []registry.CapabilityRef {
	var out []registry.CapabilityRef
	for _, refs := range f.byVerb {
		out = append(out, refs...)
	}
	return out
}

func (f *fakeRegistry) LookupCapability(verb string) []registry.CapabilityRef {
	return f.byVerb[verb]
}

func (f *fakeRegistry) GetAgent(agentID string) (*registry.RegistryRecord, bool) {
	rec, ok := f.records[agentID]
	return rec, ok
}

type fakeCaller struct {
	responses map[string]json.RawMessage
	errs      map[string]error
}

func (c *fakeCaller) Call(ctx context.Context, baseURL, verb string, params map[string]any) (json.RawMessage, error) {
	if err, ok := c.errs[verb]; ok {
		return nil, err
	}
	return c.responses[verb], nil
}

// timeoutCaller blocks until its call context is done, the way an HTTP
// client blocks on a slow agent until the per-call context.WithTimeout
// fires, so runOne's timeout-vs-generic-failure distinction can be tested
// without a real network round trip.
type timeoutCaller struct{}

func (timeoutCaller) Call(ctx context.Context, baseURL, verb string, params map[string]any) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type assertError string

func (e assertError) Error() string { return string(e) }

type staticClassifier struct {
	requests []PlanRequest
}

func (s staticClassifier) Decompose(ctx context.Context, route RouteResult, utterance string) ([]PlanRequest, error) {
	return s.requests, nil
}
