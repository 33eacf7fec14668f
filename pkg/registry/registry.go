// Package registry implements the Agent Registry (C2): manifest
// validation, the live capability index, health polling, egress rule
// storage, and aggregated health reporting, per spec.md §4.1.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kenny-fabric/kenny/pkg/errkind"
	"github.com/kenny-fabric/kenny/pkg/manifest"
)

// HealthStatus is the health state machine value of a RegistryRecord.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Observation is one health-poll datapoint in a RegistryRecord's ring.
type Observation struct {
	At        time.Time `json:"at"`
	Success   bool      `json:"success"`
	LatencyMS int64     `json:"latency_ms"`
}

// Performance is the sliding-window summary derived from the health ring.
type Performance struct {
	SuccessRate      float64 `json:"success_rate"`
	P50LatencyMS     int64   `json:"p50_latency_ms"`
	P95LatencyMS     int64   `json:"p95_latency_ms"`
	SLAViolations    int     `json:"sla_violations"`
}

// ringCapacity bounds the number of observations kept per record.
const ringCapacity = 100

// RegistryRecord is everything the Registry knows about one registered
// agent (spec.md §3).
type RegistryRecord struct {
	Manifest          manifest.Manifest `json:"manifest"`
	HealthEndpoint    string            `json:"health_endpoint"`
	BaseURL           string            `json:"base_url"`
	RegisteredAt      time.Time         `json:"registered_at"`
	LastHealthCheckAt time.Time         `json:"last_health_check_at"`
	HealthStatus      HealthStatus      `json:"health_status"`

	mu          sync.Mutex
	ring        []Observation
	consecFail  int
	consecOK    int
}

// recordObservation appends an observation to the bounded ring and advances
// the health state machine per spec.md §4.1's transition table.
func (r *RegistryRecord) recordObservation(obs Observation, slaMaxMS int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring = append(r.ring, obs)
	if len(r.ring) > ringCapacity {
		r.ring = r.ring[len(r.ring)-ringCapacity:]
	}
	r.LastHealthCheckAt = obs.At

	if obs.Success {
		r.consecFail = 0
		r.consecOK++
	} else {
		r.consecOK = 0
		r.consecFail++
	}

	last10 := r.ring
	if len(last10) > 10 {
		last10 = last10[len(last10)-10:]
	}
	slaBreaches := 0
	if slaMaxMS > 0 {
		for _, o := range last10 {
			if o.LatencyMS > slaMaxMS*2 {
				slaBreaches++
			}
		}
	}

	switch r.HealthStatus {
	case HealthUnknown, HealthHealthy:
		if r.consecFail >= 2 || slaBreaches > 0 {
			r.HealthStatus = HealthDegraded
		} else if obs.Success {
			r.HealthStatus = HealthHealthy
		}
	case HealthDegraded:
		if r.consecFail >= 5 {
			r.HealthStatus = HealthUnhealthy
		} else if r.consecOK >= 3 {
			r.HealthStatus = HealthHealthy
		}
	case HealthUnhealthy:
		if r.consecOK >= 3 {
			r.HealthStatus = HealthHealthy
		}
	}
}

// performance computes the sliding-window performance summary.
func (r *RegistryRecord) performance(slaMaxMS int64) Performance {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ring) == 0 {
		return Performance{}
	}
	var successes int
	latencies := make([]int64, 0, len(r.ring))
	for _, o := range r.ring {
		if o.Success {
			successes++
		}
		latencies = append(latencies, o.LatencyMS)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	p := Performance{
		SuccessRate: float64(successes) / float64(len(r.ring)),
		P50LatencyMS: percentile(latencies, 0.50),
		P95LatencyMS: percentile(latencies, 0.95),
	}
	if slaMaxMS > 0 {
		for _, l := range latencies {
			if l > slaMaxMS {
				p.SLAViolations++
			}
		}
	}
	return p
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func (r *RegistryRecord) healthRing() []Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Observation, len(r.ring))
	copy(cp, r.ring)
	return cp
}

func (r *RegistryRecord) resetToUnknown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HealthStatus = HealthUnknown
	r.ring = nil
	r.consecFail = 0
	r.consecOK = 0
}

// CapabilityRef identifies the owning agent of a verb, as returned by
// ListCapabilities/LookupCapability.
type CapabilityRef struct {
	Verb              string                       `json:"verb"`
	AgentID           string                       `json:"agent_id"`
	BaseURL           string                       `json:"base_url"`
	SafetyAnnotations []manifest.SafetyAnnotation  `json:"safety_annotations"`
}

// AgentSummary is the list-view projection of a RegistryRecord.
type AgentSummary struct {
	AgentID      string       `json:"agent_id"`
	DisplayName  string       `json:"display_name"`
	AgentType    manifest.AgentType `json:"agent_type"`
	HealthStatus HealthStatus `json:"health_status"`
	BaseURL      string       `json:"base_url"`
}

// Registry is the live RegistryRecord store: the single owner of agent
// registration state (spec.md §3 "Ownership"). All state mutation is
// serialized by mu; the capability index is rebuilt under the same lock so
// readers never observe an index out of sync with the record map.
type Registry struct {
	mu          sync.RWMutex
	records     map[string]*RegistryRecord // agent_id -> record
	byVerb      map[string][]string        // verb -> []agent_id, index order irrelevant (sorted on read)
	egress      *EgressStore
	pollers     map[string]*poller
	store       SnapshotStore
	logger      *slog.Logger
	healthSubs  map[string]chan struct{} // subscriber id -> wake channel for StreamHealth
	subsMu      sync.Mutex
}

// SnapshotStore persists RegistryRecords across restarts (spec.md §4.1
// "Failure semantics"). See pkg/registry/postgres.go for the production
// implementation.
type SnapshotStore interface {
	Save(ctx context.Context, agentID string, m manifest.Manifest, baseURL, healthEndpoint string, registeredAt time.Time) error
	Delete(ctx context.Context, agentID string) error
	LoadAll(ctx context.Context) (map[string]*RegistryRecord, error)
}

// New creates a Registry backed by the given egress store and snapshot
// store. Pass a nil SnapshotStore (noopStore{}) for tests that don't need
// persistence.
func New(egress *EgressStore, store SnapshotStore) *Registry {
	if store == nil {
		store = noopStore{}
	}
	return &Registry{
		records:    make(map[string]*RegistryRecord),
		byVerb:     make(map[string][]string),
		egress:     egress,
		pollers:    make(map[string]*poller),
		store:      store,
		logger:     slog.Default(),
		healthSubs: make(map[string]chan struct{}),
	}
}

// Restore reloads persisted records at startup, per spec.md §4.1: registry
// state loss is fatal to routing, so a restart must recover what it can.
func (reg *Registry) Restore(ctx context.Context) error {
	records, err := reg.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("restore registry snapshot: %w", err)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for id, rec := range records {
		rec.HealthStatus = HealthUnknown
		reg.records[id] = rec
		reg.indexLocked(id, rec.Manifest)
	}
	return nil
}

// Register validates and stores a manifest, per spec.md §4.1's contract.
// A re-register of an existing agent_id supersedes the prior record and
// resets health to unknown.
func (reg *Registry) Register(ctx context.Context, m manifest.Manifest, baseURL, healthEndpoint string) (string, time.Time, error) {
	if err := manifest.Validate(ctx, &m); err != nil {
		return "", time.Time{}, errkind.Wrap(errkind.ManifestInvalid, "manifest failed validation", err)
	}

	if reg.egress != nil {
		allowlist := reg.egress.Allowlist()
		for _, d := range m.EgressDomains {
			if !allowlist.allows(d) {
				return "", time.Time{}, errkind.New(errkind.EgressForbidden,
					fmt.Sprintf("egress_domains entry %q is not in the registry allowlist", d))
			}
		}
	}

	now := time.Now()
	rec := &RegistryRecord{
		Manifest:       m,
		HealthEndpoint: healthEndpoint,
		BaseURL:        baseURL,
		RegisteredAt:   now,
		HealthStatus:   HealthUnknown,
	}

	reg.mu.Lock()
	if existing, ok := reg.records[m.AgentID]; ok {
		reg.deindexLocked(m.AgentID, existing.Manifest)
	}
	reg.records[m.AgentID] = rec
	reg.indexLocked(m.AgentID, m)
	reg.mu.Unlock()

	if err := reg.store.Save(ctx, m.AgentID, m, baseURL, healthEndpoint, now); err != nil {
		reg.logger.Warn("failed to persist registry snapshot", "agent_id", m.AgentID, "error", err)
	}

	reg.startPoller(m.AgentID)
	reg.wakeHealthSubscribers()

	return m.AgentID, now, nil
}

// Deregister removes an agent_id from the store.
func (reg *Registry) Deregister(ctx context.Context, agentID string) error {
	reg.mu.Lock()
	rec, ok := reg.records[agentID]
	if !ok {
		reg.mu.Unlock()
		return errkind.New(errkind.AgentUnknown, fmt.Sprintf("agent %q not registered", agentID))
	}
	reg.deindexLocked(agentID, rec.Manifest)
	delete(reg.records, agentID)
	reg.mu.Unlock()

	reg.stopPoller(agentID)
	if err := reg.store.Delete(ctx, agentID); err != nil {
		reg.logger.Warn("failed to delete registry snapshot", "agent_id", agentID, "error", err)
	}
	reg.wakeHealthSubscribers()
	return nil
}

// GetAgent returns the named record itself (not a copy); changes made
// through the returned pointer are visible to the Registry.
func (reg *Registry) GetAgent(agentID string) (*RegistryRecord, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rec, ok := reg.records[agentID]
	return rec, ok
}

// ListAgents returns a summary of every registered agent.
func (reg *Registry) ListAgents() []AgentSummary {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]AgentSummary, 0, len(reg.records))
	for id, rec := range reg.records {
		out = append(out, AgentSummary{
			AgentID:      id,
			DisplayName:  rec.Manifest.DisplayName,
			AgentType:    rec.Manifest.AgentType,
			HealthStatus: rec.HealthStatus,
			BaseURL:      rec.BaseURL,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ListCapabilities returns every verb advertised by any registered agent.
func (reg *Registry) ListCapabilities() []CapabilityRef {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var out []CapabilityRef
	for verb, agentIDs := range reg.byVerb {
		for _, id := range agentIDs {
			rec, ok := reg.records[id]
			if !ok {
				continue
			}
			out = append(out, refFor(verb, id, rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Verb != out[j].Verb {
			return out[i].Verb < out[j].Verb
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// LookupCapability resolves candidates for a verb, tie-broken per
// spec.md §4.1: healthy > degraded > unhealthy, then lower p95 latency,
// then lexicographic agent_id.
func (reg *Registry) LookupCapability(verb string) []CapabilityRef {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	agentIDs := reg.byVerb[verb]
	if len(agentIDs) == 0 {
		return nil
	}
	refs := make([]CapabilityRef, 0, len(agentIDs))
	for _, id := range agentIDs {
		if rec, ok := reg.records[id]; ok {
			refs = append(refs, refFor(verb, id, rec))
		}
	}

	type scored struct {
		ref  CapabilityRef
		tier int
		p95  int64
	}
	rank := map[HealthStatus]int{HealthHealthy: 0, HealthDegraded: 1, HealthUnknown: 2, HealthUnhealthy: 3}
	scoredRefs := make([]scored, 0, len(refs))
	for _, r := range refs {
		rec := reg.records[r.AgentID]
		slaMax := capabilitySLAMax(rec.Manifest, verb)
		perf := rec.performance(slaMax)
		scoredRefs = append(scoredRefs, scored{ref: r, tier: rank[rec.HealthStatus], p95: perf.P95LatencyMS})
	}
	sort.Slice(scoredRefs, func(i, j int) bool {
		if scoredRefs[i].tier != scoredRefs[j].tier {
			return scoredRefs[i].tier < scoredRefs[j].tier
		}
		if scoredRefs[i].p95 != scoredRefs[j].p95 {
			return scoredRefs[i].p95 < scoredRefs[j].p95
		}
		return scoredRefs[i].ref.AgentID < scoredRefs[j].ref.AgentID
	})

	out := make([]CapabilityRef, len(scoredRefs))
	for i, s := range scoredRefs {
		out[i] = s.ref
	}
	return out
}

func capabilitySLAMax(m manifest.Manifest, verb string) int64 {
	for _, c := range m.Capabilities {
		if c.Verb == verb {
			return int64(c.SLA.MaxLatencyMS)
		}
	}
	return 0
}

func refFor(verb, agentID string, rec *RegistryRecord) CapabilityRef {
	for _, c := range rec.Manifest.Capabilities {
		if c.Verb == verb {
			return CapabilityRef{Verb: verb, AgentID: agentID, BaseURL: rec.BaseURL, SafetyAnnotations: c.SafetyAnnotations}
		}
	}
	return CapabilityRef{Verb: verb, AgentID: agentID, BaseURL: rec.BaseURL}
}

// indexLocked/deindexLocked must be called with mu held for writing.
func (reg *Registry) indexLocked(agentID string, m manifest.Manifest) {
	for _, c := range m.Capabilities {
		reg.byVerb[c.Verb] = append(reg.byVerb[c.Verb], agentID)
	}
}

func (reg *Registry) deindexLocked(agentID string, m manifest.Manifest) {
	for _, c := range m.Capabilities {
		ids := reg.byVerb[c.Verb]
		for i, id := range ids {
			if id == agentID {
				reg.byVerb[c.Verb] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(reg.byVerb[c.Verb]) == 0 {
			delete(reg.byVerb, c.Verb)
		}
	}
}

// SystemHealthSnapshot is the aggregated view returned by SystemHealth.
type SystemHealthSnapshot struct {
	Overall         string            `json:"overall"`
	PerAgent        map[string]string `json:"per_agent"`
	SLAViolations   map[string]int    `json:"sla_violations"`
	Recommendations []string          `json:"recommendations"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

// SystemHealth aggregates every record's health into one snapshot.
func (reg *Registry) SystemHealth() SystemHealthSnapshot {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	snap := SystemHealthSnapshot{
		PerAgent:      make(map[string]string, len(reg.records)),
		SLAViolations: make(map[string]int, len(reg.records)),
		GeneratedAt:   time.Now(),
	}

	unhealthyCount, degradedCount := 0, 0
	for id, rec := range reg.records {
		snap.PerAgent[id] = string(rec.HealthStatus)
		slaMax := int64(0)
		for _, c := range rec.Manifest.Capabilities {
			if c.SLA.MaxLatencyMS > 0 {
				slaMax = int64(c.SLA.MaxLatencyMS)
				break
			}
		}
		perf := rec.performance(slaMax)
		snap.SLAViolations[id] = perf.SLAViolations

		switch rec.HealthStatus {
		case HealthUnhealthy:
			unhealthyCount++
		case HealthDegraded:
			degradedCount++
		}
	}

	switch {
	case unhealthyCount > 0:
		snap.Overall = "critical"
		snap.Recommendations = append(snap.Recommendations, "investigate unhealthy agents before routing further plans through them")
	case degradedCount > 0:
		snap.Overall = "degraded"
		snap.Recommendations = append(snap.Recommendations, "monitor degraded agents; planner will prefer healthy alternatives where available")
	default:
		snap.Overall = "healthy"
	}
	return snap
}

// NewRegistrationID generates an opaque id for a registration event,
// distinct from agent_id, for audit/trace correlation.
func NewRegistrationID() string {
	return uuid.NewString()
}

type noopStore struct{}

func (noopStore) Save(context.Context, string, manifest.Manifest, string, string, time.Time) error {
	return nil
}
func (noopStore) Delete(context.Context, string) error { return nil }
func (noopStore) LoadAll(context.Context) (map[string]*RegistryRecord, error) {
	return map[string]*RegistryRecord{}, nil
}
