package security

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kenny-fabric/kenny/pkg/metrics"
)

// defaultBlockTTL is the fallback duration for block/isolate actions when a
// rule does not specify one (config.EgressConfig.BlockTTLDefault backs the
// production default passed into NewPlane).
const defaultBlockTTL = 15 * time.Minute

// Plane is the Security plane (C5): it records SecurityEvents, correlates
// them into Incidents, and dispatches the automated response actions
// spec.md §4.5 enumerates. Quarantine/freeze/monitor states are in-process
// flags other components poll via IsQuarantined/IsFrozen/IsMonitored,
// mirroring the Registry's copy-on-write block-list reads.
type Plane struct {
	events     EventStore
	incidents  IncidentStore
	correlator *Correlator
	blocks     *BlockList
	rateLimit  *RateLimiter
	notifier   *Notifier
	rules      []ResponseRule
	blockTTL   time.Duration

	logger *slog.Logger

	mu          sync.RWMutex
	quarantined map[string]bool
	frozen      map[string]bool
	monitored   map[string]bool
}

// NewPlane wires the Security plane. notifier may be nil (the `notify`
// action becomes a no-op, logged at warn level).
func NewPlane(events EventStore, incidents IncidentStore, correlator *Correlator, blocks *BlockList, rateLimit *RateLimiter, notifier *Notifier, rules []ResponseRule, blockTTL time.Duration) *Plane {
	if blockTTL <= 0 {
		blockTTL = defaultBlockTTL
	}
	sorted := append([]ResponseRule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Plane{
		events:      events,
		incidents:   incidents,
		correlator:  correlator,
		blocks:      blocks,
		rateLimit:   rateLimit,
		notifier:    notifier,
		rules:       sorted,
		blockTTL:    blockTTL,
		logger:      slog.Default().With("component", "security-plane"),
		quarantined: make(map[string]bool),
		frozen:      make(map[string]bool),
		monitored:   make(map[string]bool),
	}
}

// EvaluateEgress mediates an outbound attempt (spec.md §4.5 "Every outbound
// network attempt by an agent is mediated: destination → EvaluateEgress").
// A denial records a SecurityEvent of kind egress_attempt, severity ≥
// medium, and runs it through correlation/response.
func (p *Plane) EvaluateEgress(ctx context.Context, serviceID, destination string, allowed bool) error {
	if allowed {
		return nil
	}
	severity := SeverityMedium
	if p.IsQuarantined(serviceID) || p.IsServiceBlocked(serviceID) {
		severity = SeverityHigh
	}
	return p.RecordEvent(ctx, SecurityEvent{
		Kind:        EventEgressAttempt,
		Severity:    severity,
		ServiceID:   serviceID,
		Destination: destination,
	})
}

// RecordEvent stores e, runs correlation, and — if an Incident opens or e's
// own severity is critical — dispatches the matching response actions
// immediately. Non-critical incidents still fire whichever actions their
// matching rules configure; only the "wait for acknowledgement" framing in
// spec.md §4.5 is advisory, not a gate on response-action dispatch.
func (p *Plane) RecordEvent(ctx context.Context, e SecurityEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if err := p.events.SaveEvent(ctx, e); err != nil {
		return fmt.Errorf("record security event: %w", err)
	}
	metrics.SecurityEventsTotal.WithLabelValues(string(e.Kind), string(e.Severity)).Inc()

	incident, err := p.correlator.Evaluate(ctx, e)
	if err != nil {
		p.logger.Error("correlation failed", "service_id", e.ServiceID, "error", err)
	}

	if incident != nil {
		p.dispatch(ctx, *incident)
		return nil
	}

	if e.Severity == SeverityCritical {
		p.dispatchForEvent(ctx, e)
	}
	return nil
}

// dispatch fires every ResponseRule matching an Incident's kind/severity, in
// priority order.
func (p *Plane) dispatch(ctx context.Context, incident Incident) {
	for _, rule := range p.rules {
		if !rule.matches(incident.Kind, incident.Severity) {
			continue
		}
		for _, action := range rule.Actions {
			metrics.SecurityActionsTotal.WithLabelValues(string(action)).Inc()
			if err := p.execute(ctx, action, incident.ServiceID, incident); err != nil {
				p.logger.Error("response action failed", "action", action, "incident_id", incident.IncidentID, "error", err)
			}
		}
	}
}

// dispatchForEvent fires matching rules for a single critical event that
// has not (yet) opened an incident, wrapping it in an ephemeral Incident
// view for rule matching and notification text.
func (p *Plane) dispatchForEvent(ctx context.Context, e SecurityEvent) {
	ephemeral := Incident{
		ServiceID:   e.ServiceID,
		Kind:        e.Kind,
		Severity:    e.Severity,
		Destination: e.Destination,
		Summary:     fmt.Sprintf("critical %s event for service %q", e.Kind, e.ServiceID),
		EventIDs:    []string{e.EventID},
	}
	p.dispatch(ctx, ephemeral)
}

// execute runs one automated response action (spec.md §4.5's enumerated
// table). Actions are idempotent: re-firing block/isolate/rate_limit
// extends the existing TTL rather than stacking.
func (p *Plane) execute(ctx context.Context, action Action, serviceID string, incident Incident) error {
	switch action {
	case ActionAlert:
		p.logger.Warn("security alert", "service_id", serviceID, "incident", incident.Summary, "severity", incident.Severity)
		return nil
	case ActionNotify:
		if p.notifier == nil {
			p.logger.Warn("notify action fired with no notifier configured", "service_id", serviceID)
			return nil
		}
		return p.notifier.NotifyIncident(ctx, incident)
	case ActionAudit:
		p.logger.Info("security audit record", "service_id", serviceID, "incident", incident.Summary, "event_ids", incident.EventIDs)
		return nil
	case ActionEscalate:
		incident.Severity = maxSeverity(incident.Severity, SeverityCritical)
		if incident.IncidentID != "" {
			if err := p.incidents.UpdateIncidentSeverity(ctx, incident.IncidentID, incident.Severity); err != nil {
				return err
			}
		}
		if p.notifier != nil {
			return p.notifier.NotifyIncident(ctx, incident)
		}
		return nil
	case ActionBlock:
		if incident.Destination == "" {
			return fmt.Errorf("block action for incident %q has no destination to block", incident.IncidentID)
		}
		return p.blocks.BlockDestination(ctx, incident.Destination, "automated response: "+incident.Summary, p.blockTTL)
	case ActionIsolate:
		return p.blocks.BlockService(ctx, serviceID, "automated response: "+incident.Summary, p.blockTTL)
	case ActionQuarantine:
		p.mu.Lock()
		p.quarantined[serviceID] = true
		p.mu.Unlock()
		return nil
	case ActionFreeze:
		p.mu.Lock()
		p.frozen[serviceID] = true
		p.mu.Unlock()
		return nil
	case ActionRateLimit:
		return p.rateLimit.Install(ctx, serviceID, 1, p.blockTTL)
	case ActionMonitor:
		p.mu.Lock()
		p.monitored[serviceID] = true
		p.mu.Unlock()
		return nil
	case ActionReview:
		p.logger.Info("queued for human review", "service_id", serviceID, "incident", incident.Summary)
		return nil
	default:
		return fmt.Errorf("unknown response action %q", action)
	}
}

// IsServiceBlocked reports whether serviceID currently carries a service
// block (implements registry.BlockChecker alongside IsDestinationBlocked/
// HasBypass, both delegated straight to BlockList).
func (p *Plane) IsServiceBlocked(serviceID string) bool { return p.blocks.IsServiceBlocked(serviceID) }

func (p *Plane) IsDestinationBlocked(destination string) bool {
	return p.blocks.IsDestinationBlocked(destination)
}

func (p *Plane) HasBypass(serviceID, destination string) bool {
	return p.blocks.HasBypass(serviceID, destination)
}

// IsQuarantined reports whether serviceID's recent outputs are tainted
// (spec.md §4.5 "quarantine: Mark service's recent outputs tainted;
// Coordinator must re-review").
func (p *Plane) IsQuarantined(serviceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quarantined[serviceID]
}

// IsFrozen reports whether the Gateway should pause new accepts for
// serviceID (spec.md §4.5 "freeze").
func (p *Plane) IsFrozen(serviceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frozen[serviceID]
}

// IsMonitored reports whether serviceID's health interval should shorten
// and logging verbosity increase (spec.md §4.5 "monitor").
func (p *Plane) IsMonitored(serviceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.monitored[serviceID]
}

// AllowRequest reports whether a rate-limited serviceID may proceed
// (consulted by the Gateway/Coordinator before admitting a new call).
func (p *Plane) AllowRequest(ctx context.Context, serviceID string) (bool, error) {
	return p.rateLimit.Allow(ctx, serviceID)
}

// AcknowledgeIncident transitions an Incident to acknowledged (the manual
// review step spec.md §3's Incident.status lifecycle implies).
func (p *Plane) AcknowledgeIncident(ctx context.Context, incidentID string) error {
	return p.incidents.UpdateIncidentStatus(ctx, incidentID, IncidentAcknowledged, nil)
}

// ResolveIncident closes an Incident and clears any quarantine/freeze it had
// installed for its service.
func (p *Plane) ResolveIncident(ctx context.Context, incidentID string) error {
	incident, err := p.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("resolve incident %q: %w", incidentID, err)
	}
	now := time.Now()
	if err := p.incidents.UpdateIncidentStatus(ctx, incidentID, IncidentResolved, &now); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.quarantined, incident.ServiceID)
	delete(p.frozen, incident.ServiceID)
	p.mu.Unlock()
	return nil
}
