package security

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// correlationThreshold is spec.md §4.5's "≥3 events of the same kind or ≥3
// related kinds → auto-create Incident."
const correlationThreshold = 3

// relatedKinds is every EventKind the correlator considers when counting
// "related kinds" distinct from a same-kind match.
var relatedKinds = []EventKind{EventEgressAttempt, EventDataAccess, EventPolicyViolation}

// openWindow tracks the still-open Incident for one (service_id, kind) pair:
// further matching events within window mutate incidentID rather than
// opening a second Incident.
type openWindow struct {
	start      time.Time
	incidentID string
}

// Correlator groups SecurityEvents into Incidents over a rolling window,
// keyed by (service_id, kind) (spec.md §4.5 "Event correlation").
type Correlator struct {
	events   EventStore
	incidents IncidentStore
	window   time.Duration

	mu          sync.Mutex
	openWindows map[string]openWindow // "serviceID|kind" -> still-open incident
}

// NewCorrelator builds a Correlator over the given stores with the
// configured correlation window (config.SecurityConfig.CorrelationWindow).
func NewCorrelator(events EventStore, incidents IncidentStore, window time.Duration) *Correlator {
	return &Correlator{events: events, incidents: incidents, window: window, openWindows: make(map[string]openWindow)}
}

// Evaluate runs after a new SecurityEvent is recorded: it counts recent
// same-kind events and related-kind coverage, opening an Incident the first
// time either threshold is crossed within the current window. A further
// matching event inside an already-open window mutates that Incident
// (appendToOpenIncident) instead of being dropped.
func (c *Correlator) Evaluate(ctx context.Context, e SecurityEvent) (*Incident, error) {
	since := e.Timestamp.Add(-c.window)

	windowKey := e.ServiceID + "|" + string(e.Kind)
	c.mu.Lock()
	opened, ok := c.openWindows[windowKey]
	c.mu.Unlock()
	if ok && e.Timestamp.Sub(opened.start) < c.window {
		return c.appendToOpenIncident(ctx, opened.incidentID, e)
	}

	sameKind, err := c.events.RecentEvents(ctx, e.ServiceID, e.Kind, since)
	if err != nil {
		return nil, fmt.Errorf("count same-kind events for %q: %w", e.ServiceID, err)
	}

	var relatedPresent int
	var relatedIDs []string
	maxSev := e.Severity
	for _, k := range relatedKinds {
		evs, err := c.events.RecentEvents(ctx, e.ServiceID, k, since)
		if err != nil {
			return nil, fmt.Errorf("count related-kind %q events for %q: %w", k, e.ServiceID, err)
		}
		if len(evs) > 0 {
			relatedPresent++
		}
		for _, ev := range evs {
			relatedIDs = append(relatedIDs, ev.EventID)
			maxSev = maxSeverity(maxSev, ev.Severity)
		}
	}

	if len(sameKind) < correlationThreshold && relatedPresent < correlationThreshold {
		return nil, nil
	}

	eventIDs := relatedIDs
	if len(sameKind) >= correlationThreshold {
		eventIDs = nil
		for _, ev := range sameKind {
			eventIDs = append(eventIDs, ev.EventID)
			maxSev = maxSeverity(maxSev, ev.Severity)
		}
	}

	incident := Incident{
		OpenedAt:    e.Timestamp,
		Severity:    maxSev,
		Status:      IncidentOpen,
		ServiceID:   e.ServiceID,
		Kind:        e.Kind,
		Destination: e.Destination,
		Summary:     fmt.Sprintf("%d correlated %s event(s) for service %q", len(eventIDs), e.Kind, e.ServiceID),
		EventIDs:    eventIDs,
	}
	incidentID, err := c.incidents.SaveIncident(ctx, incident)
	if err != nil {
		return nil, fmt.Errorf("save correlated incident for %q: %w", e.ServiceID, err)
	}
	incident.IncidentID = incidentID

	c.mu.Lock()
	c.openWindows[windowKey] = openWindow{start: e.Timestamp, incidentID: incidentID}
	c.mu.Unlock()

	return &incident, nil
}

// appendToOpenIncident mutates the Incident already open for this
// service+kind window: the new event's ID joins EventIDs and severity is
// re-maxed across every constituent event (spec.md §4.5 "severity = max of
// constituent events"), so a later, more severe event in the same window
// still escalates the Incident instead of being silently swallowed.
func (c *Correlator) appendToOpenIncident(ctx context.Context, incidentID string, e SecurityEvent) (*Incident, error) {
	incident, err := c.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("load open incident %q for %q: %w", incidentID, e.ServiceID, err)
	}

	incident.Severity = maxSeverity(incident.Severity, e.Severity)
	incident.EventIDs = append(append([]string(nil), incident.EventIDs...), e.EventID)

	if err := c.incidents.AppendIncidentEvents(ctx, incidentID, incident.EventIDs, incident.Severity); err != nil {
		return nil, fmt.Errorf("append event %q to incident %q: %w", e.EventID, incidentID, err)
	}

	return &incident, nil
}
