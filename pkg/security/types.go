// Package security implements the Security/Policy plane (C5): egress
// enforcement, security event collection, incident correlation, and
// automated response actions (spec.md §4.5).
package security

import "time"

// EventKind classifies a SecurityEvent.
type EventKind string

const (
	EventEgressAttempt    EventKind = "egress_attempt"
	EventDataAccess       EventKind = "data_access"
	EventPolicyViolation  EventKind = "policy_violation"
)

// Severity is a SecurityEvent/Incident's severity level, ordered low to high
// for max-of-constituent-events comparisons.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// maxSeverity returns whichever of a, b ranks higher.
func maxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// SecurityEvent is one observed security-relevant occurrence (spec.md §3).
type SecurityEvent struct {
	EventID     string            `json:"event_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Kind        EventKind         `json:"kind"`
	Severity    Severity          `json:"severity"`
	ServiceID   string            `json:"service_id"`
	Destination string            `json:"destination,omitempty"`
	Details     map[string]any    `json:"details,omitempty"`
}

// IncidentStatus is an Incident's lifecycle state (spec.md §3).
type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

// Incident is a correlated set of ≥3 related SecurityEvents within the
// correlation window (spec.md §3, §4.5).
type Incident struct {
	IncidentID string         `json:"incident_id"`
	OpenedAt   time.Time      `json:"opened_at"`
	ClosedAt   *time.Time     `json:"closed_at,omitempty"`
	Severity   Severity       `json:"severity"`
	Status     IncidentStatus `json:"status"`
	ServiceID   string         `json:"service_id"`
	Kind        EventKind      `json:"kind"`
	Destination string         `json:"destination,omitempty"`
	Summary     string         `json:"summary"`
	EventIDs    []string       `json:"event_ids"`
}

// Action is one of the 11 automated response actions spec.md §4.5
// enumerates.
type Action string

const (
	ActionAlert      Action = "alert"
	ActionNotify     Action = "notify"
	ActionAudit      Action = "audit"
	ActionEscalate   Action = "escalate"
	ActionBlock      Action = "block"
	ActionIsolate    Action = "isolate"
	ActionQuarantine Action = "quarantine"
	ActionFreeze     Action = "freeze"
	ActionRateLimit  Action = "rate_limit"
	ActionMonitor    Action = "monitor"
	ActionReview     Action = "review"
)

// ResponseRule declaratively maps an event pattern to the actions it fires,
// per spec.md §4.5: "{event_pattern → actions[]} with rule priority; lower
// numeric priority fires first."
type ResponseRule struct {
	Name           string
	Priority       int
	MatchKind      EventKind // empty matches any kind
	MatchSeverity  Severity  // empty matches any severity; else minimum
	Actions        []Action
}

// matches reports whether the rule applies to an event or an incident's
// representative kind/severity.
func (r ResponseRule) matches(kind EventKind, sev Severity) bool {
	if r.MatchKind != "" && r.MatchKind != kind {
		return false
	}
	if r.MatchSeverity != "" && severityRank[sev] < severityRank[r.MatchSeverity] {
		return false
	}
	return true
}

// BypassToken is an admin-issued exemption from a service/destination block
// (spec.md §4.5 "Bypass tokens ... TTL ≤60 min").
type BypassToken struct {
	ServiceID   string    `json:"service_id"`
	Destination string    `json:"destination"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// maxBypassTTL is spec.md §4.5's "(admin-issued, per service+destination,
// TTL ≤60 min)" bound.
const maxBypassTTL = 60 * time.Minute
