// Package gateway implements the Gateway (C4): the unified front door that
// classifies each request as a direct capability call or an orchestrated
// Plan, streams Coordinator progress over SSE, and assembles aggregated
// views from the Registry (spec.md §4.4).
package gateway

import (
	"encoding/json"
	"time"
)

// ExecutionPath records which route a query took, attached to the response
// as a trace header (spec.md §4.4 "Decision and path are attached to the
// response as a trace header").
type ExecutionPath string

const (
	PathDirect      ExecutionPath = "direct"
	PathCoordinator ExecutionPath = "coordinator"
)

// Classification is the Gateway's own intent decision, independent of
// (and prior to) any Coordinator-side routing.
type Classification struct {
	Verb       string  `json:"verb"`
	Confidence float64 `json:"confidence"`
}

// QueryRequest is the POST /query body (spec.md §6).
type QueryRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}

// QueryResponse is the POST /query response (spec.md §6).
type QueryResponse struct {
	Result         json.RawMessage `json:"result"`
	ExecutionPath  []string        `json:"execution_path"`
	DurationMS     int64           `json:"duration_ms"`
	Classification Classification  `json:"classification"`
}

// AgentView is one entry of GET /agents.
type AgentView struct {
	AgentID      string    `json:"agent_id"`
	DisplayName  string    `json:"display_name"`
	AgentType    string    `json:"agent_type"`
	HealthStatus string    `json:"health_status"`
	BaseURL      string    `json:"base_url"`
	RegisteredAt time.Time `json:"registered_at,omitempty"`
}

// CapabilityView is one entry of GET /capabilities.
type CapabilityView struct {
	Verb    string `json:"verb"`
	AgentID string `json:"agent_id"`
}

// HealthView is the GET /health response: the Gateway's own readiness plus
// the aggregated Registry snapshot it currently holds (live or degraded).
type HealthView struct {
	Status       string `json:"status"`
	RegistryLive bool   `json:"registry_live"`
	SnapshotAge  string `json:"snapshot_age,omitempty"`
}
