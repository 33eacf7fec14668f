// Package manifest defines the Agent Manifest and CapabilityDescriptor data
// model (spec.md §3) and the two-pass validation a Registry performs at
// registration time.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// AgentType distinguishes a plain capability provider from one that also
// exposes an intelligent, LLM-backed Query() path.
type AgentType string

const (
	AgentTypeBasic              AgentType = "basic"
	AgentTypeIntelligentService AgentType = "intelligent_service"
)

// SafetyAnnotation is a declared property of a capability informing policy
// decisions in the Coordinator's Reviewer and the Security plane.
type SafetyAnnotation string

const (
	SafetyReadOnly             SafetyAnnotation = "read_only"
	SafetyWriteRequiresApproval SafetyAnnotation = "write_requires_approval"
	SafetyLocalOnly            SafetyAnnotation = "local_only"
	SafetyNoEgress             SafetyAnnotation = "no_egress"
	// SafetyDirectRouteSafe marks an intelligent_service capability the
	// Gateway may invoke directly on a high-confidence classification,
	// bypassing the Coordinator (spec.md §4.4 "Intent classification
	// decision"). basic capabilities never need it: they're always
	// direct-route eligible.
	SafetyDirectRouteSafe      SafetyAnnotation = "direct_route_safe"
)

// SLA describes a capability's latency targets.
type SLA struct {
	TargetLatencyMS int `json:"target_latency_ms" validate:"min=0"`
	MaxLatencyMS    int `json:"max_latency_ms" validate:"min=0"`
}

// CapabilityDescriptor is one named operation an agent advertises.
type CapabilityDescriptor struct {
	Verb              string             `json:"verb" validate:"required"`
	InputSchema       json.RawMessage    `json:"input_schema" validate:"required"`
	OutputSchema      json.RawMessage    `json:"output_schema" validate:"required"`
	SafetyAnnotations []SafetyAnnotation `json:"safety_annotations,omitempty"`
	Description       string             `json:"description"`
	SLA               SLA                `json:"sla"`
}

// HasAnnotation reports whether the capability carries the given safety
// annotation.
func (c CapabilityDescriptor) HasAnnotation(a SafetyAnnotation) bool {
	for _, got := range c.SafetyAnnotations {
		if got == a {
			return true
		}
	}
	return false
}

// HealthCheckSpec is the agent's self-described health probe.
type HealthCheckSpec struct {
	Endpoint   string `json:"endpoint" validate:"required"`
	IntervalS  int    `json:"interval_seconds" validate:"required,min=1"`
}

// Manifest is an agent's self-description, the registration payload
// (spec.md §3 "Agent Manifest").
type Manifest struct {
	AgentID       string                 `json:"agent_id" validate:"required"`
	DisplayName   string                 `json:"display_name" validate:"required"`
	Version       string                 `json:"version" validate:"required"`
	Description   string                 `json:"description"`
	AgentType     AgentType              `json:"agent_type" validate:"required,oneof=basic intelligent_service"`
	Capabilities  []CapabilityDescriptor `json:"capabilities" validate:"required,min=1,dive"`
	DataScopes    []string               `json:"data_scopes,omitempty"`
	ToolAccess    []string               `json:"tool_access,omitempty"`
	EgressDomains []string               `json:"egress_domains,omitempty"`
	HealthCheck   HealthCheckSpec        `json:"health_check"`
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// metaSchema is the JSON-Schema draft 2020-12 meta-schema, compiled once and
// used to reject a capability whose input/output schema is itself malformed
// JSON Schema — a manifest that would otherwise register successfully but
// fail every call at first use.
var metaSchema = func() *jsonschema.Schema {
	s, err := jsonschema.NewCompiler().Compile("https://json-schema.org/draft/2020-12/schema")
	if err != nil {
		panic(fmt.Sprintf("manifest: failed to compile JSON-Schema meta-schema: %v", err))
	}
	return s
}()

// Validate runs both validation passes described in SPEC_FULL.md §3.1:
// struct-tag validation of required top-level fields, then JSON-schema
// meta-validation of every capability's input/output schema.
func Validate(ctx context.Context, m *Manifest) error {
	if err := structValidator.StructCtx(ctx, m); err != nil {
		return fmt.Errorf("manifest struct validation: %w", err)
	}

	seen := make(map[string]bool, len(m.Capabilities))
	for _, cap := range m.Capabilities {
		if seen[cap.Verb] {
			return fmt.Errorf("manifest declares duplicate verb %q", cap.Verb)
		}
		seen[cap.Verb] = true

		if err := validateSchema(cap.Verb, "input_schema", cap.InputSchema); err != nil {
			return err
		}
		if err := validateSchema(cap.Verb, "output_schema", cap.OutputSchema); err != nil {
			return err
		}
	}
	return nil
}

func validateSchema(verb, field string, raw json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("capability %q: %s is not valid JSON: %w", verb, field, err)
	}
	if err := metaSchema.Validate(doc); err != nil {
		return fmt.Errorf("capability %q: %s fails JSON-Schema meta-validation: %w", verb, field, err)
	}
	return nil
}
