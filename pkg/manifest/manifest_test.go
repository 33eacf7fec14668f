package manifest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest() *Manifest {
	schema := json.RawMessage(`{"type":"object","properties":{"mailbox":{"type":"string"}}}`)
	return &Manifest{
		AgentID:     "mail-agent",
		DisplayName: "Mail Agent",
		Version:     "1.0.0",
		AgentType:   AgentTypeBasic,
		Capabilities: []CapabilityDescriptor{
			{
				Verb:              "messages.search",
				InputSchema:       schema,
				OutputSchema:      schema,
				SafetyAnnotations: []SafetyAnnotation{SafetyReadOnly},
				SLA:               SLA{TargetLatencyMS: 200, MaxLatencyMS: 2000},
			},
		},
		HealthCheck: HealthCheckSpec{Endpoint: "http://localhost:9100/health", IntervalS: 30},
	}
}

func TestValidate_AcceptsWellFormedManifest(t *testing.T) {
	require.NoError(t, Validate(context.Background(), validManifest()))
}

func TestValidate_RejectsMissingAgentType(t *testing.T) {
	m := validManifest()
	m.AgentType = ""
	assert.Error(t, Validate(context.Background(), m))
}

func TestValidate_RejectsDuplicateVerb(t *testing.T) {
	m := validManifest()
	m.Capabilities = append(m.Capabilities, m.Capabilities[0])
	err := Validate(context.Background(), m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate verb")
}

func TestValidate_RejectsMalformedInputSchema(t *testing.T) {
	m := validManifest()
	m.Capabilities[0].InputSchema = json.RawMessage(`{"type":"not-a-real-type"}`)
	err := Validate(context.Background(), m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meta-validation")
}

func TestCapabilityDescriptor_HasAnnotation(t *testing.T) {
	c := CapabilityDescriptor{SafetyAnnotations: []SafetyAnnotation{SafetyNoEgress}}
	assert.True(t, c.HasAnnotation(SafetyNoEgress))
	assert.False(t, c.HasAnnotation(SafetyReadOnly))
}
