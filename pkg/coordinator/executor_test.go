package coordinator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenny-fabric/kenny/pkg/registry"
)

func TestExecutor_RunsIndependentCallsAndReturnsCompleted(t *testing.T) {
	reg := newFakeRegistry()
	reg.addAgent("a", "http://a", registry.HealthHealthy, "verb.a")
	reg.addAgent("b", "http://b", registry.HealthHealthy, "verb.b")
	planner := NewPlanner(reg)

	plan, err := planner.Plan("intent", []PlanRequest{
		{Verb: "verb.a", Required: true},
		{Verb: "verb.b", Required: true},
	})
	require.NoError(t, err)

	caller := &fakeCaller{responses: map[string]json.RawMessage{
		"verb.a": json.RawMessage(`{"a":1}`),
		"verb.b": json.RawMessage(`{"b":1}`),
	}}
	executor := NewExecutor(4)
	results := executor.Execute(context.Background(), plan, caller, func(id string) (string, bool) { return "http://x", true }, func(c Chunk) {})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, CallCompleted, r.Status)
	}
}

func TestExecutor_SkipsDependentsOfFailedCall(t *testing.T) {
	reg := newFakeRegistry()
	reg.addAgent("a", "http://a", registry.HealthHealthy, "verb.a")
	reg.addAgent("b", "http://b", registry.HealthHealthy, "verb.b")
	planner := NewPlanner(reg)

	plan, err := planner.Plan("intent", []PlanRequest{
		{Verb: "verb.a", Required: true},
		{Verb: "verb.b", Required: false, DependsOn: []string{"verb.a"}},
	})
	require.NoError(t, err)

	caller := &fakeCaller{errs: map[string]error{"verb.a": assertError("boom")}}
	executor := NewExecutor(4)
	results := executor.Execute(context.Background(), plan, caller, func(id string) (string, bool) { return "http://x", true }, func(c Chunk) {})

	byID := map[string]ExecutionResult{}
	for _, r := range results {
		byID[r.CallID] = r
	}
	aID, bID := plan.Calls[0].ID, plan.Calls[1].ID
	assert.Equal(t, CallFailed, byID[aID].Status)
	assert.Equal(t, CallSkippedDependency, byID[bID].Status)
}

func TestExecutor_FailsCallWhenAgentNoLongerResolvable(t *testing.T) {
	reg := newFakeRegistry()
	reg.addAgent("a", "http://a", registry.HealthHealthy, "verb.a")
	planner := NewPlanner(reg)

	plan, err := planner.Plan("intent", []PlanRequest{{Verb: "verb.a", Required: true}})
	require.NoError(t, err)

	caller := &fakeCaller{}
	executor := NewExecutor(4)
	results := executor.Execute(context.Background(), plan, caller, func(id string) (string, bool) { return "", false }, func(c Chunk) {})

	require.Len(t, results, 1)
	assert.Equal(t, CallFailed, results[0].Status)
}

func TestExecutor_MarksCallTimeoutDistinctFromGenericFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.addAgent("a", "http://a", registry.HealthHealthy, "verb.a")
	planner := NewPlanner(reg)

	plan, err := planner.Plan("intent", []PlanRequest{{Verb: "verb.a", Required: true}})
	require.NoError(t, err)
	plan.Calls[0].TimeoutMS = 1

	executor := NewExecutor(4)
	results := executor.Execute(context.Background(), plan, timeoutCaller{}, func(id string) (string, bool) { return "http://x", true }, func(c Chunk) {})

	require.Len(t, results, 1)
	assert.Equal(t, CallTimeout, results[0].Status)
}

func TestExecutor_EmitsStartAndCompleteChunksPerCall(t *testing.T) {
	reg := newFakeRegistry()
	reg.addAgent("a", "http://a", registry.HealthHealthy, "verb.a")
	planner := NewPlanner(reg)
	plan, err := planner.Plan("intent", []PlanRequest{{Verb: "verb.a", Required: true}})
	require.NoError(t, err)

	caller := &fakeCaller{responses: map[string]json.RawMessage{"verb.a": json.RawMessage(`{}`)}}
	executor := NewExecutor(4)
	var types []ChunkType
	executor.Execute(context.Background(), plan, caller, func(id string) (string, bool) { return "http://x", true }, func(c Chunk) { types = append(types, c.Type) })

	assert.Equal(t, []ChunkType{ChunkAgentCallStart, ChunkAgentCallComplete}, types)
}
