package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenny-fabric/kenny/pkg/registry"
)

func TestCoordinator_ProcessStream_EmitsChunksInOrderAndClosesOnFinalResult(t *testing.T) {
	reg := newFakeRegistry()
	reg.addAgent("mail-agent", "http://mail", registry.HealthHealthy, "mail.search")

	router := NewRouter([]RuleEntry{{IntentLabel: "search_mail", Keywords: []string{"mail"}, Strategy: StrategySingle}}, nil, reg)
	planner := NewPlanner(reg)
	executor := NewExecutor(4)
	reviewer := NewReviewer(nil, nil)
	classifier := staticClassifier{requests: []PlanRequest{{Verb: "mail.search", Required: true}}}

	co := New(router, classifier, planner, executor, reviewer, reg)
	caller := &fakeCaller{responses: map[string]json.RawMessage{"mail.search": json.RawMessage(`{"ok":true}`)}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var seen []ChunkType
	for chunk := range co.ProcessStream(ctx, "search my mail", caller) {
		seen = append(seen, chunk.Type)
	}

	require.NotEmpty(t, seen)
	assert.Equal(t, ChunkRouterStart, seen[0])
	assert.Equal(t, ChunkFinalResult, seen[len(seen)-1], "final_result must be strictly last")
	assert.Contains(t, seen, ChunkPlannerDone)
	assert.Contains(t, seen, ChunkReviewerDone)
}

func TestCoordinator_ProcessStream_FailsWhenClassifierReturnsNoRequests(t *testing.T) {
	reg := newFakeRegistry()
	router := NewRouter(nil, nil, reg)
	planner := NewPlanner(reg)
	executor := NewExecutor(4)
	reviewer := NewReviewer(nil, nil)
	classifier := staticClassifier{requests: nil}

	co := New(router, classifier, planner, executor, reviewer, reg)
	caller := &fakeCaller{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var last Chunk
	for chunk := range co.ProcessStream(ctx, "do something unresolvable", caller) {
		last = chunk
	}
	assert.Equal(t, ChunkFailed, last.Type)
}

func TestCoordinator_ProcessStream_RejectsRequestsBeyondMaxInFlightPlans(t *testing.T) {
	reg := newFakeRegistry()
	reg.addAgent("mail-agent", "http://mail", registry.HealthHealthy, "mail.search")

	router := NewRouter([]RuleEntry{{IntentLabel: "search_mail", Keywords: []string{"mail"}, Strategy: StrategySingle}}, nil, reg)
	planner := NewPlanner(reg)
	executor := NewExecutor(4)
	reviewer := NewReviewer(nil, nil)
	classifier := staticClassifier{requests: []PlanRequest{{Verb: "mail.search", Required: true}}}

	co := New(router, classifier, planner, executor, reviewer, reg)
	// Fill every in-flight slot directly rather than racing maxInFlightPlans
	// real pipeline runs to saturation.
	for i := 0; i < maxInFlightPlans; i++ {
		co.inFlight <- struct{}{}
	}
	defer func() {
		for i := 0; i < maxInFlightPlans; i++ {
			<-co.inFlight
		}
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var last Chunk
	wg.Add(1)
	go func() {
		defer wg.Done()
		for chunk := range co.ProcessStream(context.Background(), "search my mail", &fakeCaller{}) {
			mu.Lock()
			last = chunk
			mu.Unlock()
		}
	}()
	wg.Wait()

	assert.Equal(t, ChunkFailed, last.Type)
	assert.Contains(t, last.FailureReason, "overloaded")
}

func TestCanTransition_ForwardOnlyAndFailureFromAnyNonTerminalState(t *testing.T) {
	assert.True(t, CanTransition(StateReceived, StateRouted))
	assert.False(t, CanTransition(StateReceived, StatePlanned))
	assert.True(t, CanTransition(StateExecuting, StateFailed))
	assert.False(t, CanTransition(StateDone, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateFailed))
}
