package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kenny-fabric/kenny/pkg/metrics"
)

// maxInFlightPlans is spec.md §4.3/§4.4's Coordinator back-pressure bound:
// "Coordinator bounds concurrent Plans (default 64)".
const maxInFlightPlans = 64

// Classifier turns a routed intent into the set of capability calls a Plan
// should be built from. A real deployment's Classifier is typically the
// same LLM/rule layer the Router uses, re-run with a prompt that asks for
// a capability decomposition rather than a single label; it is injected
// here so Coordinator stays decoupled from any one NL strategy.
type Classifier interface {
	Decompose(ctx context.Context, route RouteResult, utterance string) ([]PlanRequest, error)
}

// Coordinator ties Router, Planner, Executor, and Reviewer into the
// four-node pipeline of spec.md §4.3, enforcing the per-request state
// machine and emitting a progressive chunk stream.
type Coordinator struct {
	router     *Router
	classifier Classifier
	planner    *Planner
	executor   *Executor
	reviewer   *Reviewer
	registry   RegistryView

	inFlight chan struct{}
}

// New builds a Coordinator.
func New(router *Router, classifier Classifier, planner *Planner, executor *Executor, reviewer *Reviewer, reg RegistryView) *Coordinator {
	return &Coordinator{
		router:     router,
		classifier: classifier,
		planner:    planner,
		executor:   executor,
		reviewer:   reviewer,
		registry:   reg,
		inFlight:   make(chan struct{}, maxInFlightPlans),
	}
}

// ProcessStream runs the full pipeline for one utterance, returning a
// channel of chunks (spec.md §4.3 "Streaming contract"). The channel is
// closed after the final_result or failed chunk. Cancelling ctx terminates
// in-flight calls at their next suspension point and yields no further
// chunks.
func (c *Coordinator) ProcessStream(ctx context.Context, utterance string, caller AgentCaller) <-chan Chunk {
	out := make(chan Chunk, 16)

	select {
	case c.inFlight <- struct{}{}:
	default:
		go func() {
			out <- Chunk{Type: ChunkFailed, At: time.Now(), FailureReason: "overloaded: max concurrent plans exceeded"}
			close(out)
		}()
		return out
	}

	go func() {
		defer close(out)
		defer func() { <-c.inFlight }()
		c.run(ctx, utterance, caller, out)
	}()

	return out
}

func (c *Coordinator) run(ctx context.Context, utterance string, caller AgentCaller, out chan<- Chunk) {
	state := StateReceived

	// advance enforces the forward-only state machine (spec.md §4.3 "State
	// machine"): a transition this package's own pipeline logic never
	// issues out of order is a programming error, not a recoverable one.
	advance := func(to State) {
		if !CanTransition(state, to) {
			panic(fmt.Sprintf("coordinator: illegal state transition %s -> %s", state, to))
		}
		state = to
	}
	// emit drops every chunk once ctx is cancelled, and never blocks on a
	// reader that has gone away.
	emit := func(ch Chunk) {
		if ctx.Err() != nil {
			return
		}
		select {
		case out <- ch:
		case <-ctx.Done():
		}
	}
	fail := func(reason string) {
		advance(StateFailed)
		emit(Chunk{Type: ChunkFailed, At: time.Now(), FailureReason: reason})
	}

	emit(Chunk{Type: ChunkRouterStart, At: time.Now()})
	route := c.router.Route(ctx, utterance)
	advance(StateRouted)
	emit(Chunk{Type: ChunkRouterDone, At: time.Now(), RouteInfo: &route})

	var requests []PlanRequest
	if c.classifier != nil {
		decomposed, err := c.classifier.Decompose(ctx, route, utterance)
		if err != nil {
			fail(fmt.Sprintf("decomposition failed: %v", err))
			return
		}
		requests = decomposed
	}
	if len(requests) == 0 {
		fail("clarification needed: intent could not be decomposed into any capability call")
		return
	}

	emit(Chunk{Type: ChunkPlannerStart, At: time.Now()})
	plan, err := c.planner.Plan(route.IntentLabel, requests)
	if err != nil {
		fail(fmt.Sprintf("planning failed: %v", err))
		return
	}
	advance(StatePlanned)
	metrics.PlansProcessedTotal.WithLabelValues(string(plan.Strategy)).Inc()
	emit(Chunk{Type: ChunkPlannerDone, At: time.Now(), Plan: plan})

	advance(StateExecuting)
	results := c.executor.Execute(ctx, plan, caller, c.resolveAgent, emit)
	if ctx.Err() != nil {
		return // cancelled: the Reviewer is not invoked
	}

	advance(StateReviewing)
	report := c.reviewer.Review(plan, results)
	emit(Chunk{Type: ChunkReviewerDone, At: time.Now(), Review: &report})

	advance(StateDone)
	final := FinalResult{PlanID: plan.ID, Results: results, Review: report}
	emit(Chunk{Type: ChunkFinalResult, At: time.Now(), Final: &final})
}

func (c *Coordinator) resolveAgent(agentID string) (string, bool) {
	rec, ok := c.registry.GetAgent(agentID)
	if !ok {
		return "", false
	}
	return rec.BaseURL, true
}

// NewPlanID is exposed for callers (e.g. an approval workflow) that need to
// pre-allocate a plan id before Planner.Plan runs.
func NewPlanID() string {
	return uuid.NewString()
}
