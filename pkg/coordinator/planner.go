package coordinator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kenny-fabric/kenny/pkg/manifest"
	"github.com/kenny-fabric/kenny/pkg/registry"
)

// PlanRequest is one capability need the caller wants composed into a Plan.
// A caller building a multi-step request supplies one PlanRequest per
// capability, with DependsOn referencing another request's Verb.
type PlanRequest struct {
	Verb      string
	Params    map[string]any
	DependsOn []string
	Required  bool
}

// Planner is the Coordinator's second pipeline node (spec.md §4.3
// "Planner"): resolves each requested verb against the Registry's
// capability catalog and emits a validated Plan DAG.
type Planner struct {
	registry RegistryView
}

// NewPlanner builds a Planner over the given registry view.
func NewPlanner(reg RegistryView) *Planner {
	return &Planner{registry: reg}
}

// Plan builds a Plan DAG for the given intent from the requested
// capability calls, choosing a strategy per spec.md §4.3's decision table
// and validating every emitted call.
func (p *Planner) Plan(intentLabel string, requests []PlanRequest) (*Plan, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("planner: no capability requests for intent %q", intentLabel)
	}
	if len(requests) > maxPlanCalls {
		return nil, fmt.Errorf("planner: %d calls exceeds max plan size %d", len(requests), maxPlanCalls)
	}

	verbToID := make(map[string]string, len(requests))
	calls := make([]*PlanCall, 0, len(requests))

	for _, req := range requests {
		candidates := p.registry.LookupCapability(req.Verb)
		var chosen *registry.CapabilityRef
		for i := range candidates {
			if rec, ok := p.registry.GetAgent(candidates[i].AgentID); ok &&
				(rec.HealthStatus == registry.HealthHealthy || rec.HealthStatus == registry.HealthDegraded) {
				chosen = &candidates[i]
				break
			}
		}
		if chosen == nil {
			return nil, fmt.Errorf("planner: no healthy-or-degraded agent advertises capability %q", req.Verb)
		}

		callID := uuid.NewString()
		verbToID[req.Verb] = callID
		calls = append(calls, &PlanCall{
			ID:       callID,
			AgentID:  chosen.AgentID,
			Verb:     req.Verb,
			Params:   req.Params,
			Required: req.Required,
			Safety:   chosen.SafetyAnnotations,
			Status:   CallPending,
		})
	}

	approvalRequired := false
	for i, req := range requests {
		call := calls[i]
		for _, dep := range req.DependsOn {
			depID, ok := verbToID[dep]
			if !ok {
				return nil, fmt.Errorf("planner: call %q depends on unknown verb %q", req.Verb, dep)
			}
			call.DependsOn = append(call.DependsOn, depID)
		}
		for _, ann := range call.Safety {
			if ann == manifest.SafetyWriteRequiresApproval {
				approvalRequired = true
			}
		}
	}

	if depth := maxDependencyDepth(calls); depth > maxSequentialDepth {
		return nil, fmt.Errorf("planner: sequential depth %d exceeds max %d", depth, maxSequentialDepth)
	}

	strategy := classifyStrategy(calls)
	markParallelOK(calls, strategy)

	return &Plan{
		ID:               uuid.NewString(),
		IntentLabel:      intentLabel,
		Strategy:         strategy,
		Calls:            calls,
		ApprovalRequired: approvalRequired,
	}, nil
}

// classifyStrategy implements spec.md §4.3's decision table.
func classifyStrategy(calls []*PlanCall) Strategy {
	if len(calls) == 1 {
		return StrategySingle
	}
	hasDeps := false
	for _, c := range calls {
		if len(c.DependsOn) > 0 {
			hasDeps = true
			break
		}
	}
	switch {
	case !hasDeps:
		return StrategyParallel
	case isLinearChain(calls):
		return StrategySequential
	default:
		return StrategyMixed
	}
}

// isLinearChain reports whether calls form a single dependency chain: every
// call depends on at most one other call (no fan-in), no call is depended on
// by more than one other call (no fan-out), and the chain's depth spans
// every call (no disconnected parallel branch sitting alongside it). A
// chain's root always has an empty DependsOn, so "every call has a
// dependency" is never the right test for "sequential".
func isLinearChain(calls []*PlanCall) bool {
	inDegree := make(map[string]int, len(calls))
	for _, c := range calls {
		if len(c.DependsOn) > 1 {
			return false
		}
		for _, dep := range c.DependsOn {
			inDegree[dep]++
		}
	}
	for _, n := range inDegree {
		if n > 1 {
			return false
		}
	}
	return maxDependencyDepth(calls) == len(calls)
}

// markParallelOK flags calls the Executor may dispatch concurrently: any
// call with no unmet dependency, when the overall strategy isn't strictly
// single.
func markParallelOK(calls []*PlanCall, strategy Strategy) {
	if strategy == StrategySingle {
		return
	}
	for _, c := range calls {
		if len(c.DependsOn) == 0 {
			c.ParallelOK = true
		}
	}
}

// maxDependencyDepth computes the longest dependency chain length in calls.
func maxDependencyDepth(calls []*PlanCall) int {
	byID := make(map[string]*PlanCall, len(calls))
	for _, c := range calls {
		byID[c.ID] = c
	}
	memo := make(map[string]int)
	var depth func(id string) int
	depth = func(id string) int {
		if d, ok := memo[id]; ok {
			return d
		}
		c, ok := byID[id]
		if !ok || len(c.DependsOn) == 0 {
			memo[id] = 1
			return 1
		}
		best := 0
		for _, dep := range c.DependsOn {
			if d := depth(dep); d > best {
				best = d
			}
		}
		memo[id] = best + 1
		return memo[id]
	}
	max := 0
	for _, c := range calls {
		if d := depth(c.ID); d > max {
			max = d
		}
	}
	return max
}
