// Package coordinator implements the Coordinator (C3): the
// Router → Planner → Executor → Reviewer pipeline that decomposes a
// request into a Plan DAG and drives its execution, emitting a progressive
// stream of typed chunks (spec.md §4.3).
package coordinator

import (
	"encoding/json"
	"time"

	"github.com/kenny-fabric/kenny/pkg/manifest"
)

// Strategy is the Planner's emitted execution strategy for a Plan.
type Strategy string

const (
	StrategySingle     Strategy = "single"
	StrategyParallel   Strategy = "parallel"
	StrategySequential Strategy = "sequential"
	StrategyMixed      Strategy = "mixed"
)

// CallStatus is a PlanCall's lifecycle state during Executor walk, and the
// wire value of ExecutionResult.Status (spec.md §3's enum
// {ok, error, timeout, skipped_due_to_dep_failure, blocked_by_policy}).
// CallPending/CallRunning are in-process-only states a PlanCall passes
// through before the Executor settles it into one of the other four; they
// never appear on an ExecutionResult.
type CallStatus string

const (
	CallPending           CallStatus = "pending"
	CallRunning            CallStatus = "running"
	CallCompleted          CallStatus = "ok"
	CallFailed             CallStatus = "error"
	CallTimeout            CallStatus = "timeout"
	CallSkippedDependency  CallStatus = "skipped_due_to_dep_failure"
	CallBlockedByPolicy    CallStatus = "blocked_by_policy"
)

// PlanCall is one node of the Plan DAG: a single capability invocation.
type PlanCall struct {
	ID           string             `json:"id"`
	AgentID      string             `json:"agent_id"`
	Verb         string             `json:"verb"`
	Params       map[string]any     `json:"params"`
	DependsOn    []string           `json:"depends_on,omitempty"`
	Required     bool               `json:"required"`
	TimeoutMS    int                `json:"timeout_ms"`
	ParallelOK   bool               `json:"parallel_ok"`
	Safety       []manifest.SafetyAnnotation `json:"safety_annotations,omitempty"`

	Status CallStatus      `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Plan is the Planner's output: a DAG of PlanCalls plus the strategy that
// produced it (spec.md §4.3 "Planner").
type Plan struct {
	ID               string     `json:"id"`
	IntentLabel      string     `json:"intent_label"`
	Strategy         Strategy   `json:"strategy"`
	Calls            []*PlanCall `json:"calls"`
	ApprovalRequired bool       `json:"approval_required"`
}

// maxPlanCalls and maxSequentialDepth are the Planner's size bounds
// (spec.md §4.3 "total plan size bounded").
const (
	maxPlanCalls       = 16
	maxSequentialDepth = 4
)

// ExecutionResult is the Executor's interpretation of one PlanCall's
// response (spec.md §3).
type ExecutionResult struct {
	CallID     string          `json:"call_id"`
	Status     CallStatus      `json:"status"`
	Value      json.RawMessage `json:"value,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// State is the per-request state machine (spec.md §4.3 "State machine").
type State string

const (
	StateReceived  State = "received"
	StateRouted    State = "routed"
	StatePlanned   State = "planned"
	StateExecuting State = "executing"
	StateReviewing State = "reviewing"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// forwardTransitions enumerates the only allowed non-failure transitions;
// failed is reachable from any non-terminal state (checked separately).
var forwardTransitions = map[State]State{
	StateReceived:  StateRouted,
	StateRouted:    StatePlanned,
	StatePlanned:   StateExecuting,
	StateExecuting: StateReviewing,
	StateReviewing: StateDone,
}

// CanTransition reports whether to is a legal next state from from.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateDone && from != StateFailed
	}
	return forwardTransitions[from] == to
}

// ChunkType identifies the kind of a progressive stream chunk
// (spec.md §4.3 "emitting a progressive stream of typed chunks").
type ChunkType string

const (
	ChunkRouterStart      ChunkType = "router_start"
	ChunkRouterDone       ChunkType = "router_done"
	ChunkPlannerStart     ChunkType = "planner_start"
	ChunkPlannerDone      ChunkType = "planner_done"
	ChunkAgentCallStart   ChunkType = "agent_call_start"
	ChunkAgentCallComplete ChunkType = "agent_call_complete"
	ChunkReviewerDone     ChunkType = "reviewer_done"
	ChunkFinalResult      ChunkType = "final_result"
	ChunkFailed           ChunkType = "failed"
)

// Chunk is one element of the ProcessStream sequence.
type Chunk struct {
	Type      ChunkType `json:"type"`
	At        time.Time `json:"at"`
	CallID    string    `json:"call_id,omitempty"`
	RouteInfo *RouteResult `json:"route,omitempty"`
	Plan      *Plan     `json:"plan,omitempty"`
	Result    *ExecutionResult `json:"result,omitempty"`
	Review    *ReviewReport    `json:"review,omitempty"`
	Final     *FinalResult     `json:"final,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// RouteResult is the Router's output (spec.md §4.3 "Router").
type RouteResult struct {
	IntentLabel       string   `json:"intent_label"`
	Confidence        float64  `json:"confidence"`
	SuggestedStrategy Strategy `json:"suggested_strategy"`
}

// ReviewReport is the Reviewer's output (spec.md §4.3 "Reviewer").
type ReviewReport struct {
	ApprovalsGathered  bool     `json:"approvals_gathered"`
	EgressCompliant    bool     `json:"egress_compliant"`
	BlockedCallIDs     []string `json:"blocked_call_ids,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

// FinalResult bundles the aggregate outcome of a ProcessStream run.
type FinalResult struct {
	PlanID  string            `json:"plan_id"`
	Results []ExecutionResult `json:"results"`
	Review  ReviewReport      `json:"review"`
}
