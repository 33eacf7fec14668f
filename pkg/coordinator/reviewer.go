package coordinator

import (
	"fmt"

	"github.com/kenny-fabric/kenny/pkg/manifest"
)

// EgressChecker reports whether a call's owning agent's declared egress
// domains are still within the registry allowlist at review time (a second
// check beyond Register-time validation, since the allowlist can change
// during a long-running Plan).
type EgressChecker interface {
	IsCompliant(agentID string) bool
}

// ApprovalStore records and queries whether a write requiring approval has
// been granted for a given Plan.
type ApprovalStore interface {
	HasApproval(planID string) bool
}

// Reviewer is the Coordinator's fourth pipeline node (spec.md §4.3
// "Reviewer"): evaluates the aggregate of a Plan's results against policy.
type Reviewer struct {
	egress    EgressChecker
	approvals ApprovalStore
}

// NewReviewer builds a Reviewer. Either dependency may be nil, in which
// case that check always passes (used by agents with no egress-sensitive
// or approval-gated capabilities).
func NewReviewer(egress EgressChecker, approvals ApprovalStore) *Reviewer {
	return &Reviewer{egress: egress, approvals: approvals}
}

// Review evaluates plan against policy, marking individual calls
// blocked_by_policy where egress or approval requirements are unmet.
func (rv *Reviewer) Review(plan *Plan, results []ExecutionResult) ReviewReport {
	report := ReviewReport{ApprovalsGathered: true, EgressCompliant: true}

	if plan.ApprovalRequired && rv.approvals != nil && !rv.approvals.HasApproval(plan.ID) {
		report.ApprovalsGathered = false
		report.Warnings = append(report.Warnings, "plan requires approval for a write_requires_approval capability; none recorded")
	}

	resultByID := make(map[string]*ExecutionResult, len(results))
	for i := range results {
		resultByID[results[i].CallID] = &results[i]
	}

	for _, call := range plan.Calls {
		if rv.egress != nil && hasAnnotation(call.Safety, manifest.SafetyNoEgress) && !rv.egress.IsCompliant(call.AgentID) {
			report.EgressCompliant = false
			report.BlockedCallIDs = append(report.BlockedCallIDs, call.ID)
			if res, ok := resultByID[call.ID]; ok {
				res.Status = CallBlockedByPolicy
			}
			report.Warnings = append(report.Warnings, fmt.Sprintf("call %q blocked: agent %q violates declared no_egress policy", call.ID, call.AgentID))
		}
	}

	if !report.ApprovalsGathered {
		for _, call := range plan.Calls {
			if hasAnnotation(call.Safety, manifest.SafetyWriteRequiresApproval) {
				report.BlockedCallIDs = append(report.BlockedCallIDs, call.ID)
				if res, ok := resultByID[call.ID]; ok {
					res.Status = CallBlockedByPolicy
				}
			}
		}
	}

	return report
}

func hasAnnotation(anns []manifest.SafetyAnnotation, target manifest.SafetyAnnotation) bool {
	for _, a := range anns {
		if a == target {
			return true
		}
	}
	return false
}
