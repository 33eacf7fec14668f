package coordinator

import (
	"context"
	"fmt"
)

// DecompositionEntry statically maps one RouteResult.IntentLabel to the
// PlanRequests that should make up its Plan. Params are filled in verbatim
// (a real deployment would extract them from the utterance via the same NL
// layer the Router's LLM fallback uses); this mirrors RuleEntry's
// "keyword table as the fast path" shape one pipeline stage over.
type DecompositionEntry struct {
	IntentLabel string
	Requests    []PlanRequest
}

// RuleClassifier is the default, non-LLM Classifier: a static table from
// intent label to the capability calls that satisfy it, generalized from
// Router's rule-table-first idiom.
type RuleClassifier struct {
	table map[string][]PlanRequest
}

// NewRuleClassifier builds a RuleClassifier from a decomposition table.
func NewRuleClassifier(entries []DecompositionEntry) *RuleClassifier {
	table := make(map[string][]PlanRequest, len(entries))
	for _, e := range entries {
		table[e.IntentLabel] = e.Requests
	}
	return &RuleClassifier{table: table}
}

// Decompose looks up the routed intent label in the static table. An
// unrecognized label (including "unknown") returns an error, which the
// Coordinator surfaces as a failed chunk rather than guessing.
func (c *RuleClassifier) Decompose(ctx context.Context, route RouteResult, utterance string) ([]PlanRequest, error) {
	requests, ok := c.table[route.IntentLabel]
	if !ok {
		return nil, fmt.Errorf("no capability decomposition registered for intent %q", route.IntentLabel)
	}
	return requests, nil
}
