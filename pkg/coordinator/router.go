package coordinator

import (
	"context"
	"strings"
)

// IntentClassifier is the LLM fallback used when the rule table produces no
// confident match (spec.md §4.3 "Router" — "LLM classifier next"). The
// prompt enumerating known intents is assembled by the caller from the
// Registry's capability catalog.
type IntentClassifier interface {
	Classify(ctx context.Context, utterance string, knownIntents []string) (intentLabel string, confidence float64, err error)
}

// RuleEntry is one short-circuit rule in the Router's rule table: an
// utterance containing all of Keywords (case-insensitive) resolves
// directly to IntentLabel without invoking the LLM classifier.
type RuleEntry struct {
	IntentLabel string
	Keywords    []string
	Strategy    Strategy
}

// Router is the Coordinator's first pipeline node (spec.md §4.3 "Router").
type Router struct {
	rules      []RuleEntry
	classifier IntentClassifier
	registry   RegistryView
}

// NewRouter builds a Router over a static rule table and an optional LLM
// classifier (nil disables the LLM fallback, going straight to "unknown").
func NewRouter(rules []RuleEntry, classifier IntentClassifier, reg RegistryView) *Router {
	return &Router{rules: rules, classifier: classifier, registry: reg}
}

// Route classifies a raw utterance into an intent. Rule table first,
// LLM classifier next, "unknown" if both fail (spec.md §4.3).
func (r *Router) Route(ctx context.Context, utterance string) RouteResult {
	lower := strings.ToLower(utterance)
	for _, rule := range r.rules {
		if containsAll(lower, rule.Keywords) {
			return RouteResult{IntentLabel: rule.IntentLabel, Confidence: 1.0, SuggestedStrategy: rule.Strategy}
		}
	}

	if r.classifier != nil {
		known := r.knownIntents()
		label, confidence, err := r.classifier.Classify(ctx, utterance, known)
		if err == nil && label != "" {
			return RouteResult{IntentLabel: label, Confidence: confidence, SuggestedStrategy: StrategySingle}
		}
	}

	return RouteResult{IntentLabel: "unknown", Confidence: 0, SuggestedStrategy: StrategySingle}
}

func (r *Router) knownIntents() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rule := range r.rules {
		if !seen[rule.IntentLabel] {
			seen[rule.IntentLabel] = true
			out = append(out, rule.IntentLabel)
		}
	}
	if r.registry != nil {
		for _, ref := range r.registry.ListCapabilities() {
			if !seen[ref.Verb] {
				seen[ref.Verb] = true
				out = append(out, ref.Verb)
			}
		}
	}
	return out
}

func containsAll(utterance string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	for _, kw := range keywords {
		if !strings.Contains(utterance, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}
