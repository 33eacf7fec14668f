package gateway

import (
	"context"
	"strings"
	"sync"
	"time"
)

// classificationCacheTTL is spec.md §4.4's "cache classification results for
// identical utterances with a short TTL (≤60s)".
const classificationCacheTTL = 60 * time.Second

// directRouteConfidenceThreshold is the rule-threshold spec.md §4.4 gates
// direct routing on: "maps to a single registered capability with high
// confidence (≥ rule-threshold)". Rule-table hits always return 1.0;
// LLM-classified verbs must clear this bar to bypass the Coordinator.
const directRouteConfidenceThreshold = 0.85

// RuleEntry is one short-circuit rule in the Gateway's own classifier,
// distinct from the Coordinator's: a Gateway RuleEntry resolves straight to
// a concrete capability verb, since a direct route has nothing left to
// plan.
type RuleEntry struct {
	Verb     string
	Keywords []string
}

// LLMVerbClassifier is the LLM fallback used when no rule matches.
type LLMVerbClassifier interface {
	ClassifyVerb(ctx context.Context, utterance string, knownVerbs []string) (verb string, confidence float64, err error)
}

type cachedClassification struct {
	result   Classification
	cachedAt time.Time
}

// Classifier implements the Gateway's "classifies the request the same way
// an agent's own NL layer does (rules → LLM fallback)" decision
// (spec.md §4.4), with a short-TTL memo over identical utterances.
type Classifier struct {
	rules []RuleEntry
	llm   LLMVerbClassifier

	mu    sync.Mutex
	cache map[string]cachedClassification
}

// NewClassifier builds a Classifier. llm may be nil, in which case
// non-rule-matching utterances classify as empty (forcing Coordinator
// routing).
func NewClassifier(rules []RuleEntry, llm LLMVerbClassifier) *Classifier {
	return &Classifier{rules: rules, llm: llm, cache: make(map[string]cachedClassification)}
}

// Classify returns the Gateway's intent decision for utterance, using the
// short-TTL cache before consulting rules or the LLM.
func (c *Classifier) Classify(ctx context.Context, utterance string, knownVerbs []string) Classification {
	key := strings.ToLower(strings.TrimSpace(utterance))

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok && time.Since(cached.cachedAt) < classificationCacheTTL {
		c.mu.Unlock()
		return cached.result
	}
	c.mu.Unlock()

	result := c.classify(ctx, key, knownVerbs)

	c.mu.Lock()
	c.cache[key] = cachedClassification{result: result, cachedAt: time.Now()}
	c.mu.Unlock()

	return result
}

func (c *Classifier) classify(ctx context.Context, lowerUtterance string, knownVerbs []string) Classification {
	for _, rule := range c.rules {
		if containsAll(lowerUtterance, rule.Keywords) {
			return Classification{Verb: rule.Verb, Confidence: 1.0}
		}
	}
	if c.llm != nil {
		verb, confidence, err := c.llm.ClassifyVerb(ctx, lowerUtterance, knownVerbs)
		if err == nil && verb != "" {
			return Classification{Verb: verb, Confidence: confidence}
		}
	}
	return Classification{}
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
