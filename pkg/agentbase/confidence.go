package agentbase

import (
	"context"
)

// executeWithConfidence runs the execute-with-confidence algorithm
// (spec.md §4.2): a handler's result is accepted once its confidence meets
// minConfidence; otherwise, or on a handler error, the fallback chain runs
// in order — (a) the same verb with broadened parameters, (b) a registered
// alternative capability on this agent, (c) the best result seen so far
// with FallbackUsed set. The chain always attempts (b)/(c) before
// surfacing a handler error; it never retries the unmodified call, since a
// deterministic handler would just fail or under-score again.
func (b *Base) executeWithConfidence(ctx context.Context, verb string, handler Handler, params map[string]any, minConfidence float64) (ConfidenceResult, error) {
	best, err := handler(ctx, params)
	if err == nil && best.Confidence >= minConfidence {
		return best, nil
	}

	haveResult := err == nil
	var lastErr error
	if err != nil {
		lastErr = err
	}

	if broaden, ok := b.broadeners[verb]; ok {
		broadened := broaden(params)
		result, berr := handler(ctx, broadened)
		if berr == nil {
			if result.Confidence >= minConfidence {
				return result, nil
			}
			if !haveResult || result.Confidence > best.Confidence {
				best, haveResult = result, true
			}
		} else {
			lastErr = berr
		}
	}

	for _, altVerb := range b.alternatives[verb] {
		altHandler, ok := b.handlers[altVerb]
		if !ok {
			continue
		}
		result, aerr := altHandler(ctx, params)
		if aerr != nil {
			lastErr = aerr
			break
		}
		if result.Confidence >= minConfidence {
			result.FallbackUsed = true
			result.FallbackReason = "served by alternative capability " + altVerb
			return result, nil
		}
		if !haveResult || result.Confidence > best.Confidence {
			best, haveResult = result, true
		}
		break // at most one alternative is executed
	}

	if haveResult {
		best.FallbackUsed = true
		if best.FallbackReason == "" {
			best.FallbackReason = "best-effort result below confidence threshold"
		}
		return best, nil
	}
	return ConfidenceResult{}, lastErr
}
