package agentbase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileInputSchema compiles a capability's input schema on demand, the
// way pkg/firewall (the intelligent-agent reference in the pack) registers
// one compiler resource per tool rather than sharing a single compiled
// schema across verbs.
func compileInputSchema(verb string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "https://kenny.local/capabilities/" + verb + ".schema.json"
	if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("load schema for %q: %w", verb, err)
	}
	return c.Compile(url)
}

// InterpretRequest is what an intelligent_service agent hands its LLM
// backend: the caller's free-text query plus the agent's own capability
// catalog, so the model can only ever pick a verb the agent actually
// implements.
type InterpretRequest struct {
	Query        string
	Capabilities []CapabilityCatalogEntry
}

// CapabilityCatalogEntry is one tool the LLM may select, derived from the
// agent's manifest.
type CapabilityCatalogEntry struct {
	Verb             string
	Description      string
	ParametersSchema json.RawMessage
}

// InterpretResult is the LLM's structured verb selection (spec.md §4.2
// "Query(natural_language) -> routes internally").
type InterpretResult struct {
	Verb       string
	Parameters map[string]any
	Confidence float64
	Reasoning  string
}

// LLMClient is the narrow surface Base needs from an LLM backend: turn a
// natural-language query plus a capability catalog into a single structured
// tool call. Concrete backends (anthropic.go) adapt a full chat API down to
// this one call.
type LLMClient interface {
	Interpret(ctx context.Context, req InterpretRequest) (InterpretResult, error)
}

// Query is the intelligent_service entry point (spec.md §4.2): interpret
// free text into a capability call, re-asking the LLM once if its chosen
// parameters fail the capability's own input schema, then falling back to a
// rule-based keyword classifier if the LLM is unavailable or still wrong.
// The returned ConfidenceResult carries the dispatched handler's own
// confidence/fallback fields straight through; falling back to the keyword
// classifier does not, by itself, change the handler's reported confidence.
func (b *Base) Query(ctx context.Context, query string) (ConfidenceResult, error) {
	catalog := b.catalog()

	if b.llm != nil {
		result, err := b.interpretWithRetry(ctx, query, catalog)
		if err == nil {
			return b.HandleCapability(ctx, result.Verb, result.Parameters)
		}
		b.logger.Warn("agentbase: LLM interpretation failed, falling back to keyword classifier", "query", query, "error", err)
	}

	verb, params, ok := classifyByKeyword(query, catalog)
	if !ok {
		return ConfidenceResult{}, fmt.Errorf("agentbase: could not interpret query %q against any known capability", query)
	}
	return b.HandleCapability(ctx, verb, params)
}

func (b *Base) interpretWithRetry(ctx context.Context, query string, catalog []CapabilityCatalogEntry) (InterpretResult, error) {
	req := InterpretRequest{Query: query, Capabilities: catalog}

	result, err := b.llm.Interpret(ctx, req)
	if err == nil {
		if verr := b.validateInterpretation(result); verr == nil {
			return result, nil
		} else {
			err = verr
		}
	}

	req.Query = query + "\n\n(Previous attempt produced invalid parameters: " + err.Error() + ". Reconsider the verb and parameters.)"
	result, err = b.llm.Interpret(ctx, req)
	if err != nil {
		return InterpretResult{}, err
	}
	if verr := b.validateInterpretation(result); verr != nil {
		return InterpretResult{}, verr
	}
	return result, nil
}

func (b *Base) validateInterpretation(result InterpretResult) error {
	descriptor, ok := b.capability(result.Verb)
	if !ok {
		return fmt.Errorf("LLM selected unknown verb %q", result.Verb)
	}

	schema, err := compileInputSchema(result.Verb, descriptor.InputSchema)
	if err != nil {
		return fmt.Errorf("capability %q input schema failed to compile: %w", result.Verb, err)
	}
	if err := schema.Validate(result.Parameters); err != nil {
		return fmt.Errorf("parameters for %q fail input schema: %w", result.Verb, err)
	}
	return nil
}

func (b *Base) catalog() []CapabilityCatalogEntry {
	entries := make([]CapabilityCatalogEntry, 0, len(b.Manifest.Capabilities))
	for _, c := range b.Manifest.Capabilities {
		entries = append(entries, CapabilityCatalogEntry{Verb: c.Verb, Description: c.Description, ParametersSchema: c.InputSchema})
	}
	return entries
}

// classifyByKeyword is the deterministic fallback used when no LLM backend
// is configured or both LLM attempts failed: it matches the query against
// each capability's verb and description words, picking the capability with
// the most overlapping terms. No parameters are inferred; handlers that
// need them should rely on the LLM path.
func classifyByKeyword(query string, catalog []CapabilityCatalogEntry) (verb string, params map[string]any, ok bool) {
	words := strings.Fields(strings.ToLower(query))
	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[strings.Trim(w, ".,!?;:")] = true
	}

	bestScore := 0
	bestVerb := ""
	for _, c := range catalog {
		score := 0
		for _, term := range strings.FieldsFunc(strings.ToLower(c.Verb+" "+c.Description), func(r rune) bool {
			return r == '.' || r == '_' || r == ' ' || r == '-'
		}) {
			if wordSet[term] {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestVerb = c.Verb
		}
	}
	if bestVerb == "" {
		return "", nil, false
	}
	return bestVerb, map[string]any{}, true
}
