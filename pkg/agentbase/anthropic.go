package agentbase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is the concrete LLMClient backend for an
// intelligent_service agent_type, wrapping a single forced tool-use call:
// every capability in the catalog becomes one tool, the model picks
// exactly one, and its JSON input carries both the capability's own
// parameters and the model's confidence/reasoning for that choice.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient builds an AnthropicClient from an API key. model
// defaults to Claude 3.5 Sonnet when empty.
func NewAnthropicClient(apiKey string, model anthropic.Model) *AnthropicClient {
	if model == "" {
		model = anthropic.ModelClaude3_5SonnetLatest
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// interpretToolInput is the envelope every synthesized per-capability tool
// requires the model to fill in: the capability's own parameters nested
// under "parameters", plus the model's self-reported confidence and
// reasoning for having picked this capability over the others offered.
type interpretToolInput struct {
	Parameters map[string]any `json:"parameters"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
}

func (c *AnthropicClient) Interpret(ctx context.Context, req InterpretRequest) (InterpretResult, error) {
	tools := make([]anthropic.ToolUnionParam, 0, len(req.Capabilities))
	for _, cap := range req.Capabilities {
		schema, err := wrapCapabilitySchema(cap.ParametersSchema)
		if err != nil {
			return InterpretResult{}, fmt.Errorf("interpret: build tool schema for %q: %w", cap.Verb, err)
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        cap.Verb,
				Description: anthropic.String(cap.Description),
				InputSchema: schema,
			},
		})
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Query)),
		},
		Tools:      tools,
		ToolChoice: anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}},
	})
	if err != nil {
		return InterpretResult{}, fmt.Errorf("interpret: anthropic call failed: %w", err)
	}

	for _, block := range message.Content {
		toolUse := block.AsToolUse()
		if toolUse.Name == "" {
			continue
		}
		var input interpretToolInput
		if err := json.Unmarshal(toolUse.Input, &input); err != nil {
			return InterpretResult{}, fmt.Errorf("interpret: decode tool input for %q: %w", toolUse.Name, err)
		}
		return InterpretResult{
			Verb:       toolUse.Name,
			Parameters: input.Parameters,
			Confidence: input.Confidence,
			Reasoning:  input.Reasoning,
		}, nil
	}
	return InterpretResult{}, fmt.Errorf("interpret: model returned no tool_use block")
}

// wrapCapabilitySchema nests a capability's declared input schema under a
// "parameters" property alongside the required confidence/reasoning
// fields, so the forced tool call both dispatches the capability and
// self-reports the model's confidence in one round trip.
func wrapCapabilitySchema(inner json.RawMessage) (anthropic.ToolInputSchemaParam, error) {
	var innerDoc any
	if len(inner) > 0 {
		if err := json.Unmarshal(inner, &innerDoc); err != nil {
			return anthropic.ToolInputSchemaParam{}, err
		}
	} else {
		innerDoc = map[string]any{"type": "object"}
	}

	wrapped := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"parameters": innerDoc,
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"reasoning":  map[string]any{"type": "string"},
		},
		"required": []string{"parameters", "confidence"},
	}
	return anthropic.ToolInputSchemaParam{ExtraFields: wrapped}, nil
}
