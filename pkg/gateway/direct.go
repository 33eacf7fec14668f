package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// DirectCaller invokes a capability directly on its owning agent, bypassing
// the Coordinator. Same wire contract as pkg/coordinator's HTTPAgentCaller
// and pkg/agentbase's callCapability: POST {baseURL}/capabilities/{verb}.
type DirectCaller struct {
	client *http.Client
}

// NewDirectCaller builds a DirectCaller. A nil client falls back to
// http.DefaultClient.
func NewDirectCaller(client *http.Client) *DirectCaller {
	if client == nil {
		client = http.DefaultClient
	}
	return &DirectCaller{client: client}
}

// Call posts params to the agent's capability endpoint and returns its raw
// JSON result.
func (d *DirectCaller) Call(ctx context.Context, baseURL, verb string, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	endpoint, err := url.JoinPath(baseURL, "capabilities", verb)
	if err != nil {
		return nil, fmt.Errorf("build endpoint: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("agent returned status %d for %q", resp.StatusCode, verb)
	}
	var value json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&value); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return value, nil
}
