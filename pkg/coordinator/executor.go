package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kenny-fabric/kenny/pkg/metrics"
)

// defaultFanOut and defaultCallTimeout are spec.md §4.3 "Executor" defaults.
const (
	defaultFanOut      = 8
	defaultCallTimeout = 30 * time.Second
)

// AgentCaller issues one capability call against an agent's base URL. The
// default implementation posts JSON to {baseURL}/capabilities/{verb},
// matching pkg/agentbase's QueryAgent wire shape so a PlanCall and a
// QueryAgent call hit the same HTTP contract.
type AgentCaller interface {
	Call(ctx context.Context, baseURL, verb string, params map[string]any) (json.RawMessage, error)
}

// HTTPAgentCaller is the production AgentCaller.
type HTTPAgentCaller struct {
	client *http.Client
}

// NewHTTPAgentCaller builds an HTTPAgentCaller with the given client (a nil
// client falls back to http.DefaultClient).
func NewHTTPAgentCaller(client *http.Client) *HTTPAgentCaller {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAgentCaller{client: client}
}

func (c *HTTPAgentCaller) Call(ctx context.Context, baseURL, verb string, params map[string]any) (json.RawMessage, error) {
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

	resp, err := c.client.Do(req)
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

// Executor is the Coordinator's third pipeline node (spec.md §4.3
// "Executor"): topologically walks the Plan, dispatching ready calls
// concurrently up to a bounded fan-out. Modeled on the teacher's
// SubAgentRunner (pkg/agent/orchestrator/runner.go): a semaphore guards
// concurrent dispatch the same way SubAgentRunner reserves a concurrency
// slot before starting a goroutine, generalized from "reserve then spawn
// one sub-agent" to "reserve then spawn one plan-call goroutine".
type Executor struct {
	fanOut int
}

// NewExecutor builds an Executor with the given fan-out bound (0 uses the
// spec default of 8).
func NewExecutor(fanOut int) *Executor {
	if fanOut <= 0 {
		fanOut = defaultFanOut
	}
	return &Executor{fanOut: fanOut}
}

// Execute walks plan.Calls to completion, invoking caller for each
// dispatched call and emit for every agent_call_start/agent_call_complete
// chunk. resolve maps a PlanCall's agent_id to its current base URL.
func (e *Executor) Execute(ctx context.Context, plan *Plan, caller AgentCaller, resolve func(agentID string) (string, bool), emit func(Chunk)) []ExecutionResult {
	byID := make(map[string]*PlanCall, len(plan.Calls))
	for _, c := range plan.Calls {
		byID[c.ID] = c
	}

	var mu sync.Mutex
	results := make(map[string]ExecutionResult, len(plan.Calls))
	done := make(map[string]bool, len(plan.Calls))

	sem := make(chan struct{}, e.fanOut)
	var wg sync.WaitGroup

	remaining := len(plan.Calls)
	for remaining > 0 {
		ready := make([]*PlanCall, 0)
		skipped := make([]*PlanCall, 0)

		mu.Lock()
		for _, c := range plan.Calls {
			if done[c.ID] {
				continue
			}
			depFailed := false
			depsMet := true
			for _, depID := range c.DependsOn {
				if !done[depID] {
					depsMet = false
					break
				}
				if res, ok := results[depID]; ok && res.Status != CallCompleted {
					depFailed = true
				}
			}
			if !depsMet {
				continue
			}
			if depFailed {
				skipped = append(skipped, c)
				continue
			}
			ready = append(ready, c)
		}
		mu.Unlock()

		if len(ready) == 0 && len(skipped) == 0 {
			break // cycle or unresolved state; stop to avoid an infinite loop
		}

		for _, c := range skipped {
			c.Status = CallSkippedDependency
			mu.Lock()
			done[c.ID] = true
			results[c.ID] = ExecutionResult{CallID: c.ID, Status: CallSkippedDependency}
			remaining--
			mu.Unlock()
		}

		for _, c := range ready {
			c := c
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				result := e.runOne(ctx, c, caller, resolve, emit)
				mu.Lock()
				c.Status = result.Status
				done[c.ID] = true
				results[c.ID] = result
				remaining--
				mu.Unlock()
			}()
		}
		wg.Wait()
	}

	out := make([]ExecutionResult, 0, len(plan.Calls))
	for _, c := range plan.Calls {
		if r, ok := results[c.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (e *Executor) runOne(ctx context.Context, c *PlanCall, caller AgentCaller, resolve func(agentID string) (string, bool), emit func(Chunk)) ExecutionResult {
	emit(Chunk{Type: ChunkAgentCallStart, At: time.Now(), CallID: c.ID})
	start := time.Now()

	baseURL, ok := resolve(c.AgentID)
	if !ok {
		result := ExecutionResult{CallID: c.ID, Status: CallFailed, Error: fmt.Sprintf("agent %q no longer resolvable", c.AgentID)}
		emit(Chunk{Type: ChunkAgentCallComplete, At: time.Now(), CallID: c.ID, Result: &result})
		return result
	}

	timeout := defaultCallTimeout
	if c.TimeoutMS > 0 {
		timeout = time.Duration(c.TimeoutMS) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := caller.Call(callCtx, baseURL, c.Verb, c.Params)
	result := ExecutionResult{CallID: c.ID, DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			result.Status = CallTimeout
		} else {
			result.Status = CallFailed
		}
		result.Error = err.Error()
	} else {
		result.Status = CallCompleted
		result.Value = value
	}
	metrics.CapabilityCallsTotal.WithLabelValues(c.Verb, string(result.Status)).Inc()
	emit(Chunk{Type: ChunkAgentCallComplete, At: time.Now(), CallID: c.ID, Result: &result})
	return result
}
