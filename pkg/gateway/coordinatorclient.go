package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kenny-fabric/kenny/pkg/coordinator"
)

// CoordinatorClient forwards a query to the Coordinator's HTTP surface
// (spec.md §6 "POST /process" / "POST /process-stream"), decoding its SSE
// chunk stream back into coordinator.Chunk values.
type CoordinatorClient struct {
	baseURL string
	client  *http.Client
}

// NewCoordinatorClient builds a CoordinatorClient. A nil client falls back
// to http.DefaultClient.
func NewCoordinatorClient(baseURL string, client *http.Client) *CoordinatorClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &CoordinatorClient{baseURL: baseURL, client: client}
}

// Process calls the Coordinator's synchronous endpoint and returns its
// final result directly, for callers (like the Gateway's own /query
// handler) that don't need the progressive stream.
func (c *CoordinatorClient) Process(ctx context.Context, utterance string) (coordinator.FinalResult, error) {
	endpoint, err := url.JoinPath(c.baseURL, "process")
	if err != nil {
		return coordinator.FinalResult{}, fmt.Errorf("build endpoint: %w", err)
	}
	body, err := json.Marshal(map[string]string{"query": utterance})
	if err != nil {
		return coordinator.FinalResult{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return coordinator.FinalResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return coordinator.FinalResult{}, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return coordinator.FinalResult{}, fmt.Errorf("coordinator returned status %d", resp.StatusCode)
	}
	var out coordinator.FinalResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return coordinator.FinalResult{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// ProcessStream opens the Coordinator's progressive stream for utterance
// and returns a channel of decoded chunks, closed when the stream ends or
// ctx is cancelled. The HTTP response body is read in a background
// goroutine; an error mid-stream is surfaced as a final ChunkFailed chunk.
func (c *CoordinatorClient) ProcessStream(ctx context.Context, utterance string) (<-chan coordinator.Chunk, error) {
	endpoint, err := url.JoinPath(c.baseURL, "process-stream")
	if err != nil {
		return nil, fmt.Errorf("build endpoint: %w", err)
	}
	body, err := json.Marshal(map[string]string{"query": utterance})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", endpoint, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("coordinator returned status %d", resp.StatusCode)
	}

	out := make(chan coordinator.Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var chunk coordinator.Chunk
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				out <- coordinator.Chunk{Type: coordinator.ChunkFailed, FailureReason: fmt.Sprintf("malformed chunk from coordinator: %v", err)}
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- coordinator.Chunk{Type: coordinator.ChunkFailed, FailureReason: fmt.Sprintf("coordinator stream read failed: %v", err)}
		}
	}()
	return out, nil
}
