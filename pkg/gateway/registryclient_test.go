package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenny-fabric/kenny/pkg/registry"
)

func TestRegistryClient_ListAgentsFetchesLiveAndCachesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]registry.AgentSummary{{AgentID: "a1", DisplayName: "Agent One"}})
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL, srv.Client())
	agents, live, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	assert.True(t, live)
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].AgentID)
	assert.True(t, c.SnapshotAge() < time.Second)
}

func TestRegistryClient_FallsBackToSnapshotWithinTTLWhenUnreachable(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode([]registry.AgentSummary{{AgentID: "a1"}})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL, srv.Client())
	_, live, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	require.True(t, live)

	agents, live, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	assert.False(t, live)
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].AgentID)
}

func TestRegistryClient_ReturnsErrorWhenUnreachableAndSnapshotStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL, srv.Client())
	_, _, err := c.ListAgents(context.Background())
	assert.Error(t, err)
}

func TestRegistryClient_SystemHealthHasNoFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL, srv.Client())
	_, err := c.SystemHealth(context.Background())
	assert.Error(t, err)
}
