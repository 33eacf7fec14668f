package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenny-fabric/kenny/pkg/coordinator"
	"github.com/kenny-fabric/kenny/pkg/manifest"
	"github.com/kenny-fabric/kenny/pkg/registry"
)

func newTestServer(t *testing.T, registrySrv, coordSrv, agentSrv *httptest.Server) *Server {
	t.Helper()
	reg := NewRegistryClient(registrySrv.URL, registrySrv.Client())
	var coordClient *CoordinatorClient
	if coordSrv != nil {
		coordClient = NewCoordinatorClient(coordSrv.URL, coordSrv.Client())
	}
	var httpClient *http.Client
	if agentSrv != nil {
		httpClient = agentSrv.Client()
	}
	classifier := NewClassifier([]RuleEntry{{Verb: "mail.search", Keywords: []string{"mail"}}}, nil)
	return NewServer(reg, coordClient, classifier, NewDirectCaller(httpClient), 0, 0)
}

func registryServerWithBasicAgent(agentURL string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agents":
			json.NewEncoder(w).Encode([]registry.AgentSummary{
				{AgentID: "mailer", DisplayName: "Mailer", AgentType: manifest.AgentTypeBasic, BaseURL: agentURL},
			})
		case "/capabilities":
			json.NewEncoder(w).Encode([]registry.CapabilityRef{
				{Verb: "mail.search", AgentID: "mailer", BaseURL: agentURL},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestServer_QueryHandler_DirectRoutesBasicAgentAtHighConfidence(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer agentSrv.Close()

	registrySrv := registryServerWithBasicAgent(agentSrv.URL)
	defer registrySrv.Close()

	s := newTestServer(t, registrySrv, nil, agentSrv)

	e := echo.New()
	body := `{"query":"search my mail"}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.queryHandler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(PathDirect), rec.Header().Get("X-Kenny-Execution-Path"))

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "mail.search", resp.Classification.Verb)
}

func TestServer_QueryHandler_ForwardsAmbiguousVerbToCoordinator(t *testing.T) {
	coordSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(coordinator.FinalResult{
			PlanID: "p1",
			Results: []coordinator.ExecutionResult{
				{CallID: "c1", Status: coordinator.CallCompleted, Value: json.RawMessage(`{"ok":true}`)},
			},
		})
	}))
	defer coordSrv.Close()

	registrySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agents":
			json.NewEncoder(w).Encode([]registry.AgentSummary{})
		case "/capabilities":
			json.NewEncoder(w).Encode([]registry.CapabilityRef{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer registrySrv.Close()

	s := newTestServer(t, registrySrv, coordSrv, nil)

	e := echo.New()
	body := `{"query":"plan my week and book flights"}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.queryHandler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(PathCoordinator), rec.Header().Get("X-Kenny-Execution-Path"))
}

func TestServer_QueryHandler_DegradesToDirectWhenCoordinatorUnreachable(t *testing.T) {
	coordSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer coordSrv.Close()

	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer agentSrv.Close()

	registrySrv := registryServerWithBasicAgent(agentSrv.URL)
	defer registrySrv.Close()

	s := newTestServer(t, registrySrv, coordSrv, agentSrv)
	// Below directRouteConfidenceThreshold, so the Coordinator is tried first.
	s.classifier = NewClassifier(nil, stubLLM{verb: "mail.search", conf: 0.5})

	e := echo.New()
	body := `{"query":"search my mail"}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.queryHandler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(PathDirect), rec.Header().Get("X-Kenny-Execution-Path"))
}

func TestServer_QueryHandler_ReturnsCoordinatorUnavailableWhenNotEligibleAndUnreachable(t *testing.T) {
	coordSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer coordSrv.Close()

	registrySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agents":
			json.NewEncoder(w).Encode([]registry.AgentSummary{})
		case "/capabilities":
			json.NewEncoder(w).Encode([]registry.CapabilityRef{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer registrySrv.Close()

	s := newTestServer(t, registrySrv, coordSrv, nil)

	e := echo.New()
	body := `{"query":"something totally unclassifiable"}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.queryHandler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_AdmissionMiddleware_RejectsWhenInflightSaturated(t *testing.T) {
	registrySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer registrySrv.Close()

	s := newTestServer(t, registrySrv, nil, nil)
	s.inflight = make(chan struct{}, 1)
	s.inflight <- struct{}{}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := s.admissionMiddleware(func(c *echo.Context) error {
		return c.JSON(http.StatusOK, "should not reach here")
	})
	err := handler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestServer_DirectRouteEligible_RequiresUniqueCapabilityMatch(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer agentSrv.Close()
	registrySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agents":
			json.NewEncoder(w).Encode([]registry.AgentSummary{
				{AgentID: "a1", AgentType: manifest.AgentTypeBasic, BaseURL: agentSrv.URL},
				{AgentID: "a2", AgentType: manifest.AgentTypeBasic, BaseURL: agentSrv.URL},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer registrySrv.Close()

	s := newTestServer(t, registrySrv, nil, agentSrv)
	caps := []registry.CapabilityRef{
		{Verb: "dup.verb", AgentID: "a1"},
		{Verb: "dup.verb", AgentID: "a2"},
	}
	eligible, _ := s.directRouteEligible(context.Background(), Classification{Verb: "dup.verb", Confidence: 1.0}, caps)
	assert.False(t, eligible, "ambiguous verb resolved by more than one agent must never direct-route")
}

func TestServer_DirectRouteEligible_AllowsIntelligentServiceWithSafeAnnotation(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer agentSrv.Close()
	registrySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agents":
			json.NewEncoder(w).Encode([]registry.AgentSummary{
				{AgentID: "brain", AgentType: manifest.AgentTypeIntelligentService, BaseURL: agentSrv.URL},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer registrySrv.Close()

	s := newTestServer(t, registrySrv, nil, agentSrv)
	caps := []registry.CapabilityRef{
		{Verb: "summarize.day", AgentID: "brain", SafetyAnnotations: []manifest.SafetyAnnotation{manifest.SafetyDirectRouteSafe}},
	}
	eligible, agentID := s.directRouteEligible(context.Background(), Classification{Verb: "summarize.day", Confidence: 1.0}, caps)
	assert.True(t, eligible)
	assert.Equal(t, "brain", agentID)
}

func TestServer_DirectRouteEligible_RejectsIntelligentServiceWithoutAnnotation(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer agentSrv.Close()
	registrySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agents":
			json.NewEncoder(w).Encode([]registry.AgentSummary{
				{AgentID: "brain", AgentType: manifest.AgentTypeIntelligentService, BaseURL: agentSrv.URL},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer registrySrv.Close()

	s := newTestServer(t, registrySrv, nil, agentSrv)
	caps := []registry.CapabilityRef{{Verb: "summarize.day", AgentID: "brain"}}
	eligible, _ := s.directRouteEligible(context.Background(), Classification{Verb: "summarize.day", Confidence: 1.0}, caps)
	assert.False(t, eligible)
}
