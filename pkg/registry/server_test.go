package registry

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_RegisterHandler_RegistersAgentAndListsIt(t *testing.T) {
	s := NewServer(New(NewEgressStore(nil), nil))
	e := echo.New()

	body, err := json.Marshal(registerRequest{Manifest: testManifest(), BaseURL: "http://localhost:9100"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/agents/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, s.registerHandler(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "mail-agent", resp.AgentID)
	assert.NotEmpty(t, resp.RegistrationID)

	listReq := httptest.NewRequest(http.MethodGet, "/agents", nil)
	listRec := httptest.NewRecorder()
	listCtx := e.NewContext(listReq, listRec)
	require.NoError(t, s.listAgentsHandler(listCtx))

	var agents []AgentSummary
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "mail-agent", agents[0].AgentID)
}

func TestServer_RegisterHandler_RejectsMissingBaseURL(t *testing.T) {
	s := NewServer(New(NewEgressStore(nil), nil))
	e := echo.New()

	body, err := json.Marshal(registerRequest{Manifest: testManifest()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/agents/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, s.registerHandler(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_LookupCapabilityHandler_ReturnsNotFoundForUnknownVerb(t *testing.T) {
	s := NewServer(New(NewEgressStore(nil), nil))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/capabilities/nonexistent.verb", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("verb")
	c.SetParamValues("nonexistent.verb")

	require.NoError(t, s.lookupCapabilityHandler(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetAgentHandler_ReturnsNotFoundForUnregisteredAgent(t *testing.T) {
	s := NewServer(New(NewEgressStore(nil), nil))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/agents/ghost-agent", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("agent_id")
	c.SetParamValues("ghost-agent")

	require.NoError(t, s.getAgentHandler(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SystemHealthHandler_ReturnsSnapshot(t *testing.T) {
	s := NewServer(New(NewEgressStore(nil), nil))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/system/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, s.systemHealthHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap SystemHealthSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "healthy", snap.Overall)
}
