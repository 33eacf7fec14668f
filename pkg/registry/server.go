package registry

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/kenny-fabric/kenny/pkg/errkind"
	"github.com/kenny-fabric/kenny/pkg/manifest"
	"github.com/kenny-fabric/kenny/pkg/metrics"
)

// Server is the Agent Registry's HTTP façade (spec.md §6's registration and
// discovery surface), grounded on the same Server/setupRoutes/Start/Shutdown
// shape pkg/api.Server, pkg/coordinator.Server, pkg/gateway.Server, and
// pkg/security.Server all share.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	reg *Registry
}

// NewServer builds a Registry Server over an already-constructed Registry.
func NewServer(reg *Registry) *Server {
	e := echo.New()
	s := &Server{echo: e, reg: reg}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(1 * 1024 * 1024))
	s.echo.Use(metrics.Instrument("registry"))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", metrics.Handler())
	s.echo.POST("/agents/register", s.registerHandler)
	s.echo.DELETE("/agents/:agent_id", s.deregisterHandler)
	s.echo.GET("/agents/:agent_id", s.getAgentHandler)
	s.echo.GET("/agents", s.listAgentsHandler)
	s.echo.GET("/capabilities", s.listCapabilitiesHandler)
	s.echo.GET("/capabilities/:verb", s.lookupCapabilityHandler)
	s.echo.GET("/system/health", s.systemHealthHandler)
	s.echo.GET("/system/health/stream", s.systemHealthStreamHandler)
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// registerRequest is the wire shape of POST /agents/register (spec.md §4.1
// "Register"): a manifest plus the transport details the Registry needs but
// the manifest itself doesn't carry.
type registerRequest struct {
	Manifest manifest.Manifest `json:"manifest"`
	BaseURL  string            `json:"base_url"`
}

type registerResponse struct {
	AgentID        string `json:"agent_id"`
	RegistrationID string `json:"registration_id"`
}

func (s *Server) registerHandler(c *echo.Context) error {
	var req registerRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "invalid registration request body"))
	}
	if req.BaseURL == "" {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "base_url is required"))
	}

	agentID, _, err := s.reg.Register(c.Request().Context(), req.Manifest, req.BaseURL, req.Manifest.HealthCheck.Endpoint)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
		return writeClassifiedError(c, err)
	}
	metrics.RegistrationsTotal.WithLabelValues("accepted").Inc()
	return c.JSON(http.StatusCreated, registerResponse{AgentID: agentID, RegistrationID: NewRegistrationID()})
}

func (s *Server) deregisterHandler(c *echo.Context) error {
	if err := s.reg.Deregister(c.Request().Context(), c.Param("agent_id")); err != nil {
		return writeClassifiedError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getAgentHandler(c *echo.Context) error {
	rec, ok := s.reg.GetAgent(c.Param("agent_id"))
	if !ok {
		return writeError(c, errkind.New(errkind.AgentUnknown, "agent not registered"))
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) listAgentsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.reg.ListAgents())
}

func (s *Server) listCapabilitiesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.reg.ListCapabilities())
}

func (s *Server) lookupCapabilityHandler(c *echo.Context) error {
	refs := s.reg.LookupCapability(c.Param("verb"))
	if len(refs) == 0 {
		return writeError(c, errkind.New(errkind.CapabilityUnknown, "no agent advertises this verb"))
	}
	return c.JSON(http.StatusOK, refs)
}

func (s *Server) systemHealthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.reg.SystemHealth())
}

// systemHealthStreamHandler implements GET /system/health/stream: pushes a
// fresh SystemHealthSnapshot over SSE whenever any record's health state
// changes, matching pkg/gateway's streamHandler SSE idiom.
func (s *Server) systemHealthStreamHandler(c *echo.Context) error {
	updates := s.reg.StreamHealth(c.Request().Context())

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for snap := range updates {
		data, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return nil
		}
		if _, err := w.Write(data); err != nil {
			return nil
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return nil
		}
		w.Flush()
	}
	return nil
}

func writeError(c *echo.Context, err *errkind.Error) error {
	return c.JSON(err.Kind.HTTPStatus(), errkind.ToEnvelope(err, ""))
}

// writeClassifiedError renders a plain error returned by Registry methods
// (which wrap errkind.Error internally via errkind.New/Wrap) onto the wire
// envelope, preserving its Kind rather than collapsing it to Internal.
func writeClassifiedError(c *echo.Context, err error) error {
	kind, _ := errkind.As(err)
	return c.JSON(kind.HTTPStatus(), errkind.ToEnvelope(err, ""))
}
