package security

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/kenny-fabric/kenny/pkg/errkind"
	"github.com/kenny-fabric/kenny/pkg/metrics"
)

// Server is the Security plane's HTTP façade: event ingestion, incident
// review, and bypass-token issuance (SPEC_FULL.md §3.5's supplemented
// endpoints), grounded on the same Server/setupRoutes/Start/Shutdown shape
// as pkg/api.Server, pkg/coordinator.Server, and pkg/gateway.Server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	plane *Plane
}

// NewServer builds a Security plane Server.
func NewServer(plane *Plane) *Server {
	e := echo.New()
	s := &Server{echo: e, plane: plane}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(1 * 1024 * 1024))
	s.echo.Use(metrics.Instrument("security"))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", metrics.Handler())
	s.echo.POST("/security/events", s.recordEventHandler)
	s.echo.GET("/security/incidents", s.listIncidentsHandler)
	s.echo.GET("/security/incidents/:id", s.getIncidentHandler)
	s.echo.POST("/security/incidents/:id/ack", s.ackIncidentHandler)
	s.echo.POST("/security/incidents/:id/resolve", s.resolveIncidentHandler)
	s.echo.POST("/security/bypass-tokens", s.issueBypassTokenHandler)
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

// recordEventHandler implements POST /security/events: any component
// (the Registry's EvaluateEgress caller, an agent's masking layer reporting
// a data_access event, …) may report a SecurityEvent for correlation.
func (s *Server) recordEventHandler(c *echo.Context) error {
	var e SecurityEvent
	if err := json.NewDecoder(c.Request().Body).Decode(&e); err != nil {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "invalid event body"))
	}
	if err := s.plane.RecordEvent(c.Request().Context(), e); err != nil {
		return writeError(c, errkind.Wrap(errkind.Internal, "failed to record security event", err))
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) listIncidentsHandler(c *echo.Context) error {
	status := IncidentStatus(c.QueryParam("status"))
	incidents, err := s.plane.incidents.ListIncidents(c.Request().Context(), status)
	if err != nil {
		return writeError(c, errkind.Wrap(errkind.Internal, "failed to list incidents", err))
	}
	return c.JSON(http.StatusOK, incidents)
}

func (s *Server) getIncidentHandler(c *echo.Context) error {
	incident, err := s.plane.incidents.GetIncident(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, errkind.Wrap(errkind.AgentUnknown, "incident not found", err))
	}
	return c.JSON(http.StatusOK, incident)
}

func (s *Server) ackIncidentHandler(c *echo.Context) error {
	if err := s.plane.AcknowledgeIncident(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, errkind.Wrap(errkind.Internal, "failed to acknowledge incident", err))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) resolveIncidentHandler(c *echo.Context) error {
	if err := s.plane.ResolveIncident(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, errkind.Wrap(errkind.Internal, "failed to resolve incident", err))
	}
	return c.NoContent(http.StatusNoContent)
}

// issueBypassTokenHandler implements POST /security/bypass-tokens
// (SPEC_FULL.md §3.5): admin-issued exemption, TTL capped at 60 minutes.
func (s *Server) issueBypassTokenHandler(c *echo.Context) error {
	var req struct {
		ServiceID   string `json:"service_id"`
		Destination string `json:"destination"`
		TTLSeconds  int    `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "invalid bypass token request"))
	}
	if req.ServiceID == "" || req.Destination == "" {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "service_id and destination are required"))
	}
	tok, err := s.plane.blocks.IssueBypassToken(c.Request().Context(), req.ServiceID, req.Destination, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return writeError(c, errkind.Wrap(errkind.Internal, "failed to issue bypass token", err))
	}
	return c.JSON(http.StatusCreated, tok)
}

func writeError(c *echo.Context, err *errkind.Error) error {
	return c.JSON(err.Kind.HTTPStatus(), errkind.ToEnvelope(err, ""))
}
