package agentbase

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/kenny-fabric/kenny/pkg/errkind"
	"github.com/kenny-fabric/kenny/pkg/metrics"
)

// Server is the HTTP façade every Agent Service Base instance exposes
// (spec.md §4.2's "POST /capabilities/{verb}" wire contract, the same one
// coordinator.HTTPAgentCaller and pkg/agentbase's own QueryAgent speak),
// grounded on the Server/setupRoutes/Start/StartWithListener/Shutdown shape
// shared by pkg/gateway.Server, pkg/registry.Server, and
// pkg/coordinator.Server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	base *Base
}

// NewServer builds a Server wrapping an already-configured Base. The
// implementer is expected to have called RegisterHandler for every
// capability in the manifest before Start.
func NewServer(base *Base) *Server {
	e := echo.New()
	s := &Server{echo: e, base: base}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(metrics.Instrument("agent"))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", metrics.Handler())
	s.echo.POST("/capabilities/:verb", s.capabilityHandler)
	if s.base.llm != nil {
		s.echo.POST("/query", s.queryHandler)
	}
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
	report := s.base.Health(c.Request().Context())
	status := http.StatusOK
	if report.State != "healthy" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

func (s *Server) capabilityHandler(c *echo.Context) error {
	var params map[string]any
	if c.Request().ContentLength != 0 {
		if err := json.NewDecoder(c.Request().Body).Decode(&params); err != nil {
			return writeError(c, errkind.New(errkind.ManifestInvalid, "invalid capability params body"))
		}
	}

	result, err := s.base.HandleCapability(c.Request().Context(), c.Param("verb"), params)
	if err != nil {
		return writeClassifiedError(c, err)
	}
	// spec.md §6: POST /capabilities/{verb} returns the bare capability
	// result, not the ConfidenceResult envelope — that envelope is /query's
	// wire contract (queryHandler below).
	return c.JSONBlob(http.StatusOK, result.Value)
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) queryHandler(c *echo.Context) error {
	var req queryRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "invalid query request body"))
	}

	result, err := s.base.Query(c.Request().Context(), req.Query)
	if err != nil {
		return writeClassifiedError(c, err)
	}
	// spec.md §6: POST /query returns the full ConfidenceResult, not just
	// its value, so a caller can see confidence/fallback_used/
	// fallback_reason (end-to-end scenario 5).
	return c.JSON(http.StatusOK, result)
}

func writeError(c *echo.Context, err *errkind.Error) error {
	return c.JSON(err.Kind.HTTPStatus(), errkind.ToEnvelope(err, ""))
}

// writeClassifiedError preserves the Kind a Base method wraps internally via
// errkind.New/Wrap instead of collapsing every failure to Internal.
func writeClassifiedError(c *echo.Context, err error) error {
	kind, _ := errkind.As(err)
	return c.JSON(kind.HTTPStatus(), errkind.ToEnvelope(err, ""))
}
