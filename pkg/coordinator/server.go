package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/kenny-fabric/kenny/pkg/errkind"
	"github.com/kenny-fabric/kenny/pkg/metrics"
)

// Server is the Coordinator's HTTP façade (spec.md §6 "POST /process" /
// "POST /process-stream"), grounded on the same Server/setupRoutes/Start/
// Shutdown shape pkg/api.Server, pkg/gateway.Server, and pkg/security.Server
// share.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	coordinator *Coordinator
	caller      AgentCaller
}

// NewServer builds a Coordinator Server. A nil caller falls back to
// NewHTTPAgentCaller(nil).
func NewServer(c *Coordinator, caller AgentCaller) *Server {
	if caller == nil {
		caller = NewHTTPAgentCaller(nil)
	}
	e := echo.New()
	s := &Server{echo: e, coordinator: c, caller: caller}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(metrics.Instrument("coordinator"))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", metrics.Handler())
	s.echo.POST("/process", s.processHandler)
	s.echo.POST("/process-stream", s.processStreamHandler)
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

type processRequest struct {
	Query string `json:"query"`
}

// processHandler implements POST /process: drains the full progressive
// stream server-side and returns only the terminal chunk, for callers (like
// the Gateway's own synchronous /query path) that don't want SSE.
func (s *Server) processHandler(c *echo.Context) error {
	var req processRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "invalid request body"))
	}

	chunks := s.coordinator.ProcessStream(c.Request().Context(), req.Query, s.caller)
	for chunk := range chunks {
		switch chunk.Type {
		case ChunkFinalResult:
			return c.JSON(http.StatusOK, *chunk.Final)
		case ChunkFailed:
			return writeError(c, errkind.New(errkind.Internal, chunk.FailureReason))
		}
	}
	return writeError(c, errkind.New(errkind.Internal, "coordinator stream ended with no final result"))
}

// processStreamHandler implements POST /process-stream: re-emits every
// chunk as SSE, matching pkg/gateway.Server.streamHandler's idiom.
func (s *Server) processStreamHandler(c *echo.Context) error {
	var req processRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "invalid request body"))
	}

	chunks := s.coordinator.ProcessStream(c.Request().Context(), req.Query, s.caller)

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.Flush()
	}
	return nil
}

func writeError(c *echo.Context, err *errkind.Error) error {
	return c.JSON(err.Kind.HTTPStatus(), errkind.ToEnvelope(err, ""))
}
