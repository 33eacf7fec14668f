package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kenny-fabric/kenny/pkg/errkind"
	"github.com/kenny-fabric/kenny/pkg/manifest"
	"github.com/kenny-fabric/kenny/pkg/metrics"
	"github.com/kenny-fabric/kenny/pkg/registry"
)

// Server is the Gateway's HTTP façade (spec.md §4.4), grounded on the
// teacher's pkg/api.Server: one struct, one setupRoutes, Start/Shutdown
// pair, generalized from tarsy's single-purpose API to the Gateway's
// classify-then-route front door.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	registry    *RegistryClient
	coordinator *CoordinatorClient
	classifier  *Classifier
	direct      *DirectCaller

	inflight chan struct{}
	limiter  *rate.Limiter
}

// defaultRatePerSecond and defaultRateBurst bound sustained request rate
// ahead of the raw in-flight concurrency cap: a burst of slow requests can
// fill the in-flight semaphore without tripping it, so the Gateway also
// throttles the rate new requests are admitted at.
const (
	defaultRatePerSecond = 500
	defaultRateBurst     = 100
)

// NewServer builds a Gateway Server. inflightMax is spec.md §5's back-
// pressure bound (default 256; 0 uses the default). ratePerSecond bounds
// sustained admission rate (0 uses the default of 500 req/s, burst 100).
func NewServer(reg *RegistryClient, coord *CoordinatorClient, classifier *Classifier, direct *DirectCaller, inflightMax int, ratePerSecond float64) *Server {
	if inflightMax <= 0 {
		inflightMax = 256
	}
	if ratePerSecond <= 0 {
		ratePerSecond = defaultRatePerSecond
	}
	e := echo.New()
	s := &Server{
		echo:        e,
		registry:    reg,
		coordinator: coord,
		classifier:  classifier,
		direct:      direct,
		inflight:    make(chan struct{}, inflightMax),
		limiter:     rate.NewLimiter(rate.Limit(ratePerSecond), defaultRateBurst),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(s.admissionMiddleware)
	s.echo.Use(metrics.Instrument("gateway"))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", metrics.Handler())
	s.echo.GET("/agents", s.agentsHandler)
	s.echo.GET("/capabilities", s.capabilitiesHandler)
	s.echo.POST("/query", s.queryHandler)
	s.echo.GET("/stream", s.streamHandler)
	s.echo.POST("/agent/:agent_id/:verb", s.directAgentHandler)
}

// admissionMiddleware enforces spec.md §5's "Gateway bounds concurrent
// in-flight requests (default 256)... yields a structured overloaded
// error rather than queueing unboundedly."
func (s *Server) admissionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if !s.limiter.Allow() {
			return writeError(c, errkind.New(errkind.Overloaded, "gateway request rate exceeded"), "")
		}
		select {
		case s.inflight <- struct{}{}:
		default:
			return writeError(c, errkind.New(errkind.Overloaded, "gateway at max in-flight requests"), "")
		}
		defer func() { <-s.inflight }()
		return next(c)
	}
}

// Start starts the HTTP server on addr (non-blocking from the caller's
// perspective — ListenAndServe blocks the calling goroutine as usual).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	_, live, err := s.registry.ListAgents(ctx)
	view := HealthView{Status: "healthy", RegistryLive: live}
	if err != nil {
		view.Status = "degraded"
	}
	if !live {
		view.SnapshotAge = s.registry.SnapshotAge().String()
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) agentsHandler(c *echo.Context) error {
	agents, _, err := s.registry.ListAgents(c.Request().Context())
	if err != nil {
		return writeError(c, errkind.Wrap(errkind.DependencyUnavailable, "registry unreachable", err), "")
	}
	views := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, AgentView{
			AgentID:      a.AgentID,
			DisplayName:  a.DisplayName,
			AgentType:    string(a.AgentType),
			HealthStatus: string(a.HealthStatus),
			BaseURL:      a.BaseURL,
		})
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) capabilitiesHandler(c *echo.Context) error {
	caps, _, err := s.registry.ListCapabilities(c.Request().Context())
	if err != nil {
		return writeError(c, errkind.Wrap(errkind.DependencyUnavailable, "registry unreachable", err), "")
	}
	views := make([]CapabilityView, 0, len(caps))
	for _, ref := range caps {
		views = append(views, CapabilityView{Verb: ref.Verb, AgentID: ref.AgentID})
	}
	return c.JSON(http.StatusOK, views)
}

// queryHandler implements POST /query: classify, then direct-route or
// forward to the Coordinator (spec.md §4.4).
func (s *Server) queryHandler(c *echo.Context) error {
	var req QueryRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "invalid request body"), "")
	}

	correlationID := uuid.NewString()
	start := time.Now()
	ctx := c.Request().Context()

	caps, _, capsErr := s.registry.ListCapabilities(ctx)
	knownVerbs := make([]string, 0, len(caps))
	for _, ref := range caps {
		knownVerbs = append(knownVerbs, ref.Verb)
	}

	classification := s.classifier.Classify(ctx, req.Query, knownVerbs)

	eligible, agentID := s.directRouteEligible(ctx, classification, caps)

	if classification.Confidence >= directRouteConfidenceThreshold && eligible {
		result, err := s.callDirect(ctx, agentID, classification.Verb, req.Context)
		if err != nil {
			return writeError(c, errkind.Wrap(errkind.Internal, "direct capability call failed", err), correlationID)
		}
		metrics.GatewayRequestsTotal.WithLabelValues(string(PathDirect)).Inc()
		c.Response().Header().Set("X-Kenny-Execution-Path", string(PathDirect))
		return c.JSON(http.StatusOK, QueryResponse{
			Result:         result,
			ExecutionPath:  []string{string(PathDirect)},
			DurationMS:     time.Since(start).Milliseconds(),
			Classification: classification,
		})
	}

	final, err := s.coordinator.Process(ctx, req.Query)
	if err != nil {
		if eligible {
			slog.Warn("coordinator unreachable, degrading to direct route", "error", err, "verb", classification.Verb)
			result, directErr := s.callDirect(ctx, agentID, classification.Verb, req.Context)
			if directErr == nil {
				metrics.GatewayRequestsTotal.WithLabelValues(string(PathDirect)).Inc()
				c.Response().Header().Set("X-Kenny-Execution-Path", string(PathDirect))
				return c.JSON(http.StatusOK, QueryResponse{
					Result:         result,
					ExecutionPath:  []string{string(PathDirect)},
					DurationMS:     time.Since(start).Milliseconds(),
					Classification: classification,
				})
			}
		}
		return writeError(c, errkind.Wrap(errkind.CoordinatorUnavailable, "coordinator unreachable", err), correlationID)
	}

	metrics.GatewayRequestsTotal.WithLabelValues(string(PathCoordinator)).Inc()
	c.Response().Header().Set("X-Kenny-Execution-Path", string(PathCoordinator))
	path := make([]string, 0, len(final.Results))
	for _, r := range final.Results {
		path = append(path, r.CallID)
	}
	var aggregated json.RawMessage
	if len(final.Results) > 0 {
		aggregated = final.Results[len(final.Results)-1].Value
	}
	_ = capsErr // registry degraded mode still lets classification proceed against a stale catalog
	return c.JSON(http.StatusOK, QueryResponse{
		Result:         aggregated,
		ExecutionPath:  path,
		DurationMS:     time.Since(start).Milliseconds(),
		Classification: classification,
	})
}

// streamHandler implements GET /stream: subscribes to the Coordinator's
// progressive stream and re-emits it as SSE to the client.
func (s *Server) streamHandler(c *echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "missing query parameter"), "")
	}

	chunks, err := s.coordinator.ProcessStream(c.Request().Context(), query)
	if err != nil {
		return writeError(c, errkind.Wrap(errkind.CoordinatorUnavailable, "coordinator unreachable", err), "")
	}

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

// directAgentHandler implements POST /agent/{agent_id}/{verb}: an explicit
// direct-routed call with no intent classification (spec.md §4.4).
func (s *Server) directAgentHandler(c *echo.Context) error {
	agentID := c.Param("agent_id")
	verb := c.Param("verb")

	var body struct {
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return writeError(c, errkind.New(errkind.ManifestInvalid, "invalid request body"), "")
	}

	result, err := s.callDirect(c.Request().Context(), agentID, verb, body.Parameters)
	if err != nil {
		return writeError(c, errkind.Wrap(errkind.AgentUnknown, fmt.Sprintf("direct call to %q/%q failed", agentID, verb), err), "")
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) callDirect(ctx context.Context, agentID, verb string, params map[string]any) (json.RawMessage, error) {
	agents, _, err := s.registry.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve agent %q: %w", agentID, err)
	}
	var baseURL string
	for _, a := range agents {
		if a.AgentID == agentID {
			baseURL = a.BaseURL
			break
		}
	}
	if baseURL == "" {
		return nil, fmt.Errorf("agent %q not found", agentID)
	}
	return s.direct.Call(ctx, baseURL, verb, params)
}

// directRouteEligible implements spec.md §4.4's "Direct route requires the
// resolved capability's agent_type = basic OR an explicit intelligent_service
// verb marked safe for direct routing." Composing multiple capabilities
// always requires the Coordinator, so eligibility also requires the
// classified verb to resolve to exactly one capability.
func (s *Server) directRouteEligible(ctx context.Context, classification Classification, caps []registry.CapabilityRef) (bool, string) {
	if classification.Verb == "" {
		return false, ""
	}
	var match *registry.CapabilityRef
	for i := range caps {
		if caps[i].Verb == classification.Verb {
			if match != nil {
				return false, "" // ambiguous — more than one agent advertises this verb
			}
			match = &caps[i]
		}
	}
	if match == nil {
		return false, ""
	}

	agents, _, err := s.registry.ListAgents(ctx)
	if err != nil {
		return false, ""
	}
	for _, a := range agents {
		if a.AgentID != match.AgentID {
			continue
		}
		if a.AgentType == manifest.AgentTypeBasic {
			return true, match.AgentID
		}
		for _, ann := range match.SafetyAnnotations {
			if ann == manifest.SafetyDirectRouteSafe {
				return true, match.AgentID
			}
		}
		return false, ""
	}
	return false, ""
}

func writeError(c *echo.Context, err *errkind.Error, correlationID string) error {
	env := errkind.ToEnvelope(err, correlationID)
	return c.JSON(err.Kind.HTTPStatus(), env)
}
