package metrics

import (
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Instrument wraps an echo handler chain with HTTPRequestDuration
// observation, labeled by component and the matched route path (not the
// raw URL, so "/agents/:agent_id" stays one series regardless of which
// agent_id was requested).
func Instrument(component string) func(echo.HandlerFunc) echo.HandlerFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			HTTPRequestDuration.WithLabelValues(component, route, fmt.Sprintf("%d", status)).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler is the GET /metrics handler every component exposes, grounded on
// wisbric-nightowl's promhttp.HandlerFor wiring.
func Handler() echo.HandlerFunc {
	h := promhttp.Handler()
	return func(c *echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
