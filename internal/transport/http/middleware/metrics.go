package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
	"github.com/gin-gonic/gin"
)

const unmatchedRoute = "unmatched"

// Metrics instruments every request under its route template. Unknown
// methods and unrouted paths each collapse into one label value, so a
// client cannot grow the series count.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeLabel(c)
		inFlight := metrics.HTTPRequestsInFlight.WithLabelValues(route)
		inFlight.Inc()
		defer inFlight.Dec()

		start := time.Now()
		c.Next()
		elapsed := time.Since(start).Seconds()

		method := methodLabel(c.Request.Method)
		code := c.Writer.Status()
		metrics.HTTPRequestDuration.WithLabelValues(method, route, statusClass(code)).Observe(elapsed)
		metrics.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	}
}

// routeLabel is known before the handlers run; gin resolves it while routing.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

func methodLabel(m string) string {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return m
	}
	return "OTHER"
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
