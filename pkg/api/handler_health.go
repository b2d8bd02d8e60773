package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/wayplan/wayplan/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthzHandler handles GET /api/v1/healthz.
// Only the service's own components are checked; AI providers are excluded
// so an upstream outage cannot get the service restarted.
func (s *Server) healthzHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.store.Ping(reqCtx); err != nil {
		status = healthStatusUnhealthy
		checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy}
	}

	resp := &HealthResponse{
		Version: version.GitCommit,
		Checks:  checks,
	}

	if s.runner != nil {
		h := s.runner.Health()
		resp.Runner = &h
		switch {
		case len(h.Workers) == 0:
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["runner"] = HealthCheck{Status: healthStatusDegraded, Message: "no workers running"}
		case h.QueueDepth >= h.QueueCapacity:
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["runner"] = HealthCheck{Status: healthStatusDegraded, Message: "run queue is full"}
		default:
			checks["runner"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	resp.Status = status
	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}

// versionHandler handles GET /api/v1/version.
func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &VersionResponse{
		Name:      version.AppName,
		Commit:    version.GitCommit,
		GoVersion: runtime.Version(),
	})
}
