package core

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the store ping so a hung dependency cannot make
// the liveness probe itself hang.
const healthCheckTimeout = 2 * time.Second

// HandleHealth implements GET /health. It reports the service name and, when
// a HealthChecker is configured, the reachability of the account store.
// A failed store ping answers 503 so load balancers stop routing here.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK

	if s.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.Health.Ping(ctx); err != nil {
			s.Logger.WarnContext(r.Context(), "health check store ping failed", "error", err)
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	service := ""
	if s.Config != nil {
		service = s.Config.Service
	}

	JSON(w, r, httpStatus, map[string]string{
		"status":  status,
		"service": service,
	})
}
