package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-registry/internal/device"
)

// Health status values.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
	})

	return r
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Devices       *DeviceSummary    `json:"devices,omitempty"`
}

// DeviceSummary counts promoted devices by liveness status.
type DeviceSummary struct {
	Total int `json:"total"`
	Green int `json:"green"`
	Red   int `json:"red"`
}

// handleHealth runs every registered check and reports 503 if any fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:        statusOK,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Checks:        make(map[string]string, len(s.checks)+1),
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			resp.Status = statusDegraded
			resp.Checks[name] = err.Error()
			s.logger.Warn("health check failed", "component", name, "error", err)
			continue
		}
		resp.Checks[name] = statusOK
	}

	if s.devices != nil {
		summary, err := s.summariseDevices(ctx)
		if err != nil {
			resp.Status = statusDegraded
			resp.Checks["devices"] = err.Error()
		} else {
			resp.Checks["devices"] = statusOK
			resp.Devices = summary
		}
	}

	status := http.StatusOK
	if resp.Status != statusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) summariseDevices(ctx context.Context) (*DeviceSummary, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return nil, err
	}

	summary := &DeviceSummary{Total: len(devices)}
	for _, d := range devices {
		switch d.Status {
		case device.StatusGreen:
			summary.Green++
		case device.StatusRed:
			summary.Red++
		}
	}
	return summary, nil
}
