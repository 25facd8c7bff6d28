package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check on the health endpoint.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID, s.accessLog, s.recoverPanics)
	r.Use(s.cors.handler, limitBody)

	// Provider upgrade endpoint for accessories or hubs.
	if s.upgrade != nil {
		r.Method(http.MethodGet, "/websocket", s.upgrade)
		r.Method(http.MethodGet, "/ws", s.upgrade)
	}

	r.Post("/characteristic/{accessoryID}/{serviceName}", s.handleWriteCharacteristic)
	r.Get("/characteristic/{accessoryID}/{serviceName}/{characteristicName}", s.handleReadCharacteristic)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/accessories", func(r chi.Router) {
			r.Get("/", s.handleListAccessories)
			r.Route("/{accessoryID}", func(r chi.Router) {
				r.Get("/", s.handleGetAccessory)
				r.Get("/history", s.handleAccessoryHistory)
			})
		})

		r.Get("/events", s.handleEvents)
	})

	return r
}

// handleHealth reports the server version and the state of every
// registered dependency. A failing dependency degrades the response to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checks))
	healthy := true
	for name, checker := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	body := map[string]any{
		"status":  status,
		"version": s.version,
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, code, body)
}
