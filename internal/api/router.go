package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/device", func(r chi.Router) {
				r.Get("/", s.handleGetState)
				r.Get("/info", s.handleDeviceInfo)
				r.Post("/register", s.handleRegister)
				r.Post("/reset", s.handleReset)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/fetch", s.handleFetchDevices)
				r.Post("/select", s.handleSelectDevice)
			})

			r.Route("/session", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Put("/", s.handleSetSession)
				r.Delete("/", s.handleClearSession)
			})

			r.Route("/report", func(r chi.Router) {
				r.Get("/", s.handleGetReport)
				r.Post("/date", s.handleChangeReportDate)
				r.Post("/toggle", s.handleToggleTimeBlock)
			})

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth reports the server version and the state of optional
// components. Any failing component makes the status "degraded" but the
// response stays 200: the control surface itself is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string, len(s.health))
	for name, hc := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
