package api

import (
	"net/http"

	"github.com/tujanalyst/tujanalyst/internal/auth"
	"github.com/tujanalyst/tujanalyst/internal/metrics"
)

// SetupRoutes registers health, metrics, login and trigger routes on mux.
func SetupRoutes(mux *http.ServeMux, handler *Handler, authConfig auth.Config, m *metrics.Collector) {
	authHandler := NewAuthHandler(authConfig, handler.logger)
	authMiddleware := auth.Middleware(authConfig)

	mux.HandleFunc("GET /healthz", handler.HealthHandler)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	mux.Handle("POST /api/triggers", authMiddleware(http.HandlerFunc(handler.CreateTriggerHandler)))
	mux.Handle("GET /api/triggers", authMiddleware(http.HandlerFunc(handler.ListTriggersHandler)))
	mux.Handle("GET /api/triggers/{id}", authMiddleware(http.HandlerFunc(handler.GetTriggerHandler)))
}

// NewRouter builds the instrumented HTTP handler for the service.
func NewRouter(handler *Handler, authConfig auth.Config, m *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	SetupRoutes(mux, handler, authConfig, m)
	if m == nil {
		return mux
	}
	return m.InstrumentHandler(mux)
}
