package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

var defaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// SetupRoutes configures all API routes. Health endpoints need no identity;
// everything under /api/v1 requires the actor headers.
func SetupRoutes(occurrences *OccurrenceHandlers, health *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)

	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultAllowedOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderOrganizationID},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/ready", health.HandleReadiness)
	}
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireActor)
		occurrences.RegisterRoutes(r)
	})

	return r
}
