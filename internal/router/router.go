package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/genstudio/backend/internal/auth"
	"github.com/genstudio/backend/internal/handlers"
	"github.com/genstudio/backend/internal/metrics"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Deps is everything the router mounts.
type Deps struct {
	Auth        *auth.Handler
	Credits     *handlers.CreditHandler
	Generations *handlers.GenerationHandler
	Grants      *handlers.GrantHandler
	APIKeys     *handlers.APIKeyHandler

	UserAuth    Middleware
	APIKeyAuth  Middleware
	CreditCheck Middleware
}

// New returns an http.Handler that serves the API under /api/v1 plus /health and /metrics.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.Instrument(pattern, h))
	}

	handle("POST "+base+"/auth/register", http.HandlerFunc(d.Auth.Register))
	handle("POST "+base+"/auth/login", http.HandlerFunc(d.Auth.Login))

	// JWT-authenticated user routes.
	handle("GET "+base+"/credits", d.UserAuth(http.HandlerFunc(d.Credits.GetBalance)))
	handle("GET "+base+"/credits/transactions", d.UserAuth(http.HandlerFunc(d.Credits.ListTransactions)))
	// POST /generations: Auth -> Credit pre-check -> CreateGeneration
	handle("POST "+base+"/generations", d.UserAuth(d.CreditCheck(http.HandlerFunc(d.Generations.CreateGeneration))))
	handle("GET "+base+"/generations", d.UserAuth(http.HandlerFunc(d.Generations.ListGenerations)))

	// Server-to-server routes (API key).
	handle("POST "+base+"/internal/credits/grant", d.APIKeyAuth(http.HandlerFunc(d.Grants.Grant)))
	handle("POST "+base+"/internal/api-keys", d.APIKeyAuth(http.HandlerFunc(d.APIKeys.CreateAPIKey)))
	handle("DELETE "+base+"/internal/api-keys/{id}", d.APIKeyAuth(http.HandlerFunc(d.APIKeys.RevokeAPIKey)))

	mux.HandleFunc("GET /health", handlers.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}
