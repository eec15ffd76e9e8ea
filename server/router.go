package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router with all auth endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	r.Post("/register", a.handleRegister)
	r.Post("/login", a.handleLogin)
	r.Post("/logout", a.handleLogout)

	r.Post("/token/refresh", a.handleRefresh)
	r.Get("/.well-known/jwks.json", a.handleJWKS)

	r.Get("/oauth2/{provider}/login", a.handleOAuthLogin)
	r.Get("/oauth2/{provider}/callback", a.handleOAuthCallback)
	r.Post("/oauth2/{provider}/mobile/callback", a.handleOAuthNativeCallback)

	return r
}
