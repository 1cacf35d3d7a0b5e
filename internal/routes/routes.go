package routes

import (
	"github.com/BradenHooton/devicelock/internal/auth"
	"github.com/BradenHooton/devicelock/internal/handlers"
	"github.com/BradenHooton/devicelock/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	deviceHandler *handlers.DeviceHandler,
	securityHandler *handlers.SecurityHandler,
	sessionHandler *handlers.SessionHandler,
	tokenManager *auth.TokenManager,
	sessions auth.SessionLookup,
) {
	requireSession := auth.RequireSessionUser(sessions)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))
		r.Use(middleware.RateLimitByUser(middleware.DefaultAPIRateLimit()))

		sessionHandler.RegisterRoutes(r, requireSession)

		// Routes acting on the signed-in user's device
		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			deviceHandler.RegisterRoutes(r, middleware.RateLimitByUser(middleware.DefaultUnlockRateLimit()))
			securityHandler.RegisterRoutes(r)
		})
	})
}
