package router

import (
	"net/http"

	"github.com/campus-dx/grant-engine/pkg/monitoring"
	"github.com/campus-dx/grant-engine/v1/auth"
	"github.com/campus-dx/grant-engine/v1/handlers"
	"github.com/campus-dx/grant-engine/v1/middleware"
	"github.com/campus-dx/grant-engine/v1/utils"
)

// V1Router handles all V1 API route registration
type V1Router struct {
	appHandler     *handlers.ApplicationHandler
	authMiddleware *middleware.JWTAuthMiddleware
	corsMiddleware func(http.Handler) http.Handler
}

// NewV1Router creates a new V1 router with all dependencies
func NewV1Router(
	appHandler *handlers.ApplicationHandler,
	verifier *auth.Verifier,
	corsOrigins string,
) *V1Router {
	return &V1Router{
		appHandler:     appHandler,
		authMiddleware: middleware.NewJWTAuthMiddleware(verifier),
		corsMiddleware: middleware.NewCORSMiddleware(corsOrigins),
	}
}

// RegisterRoutes registers all V1 API routes to the provided mux
func (r *V1Router) RegisterRoutes(mux *http.ServeMux) {
	// Health and metrics endpoints are public
	mux.Handle("GET /api/v1/health",
		utils.PanicRecoveryMiddleware(http.HandlerFunc(r.appHandler.HealthCheck)))
	mux.Handle("GET /metrics", monitoring.Handler())

	// Application endpoints (authentication required)
	mux.Handle("POST /api/v1/applications",
		r.protected(r.appHandler.Submit))
	mux.Handle("GET /api/v1/applications",
		r.protected(r.appHandler.List))
	mux.Handle("GET /api/v1/applications/{applicationId}",
		r.protected(r.appHandler.Get))
	mux.Handle("PATCH /api/v1/applications/{applicationId}",
		r.protected(r.appHandler.Update))
	mux.Handle("DELETE /api/v1/applications/{applicationId}",
		r.protected(r.appHandler.Delete))

	// Attachment download (authentication required)
	mux.Handle("GET /api/v1/attachments/{attachmentId}",
		r.protected(r.appHandler.DownloadAttachment))
}

// protected wraps a handler with panic recovery and JWT authentication
func (r *V1Router) protected(handlerFunc http.HandlerFunc) http.Handler {
	return utils.PanicRecoveryMiddleware(
		r.authMiddleware.Authenticate(handlerFunc))
}

// ApplyCORS wraps a handler with CORS middleware
func (r *V1Router) ApplyCORS(handler http.Handler) http.Handler {
	return r.corsMiddleware(handler)
}
