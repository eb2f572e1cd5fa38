package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/campus-dx/grant-engine/v1/auth"
	"github.com/campus-dx/grant-engine/v1/models"
	"github.com/campus-dx/grant-engine/v1/utils"
)

// contextKey is a private type for context keys to avoid collisions with
// values set by other packages.
type contextKey string

const actorKey contextKey = "actor"

// JWTAuthMiddleware validates bearer tokens and places the acting user in the
// request context.
type JWTAuthMiddleware struct {
	verifier *auth.Verifier
}

// NewJWTAuthMiddleware creates the authentication middleware.
func NewJWTAuthMiddleware(verifier *auth.Verifier) *JWTAuthMiddleware {
	return &JWTAuthMiddleware{verifier: verifier}
}

// Authenticate rejects requests without a valid bearer token. On success the
// actor extracted from the token claims is available via ActorFromContext.
func (m *JWTAuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Authorization header is required")
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			utils.RespondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)
		if tokenString == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Token is required")
			return
		}

		actor, err := m.verifier.VerifyTokenAndExtractActor(tokenString)
		if err != nil {
			slog.Warn("token verification failed", "error", err)
			utils.RespondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		r = r.WithContext(ctx)

		slog.Debug("actor authenticated", "actor_id", actor.ID, "role", actor.Role)

		next.ServeHTTP(w, r)
	})
}

// ActorFromContext extracts the authenticated actor from the request context.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}

// WithActor returns a context carrying the given actor. Intended for tests and
// internal callers that bypass HTTP authentication.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}
