package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Chrisphine10/intellicash-sub009/internal/handler/http/response"
	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/authz"
	"github.com/go-chi/jwtauth/v5"
)

// RequirePermission checks if the role claim grants permission
func RequirePermission(authorizer *authz.Authorizer, permission authz.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil {
				response.Forbidden(w, fmt.Sprintf("Insufficient permissions: required '%s'", permission))
				return
			}

			role, ok := claims["role"].(string)
			if !ok {
				response.Forbidden(w, fmt.Sprintf("Insufficient permissions: required '%s'", permission))
				return
			}

			allowed, err := authorizer.Allowed(role, permission)
			if err != nil {
				slog.Error("permission check failed", "role", role, "permission", permission, "error", err)
				response.InternalServerError(w, "An unexpected error occurred")
				return
			}
			if !allowed {
				response.Forbidden(w, fmt.Sprintf("Insufficient permissions: required '%s', but user role is '%s'", permission, role))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
