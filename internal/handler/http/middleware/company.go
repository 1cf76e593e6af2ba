package middleware

import (
	"net/http"

	"github.com/Chrisphine10/intellicash-sub009/internal/handler/http/response"
	"github.com/go-chi/jwtauth/v5"
)

// RequireCompany rejects tokens that are not bound to a company. Every
// payroll query is scoped by the company_id claim.
func RequireCompany(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			response.Unauthorized(w, err.Error())
			return
		}

		companyID, ok := claims["company_id"].(string)
		if !ok || companyID == "" {
			response.Forbidden(w, "No company associated with this user")
			return
		}

		next.ServeHTTP(w, r)
	})
}
