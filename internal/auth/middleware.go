package auth

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/httpjson"
)

// Middleware rejects requests whose bearer token does not resolve to a user
// and stores the user on the request context otherwise.
func Middleware(authenticator Authenticator, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authenticator.GetUser(r.Context(), ExtractToken(r))
			if err != nil {
				httpjson.RespondWithAppError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireRole admits only users whose role is role. It runs after
// Middleware. An empty role admits every authenticated user.
func RequireRole(role string, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if role == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				httpjson.RespondWithAppError(w, logger, apperr.Unauthenticated("auth.role", nil))
				return
			}
			if user.Role != role {
				logger.WithFields(logrus.Fields{
					"user_id": user.ID,
					"role":    user.Role,
				}).Warn("Admin request from user without admin role")
				httpjson.RespondWithAppError(w, logger, apperr.Forbidden("auth.role", "admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
