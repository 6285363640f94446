package middleware

import (
	"net/http"
	"strings"

	"github.com/Dan9191/devsecops-api/internal/auth"
	"github.com/Dan9191/devsecops-api/internal/common"
	"github.com/Dan9191/devsecops-api/internal/models"
	"github.com/sirupsen/logrus"
)

const bearerPrefix = "Bearer "

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// AuthMiddleware verifies the bearer token and puts the caller's identity in
// the request context. Only the "Bearer <token>" form is accepted.
func AuthMiddleware(tokens TokenVerifier, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				common.WriteError(w, common.ErrMissingAuth)
				return
			}
			id, err := tokens.Verify(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
			if err != nil {
				log.WithFields(logrus.Fields{
					"path":       r.URL.Path,
					"request_id": GetRequestID(r.Context()),
				}).Warn("Rejected bearer token")
				common.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), *id)))
		})
	}
}

// Authorize lets the request through only when the authenticated identity has
// one of roles. It must be mounted after AuthMiddleware.
func Authorize(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok || !hasRole(id.Role, roles) {
				common.WriteError(w, common.ErrInsufficientPermissions)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(role models.Role, allowed []models.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
