package handler

import (
	"net/http"

	"github.com/Dan9191/devsecops-api/internal/middleware"
	"github.com/Dan9191/devsecops-api/internal/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// RouterConfig carries the collaborators the router mounts around handlers.
type RouterConfig struct {
	Tokens       middleware.TokenVerifier
	LoginLimiter *middleware.RateLimiter
	CORSOrigins  []string
	Log          *logrus.Logger
}

// NewRouter builds the full HTTP surface.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)

	authenticate := middleware.AuthMiddleware(cfg.Tokens, cfg.Log)
	adminOnly := func(next http.HandlerFunc) http.Handler {
		return authenticate(middleware.Authorize(models.RoleAdmin)(next))
	}

	// Public routes
	r.HandleFunc("/", h.Index).Methods(http.MethodGet)
	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	r.Handle("/api/auth/login", cfg.LoginLimiter.Middleware(http.HandlerFunc(h.Login))).Methods(http.MethodPost)
	r.HandleFunc("/api/users", h.Register).Methods(http.MethodPost)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	// Protected routes
	r.Handle("/api/users/me", authenticate(http.HandlerFunc(h.Me))).Methods(http.MethodGet)
	r.Handle("/api/users", adminOnly(h.ListUsers)).Methods(http.MethodGet)
	r.Handle("/api/files", authenticate(http.HandlerFunc(h.Download))).Methods(http.MethodGet)

	var chain http.Handler = r
	chain = middleware.CORS(cfg.CORSOrigins)(chain)
	chain = middleware.SecurityHeaders(chain)
	chain = middleware.RequestLogger(cfg.Log)(chain)
	chain = middleware.RequestID(chain)
	chain = middleware.Recovery(cfg.Log)(chain)
	return chain
}
