package handler

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/Dan9191/devsecops-api/internal/auth"
	"github.com/Dan9191/devsecops-api/internal/common"
	"github.com/Dan9191/devsecops-api/internal/metrics"
	"github.com/Dan9191/devsecops-api/internal/models"
	"github.com/Dan9191/devsecops-api/internal/service"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	accounts *service.Service
	files    *service.FileService
	metrics  *metrics.Metrics
	log      *logrus.Logger
	now      func() time.Time
}

func NewHandler(accounts *service.Service, files *service.FileService, m *metrics.Metrics, log *logrus.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		files:    files,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool               `json:"success"`
	Token   string             `json:"token"`
	User    models.UserSummary `json:"user"`
}

type endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

var endpoints = []endpoint{
	{http.MethodPost, "/api/auth/login", "Authenticate and receive a bearer token"},
	{http.MethodPost, "/api/users", "Register a new account"},
	{http.MethodGet, "/api/users/me", "Current account (authenticated)"},
	{http.MethodGet, "/api/users", "List accounts (admin)"},
	{http.MethodGet, "/api/files?name=", "Download a file from the uploads directory (authenticated)"},
	{http.MethodGet, "/api/health", "Health check"},
}

// Index lists the available endpoints
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	common.WriteJSON(w, http.StatusOK, map[string]any{
		"message":   "DevSecOps API",
		"endpoints": endpoints,
	})
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	common.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req loginRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		metrics.Observe(h.metrics.LoginAttempts, h.metrics.LoginDuration, "invalid", start)
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		code := h.fail(w, r, err)
		metrics.Observe(h.metrics.LoginAttempts, h.metrics.LoginDuration, outcome(code), start)
		return
	}

	common.WriteJSON(w, http.StatusOK, loginResponse{Success: true, Token: result.Token, User: result.User})
	metrics.Observe(h.metrics.LoginAttempts, h.metrics.LoginDuration, "success", start)
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var in service.RegisterInput
	if err := h.decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		metrics.Observe(h.metrics.RegistrationAttempts, h.metrics.RegistrationDuration, "invalid", start)
		return
	}

	if _, err := h.accounts.Register(r.Context(), in); err != nil {
		code := h.fail(w, r, err)
		metrics.Observe(h.metrics.RegistrationAttempts, h.metrics.RegistrationDuration, outcome(code), start)
		return
	}

	common.WriteJSON(w, http.StatusCreated, map[string]bool{"success": true})
	metrics.Observe(h.metrics.RegistrationAttempts, h.metrics.RegistrationDuration, "success", start)
}

// Me returns the authenticated caller's account
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.fail(w, r, common.ErrMissingAuth)
		return
	}
	user, err := h.accounts.GetProfile(r.Context(), id.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"user": user})
}

// ListUsers returns every account. Mounted behind the admin gate.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.accounts.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Download streams a file from the uploads directory
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	file, err := h.files.Download(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		code := h.fail(w, r, err)
		metrics.Observe(h.metrics.FileDownloads, h.metrics.FileDownloadDuration, outcome(code), start)
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Content)
	metrics.Observe(h.metrics.FileDownloads, h.metrics.FileDownloadDuration, "success", start)
}

// NotFound is the JSON 404 for unmatched routes
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	common.WriteMessage(w, http.StatusNotFound, "Route not found")
}

// MethodNotAllowed is the JSON 405 for a known path with the wrong method
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	common.WriteMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return common.BadRequest("Invalid JSON body")
	}
	return nil
}

// fail writes err and logs server-side failures with their full chain.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) int {
	code := common.WriteError(w, err)
	if code >= http.StatusInternalServerError {
		h.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Errorf("Request failed: %v", err)
	} else if errors.Is(err, common.ErrConflict) {
		h.log.WithField("path", r.URL.Path).Info("Duplicate account rejected")
	}
	return code
}

func outcome(code int) string {
	switch {
	case code == http.StatusUnauthorized:
		return "failure"
	case code == http.StatusForbidden:
		return "denied"
	case code == http.StatusNotFound:
		return "not_found"
	case code == http.StatusConflict:
		return "conflict"
	case code < http.StatusInternalServerError:
		return "invalid"
	default:
		return "error"
	}
}
