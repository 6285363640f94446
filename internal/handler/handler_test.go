package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/devsecops-api/internal/auth"
	"github.com/Dan9191/devsecops-api/internal/common"
	"github.com/Dan9191/devsecops-api/internal/metrics"
	"github.com/Dan9191/devsecops-api/internal/middleware"
	"github.com/Dan9191/devsecops-api/internal/models"
	"github.com/Dan9191/devsecops-api/internal/service"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret    = "handler-test-secret-with-enough-bytes"
	allowedOrigin = "http://localhost:3000"
	adminPassword = "Adm1n-Passw0rd!"
	userPassword  = "Us3r-Passw0rd!!"
)

type memRepo struct {
	mu      sync.Mutex
	users   []*models.User
	listErr error
}

func (m *memRepo) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return fmt.Errorf("failed to create user: %w", common.ErrConflict)
		}
	}
	u.ID = int64(len(m.users) + 1)
	u.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cp := *u
	m.users = append(m.users, &cp)
	return nil
}

func (m *memRepo) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memRepo) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

type testServer struct {
	handler http.Handler
	repo    *memRepo
	tokens  *auth.TokenManager
	metrics *metrics.Metrics
	hook    *test.Hook
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log, hook := test.NewNullLogger()

	root := t.TempDir()
	uploads := filepath.Join(root, "uploads")
	require.NoError(t, os.Mkdir(uploads, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "photo.jpg"), []byte("photo-bytes"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(uploads, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "outside.txt"), []byte("top secret"), 0o644))

	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens := auth.NewTokenManager(testSecret, auth.TokenTTL)
	repo := &memRepo{}
	seed(t, repo, hasher, "admin", "admin@example.com", adminPassword, models.RoleAdmin)
	seed(t, repo, hasher, "bob", "bob@example.com", userPassword, models.RoleUser)

	accounts := service.NewService(repo, hasher, tokens, service.NewValidator(service.DefaultPasswordPolicy()), nil, log)
	files, err := service.NewFileService(uploads, log)
	require.NoError(t, err)
	m := metrics.New()

	h := NewHandler(accounts, files, m, log)
	router := NewRouter(h, RouterConfig{
		Tokens:       tokens,
		LoginLimiter: middleware.NewRateLimiter(600, 100),
		CORSOrigins:  []string{allowedOrigin},
		Log:          log,
	})
	return &testServer{handler: router, repo: repo, tokens: tokens, metrics: m, hook: hook}
}

func seed(t *testing.T, repo *memRepo, hasher *auth.Hasher, username, email, password string, role models.Role) {
	t.Helper()
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	require.NoError(t, repo.CreateUser(context.Background(), &models.User{
		Username: username, Email: email, PasswordHash: hash, Role: role,
	}))
}

func (s *testServer) do(method, target, body, token string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) token(t *testing.T, id int64, username string, role models.Role) string {
	t.Helper()
	tok, err := s.tokens.Issue(auth.Identity{ID: id, Username: username, Role: role})
	require.NoError(t, err)
	return tok
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func loginBody(username, password string) string {
	b, _ := json.Marshal(loginRequest{Username: username, Password: password})
	return string(b)
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/auth/login")

	rec = s.do(http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestLogin_Success(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/auth/login", loginBody("admin", adminPassword), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "password")

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "admin", resp.User.Username)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)

	id, err := s.tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.ID)
	assert.Equal(t, models.RoleAdmin, id.Role)
}

func TestLogin_UnknownUserAndWrongPasswordAreIdentical(t *testing.T) {
	s := newTestServer(t)

	wrong := s.do(http.MethodPost, "/api/auth/login", loginBody("admin", "wrong-pass"), "")
	unknown := s.do(http.MethodPost, "/api/auth/login", loginBody("nobody", "wrong-pass"), "")

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.JSONEq(t, `{"error":"Invalid credentials"}`, wrong.Body.String())
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestLogin_InjectionPayloadsFail(t *testing.T) {
	s := newTestServer(t)

	for _, payload := range []string{"admin' OR '1'='1", "admin'--", "'; DROP TABLE users; --"} {
		rec := s.do(http.MethodPost, "/api/auth/login", loginBody(payload, "anything"), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, payload)
		assert.NotContains(t, rec.Body.String(), "token", payload)
	}
	assert.Len(t, s.repo.users, 2)
}

func TestLogin_BadRequests(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/auth/login", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid JSON body"}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/auth/login", loginBody("admin", ""), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Username and password are required"}`, rec.Body.String())
}

func TestLogin_RateLimited(t *testing.T) {
	s := newTestServer(t)
	log, _ := test.NewNullLogger()
	h := NewHandler(nil, nil, s.metrics, log)
	router := NewRouter(h, RouterConfig{
		Tokens:       s.tokens,
		LoginLimiter: middleware.NewRateLimiter(1, 1),
		CORSOrigins:  []string{allowedOrigin},
		Log:          log,
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, first.Code)

	// A spoofed forwarding header must not open a fresh bucket.
	spoofed := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{"))
	spoofed.Header.Set("X-Forwarded-For", "198.51.100.9")
	second := httptest.NewRecorder()
	router.ServeHTTP(second, spoofed)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/users", `{"email":"Carol@Example.com","password":"Str0ng-Passw0rd!"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	stored, err := s.repo.FindUserByUsername(context.Background(), "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, stored.Role)
	assert.NotEqual(t, "Str0ng-Passw0rd!", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("Str0ng-Passw0rd!")))

	rec = s.do(http.MethodPost, "/api/auth/login", loginBody("carol@example.com", "Str0ng-Passw0rd!"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegister_RoleIsNotClientSettable(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/users", `{"email":"mallory@example.com","password":"Str0ng-Passw0rd!","role":"admin"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, err := s.repo.FindUserByUsername(context.Background(), "mallory@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, stored.Role)
}

func TestRegister_WeakPasswordListsViolations(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/users", `{"email":"x@y.com","password":"Weak1"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body common.ValidationBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Errors)
	messages := make([]string, 0, len(body.Errors))
	for _, v := range body.Errors {
		assert.Equal(t, "password", v.Field)
		messages = append(messages, v.Message)
	}
	assert.Contains(t, messages, "Password must be at least 12 characters")
	assert.Contains(t, messages, "Password must contain a special character")
	assert.Len(t, s.repo.users, 2)
}

func TestRegister_InvalidEmailAndMissingPassword(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/users", `{"email":"not-an-email"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body common.ValidationBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.ElementsMatch(t, []common.Violation{
		{Field: "email", Message: "Valid email is required"},
		{Field: "password", Message: "Password is required"},
	}, body.Errors)
}

func TestRegister_Duplicate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/users", `{"email":"bob@example.com","password":"Str0ng-Passw0rd!"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"Account already exists"}`, rec.Body.String())
}

func TestMe(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/users/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/users/me", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/users/me", "", s.token(t, 2, "bob", models.RoleUser))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		User models.UserSummary `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bob", body.User.Username)

	rec = s.do(http.MethodGet, "/api/users/me", "", s.token(t, 99, "ghost", models.RoleUser))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListUsers_AdminOnly(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/users", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/users", "", s.token(t, 2, "bob", models.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Insufficient permissions"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/users", "", s.token(t, 1, "admin", models.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "password")
	var body struct {
		Users []models.UserSummary `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Users, 2)
}

func TestListUsers_StorageFailureIsGeneric(t *testing.T) {
	s := newTestServer(t)
	s.repo.listErr = errors.New(`pq: relation "users" does not exist`)

	rec := s.do(http.MethodGet, "/api/users", "", s.token(t, 1, "admin", models.RoleAdmin))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "relation")
	logged := false
	for _, e := range s.hook.AllEntries() {
		if strings.Contains(e.Message, "relation") {
			logged = true
		}
	}
	assert.True(t, logged, "storage error should be logged server-side")
}

func TestDownload(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, 2, "bob", models.RoleUser)

	tests := []struct {
		name   string
		target string
		token  string
		code   int
	}{
		{"no token", "/api/files?name=photo.jpg", "", http.StatusUnauthorized},
		{"inside base", "/api/files?name=photo.jpg", token, http.StatusOK},
		{"missing name", "/api/files", token, http.StatusBadRequest},
		{"parent escape", "/api/files?name=../outside.txt", token, http.StatusForbidden},
		{"deep escape", "/api/files?name=../../../../etc/passwd", token, http.StatusForbidden},
		{"encoded escape", "/api/files?name=..%2F..%2Fetc%2Fpasswd", token, http.StatusForbidden},
		{"absolute path", "/api/files?name=/etc/passwd", token, http.StatusForbidden},
		{"missing file", "/api/files?name=absent.txt", token, http.StatusNotFound},
		{"directory", "/api/files?name=docs", token, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(http.MethodGet, tc.target, "", tc.token)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "top secret")
		})
	}

	rec := s.do(http.MethodGet, "/api/files?name=photo.jpg", "", token)
	assert.Equal(t, "photo-bytes", rec.Body.String())
	assert.Equal(t, `attachment; filename=photo.jpg`, rec.Header().Get("Content-Disposition"))
}

func TestRouting_NotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Route not found"}`, rec.Body.String())

	rec = s.do(http.MethodDelete, "/api/users", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"Method not allowed"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	for origin, want := range map[string]string{
		allowedOrigin:          allowedOrigin,
		"https://evil.example": "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Header().Get("Access-Control-Allow-Origin"), origin)
		assert.NotEqual(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestResponsesCarrySecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/health", "", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/auth/login", loginBody("admin", "wrong-pass"), "")
	s.do(http.MethodPost, "/api/auth/login", loginBody("admin", adminPassword), "")

	rec := s.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `auth_login_attempts_total{status="failure"} 1`)
	assert.Contains(t, rec.Body.String(), `auth_login_attempts_total{status="success"} 1`)
}

func TestDecodeJSON_BodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	big := `{"email":"` + string(bytes.Repeat([]byte("a"), maxBodyBytes)) + `"}`

	rec := s.do(http.MethodPost, "/api/users", big, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
