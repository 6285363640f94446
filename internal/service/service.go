package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dan9191/devsecops-api/internal/auth"
	"github.com/Dan9191/devsecops-api/internal/common"
	"github.com/Dan9191/devsecops-api/internal/models"
	"github.com/sirupsen/logrus"
)

// UserRepository is the storage the account service needs.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
	Burn(plaintext string)
}

// TokenIssuer mints bearer tokens.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, error)
}

// Notifier is told about new accounts. Implementations must not block.
type Notifier interface {
	NotifyRegistered(email string)
}

// LoginResult is returned on successful authentication
type LoginResult struct {
	Token string             `json:"token"`
	User  models.UserSummary `json:"user"`
}

// Service handles account business logic
type Service struct {
	repo      UserRepository
	hasher    PasswordHasher
	tokens    TokenIssuer
	validator *Validator
	notifier  Notifier
	log       *logrus.Logger
}

// NewService initializes a new service. notifier may be nil.
func NewService(repo UserRepository, hasher PasswordHasher, tokens TokenIssuer, validator *Validator, notifier Notifier, log *logrus.Logger) *Service {
	return &Service{
		repo:      repo,
		hasher:    hasher,
		tokens:    tokens,
		validator: validator,
		notifier:  notifier,
		log:       log,
	}
}

// Register creates a new account with role user and a hashed password
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.UserSummary, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validator.ValidateRegistration(in); err != nil {
		return nil, err
	}

	hashedPassword, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     in.Email,
		Email:        in.Email,
		PasswordHash: hashedPassword,
		Role:         models.RoleUser,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "email": user.Email}).Info("User registered")
	if s.notifier != nil {
		s.notifier.NotifyRegistered(user.Email)
	}
	summary := user.Summary()
	return &summary, nil
}

// Login authenticates a user and returns a token with the account summary.
// Unknown usernames and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, common.BadRequest("Username and password are required")
	}

	user, err := s.repo.FindUserByUsername(ctx, username)
	if errors.Is(err, common.ErrNotFound) {
		s.hasher.Burn(password)
		s.log.WithField("username", username).Warn("Login failed")
		return nil, common.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.log.WithField("username", username).Warn("Login failed")
		return nil, common.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(auth.Identity{ID: user.ID, Username: user.Username, Role: user.Role})
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("User logged in")
	return &LoginResult{Token: token, User: user.Summary()}, nil
}

// GetProfile returns the caller's own account
func (s *Service) GetProfile(ctx context.Context, id int64) (*models.UserSummary, error) {
	user, err := s.repo.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := user.Summary()
	return &summary, nil
}

// ListAccounts returns every account. Callers must have gated this to admins.
func (s *Service) ListAccounts(ctx context.Context) ([]models.UserSummary, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return out, nil
}
