package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dan9191/devsecops-api/internal/common"
	"github.com/Dan9191/devsecops-api/internal/models"
	"github.com/lib/pq"
)

// Every statement is a constant; request values only ever travel as bound parameters.
const (
	queryCreateUser = `
		INSERT INTO users (username, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	queryFindUserByUsername = `
		SELECT id, username, email, password_hash, role, created_at
		FROM users
		WHERE username = $1`

	queryFindUserByID = `
		SELECT id, username, email, password_hash, role, created_at
		FROM users
		WHERE id = $1`

	queryListUsers = `
		SELECT id, username, email, password_hash, role, created_at
		FROM users
		ORDER BY id`

	queryUpdateRole = `
		UPDATE users SET role = $1
		WHERE username = $2`
)

const uniqueViolation = "unique_violation"

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser inserts user and fills in its generated ID and creation time
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	err := r.db.QueryRowContext(ctx, queryCreateUser, user.Username, user.Email, user.PasswordHash, string(user.Role)).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == uniqueViolation {
			return fmt.Errorf("failed to create user: %w", common.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByUsername retrieves a user by username
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, queryFindUserByUsername, username)
}

// FindUserByID retrieves a user by ID
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findOne(ctx, queryFindUserByID, id)
}

func (r *Repository) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	var role string
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user.Role = models.Role(role)
	return user, nil
}

// ListUsers returns every account ordered by ID
func (r *Repository) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, queryListUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var (
			u    models.User
			role string
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Role = models.Role(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// UpdateRole changes the role of an existing account. This is an
// administrative operation; no HTTP route reaches it.
func (r *Repository) UpdateRole(ctx context.Context, username string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	res, err := r.db.ExecContext(ctx, queryUpdateRole, string(role), username)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
