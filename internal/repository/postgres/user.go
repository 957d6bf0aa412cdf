package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pushkarjay/safecom/internal/models"
)

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = `id, email, name, role, department, password_hash, device_tokens, is_active, last_login_at, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.Role,
		&u.Department,
		&u.PasswordHash,
		&u.DeviceTokens,
		&u.IsActive,
		&u.LastLoginAt,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user row. Postgres generates the UUID and timestamp.
func (s *UserStore) Create(ctx context.Context, u *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (email, name, role, department, password_hash, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING ` + userColumns

	created, err := scanUser(s.pool.QueryRow(ctx, query,
		u.Email, u.Name, u.Role, u.Department, u.PasswordHash, u.IsActive))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetByEmail looks up a user by email for login.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

	u, err := scanUser(s.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) AddDeviceToken(ctx context.Context, userID uuid.UUID, token string) error {
	// The array_append runs only when the token is absent, inside one
	// UPDATE, so two devices registering at once cannot duplicate a token.
	query := `
		UPDATE users
		SET device_tokens = array_append(device_tokens, $2)
		WHERE id = $1 AND NOT ($2 = ANY(device_tokens))`

	if _, err := s.pool.Exec(ctx, query, userID, token); err != nil {
		return fmt.Errorf("add device token: %w", err)
	}
	return nil
}

func (s *UserStore) RemoveDeviceToken(ctx context.Context, userID uuid.UUID, token string) error {
	query := `UPDATE users SET device_tokens = array_remove(device_tokens, $2) WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, userID, token); err != nil {
		return fmt.Errorf("remove device token: %w", err)
	}
	return nil
}

func (s *UserStore) SetActive(ctx context.Context, userID uuid.UUID, active bool) error {
	if _, err := s.pool.Exec(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, userID, active); err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return nil
}

func (s *UserStore) TouchLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	if _, err := s.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, userID, at); err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}
