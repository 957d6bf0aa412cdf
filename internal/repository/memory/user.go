package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/models"
)

type UserStore struct {
	db *DB
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, u *models.User) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, existing := range s.db.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return nil, fmt.Errorf("insert user: email %q already exists", u.Email)
		}
	}
	c := copyUser(u)
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.DeviceTokens == nil {
		c.DeviceTokens = []string{}
	}
	s.db.users[c.ID] = c
	return copyUser(c), nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	u, ok := s.db.users[userID]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, u := range s.db.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (s *UserStore) AddDeviceToken(ctx context.Context, userID uuid.UUID, token string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	u, ok := s.db.users[userID]
	if !ok {
		return nil
	}
	if !slices.Contains(u.DeviceTokens, token) {
		u.DeviceTokens = append(u.DeviceTokens, token)
	}
	return nil
}

func (s *UserStore) RemoveDeviceToken(ctx context.Context, userID uuid.UUID, token string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if u, ok := s.db.users[userID]; ok {
		u.DeviceTokens = slices.DeleteFunc(u.DeviceTokens, func(t string) bool { return t == token })
	}
	return nil
}

func (s *UserStore) SetActive(ctx context.Context, userID uuid.UUID, active bool) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if u, ok := s.db.users[userID]; ok {
		u.IsActive = active
	}
	return nil
}

func (s *UserStore) TouchLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if u, ok := s.db.users[userID]; ok {
		u.LastLoginAt = &at
	}
	return nil
}
