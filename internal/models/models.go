package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the coarse permission class of a user. Capabilities per role live
// in the auth package; models only carry the value.
type Role string

const (
	RoleAdmin    Role = "Admin"
	RoleManager  Role = "Manager"
	RoleEmployee Role = "Employee"
)

// ParseRole maps any casing of a known role to its canonical value. Unknown
// or empty input becomes Employee, the least privileged role.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin
	case "manager":
		return RoleManager
	default:
		return RoleEmployee
	}
}

// User is never hard-deleted; IsActive=false is the soft deactivation.
//
// DeviceTokens is a set: a user can be logged in on several devices and
// each one registers its own push token.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	Department   string     `json:"department,omitempty"`
	PasswordHash string     `json:"-"`
	DeviceTokens []string   `json:"-"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
