package auth

import (
	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/models"
)

// Principal is the authenticated caller of a core operation.
type Principal struct {
	UserID uuid.UUID
	Role   models.Role
}

// Capability is a single role-gated permission.
type Capability uint8

const (
	CapCreateTask Capability = 1 << iota
	CapViewAllTasks
	CapManageUsers
	CapMessage
)

// Capabilities is a set of Capability bits.
type Capabilities uint8

func (c Capabilities) Has(want Capability) bool {
	return uint8(c)&uint8(want) != 0
}

var roleCapabilities = map[models.Role]Capabilities{
	models.RoleAdmin:    Capabilities(CapCreateTask | CapViewAllTasks | CapManageUsers | CapMessage),
	models.RoleManager:  Capabilities(CapCreateTask | CapViewAllTasks | CapMessage),
	models.RoleEmployee: Capabilities(CapCreateTask | CapMessage),
}

// PermissionsFor returns the capability set for a role. Unknown roles get
// the Employee set.
func PermissionsFor(role models.Role) Capabilities {
	if caps, ok := roleCapabilities[role]; ok {
		return caps
	}
	return roleCapabilities[models.RoleEmployee]
}

// Can is shorthand for PermissionsFor(p.Role).Has(want).
func (p Principal) Can(want Capability) bool {
	return PermissionsFor(p.Role).Has(want)
}
