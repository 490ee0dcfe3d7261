package model

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleRenter   UserRole = "RENTER"
	UserRoleLotOwner UserRole = "LOT_OWNER"
	UserRoleAdmin    UserRole = "ADMIN"
)

// Principal is the authenticated caller extracted from an access token.
type Principal struct {
	UserID uuid.UUID
	Role   UserRole
}

func (p Principal) IsRenter() bool {
	return p.Role == UserRoleRenter
}

// IsLotOwner reports whether the caller may manage lots, sensors and
// event exports. Admins implicitly qualify.
func (p Principal) IsLotOwner() bool {
	return p.Role == UserRoleLotOwner || p.Role == UserRoleAdmin
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}
