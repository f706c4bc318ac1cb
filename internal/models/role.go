package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Known role names. The catalog stores one row per name.
const (
	RoleSuperAdmin      = "SuperAdmin"
	RoleAdmin           = "Admin"
	RoleFrontend        = "Frontend"
	RoleBackend         = "Backend"
	RoleProductManager  = "ProductManagers"
	RoleProductDesigner = "ProductDesigners"
	RoleSeller          = "Seller"
	RoleBuyer           = "Buyer"
)

// Role is a catalog entry. Users hold denormalized snapshots of these
// rows; editing a Role never changes an existing assignment.
type Role struct {
	ID          uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string                      `gorm:"size:50;not null;uniqueIndex" json:"name"`
	Level       int                         `gorm:"not null;index" json:"level"`
	Permissions datatypes.JSONSlice[string] `json:"permissions"`
	Description string                      `gorm:"size:255" json:"description,omitempty"`
	IsActive    bool                        `gorm:"default:true" json:"is_active"`
	CanSignUp   bool                        `gorm:"default:true" json:"can_sign_up"`
	CanLogin    bool                        `gorm:"default:true" json:"can_login"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// Snapshot copies the catalog row into an assignment bound to userID.
func (r *Role) Snapshot(userID uuid.UUID, now time.Time) RoleAssignment {
	return RoleAssignment{
		ID:         uuid.New(),
		UserID:     userID,
		RoleID:     r.ID,
		Name:       r.Name,
		Level:      r.Level,
		AssignedAt: now,
		IsActive:   true,
		CanLogin:   r.CanLogin,
	}
}
