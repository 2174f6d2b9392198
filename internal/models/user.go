package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Role is either RoleAdmin or the name of a department.
type Role string

// RoleAdmin can read and act across every department.
const RoleAdmin Role = "admin"

// RoleFor returns the role assigned to department users.
func RoleFor(d Department) Role { return Role(d) }

// ParseRole validates a role string, ignoring case and surrounding space.
func ParseRole(s string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if Role(normalized) == RoleAdmin {
		return RoleAdmin, nil
	}
	d, err := ParseDepartment(normalized)
	if err != nil {
		return "", errors.Errorf("unknown role %q", s)
	}
	return RoleFor(d), nil
}

// IsAdmin reports whether r is the admin super-role.
func (r Role) IsAdmin() bool { return r == RoleAdmin }

// Department returns the department a non-admin role is assigned to.
func (r Role) Department() (Department, bool) {
	d := Department(r)
	return d, d.Valid()
}

// User is an operator of one department or an administrator.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Name         string    `gorm:"not null" json:"name"`
	Role         Role      `gorm:"not null;index" json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BeforeCreate is a GORM hook that populates the primary key.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
