package users

import (
	"time"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// Role assigns a user to one functional area.
type Role string

const (
	RoleAdmin             Role = "admin"
	RoleProductionManager Role = "production_manager"
	RolePurchaseManager   Role = "purchase_manager"
	RoleSalesManager      Role = "sales_manager"
	RoleFinanceManager    Role = "finance_manager"
	RoleWarehouseStaff    Role = "warehouse_staff"
)

// Valid reports a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProductionManager, RolePurchaseManager, RoleSalesManager, RoleFinanceManager, RoleWarehouseStaff:
		return true
	}
	return false
}

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Profile   *Profile  `json:"profile,omitempty"`
}

// Profile carries the role and contact details of a user.
type Profile struct {
	Role       Role   `json:"role"`
	Department string `json:"department"`
	Phone      string `json:"phone"`
}

// CreateUserInput describes a new account.
type CreateUserInput struct {
	Email      string
	Name       string
	Password   string
	Role       Role
	Department string
	Phone      string
}

const minPasswordLength = 8

var (
	// ErrDuplicateEmail indicates an email already registered.
	ErrDuplicateEmail = shared.Conflict("users: email already registered")
	// ErrInvalidRole indicates an unknown role.
	ErrInvalidRole = shared.Validation("users: unknown role")
	// ErrWeakPassword indicates a password below the minimum length.
	ErrWeakPassword = shared.Validation("users: password too short")
	// ErrUserNotFound indicates a missing user.
	ErrUserNotFound = shared.NotFound("users: user not found")
)
