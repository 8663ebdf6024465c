package model

import (
	"fmt"
	"time"
)

// User is a library account. Patrons borrow and reserve; librarians and
// admins may also act on behalf of patrons.
type User struct {
	ID           int64      `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Role         string     `json:"role" db:"role"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Roles.
const (
	RoleAdmin     = "admin"
	RoleLibrarian = "librarian"
	RolePatron    = "patron"
)

var roleLevels = map[string]int{
	RoleAdmin:     3,
	RoleLibrarian: 2,
	RolePatron:    1,
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	_, ok := roleLevels[role]
	return ok
}

// RoleAtLeast checks if role meets or exceeds the minimum required role.
// Unknown roles on either side fail closed.
func RoleAtLeast(role, minimum string) bool {
	have, ok := roleLevels[role]
	if !ok {
		return false
	}
	need, ok := roleLevels[minimum]
	if !ok {
		return false
	}
	return have >= need
}

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

var errPasswordTooShort = fmt.Errorf("%w: password must be at least %d characters", ErrInvalidArgument, MinPasswordLength)

// ValidatePassword checks password strength rules.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errPasswordTooShort
	}
	return nil
}

// Identity is an authenticated caller.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsStaff reports whether the caller may act on behalf of other users.
func (id Identity) IsStaff() bool {
	return RoleAtLeast(id.Role, RoleLibrarian)
}
