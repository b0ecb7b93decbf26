package user

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
)

// User is an account that can log in. Name holds the display name and
// defaults to the username.
type User struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	PersonID   *uuid.UUID        `json:"person_id,omitempty"`
	Username   string            `json:"username" validate:"required,max=50"`
	SystemID   string            `json:"system_id"`
	Email      *string           `json:"email,omitempty" validate:"omitempty,email"`
	Roles      []string          `json:"roles"`
	Properties map[string]string `json:"properties"`
}

// HasRole reports whether the user holds role directly.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Role groups privileges. A role also grants the privileges of the roles it
// inherits.
type Role struct {
	Name           string   `json:"name" validate:"required,max=50"`
	Description    *string  `json:"description,omitempty"`
	Privileges     []string `json:"privileges"`
	InheritedRoles []string `json:"inherited_roles"`
}

type Privilege struct {
	Name        string  `json:"name" validate:"required,max=255"`
	Description *string `json:"description,omitempty"`
}

// Query filters user searches. Roles match users holding any of them.
type Query struct {
	Text           string
	Roles          []string
	IncludeRetired bool
}

// User properties maintained by authentication.
const (
	PropLoginAttempts    = "loginAttempts"
	PropLockoutTimestamp = "lockoutTimestamp"
)

// LockoutDuration is how long an account stays locked after too many failed
// logins.
const LockoutDuration = 5 * time.Minute

// CoreRoles cannot be purged.
var CoreRoles = []string{auth.AnonymousRole, auth.AuthenticatedRole, auth.SuperUserRole}

func isCoreRole(name string) bool {
	for _, r := range CoreRoles {
		if r == name {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, apierr.ErrNotFound)
}
