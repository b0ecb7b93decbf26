package user

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/emr/pkg/pagination"
)

// UserRepository stores users with their roles and password hash. The hash
// never travels on User.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByUsername matches the username or the system id.
	GetByUsername(ctx context.Context, username string) (*User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, q Query, page pagination.Params) ([]*User, int, error)
	ListByPerson(ctx context.Context, personID uuid.UUID, includeRetired bool) ([]*User, error)
	NextSystemSequence(ctx context.Context) (int64, error)
	GetPasswordHash(ctx context.Context, id uuid.UUID) (string, error)
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

type RoleRepository interface {
	Save(ctx context.Context, r *Role) error
	Get(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Delete(ctx context.Context, name string) error
}

type PrivilegeRepository interface {
	Save(ctx context.Context, p *Privilege) error
	Get(ctx context.Context, name string) (*Privilege, error)
	List(ctx context.Context) ([]*Privilege, error)
	Delete(ctx context.Context, name string) error
}
