package person

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/pkg/pagination"
)

type PersonRepository interface {
	// Create and Update write the person row and every name, address and
	// attribute attached to it.
	Create(ctx context.Context, p *Person) error
	Update(ctx context.Context, p *Person) error
	GetByID(ctx context.Context, id uuid.UUID) (*Person, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, q Query, page pagination.Params) ([]*Person, int, error)
	Similar(ctx context.Context, nameTokens []string, birthYear *int, gender string) ([]*Person, error)
	// VoidDetails voids the non-voided names, addresses and attributes of a
	// person; UnvoidDetails reverses it for rows voided at voidedAt.
	VoidDetails(ctx context.Context, personID uuid.UUID, user, reason string, at time.Time) error
	UnvoidDetails(ctx context.Context, personID uuid.UUID, voidedAt time.Time) error
	// CopyDetails copies names and addresses of from onto to as non-preferred rows.
	CopyDetails(ctx context.Context, from, to uuid.UUID, user string) error
}

type AttributeTypeRepository interface {
	Create(ctx context.Context, t *PersonAttributeType) error
	Update(ctx context.Context, t *PersonAttributeType) error
	GetByID(ctx context.Context, id uuid.UUID) (*PersonAttributeType, error)
	GetByName(ctx context.Context, name string) (*PersonAttributeType, error)
	List(ctx context.Context, includeRetired bool) ([]*PersonAttributeType, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type RelationshipTypeRepository interface {
	Create(ctx context.Context, t *RelationshipType) error
	Update(ctx context.Context, t *RelationshipType) error
	GetByID(ctx context.Context, id uuid.UUID) (*RelationshipType, error)
	List(ctx context.Context, includeRetired bool) ([]*RelationshipType, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type RelationshipRepository interface {
	Create(ctx context.Context, r *Relationship) error
	Update(ctx context.Context, r *Relationship) error
	GetByID(ctx context.Context, id uuid.UUID) (*Relationship, error)
	List(ctx context.Context, q RelationshipQuery) ([]*Relationship, error)
	Delete(ctx context.Context, id uuid.UUID) error
	VoidByPerson(ctx context.Context, personID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByPerson(ctx context.Context, personID uuid.UUID, voidedAt time.Time) error
}
