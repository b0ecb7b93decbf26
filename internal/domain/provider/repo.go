package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/pkg/pagination"
)

// ProviderRepository stores providers together with their attributes.
type ProviderRepository interface {
	Create(ctx context.Context, p *Provider) error
	Update(ctx context.Context, p *Provider) error
	GetByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	Delete(ctx context.Context, id uuid.UUID) error
	GetByIdentifier(ctx context.Context, identifier string) (*Provider, error)
	ListByPerson(ctx context.Context, personID uuid.UUID, includeRetired bool) ([]*Provider, error)
	Search(ctx context.Context, q Query, page pagination.Params) ([]*Provider, int, error)
}

type AttributeTypeRepository interface {
	Create(ctx context.Context, t *base.AttributeType) error
	Update(ctx context.Context, t *base.AttributeType) error
	GetByID(ctx context.Context, id uuid.UUID) (*base.AttributeType, error)
	GetByName(ctx context.Context, name string) (*base.AttributeType, error)
	List(ctx context.Context, includeRetired bool) ([]*base.AttributeType, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
