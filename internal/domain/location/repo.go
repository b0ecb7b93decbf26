package location

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/emr/pkg/pagination"
)

type LocationRepository interface {
	Create(ctx context.Context, l *Location) error
	Update(ctx context.Context, l *Location) error
	GetByID(ctx context.Context, id uuid.UUID) (*Location, error)
	GetByName(ctx context.Context, name string) (*Location, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, includeRetired bool) ([]*Location, error)
	Search(ctx context.Context, q Query, page pagination.Params) ([]*Location, int, error)
	ListChildren(ctx context.Context, parentID uuid.UUID, includeRetired bool) ([]*Location, error)
	// ListByTags returns non-retired locations carrying all of the tags, or
	// any of them when all is false.
	ListByTags(ctx context.Context, tagIDs []uuid.UUID, all bool) ([]*Location, error)
}

type TagRepository interface {
	Create(ctx context.Context, t *LocationTag) error
	Update(ctx context.Context, t *LocationTag) error
	GetByID(ctx context.Context, id uuid.UUID) (*LocationTag, error)
	GetByName(ctx context.Context, name string) (*LocationTag, error)
	List(ctx context.Context, includeRetired bool) ([]*LocationTag, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
