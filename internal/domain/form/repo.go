package form

import (
	"context"

	"github.com/google/uuid"
)

// FormRepository stores forms together with their form fields.
type FormRepository interface {
	Create(ctx context.Context, f *Form) error
	Update(ctx context.Context, f *Form) error
	GetByID(ctx context.Context, id uuid.UUID) (*Form, error)
	GetByNameAndVersion(ctx context.Context, name, version string) (*Form, error)
	ListByName(ctx context.Context, name string) ([]*Form, error)
	List(ctx context.Context, includeRetired bool) ([]*Form, error)
	ListPublished(ctx context.Context) ([]*Form, error)
	// ListContainingConcept returns the non-retired forms with a field
	// bound to concept.
	ListContainingConcept(ctx context.Context, concept string) ([]*Form, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type FieldRepository interface {
	Create(ctx context.Context, f *Field) error
	Update(ctx context.Context, f *Field) error
	GetByID(ctx context.Context, id uuid.UUID) (*Field, error)
	Find(ctx context.Context, fragment string, includeRetired bool) ([]*Field, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ResourceRepository interface {
	Create(ctx context.Context, r *FormResource) error
	Update(ctx context.Context, r *FormResource) error
	GetByID(ctx context.Context, id uuid.UUID) (*FormResource, error)
	GetByName(ctx context.Context, formID uuid.UUID, name string) (*FormResource, error)
	ListByForm(ctx context.Context, formID uuid.UUID) ([]*FormResource, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
