package serialization

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, o *SerializedObject) error
	GetByID(ctx context.Context, id uuid.UUID) (*SerializedObject, error)
	Update(ctx context.Context, o *SerializedObject) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByType(ctx context.Context, typ string, includeRetired bool) ([]*SerializedObject, error)
}
