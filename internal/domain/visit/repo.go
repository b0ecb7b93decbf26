package visit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/pkg/pagination"
)

type VisitRepository interface {
	Create(ctx context.Context, v *Visit) error
	Update(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// Search orders by start_datetime descending.
	Search(ctx context.Context, c Criteria, page pagination.Params) ([]*Visit, int, error)
	VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error
	ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error
}

type VisitTypeRepository interface {
	Create(ctx context.Context, t *VisitType) error
	Update(ctx context.Context, t *VisitType) error
	GetByID(ctx context.Context, id uuid.UUID) (*VisitType, error)
	GetByName(ctx context.Context, name string) (*VisitType, error)
	List(ctx context.Context, includeRetired bool) ([]*VisitType, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type AttributeTypeRepository interface {
	Create(ctx context.Context, t *base.AttributeType) error
	Update(ctx context.Context, t *base.AttributeType) error
	GetByID(ctx context.Context, id uuid.UUID) (*base.AttributeType, error)
	GetByName(ctx context.Context, name string) (*base.AttributeType, error)
	List(ctx context.Context, includeRetired bool) ([]*base.AttributeType, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
