package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/pkg/pagination"
)

// PatientRepository stores the patient row and its identifiers. The person
// part lives in the person repositories.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	Update(ctx context.Context, p *Patient) error
	// GetByID returns the patient audit fields and identifiers; Person is
	// left for the caller to fill.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, q Query, page pagination.Params) ([]uuid.UUID, int, error)
	FindIdentifiers(ctx context.Context, q IdentifierQuery) ([]*PatientIdentifier, error)
	VoidIdentifiers(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error
	UnvoidIdentifiers(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error
}

type IdentifierTypeRepository interface {
	Create(ctx context.Context, t *PatientIdentifierType) error
	Update(ctx context.Context, t *PatientIdentifierType) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientIdentifierType, error)
	GetByName(ctx context.Context, name string) (*PatientIdentifierType, error)
	List(ctx context.Context, includeRetired bool) ([]*PatientIdentifierType, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type MergeLogRepository interface {
	Create(ctx context.Context, l *MergeLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*MergeLog, error)
	ListByWinner(ctx context.Context, winner uuid.UUID) ([]*MergeLog, error)
}
