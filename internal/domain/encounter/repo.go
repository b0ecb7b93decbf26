package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/pkg/pagination"
)

type EncounterRepository interface {
	Create(ctx context.Context, e *Encounter) error
	Update(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// Search orders by encounter_datetime descending.
	Search(ctx context.Context, c Criteria, page pagination.Params) ([]*Encounter, int, error)
	VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error
	ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error
}

type TypeRepository interface {
	Create(ctx context.Context, t *EncounterType) error
	Update(ctx context.Context, t *EncounterType) error
	GetByID(ctx context.Context, id uuid.UUID) (*EncounterType, error)
	GetByName(ctx context.Context, name string) (*EncounterType, error)
	List(ctx context.Context, includeRetired bool) ([]*EncounterType, error)
	Find(ctx context.Context, fragment string, includeRetired bool) ([]*EncounterType, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type RoleRepository interface {
	Create(ctx context.Context, r *EncounterRole) error
	Update(ctx context.Context, r *EncounterRole) error
	GetByID(ctx context.Context, id uuid.UUID) (*EncounterRole, error)
	List(ctx context.Context, includeRetired bool) ([]*EncounterRole, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
