package condition

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Condition) error
	Update(ctx context.Context, c *Condition) error
	GetByID(ctx context.Context, id uuid.UUID) (*Condition, error)
	// ListByPatient orders the newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID, includeVoided bool) ([]*Condition, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Condition, error)
	Delete(ctx context.Context, id uuid.UUID) error
	VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error
	ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error
}
