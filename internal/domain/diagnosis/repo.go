package diagnosis

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Diagnosis) error
	Update(ctx context.Context, d *Diagnosis) error
	GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error)
	// Search orders by rank, then newest first.
	Search(ctx context.Context, c Criteria) ([]*Diagnosis, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByEncounter(ctx context.Context, encounterID uuid.UUID) error
	VoidByEncounter(ctx context.Context, encounterID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByEncounter(ctx context.Context, encounterID uuid.UUID, voidedAt time.Time) error
	VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error
	ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error
}
