package program

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProgramRepository stores programs with their workflows and states.
type ProgramRepository interface {
	Create(ctx context.Context, p *Program) error
	Update(ctx context.Context, p *Program) error
	GetByID(ctx context.Context, id uuid.UUID) (*Program, error)
	GetByName(ctx context.Context, name string) (*Program, error)
	List(ctx context.Context, includeRetired bool) ([]*Program, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PatientProgramRepository stores enrolments with their states.
type PatientProgramRepository interface {
	Create(ctx context.Context, pp *PatientProgram) error
	Update(ctx context.Context, pp *PatientProgram) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientProgram, error)
	// Search orders by date_enrolled.
	Search(ctx context.Context, c Criteria) ([]*PatientProgram, error)
	Delete(ctx context.Context, id uuid.UUID) error
	VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error
	ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error
}
