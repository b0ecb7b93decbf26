package cohort

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CohortRepository stores cohorts without their memberships.
type CohortRepository interface {
	Create(ctx context.Context, c *Cohort) error
	Update(ctx context.Context, c *Cohort) error
	GetByID(ctx context.Context, id uuid.UUID) (*Cohort, error)
	GetByName(ctx context.Context, name string) (*Cohort, error)
	List(ctx context.Context, includeVoided bool) ([]*Cohort, error)
	Find(ctx context.Context, fragment string) ([]*Cohort, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type MembershipRepository interface {
	Create(ctx context.Context, m *CohortMembership) error
	Update(ctx context.Context, m *CohortMembership) error
	GetByID(ctx context.Context, id uuid.UUID) (*CohortMembership, error)
	// Search orders by start_date.
	Search(ctx context.Context, c MembershipCriteria) ([]*CohortMembership, error)
	VoidByCohort(ctx context.Context, cohortID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByCohort(ctx context.Context, cohortID uuid.UUID, voidedAt time.Time) error
	VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error
	ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error
}
