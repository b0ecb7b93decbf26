package obs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/pkg/pagination"
)

// ObsRepository stores obs rows flat; group members reference their group
// through obs_group_id.
type ObsRepository interface {
	Create(ctx context.Context, o *Obs) error
	Update(ctx context.Context, o *Obs) error
	GetByID(ctx context.Context, id uuid.UUID) (*Obs, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// Search orders by obs_datetime descending.
	Search(ctx context.Context, c Criteria, page pagination.Params) ([]*Obs, int, error)
	Count(ctx context.Context, c Criteria) (int, error)
	// GetRevision returns the obs whose previous version is id.
	GetRevision(ctx context.Context, id uuid.UUID) (*Obs, error)
	VoidByEncounter(ctx context.Context, encounterID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByEncounter(ctx context.Context, encounterID uuid.UUID, voidedAt time.Time) error
	DeleteByEncounter(ctx context.Context, encounterID uuid.UUID) error
	VoidByPerson(ctx context.Context, personID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByPerson(ctx context.Context, personID uuid.UUID, voidedAt time.Time) error
	ReassignPerson(ctx context.Context, winner, loser uuid.UUID) error
}
