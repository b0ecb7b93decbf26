package order

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/pkg/pagination"
)

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByOrderNumber(ctx context.Context, number string) (*Order, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// Search orders by date_activated descending.
	Search(ctx context.Context, c Criteria, page pagination.Params) ([]*Order, int, error)
	NextOrderNumber(ctx context.Context) (int64, error)
	VoidByEncounter(ctx context.Context, encounterID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByEncounter(ctx context.Context, encounterID uuid.UUID, voidedAt time.Time) error
	DeleteByEncounter(ctx context.Context, encounterID uuid.UUID) error
	VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error
	UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error
	ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error
}

type OrderTypeRepository interface {
	Create(ctx context.Context, t *OrderType) error
	Update(ctx context.Context, t *OrderType) error
	GetByID(ctx context.Context, id uuid.UUID) (*OrderType, error)
	GetByName(ctx context.Context, name string) (*OrderType, error)
	List(ctx context.Context, includeRetired bool) ([]*OrderType, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type CareSettingRepository interface {
	Create(ctx context.Context, cs *CareSetting) error
	Update(ctx context.Context, cs *CareSetting) error
	GetByID(ctx context.Context, id uuid.UUID) (*CareSetting, error)
	GetByName(ctx context.Context, name string) (*CareSetting, error)
	List(ctx context.Context, includeRetired bool) ([]*CareSetting, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type FrequencyRepository interface {
	Create(ctx context.Context, f *OrderFrequency) error
	Update(ctx context.Context, f *OrderFrequency) error
	GetByID(ctx context.Context, id uuid.UUID) (*OrderFrequency, error)
	GetByConcept(ctx context.Context, concept string) (*OrderFrequency, error)
	List(ctx context.Context, includeRetired bool) ([]*OrderFrequency, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
