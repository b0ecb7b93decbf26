package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
)

// Encounter is one interaction between a patient and the health system,
// e.g. a consultation or a lab draw.
type Encounter struct {
	ID uuid.UUID `json:"id"`
	base.Data
	PatientID         uuid.UUID            `json:"patient_id" validate:"required"`
	EncounterTypeID   uuid.UUID            `json:"encounter_type_id" validate:"required"`
	EncounterDatetime time.Time            `json:"encounter_datetime"`
	LocationID        *uuid.UUID           `json:"location_id,omitempty"`
	FormID            *uuid.UUID           `json:"form_id,omitempty"`
	VisitID           *uuid.UUID           `json:"visit_id,omitempty"`
	Providers         []*EncounterProvider `json:"providers" validate:"dive"`
}

// EncounterProvider links a provider to an encounter in a role.
type EncounterProvider struct {
	ID              uuid.UUID `json:"id"`
	EncounterID     uuid.UUID `json:"encounter_id"`
	ProviderID      uuid.UUID `json:"provider_id" validate:"required"`
	EncounterRoleID uuid.UUID `json:"encounter_role_id" validate:"required"`
	base.Data
}

// ActiveProviders returns the non-voided providers.
func (e *Encounter) ActiveProviders() []*EncounterProvider {
	var out []*EncounterProvider
	for _, p := range e.Providers {
		if !p.Voided {
			out = append(out, p)
		}
	}
	return out
}

// EncounterType classifies encounters. When set, the privileges restrict
// who may view or edit encounters of the type.
type EncounterType struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	ViewPrivilege *string `json:"view_privilege,omitempty"`
	EditPrivilege *string `json:"edit_privilege,omitempty"`
}

type EncounterRole struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
}

// Criteria filters encounter searches; zero fields match all.
type Criteria struct {
	PatientID        *uuid.UUID
	VisitIDs         []uuid.UUID
	EncounterTypeIDs []uuid.UUID
	LocationID       *uuid.UUID
	FromDate         *time.Time
	ToDate           *time.Time
	IncludeVoided    bool
}

// ErrTypesLocked is returned while EncounterType.encounterTypes.locked is
// true.
var ErrTypesLocked = apierr.Locked("EncounterType.error.locked", "encounter types are locked")

// PurgeHook deletes rows that reference an encounter before it is purged.
type PurgeHook struct {
	Name  string
	Purge func(ctx context.Context, encounterID uuid.UUID) error
}

// TransferHook copies dependents of an encounter to its transferred copy.
type TransferHook struct {
	Name     string
	Transfer func(ctx context.Context, from, to, patientID uuid.UUID) error
}
