// Package diagnosis records the diagnoses made during encounters.
package diagnosis

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
)

const (
	CertaintyProvisional = "PROVISIONAL"
	CertaintyConfirmed   = "CONFIRMED"

	// RankPrimary marks the main diagnosis of an encounter; higher ranks
	// are secondary.
	RankPrimary = 1
)

type Diagnosis struct {
	ID uuid.UUID `json:"id"`
	base.Data
	EncounterID          uuid.UUID            `json:"encounter_id" validate:"required"`
	PatientID            uuid.UUID            `json:"patient_id" validate:"required"`
	ConditionID          *uuid.UUID           `json:"condition_id,omitempty"`
	Diagnosis            base.CodedOrFreeText `json:"diagnosis"`
	Certainty            string               `json:"certainty" validate:"omitempty,oneof=PROVISIONAL CONFIRMED"`
	Rank                 int                  `json:"rank"`
	FormNamespaceAndPath *string              `json:"form_namespace_and_path,omitempty" validate:"omitempty,max=255"`
}

// Criteria filters diagnosis searches.
type Criteria struct {
	EncounterIDs  []uuid.UUID
	PatientID     *uuid.UUID
	FromDate      *time.Time
	PrimaryOnly   bool
	ConfirmedOnly bool
	IncludeVoided bool
}
