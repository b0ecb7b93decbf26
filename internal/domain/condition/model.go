// Package condition records a patient's problems over time. Edits keep the
// prior version voided and linked.
package condition

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
)

const (
	StatusActive    = "ACTIVE"
	StatusInactive  = "INACTIVE"
	StatusHistoryOf = "HISTORY_OF"

	VerificationProvisional = "PROVISIONAL"
	VerificationConfirmed   = "CONFIRMED"

	// ReasonEdited voids the version an edit replaces.
	ReasonEdited = "Condition edited"
)

type Condition struct {
	ID uuid.UUID `json:"id"`
	base.Data
	PatientID            uuid.UUID            `json:"patient_id" validate:"required"`
	EncounterID          *uuid.UUID           `json:"encounter_id,omitempty"`
	Condition            base.CodedOrFreeText `json:"condition"`
	ClinicalStatus       string               `json:"clinical_status" validate:"omitempty,oneof=ACTIVE INACTIVE HISTORY_OF"`
	VerificationStatus   *string              `json:"verification_status,omitempty" validate:"omitempty,oneof=PROVISIONAL CONFIRMED"`
	OnsetDate            *time.Time           `json:"onset_date,omitempty"`
	EndDate              *time.Time           `json:"end_date,omitempty"`
	EndReason            *string              `json:"end_reason,omitempty" validate:"omitempty,max=255"`
	AdditionalDetail     *string              `json:"additional_detail,omitempty" validate:"omitempty,max=1024"`
	FormNamespaceAndPath *string              `json:"form_namespace_and_path,omitempty" validate:"omitempty,max=255"`
	PreviousVersionID    *uuid.UUID           `json:"previous_version_id,omitempty"`
}

// sameAs reports whether o carries the same clinical content.
func (c *Condition) sameAs(o *Condition) bool {
	eqStr := func(a, b *string) bool { return base.StrVal(a) == base.StrVal(b) }
	eqTime := func(a, b *time.Time) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.Equal(*b)
	}
	eqID := func(a, b *uuid.UUID) bool {
		if a == nil || b == nil {
			return a == b
		}
		return *a == *b
	}
	return c.PatientID == o.PatientID && eqID(c.EncounterID, o.EncounterID) &&
		c.Condition.Key() == o.Condition.Key() && eqStr(c.Condition.SpecificName, o.Condition.SpecificName) &&
		c.ClinicalStatus == o.ClinicalStatus && eqStr(c.VerificationStatus, o.VerificationStatus) &&
		eqTime(c.OnsetDate, o.OnsetDate) && eqTime(c.EndDate, o.EndDate) &&
		eqStr(c.EndReason, o.EndReason) && eqStr(c.AdditionalDetail, o.AdditionalDetail) &&
		eqStr(c.FormNamespaceAndPath, o.FormNamespaceAndPath)
}
