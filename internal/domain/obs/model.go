// Package obs records observations: single clinical data points about a
// person, optionally grouped and tied to an encounter or order. Saved obs
// are never edited in place; a change creates a new version.
package obs

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
)

// Obs statuses.
const (
	StatusPreliminary = "PRELIMINARY"
	StatusFinal       = "FINAL"
	StatusAmended     = "AMENDED"
)

// ComplexModule is the storage module of complex obs values.
const ComplexModule = "obs"

type Obs struct {
	ID uuid.UUID `json:"id"`
	base.Data
	PersonID             uuid.UUID  `json:"person_id" validate:"required"`
	EncounterID          *uuid.UUID `json:"encounter_id,omitempty"`
	OrderID              *uuid.UUID `json:"order_id,omitempty"`
	Concept              string     `json:"concept" validate:"required,max=255"`
	ObsDatetime          time.Time  `json:"obs_datetime"`
	LocationID           *uuid.UUID `json:"location_id,omitempty"`
	ObsGroupID           *uuid.UUID `json:"obs_group_id,omitempty"`
	GroupMembers         []*Obs     `json:"group_members,omitempty" validate:"dive"`
	AccessionNumber      *string    `json:"accession_number,omitempty" validate:"omitempty,max=255"`
	ValueCoded           *string    `json:"value_coded,omitempty" validate:"omitempty,max=255"`
	ValueNumeric         *float64   `json:"value_numeric,omitempty"`
	ValueText            *string    `json:"value_text,omitempty" validate:"omitempty,max=65535"`
	ValueDatetime        *time.Time `json:"value_datetime,omitempty"`
	ValueComplex         *string    `json:"value_complex,omitempty"`
	Comment              *string    `json:"comment,omitempty" validate:"omitempty,max=255"`
	Status               string     `json:"status" validate:"omitempty,oneof=PRELIMINARY FINAL AMENDED"`
	Interpretation       *string    `json:"interpretation,omitempty" validate:"omitempty,oneof=NORMAL ABNORMAL CRITICALLY_ABNORMAL LOW HIGH CRITICALLY_LOW CRITICALLY_HIGH NEGATIVE POSITIVE"`
	PreviousVersionID    *uuid.UUID `json:"previous_version_id,omitempty"`
	FormNamespaceAndPath *string    `json:"form_namespace_and_path,omitempty" validate:"omitempty,max=255"`
}

// IsGroup reports whether o holds members instead of a value.
func (o *Obs) IsGroup() bool { return len(o.GroupMembers) > 0 }

func (o *Obs) valueCount() int {
	n := 0
	if o.ValueCoded != nil {
		n++
	}
	if o.ValueNumeric != nil {
		n++
	}
	if o.ValueText != nil {
		n++
	}
	if o.ValueDatetime != nil {
		n++
	}
	if o.ValueComplex != nil {
		n++
	}
	return n
}

// ActiveMembers returns the non-voided group members.
func (o *Obs) ActiveMembers() []*Obs {
	var out []*Obs
	for _, m := range o.GroupMembers {
		if !m.Voided {
			out = append(out, m)
		}
	}
	return out
}

// Criteria filters obs searches; empty fields match all.
type Criteria struct {
	PersonIDs       []uuid.UUID
	EncounterIDs    []uuid.UUID
	OrderIDs        []uuid.UUID
	Concepts        []string
	AccessionNumber string
	GroupID         *uuid.UUID
	FromDate        *time.Time
	ToDate          *time.Time
	IncludeVoided   bool
}

var errChangeMessage = apierr.Invalid("change_message", "Obs.error.changeMessage.required", "a change message is required when editing an obs")
