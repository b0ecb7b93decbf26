// Package order manages clinical orders (drug, test and generic) and their
// revision chain: every change to an order is a new order pointing at the
// one it replaces.
package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
)

// Order actions.
const (
	ActionNew         = "NEW"
	ActionRevise      = "REVISE"
	ActionDiscontinue = "DISCONTINUE"
	ActionRenew       = "RENEW"
)

// Urgencies.
const (
	UrgencyRoutine         = "ROUTINE"
	UrgencyStat            = "STAT"
	UrgencyOnScheduledDate = "ON_SCHEDULED_DATE"
)

// Order type kinds.
const (
	KindDrug    = "drug"
	KindTest    = "test"
	KindGeneric = "generic"
)

// NumberPrefix starts every generated order number.
const NumberPrefix = "ORD-"

type Order struct {
	ID uuid.UUID `json:"id"`
	base.Data
	OrderNumber     string     `json:"order_number"`
	PatientID       uuid.UUID  `json:"patient_id" validate:"required"`
	EncounterID     uuid.UUID  `json:"encounter_id" validate:"required"`
	OrdererID       uuid.UUID  `json:"orderer_id" validate:"required"`
	OrderTypeID     uuid.UUID  `json:"order_type_id" validate:"required"`
	CareSettingID   uuid.UUID  `json:"care_setting_id" validate:"required"`
	Concept         string     `json:"concept" validate:"required,max=255"`
	Action          string     `json:"action" validate:"oneof=NEW REVISE DISCONTINUE RENEW"`
	Urgency         string     `json:"urgency" validate:"oneof=ROUTINE STAT ON_SCHEDULED_DATE"`
	DateActivated   time.Time  `json:"date_activated"`
	ScheduledDate   *time.Time `json:"scheduled_date,omitempty"`
	DateStopped     *time.Time `json:"date_stopped,omitempty"`
	AutoExpireDate  *time.Time `json:"auto_expire_date,omitempty"`
	PreviousOrderID *uuid.UUID `json:"previous_order_id,omitempty"`
	Instructions    *string    `json:"instructions,omitempty"`
	OrderReason     *string    `json:"order_reason,omitempty" validate:"omitempty,max=255"`
	DrugDetails
}

// DrugDetails holds the dosing of drug orders; other kinds leave it empty.
type DrugDetails struct {
	Drug          *string    `json:"drug,omitempty" validate:"omitempty,max=255"`
	Dose          *float64   `json:"dose,omitempty" validate:"omitempty,gt=0"`
	DoseUnits     *string    `json:"dose_units,omitempty"`
	Route         *string    `json:"route,omitempty"`
	FrequencyID   *uuid.UUID `json:"frequency_id,omitempty"`
	AsNeeded      bool       `json:"as_needed"`
	Quantity      *float64   `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	QuantityUnits *string    `json:"quantity_units,omitempty"`
	NumRefills    *int       `json:"num_refills,omitempty" validate:"omitempty,min=0"`
	Duration      *int       `json:"duration,omitempty" validate:"omitempty,gt=0"`
	DurationUnits *string    `json:"duration_units,omitempty" validate:"omitempty,oneof=MINUTES HOURS DAYS WEEKS MONTHS"`
}

// IsActive reports whether the order is in effect at t. Discontinuation
// orders never are.
func (o *Order) IsActive(t time.Time) bool {
	if o.Voided || o.Action == ActionDiscontinue || o.DateActivated.After(t) {
		return false
	}
	if o.DateStopped != nil && !o.DateStopped.After(t) {
		return false
	}
	return o.AutoExpireDate == nil || o.AutoExpireDate.After(t)
}

// expiry derives the auto expire date from a drug order's duration.
func (o *Order) expiry() *time.Time {
	if o.Duration == nil || o.DurationUnits == nil {
		return nil
	}
	n, at := *o.Duration, o.DateActivated
	var end time.Time
	switch *o.DurationUnits {
	case "MINUTES":
		end = at.Add(time.Duration(n) * time.Minute)
	case "HOURS":
		end = at.Add(time.Duration(n) * time.Hour)
	case "DAYS":
		end = at.AddDate(0, 0, n)
	case "WEEKS":
		end = at.AddDate(0, 0, 7*n)
	case "MONTHS":
		end = at.AddDate(0, n, 0)
	default:
		return nil
	}
	end = end.Add(-time.Second)
	return &end
}

type OrderType struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	Kind     string     `json:"kind" validate:"oneof=drug test generic"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

type CareSetting struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	CareSettingType string `json:"care_setting_type" validate:"oneof=OUTPATIENT INPATIENT"`
}

type OrderFrequency struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	Concept         string   `json:"concept" validate:"required,max=255"`
	FrequencyPerDay *float64 `json:"frequency_per_day,omitempty" validate:"omitempty,gt=0"`
}

// Criteria filters order searches; empty fields match all.
type Criteria struct {
	PatientID      *uuid.UUID
	EncounterIDs   []uuid.UUID
	OrderTypeIDs   []uuid.UUID
	CareSettingIDs []uuid.UUID
	Concepts       []string
	IncludeVoided  bool
}
