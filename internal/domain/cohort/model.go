// Package cohort keeps named sets of patients with dated memberships.
package cohort

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
)

type Cohort struct {
	ID          uuid.UUID           `json:"id"`
	Name        string              `json:"name" validate:"required,max=255"`
	Description *string             `json:"description,omitempty" validate:"omitempty,max=1000"`
	Memberships []*CohortMembership `json:"memberships,omitempty" validate:"dive"`
	base.Data
}

type CohortMembership struct {
	ID        uuid.UUID  `json:"id"`
	CohortID  uuid.UUID  `json:"cohort_id"`
	PatientID uuid.UUID  `json:"patient_id" validate:"required"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	base.Data
}

// Active reports whether the membership is in effect at t.
func (m *CohortMembership) Active(t time.Time) bool {
	if m.Voided || m.StartDate.After(t) {
		return false
	}
	return m.EndDate == nil || m.EndDate.After(t)
}

// PatientIDs returns the patients with a membership active at t.
func (c *Cohort) PatientIDs(t time.Time) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, m := range c.Memberships {
		if m.Active(t) && !seen[m.PatientID] {
			seen[m.PatientID] = true
			out = append(out, m.PatientID)
		}
	}
	return out
}

// MembershipCriteria filters membership searches.
type MembershipCriteria struct {
	CohortID      *uuid.UUID
	PatientID     *uuid.UUID
	ActiveOn      *time.Time
	IncludeVoided bool
}

// Op combines two cohorts.
type Op string

const (
	Union     Op = "union"
	Intersect Op = "intersect"
	Subtract  Op = "subtract"
)
