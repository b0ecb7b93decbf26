// Package program tracks patient enrolment in care programs and their
// movement through each program's workflows.
package program

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
)

type Program struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	Concept         string             `json:"concept" validate:"required,max=255"`
	OutcomesConcept *string            `json:"outcomes_concept,omitempty" validate:"omitempty,max=255"`
	Workflows       []*ProgramWorkflow `json:"workflows" validate:"dive"`
}

// ProgramWorkflow is one axis of a program (e.g. treatment status) whose
// states a patient moves through.
type ProgramWorkflow struct {
	ID        uuid.UUID               `json:"id"`
	ProgramID uuid.UUID               `json:"program_id"`
	Concept   string                  `json:"concept" validate:"required,max=255"`
	Retired   bool                    `json:"retired"`
	States    []*ProgramWorkflowState `json:"states" validate:"dive"`
}

type ProgramWorkflowState struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`
	Concept    string    `json:"concept" validate:"required,max=255"`
	Initial    bool      `json:"initial"`
	Terminal   bool      `json:"terminal"`
	Retired    bool      `json:"retired"`
}

// Workflow returns the workflow with id, or nil.
func (p *Program) Workflow(id uuid.UUID) *ProgramWorkflow {
	for _, w := range p.Workflows {
		if w.ID == id {
			return w
		}
	}
	return nil
}

// StateOf finds the workflow state with id and its workflow.
func (p *Program) StateOf(id uuid.UUID) (*ProgramWorkflow, *ProgramWorkflowState) {
	for _, w := range p.Workflows {
		for _, s := range w.States {
			if s.ID == id {
				return w, s
			}
		}
	}
	return nil, nil
}

func (w *ProgramWorkflow) state(id uuid.UUID) *ProgramWorkflowState {
	for _, s := range w.States {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// PatientProgram is one enrolment of a patient in a program.
type PatientProgram struct {
	ID uuid.UUID `json:"id"`
	base.Data
	PatientID     uuid.UUID       `json:"patient_id" validate:"required"`
	ProgramID     uuid.UUID       `json:"program_id" validate:"required"`
	LocationID    *uuid.UUID      `json:"location_id,omitempty"`
	DateEnrolled  time.Time       `json:"date_enrolled"`
	DateCompleted *time.Time      `json:"date_completed,omitempty"`
	Outcome       *string         `json:"outcome,omitempty" validate:"omitempty,max=255"`
	States        []*PatientState `json:"states" validate:"dive"`
}

// PatientState is a period a patient spent in one workflow state.
type PatientState struct {
	ID               uuid.UUID  `json:"id"`
	PatientProgramID uuid.UUID  `json:"patient_program_id"`
	StateID          uuid.UUID  `json:"state_id" validate:"required"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	base.Data
}

// Active reports whether the enrolment is in effect at t.
func (pp *PatientProgram) Active(t time.Time) bool {
	if pp.Voided || pp.DateEnrolled.After(t) {
		return false
	}
	return pp.DateCompleted == nil || pp.DateCompleted.After(t)
}

// overlaps reports whether two enrolments share any instant.
func (pp *PatientProgram) overlaps(o *PatientProgram) bool {
	endsAfter := func(p *PatientProgram, t time.Time) bool { return p.DateCompleted == nil || p.DateCompleted.After(t) }
	return endsAfter(pp, o.DateEnrolled) && endsAfter(o, pp.DateEnrolled)
}

// StatesIn returns the non-voided states of workflow w ordered by start.
func (pp *PatientProgram) StatesIn(w *ProgramWorkflow) []*PatientState {
	var out []*PatientState
	for _, s := range pp.States {
		if !s.Voided && w.state(s.StateID) != nil {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out
}

// CurrentState returns the open state of workflow w, or nil.
func (pp *PatientProgram) CurrentState(w *ProgramWorkflow) *PatientState {
	for _, s := range pp.StatesIn(w) {
		if s.EndDate == nil {
			return s
		}
	}
	return nil
}

// Criteria filters enrolment searches.
type Criteria struct {
	PatientID          *uuid.UUID
	ProgramIDs         []uuid.UUID
	EnrolledOnOrAfter  *time.Time
	EnrolledOnOrBefore *time.Time
	// ActiveOn keeps enrolments in effect at that time.
	ActiveOn      *time.Time
	IncludeVoided bool
}
