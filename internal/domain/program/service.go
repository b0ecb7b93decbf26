package program

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
)

type Service struct {
	base.Support
	programs ProgramRepository
	repo     PatientProgramRepository
}

func NewService(programs ProgramRepository, repo PatientProgramRepository) *Service {
	return &Service{programs: programs, repo: repo}
}

func (s *Service) SaveProgram(ctx context.Context, p *Program) error {
	p.Name = strings.TrimSpace(p.Name)
	if err := validate.Struct("Program", p); err != nil {
		return err
	}
	other, err := s.programs.GetByName(ctx, p.Name)
	switch {
	case err == nil && other.ID != p.ID:
		return apierr.Conflict("Program.duplicate", "program %s already exists", p.Name)
	case err != nil && !errors.Is(err, apierr.ErrNotFound):
		return err
	}
	actor := auth.ActorFromContext(ctx)
	if p.ID == uuid.Nil {
		p.Metadata.Stamp(actor, true)
		return s.programs.Create(ctx, p)
	}
	stored, err := s.programs.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.Metadata.Preserve(stored.Metadata)
	p.Metadata.Stamp(actor, false)
	return s.programs.Update(ctx, p)
}

func (s *Service) GetProgram(ctx context.Context, id uuid.UUID) (*Program, error) {
	return s.programs.GetByID(ctx, id)
}

func (s *Service) GetProgramByName(ctx context.Context, name string) (*Program, error) {
	return s.programs.GetByName(ctx, strings.TrimSpace(name))
}

func (s *Service) GetAllPrograms(ctx context.Context, includeRetired bool) ([]*Program, error) {
	return s.programs.List(ctx, includeRetired)
}

func (s *Service) RetireProgram(ctx context.Context, id uuid.UUID, reason string) (*Program, error) {
	return base.RetireByID[*Program](ctx, s.programs, id, reason)
}

func (s *Service) UnretireProgram(ctx context.Context, id uuid.UUID) (*Program, error) {
	return base.UnretireByID[*Program](ctx, s.programs, id)
}

func (s *Service) PurgeProgram(ctx context.Context, id uuid.UUID) error {
	return s.programs.Delete(ctx, id)
}

// SavePatientProgram validates the enrolment and its states and stores
// them. Entering a terminal state completes the enrolment.
func (s *Service) SavePatientProgram(ctx context.Context, pp *PatientProgram) error {
	if err := validate.Struct("PatientProgram", pp); err != nil {
		return err
	}
	if pp.DateEnrolled.IsZero() {
		pp.DateEnrolled = base.Now()
	}
	if pp.DateEnrolled.After(base.Now()) {
		return apierr.Invalid("date_enrolled", "PatientProgram.error.dateEnrolledInFuture", "date_enrolled cannot be in the future")
	}
	p, err := s.programs.GetByID(ctx, pp.ProgramID)
	if err != nil {
		return err
	}
	if err := checkStates(p, pp); err != nil {
		return err
	}
	if pp.DateCompleted != nil && pp.DateCompleted.Before(pp.DateEnrolled) {
		return apierr.Invalid("date_completed", "PatientProgram.error.completedBeforeEnrolled", "date_completed cannot be before date_enrolled")
	}
	if err := s.checkOverlap(ctx, pp); err != nil {
		return err
	}

	actor := auth.ActorFromContext(ctx)
	for _, st := range pp.States {
		st.Data.Stamp(actor, st.ID == uuid.Nil)
	}
	err = s.InTx(ctx, func(ctx context.Context) error {
		if pp.ID == uuid.Nil {
			pp.Data.Stamp(actor, true)
			return s.repo.Create(ctx, pp)
		}
		stored, err := s.repo.GetByID(ctx, pp.ID)
		if err != nil {
			return err
		}
		pp.Data.Preserve(stored.Data)
		pp.Data.Stamp(actor, false)
		return s.repo.Update(ctx, pp)
	})
	if err != nil {
		return err
	}
	s.Record("patientProgram", "save")
	return nil
}

// checkStates enforces the workflow rules on the enrolment's states and
// completes the enrolment when a terminal state is reached.
func checkStates(p *Program, pp *PatientProgram) error {
	for _, st := range pp.States {
		if st.Voided {
			continue
		}
		if w, _ := p.StateOf(st.StateID); w == nil {
			return apierr.Invalid("states", "PatientState.error.stateNotInProgram", "state %s is not part of the program", st.StateID)
		}
		if st.StartDate.IsZero() {
			st.StartDate = pp.DateEnrolled
		}
		if st.StartDate.Before(pp.DateEnrolled) {
			return apierr.Invalid("states", "PatientState.error.startBeforeEnrolment", "a state cannot start before the enrolment")
		}
		if st.EndDate != nil && st.EndDate.Before(st.StartDate) {
			return apierr.Invalid("states", "PatientState.error.endBeforeStart", "a state cannot end before it starts")
		}
	}
	for _, w := range p.Workflows {
		states := pp.StatesIn(w)
		if len(states) == 0 {
			continue
		}
		if !w.state(states[0].StateID).Initial {
			return apierr.Invalid("states", "PatientState.error.firstStateNotInitial", "the first state of a workflow must be an initial state")
		}
		for i, st := range states {
			if i > 0 && (states[i-1].EndDate == nil || states[i-1].EndDate.After(st.StartDate)) {
				return apierr.Invalid("states", "PatientState.error.overlap", "a workflow has one current state at a time")
			}
			if w.state(st.StateID).Terminal && pp.DateCompleted == nil {
				done := st.StartDate
				pp.DateCompleted = &done
			}
		}
	}
	if pp.DateCompleted != nil {
		for _, st := range pp.States {
			if !st.Voided && st.StartDate.After(*pp.DateCompleted) {
				return apierr.Invalid("states", "PatientState.error.startAfterCompletion", "a state cannot start after the enrolment completed")
			}
		}
	}
	return nil
}

func (s *Service) checkOverlap(ctx context.Context, pp *PatientProgram) error {
	others, err := s.repo.Search(ctx, Criteria{PatientID: &pp.PatientID, ProgramIDs: []uuid.UUID{pp.ProgramID}})
	if err != nil {
		return err
	}
	for _, o := range others {
		if o.ID != pp.ID && pp.overlaps(o) {
			return apierr.Conflict("PatientProgram.error.cannotOverlap", "patient is already enrolled in the program from %s", o.DateEnrolled.Format(time.DateOnly))
		}
	}
	return nil
}

func (s *Service) GetPatientProgram(ctx context.Context, id uuid.UUID) (*PatientProgram, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetPatientPrograms(ctx context.Context, c Criteria) ([]*PatientProgram, error) {
	return s.repo.Search(ctx, c)
}

// VoidPatientProgram voids the enrolment with its states.
func (s *Service) VoidPatientProgram(ctx context.Context, id uuid.UUID, reason string) (*PatientProgram, error) {
	pp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pp.Voided {
		return pp, nil
	}
	actor, at := auth.ActorFromContext(ctx), base.Now()
	if err := pp.Void(actor, reason, at); err != nil {
		return nil, err
	}
	for _, st := range pp.States {
		if !st.Voided {
			_ = st.Void(actor, reason, at)
		}
	}
	if err := s.repo.Update(ctx, pp); err != nil {
		return nil, err
	}
	s.Record("patientProgram", "void")
	return pp, nil
}

// UnvoidPatientProgram restores the enrolment and the states voided with it.
func (s *Service) UnvoidPatientProgram(ctx context.Context, id uuid.UUID) (*PatientProgram, error) {
	pp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pp.Voided || pp.DateVoided == nil {
		return pp, nil
	}
	voidedAt := *pp.DateVoided
	for _, st := range pp.States {
		if st.Voided && st.DateVoided != nil && st.DateVoided.Equal(voidedAt) {
			st.Unvoid()
		}
	}
	pp.Unvoid()
	pp.Data.Stamp(auth.ActorFromContext(ctx), false)
	if err := s.repo.Update(ctx, pp); err != nil {
		return nil, err
	}
	s.Record("patientProgram", "unvoid")
	return pp, nil
}

func (s *Service) PurgePatientProgram(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*PatientProgram, *Program, error) {
	pp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.programs.GetByID(ctx, pp.ProgramID)
	if err != nil {
		return nil, nil, err
	}
	return pp, p, nil
}

// TransitionToState ends the current state of the state's workflow on
// onDate (now when nil) and opens stateID from then on.
func (s *Service) TransitionToState(ctx context.Context, id, stateID uuid.UUID, onDate *time.Time) (*PatientProgram, error) {
	pp, p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	w, state := p.StateOf(stateID)
	if w == nil {
		return nil, apierr.Invalid("state_id", "PatientState.error.stateNotInProgram", "state %s is not part of the program", stateID)
	}
	if state.Retired {
		return nil, apierr.Invalid("state_id", "PatientState.error.stateRetired", "state %s is retired", stateID)
	}
	at := base.Now()
	if onDate != nil {
		at = *onDate
	}
	current := pp.CurrentState(w)
	switch {
	case current == nil && !state.Initial:
		return nil, apierr.Invalid("state_id", "PatientState.error.firstStateNotInitial", "the first state of a workflow must be an initial state")
	case current != nil && current.StateID == stateID:
		return nil, apierr.Invalid("state_id", "PatientState.error.alreadyInState", "patient is already in state %s", stateID)
	case current != nil && at.Before(current.StartDate):
		return nil, apierr.Invalid("start_date", "PatientState.error.transitionBeforeCurrent", "a transition cannot precede the current state")
	}
	if current != nil {
		current.EndDate = &at
	}
	pp.States = append(pp.States, &PatientState{StateID: stateID, StartDate: at})
	if err := s.SavePatientProgram(ctx, pp); err != nil {
		return nil, err
	}
	s.Log().Debug().Stringer("enrolment", pp.ID).Stringer("state", stateID).Msg("transitioned state")
	return pp, nil
}

// VoidLastState voids the latest state of the workflow and reopens the one
// before it. Undoing a terminal state reopens the enrolment.
func (s *Service) VoidLastState(ctx context.Context, id, workflowID uuid.UUID, reason string) (*PatientProgram, error) {
	pp, p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	w := p.Workflow(workflowID)
	if w == nil {
		return nil, apierr.NotFound("programWorkflow", workflowID)
	}
	states := pp.StatesIn(w)
	if len(states) == 0 {
		return nil, apierr.Invalid("workflow_id", "PatientState.error.noState", "patient has no state in workflow %s", workflowID)
	}
	last := states[len(states)-1]
	if err := last.Void(auth.ActorFromContext(ctx), reason, base.Now()); err != nil {
		return nil, err
	}
	if w.state(last.StateID).Terminal && pp.DateCompleted != nil && pp.DateCompleted.Equal(last.StartDate) {
		pp.DateCompleted = nil
	}
	if len(states) > 1 {
		states[len(states)-2].EndDate = nil
	}
	if err := s.SavePatientProgram(ctx, pp); err != nil {
		return nil, err
	}
	return pp, nil
}

// GetPossibleNextStates lists the states the enrolment may move to in the
// workflow: the initial states when it has none yet, else every other
// non-retired state. Completed enrolments have none.
func (s *Service) GetPossibleNextStates(ctx context.Context, id, workflowID uuid.UUID) ([]*ProgramWorkflowState, error) {
	pp, p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	w := p.Workflow(workflowID)
	if w == nil {
		return nil, apierr.NotFound("programWorkflow", workflowID)
	}
	if pp.DateCompleted != nil {
		return []*ProgramWorkflowState{}, nil
	}
	current := pp.CurrentState(w)
	out := []*ProgramWorkflowState{}
	for _, st := range w.States {
		switch {
		case st.Retired:
		case current == nil && st.Initial:
			out = append(out, st)
		case current != nil && current.StateID != st.ID:
			out = append(out, st)
		}
	}
	return out, nil
}

// CompleteActiveEnrolments closes the patient's open enrolments at the
// given time, never before their enrolment. Used when a patient dies.
func (s *Service) CompleteActiveEnrolments(ctx context.Context, patientID uuid.UUID, at time.Time) error {
	list, err := s.repo.Search(ctx, Criteria{PatientID: &patientID})
	if err != nil {
		return err
	}
	for _, pp := range list {
		if pp.DateCompleted != nil {
			continue
		}
		done := at
		if done.Before(pp.DateEnrolled) {
			done = pp.DateEnrolled
		}
		pp.DateCompleted = &done
		for _, st := range pp.States {
			if !st.Voided && st.EndDate == nil {
				end := done
				if end.Before(st.StartDate) {
					end = st.StartDate
				}
				st.EndDate = &end
			}
		}
		if err := s.SavePatientProgram(ctx, pp); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) PatientCascade() base.Cascade {
	return base.Cascade{Name: "program", Void: s.repo.VoidByPatient, Unvoid: s.repo.UnvoidByPatient}
}

func (s *Service) PatientMergeHook() base.MergeHook {
	return base.MergeHook{Name: "program", Merge: s.repo.ReassignPatient}
}
