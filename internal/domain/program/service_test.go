package program

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/base/basetest"
	"github.com/ehr/emr/internal/platform/apierr"
)

type memPrograms struct {
	*basetest.Table[Program]
}

func (m *memPrograms) GetByName(_ context.Context, name string) (*Program, error) {
	for _, p := range m.Filter(func(p *Program) bool { return strings.EqualFold(p.Name, name) }) {
		return p, nil
	}
	return nil, apierr.NotFound("program", name)
}

func (m *memPrograms) List(_ context.Context, includeRetired bool) ([]*Program, error) {
	return m.Filter(func(p *Program) bool { return includeRetired || !p.Retired }), nil
}

// memEnrolments copies states in and out like the patient_state table.
type memEnrolments struct {
	*basetest.Table[PatientProgram]
}

func deepCopy(pp *PatientProgram) *PatientProgram {
	cp := *pp
	cp.States = make([]*PatientState, len(pp.States))
	for i, s := range pp.States {
		c := *s
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
			s.ID = c.ID
		}
		c.PatientProgramID = pp.ID
		cp.States[i] = &c
	}
	return &cp
}

func (m *memEnrolments) Create(ctx context.Context, pp *PatientProgram) error {
	if pp.ID == uuid.Nil {
		pp.ID = uuid.New()
	}
	return m.Table.Create(ctx, deepCopy(pp))
}

func (m *memEnrolments) Update(ctx context.Context, pp *PatientProgram) error {
	return m.Table.Update(ctx, deepCopy(pp))
}

func (m *memEnrolments) GetByID(ctx context.Context, id uuid.UUID) (*PatientProgram, error) {
	pp, err := m.Table.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return deepCopy(pp), nil
}

func (m *memEnrolments) Search(_ context.Context, c Criteria) ([]*PatientProgram, error) {
	list := m.Sorted(func(pp *PatientProgram) bool {
		switch {
		case c.PatientID != nil && pp.PatientID != *c.PatientID:
			return false
		case c.EnrolledOnOrAfter != nil && pp.DateEnrolled.Before(*c.EnrolledOnOrAfter):
			return false
		case c.EnrolledOnOrBefore != nil && pp.DateEnrolled.After(*c.EnrolledOnOrBefore):
			return false
		case c.ActiveOn != nil && (pp.DateEnrolled.After(*c.ActiveOn) || (pp.DateCompleted != nil && !pp.DateCompleted.After(*c.ActiveOn))):
			return false
		}
		if len(c.ProgramIDs) > 0 {
			found := false
			for _, id := range c.ProgramIDs {
				found = found || id == pp.ProgramID
			}
			if !found {
				return false
			}
		}
		return c.IncludeVoided || !pp.Voided
	}, func(a, b *PatientProgram) bool { return a.DateEnrolled.Before(b.DateEnrolled) })
	for i, pp := range list {
		list[i] = deepCopy(pp)
	}
	return list, nil
}

func (m *memEnrolments) VoidByPatient(_ context.Context, id uuid.UUID, user, reason string, at time.Time) error {
	m.Each(func(pp *PatientProgram) {
		if pp.PatientID == id && !pp.Voided {
			_ = pp.Void(user, reason, at)
		}
	})
	return nil
}

func (m *memEnrolments) UnvoidByPatient(_ context.Context, id uuid.UUID, voidedAt time.Time) error {
	m.Each(func(pp *PatientProgram) {
		if pp.PatientID == id && pp.Voided && pp.DateVoided.Equal(voidedAt) {
			pp.Unvoid()
		}
	})
	return nil
}

func (m *memEnrolments) ReassignPatient(_ context.Context, winner, loser uuid.UUID) error {
	m.Each(func(pp *PatientProgram) {
		if pp.PatientID == loser {
			pp.PatientID = winner
		}
	})
	return nil
}

type fixture struct {
	svc                                *Service
	enrolments                         *memEnrolments
	hiv                                *Program
	treatment                          *ProgramWorkflow
	preART, onART, defaulted, transfer *ProgramWorkflowState
	patient                            uuid.UUID
	now                                time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		enrolments: &memEnrolments{basetest.NewTable("patientProgram", func(pp *PatientProgram) *uuid.UUID { return &pp.ID })},
		patient:    uuid.New(),
		now:        base.Now(),
	}
	programs := &memPrograms{basetest.NewTable("program", func(p *Program) *uuid.UUID { return &p.ID })}
	f.svc = NewService(programs, f.enrolments)

	f.preART = &ProgramWorkflowState{ID: uuid.New(), Concept: "PRE_ART", Initial: true}
	f.onART = &ProgramWorkflowState{ID: uuid.New(), Concept: "ON_ART", Initial: true}
	f.defaulted = &ProgramWorkflowState{ID: uuid.New(), Concept: "DEFAULTED"}
	f.transfer = &ProgramWorkflowState{ID: uuid.New(), Concept: "TRANSFERRED_OUT", Terminal: true}
	retired := &ProgramWorkflowState{ID: uuid.New(), Concept: "LEGACY", Retired: true}
	f.treatment = &ProgramWorkflow{ID: uuid.New(), Concept: "TREATMENT_STATUS",
		States: []*ProgramWorkflowState{f.preART, f.onART, f.defaulted, f.transfer, retired}}
	f.hiv = &Program{Concept: "HIV_PROGRAM", Workflows: []*ProgramWorkflow{f.treatment}}
	f.hiv.Name = "HIV Care"
	if err := f.svc.SaveProgram(context.Background(), f.hiv); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) days(n int) time.Time { return f.now.AddDate(0, 0, n) }

func (f *fixture) enrol(t *testing.T, at time.Time) *PatientProgram {
	t.Helper()
	pp := &PatientProgram{PatientID: f.patient, ProgramID: f.hiv.ID, DateEnrolled: at}
	if err := f.svc.SavePatientProgram(context.Background(), pp); err != nil {
		t.Fatalf("SavePatientProgram: %v", err)
	}
	return pp
}

func timePtr(t time.Time) *time.Time { return &t }

func TestSaveProgram_UniqueName(t *testing.T) {
	f := newFixture(t)
	dup := &Program{Concept: "OTHER"}
	dup.Name = "hiv care"
	if err := f.svc.SaveProgram(context.Background(), dup); !errors.Is(err, apierr.ErrConflict) {
		t.Errorf("expected a duplicate name to conflict, got %v", err)
	}
	got, err := f.svc.GetProgramByName(context.Background(), "HIV CARE")
	if err != nil || got.Workflow(f.treatment.ID) == nil {
		t.Errorf("expected the program with its workflow, got %v (%v)", got, err)
	}
}

func TestSavePatientProgram_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enrol(t, f.days(-30))

	state := func(id uuid.UUID, start time.Time) []*PatientState {
		return []*PatientState{{StateID: id, StartDate: start}}
	}
	cases := []struct {
		name string
		pp   *PatientProgram
		want error
	}{
		{"future enrolment", &PatientProgram{PatientID: f.patient, ProgramID: f.hiv.ID, DateEnrolled: f.days(1)}, apierr.ErrValidation},
		{"completed before enrolled", &PatientProgram{PatientID: uuid.New(), ProgramID: f.hiv.ID, DateEnrolled: f.days(-5),
			DateCompleted: timePtr(f.days(-6))}, apierr.ErrValidation},
		{"overlapping enrolment", &PatientProgram{PatientID: f.patient, ProgramID: f.hiv.ID, DateEnrolled: f.days(-10)}, apierr.ErrConflict},
		{"unknown program", &PatientProgram{PatientID: f.patient, ProgramID: uuid.New(), DateEnrolled: f.days(-1)}, apierr.ErrNotFound},
		{"state of another program", &PatientProgram{PatientID: uuid.New(), ProgramID: f.hiv.ID, DateEnrolled: f.days(-5),
			States: state(uuid.New(), f.days(-4))}, apierr.ErrValidation},
		{"first state not initial", &PatientProgram{PatientID: uuid.New(), ProgramID: f.hiv.ID, DateEnrolled: f.days(-5),
			States: state(f.defaulted.ID, f.days(-4))}, apierr.ErrValidation},
		{"state before enrolment", &PatientProgram{PatientID: uuid.New(), ProgramID: f.hiv.ID, DateEnrolled: f.days(-5),
			States: state(f.preART.ID, f.days(-6))}, apierr.ErrValidation},
		{"two current states", &PatientProgram{PatientID: uuid.New(), ProgramID: f.hiv.ID, DateEnrolled: f.days(-5),
			States: append(state(f.preART.ID, f.days(-4)), state(f.onART.ID, f.days(-3))...)}, apierr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.svc.SavePatientProgram(ctx, tc.pp); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}

	other := uuid.New()
	first := &PatientProgram{PatientID: other, ProgramID: f.hiv.ID, DateEnrolled: f.days(-20), DateCompleted: timePtr(f.days(-10))}
	if err := f.svc.SavePatientProgram(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &PatientProgram{PatientID: other, ProgramID: f.hiv.ID, DateEnrolled: f.days(-10)}
	if err := f.svc.SavePatientProgram(ctx, second); err != nil {
		t.Errorf("expected re-enrolment after completion to succeed, got %v", err)
	}
}

func TestTransitionToState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pp := f.enrol(t, f.days(-10))

	if _, err := f.svc.TransitionToState(ctx, pp.ID, f.defaulted.ID, timePtr(f.days(-9))); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected a non-initial first state to fail, got %v", err)
	}
	next, err := f.svc.GetPossibleNextStates(ctx, pp.ID, f.treatment.ID)
	if err != nil || len(next) != 2 {
		t.Fatalf("expected the two initial states, got %d (%v)", len(next), err)
	}

	if _, err := f.svc.TransitionToState(ctx, pp.ID, f.preART.ID, timePtr(f.days(-9))); err != nil {
		t.Fatal(err)
	}
	pp, err = f.svc.TransitionToState(ctx, pp.ID, f.onART.ID, timePtr(f.days(-5)))
	if err != nil {
		t.Fatal(err)
	}
	states := pp.StatesIn(f.treatment)
	if len(states) != 2 || states[0].EndDate == nil || !states[0].EndDate.Equal(f.days(-5)) {
		t.Fatalf("expected pre-ART ended at the transition, got %+v", states)
	}
	if cur := pp.CurrentState(f.treatment); cur == nil || cur.StateID != f.onART.ID {
		t.Errorf("expected on ART current, got %+v", cur)
	}

	if _, err := f.svc.TransitionToState(ctx, pp.ID, f.onART.ID, nil); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected a transition to the current state to fail, got %v", err)
	}
	if _, err := f.svc.TransitionToState(ctx, pp.ID, f.defaulted.ID, timePtr(f.days(-6))); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected a transition before the current state to fail, got %v", err)
	}
	next, _ = f.svc.GetPossibleNextStates(ctx, pp.ID, f.treatment.ID)
	if len(next) != 3 {
		t.Errorf("expected every other active state, got %d", len(next))
	}

	pp, err = f.svc.TransitionToState(ctx, pp.ID, f.transfer.ID, timePtr(f.days(-1)))
	if err != nil {
		t.Fatal(err)
	}
	if pp.DateCompleted == nil || !pp.DateCompleted.Equal(f.days(-1)) {
		t.Errorf("expected the terminal state to complete the enrolment, got %v", pp.DateCompleted)
	}
	if next, _ = f.svc.GetPossibleNextStates(ctx, pp.ID, f.treatment.ID); len(next) != 0 {
		t.Errorf("expected no next states once completed, got %d", len(next))
	}
}

func TestVoidLastState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pp := f.enrol(t, f.days(-10))
	for i, st := range []uuid.UUID{f.onART.ID, f.transfer.ID} {
		if _, err := f.svc.TransitionToState(ctx, pp.ID, st, timePtr(f.days(-8+i))); err != nil {
			t.Fatal(err)
		}
	}

	pp, err := f.svc.VoidLastState(ctx, pp.ID, f.treatment.ID, "entered in error")
	if err != nil {
		t.Fatal(err)
	}
	if pp.DateCompleted != nil {
		t.Errorf("expected the enrolment reopened, got %v", pp.DateCompleted)
	}
	if cur := pp.CurrentState(f.treatment); cur == nil || cur.StateID != f.onART.ID {
		t.Errorf("expected on ART current again, got %+v", cur)
	}

	if _, err := f.svc.VoidLastState(ctx, pp.ID, uuid.New(), "x"); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected an unknown workflow to fail, got %v", err)
	}
}

func TestVoidPatientProgram_WithStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pp := f.enrol(t, f.days(-10))
	if _, err := f.svc.TransitionToState(ctx, pp.ID, f.preART.ID, nil); err != nil {
		t.Fatal(err)
	}

	voided, err := f.svc.VoidPatientProgram(ctx, pp.ID, "duplicate")
	if err != nil {
		t.Fatal(err)
	}
	if !voided.Voided || !voided.States[0].Voided {
		t.Errorf("expected the enrolment and state voided, got %+v", voided)
	}
	if list, _ := f.svc.GetPatientPrograms(ctx, Criteria{PatientID: &f.patient}); len(list) != 0 {
		t.Errorf("expected voided enrolments hidden, got %d", len(list))
	}

	restored, err := f.svc.UnvoidPatientProgram(ctx, pp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Voided || restored.States[0].Voided {
		t.Errorf("expected the enrolment and state restored, got %+v", restored)
	}
}

func TestCompleteActiveEnrolments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pp := f.enrol(t, f.days(-10))
	if _, err := f.svc.TransitionToState(ctx, pp.ID, f.onART.ID, timePtr(f.days(-9))); err != nil {
		t.Fatal(err)
	}

	died := f.days(-2)
	if err := f.svc.CompleteActiveEnrolments(ctx, f.patient, died); err != nil {
		t.Fatal(err)
	}
	got, _ := f.svc.GetPatientProgram(ctx, pp.ID)
	if got.DateCompleted == nil || !got.DateCompleted.Equal(died) {
		t.Errorf("expected completion at death, got %v", got.DateCompleted)
	}
	if got.States[0].EndDate == nil || !got.States[0].EndDate.Equal(died) {
		t.Errorf("expected the current state ended at death, got %v", got.States[0].EndDate)
	}
	if active, _ := f.svc.GetPatientPrograms(ctx, Criteria{PatientID: &f.patient, ActiveOn: timePtr(f.now)}); len(active) != 0 {
		t.Errorf("expected no active enrolment, got %d", len(active))
	}
}

func TestPatientHooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pp := f.enrol(t, f.days(-10))
	at := f.now

	if err := f.svc.PatientCascade().Void(ctx, f.patient, "admin", "patient voided", at); err != nil {
		t.Fatal(err)
	}
	if got, _ := f.svc.GetPatientProgram(ctx, pp.ID); !got.Voided {
		t.Error("expected the enrolment voided with the patient")
	}
	if err := f.svc.PatientCascade().Unvoid(ctx, f.patient, at); err != nil {
		t.Fatal(err)
	}

	winner := uuid.New()
	if err := f.svc.PatientMergeHook().Merge(ctx, winner, f.patient); err != nil {
		t.Fatal(err)
	}
	if list, _ := f.svc.GetPatientPrograms(ctx, Criteria{PatientID: &winner}); len(list) != 1 {
		t.Errorf("expected the enrolment moved to the winner, got %d", len(list))
	}
}
