package cohort

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/base/basetest"
	"github.com/ehr/emr/internal/platform/apierr"
)

type memCohorts struct {
	*basetest.Table[Cohort]
}

func (m *memCohorts) GetByName(_ context.Context, name string) (*Cohort, error) {
	list := m.Sorted(func(c *Cohort) bool { return strings.EqualFold(c.Name, name) },
		func(a, b *Cohort) bool { return !a.Voided && b.Voided })
	if len(list) == 0 {
		return nil, apierr.NotFound("cohort", name)
	}
	return list[0], nil
}

func (m *memCohorts) List(_ context.Context, includeVoided bool) ([]*Cohort, error) {
	return m.Sorted(func(c *Cohort) bool { return includeVoided || !c.Voided },
		func(a, b *Cohort) bool { return a.Name < b.Name }), nil
}

func (m *memCohorts) Find(_ context.Context, fragment string) ([]*Cohort, error) {
	return m.Filter(func(c *Cohort) bool {
		return !c.Voided && strings.Contains(strings.ToLower(c.Name), strings.ToLower(fragment))
	}), nil
}

type memMembers struct {
	*basetest.Table[CohortMembership]
}

func (m *memMembers) Search(_ context.Context, c MembershipCriteria) ([]*CohortMembership, error) {
	return m.Sorted(func(cm *CohortMembership) bool {
		switch {
		case c.CohortID != nil && cm.CohortID != *c.CohortID:
			return false
		case c.PatientID != nil && cm.PatientID != *c.PatientID:
			return false
		case c.ActiveOn != nil && (cm.StartDate.After(*c.ActiveOn) || (cm.EndDate != nil && !cm.EndDate.After(*c.ActiveOn))):
			return false
		}
		return c.IncludeVoided || !cm.Voided
	}, func(a, b *CohortMembership) bool { return a.StartDate.Before(b.StartDate) }), nil
}

func (m *memMembers) voidWhere(match func(*CohortMembership) bool, user, reason string, at time.Time) {
	m.Each(func(cm *CohortMembership) {
		if match(cm) && !cm.Voided {
			_ = cm.Void(user, reason, at)
		}
	})
}

func (m *memMembers) unvoidWhere(match func(*CohortMembership) bool, at time.Time) {
	m.Each(func(cm *CohortMembership) {
		if match(cm) && cm.Voided && cm.DateVoided.Equal(at) {
			cm.Unvoid()
		}
	})
}

func (m *memMembers) VoidByCohort(_ context.Context, id uuid.UUID, user, reason string, at time.Time) error {
	m.voidWhere(func(cm *CohortMembership) bool { return cm.CohortID == id }, user, reason, at)
	return nil
}

func (m *memMembers) UnvoidByCohort(_ context.Context, id uuid.UUID, at time.Time) error {
	m.unvoidWhere(func(cm *CohortMembership) bool { return cm.CohortID == id }, at)
	return nil
}

func (m *memMembers) VoidByPatient(_ context.Context, id uuid.UUID, user, reason string, at time.Time) error {
	m.voidWhere(func(cm *CohortMembership) bool { return cm.PatientID == id }, user, reason, at)
	return nil
}

func (m *memMembers) UnvoidByPatient(_ context.Context, id uuid.UUID, at time.Time) error {
	m.unvoidWhere(func(cm *CohortMembership) bool { return cm.PatientID == id }, at)
	return nil
}

func (m *memMembers) ReassignPatient(_ context.Context, winner, loser uuid.UUID) error {
	m.Each(func(cm *CohortMembership) {
		if cm.PatientID == loser {
			cm.PatientID = winner
		}
	})
	return nil
}

func newTestService() (*Service, *memMembers) {
	members := &memMembers{basetest.NewTable("cohortMembership", func(m *CohortMembership) *uuid.UUID { return &m.ID })}
	cohorts := &memCohorts{basetest.NewTable("cohort", func(c *Cohort) *uuid.UUID { return &c.ID })}
	return NewService(cohorts, members), members
}

func newCohort(t *testing.T, svc *Service, name string, patients ...uuid.UUID) *Cohort {
	t.Helper()
	c := &Cohort{Name: name}
	for _, p := range patients {
		c.Memberships = append(c.Memberships, &CohortMembership{PatientID: p, StartDate: base.Now().Add(-time.Hour)})
	}
	if err := svc.SaveCohort(context.Background(), c); err != nil {
		t.Fatalf("SaveCohort: %v", err)
	}
	return c
}

func TestSaveCohort_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := uuid.New()
	newCohort(t, svc, "Diabetics", p)
	now := base.Now()
	earlier := now.Add(-48 * time.Hour)

	cases := []struct {
		name string
		c    *Cohort
		want error
	}{
		{"blank name", &Cohort{Name: "  "}, apierr.ErrValidation},
		{"duplicate name", &Cohort{Name: "DIABETICS"}, apierr.ErrConflict},
		{"end before start", &Cohort{Name: "A", Memberships: []*CohortMembership{
			{PatientID: p, StartDate: now, EndDate: &earlier}}}, apierr.ErrValidation},
		{"overlapping memberships", &Cohort{Name: "B", Memberships: []*CohortMembership{
			{PatientID: p, StartDate: earlier}, {PatientID: p, StartDate: now}}}, apierr.ErrValidation},
		{"voided without reason", &Cohort{Name: "C", Memberships: []*CohortMembership{
			{PatientID: p, Data: base.Data{Voided: true}}}}, apierr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := svc.SaveCohort(ctx, tc.c); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}

	sequential := &Cohort{Name: "D", Memberships: []*CohortMembership{
		{PatientID: p, StartDate: earlier, EndDate: &now}, {PatientID: p, StartDate: now}}}
	if err := svc.SaveCohort(ctx, sequential); err != nil {
		t.Errorf("expected back to back memberships to save, got %v", err)
	}
}

func TestSaveCohort_PreservesVoidReason(t *testing.T) {
	svc, members := newTestService()
	ctx := context.Background()
	p := uuid.New()
	c := newCohort(t, svc, "Smokers", p)
	if err := svc.RemovePatientFromCohort(ctx, c.ID, p); err != nil {
		t.Fatal(err)
	}

	stored, _ := members.Search(ctx, MembershipCriteria{CohortID: &c.ID, IncludeVoided: true})
	stored[0].VoidReason = nil
	c.Memberships = stored
	if err := svc.SaveCohort(ctx, c); err != nil {
		t.Fatal(err)
	}
	got, _ := members.GetByID(ctx, stored[0].ID)
	if !got.Voided || base.StrVal(got.VoidReason) != ReasonRemoved {
		t.Errorf("expected the void reason kept, got %v", got.VoidReason)
	}
}

func TestMembership(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := uuid.New()
	c := newCohort(t, svc, "Hypertension")

	m, err := svc.AddPatientToCohort(ctx, c.ID, p)
	if err != nil {
		t.Fatal(err)
	}
	again, err := svc.AddPatientToCohort(ctx, c.ID, p)
	if err != nil || again.ID != m.ID {
		t.Errorf("expected the existing membership back, got %v (%v)", again, err)
	}

	containing, _ := svc.GetCohortsContainingPatient(ctx, p, false, nil)
	if len(containing) != 1 || containing[0].ID != c.ID {
		t.Fatalf("expected the cohort, got %v", containing)
	}

	if _, err := svc.EndCohortMembership(ctx, m.ID, m.StartDate.Add(-time.Minute)); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected an end before start to fail, got %v", err)
	}
	ended, err := svc.EndCohortMembership(ctx, m.ID, m.StartDate)
	if err != nil {
		t.Fatal(err)
	}
	if ended.Active(base.Now()) {
		t.Error("expected the membership inactive after its end")
	}
	if containing, _ = svc.GetCohortsContainingPatient(ctx, p, false, nil); len(containing) != 0 {
		t.Errorf("expected no cohort after the end, got %d", len(containing))
	}
	all, _ := svc.GetCohortMemberships(ctx, p, nil, false)
	if len(all) != 1 {
		t.Errorf("expected the ended membership in the history, got %d", len(all))
	}

	if _, err := svc.AddPatientToCohort(ctx, c.ID, p); err != nil {
		t.Fatal(err)
	}
	if err := svc.RemovePatientFromCohort(ctx, c.ID, p); err != nil {
		t.Fatal(err)
	}
	if active, _ := svc.GetCohortMemberships(ctx, p, nil, false); len(active) != 1 {
		t.Errorf("expected the removed membership voided, got %d", len(active))
	}
}

func TestVoidCohort_VoidsMemberships(t *testing.T) {
	svc, members := newTestService()
	ctx := context.Background()
	c := newCohort(t, svc, "Asthma", uuid.New(), uuid.New())

	if _, err := svc.VoidCohort(ctx, c.ID, "obsolete"); err != nil {
		t.Fatal(err)
	}
	for _, m := range members.Filter(nil) {
		if !m.Voided || base.StrVal(m.VoidReason) != "obsolete" {
			t.Errorf("expected the membership voided with the cohort's reason, got %+v", m.Data)
		}
	}
	if _, err := svc.AddPatientToCohort(ctx, c.ID, uuid.New()); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected adding to a voided cohort to fail, got %v", err)
	}

	if _, err := svc.UnvoidCohort(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.GetCohort(ctx, c.ID)
	if got.Voided || len(got.Memberships) != 2 {
		t.Errorf("expected the cohort and both members restored, got %+v", got)
	}
}

func TestCombineCohorts(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	a := newCohort(t, svc, "A", p1, p2)
	b := newCohort(t, svc, "B", p2, p3)

	patients := func(c *Cohort) []string {
		var out []string
		for _, id := range c.PatientIDs(base.Now()) {
			out = append(out, id.String())
		}
		sort.Strings(out)
		return out
	}
	want := func(ids ...uuid.UUID) []string {
		var out []string
		for _, id := range ids {
			out = append(out, id.String())
		}
		sort.Strings(out)
		return out
	}
	cases := []struct {
		op   Op
		name string
		want []string
	}{
		{Union, "A OR B", want(p1, p2, p3)},
		{Intersect, "A AND B", want(p2)},
		{Subtract, "A NOT B", want(p1)},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			got, err := svc.CombineCohorts(ctx, tc.op, a.ID, b.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Name != tc.name || strings.Join(patients(got), ",") != strings.Join(tc.want, ",") {
				t.Errorf("got %s %v", got.Name, patients(got))
			}
		})
	}
	if _, err := svc.CombineCohorts(ctx, "xor", a.ID, b.ID); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected an unknown op to fail, got %v", err)
	}
}

func TestPatientMergeHook(t *testing.T) {
	svc, members := newTestService()
	ctx := context.Background()
	winner, loser := uuid.New(), uuid.New()
	both := newCohort(t, svc, "Both", winner, loser)
	only := newCohort(t, svc, "LoserOnly", loser)

	if err := svc.PatientMergeHook().Merge(ctx, winner, loser); err != nil {
		t.Fatal(err)
	}
	active, _ := members.Search(ctx, MembershipCriteria{CohortID: &both.ID})
	if len(active) != 1 || active[0].PatientID != winner {
		t.Errorf("expected one winner membership in the shared cohort, got %d", len(active))
	}
	moved, _ := members.Search(ctx, MembershipCriteria{CohortID: &only.ID})
	if len(moved) != 1 || moved[0].PatientID != winner {
		t.Errorf("expected the membership moved to the winner, got %+v", moved)
	}
}
