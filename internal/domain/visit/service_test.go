package visit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/base/basetest"
	"github.com/ehr/emr/internal/domain/location"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/pkg/pagination"
)

func contains(ids []uuid.UUID, id *uuid.UUID) bool {
	if len(ids) == 0 {
		return true
	}
	for _, x := range ids {
		if id != nil && x == *id {
			return true
		}
	}
	return false
}

type memVisits struct {
	*basetest.Table[Visit]
}

func (m *memVisits) Search(_ context.Context, c Criteria, page pagination.Params) ([]*Visit, int, error) {
	now := base.Now()
	all := m.Sorted(func(v *Visit) bool {
		switch {
		case !contains(c.PatientIDs, &v.PatientID), !contains(c.VisitTypeIDs, &v.VisitTypeID):
			return false
		case len(c.LocationIDs) > 0 && !contains(c.LocationIDs, v.LocationID):
			return false
		case c.MinStart != nil && v.StartDatetime.Before(*c.MinStart):
			return false
		case c.MaxStart != nil && v.StartDatetime.After(*c.MaxStart):
			return false
		case !c.IncludeInactive && !v.Active(now):
			return false
		}
		return c.IncludeVoided || !v.Voided
	}, func(a, b *Visit) bool { return a.StartDatetime.After(b.StartDatetime) })
	lo, hi := page.Window(len(all))
	return all[lo:hi], len(all), nil
}

func (m *memVisits) VoidByPatient(_ context.Context, patientID uuid.UUID, user, reason string, at time.Time) error {
	m.Each(func(v *Visit) {
		if v.PatientID == patientID && !v.Voided {
			_ = v.Void(user, reason, at)
		}
	})
	return nil
}

func (m *memVisits) UnvoidByPatient(_ context.Context, patientID uuid.UUID, voidedAt time.Time) error {
	m.Each(func(v *Visit) {
		if v.PatientID == patientID && v.Voided && v.DateVoided != nil && v.DateVoided.Equal(voidedAt) {
			v.Unvoid()
		}
	})
	return nil
}

func (m *memVisits) ReassignPatient(_ context.Context, winner, loser uuid.UUID) error {
	m.Each(func(v *Visit) {
		if v.PatientID == loser {
			v.PatientID = winner
		}
	})
	return nil
}

type memVisitTypes struct {
	*basetest.Table[VisitType]
}

func (m *memVisitTypes) GetByName(_ context.Context, name string) (*VisitType, error) {
	for _, t := range m.Filter(nil) {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, apierr.NotFound("visitType", name)
}

func (m *memVisitTypes) List(_ context.Context, includeRetired bool) ([]*VisitType, error) {
	return m.Filter(func(t *VisitType) bool { return includeRetired || !t.Retired }), nil
}

type memAttrTypes struct {
	*basetest.Table[base.AttributeType]
}

func (m *memAttrTypes) GetByName(_ context.Context, name string) (*base.AttributeType, error) {
	for _, t := range m.Filter(nil) {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, apierr.NotFound("visitAttributeType", name)
}

func (m *memAttrTypes) List(_ context.Context, includeRetired bool) ([]*base.AttributeType, error) {
	return m.Filter(func(t *base.AttributeType) bool { return includeRetired || !t.Retired }), nil
}

type encounterTimes map[uuid.UUID][]time.Time

func (e encounterTimes) EncounterDatetimesByVisit(_ context.Context, visitID uuid.UUID) ([]time.Time, error) {
	return e[visitID], nil
}

type locationTree map[uuid.UUID][]*location.Location

func (l locationTree) GetDescendantLocations(_ context.Context, id uuid.UUID, _ bool) ([]*location.Location, error) {
	return l[id], nil
}

type fixture struct {
	svc       *Service
	visits    *memVisits
	types     *memVisitTypes
	attrTypes *memAttrTypes
	gp        *base.StaticProperties
	patient   uuid.UUID
	outpat    *VisitType
	inpat     *VisitType
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		visits:    &memVisits{basetest.NewTable("visit", func(v *Visit) *uuid.UUID { return &v.ID })},
		types:     &memVisitTypes{basetest.NewTable("visitType", func(t *VisitType) *uuid.UUID { return &t.ID })},
		attrTypes: &memAttrTypes{basetest.NewTable("visitAttributeType", func(t *base.AttributeType) *uuid.UUID { return &t.ID })},
		gp:        base.NewStaticProperties(nil),
		patient:   uuid.New(),
		now:       base.Now(),
	}
	f.svc = NewService(f.visits, f.types, f.attrTypes, f.gp)
	f.outpat = f.visitType(t, "Outpatient")
	f.inpat = f.visitType(t, "Inpatient")
	return f
}

func (f *fixture) visitType(t *testing.T, name string) *VisitType {
	t.Helper()
	vt := &VisitType{}
	vt.Name = name
	if err := f.svc.SaveVisitType(context.Background(), vt); err != nil {
		t.Fatal(err)
	}
	return vt
}

func (f *fixture) visit(t *testing.T, vt *VisitType, start time.Time, stop *time.Time) *Visit {
	t.Helper()
	v := &Visit{PatientID: f.patient, VisitTypeID: vt.ID, StartDatetime: start, StopDatetime: stop}
	if err := f.svc.SaveVisit(context.Background(), v); err != nil {
		t.Fatalf("SaveVisit: %v", err)
	}
	return v
}

func timePtr(t time.Time) *time.Time { return &t }

func TestSaveVisit_Dates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	future := &Visit{PatientID: f.patient, VisitTypeID: f.outpat.ID, StartDatetime: f.now.Add(time.Hour)}
	if err := f.svc.SaveVisit(ctx, future); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected a future start to fail, got %v", err)
	}
	backwards := &Visit{PatientID: f.patient, VisitTypeID: f.outpat.ID, StartDatetime: f.now.Add(-time.Hour), StopDatetime: timePtr(f.now.Add(-2 * time.Hour))}
	if err := f.svc.SaveVisit(ctx, backwards); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected stop before start to fail, got %v", err)
	}
	unknown := &Visit{PatientID: f.patient, VisitTypeID: uuid.New(), StartDatetime: f.now.Add(-time.Hour)}
	if err := f.svc.SaveVisit(ctx, unknown); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected an unknown visit type to fail, got %v", err)
	}
	noStart := &Visit{PatientID: f.patient, VisitTypeID: f.outpat.ID}
	if err := f.svc.SaveVisit(ctx, noStart); err != nil || noStart.StartDatetime.IsZero() {
		t.Errorf("expected the start to default to now, got %v", err)
	}
}

func TestSaveVisit_NoOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.visit(t, f.outpat, f.now.Add(-48*time.Hour), timePtr(f.now.Add(-24*time.Hour)))

	overlapping := &Visit{PatientID: f.patient, VisitTypeID: f.inpat.ID, StartDatetime: f.now.Add(-30 * time.Hour)}
	if err := f.svc.SaveVisit(ctx, overlapping); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected overlap to fail, got %v", err)
	}
	open := f.visit(t, f.inpat, f.now.Add(-12*time.Hour), nil)
	later := &Visit{PatientID: f.patient, VisitTypeID: f.outpat.ID, StartDatetime: f.now.Add(-time.Hour)}
	if err := f.svc.SaveVisit(ctx, later); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected overlap with an open visit to fail, got %v", err)
	}
	other := &Visit{PatientID: uuid.New(), VisitTypeID: f.outpat.ID, StartDatetime: f.now.Add(-time.Hour)}
	if err := f.svc.SaveVisit(ctx, other); err != nil {
		t.Fatalf("expected another patient's visit to be fine, got %v", err)
	}
	// Editing a visit does not overlap with itself.
	open.Indication = base.StrPtr("fever")
	if err := f.svc.SaveVisit(ctx, open); err != nil {
		t.Fatalf("expected update to pass, got %v", err)
	}
}

func TestSaveVisit_Attributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one := 1
	ward := &base.AttributeType{Datatype: base.DatatypeRegex, DatatypeConfig: base.StrPtr(`W-\d+`), MinOccurs: 1, MaxOccurs: &one}
	ward.Name = "Ward"
	if err := f.svc.SaveVisitAttributeType(ctx, ward); err != nil {
		t.Fatal(err)
	}

	v := &Visit{PatientID: f.patient, VisitTypeID: f.inpat.ID, StartDatetime: f.now.Add(-time.Hour)}
	if err := f.svc.SaveVisit(ctx, v); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected a missing required attribute to fail, got %v", err)
	}
	v.Attributes = []*base.Attribute{{AttributeTypeID: ward.ID, Value: "ICU"}}
	if err := f.svc.SaveVisit(ctx, v); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected a regex mismatch to fail, got %v", err)
	}
	v.Attributes = []*base.Attribute{{AttributeTypeID: ward.ID, Value: "W-12"}}
	if err := f.svc.SaveVisit(ctx, v); err != nil {
		t.Fatalf("SaveVisit: %v", err)
	}
	if v.Attributes[0].Creator == "" {
		t.Error("expected the attribute to be stamped")
	}
}

func TestEndVisit_KeepsEncountersInside(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.visit(t, f.outpat, f.now.Add(-3*time.Hour), nil)
	f.svc.SetEncounterTimes(encounterTimes{v.ID: {f.now.Add(-time.Hour)}})

	if _, err := f.svc.EndVisit(ctx, v.ID, timePtr(f.now.Add(-2*time.Hour))); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected an encounter outside the visit to fail, got %v", err)
	}
	ended, err := f.svc.EndVisit(ctx, v.ID, nil)
	if err != nil || ended.StopDatetime == nil {
		t.Fatalf("EndVisit: %v", err)
	}
	active, _ := f.svc.GetActiveVisitsByPatient(ctx, f.patient)
	if len(active) != 0 {
		t.Errorf("expected no active visits, got %d", len(active))
	}
}

func TestVoidAndUnvoidVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.visit(t, f.outpat, f.now.Add(-time.Hour), nil)

	var voidedAt time.Time
	unvoided := false
	f.svc.AddCascade(base.Cascade{
		Name: "encounter",
		Void: func(_ context.Context, owner uuid.UUID, _, reason string, at time.Time) error {
			if owner != v.ID || reason != "entered in error" {
				t.Errorf("unexpected cascade %s %q", owner, reason)
			}
			voidedAt = at
			return nil
		},
		Unvoid: func(_ context.Context, _ uuid.UUID, at time.Time) error {
			unvoided = at.Equal(voidedAt)
			return nil
		},
	})

	if _, err := f.svc.VoidVisit(ctx, v.ID, ""); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected a reason to be required, got %v", err)
	}
	voided, err := f.svc.VoidVisit(ctx, v.ID, "entered in error")
	if err != nil || !voided.Voided || voidedAt.IsZero() {
		t.Fatalf("VoidVisit: %v", err)
	}
	if visits, _ := f.svc.GetVisitsByPatient(ctx, f.patient, true, false); len(visits) != 0 {
		t.Errorf("expected voided visit hidden, got %d", len(visits))
	}
	if _, err := f.svc.UnvoidVisit(ctx, v.ID); err != nil {
		t.Fatal(err)
	}
	if !unvoided {
		t.Error("expected the cascade to unvoid with the void timestamp")
	}
}

func TestPatientCascadeAndMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.visit(t, f.outpat, f.now.Add(-time.Hour), nil)
	at := f.now

	c := f.svc.PatientCascade()
	if err := c.Void(ctx, f.patient, "admin", "patient voided", at); err != nil {
		t.Fatal(err)
	}
	got, _ := f.svc.GetVisit(ctx, v.ID)
	if !got.Voided || *got.VoidReason != "patient voided" {
		t.Fatalf("expected the visit voided, got %+v", got.Data)
	}
	if err := c.Unvoid(ctx, f.patient, at); err != nil {
		t.Fatal(err)
	}
	if got, _ = f.svc.GetVisit(ctx, v.ID); got.Voided {
		t.Error("expected the visit unvoided")
	}

	winner := uuid.New()
	if err := f.svc.PatientMergeHook().Merge(ctx, winner, f.patient); err != nil {
		t.Fatal(err)
	}
	if got, _ = f.svc.GetVisit(ctx, v.ID); got.PatientID != winner {
		t.Error("expected the visit moved to the winner")
	}
}

func TestStopVisits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.visit(t, f.inpat, f.now.Add(-72*time.Hour), timePtr(f.now.Add(-48*time.Hour)))
	open := f.visit(t, f.outpat, f.now.Add(-24*time.Hour), nil)
	other := &Visit{PatientID: uuid.New(), VisitTypeID: f.inpat.ID, StartDatetime: f.now.Add(-time.Hour)}
	if err := f.svc.SaveVisit(ctx, other); err != nil {
		t.Fatal(err)
	}

	if n, err := f.svc.StopVisits(ctx, nil); err != nil || n != 0 {
		t.Fatalf("expected nothing stopped without configuration, got %d %v", n, err)
	}
	f.gp.Set(base.GPAutoCloseVisitType, "Outpatient, Missing")
	n, err := f.svc.StopVisits(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 visit stopped, got %d %v", n, err)
	}
	got, _ := f.svc.GetVisit(ctx, open.ID)
	if got.StopDatetime == nil {
		t.Error("expected the outpatient visit stopped")
	}
	if got, _ = f.svc.GetVisit(ctx, other.ID); got.StopDatetime != nil {
		t.Error("expected the inpatient visit left open")
	}
	if got, _ = f.svc.GetVisit(ctx, old.ID); !got.StopDatetime.Equal(f.now.Add(-48 * time.Hour)) {
		t.Error("expected the stopped visit untouched")
	}

	ac := NewAutoCloser(f.svc, time.Hour, zerolog.Nop())
	if n := ac.RunOnce(ctx); n != 0 {
		t.Errorf("expected nothing left to stop, got %d", n)
	}
}

func TestEndActiveVisits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.visit(t, f.outpat, f.now.Add(-time.Hour), nil)

	death := f.now.Add(-2 * time.Hour)
	if err := f.svc.EndActiveVisits(ctx, f.patient, death); err != nil {
		t.Fatal(err)
	}
	got, _ := f.svc.GetVisit(ctx, v.ID)
	if got.StopDatetime == nil || !got.StopDatetime.Equal(v.StartDatetime) {
		t.Errorf("expected the visit clamped to its start, got %v", got.StopDatetime)
	}
}

func TestAssignVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	encType := uuid.New()
	hospital, ward, clinic := uuid.New(), uuid.New(), uuid.New()
	f.svc.SetLocationTree(locationTree{hospital: {{ID: ward}}})

	v := &Visit{PatientID: f.patient, VisitTypeID: f.inpat.ID, StartDatetime: f.now.Add(-5 * time.Hour), LocationID: &hospital}
	if err := f.svc.SaveVisit(ctx, v); err != nil {
		t.Fatal(err)
	}
	at := f.now.Add(-time.Hour)

	if got, err := f.svc.AssignVisit(ctx, f.patient, encType, &ward, at); err != nil || got != nil {
		t.Fatalf("expected no assignment by default, got %v %v", got, err)
	}

	f.gp.Set(base.GPVisitAssignmentHandler, AssignExisting)
	got, err := f.svc.AssignVisit(ctx, f.patient, encType, &ward, at)
	if err != nil || got == nil || got.ID != v.ID {
		t.Fatalf("expected the existing visit for a child location, got %v %v", got, err)
	}
	if got, _ := f.svc.AssignVisit(ctx, f.patient, encType, &clinic, at); got != nil {
		t.Error("expected no visit for an unrelated location")
	}
	if got, _ := f.svc.AssignVisit(ctx, f.patient, encType, nil, f.now.Add(-6*time.Hour)); got != nil {
		t.Error("expected no visit before its start")
	}

	other := uuid.New()
	f.gp.Set(base.GPVisitAssignmentHandler, AssignExistingOrNew)
	if _, err := f.svc.AssignVisit(ctx, other, encType, nil, at); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected an unmapped encounter type to fail, got %v", err)
	}
	f.gp.Set(base.GPEncounterTypeToVisitType, "default:"+f.inpat.ID.String()+", "+encType.String()+":"+f.outpat.ID.String())
	created, err := f.svc.AssignVisit(ctx, other, encType, &clinic, at)
	if err != nil || created == nil {
		t.Fatalf("expected a new visit, got %v", err)
	}
	if created.VisitTypeID != f.outpat.ID || !created.StartDatetime.Equal(at) || *created.LocationID != clinic {
		t.Errorf("unexpected new visit %+v", created)
	}
}

func TestParseVisitTypeMapping(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	m := parseVisitTypeMapping("default:" + a.String() + ", " + b.String() + ":" + a.String() + ",junk,x:y")
	if len(m) != 2 || m[defaultMappingKey] != a || m[b.String()] != a {
		t.Errorf("unexpected mapping %v", m)
	}
}
