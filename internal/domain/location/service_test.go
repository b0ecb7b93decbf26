package location

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/base/basetest"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/pkg/pagination"
)

type mockLocations struct {
	*basetest.Table[Location]
}

func byName(a, b *Location) bool { return a.Name < b.Name }

func (m *mockLocations) GetByName(_ context.Context, name string) (*Location, error) {
	for _, l := range m.Filter(nil) {
		if strings.EqualFold(l.Name, name) {
			return l, nil
		}
	}
	return nil, apierr.NotFound("location", name)
}

func (m *mockLocations) List(_ context.Context, includeRetired bool) ([]*Location, error) {
	return m.Sorted(func(l *Location) bool { return includeRetired || !l.Retired }, byName), nil
}

func (m *mockLocations) Search(_ context.Context, q Query, page pagination.Params) ([]*Location, int, error) {
	all := m.Sorted(func(l *Location) bool {
		return (q.IncludeRetired || !l.Retired) && strings.Contains(strings.ToLower(l.Name), strings.ToLower(q.Text))
	}, byName)
	lo, hi := page.Window(len(all))
	return all[lo:hi], len(all), nil
}

func (m *mockLocations) ListChildren(_ context.Context, parentID uuid.UUID, includeRetired bool) ([]*Location, error) {
	return m.Sorted(func(l *Location) bool {
		return l.ParentLocationID != nil && *l.ParentLocationID == parentID && (includeRetired || !l.Retired)
	}, byName), nil
}

func (m *mockLocations) ListByTags(_ context.Context, tagIDs []uuid.UUID, all bool) ([]*Location, error) {
	return m.Sorted(func(l *Location) bool {
		if l.Retired {
			return false
		}
		n := 0
		for _, t := range tagIDs {
			if l.HasTag(t) {
				n++
			}
		}
		if all {
			return n == len(tagIDs)
		}
		return n > 0
	}, byName), nil
}

type mockTags struct {
	*basetest.Table[LocationTag]
}

func (m *mockTags) GetByName(_ context.Context, name string) (*LocationTag, error) {
	for _, t := range m.Filter(nil) {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return nil, apierr.NotFound("locationTag", name)
}

func (m *mockTags) List(_ context.Context, includeRetired bool) ([]*LocationTag, error) {
	return m.Filter(func(t *LocationTag) bool { return includeRetired || !t.Retired }), nil
}

type fixture struct {
	svc       *Service
	locations *mockLocations
	tags      *mockTags
	gp        *base.StaticProperties
}

func newFixture() *fixture {
	f := &fixture{
		locations: &mockLocations{basetest.NewTable("location", func(l *Location) *uuid.UUID { return &l.ID })},
		tags:      &mockTags{basetest.NewTable("locationTag", func(t *LocationTag) *uuid.UUID { return &t.ID })},
		gp:        base.NewStaticProperties(nil),
	}
	f.svc = NewService(f.locations, f.tags, f.gp)
	return f
}

func (f *fixture) location(t *testing.T, name string, parent *Location, tags ...uuid.UUID) *Location {
	t.Helper()
	l := &Location{Tags: tags}
	l.Name = name
	if parent != nil {
		l.ParentLocationID = &parent.ID
	}
	if err := f.svc.SaveLocation(context.Background(), l); err != nil {
		t.Fatalf("SaveLocation(%s): %v", name, err)
	}
	return l
}

func (f *fixture) tag(t *testing.T, name string) *LocationTag {
	t.Helper()
	tag := &LocationTag{}
	tag.Name = name
	if err := f.svc.SaveLocationTag(context.Background(), tag); err != nil {
		t.Fatalf("SaveLocationTag(%s): %v", name, err)
	}
	return tag
}

func TestSaveLocation_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.svc.SaveLocation(ctx, &Location{}); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected a blank name to fail, got %v", err)
	}
	if err := f.svc.SaveLocation(ctx, &Location{Metadata: base.Metadata{Name: "Ward"}, Tags: []uuid.UUID{uuid.New()}}); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected unknown tag to fail, got %v", err)
	}
	lat := "95"
	if err := f.svc.SaveLocation(ctx, &Location{Metadata: base.Metadata{Name: "Ward"}, Latitude: &lat}); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected an invalid latitude to fail, got %v", err)
	}
}

func TestSaveLocation_NoCycles(t *testing.T) {
	f := newFixture()
	hospital := f.location(t, "Hospital", nil)
	ward := f.location(t, "Ward", hospital)
	bed := f.location(t, "Bed", ward)

	hospital.ParentLocationID = &bed.ID
	if err := f.svc.SaveLocation(context.Background(), hospital); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected a cycle to be refused, got %v", err)
	}
	ward.ParentLocationID = &ward.ID
	if err := f.svc.SaveLocation(context.Background(), ward); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected self parent to be refused, got %v", err)
	}
}

func TestGetDescendantLocations(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hospital := f.location(t, "Hospital", nil)
	ward := f.location(t, "Ward", hospital)
	f.location(t, "Bed 1", ward)
	clinic := f.location(t, "Clinic", hospital)
	if _, err := f.svc.RetireLocation(ctx, clinic.ID, "closed"); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.GetDescendantLocations(ctx, hospital.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "Ward" || got[1].Name != "Bed 1" {
		t.Errorf("unexpected descendants %v", got)
	}
	got, _ = f.svc.GetDescendantLocations(ctx, hospital.ID, true)
	if len(got) != 3 {
		t.Errorf("expected retired clinic included, got %d", len(got))
	}
}

func TestGetDefaultLocation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.GetDefaultLocation(ctx); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("expected not found without locations, got %v", err)
	}
	f.location(t, "Zeta", nil)
	amani := f.location(t, "Amani", nil)
	if l, _ := f.svc.GetDefaultLocation(ctx); l.ID != amani.ID {
		t.Errorf("expected the first location, got %s", l.Name)
	}
	unknown := f.location(t, UnknownLocation, nil)
	if l, _ := f.svc.GetDefaultLocation(ctx); l.ID != unknown.ID {
		t.Errorf("expected the unknown location, got %s", l.Name)
	}
	f.gp.Set(base.GPDefaultLocation, "zeta")
	if l, _ := f.svc.GetDefaultLocation(ctx); l.Name != "Zeta" {
		t.Errorf("expected the configured name, got %s", l.Name)
	}
	f.gp.Set(base.GPDefaultLocation, amani.ID.String())
	if l, _ := f.svc.GetDefaultLocation(ctx); l.ID != amani.ID {
		t.Errorf("expected the configured id, got %s", l.Name)
	}
	f.gp.Set(base.GPDefaultLocation, "Nowhere")
	if l, _ := f.svc.GetDefaultLocation(ctx); l.ID != unknown.ID {
		t.Errorf("expected a fallback for a bad setting, got %s", l.Name)
	}
}

func TestLocationsByTags(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	login := f.tag(t, "Login Location")
	visit := f.tag(t, "Visit Location")
	f.location(t, "Both", nil, login.ID, visit.ID, login.ID)
	f.location(t, "Login only", nil, login.ID)
	f.location(t, "None", nil)

	all, _ := f.svc.GetLocationsHavingAllTags(ctx, []uuid.UUID{login.ID, visit.ID})
	if len(all) != 1 || all[0].Name != "Both" || len(all[0].Tags) != 2 {
		t.Errorf("unexpected all-tag result %v", all)
	}
	anyTag, _ := f.svc.GetLocationsHavingAnyTag(ctx, []uuid.UUID{login.ID, visit.ID})
	if len(anyTag) != 2 {
		t.Errorf("expected 2 locations with any tag, got %d", len(anyTag))
	}
	byTag, _ := f.svc.GetLocationsByTag(ctx, visit.ID)
	if len(byTag) != 1 {
		t.Errorf("expected 1 location by tag, got %d", len(byTag))
	}
	none, _ := f.svc.GetLocationsHavingAllTags(ctx, nil)
	if len(none) != 0 {
		t.Errorf("expected no locations for an empty tag list, got %d", len(none))
	}
}

func TestLocationTagLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tag := f.tag(t, "Admission Location")

	dup := &LocationTag{}
	dup.Name = "admission location"
	if err := f.svc.SaveLocationTag(ctx, dup); !errors.Is(err, apierr.ErrConflict) {
		t.Errorf("expected duplicate name conflict, got %v", err)
	}
	if _, err := f.svc.RetireLocationTag(ctx, tag.ID, ""); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected retire without reason to fail, got %v", err)
	}
	retired, err := f.svc.RetireLocationTag(ctx, tag.ID, "unused")
	if err != nil || !retired.Retired {
		t.Fatalf("RetireLocationTag: %v", err)
	}
	if tags, _ := f.svc.GetAllLocationTags(ctx, false); len(tags) != 0 {
		t.Errorf("expected retired tag hidden, got %d", len(tags))
	}
	if got, _ := f.svc.GetLocationTagByName(ctx, " Admission Location "); got == nil || got.ID != tag.ID {
		t.Error("expected lookup by trimmed name")
	}
	if err := f.svc.PurgeLocationTag(ctx, tag.ID); err != nil {
		t.Fatal(err)
	}
}
