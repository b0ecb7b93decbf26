package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/base/basetest"
	"github.com/ehr/emr/internal/domain/person"
	"github.com/ehr/emr/internal/domain/person/persontest"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/pkg/pagination"
)

type mockProviders struct {
	*basetest.Table[Provider]
}

func (m *mockProviders) GetByIdentifier(_ context.Context, identifier string) (*Provider, error) {
	for _, p := range m.Filter(nil) {
		if base.StrVal(p.Identifier) == identifier {
			return p, nil
		}
	}
	return nil, apierr.NotFound("provider", identifier)
}

func (m *mockProviders) ListByPerson(_ context.Context, personID uuid.UUID, includeRetired bool) ([]*Provider, error) {
	return m.Filter(func(p *Provider) bool {
		return p.PersonID != nil && *p.PersonID == personID && (includeRetired || !p.Retired)
	}), nil
}

func (m *mockProviders) Search(_ context.Context, q Query, page pagination.Params) ([]*Provider, int, error) {
	all := m.Filter(func(p *Provider) bool {
		if p.Retired && !q.IncludeRetired {
			return false
		}
		text := strings.ToLower(q.Text)
		return strings.Contains(strings.ToLower(p.Name), text) || strings.Contains(strings.ToLower(base.StrVal(p.Identifier)), text)
	})
	lo, hi := page.Window(len(all))
	return all[lo:hi], len(all), nil
}

type mockAttrTypes struct {
	*basetest.Table[base.AttributeType]
}

func (m *mockAttrTypes) GetByName(_ context.Context, name string) (*base.AttributeType, error) {
	for _, t := range m.Filter(nil) {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return nil, apierr.NotFound("providerAttributeType", name)
}

func (m *mockAttrTypes) List(_ context.Context, includeRetired bool) ([]*base.AttributeType, error) {
	return m.Filter(func(t *base.AttributeType) bool { return includeRetired || !t.Retired }), nil
}

type fixture struct {
	svc       *Service
	people    *person.Service
	providers *mockProviders
	attrTypes *mockAttrTypes
	gp        *base.StaticProperties
}

func newFixture() *fixture {
	people, _ := persontest.NewService()
	f := &fixture{
		people:    people,
		providers: &mockProviders{basetest.NewTable("provider", func(p *Provider) *uuid.UUID { return &p.ID })},
		attrTypes: &mockAttrTypes{basetest.NewTable("providerAttributeType", func(t *base.AttributeType) *uuid.UUID { return &t.ID })},
		gp:        base.NewStaticProperties(nil),
	}
	f.svc = NewService(f.providers, f.attrTypes, people, f.gp)
	return f
}

func namedProvider(name, identifier string) *Provider {
	p := &Provider{Identifier: base.StrPtr(identifier)}
	p.Name = name
	return p
}

func TestSaveProvider_NameFromPerson(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.svc.SaveProvider(ctx, &Provider{}); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected person or name to be required, got %v", err)
	}

	per := persontest.NewPerson("Elizabeth", "Blackwell")
	if err := f.people.SavePerson(ctx, per); err != nil {
		t.Fatal(err)
	}
	p := &Provider{PersonID: &per.ID, Identifier: base.StrPtr(" DOC-1 ")}
	if err := f.svc.SaveProvider(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Elizabeth Blackwell" || *p.Identifier != "DOC-1" || p.Creator != "daemon" {
		t.Errorf("unexpected provider %+v", p)
	}

	byPerson, err := f.svc.GetProvidersByPerson(ctx, per.ID, false)
	if err != nil || len(byPerson) != 1 {
		t.Errorf("expected one provider for the person, got %d (%v)", len(byPerson), err)
	}

	missing := uuid.New()
	if err := f.svc.SaveProvider(ctx, &Provider{PersonID: &missing}); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected unknown person to fail, got %v", err)
	}
}

func TestSaveProvider_IdentifierUnique(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := namedProvider("Dr. House", "H-1")
	if err := f.svc.SaveProvider(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SaveProvider(ctx, namedProvider("Dr. Wilson", "H-1")); !errors.Is(err, apierr.ErrConflict) {
		t.Fatalf("expected duplicate identifier conflict, got %v", err)
	}
	unique, err := f.svc.IsProviderIdentifierUnique(ctx, first)
	if err != nil || !unique {
		t.Errorf("a provider does not clash with itself: %v %v", unique, err)
	}

	first.Name = "Dr. Gregory House"
	if err := f.svc.SaveProvider(ctx, first); err != nil {
		t.Fatalf("unexpected error on update: %v", err)
	}
	got, err := f.svc.GetProviderByIdentifier(ctx, "H-1")
	if err != nil || got.Name != "Dr. Gregory House" || got.ChangedBy == nil {
		t.Errorf("unexpected provider %+v (%v)", got, err)
	}
}

func TestSaveProvider_Attributes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	one := 1
	room := &base.AttributeType{Datatype: base.DatatypeInteger, MinOccurs: 1, MaxOccurs: &one}
	room.Name = "Room"
	if err := f.svc.SaveProviderAttributeType(ctx, room); err != nil {
		t.Fatal(err)
	}

	p := namedProvider("Dr. Who", "")
	if err := f.svc.SaveProvider(ctx, p); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected required attribute to be enforced, got %v", err)
	}
	p.Attributes = []*base.Attribute{{AttributeTypeID: room.ID, Value: "twelve"}}
	if err := f.svc.SaveProvider(ctx, p); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected integer datatype to be enforced, got %v", err)
	}
	p.Attributes[0].Value = "12"
	if err := f.svc.SaveProvider(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Attributes[0].Creator != "daemon" {
		t.Errorf("expected attribute to be stamped: %+v", p.Attributes[0])
	}
}

func TestProviderSearchAndLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for _, p := range []*Provider{namedProvider("Alice Ames", "A-1"), namedProvider("Bob Burns", "B-1"), namedProvider("Alan Arch", "")} {
		if err := f.svc.SaveProvider(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	found, total, err := f.svc.GetProviders(ctx, Query{Text: "al"}, pagination.Params{Limit: 1})
	if err != nil || total != 2 || len(found) != 1 {
		t.Fatalf("expected 2 matches, 1 on the page; got %d/%d (%v)", len(found), total, err)
	}

	bob, _ := f.svc.GetProviderByIdentifier(ctx, "B-1")
	if _, err := f.svc.RetireProvider(ctx, bob.ID, ""); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected retire reason to be required, got %v", err)
	}
	if _, err := f.svc.RetireProvider(ctx, bob.ID, "left"); err != nil {
		t.Fatal(err)
	}
	if n, _ := f.svc.GetCountOfProviders(ctx, Query{}); n != 2 {
		t.Errorf("expected 2 active providers, got %d", n)
	}
	all, _ := f.svc.GetAllProviders(ctx, true)
	if len(all) != 3 {
		t.Errorf("expected 3 providers including retired, got %d", len(all))
	}
	if _, err := f.svc.UnretireProvider(ctx, bob.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.PurgeProvider(ctx, bob.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GetProvider(ctx, bob.ID); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected purged provider gone, got %v", err)
	}
}

func TestGetUnknownProvider(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.GetUnknownProvider(ctx); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("expected not found without the global property, got %v", err)
	}
	unknown := namedProvider("Unknown Provider", "UNKNOWN")
	if err := f.svc.SaveProvider(ctx, unknown); err != nil {
		t.Fatal(err)
	}
	f.gp.Set(base.GPUnknownProviderUUID, unknown.ID.String())
	got, err := f.svc.GetUnknownProvider(ctx)
	if err != nil || got.ID != unknown.ID {
		t.Errorf("unexpected provider %+v (%v)", got, err)
	}
	f.gp.Set(base.GPUnknownProviderUUID, "not-a-uuid")
	if _, err := f.svc.GetUnknownProvider(ctx); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected invalid uuid to fail, got %v", err)
	}
}

func TestProviderAttributeTypeLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	zero := 0
	bad := &base.AttributeType{MinOccurs: 1, MaxOccurs: &zero}
	bad.Name = "Broken"
	if err := f.svc.SaveProviderAttributeType(ctx, bad); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected occurrence bounds to be checked, got %v", err)
	}
	at := &base.AttributeType{}
	at.Name = "Specialty"
	if err := f.svc.SaveProviderAttributeType(ctx, at); err != nil {
		t.Fatal(err)
	}
	if at.Datatype != base.DatatypeFreeText {
		t.Errorf("expected free text default, got %s", at.Datatype)
	}
	if got, err := f.svc.GetProviderAttributeTypeByName(ctx, "specialty"); err != nil || got.ID != at.ID {
		t.Errorf("unexpected lookup %v %v", got, err)
	}
	if _, err := f.svc.RetireProviderAttributeType(ctx, at.ID, "unused"); err != nil {
		t.Fatal(err)
	}
	if active, _ := f.svc.GetAllProviderAttributeTypes(ctx, false); len(active) != 0 {
		t.Errorf("expected no active types, got %d", len(active))
	}
	if _, err := f.svc.UnretireProviderAttributeType(ctx, at.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.PurgeProviderAttributeType(ctx, at.ID); err != nil {
		t.Fatal(err)
	}
}
