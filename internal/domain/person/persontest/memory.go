// Package persontest provides in-memory person repositories for tests of
// the person service and the services built on it.
package persontest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base/basetest"
	"github.com/ehr/emr/internal/domain/person"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/pkg/pagination"
)

type People struct {
	*basetest.Table[person.Person]
}

func (m *People) Search(_ context.Context, q person.Query, page pagination.Params) ([]*person.Person, int, error) {
	all := m.Filter(func(p *person.Person) bool {
		if p.Voided && !q.IncludeVoided {
			return false
		}
		if q.Dead != nil && p.Dead != *q.Dead {
			return false
		}
		return matchesName(p, strings.Fields(q.Name))
	})
	lo, hi := page.Window(len(all))
	return all[lo:hi], len(all), nil
}

func matchesName(p *person.Person, tokens []string) bool {
	for _, tok := range tokens {
		found := false
		for _, n := range p.Names {
			if strings.HasPrefix(strings.ToLower(n.GivenName), strings.ToLower(tok)) ||
				strings.HasPrefix(strings.ToLower(n.FamilyName), strings.ToLower(tok)) {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *People) Similar(_ context.Context, tokens []string, birthYear *int, gender string) ([]*person.Person, error) {
	return m.Filter(func(p *person.Person) bool {
		if p.Voided || (gender != "" && p.Gender != gender) {
			return false
		}
		for _, tok := range tokens {
			if matchesName(p, []string{strings.TrimSuffix(tok, "%")}) {
				return true
			}
		}
		return false
	}), nil
}

func (m *People) VoidDetails(_ context.Context, id uuid.UUID, user, reason string, at time.Time) error {
	m.Each(func(p *person.Person) {
		if p.ID != id {
			return
		}
		for _, n := range p.Names {
			if !n.Voided {
				_ = n.Void(user, reason, at)
			}
		}
	})
	return nil
}

func (m *People) UnvoidDetails(_ context.Context, id uuid.UUID, voidedAt time.Time) error {
	m.Each(func(p *person.Person) {
		if p.ID != id {
			return
		}
		for _, n := range p.Names {
			if n.Voided && n.DateVoided != nil && n.DateVoided.Equal(voidedAt) {
				n.Unvoid()
			}
		}
	})
	return nil
}

func (m *People) CopyDetails(_ context.Context, from, to uuid.UUID, user string) error {
	src, err := m.GetByID(context.Background(), from)
	if err != nil {
		return err
	}
	m.Each(func(p *person.Person) {
		if p.ID != to {
			return
		}
		for _, n := range src.Names {
			cp := *n
			cp.ID, cp.PersonID, cp.Preferred = uuid.New(), to, false
			p.Names = append(p.Names, &cp)
		}
	})
	return nil
}

type AttributeTypes struct {
	*basetest.Table[person.PersonAttributeType]
}

func (m *AttributeTypes) GetByName(_ context.Context, name string) (*person.PersonAttributeType, error) {
	for _, t := range m.Filter(nil) {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return nil, apierr.NotFound("personAttributeType", name)
}

func (m *AttributeTypes) List(_ context.Context, includeRetired bool) ([]*person.PersonAttributeType, error) {
	return m.Filter(func(t *person.PersonAttributeType) bool { return includeRetired || !t.Retired }), nil
}

type RelationshipTypes struct {
	*basetest.Table[person.RelationshipType]
}

func (m *RelationshipTypes) List(_ context.Context, includeRetired bool) ([]*person.RelationshipType, error) {
	return m.Filter(func(t *person.RelationshipType) bool { return includeRetired || !t.Retired }), nil
}

type Relationships struct {
	*basetest.Table[person.Relationship]
}

func (m *Relationships) List(_ context.Context, q person.RelationshipQuery) ([]*person.Relationship, error) {
	return m.Filter(func(r *person.Relationship) bool {
		switch {
		case r.Voided && !q.IncludeVoided:
			return false
		case q.PersonA != nil && r.PersonA != *q.PersonA:
			return false
		case q.PersonB != nil && r.PersonB != *q.PersonB:
			return false
		case q.Person != nil && r.PersonA != *q.Person && r.PersonB != *q.Person:
			return false
		case q.TypeID != nil && r.RelationshipTypeID != *q.TypeID:
			return false
		case q.EffectiveDate != nil && !r.ActiveOn(*q.EffectiveDate):
			return false
		}
		return true
	}), nil
}

func (m *Relationships) VoidByPerson(_ context.Context, id uuid.UUID, user, reason string, at time.Time) error {
	m.Each(func(r *person.Relationship) {
		if (r.PersonA == id || r.PersonB == id) && !r.Voided {
			_ = r.Void(user, reason, at)
		}
	})
	return nil
}

func (m *Relationships) UnvoidByPerson(_ context.Context, id uuid.UUID, voidedAt time.Time) error {
	m.Each(func(r *person.Relationship) {
		if (r.PersonA == id || r.PersonB == id) && r.Voided && r.DateVoided.Equal(voidedAt) {
			r.Unvoid()
		}
	})
	return nil
}

// Repos bundles the in-memory repositories behind one person service.
type Repos struct {
	People            *People
	AttributeTypes    *AttributeTypes
	RelationshipTypes *RelationshipTypes
	Relationships     *Relationships
}

func NewRepos() *Repos {
	return &Repos{
		People:            &People{basetest.NewTable("person", func(p *person.Person) *uuid.UUID { return &p.ID })},
		AttributeTypes:    &AttributeTypes{basetest.NewTable("personAttributeType", func(t *person.PersonAttributeType) *uuid.UUID { return &t.ID })},
		RelationshipTypes: &RelationshipTypes{basetest.NewTable("relationshipType", func(t *person.RelationshipType) *uuid.UUID { return &t.ID })},
		Relationships:     &Relationships{basetest.NewTable("relationship", func(r *person.Relationship) *uuid.UUID { return &r.ID })},
	}
}

// NewService returns a person service over fresh in-memory repositories.
func NewService() (*person.Service, *Repos) {
	r := NewRepos()
	return person.NewService(r.People, r.AttributeTypes, r.RelationshipTypes, r.Relationships), r
}

// NewPerson returns a valid unsaved person with one name.
func NewPerson(given, family string) *person.Person {
	return &person.Person{Gender: "F", Names: []*person.PersonName{{GivenName: given, FamilyName: family}}}
}
