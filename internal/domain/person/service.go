package person

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
	"github.com/ehr/emr/pkg/pagination"
)

type Service struct {
	base.Support
	people    PersonRepository
	attrTypes AttributeTypeRepository
	relTypes  RelationshipTypeRepository
	rels      RelationshipRepository
}

func NewService(people PersonRepository, attrTypes AttributeTypeRepository, relTypes RelationshipTypeRepository, rels RelationshipRepository) *Service {
	return &Service{people: people, attrTypes: attrTypes, relTypes: relTypes, rels: rels}
}

// SavePerson validates and stores the person with its names, addresses and
// attributes.
func (s *Service) SavePerson(ctx context.Context, p *Person) error {
	stored := &Person{}
	if p.ID != uuid.Nil {
		var err error
		if stored, err = s.people.GetByID(ctx, p.ID); err != nil {
			return err
		}
	}
	actor := auth.ActorFromContext(ctx)
	if err := stampDetails(p, stored, actor); err != nil {
		return err
	}
	if err := s.checkPerson(ctx, p); err != nil {
		return err
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		if p.ID == uuid.Nil {
			p.Data.Stamp(actor, true)
			if err := s.people.Create(ctx, p); err != nil {
				return err
			}
			s.Record("person", "create")
			return nil
		}
		p.Data.Preserve(stored.Data)
		p.Data.Stamp(actor, false)
		if err := s.people.Update(ctx, p); err != nil {
			return err
		}
		s.Record("person", "update")
		return nil
	})
}

func (s *Service) checkPerson(ctx context.Context, p *Person) error {
	p.Gender = strings.ToUpper(strings.TrimSpace(p.Gender))
	if err := validate.Struct("Person", p); err != nil {
		return err
	}
	now := base.Now()
	if p.Birthdate != nil && p.Birthdate.After(now) {
		return apierr.Invalid("birthdate", "Person.birthdate.future", "birthdate cannot be in the future")
	}
	if p.DeathDate != nil {
		p.Dead = true
		if p.DeathDate.After(now) {
			return apierr.Invalid("death_date", "Person.deathDate.future", "death date cannot be in the future")
		}
		if p.Birthdate != nil && p.DeathDate.Before(*p.Birthdate) {
			return apierr.Invalid("death_date", "Person.deathDate.beforeBirthdate", "death date cannot be before the birthdate")
		}
	}
	if err := checkNames(p.Names); err != nil {
		return err
	}
	normalizeAddresses(p.Addresses)
	return s.checkAttributes(ctx, p.Attributes)
}

func checkNames(names []*PersonName) error {
	var active []*PersonName
	for _, n := range names {
		if n.Voided {
			n.Preferred = false
			continue
		}
		n.GivenName, n.FamilyName = strings.TrimSpace(n.GivenName), strings.TrimSpace(n.FamilyName)
		if n.GivenName == "" || n.FamilyName == "" {
			return apierr.Invalid("names", "PersonName.name.required", "given and family name are required")
		}
		if err := validate.Struct("PersonName", n); err != nil {
			return err
		}
		active = append(active, n)
	}
	if len(active) == 0 {
		return apierr.Invalid("names", "Person.names.required", "a person needs at least one name")
	}
	flags := make([]*bool, len(active))
	for i, n := range active {
		flags[i] = &n.Preferred
	}
	onePreferred(flags)
	return nil
}

func normalizeAddresses(addrs []*PersonAddress) {
	var flags []*bool
	for _, a := range addrs {
		if a.Voided {
			a.Preferred = false
			continue
		}
		flags = append(flags, &a.Preferred)
	}
	onePreferred(flags)
}

// onePreferred leaves exactly one flag set: the first set one, or the first
// one when none is.
func onePreferred(flags []*bool) {
	if len(flags) == 0 {
		return
	}
	found := false
	for _, f := range flags {
		if *f && !found {
			found = true
			continue
		}
		*f = false
	}
	if !found {
		*flags[0] = true
	}
}

func (s *Service) checkAttributes(ctx context.Context, attrs []*PersonAttribute) error {
	for _, a := range attrs {
		if a.Voided {
			continue
		}
		t, err := s.attrTypes.GetByID(ctx, a.AttributeTypeID)
		if err != nil {
			return err
		}
		if err := checkFormat(t.Format, a.Value); err != nil {
			return apierr.Invalid("attributes", "PersonAttribute.value.invalid", "%s: %q is not a valid %s", t.Name, a.Value, t.Format)
		}
	}
	return nil
}

func checkFormat(format, value string) error {
	value = strings.TrimSpace(value)
	var err error
	switch format {
	case FormatInteger:
		_, err = strconv.Atoi(value)
	case FormatBoolean:
		_, err = strconv.ParseBool(value)
	case FormatDate:
		_, err = time.Parse("2006-01-02", value)
	}
	return err
}

// stampDetails stamps names, addresses and attributes against the stored
// person.
func stampDetails(p, stored *Person, actor string) error {
	if err := base.StampDetails(p.Names, stored.Names, func(n *PersonName) (*uuid.UUID, *base.Data) { return &n.ID, &n.Data }, actor); err != nil {
		return err
	}
	if err := base.StampDetails(p.Addresses, stored.Addresses, func(a *PersonAddress) (*uuid.UUID, *base.Data) { return &a.ID, &a.Data }, actor); err != nil {
		return err
	}
	return base.StampDetails(p.Attributes, stored.Attributes, func(a *PersonAttribute) (*uuid.UUID, *base.Data) { return &a.ID, &a.Data }, actor)
}

func (s *Service) GetPerson(ctx context.Context, id uuid.UUID) (*Person, error) {
	return s.people.GetByID(ctx, id)
}

func (s *Service) GetPeople(ctx context.Context, q Query, page pagination.Params) ([]*Person, int, error) {
	return s.people.Search(ctx, q, page)
}

// GetSimilarPeople finds non-voided people sharing a name token, born within
// a year of birthYear and of the same gender. Empty filters are ignored.
func (s *Service) GetSimilarPeople(ctx context.Context, name string, birthYear *int, gender string) ([]*Person, error) {
	var tokens []string
	for _, tok := range strings.Fields(name) {
		tokens = append(tokens, tok+"%")
	}
	if len(tokens) == 0 {
		return []*Person{}, nil
	}
	return s.people.Similar(ctx, tokens, birthYear, strings.ToUpper(gender))
}

// VoidPerson voids the person with every name, address, attribute and
// relationship, then the registered dependents.
func (s *Service) VoidPerson(ctx context.Context, id uuid.UUID, reason string) (*Person, error) {
	p, err := s.people.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Voided {
		return p, nil
	}
	actor, at := auth.ActorFromContext(ctx), base.Now()
	if err := p.Void(actor, reason, at); err != nil {
		return nil, err
	}
	err = s.InTx(ctx, func(ctx context.Context) error {
		if err := s.people.Update(ctx, p); err != nil {
			return err
		}
		if err := s.people.VoidDetails(ctx, id, actor, reason, at); err != nil {
			return err
		}
		if err := s.rels.VoidByPerson(ctx, id, actor, reason, at); err != nil {
			return err
		}
		return s.VoidDependents(ctx, id, actor, reason, at)
	})
	if err != nil {
		return nil, err
	}
	s.Record("person", "void")
	s.Log().Info().Stringer("person", id).Msg("person voided")
	return s.people.GetByID(ctx, id)
}

// UnvoidPerson reverses VoidPerson. Details voided separately stay voided.
func (s *Service) UnvoidPerson(ctx context.Context, id uuid.UUID) (*Person, error) {
	p, err := s.people.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Voided || p.DateVoided == nil {
		return p, nil
	}
	voidedAt := *p.DateVoided
	p.Unvoid()
	p.Data.Stamp(auth.ActorFromContext(ctx), false)
	err = s.InTx(ctx, func(ctx context.Context) error {
		if err := s.people.Update(ctx, p); err != nil {
			return err
		}
		if err := s.people.UnvoidDetails(ctx, id, voidedAt); err != nil {
			return err
		}
		if err := s.rels.UnvoidByPerson(ctx, id, voidedAt); err != nil {
			return err
		}
		return s.UnvoidDependents(ctx, id, voidedAt)
	})
	if err != nil {
		return nil, err
	}
	s.Record("person", "unvoid")
	return s.people.GetByID(ctx, id)
}

func (s *Service) PurgePerson(ctx context.Context, id uuid.UUID) error {
	if err := s.people.Delete(ctx, id); err != nil {
		return err
	}
	s.Record("person", "purge")
	return nil
}

// ProcessDeath marks the person dead on deathDate.
func (s *Service) ProcessDeath(ctx context.Context, id uuid.UUID, deathDate time.Time, cause string) (*Person, error) {
	if deathDate.IsZero() {
		return nil, apierr.Invalid("death_date", "Person.deathDate.required", "death date is required")
	}
	if strings.TrimSpace(cause) == "" {
		return nil, apierr.Invalid("cause_of_death", "Person.causeOfDeath.required", "cause of death is required")
	}
	p, err := s.people.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Dead, p.DeathDate, p.CauseOfDeath = true, &deathDate, &cause
	if err := s.SavePerson(ctx, p); err != nil {
		return nil, err
	}
	s.Log().Info().Stringer("person", id).Time("death_date", deathDate).Msg("death processed")
	return p, nil
}

// CopyNamesAndAddresses adds the names and addresses of from to to as
// non-preferred entries.
func (s *Service) CopyNamesAndAddresses(ctx context.Context, from, to uuid.UUID) error {
	return s.people.CopyDetails(ctx, from, to, auth.ActorFromContext(ctx))
}

func (s *Service) SavePersonAttributeType(ctx context.Context, t *PersonAttributeType) error {
	if t.Format == "" {
		t.Format = FormatString
	}
	if err := validate.Struct("PersonAttributeType", t); err != nil {
		return err
	}
	actor := auth.ActorFromContext(ctx)
	if t.ID == uuid.Nil {
		t.Metadata.Stamp(actor, true)
		return s.attrTypes.Create(ctx, t)
	}
	stored, err := s.attrTypes.GetByID(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Metadata.Preserve(stored.Metadata)
	t.Metadata.Stamp(actor, false)
	return s.attrTypes.Update(ctx, t)
}

func (s *Service) GetPersonAttributeType(ctx context.Context, id uuid.UUID) (*PersonAttributeType, error) {
	return s.attrTypes.GetByID(ctx, id)
}

func (s *Service) GetPersonAttributeTypeByName(ctx context.Context, name string) (*PersonAttributeType, error) {
	return s.attrTypes.GetByName(ctx, name)
}

func (s *Service) GetAllPersonAttributeTypes(ctx context.Context, includeRetired bool) ([]*PersonAttributeType, error) {
	return s.attrTypes.List(ctx, includeRetired)
}

func (s *Service) RetirePersonAttributeType(ctx context.Context, id uuid.UUID, reason string) (*PersonAttributeType, error) {
	return base.RetireByID[*PersonAttributeType](ctx, s.attrTypes, id, reason)
}

func (s *Service) UnretirePersonAttributeType(ctx context.Context, id uuid.UUID) (*PersonAttributeType, error) {
	return base.UnretireByID[*PersonAttributeType](ctx, s.attrTypes, id)
}

func (s *Service) PurgePersonAttributeType(ctx context.Context, id uuid.UUID) error {
	return s.attrTypes.Delete(ctx, id)
}

// SaveRelationshipType stores t, naming it "<a is to b>/<b is to a>" when
// no name is given.
func (s *Service) SaveRelationshipType(ctx context.Context, t *RelationshipType) error {
	if strings.TrimSpace(t.Name) == "" {
		t.Name = t.AIsToB + "/" + t.BIsToA
	}
	if err := validate.Struct("RelationshipType", t); err != nil {
		return err
	}
	actor := auth.ActorFromContext(ctx)
	if t.ID == uuid.Nil {
		t.Metadata.Stamp(actor, true)
		return s.relTypes.Create(ctx, t)
	}
	stored, err := s.relTypes.GetByID(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Metadata.Preserve(stored.Metadata)
	t.Metadata.Stamp(actor, false)
	return s.relTypes.Update(ctx, t)
}

func (s *Service) GetRelationshipType(ctx context.Context, id uuid.UUID) (*RelationshipType, error) {
	return s.relTypes.GetByID(ctx, id)
}

func (s *Service) GetAllRelationshipTypes(ctx context.Context, includeRetired bool) ([]*RelationshipType, error) {
	return s.relTypes.List(ctx, includeRetired)
}

func (s *Service) RetireRelationshipType(ctx context.Context, id uuid.UUID, reason string) (*RelationshipType, error) {
	return base.RetireByID[*RelationshipType](ctx, s.relTypes, id, reason)
}

func (s *Service) UnretireRelationshipType(ctx context.Context, id uuid.UUID) (*RelationshipType, error) {
	return base.UnretireByID[*RelationshipType](ctx, s.relTypes, id)
}

func (s *Service) PurgeRelationshipType(ctx context.Context, id uuid.UUID) error {
	return s.relTypes.Delete(ctx, id)
}

func (s *Service) SaveRelationship(ctx context.Context, r *Relationship) error {
	if err := validate.Struct("Relationship", r); err != nil {
		return err
	}
	if r.PersonA == r.PersonB {
		return apierr.Invalid("person_b", "Relationship.person.same", "a person cannot be related to themselves")
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return apierr.Invalid("end_date", "Relationship.endDate.beforeStartDate", "end date cannot be before the start date")
	}
	if _, err := s.relTypes.GetByID(ctx, r.RelationshipTypeID); err != nil {
		return err
	}
	for _, id := range []uuid.UUID{r.PersonA, r.PersonB} {
		if _, err := s.people.GetByID(ctx, id); err != nil {
			return err
		}
	}
	actor := auth.ActorFromContext(ctx)
	if r.ID == uuid.Nil {
		r.Data.Stamp(actor, true)
		if err := s.rels.Create(ctx, r); err != nil {
			return err
		}
		s.Record("relationship", "create")
		return nil
	}
	stored, err := s.rels.GetByID(ctx, r.ID)
	if err != nil {
		return err
	}
	r.Data.Preserve(stored.Data)
	r.Data.Stamp(actor, false)
	return s.rels.Update(ctx, r)
}

func (s *Service) GetRelationship(ctx context.Context, id uuid.UUID) (*Relationship, error) {
	return s.rels.GetByID(ctx, id)
}

// GetRelationshipsByPerson lists the relationships on either side of person,
// limited to those in effect on effectiveDate when it is set.
func (s *Service) GetRelationshipsByPerson(ctx context.Context, person uuid.UUID, effectiveDate *time.Time) ([]*Relationship, error) {
	return s.rels.List(ctx, RelationshipQuery{Person: &person, EffectiveDate: effectiveDate})
}

func (s *Service) GetRelationships(ctx context.Context, personA, personB, typeID *uuid.UUID) ([]*Relationship, error) {
	return s.rels.List(ctx, RelationshipQuery{PersonA: personA, PersonB: personB, TypeID: typeID})
}

func (s *Service) VoidRelationship(ctx context.Context, id uuid.UUID, reason string) (*Relationship, error) {
	return base.VoidByID[*Relationship](ctx, s.rels, id, reason)
}

func (s *Service) UnvoidRelationship(ctx context.Context, id uuid.UUID) (*Relationship, error) {
	return base.UnvoidByID[*Relationship](ctx, s.rels, id)
}

func (s *Service) PurgeRelationship(ctx context.Context, id uuid.UUID) error {
	return s.rels.Delete(ctx, id)
}
