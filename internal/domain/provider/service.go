package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/person"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
	"github.com/ehr/emr/pkg/pagination"
)

// PersonReader resolves the person behind a provider.
type PersonReader interface {
	GetPerson(ctx context.Context, id uuid.UUID) (*person.Person, error)
}

type Service struct {
	base.Support
	repo      ProviderRepository
	attrTypes AttributeTypeRepository
	people    PersonReader
	gp        base.GlobalProperties
}

func NewService(repo ProviderRepository, attrTypes AttributeTypeRepository, people PersonReader, gp base.GlobalProperties) *Service {
	return &Service{repo: repo, attrTypes: attrTypes, people: people, gp: gp}
}

// SaveProvider requires a person or a name. A provider linked to a person
// without a name takes the person's preferred name.
func (s *Service) SaveProvider(ctx context.Context, p *Provider) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Identifier = base.StrPtr(strings.TrimSpace(base.StrVal(p.Identifier)))
	if p.PersonID != nil {
		per, err := s.people.GetPerson(ctx, *p.PersonID)
		if err != nil {
			return err
		}
		if p.Name == "" {
			p.Name = preferredName(per)
		}
	}
	if p.Name == "" {
		return apierr.Invalid("name", "Provider.error.personOrName.required", "a provider needs a person or a name")
	}
	if err := validate.Struct("Provider", p); err != nil {
		return err
	}
	if p.Identifier != nil {
		unique, err := s.IsProviderIdentifierUnique(ctx, p)
		if err != nil {
			return err
		}
		if !unique {
			return apierr.Conflict("Provider.identifier.duplicate", "provider identifier %s is already in use", *p.Identifier)
		}
	}
	types, err := s.attrTypes.List(ctx, true)
	if err != nil {
		return err
	}
	if err := base.CheckAttributes(types, p.Attributes); err != nil {
		return err
	}

	actor := auth.ActorFromContext(ctx)
	for _, a := range p.Attributes {
		a.Data.Stamp(actor, a.ID == uuid.Nil)
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		if p.ID == uuid.Nil {
			p.Metadata.Stamp(actor, true)
			if err := s.repo.Create(ctx, p); err != nil {
				return err
			}
			s.Record("provider", "create")
			return nil
		}
		stored, err := s.repo.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		p.Metadata.Preserve(stored.Metadata)
		p.Metadata.Stamp(actor, false)
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		s.Record("provider", "update")
		return nil
	})
}

func preferredName(p *person.Person) string {
	for _, n := range p.Names {
		if n.Preferred && !n.Voided {
			return n.FullName()
		}
	}
	for _, n := range p.Names {
		if !n.Voided {
			return n.FullName()
		}
	}
	return ""
}

// IsProviderIdentifierUnique reports whether no other provider uses the
// identifier of p. A blank identifier is always unique.
func (s *Service) IsProviderIdentifierUnique(ctx context.Context, p *Provider) (bool, error) {
	if base.StrVal(p.Identifier) == "" {
		return true, nil
	}
	existing, err := s.repo.GetByIdentifier(ctx, *p.Identifier)
	if errors.Is(err, apierr.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return existing.ID == p.ID, nil
}

func (s *Service) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetProviderByIdentifier(ctx context.Context, identifier string) (*Provider, error) {
	return s.repo.GetByIdentifier(ctx, identifier)
}

func (s *Service) GetProvidersByPerson(ctx context.Context, personID uuid.UUID, includeRetired bool) ([]*Provider, error) {
	return s.repo.ListByPerson(ctx, personID, includeRetired)
}

func (s *Service) GetProviders(ctx context.Context, q Query, page pagination.Params) ([]*Provider, int, error) {
	return s.repo.Search(ctx, q, page)
}

func (s *Service) GetCountOfProviders(ctx context.Context, q Query) (int, error) {
	_, total, err := s.repo.Search(ctx, q, pagination.Params{Limit: 1})
	return total, err
}

func (s *Service) GetAllProviders(ctx context.Context, includeRetired bool) ([]*Provider, error) {
	providers, _, err := s.repo.Search(ctx, Query{IncludeRetired: includeRetired}, pagination.All)
	return providers, err
}

// GetUnknownProvider returns the provider named by the global property
// provider.unknownProviderUuid.
func (s *Service) GetUnknownProvider(ctx context.Context) (*Provider, error) {
	v := s.gp.GetGlobalPropertyValue(ctx, base.GPUnknownProviderUUID, "")
	if v == "" {
		return nil, apierr.NotFound("provider", base.GPUnknownProviderUUID)
	}
	id, err := uuid.Parse(strings.TrimSpace(v))
	if err != nil {
		return nil, apierr.Invalid(base.GPUnknownProviderUUID, "Provider.unknownProvider.invalid", "%s is not a uuid", base.GPUnknownProviderUUID)
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) RetireProvider(ctx context.Context, id uuid.UUID, reason string) (*Provider, error) {
	return base.RetireByID[*Provider](ctx, s.repo, id, reason)
}

func (s *Service) UnretireProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return base.UnretireByID[*Provider](ctx, s.repo, id)
}

func (s *Service) PurgeProvider(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Record("provider", "purge")
	return nil
}

func (s *Service) SaveProviderAttributeType(ctx context.Context, t *base.AttributeType) error {
	if t.Datatype == "" {
		t.Datatype = base.DatatypeFreeText
	}
	if err := validate.Struct("ProviderAttributeType", t); err != nil {
		return err
	}
	if err := t.Check(); err != nil {
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

func (s *Service) GetProviderAttributeType(ctx context.Context, id uuid.UUID) (*base.AttributeType, error) {
	return s.attrTypes.GetByID(ctx, id)
}

func (s *Service) GetProviderAttributeTypeByName(ctx context.Context, name string) (*base.AttributeType, error) {
	return s.attrTypes.GetByName(ctx, name)
}

func (s *Service) GetAllProviderAttributeTypes(ctx context.Context, includeRetired bool) ([]*base.AttributeType, error) {
	return s.attrTypes.List(ctx, includeRetired)
}

func (s *Service) RetireProviderAttributeType(ctx context.Context, id uuid.UUID, reason string) (*base.AttributeType, error) {
	return base.RetireByID[*base.AttributeType](ctx, s.attrTypes, id, reason)
}

func (s *Service) UnretireProviderAttributeType(ctx context.Context, id uuid.UUID) (*base.AttributeType, error) {
	return base.UnretireByID[*base.AttributeType](ctx, s.attrTypes, id)
}

func (s *Service) PurgeProviderAttributeType(ctx context.Context, id uuid.UUID) error {
	return s.attrTypes.Delete(ctx, id)
}
