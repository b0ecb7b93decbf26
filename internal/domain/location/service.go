package location

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
	"github.com/ehr/emr/pkg/pagination"
)

type Service struct {
	base.Support
	repo LocationRepository
	tags TagRepository
	gp   base.GlobalProperties
}

func NewService(repo LocationRepository, tags TagRepository, gp base.GlobalProperties) *Service {
	return &Service{repo: repo, tags: tags, gp: gp}
}

func (s *Service) SaveLocation(ctx context.Context, l *Location) error {
	l.Name = strings.TrimSpace(l.Name)
	if l.Name == "" {
		return apierr.Invalid("name", "Location.error.name.required", "name is required")
	}
	if err := validate.Struct("Location", l); err != nil {
		return err
	}
	if l.ParentLocationID != nil {
		if err := s.checkAncestry(ctx, l); err != nil {
			return err
		}
	}
	seen := make(map[uuid.UUID]bool, len(l.Tags))
	tags := []uuid.UUID{}
	for _, id := range l.Tags {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.tags.GetByID(ctx, id); err != nil {
			return err
		}
		tags = append(tags, id)
	}
	l.Tags = tags

	actor := auth.ActorFromContext(ctx)
	if l.ID == uuid.Nil {
		l.Metadata.Stamp(actor, true)
		if err := s.repo.Create(ctx, l); err != nil {
			return err
		}
		s.Record("location", "create")
		return nil
	}
	stored, err := s.repo.GetByID(ctx, l.ID)
	if err != nil {
		return err
	}
	l.Metadata.Preserve(stored.Metadata)
	l.Metadata.Stamp(actor, false)
	if err := s.repo.Update(ctx, l); err != nil {
		return err
	}
	s.Record("location", "update")
	return nil
}

// checkAncestry walks up from the parent and fails when it reaches l.
func (s *Service) checkAncestry(ctx context.Context, l *Location) error {
	seen := map[uuid.UUID]bool{}
	for id := l.ParentLocationID; id != nil; {
		if *id == l.ID || seen[*id] {
			return apierr.Invalid("parent_location_id", "Location.error.parentLocation.cycle",
				"location %s cannot be its own ancestor", l.Name)
		}
		seen[*id] = true
		parent, err := s.repo.GetByID(ctx, *id)
		if err != nil {
			return err
		}
		id = parent.ParentLocationID
	}
	return nil
}

func (s *Service) GetLocation(ctx context.Context, id uuid.UUID) (*Location, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetLocationByName(ctx context.Context, name string) (*Location, error) {
	return s.repo.GetByName(ctx, strings.TrimSpace(name))
}

// GetDefaultLocation resolves the default_location global property (an id
// or a name), then the "Unknown Location", then the first location.
func (s *Service) GetDefaultLocation(ctx context.Context) (*Location, error) {
	if v := strings.TrimSpace(s.gp.GetGlobalPropertyValue(ctx, base.GPDefaultLocation, "")); v != "" {
		var (
			l   *Location
			err error
		)
		if id, perr := uuid.Parse(v); perr == nil {
			l, err = s.repo.GetByID(ctx, id)
		} else {
			l, err = s.repo.GetByName(ctx, v)
		}
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, apierr.ErrNotFound) {
			return nil, err
		}
		s.Log().Warn().Str("value", v).Msg("default_location does not name a location")
	}
	l, err := s.repo.GetByName(ctx, UnknownLocation)
	if err == nil || !errors.Is(err, apierr.ErrNotFound) {
		return l, err
	}
	all, err := s.repo.List(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, apierr.NotFound("location", "default")
	}
	return all[0], nil
}

func (s *Service) GetAllLocations(ctx context.Context, includeRetired bool) ([]*Location, error) {
	return s.repo.List(ctx, includeRetired)
}

func (s *Service) GetLocations(ctx context.Context, q Query, page pagination.Params) ([]*Location, int, error) {
	return s.repo.Search(ctx, q, page)
}

func (s *Service) GetLocationsByTag(ctx context.Context, tagID uuid.UUID) ([]*Location, error) {
	return s.repo.ListByTags(ctx, []uuid.UUID{tagID}, true)
}

// GetLocationsHavingAllTags returns nothing for an empty tag list.
func (s *Service) GetLocationsHavingAllTags(ctx context.Context, tagIDs []uuid.UUID) ([]*Location, error) {
	if len(tagIDs) == 0 {
		return []*Location{}, nil
	}
	return s.repo.ListByTags(ctx, tagIDs, true)
}

func (s *Service) GetLocationsHavingAnyTag(ctx context.Context, tagIDs []uuid.UUID) ([]*Location, error) {
	if len(tagIDs) == 0 {
		return []*Location{}, nil
	}
	return s.repo.ListByTags(ctx, tagIDs, false)
}

// GetDescendantLocations returns the children of id, their children and so
// on, breadth first.
func (s *Service) GetDescendantLocations(ctx context.Context, id uuid.UUID, includeRetired bool) ([]*Location, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	out := []*Location{}
	seen := map[uuid.UUID]bool{id: true}
	queue := []uuid.UUID{id}
	for len(queue) > 0 {
		children, err := s.repo.ListChildren(ctx, queue[0], includeRetired)
		if err != nil {
			return nil, err
		}
		queue = queue[1:]
		for _, c := range children {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
			queue = append(queue, c.ID)
		}
	}
	return out, nil
}

func (s *Service) RetireLocation(ctx context.Context, id uuid.UUID, reason string) (*Location, error) {
	return base.RetireByID[*Location](ctx, s.repo, id, reason)
}

func (s *Service) UnretireLocation(ctx context.Context, id uuid.UUID) (*Location, error) {
	return base.UnretireByID[*Location](ctx, s.repo, id)
}

func (s *Service) PurgeLocation(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Record("location", "purge")
	return nil
}

func (s *Service) SaveLocationTag(ctx context.Context, t *LocationTag) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return apierr.Invalid("name", "LocationTag.error.name.required", "name is required")
	}
	if existing, err := s.tags.GetByName(ctx, t.Name); err == nil && existing.ID != t.ID {
		return apierr.Conflict("LocationTag.name.duplicate", "location tag %s already exists", t.Name)
	} else if err != nil && !errors.Is(err, apierr.ErrNotFound) {
		return err
	}
	actor := auth.ActorFromContext(ctx)
	if t.ID == uuid.Nil {
		t.Metadata.Stamp(actor, true)
		return s.tags.Create(ctx, t)
	}
	stored, err := s.tags.GetByID(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Metadata.Preserve(stored.Metadata)
	t.Metadata.Stamp(actor, false)
	return s.tags.Update(ctx, t)
}

func (s *Service) GetLocationTag(ctx context.Context, id uuid.UUID) (*LocationTag, error) {
	return s.tags.GetByID(ctx, id)
}

func (s *Service) GetLocationTagByName(ctx context.Context, name string) (*LocationTag, error) {
	return s.tags.GetByName(ctx, strings.TrimSpace(name))
}

func (s *Service) GetAllLocationTags(ctx context.Context, includeRetired bool) ([]*LocationTag, error) {
	return s.tags.List(ctx, includeRetired)
}

func (s *Service) RetireLocationTag(ctx context.Context, id uuid.UUID, reason string) (*LocationTag, error) {
	return base.RetireByID[*LocationTag](ctx, s.tags, id, reason)
}

func (s *Service) UnretireLocationTag(ctx context.Context, id uuid.UUID) (*LocationTag, error) {
	return base.UnretireByID[*LocationTag](ctx, s.tags, id)
}

func (s *Service) PurgeLocationTag(ctx context.Context, id uuid.UUID) error {
	return s.tags.Delete(ctx, id)
}
