package visit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/location"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
	"github.com/ehr/emr/pkg/pagination"
)

// EncounterTimes lists the datetimes of the non-voided encounters of a
// visit; the encounter service satisfies it.
type EncounterTimes interface {
	EncounterDatetimesByVisit(ctx context.Context, visitID uuid.UUID) ([]time.Time, error)
}

// LocationTree resolves child locations for visit assignment.
type LocationTree interface {
	GetDescendantLocations(ctx context.Context, id uuid.UUID, includeRetired bool) ([]*location.Location, error)
}

type Service struct {
	base.Support
	repo       VisitRepository
	types      VisitTypeRepository
	attrTypes  AttributeTypeRepository
	gp         base.GlobalProperties
	encounters EncounterTimes
	locations  LocationTree
}

func NewService(repo VisitRepository, types VisitTypeRepository, attrTypes AttributeTypeRepository, gp base.GlobalProperties) *Service {
	return &Service{repo: repo, types: types, attrTypes: attrTypes, gp: gp}
}

func (s *Service) SetEncounterTimes(e EncounterTimes) { s.encounters = e }
func (s *Service) SetLocationTree(l LocationTree)     { s.locations = l }

// SaveVisit checks dates, overlap with the patient's other visits, the
// encounters already attached and the attributes before storing.
func (s *Service) SaveVisit(ctx context.Context, v *Visit) error {
	if err := validate.Struct("Visit", v); err != nil {
		return err
	}
	now := base.Now()
	if v.StartDatetime.IsZero() {
		v.StartDatetime = now
	}
	if v.StartDatetime.After(now) {
		return apierr.Invalid("start_datetime", "Visit.startDateCannotBeInTheFuture", "start_datetime cannot be in the future")
	}
	if v.StopDatetime != nil && v.StopDatetime.Before(v.StartDatetime) {
		return apierr.Invalid("stop_datetime", "Visit.error.endDateBeforeStartDate", "stop_datetime cannot be before start_datetime")
	}
	if _, err := s.types.GetByID(ctx, v.VisitTypeID); err != nil {
		return err
	}
	if !v.Voided {
		if err := s.checkOverlap(ctx, v); err != nil {
			return err
		}
	}
	if v.ID != uuid.Nil && s.encounters != nil {
		times, err := s.encounters.EncounterDatetimesByVisit(ctx, v.ID)
		if err != nil {
			return err
		}
		for _, t := range times {
			if !v.Contains(t) {
				return apierr.Invalid("start_datetime", "Visit.encountersCannotBeBeforeStartDate",
					"an encounter at %s lies outside the visit", t.Format(time.RFC3339))
			}
		}
	}
	actor := auth.ActorFromContext(ctx)
	stored := &Visit{}
	var err error
	if v.ID != uuid.Nil {
		if stored, err = s.repo.GetByID(ctx, v.ID); err != nil {
			return err
		}
	}
	if err := base.StampDetails(v.Attributes, stored.Attributes, base.AttributeKey, actor); err != nil {
		return err
	}
	types, err := s.attrTypes.List(ctx, true)
	if err != nil {
		return err
	}
	if err := base.CheckAttributes(types, v.Attributes); err != nil {
		return err
	}

	return s.InTx(ctx, func(ctx context.Context) error {
		if v.ID == uuid.Nil {
			v.Data.Stamp(actor, true)
			if err := s.repo.Create(ctx, v); err != nil {
				return err
			}
			s.Record("visit", "create")
			return nil
		}
		v.Data.Preserve(stored.Data)
		v.Data.Stamp(actor, false)
		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
		s.Record("visit", "update")
		return nil
	})
}

func (s *Service) checkOverlap(ctx context.Context, v *Visit) error {
	others, _, err := s.repo.Search(ctx, Criteria{PatientIDs: []uuid.UUID{v.PatientID}, IncludeInactive: true}, pagination.All)
	if err != nil {
		return err
	}
	for _, o := range others {
		if o.ID != v.ID && v.overlaps(o) {
			return apierr.Invalid("start_datetime", "Visit.visitsCannotOverlap", "visit overlaps visit %s of the same patient", o.ID)
		}
	}
	return nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetVisitsByPatient(ctx context.Context, patientID uuid.UUID, includeInactive, includeVoided bool) ([]*Visit, error) {
	visits, _, err := s.repo.Search(ctx, Criteria{
		PatientIDs:      []uuid.UUID{patientID},
		IncludeInactive: includeInactive,
		IncludeVoided:   includeVoided,
	}, pagination.All)
	return visits, err
}

func (s *Service) GetActiveVisitsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error) {
	return s.GetVisitsByPatient(ctx, patientID, false, false)
}

func (s *Service) GetVisits(ctx context.Context, c Criteria, page pagination.Params) ([]*Visit, int, error) {
	return s.repo.Search(ctx, c, page)
}

// EndVisit sets the stop datetime, now when stop is nil.
func (s *Service) EndVisit(ctx context.Context, id uuid.UUID, stop *time.Time) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	at := base.Now()
	if stop != nil {
		at = *stop
	}
	v.StopDatetime = &at
	if err := s.SaveVisit(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// EndActiveVisits closes the open visits of a patient at the given time,
// never before a visit's start. Used when a patient dies.
func (s *Service) EndActiveVisits(ctx context.Context, patientID uuid.UUID, at time.Time) error {
	visits, err := s.GetVisitsByPatient(ctx, patientID, true, false)
	if err != nil {
		return err
	}
	for _, v := range visits {
		if v.StopDatetime != nil {
			continue
		}
		stop := at
		if stop.Before(v.StartDatetime) {
			stop = v.StartDatetime
		}
		v.StopDatetime = &stop
		v.Data.Stamp(auth.ActorFromContext(ctx), false)
		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// VoidVisit voids the visit and, through the registered cascades, its
// encounters.
func (s *Service) VoidVisit(ctx context.Context, id uuid.UUID, reason string) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Voided {
		return v, nil
	}
	actor := auth.ActorFromContext(ctx)
	if err := v.Void(actor, reason, base.Now()); err != nil {
		return nil, err
	}
	err = s.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
		return s.VoidDependents(ctx, v.ID, actor, reason, *v.DateVoided)
	})
	if err != nil {
		return nil, err
	}
	s.Record("visit", "void")
	return v, nil
}

func (s *Service) UnvoidVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.Voided || v.DateVoided == nil {
		return v, nil
	}
	voidedAt := *v.DateVoided
	v.Unvoid()
	v.Data.Stamp(auth.ActorFromContext(ctx), false)
	err = s.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkOverlap(ctx, v); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
		return s.UnvoidDependents(ctx, v.ID, voidedAt)
	})
	if err != nil {
		return nil, err
	}
	s.Record("visit", "unvoid")
	return v, nil
}

func (s *Service) PurgeVisit(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Record("visit", "purge")
	return nil
}

// StopVisits ends the active visits started on or before maxStart (now when
// nil) whose type is listed in visits.autoCloseVisitType. It returns the
// number of visits stopped.
func (s *Service) StopVisits(ctx context.Context, maxStart *time.Time) (int, error) {
	names := s.gp.GetGlobalPropertyValue(ctx, base.GPAutoCloseVisitType, "")
	var typeIDs []uuid.UUID
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t, err := s.types.GetByName(ctx, name)
		if errors.Is(err, apierr.ErrNotFound) {
			s.Log().Warn().Str("visitType", name).Msg("auto close visit type not found")
			continue
		}
		if err != nil {
			return 0, err
		}
		typeIDs = append(typeIDs, t.ID)
	}
	if len(typeIDs) == 0 {
		return 0, nil
	}
	now := base.Now()
	if maxStart == nil {
		maxStart = &now
	}
	visits, _, err := s.repo.Search(ctx, Criteria{VisitTypeIDs: typeIDs, MaxStart: maxStart}, pagination.All)
	if err != nil {
		return 0, err
	}
	stopped := 0
	for _, v := range visits {
		if v.StopDatetime != nil {
			continue
		}
		v.StopDatetime = &now
		if err := s.SaveVisit(ctx, v); err != nil {
			s.Log().Error().Err(err).Stringer("visit", v.ID).Msg("failed to stop visit")
			continue
		}
		stopped++
	}
	if stopped > 0 {
		s.Log().Info().Int("count", stopped).Msg("stopped visits")
	}
	return stopped, nil
}

// AssignVisit picks the visit an encounter belongs to according to
// visits.assignmentHandler. A nil visit means the encounter stays without
// one.
func (s *Service) AssignVisit(ctx context.Context, patientID, encounterTypeID uuid.UUID, locationID *uuid.UUID, at time.Time) (*Visit, error) {
	handler := strings.ToLower(strings.TrimSpace(s.gp.GetGlobalPropertyValue(ctx, base.GPVisitAssignmentHandler, AssignNone)))
	if handler != AssignExisting && handler != AssignExistingOrNew {
		return nil, nil
	}
	visits, err := s.GetVisitsByPatient(ctx, patientID, true, false)
	if err != nil {
		return nil, err
	}
	for _, v := range visits {
		if !v.Contains(at) {
			continue
		}
		ok, err := s.locationMatches(ctx, v, locationID)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
	}
	if handler != AssignExistingOrNew {
		return nil, nil
	}

	mapping := parseVisitTypeMapping(s.gp.GetGlobalPropertyValue(ctx, base.GPEncounterTypeToVisitType, ""))
	typeID, ok := mapping[encounterTypeID.String()]
	if !ok {
		if typeID, ok = mapping[defaultMappingKey]; !ok {
			return nil, apierr.Invalid("visit_type_id", "Visit.error.visitType.unmapped",
				"no visit type is mapped for encounter type %s", encounterTypeID)
		}
	}
	v := &Visit{PatientID: patientID, VisitTypeID: typeID, StartDatetime: at, LocationID: locationID}
	if err := s.SaveVisit(ctx, v); err != nil {
		return nil, err
	}
	s.Log().Debug().Stringer("visit", v.ID).Stringer("patient", patientID).Msg("created visit for encounter")
	return v, nil
}

// locationMatches accepts an encounter at the visit location or below it.
// Either side without a location matches.
func (s *Service) locationMatches(ctx context.Context, v *Visit, locationID *uuid.UUID) (bool, error) {
	if v.LocationID == nil || locationID == nil || *v.LocationID == *locationID {
		return true, nil
	}
	if s.locations == nil {
		return false, nil
	}
	descendants, err := s.locations.GetDescendantLocations(ctx, *v.LocationID, true)
	if err != nil {
		return false, err
	}
	for _, l := range descendants {
		if l.ID == *locationID {
			return true, nil
		}
	}
	return false, nil
}

// PatientCascade voids and unvoids a patient's visits.
func (s *Service) PatientCascade() base.Cascade {
	return base.Cascade{Name: "visit", Void: s.repo.VoidByPatient, Unvoid: s.repo.UnvoidByPatient}
}

func (s *Service) PatientMergeHook() base.MergeHook {
	return base.MergeHook{Name: "visit", Merge: s.repo.ReassignPatient}
}

func (s *Service) SaveVisitType(ctx context.Context, t *VisitType) error {
	t.Name = strings.TrimSpace(t.Name)
	if err := validate.Struct("VisitType", t); err != nil {
		return err
	}
	actor := auth.ActorFromContext(ctx)
	if t.ID == uuid.Nil {
		t.Metadata.Stamp(actor, true)
		return s.types.Create(ctx, t)
	}
	stored, err := s.types.GetByID(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Metadata.Preserve(stored.Metadata)
	t.Metadata.Stamp(actor, false)
	return s.types.Update(ctx, t)
}

func (s *Service) GetVisitType(ctx context.Context, id uuid.UUID) (*VisitType, error) {
	return s.types.GetByID(ctx, id)
}

func (s *Service) GetVisitTypeByName(ctx context.Context, name string) (*VisitType, error) {
	return s.types.GetByName(ctx, name)
}

func (s *Service) GetAllVisitTypes(ctx context.Context, includeRetired bool) ([]*VisitType, error) {
	return s.types.List(ctx, includeRetired)
}

func (s *Service) RetireVisitType(ctx context.Context, id uuid.UUID, reason string) (*VisitType, error) {
	return base.RetireByID[*VisitType](ctx, s.types, id, reason)
}

func (s *Service) UnretireVisitType(ctx context.Context, id uuid.UUID) (*VisitType, error) {
	return base.UnretireByID[*VisitType](ctx, s.types, id)
}

func (s *Service) PurgeVisitType(ctx context.Context, id uuid.UUID) error {
	return s.types.Delete(ctx, id)
}

func (s *Service) SaveVisitAttributeType(ctx context.Context, t *base.AttributeType) error {
	if t.Datatype == "" {
		t.Datatype = base.DatatypeFreeText
	}
	if err := validate.Struct("VisitAttributeType", t); err != nil {
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

func (s *Service) GetVisitAttributeType(ctx context.Context, id uuid.UUID) (*base.AttributeType, error) {
	return s.attrTypes.GetByID(ctx, id)
}

func (s *Service) GetAllVisitAttributeTypes(ctx context.Context, includeRetired bool) ([]*base.AttributeType, error) {
	return s.attrTypes.List(ctx, includeRetired)
}

func (s *Service) RetireVisitAttributeType(ctx context.Context, id uuid.UUID, reason string) (*base.AttributeType, error) {
	return base.RetireByID[*base.AttributeType](ctx, s.attrTypes, id, reason)
}

func (s *Service) UnretireVisitAttributeType(ctx context.Context, id uuid.UUID) (*base.AttributeType, error) {
	return base.UnretireByID[*base.AttributeType](ctx, s.attrTypes, id)
}

func (s *Service) PurgeVisitAttributeType(ctx context.Context, id uuid.UUID) error {
	return s.attrTypes.Delete(ctx, id)
}
