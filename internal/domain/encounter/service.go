package encounter

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/visit"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
	"github.com/ehr/emr/pkg/pagination"
)

// VisitAssigner is the part of the visit service encounters depend on.
type VisitAssigner interface {
	GetVisit(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
	AssignVisit(ctx context.Context, patientID, encounterTypeID uuid.UUID, locationID *uuid.UUID, at time.Time) (*visit.Visit, error)
}

type Service struct {
	base.Support
	repo      EncounterRepository
	types     TypeRepository
	roles     RoleRepository
	gp        base.GlobalProperties
	visits    VisitAssigner
	purges    []PurgeHook
	transfers []TransferHook
}

func NewService(repo EncounterRepository, types TypeRepository, roles RoleRepository, gp base.GlobalProperties, visits VisitAssigner) *Service {
	return &Service{repo: repo, types: types, roles: roles, gp: gp, visits: visits}
}

func (s *Service) AddPurgeHook(h PurgeHook)       { s.purges = append(s.purges, h) }
func (s *Service) AddTransferHook(h TransferHook) { s.transfers = append(s.transfers, h) }

// SaveEncounter stores the encounter. The caller needs the edit privilege
// of the new type and, on update, of the stored type.
func (s *Service) SaveEncounter(ctx context.Context, e *Encounter) error {
	if err := validate.Struct("Encounter", e); err != nil {
		return err
	}
	if e.EncounterDatetime.IsZero() {
		return apierr.Invalid("encounter_datetime", "Encounter.error.encounterDatetime.required", "encounter_datetime is required")
	}
	if e.EncounterDatetime.After(base.Now()) {
		return apierr.Invalid("encounter_datetime", "Encounter.datetimeShouldBeBeforeCurrent", "encounter_datetime cannot be in the future")
	}
	stored := &Encounter{}
	if e.ID != uuid.Nil {
		var err error
		if stored, err = s.repo.GetByID(ctx, e.ID); err != nil {
			return err
		}
		if err := s.checkEdit(ctx, stored.EncounterTypeID); err != nil {
			return err
		}
	}
	if err := s.checkEdit(ctx, e.EncounterTypeID); err != nil {
		return err
	}

	actor := auth.ActorFromContext(ctx)
	err := base.StampDetails(e.Providers, stored.Providers, func(p *EncounterProvider) (*uuid.UUID, *base.Data) { return &p.ID, &p.Data }, actor)
	if err != nil {
		return err
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkVisit(ctx, e); err != nil {
			return err
		}
		if e.ID == uuid.Nil {
			e.Data.Stamp(actor, true)
			if err := s.repo.Create(ctx, e); err != nil {
				return err
			}
			s.Record("encounter", "create")
			return nil
		}
		e.Data.Preserve(stored.Data)
		e.Data.Stamp(actor, false)
		if err := s.repo.Update(ctx, e); err != nil {
			return err
		}
		s.Record("encounter", "update")
		return nil
	})
}

// checkEdit enforces the edit privilege of an encounter type.
func (s *Service) checkEdit(ctx context.Context, typeID uuid.UUID) error {
	t, err := s.types.GetByID(ctx, typeID)
	if err != nil {
		return err
	}
	if t.EditPrivilege != nil {
		return auth.Check(ctx, *t.EditPrivilege)
	}
	return nil
}

// editable loads the encounter when the caller may view and edit its type.
func (s *Service) editable(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := s.GetEncounter(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkEdit(ctx, e.EncounterTypeID); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) checkVisit(ctx context.Context, e *Encounter) error {
	if s.visits == nil {
		return nil
	}
	if e.VisitID == nil {
		v, err := s.visits.AssignVisit(ctx, e.PatientID, e.EncounterTypeID, e.LocationID, e.EncounterDatetime)
		if err != nil {
			return err
		}
		if v != nil {
			e.VisitID = &v.ID
		}
		return nil
	}
	v, err := s.visits.GetVisit(ctx, *e.VisitID)
	if err != nil {
		return err
	}
	if v.PatientID != e.PatientID {
		return apierr.Invalid("visit_id", "Encounter.visit.patients.dontMatch", "visit %s belongs to another patient", v.ID)
	}
	if !v.Contains(e.EncounterDatetime) {
		return apierr.Invalid("encounter_datetime", "Encounter.datetimeShouldBeInVisitDatesRange",
			"encounter_datetime must lie within visit %s", v.ID)
	}
	return nil
}

// GetEncounter returns the encounter when the caller may view its type.
func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := s.types.GetByID(ctx, e.EncounterTypeID)
	if err != nil {
		return nil, err
	}
	if t.ViewPrivilege != nil {
		if err := auth.Check(ctx, *t.ViewPrivilege); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (s *Service) GetEncountersByPatient(ctx context.Context, patientID uuid.UUID, includeVoided bool) ([]*Encounter, error) {
	encounters, _, err := s.GetEncounters(ctx, Criteria{PatientID: &patientID, IncludeVoided: includeVoided}, pagination.All)
	return encounters, err
}

func (s *Service) GetEncountersByVisit(ctx context.Context, visitID uuid.UUID, includeVoided bool) ([]*Encounter, error) {
	encounters, _, err := s.GetEncounters(ctx, Criteria{VisitIDs: []uuid.UUID{visitID}, IncludeVoided: includeVoided}, pagination.All)
	return encounters, err
}

// GetEncounters searches encounters and drops those whose type the caller
// may not view. The total counts the unfiltered matches.
func (s *Service) GetEncounters(ctx context.Context, c Criteria, page pagination.Params) ([]*Encounter, int, error) {
	encounters, total, err := s.repo.Search(ctx, c, page)
	if err != nil {
		return nil, 0, err
	}
	visible, err := s.viewable(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := encounters[:0]
	for _, e := range encounters {
		if visible(e.EncounterTypeID) {
			out = append(out, e)
		}
	}
	return out, total, nil
}

func (s *Service) viewable(ctx context.Context) (func(uuid.UUID) bool, error) {
	types, err := s.types.List(ctx, true)
	if err != nil {
		return nil, err
	}
	hidden := make(map[uuid.UUID]bool)
	for _, t := range types {
		if t.ViewPrivilege != nil && auth.Check(ctx, *t.ViewPrivilege) != nil {
			hidden[t.ID] = true
		}
	}
	return func(id uuid.UUID) bool { return !hidden[id] }, nil
}

// EncounterDatetimesByVisit lists the datetimes of a visit's non-voided
// encounters.
func (s *Service) EncounterDatetimesByVisit(ctx context.Context, visitID uuid.UUID) ([]time.Time, error) {
	encounters, _, err := s.repo.Search(ctx, Criteria{VisitIDs: []uuid.UUID{visitID}}, pagination.All)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, len(encounters))
	for i, e := range encounters {
		times[i] = e.EncounterDatetime
	}
	return times, nil
}

// VoidEncounter voids the encounter and its dependents (obs, orders,
// diagnoses) through the registered cascades.
func (s *Service) VoidEncounter(ctx context.Context, id uuid.UUID, reason string) (*Encounter, error) {
	e, err := s.editable(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Voided {
		return e, nil
	}
	if err := s.void(ctx, e, auth.ActorFromContext(ctx), reason, base.Now()); err != nil {
		return nil, err
	}
	s.Record("encounter", "void")
	return e, nil
}

func (s *Service) void(ctx context.Context, e *Encounter, user, reason string, at time.Time) error {
	if err := e.Void(user, reason, at); err != nil {
		return err
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, e); err != nil {
			return err
		}
		return s.VoidDependents(ctx, e.ID, user, reason, at)
	})
}

func (s *Service) UnvoidEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := s.editable(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Voided || e.DateVoided == nil {
		return e, nil
	}
	if err := s.unvoid(ctx, e); err != nil {
		return nil, err
	}
	s.Record("encounter", "unvoid")
	return e, nil
}

func (s *Service) unvoid(ctx context.Context, e *Encounter) error {
	voidedAt := *e.DateVoided
	e.Unvoid()
	e.Data.Stamp(auth.ActorFromContext(ctx), false)
	return s.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, e); err != nil {
			return err
		}
		return s.UnvoidDependents(ctx, e.ID, voidedAt)
	})
}

// PurgeEncounter deletes the encounter. With cascade the purge hooks remove
// dependent rows first; without it referencing rows make the purge fail.
func (s *Service) PurgeEncounter(ctx context.Context, id uuid.UUID, cascade bool) error {
	if _, err := s.editable(ctx, id); err != nil {
		return err
	}
	err := s.InTx(ctx, func(ctx context.Context) error {
		if cascade {
			for _, h := range s.purges {
				if err := h.Purge(ctx, id); err != nil {
					return err
				}
			}
		}
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.Record("encounter", "purge")
	return nil
}

// TransferEncounter copies the encounter and its dependents to another
// patient and voids the original. The copy is assigned a visit anew.
func (s *Service) TransferEncounter(ctx context.Context, id, patientID uuid.UUID) (*Encounter, error) {
	e, err := s.editable(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Voided {
		return nil, apierr.Invalid("id", "Encounter.error.transfer.voided", "voided encounter %s cannot be transferred", id)
	}
	if e.PatientID == patientID {
		return nil, apierr.Invalid("patient_id", "Encounter.error.transfer.samePatient", "encounter %s already belongs to the patient", id)
	}
	cp := &Encounter{
		PatientID:         patientID,
		EncounterTypeID:   e.EncounterTypeID,
		EncounterDatetime: e.EncounterDatetime,
		LocationID:        e.LocationID,
		FormID:            e.FormID,
	}
	for _, p := range e.ActiveProviders() {
		cp.Providers = append(cp.Providers, &EncounterProvider{ProviderID: p.ProviderID, EncounterRoleID: p.EncounterRoleID})
	}
	err = s.InTx(ctx, func(ctx context.Context) error {
		if err := s.SaveEncounter(ctx, cp); err != nil {
			return err
		}
		for _, h := range s.transfers {
			if err := h.Transfer(ctx, e.ID, cp.ID, patientID); err != nil {
				return err
			}
		}
		return s.void(ctx, e, auth.ActorFromContext(ctx), "transfer to patient: "+patientID.String(), base.Now())
	})
	if err != nil {
		return nil, err
	}
	s.Log().Info().Stringer("from", e.ID).Stringer("to", cp.ID).Stringer("patient", patientID).Msg("transferred encounter")
	s.Record("encounter", "transfer")
	return cp, nil
}

// VisitCascade voids and unvoids the encounters of a visit together with
// their own dependents.
func (s *Service) VisitCascade() base.Cascade {
	return base.Cascade{
		Name: "encounter",
		Void: func(ctx context.Context, visitID uuid.UUID, user, reason string, at time.Time) error {
			encounters, _, err := s.repo.Search(ctx, Criteria{VisitIDs: []uuid.UUID{visitID}}, pagination.All)
			if err != nil {
				return err
			}
			for _, e := range encounters {
				if err := s.void(ctx, e, user, reason, at); err != nil {
					return err
				}
			}
			return nil
		},
		Unvoid: func(ctx context.Context, visitID uuid.UUID, voidedAt time.Time) error {
			encounters, _, err := s.repo.Search(ctx, Criteria{VisitIDs: []uuid.UUID{visitID}, IncludeVoided: true}, pagination.All)
			if err != nil {
				return err
			}
			for _, e := range encounters {
				if !e.Voided || e.DateVoided == nil || !e.DateVoided.Equal(voidedAt) {
					continue
				}
				if err := s.unvoid(ctx, e); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// PatientCascade voids and unvoids a patient's encounters in bulk.
func (s *Service) PatientCascade() base.Cascade {
	return base.Cascade{Name: "encounter", Void: s.repo.VoidByPatient, Unvoid: s.repo.UnvoidByPatient}
}

func (s *Service) PatientMergeHook() base.MergeHook {
	return base.MergeHook{Name: "encounter", Merge: s.repo.ReassignPatient}
}

func (s *Service) typesLocked(ctx context.Context) error {
	if s.gp.GetGlobalPropertyBool(ctx, base.GPEncounterTypesLocked, false) {
		return ErrTypesLocked
	}
	return nil
}

func (s *Service) SaveEncounterType(ctx context.Context, t *EncounterType) error {
	if err := s.typesLocked(ctx); err != nil {
		return err
	}
	t.Name = strings.TrimSpace(t.Name)
	t.ViewPrivilege = base.StrPtr(base.StrVal(t.ViewPrivilege))
	t.EditPrivilege = base.StrPtr(base.StrVal(t.EditPrivilege))
	if err := validate.Struct("EncounterType", t); err != nil {
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

func (s *Service) GetEncounterType(ctx context.Context, id uuid.UUID) (*EncounterType, error) {
	return s.types.GetByID(ctx, id)
}

func (s *Service) GetEncounterTypeByName(ctx context.Context, name string) (*EncounterType, error) {
	return s.types.GetByName(ctx, name)
}

func (s *Service) GetAllEncounterTypes(ctx context.Context, includeRetired bool) ([]*EncounterType, error) {
	return s.types.List(ctx, includeRetired)
}

func (s *Service) FindEncounterTypes(ctx context.Context, name string) ([]*EncounterType, error) {
	return s.types.Find(ctx, name, false)
}

func (s *Service) RetireEncounterType(ctx context.Context, id uuid.UUID, reason string) (*EncounterType, error) {
	if err := s.typesLocked(ctx); err != nil {
		return nil, err
	}
	return base.RetireByID[*EncounterType](ctx, s.types, id, reason)
}

func (s *Service) UnretireEncounterType(ctx context.Context, id uuid.UUID) (*EncounterType, error) {
	if err := s.typesLocked(ctx); err != nil {
		return nil, err
	}
	return base.UnretireByID[*EncounterType](ctx, s.types, id)
}

func (s *Service) PurgeEncounterType(ctx context.Context, id uuid.UUID) error {
	if err := s.typesLocked(ctx); err != nil {
		return err
	}
	return s.types.Delete(ctx, id)
}

func (s *Service) SaveEncounterRole(ctx context.Context, r *EncounterRole) error {
	r.Name = strings.TrimSpace(r.Name)
	if err := validate.Struct("EncounterRole", r); err != nil {
		return err
	}
	actor := auth.ActorFromContext(ctx)
	if r.ID == uuid.Nil {
		r.Metadata.Stamp(actor, true)
		return s.roles.Create(ctx, r)
	}
	stored, err := s.roles.GetByID(ctx, r.ID)
	if err != nil {
		return err
	}
	r.Metadata.Preserve(stored.Metadata)
	r.Metadata.Stamp(actor, false)
	return s.roles.Update(ctx, r)
}

func (s *Service) GetEncounterRole(ctx context.Context, id uuid.UUID) (*EncounterRole, error) {
	return s.roles.GetByID(ctx, id)
}

func (s *Service) GetAllEncounterRoles(ctx context.Context, includeRetired bool) ([]*EncounterRole, error) {
	return s.roles.List(ctx, includeRetired)
}

func (s *Service) RetireEncounterRole(ctx context.Context, id uuid.UUID, reason string) (*EncounterRole, error) {
	return base.RetireByID[*EncounterRole](ctx, s.roles, id, reason)
}

func (s *Service) UnretireEncounterRole(ctx context.Context, id uuid.UUID) (*EncounterRole, error) {
	return base.UnretireByID[*EncounterRole](ctx, s.roles, id)
}

func (s *Service) PurgeEncounterRole(ctx context.Context, id uuid.UUID) error {
	return s.roles.Delete(ctx, id)
}
