package obs

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/encounter"
	"github.com/ehr/emr/internal/domain/storage"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
	"github.com/ehr/emr/pkg/pagination"
)

// ComplexStore keeps the bytes of complex values.
type ComplexStore interface {
	SaveData(ctx context.Context, content io.Reader, meta storage.Metadata, moduleID string) (string, error)
	GetData(ctx context.Context, key string) (io.ReadCloser, *storage.Metadata, error)
	PurgeData(ctx context.Context, key string) error
}

// EncounterLookup resolves the encounter an obs belongs to.
type EncounterLookup interface {
	GetEncounter(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

type Service struct {
	base.Support
	repo       ObsRepository
	store      ComplexStore
	encounters EncounterLookup
}

func NewService(repo ObsRepository, store ComplexStore, encounters EncounterLookup) *Service {
	return &Service{repo: repo, store: store, encounters: encounters}
}

// SaveObs creates o, or when o already exists, voids the stored version
// with changeMessage and saves o as its replacement. Group members are
// saved with their group.
func (s *Service) SaveObs(ctx context.Context, o *Obs, changeMessage string) error {
	if err := s.fromEncounter(ctx, o); err != nil {
		return err
	}
	group, err := s.isStoredGroup(ctx, o)
	if err != nil {
		return err
	}
	if err := prepare(o, group); err != nil {
		return err
	}
	if err := validate.Struct("Obs", o); err != nil {
		return err
	}
	actor := auth.ActorFromContext(ctx)
	err = s.InTx(ctx, func(ctx context.Context) error {
		if o.ID == uuid.Nil {
			return s.create(ctx, o, actor)
		}
		if strings.TrimSpace(changeMessage) == "" {
			return errChangeMessage
		}
		return s.revise(ctx, o, changeMessage, actor)
	})
	if err != nil {
		return err
	}
	s.Record("obs", "save")
	return nil
}

// fromEncounter fills person, datetime and location from the encounter and
// requires the obs person to be the encounter patient.
func (s *Service) fromEncounter(ctx context.Context, o *Obs) error {
	if o.EncounterID == nil || s.encounters == nil {
		return nil
	}
	e, err := s.encounters.GetEncounter(ctx, *o.EncounterID)
	if err != nil {
		return err
	}
	if o.PersonID == uuid.Nil {
		o.PersonID = e.PatientID
	}
	if e.PatientID != o.PersonID {
		return apierr.Invalid("person_id", "Obs.error.encounter.person", "obs person differs from the encounter patient")
	}
	if o.ObsDatetime.IsZero() {
		o.ObsDatetime = e.EncounterDatetime
	}
	if o.LocationID == nil {
		o.LocationID = e.LocationID
	}
	return nil
}

// isStoredGroup reports whether o revises a group that has active members,
// so a revision sent without members still counts as a group.
func (s *Service) isStoredGroup(ctx context.Context, o *Obs) (bool, error) {
	if o.ID == uuid.Nil || o.IsGroup() {
		return o.IsGroup(), nil
	}
	n, err := s.repo.Count(ctx, Criteria{GroupID: &o.ID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// prepare applies defaults and the value rules to o and its members. group
// marks o as a group even when it lists no members.
func prepare(o *Obs, group bool) error {
	if o.ObsDatetime.IsZero() {
		o.ObsDatetime = base.Now()
	}
	if o.Status == "" {
		o.Status = StatusFinal
	}
	if group || o.IsGroup() {
		if o.valueCount() > 0 {
			return apierr.Invalid("group_members", "Obs.error.group.value", "an obs group cannot carry a value")
		}
	} else if !o.Voided && o.valueCount() != 1 {
		return apierr.Invalid("value", "Obs.error.value.count", "obs %s must carry exactly one value", o.Concept)
	}
	for _, m := range o.GroupMembers {
		if err := inherit(o, m); err != nil {
			return err
		}
		if err := prepare(m, false); err != nil {
			return err
		}
	}
	return nil
}

// inherit copies person, encounter and datetime of the group onto a member
// and rejects members that disagree.
func inherit(group, m *Obs) error {
	if m.PersonID == uuid.Nil {
		m.PersonID = group.PersonID
	}
	if m.EncounterID == nil {
		m.EncounterID = group.EncounterID
	}
	if m.ObsDatetime.IsZero() {
		m.ObsDatetime = group.ObsDatetime
	}
	if m.LocationID == nil {
		m.LocationID = group.LocationID
	}
	if m.PersonID != group.PersonID || !eqPtr(m.EncounterID, group.EncounterID) || !m.ObsDatetime.Equal(group.ObsDatetime) {
		return apierr.Invalid("group_members", "Obs.error.group.mismatch",
			"group member %s must share person, encounter and datetime with its group", m.Concept)
	}
	return nil
}

func (s *Service) create(ctx context.Context, o *Obs, actor string) error {
	o.Data.Stamp(actor, true)
	if err := s.repo.Create(ctx, o); err != nil {
		return err
	}
	for _, m := range o.GroupMembers {
		m.ObsGroupID = &o.ID
		if m.ID != uuid.Nil {
			if err := s.reparent(ctx, m, o.ID, actor); err != nil {
				return err
			}
			continue
		}
		if err := s.create(ctx, m, actor); err != nil {
			return err
		}
	}
	return nil
}

// revise voids the stored obs and inserts o as its next version.
func (s *Service) revise(ctx context.Context, o *Obs, changeMessage, actor string) error {
	stored, err := s.repo.GetByID(ctx, o.ID)
	if err != nil {
		return err
	}
	if stored.Voided {
		return apierr.Invalid("id", "Obs.error.revise.voided", "voided obs %s cannot be edited", stored.ID)
	}
	if err := stored.Void(actor, changeMessage, base.Now()); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, stored); err != nil {
		return err
	}
	o.ID = uuid.Nil
	o.Data = base.Data{}
	o.PreviousVersionID = &stored.ID
	if stored.Status == StatusFinal {
		o.Status = StatusAmended
	}
	if err := s.create(ctx, o, actor); err != nil {
		return err
	}
	if err := s.carryMembers(ctx, stored.ID, o, actor); err != nil {
		return err
	}
	s.Log().Debug().Stringer("previous", stored.ID).Stringer("obs", o.ID).Msg("obs revised")
	return nil
}

// carryMembers moves the active members of the previous group version that
// o does not list onto o.
func (s *Service) carryMembers(ctx context.Context, previous uuid.UUID, o *Obs, actor string) error {
	members, _, err := s.repo.Search(ctx, Criteria{GroupID: &previous}, pagination.All)
	if err != nil {
		return err
	}
	listed := make(map[uuid.UUID]bool, len(o.GroupMembers))
	for _, m := range o.GroupMembers {
		listed[m.ID] = true
	}
	for _, m := range members {
		if listed[m.ID] {
			continue
		}
		m.ObsGroupID = &o.ID
		m.Data.Stamp(actor, false)
		if err := s.repo.Update(ctx, m); err != nil {
			return err
		}
		o.GroupMembers = append(o.GroupMembers, m)
	}
	return nil
}

// reparent moves an existing member to a new group version; a member whose
// content changed becomes a new version itself.
func (s *Service) reparent(ctx context.Context, m *Obs, groupID uuid.UUID, actor string) error {
	stored, err := s.repo.GetByID(ctx, m.ID)
	if err != nil {
		return err
	}
	if m.Voided {
		if stored.Voided {
			return nil
		}
		reason := base.StrVal(m.VoidReason)
		if strings.TrimSpace(reason) == "" {
			reason = "removed from group"
		}
		if err := stored.Void(actor, reason, base.Now()); err != nil {
			return err
		}
		return s.repo.Update(ctx, stored)
	}
	if sameContent(stored, m) {
		m.Data = stored.Data
		m.Data.Stamp(actor, false)
		return s.repo.Update(ctx, m)
	}
	return s.revise(ctx, m, "group member edited", actor)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameContent(a, b *Obs) bool {
	return a.Concept == b.Concept && a.ObsDatetime.Equal(b.ObsDatetime) &&
		eqPtr(a.ValueCoded, b.ValueCoded) && eqPtr(a.ValueNumeric, b.ValueNumeric) &&
		eqPtr(a.ValueText, b.ValueText) && eqTime(a.ValueDatetime, b.ValueDatetime) &&
		eqPtr(a.ValueComplex, b.ValueComplex) && eqPtr(a.Comment, b.Comment) &&
		eqPtr(a.Interpretation, b.Interpretation) && eqPtr(a.AccessionNumber, b.AccessionNumber) &&
		eqPtr(a.LocationID, b.LocationID) && eqPtr(a.OrderID, b.OrderID) &&
		eqPtr(a.FormNamespaceAndPath, b.FormNamespaceAndPath) && a.Status == b.Status
}

// GetObs returns the obs with its group members, voided ones included.
func (s *Service) GetObs(ctx context.Context, id uuid.UUID) (*Obs, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, s.loadMembers(ctx, o)
}

func (s *Service) loadMembers(ctx context.Context, o *Obs) error {
	members, _, err := s.repo.Search(ctx, Criteria{GroupID: &o.ID, IncludeVoided: true}, pagination.All)
	if err != nil {
		return err
	}
	o.GroupMembers = members
	for _, m := range members {
		if err := s.loadMembers(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetObservationsByPerson(ctx context.Context, personID uuid.UUID, includeVoided bool) ([]*Obs, error) {
	list, _, err := s.repo.Search(ctx, Criteria{PersonIDs: []uuid.UUID{personID}, IncludeVoided: includeVoided}, pagination.All)
	return list, err
}

func (s *Service) GetObservations(ctx context.Context, c Criteria, page pagination.Params) ([]*Obs, int, error) {
	return s.repo.Search(ctx, c, page)
}

func (s *Service) GetObservationCount(ctx context.Context, c Criteria) (int, error) {
	return s.repo.Count(ctx, c)
}

// GetRevisionObs returns the obs that replaced id.
func (s *Service) GetRevisionObs(ctx context.Context, id uuid.UUID) (*Obs, error) {
	return s.repo.GetRevision(ctx, id)
}

// VoidObs voids the obs and every member of it when it is a group.
func (s *Service) VoidObs(ctx context.Context, id uuid.UUID, reason string) (*Obs, error) {
	o, err := s.GetObs(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Voided {
		return o, nil
	}
	actor, at := auth.ActorFromContext(ctx), base.Now()
	err = s.InTx(ctx, func(ctx context.Context) error {
		return s.void(ctx, o, actor, reason, at)
	})
	if err != nil {
		return nil, err
	}
	s.Record("obs", "void")
	return o, nil
}

func (s *Service) void(ctx context.Context, o *Obs, actor, reason string, at time.Time) error {
	if err := o.Void(actor, reason, at); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, o); err != nil {
		return err
	}
	for _, m := range o.GroupMembers {
		if m.Voided {
			continue
		}
		if err := s.void(ctx, m, actor, reason, at); err != nil {
			return err
		}
	}
	return nil
}

// UnvoidObs restores the obs and the members voided with it.
func (s *Service) UnvoidObs(ctx context.Context, id uuid.UUID) (*Obs, error) {
	o, err := s.GetObs(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Voided || o.DateVoided == nil {
		return o, nil
	}
	actor, voidedAt := auth.ActorFromContext(ctx), *o.DateVoided
	err = s.InTx(ctx, func(ctx context.Context) error {
		return s.unvoid(ctx, o, actor, voidedAt)
	})
	if err != nil {
		return nil, err
	}
	s.Record("obs", "unvoid")
	return o, nil
}

func (s *Service) unvoid(ctx context.Context, o *Obs, actor string, voidedAt time.Time) error {
	o.Unvoid()
	o.Data.Stamp(actor, false)
	if err := s.repo.Update(ctx, o); err != nil {
		return err
	}
	for _, m := range o.GroupMembers {
		if m.Voided && m.DateVoided != nil && m.DateVoided.Equal(voidedAt) {
			if err := s.unvoid(ctx, m, actor, voidedAt); err != nil {
				return err
			}
		}
	}
	return nil
}

// PurgeObs deletes the obs and its complex data. A group is only purged
// with cascade, which deletes its members first.
func (s *Service) PurgeObs(ctx context.Context, id uuid.UUID, cascade bool) error {
	o, err := s.GetObs(ctx, id)
	if err != nil {
		return err
	}
	if o.IsGroup() && !cascade {
		return apierr.Conflict("Obs.error.purge.group", "obs group %s has members; purge with cascade", id)
	}
	if err := s.InTx(ctx, func(ctx context.Context) error { return s.purge(ctx, o) }); err != nil {
		return err
	}
	s.Record("obs", "purge")
	return nil
}

func (s *Service) purge(ctx context.Context, o *Obs) error {
	for _, m := range o.GroupMembers {
		if err := s.purge(ctx, m); err != nil {
			return err
		}
	}
	if err := s.repo.Delete(ctx, o.ID); err != nil {
		return err
	}
	if o.ValueComplex != nil && s.store != nil {
		if err := s.store.PurgeData(ctx, *o.ValueComplex); err != nil && !errors.Is(err, apierr.ErrNotFound) {
			return err
		}
	}
	return nil
}

// SaveComplexObs stores content and saves o with its key as value.
func (s *Service) SaveComplexObs(ctx context.Context, o *Obs, content io.Reader, filename, mimeType string) error {
	if s.store == nil {
		return apierr.Invalid("value_complex", "Obs.error.complex.unsupported", "no storage is configured for complex obs")
	}
	key, err := s.store.SaveData(ctx, content, storage.Metadata{Filename: filename, MimeType: mimeType}, ComplexModule)
	if err != nil {
		return err
	}
	o.ValueComplex = &key
	o.ValueCoded, o.ValueNumeric, o.ValueText, o.ValueDatetime = nil, nil, nil, nil
	if err := s.SaveObs(ctx, o, "complex value replaced"); err != nil {
		if perr := s.store.PurgeData(ctx, key); perr != nil {
			s.Log().Warn().Err(perr).Str("key", key).Msg("failed to remove orphaned complex data")
		}
		return err
	}
	return nil
}

// GetComplexData opens the stored value of a complex obs; the caller closes
// the reader.
func (s *Service) GetComplexData(ctx context.Context, id uuid.UUID) (io.ReadCloser, *storage.Metadata, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if o.ValueComplex == nil || s.store == nil {
		return nil, nil, apierr.Invalid("value_complex", "Obs.error.complex.none", "obs %s has no complex value", id)
	}
	return s.store.GetData(ctx, *o.ValueComplex)
}

// EncounterCascade voids and unvoids the obs of an encounter.
func (s *Service) EncounterCascade() base.Cascade {
	return base.Cascade{Name: "obs", Void: s.repo.VoidByEncounter, Unvoid: s.repo.UnvoidByEncounter}
}

// PersonCascade voids and unvoids the obs of a person.
func (s *Service) PersonCascade() base.Cascade {
	return base.Cascade{Name: "obs", Void: s.repo.VoidByPerson, Unvoid: s.repo.UnvoidByPerson}
}

func (s *Service) PersonMergeHook() base.MergeHook {
	return base.MergeHook{Name: "obs", Merge: s.repo.ReassignPerson}
}

func (s *Service) EncounterPurgeHook() encounter.PurgeHook {
	return encounter.PurgeHook{Name: "obs", Purge: s.repo.DeleteByEncounter}
}

// EncounterTransferHook copies the non-voided obs trees of an encounter to
// its transferred copy.
func (s *Service) EncounterTransferHook() encounter.TransferHook {
	return encounter.TransferHook{
		Name: "obs",
		Transfer: func(ctx context.Context, from, to, personID uuid.UUID) error {
			list, _, err := s.repo.Search(ctx, Criteria{EncounterIDs: []uuid.UUID{from}}, pagination.All)
			if err != nil {
				return err
			}
			actor := auth.ActorFromContext(ctx)
			for _, o := range list {
				if o.ObsGroupID != nil {
					continue
				}
				if err := s.loadMembers(ctx, o); err != nil {
					return err
				}
				if err := s.create(ctx, copyTree(o, to, personID), actor); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func copyTree(o *Obs, encounterID, personID uuid.UUID) *Obs {
	cp := *o
	cp.ID, cp.Data, cp.PreviousVersionID, cp.ObsGroupID = uuid.Nil, base.Data{}, nil, nil
	cp.EncounterID, cp.PersonID = &encounterID, personID
	cp.GroupMembers = nil
	for _, m := range o.ActiveMembers() {
		cp.GroupMembers = append(cp.GroupMembers, copyTree(m, encounterID, personID))
	}
	return &cp
}
