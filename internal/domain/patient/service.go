package patient

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/person"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/checkdigit"
	"github.com/ehr/emr/internal/platform/validate"
	"github.com/ehr/emr/pkg/pagination"
)

// Serializer encodes merge logs; the serialization service satisfies it.
type Serializer interface {
	Serialize(ctx context.Context, v interface{}, name string) ([]byte, error)
	DefaultSerializerName(ctx context.Context) string
}

// DeathHook reacts to a processed death, e.g. by ending visits.
type DeathHook struct {
	Name string
	Fn   func(ctx context.Context, patientID uuid.UUID, deathDate time.Time) error
}

type Service struct {
	base.Support
	people    *person.Service
	repo      PatientRepository
	idTypes   IdentifierTypeRepository
	mergeLogs MergeLogRepository
	ser       Serializer
	deaths    []DeathHook
}

func NewService(people *person.Service, repo PatientRepository, idTypes IdentifierTypeRepository, mergeLogs MergeLogRepository, ser Serializer) *Service {
	return &Service{people: people, repo: repo, idTypes: idTypes, mergeLogs: mergeLogs, ser: ser}
}

func (s *Service) AddDeathHook(h DeathHook) { s.deaths = append(s.deaths, h) }

// SavePatient validates the identifiers, then stores the person and patient
// rows together.
func (s *Service) SavePatient(ctx context.Context, p *Patient) error {
	isNew := p.ID == uuid.Nil
	var stored []*PatientIdentifier
	if !isNew {
		prev, err := s.repo.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		stored = prev.Identifiers
	}
	actor := auth.ActorFromContext(ctx)
	if err := base.StampDetails(p.Identifiers, stored, identifierKey, actor); err != nil {
		return err
	}
	if err := s.CheckPatientIdentifiers(ctx, p); err != nil {
		return err
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		if err := s.people.SavePerson(ctx, &p.Person); err != nil {
			return err
		}
		if isNew {
			if err := s.repo.Create(ctx, p); err != nil {
				return err
			}
			s.Record("patient", "create")
			return nil
		}
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		s.Record("patient", "update")
		return nil
	})
}

func identifierKey(id *PatientIdentifier) (*uuid.UUID, *base.Data) { return &id.ID, &id.Data }

// CheckPatientIdentifiers applies the identifier rules: at least one
// non-voided identifier, per-type format, check digit, location and
// uniqueness, no duplicates and every required type present.
func (s *Service) CheckPatientIdentifiers(ctx context.Context, p *Patient) error {
	var active []*PatientIdentifier
	seen := make(map[string]bool)
	for _, id := range p.Identifiers {
		if id.Voided {
			id.Preferred = false
			continue
		}
		id.Identifier = strings.TrimSpace(id.Identifier)
		if id.Identifier == "" {
			return identifierError(ErrBlankIdentifier, "", "identifier cannot be blank")
		}
		key := id.IdentifierTypeID.String() + "|" + id.Identifier
		if seen[key] {
			return identifierError(ErrDuplicateIdentifier, id.Identifier, "identifier is listed twice")
		}
		seen[key] = true
		if err := s.checkIdentifier(ctx, p.ID, id); err != nil {
			return err
		}
		active = append(active, id)
	}
	if len(active) == 0 {
		return identifierError(ErrInsufficientIdentifiers, "", "a patient needs at least one identifier")
	}

	types, err := s.idTypes.List(ctx, false)
	if err != nil {
		return err
	}
	for _, t := range types {
		if !t.Required {
			continue
		}
		found := false
		for _, id := range active {
			found = found || id.IdentifierTypeID == t.ID
		}
		if !found {
			return identifierError(ErrMissingRequiredIdentifier, "", "identifier of type %s is required", t.Name)
		}
	}

	preferred := false
	for _, id := range active {
		if id.Preferred && !preferred {
			preferred = true
			continue
		}
		id.Preferred = false
	}
	if !preferred {
		active[0].Preferred = true
	}
	return nil
}

func (s *Service) checkIdentifier(ctx context.Context, patientID uuid.UUID, id *PatientIdentifier) error {
	t, err := s.idTypes.GetByID(ctx, id.IdentifierTypeID)
	if err != nil {
		return err
	}
	if f := base.StrVal(t.Format); f != "" {
		re, err := regexp.Compile("^(?:" + f + ")$")
		if err != nil {
			return fmt.Errorf("identifier type %s format: %w", t.Name, err)
		}
		if !re.MatchString(id.Identifier) {
			desc := base.StrVal(t.FormatDescription)
			if desc == "" {
				desc = f
			}
			return identifierError(ErrInvalidIdentifierFormat, id.Identifier, "identifier does not match the %s format %s", t.Name, desc)
		}
	}
	if t.Validator == ValidatorLuhn && !checkdigit.Valid(id.Identifier) {
		return identifierError(ErrInvalidCheckDigit, id.Identifier, "identifier has an invalid check digit")
	}
	if t.LocationBehavior == LocationRequired && id.LocationID == nil {
		return identifierError(ErrLocationRequired, id.Identifier, "identifier of type %s needs a location", t.Name)
	}

	behavior := t.UniquenessBehavior
	if behavior == "" {
		behavior = Unique
	}
	if behavior == NonUnique {
		return nil
	}
	q := IdentifierQuery{Identifier: id.Identifier, Exact: true, TypeIDs: []uuid.UUID{t.ID}}
	if behavior == UniqueLocation && id.LocationID != nil {
		q.LocationIDs = []uuid.UUID{*id.LocationID}
	}
	existing, err := s.repo.FindIdentifiers(ctx, q)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.PatientID != patientID {
			return identifierError(ErrIdentifierNotUnique, id.Identifier, "identifier is already in use")
		}
	}
	return nil
}

// GetPatient loads the patient row, its identifiers and the person.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	per, err := s.people.GetPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Person = *per
	return p, nil
}

func (s *Service) loadAll(ctx context.Context, ids []uuid.UUID) ([]*Patient, error) {
	out := make([]*Patient, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPatient(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) GetPatients(ctx context.Context, q Query, page pagination.Params) ([]*Patient, int, error) {
	ids, total, err := s.repo.Search(ctx, q, page)
	if err != nil {
		return nil, 0, err
	}
	patients, err := s.loadAll(ctx, ids)
	return patients, total, err
}

func (s *Service) GetCountOfPatients(ctx context.Context, q Query) (int, error) {
	_, total, err := s.repo.Search(ctx, q, pagination.Params{Limit: 1})
	return total, err
}

// GetPatientsByIdentifier returns the distinct patients holding identifier.
func (s *Service) GetPatientsByIdentifier(ctx context.Context, identifier string, typeIDs []uuid.UUID, exact bool) ([]*Patient, error) {
	ids, err := s.repo.FindIdentifiers(ctx, IdentifierQuery{Identifier: identifier, Exact: exact, TypeIDs: typeIDs})
	if err != nil {
		return nil, err
	}
	var patientIDs []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, id := range ids {
		if !seen[id.PatientID] {
			seen[id.PatientID] = true
			patientIDs = append(patientIDs, id.PatientID)
		}
	}
	return s.loadAll(ctx, patientIDs)
}

func (s *Service) GetPatientIdentifiers(ctx context.Context, identifier string, typeIDs, locationIDs, patientIDs []uuid.UUID) ([]*PatientIdentifier, error) {
	return s.repo.FindIdentifiers(ctx, IdentifierQuery{Identifier: identifier, TypeIDs: typeIDs, LocationIDs: locationIDs, PatientIDs: patientIDs})
}

// VoidPatient voids the person and identifiers of the patient and every
// registered dependent (encounters, visits, obs, ...).
func (s *Service) VoidPatient(ctx context.Context, id uuid.UUID, reason string) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Voided {
		return s.GetPatient(ctx, id)
	}
	err = s.InTx(ctx, func(ctx context.Context) error {
		per, err := s.people.VoidPerson(ctx, id, reason)
		if err != nil {
			return err
		}
		p.Data = per.Data
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		at := *per.DateVoided
		if err := s.repo.VoidIdentifiers(ctx, id, *per.VoidedBy, reason, at); err != nil {
			return err
		}
		return s.VoidDependents(ctx, id, *per.VoidedBy, reason, at)
	})
	if err != nil {
		return nil, err
	}
	s.Record("patient", "void")
	s.Log().Info().Stringer("patient", id).Str("reason", reason).Msg("patient voided")
	return s.GetPatient(ctx, id)
}

func (s *Service) UnvoidPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Voided || p.DateVoided == nil {
		return s.GetPatient(ctx, id)
	}
	voidedAt := *p.DateVoided
	err = s.InTx(ctx, func(ctx context.Context) error {
		per, err := s.people.UnvoidPerson(ctx, id)
		if err != nil {
			return err
		}
		p.Data = per.Data
		// Identifiers voided with the patient come back before the update
		// rewrites them from p.
		if err := s.repo.UnvoidIdentifiers(ctx, id, voidedAt); err != nil {
			return err
		}
		stored, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		p.Identifiers = stored.Identifiers
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		return s.UnvoidDependents(ctx, id, voidedAt)
	})
	if err != nil {
		return nil, err
	}
	s.Record("patient", "unvoid")
	return s.GetPatient(ctx, id)
}

func (s *Service) PurgePatient(ctx context.Context, id uuid.UUID) error {
	err := s.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		return s.people.PurgePerson(ctx, id)
	})
	if err != nil {
		return err
	}
	s.Record("patient", "purge")
	return nil
}

// ProcessDeath records the death on the person and runs the death hooks.
func (s *Service) ProcessDeath(ctx context.Context, id uuid.UUID, deathDate time.Time, cause string) (*Patient, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	err := s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.people.ProcessDeath(ctx, id, deathDate, cause); err != nil {
			return err
		}
		for _, h := range s.deaths {
			if err := h.Fn(ctx, id, deathDate); err != nil {
				return fmt.Errorf("death hook %s: %w", h.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetPatient(ctx, id)
}

// MergePatients folds notPreferred into preferred: dependents are re-pointed
// through the merge hooks, identifiers move over, names and addresses are
// copied, the loser is voided and a merge log is written.
func (s *Service) MergePatients(ctx context.Context, preferred, notPreferred uuid.UUID) (*MergeLog, error) {
	if preferred == notPreferred {
		return nil, apierr.Invalid("not_preferred", "Patient.merge.samePatient", "cannot merge a patient into itself")
	}
	winner, err := s.GetPatient(ctx, preferred)
	if err != nil {
		return nil, err
	}
	loser, err := s.GetPatient(ctx, notPreferred)
	if err != nil {
		return nil, err
	}
	if winner.Voided || loser.Voided {
		return nil, apierr.Invalid("not_preferred", "Patient.merge.voided", "cannot merge voided patients")
	}

	data := MergedData{Winner: winner.ID, Loser: loser.ID, MovedIdentifiers: []string{}, RepointedEntities: []string{}}
	actor, at := auth.ActorFromContext(ctx), base.Now()
	var log *MergeLog
	err = s.InTx(ctx, func(ctx context.Context) error {
		if err := s.RunMergeHooks(ctx, winner.ID, loser.ID); err != nil {
			return err
		}
		data.RepointedEntities = append(data.RepointedEntities, s.MergeHooks()...)

		if err := s.people.CopyNamesAndAddresses(ctx, loser.ID, winner.ID); err != nil {
			return err
		}
		for _, n := range loser.Names {
			if !n.Voided {
				data.CopiedNames++
			}
		}
		for _, a := range loser.Addresses {
			if !a.Voided {
				data.CopiedAddresses++
			}
		}

		have := make(map[string]bool)
		for _, id := range winner.Identifiers {
			if !id.Voided {
				have[id.IdentifierTypeID.String()+"|"+id.Identifier] = true
			}
		}
		if err := s.repo.VoidIdentifiers(ctx, loser.ID, actor, mergeReason(winner.ID), at); err != nil {
			return err
		}
		for _, id := range loser.Identifiers {
			if id.Voided || have[id.IdentifierTypeID.String()+"|"+id.Identifier] {
				continue
			}
			moved := *id
			moved.ID, moved.PatientID, moved.Preferred = uuid.Nil, winner.ID, false
			moved.Data = base.Data{}
			moved.Data.Stamp(actor, true)
			winner.Identifiers = append(winner.Identifiers, &moved)
			data.MovedIdentifiers = append(data.MovedIdentifiers, id.Identifier)
		}
		if err := s.CheckPatientIdentifiers(ctx, winner); err != nil {
			return err
		}
		winner.Data.Stamp(actor, false)
		if err := s.repo.Update(ctx, winner); err != nil {
			return err
		}

		if _, err := s.VoidPatient(ctx, loser.ID, mergeReason(winner.ID)); err != nil {
			return err
		}

		log, err = s.writeMergeLog(ctx, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Record("patient", "merge")
	s.Log().Info().Stringer("winner", winner.ID).Stringer("loser", loser.ID).
		Int("identifiers", len(data.MovedIdentifiers)).Msg("patients merged")
	return log, nil
}

func mergeReason(winner uuid.UUID) string {
	return "Merged with " + winner.String()
}

func (s *Service) writeMergeLog(ctx context.Context, data MergedData) (*MergeLog, error) {
	name := s.ser.DefaultSerializerName(ctx)
	raw, err := s.ser.Serialize(ctx, data, name)
	if err != nil {
		return nil, err
	}
	l := &MergeLog{WinnerID: data.Winner, LoserID: data.Loser, Serializer: name, SerializedMergedData: string(raw)}
	l.Data.Stamp(auth.ActorFromContext(ctx), true)
	if err := s.mergeLogs.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) GetMergeLog(ctx context.Context, id uuid.UUID) (*MergeLog, error) {
	return s.mergeLogs.GetByID(ctx, id)
}

func (s *Service) GetMergeLogsByWinner(ctx context.Context, winner uuid.UUID) ([]*MergeLog, error) {
	return s.mergeLogs.ListByWinner(ctx, winner)
}

func (s *Service) SavePatientIdentifierType(ctx context.Context, t *PatientIdentifierType) error {
	if t.UniquenessBehavior == "" {
		t.UniquenessBehavior = Unique
	}
	if err := validate.Struct("PatientIdentifierType", t); err != nil {
		return err
	}
	if f := base.StrVal(t.Format); f != "" {
		if _, err := regexp.Compile(f); err != nil {
			return apierr.Invalid("format", "PatientIdentifierType.format.invalid", "format is not a valid regular expression")
		}
	}
	actor := auth.ActorFromContext(ctx)
	if t.ID == uuid.Nil {
		t.Metadata.Stamp(actor, true)
		return s.idTypes.Create(ctx, t)
	}
	stored, err := s.idTypes.GetByID(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Metadata.Preserve(stored.Metadata)
	t.Metadata.Stamp(actor, false)
	return s.idTypes.Update(ctx, t)
}

func (s *Service) GetPatientIdentifierType(ctx context.Context, id uuid.UUID) (*PatientIdentifierType, error) {
	return s.idTypes.GetByID(ctx, id)
}

func (s *Service) GetPatientIdentifierTypeByName(ctx context.Context, name string) (*PatientIdentifierType, error) {
	return s.idTypes.GetByName(ctx, name)
}

func (s *Service) GetAllPatientIdentifierTypes(ctx context.Context, includeRetired bool) ([]*PatientIdentifierType, error) {
	return s.idTypes.List(ctx, includeRetired)
}

func (s *Service) RetirePatientIdentifierType(ctx context.Context, id uuid.UUID, reason string) (*PatientIdentifierType, error) {
	return base.RetireByID[*PatientIdentifierType](ctx, s.idTypes, id, reason)
}

func (s *Service) UnretirePatientIdentifierType(ctx context.Context, id uuid.UUID) (*PatientIdentifierType, error) {
	return base.UnretireByID[*PatientIdentifierType](ctx, s.idTypes, id)
}

func (s *Service) PurgePatientIdentifierType(ctx context.Context, id uuid.UUID) error {
	return s.idTypes.Delete(ctx, id)
}
