package diagnosis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/encounter"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
)

// EncounterLookup resolves the encounters diagnoses belong to.
type EncounterLookup interface {
	GetEncounter(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
	GetEncountersByVisit(ctx context.Context, visitID uuid.UUID, includeVoided bool) ([]*encounter.Encounter, error)
}

type Service struct {
	base.Support
	repo       Repository
	encounters EncounterLookup
}

func NewService(repo Repository, encounters EncounterLookup) *Service {
	return &Service{repo: repo, encounters: encounters}
}

func (s *Service) SaveDiagnosis(ctx context.Context, d *Diagnosis) error {
	if err := validate.Struct("Diagnosis", d); err != nil {
		return err
	}
	if err := d.Diagnosis.Check("diagnosis"); err != nil {
		return err
	}
	if d.Rank < RankPrimary {
		return apierr.Invalid("rank", "Diagnosis.error.rank", "rank must be 1 (primary) or more")
	}
	if d.Certainty == "" {
		d.Certainty = CertaintyProvisional
	}
	e, err := s.encounters.GetEncounter(ctx, d.EncounterID)
	if err != nil {
		return err
	}
	if e.PatientID != d.PatientID {
		return apierr.Invalid("patient_id", "Diagnosis.error.patientMismatch", "diagnosis patient differs from the encounter's")
	}

	actor := auth.ActorFromContext(ctx)
	if d.ID == uuid.Nil {
		d.Data.Stamp(actor, true)
		if err := s.repo.Create(ctx, d); err != nil {
			return err
		}
		s.Record("diagnosis", "create")
		return nil
	}
	stored, err := s.repo.GetByID(ctx, d.ID)
	if err != nil {
		return err
	}
	d.Data.Preserve(stored.Data)
	d.Data.Stamp(actor, false)
	if err := s.repo.Update(ctx, d); err != nil {
		return err
	}
	s.Record("diagnosis", "update")
	return nil
}

func (s *Service) GetDiagnosis(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetDiagnosesByEncounter(ctx context.Context, encounterID uuid.UUID, primaryOnly, confirmedOnly bool) ([]*Diagnosis, error) {
	return s.repo.Search(ctx, Criteria{EncounterIDs: []uuid.UUID{encounterID}, PrimaryOnly: primaryOnly, ConfirmedOnly: confirmedOnly})
}

// GetDiagnosesByVisit collects the diagnoses of the visit's non-voided
// encounters.
func (s *Service) GetDiagnosesByVisit(ctx context.Context, visitID uuid.UUID, primaryOnly, confirmedOnly bool) ([]*Diagnosis, error) {
	encounters, err := s.encounters.GetEncountersByVisit(ctx, visitID, false)
	if err != nil {
		return nil, err
	}
	if len(encounters) == 0 {
		return []*Diagnosis{}, nil
	}
	ids := make([]uuid.UUID, len(encounters))
	for i, e := range encounters {
		ids[i] = e.ID
	}
	return s.repo.Search(ctx, Criteria{EncounterIDs: ids, PrimaryOnly: primaryOnly, ConfirmedOnly: confirmedOnly})
}

// GetDiagnoses returns the patient's diagnoses recorded since fromDate
// (all when nil).
func (s *Service) GetDiagnoses(ctx context.Context, patientID uuid.UUID, fromDate *time.Time) ([]*Diagnosis, error) {
	return s.repo.Search(ctx, Criteria{PatientID: &patientID, FromDate: fromDate})
}

// GetUniqueDiagnoses is GetDiagnoses keeping one diagnosis per concept or
// free text.
func (s *Service) GetUniqueDiagnoses(ctx context.Context, patientID uuid.UUID, fromDate *time.Time) ([]*Diagnosis, error) {
	all, err := s.GetDiagnoses(ctx, patientID, fromDate)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(all))
	out := []*Diagnosis{}
	for _, d := range all {
		if k := d.Diagnosis.Key(); !seen[k] {
			seen[k] = true
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Service) GetPrimaryDiagnoses(ctx context.Context, encounterID uuid.UUID) ([]*Diagnosis, error) {
	return s.GetDiagnosesByEncounter(ctx, encounterID, true, false)
}

func (s *Service) VoidDiagnosis(ctx context.Context, id uuid.UUID, reason string) (*Diagnosis, error) {
	return base.VoidByID[*Diagnosis](ctx, s.repo, id, reason)
}

func (s *Service) UnvoidDiagnosis(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return base.UnvoidByID[*Diagnosis](ctx, s.repo, id)
}

func (s *Service) PurgeDiagnosis(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// EncounterCascade voids and unvoids diagnoses with their encounter.
func (s *Service) EncounterCascade() base.Cascade {
	return base.Cascade{Name: "diagnosis", Void: s.repo.VoidByEncounter, Unvoid: s.repo.UnvoidByEncounter}
}

// PatientCascade voids and unvoids a patient's diagnoses in bulk. The
// patient's encounters are voided in bulk too, so their own cascade never
// reaches the diagnoses.
func (s *Service) PatientCascade() base.Cascade {
	return base.Cascade{Name: "diagnosis", Void: s.repo.VoidByPatient, Unvoid: s.repo.UnvoidByPatient}
}

func (s *Service) EncounterPurgeHook() encounter.PurgeHook {
	return encounter.PurgeHook{Name: "diagnosis", Purge: s.repo.DeleteByEncounter}
}

// EncounterTransferHook copies the non-voided diagnoses of an encounter to
// its transferred copy. Links to the old patient's conditions are dropped.
func (s *Service) EncounterTransferHook() encounter.TransferHook {
	return encounter.TransferHook{
		Name: "diagnosis",
		Transfer: func(ctx context.Context, from, to, patientID uuid.UUID) error {
			list, err := s.repo.Search(ctx, Criteria{EncounterIDs: []uuid.UUID{from}})
			if err != nil {
				return err
			}
			actor := auth.ActorFromContext(ctx)
			for _, d := range list {
				cp := &Diagnosis{
					EncounterID:          to,
					PatientID:            patientID,
					Diagnosis:            d.Diagnosis,
					Certainty:            d.Certainty,
					Rank:                 d.Rank,
					FormNamespaceAndPath: d.FormNamespaceAndPath,
				}
				cp.Data.Stamp(actor, true)
				if err := s.repo.Create(ctx, cp); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (s *Service) PatientMergeHook() base.MergeHook {
	return base.MergeHook{Name: "diagnosis", Merge: s.repo.ReassignPatient}
}
