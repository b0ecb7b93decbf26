package condition

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
)

type Service struct {
	base.Support
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SaveCondition creates a condition, or replaces a stored one with a new
// version when its content changed. The replaced version is voided and the
// new one points at it.
func (s *Service) SaveCondition(ctx context.Context, c *Condition) error {
	if err := validate.Struct("Condition", c); err != nil {
		return err
	}
	if err := c.Condition.Check("condition"); err != nil {
		return err
	}
	if c.ClinicalStatus == "" {
		c.ClinicalStatus = StatusActive
	}
	if c.EndDate != nil {
		if c.OnsetDate != nil && c.EndDate.Before(*c.OnsetDate) {
			return apierr.Invalid("end_date", "Condition.error.endBeforeOnset", "end_date cannot be before onset_date")
		}
		c.ClinicalStatus = StatusInactive
	}

	actor := auth.ActorFromContext(ctx)
	if c.ID == uuid.Nil {
		c.Data.Stamp(actor, true)
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		s.Record("condition", "create")
		return nil
	}

	stored, err := s.repo.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if stored.Voided {
		return apierr.Invalid("id", "Condition.error.voided", "a voided condition cannot be edited")
	}
	if c.sameAs(stored) {
		*c = *stored
		return nil
	}
	at := base.Now()
	err = s.InTx(ctx, func(ctx context.Context) error {
		_ = stored.Void(actor, ReasonEdited, at)
		if err := s.repo.Update(ctx, stored); err != nil {
			return err
		}
		c.ID, c.PreviousVersionID = uuid.Nil, &stored.ID
		c.Data = base.Data{}
		c.Data.Stamp(actor, true)
		return s.repo.Create(ctx, c)
	})
	if err != nil {
		return err
	}
	s.Record("condition", "edit")
	return nil
}

func (s *Service) GetCondition(ctx context.Context, id uuid.UUID) (*Condition, error) {
	return s.repo.GetByID(ctx, id)
}

// GetActiveConditions returns the patient's current ACTIVE conditions.
func (s *Service) GetActiveConditions(ctx context.Context, patientID uuid.UUID) ([]*Condition, error) {
	all, err := s.repo.ListByPatient(ctx, patientID, false)
	if err != nil {
		return nil, err
	}
	out := []*Condition{}
	for _, c := range all {
		if c.ClinicalStatus == StatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) GetAllConditions(ctx context.Context, patientID uuid.UUID) ([]*Condition, error) {
	return s.repo.ListByPatient(ctx, patientID, false)
}

func (s *Service) GetConditionsByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Condition, error) {
	return s.repo.ListByEncounter(ctx, encounterID)
}

// GetConditionHistory follows the previous versions of a condition, newest
// first.
func (s *Service) GetConditionHistory(ctx context.Context, id uuid.UUID) ([]*Condition, error) {
	var out []*Condition
	seen := make(map[uuid.UUID]bool)
	for next := &id; next != nil && !seen[*next]; {
		c, err := s.repo.GetByID(ctx, *next)
		if err != nil {
			return nil, err
		}
		seen[c.ID] = true
		out = append(out, c)
		next = c.PreviousVersionID
	}
	return out, nil
}

func (s *Service) VoidCondition(ctx context.Context, id uuid.UUID, reason string) (*Condition, error) {
	return base.VoidByID[*Condition](ctx, s.repo, id, reason)
}

func (s *Service) UnvoidCondition(ctx context.Context, id uuid.UUID) (*Condition, error) {
	return base.UnvoidByID[*Condition](ctx, s.repo, id)
}

func (s *Service) PurgeCondition(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) PatientCascade() base.Cascade {
	return base.Cascade{Name: "condition", Void: s.repo.VoidByPatient, Unvoid: s.repo.UnvoidByPatient}
}

func (s *Service) PatientMergeHook() base.MergeHook {
	return base.MergeHook{Name: "condition", Merge: s.repo.ReassignPatient}
}
