package cohort

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
)

// ReasonRemoved is the void reason of memberships ended by
// RemovePatientFromCohort.
const ReasonRemoved = "removed from cohort"

type Service struct {
	base.Support
	cohorts CohortRepository
	members MembershipRepository
}

func NewService(cohorts CohortRepository, members MembershipRepository) *Service {
	return &Service{cohorts: cohorts, members: members}
}

// SaveCohort stores the cohort and, when given, its memberships. Stored
// memberships missing from c.Memberships are left alone.
func (s *Service) SaveCohort(ctx context.Context, c *Cohort) error {
	c.Name = strings.TrimSpace(c.Name)
	if err := validate.Struct("Cohort", c); err != nil {
		return err
	}
	other, err := s.cohorts.GetByName(ctx, c.Name)
	switch {
	case err == nil && other.ID != c.ID && !other.Voided:
		return apierr.Conflict("Cohort.duplicate", "cohort %s already exists", c.Name)
	case err != nil && !errors.Is(err, apierr.ErrNotFound):
		return err
	}

	actor, now := auth.ActorFromContext(ctx), base.Now()
	var stored []*CohortMembership
	if c.ID != uuid.Nil {
		if stored, err = s.members.Search(ctx, MembershipCriteria{CohortID: &c.ID, IncludeVoided: true}); err != nil {
			return err
		}
	}
	byID := make(map[uuid.UUID]*CohortMembership, len(stored))
	for _, m := range stored {
		byID[m.ID] = m
	}
	for _, m := range c.Memberships {
		if m.StartDate.IsZero() {
			m.StartDate = now
		}
		if m.EndDate != nil && m.EndDate.Before(m.StartDate) {
			return apierr.Invalid("memberships", "CohortMembership.error.endBeforeStart", "a membership cannot end before it starts")
		}
		if prev, ok := byID[m.ID]; ok {
			m.Data.Preserve(prev.Data)
			m.Data.Stamp(actor, false)
		} else {
			if m.Voided {
				if err := m.Void(actor, base.StrVal(m.VoidReason), now); err != nil {
					return err
				}
			}
			m.Data.Stamp(actor, true)
		}
	}
	if err := checkMemberships(stored, c.Memberships); err != nil {
		return err
	}

	err = s.InTx(ctx, func(ctx context.Context) error {
		if c.ID == uuid.Nil {
			c.Data.Stamp(actor, true)
			if err := s.cohorts.Create(ctx, c); err != nil {
				return err
			}
		} else {
			prev, err := s.cohorts.GetByID(ctx, c.ID)
			if err != nil {
				return err
			}
			c.Data.Preserve(prev.Data)
			c.Data.Stamp(actor, false)
			if err := s.cohorts.Update(ctx, c); err != nil {
				return err
			}
		}
		for _, m := range c.Memberships {
			m.CohortID = c.ID
			if _, ok := byID[m.ID]; ok {
				if err := s.members.Update(ctx, m); err != nil {
					return err
				}
				continue
			}
			m.ID = uuid.Nil
			if err := s.members.Create(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Record("cohort", "save")
	return nil
}

// checkMemberships rejects overlapping memberships of one patient. Saved
// memberships replace their stored version.
func checkMemberships(stored, saved []*CohortMembership) error {
	merged := make(map[uuid.UUID]*CohortMembership)
	var all []*CohortMembership
	for _, m := range saved {
		if m.ID != uuid.Nil {
			merged[m.ID] = m
		}
		all = append(all, m)
	}
	for _, m := range stored {
		if _, ok := merged[m.ID]; !ok {
			all = append(all, m)
		}
	}
	byPatient := make(map[uuid.UUID][]*CohortMembership)
	for _, m := range all {
		if !m.Voided {
			byPatient[m.PatientID] = append(byPatient[m.PatientID], m)
		}
	}
	for _, list := range byPatient {
		sort.Slice(list, func(i, j int) bool { return list[i].StartDate.Before(list[j].StartDate) })
		for i := 1; i < len(list); i++ {
			if prev := list[i-1]; prev.EndDate == nil || prev.EndDate.After(list[i].StartDate) {
				return apierr.Invalid("memberships", "CohortMembership.error.overlap",
					"patient %s has overlapping memberships", list[i].PatientID)
			}
		}
	}
	return nil
}

func (s *Service) withMembers(ctx context.Context, c *Cohort) (*Cohort, error) {
	members, err := s.members.Search(ctx, MembershipCriteria{CohortID: &c.ID})
	if err != nil {
		return nil, err
	}
	c.Memberships = members
	return c, nil
}

// GetCohort returns the cohort with its non-voided memberships.
func (s *Service) GetCohort(ctx context.Context, id uuid.UUID) (*Cohort, error) {
	c, err := s.cohorts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withMembers(ctx, c)
}

func (s *Service) GetCohortByName(ctx context.Context, name string) (*Cohort, error) {
	c, err := s.cohorts.GetByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	return s.withMembers(ctx, c)
}

func (s *Service) GetAllCohorts(ctx context.Context, includeVoided bool) ([]*Cohort, error) {
	return s.cohorts.List(ctx, includeVoided)
}

// GetCohorts finds non-voided cohorts whose name contains fragment.
func (s *Service) GetCohorts(ctx context.Context, fragment string) ([]*Cohort, error) {
	if fragment = strings.TrimSpace(fragment); fragment == "" {
		return s.cohorts.List(ctx, false)
	}
	return s.cohorts.Find(ctx, fragment)
}

// VoidCohort voids the cohort and its memberships with the same reason.
func (s *Service) VoidCohort(ctx context.Context, id uuid.UUID, reason string) (*Cohort, error) {
	c, err := s.cohorts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Voided {
		return c, nil
	}
	actor, at := auth.ActorFromContext(ctx), base.Now()
	if err := c.Void(actor, reason, at); err != nil {
		return nil, err
	}
	err = s.InTx(ctx, func(ctx context.Context) error {
		if err := s.cohorts.Update(ctx, c); err != nil {
			return err
		}
		return s.members.VoidByCohort(ctx, c.ID, actor, reason, at)
	})
	if err != nil {
		return nil, err
	}
	s.Record("cohort", "void")
	return c, nil
}

// UnvoidCohort restores the cohort and the memberships voided with it.
func (s *Service) UnvoidCohort(ctx context.Context, id uuid.UUID) (*Cohort, error) {
	c, err := s.cohorts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Voided || c.DateVoided == nil {
		return c, nil
	}
	voidedAt := *c.DateVoided
	c.Unvoid()
	c.Data.Stamp(auth.ActorFromContext(ctx), false)
	err = s.InTx(ctx, func(ctx context.Context) error {
		if err := s.cohorts.Update(ctx, c); err != nil {
			return err
		}
		return s.members.UnvoidByCohort(ctx, c.ID, voidedAt)
	})
	if err != nil {
		return nil, err
	}
	s.Record("cohort", "unvoid")
	return c, nil
}

func (s *Service) PurgeCohort(ctx context.Context, id uuid.UUID) error {
	return s.cohorts.Delete(ctx, id)
}

// AddPatientToCohort opens a membership from now. A patient already in the
// cohort keeps the current membership.
func (s *Service) AddPatientToCohort(ctx context.Context, cohortID, patientID uuid.UUID) (*CohortMembership, error) {
	c, err := s.cohorts.GetByID(ctx, cohortID)
	if err != nil {
		return nil, err
	}
	if c.Voided {
		return nil, apierr.Invalid("cohort_id", "Cohort.error.voided", "cohort %s is voided", c.Name)
	}
	now := base.Now()
	current, err := s.members.Search(ctx, MembershipCriteria{CohortID: &cohortID, PatientID: &patientID, ActiveOn: &now})
	if err != nil {
		return nil, err
	}
	if len(current) > 0 {
		return current[0], nil
	}
	m := &CohortMembership{CohortID: cohortID, PatientID: patientID, StartDate: now}
	m.Data.Stamp(auth.ActorFromContext(ctx), true)
	if err := s.members.Create(ctx, m); err != nil {
		return nil, err
	}
	s.Record("cohortMembership", "add")
	return m, nil
}

// RemovePatientFromCohort voids the patient's active memberships.
func (s *Service) RemovePatientFromCohort(ctx context.Context, cohortID, patientID uuid.UUID) error {
	now := base.Now()
	current, err := s.members.Search(ctx, MembershipCriteria{CohortID: &cohortID, PatientID: &patientID, ActiveOn: &now})
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(ctx)
	return s.InTx(ctx, func(ctx context.Context) error {
		for _, m := range current {
			_ = m.Void(actor, ReasonRemoved, now)
			if err := s.members.Update(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// EndCohortMembership closes the membership on endDate.
func (s *Service) EndCohortMembership(ctx context.Context, id uuid.UUID, endDate time.Time) (*CohortMembership, error) {
	m, err := s.members.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if endDate.Before(m.StartDate) {
		return nil, apierr.Invalid("end_date", "CohortMembership.error.endBeforeStart", "a membership cannot end before it starts")
	}
	m.EndDate = &endDate
	m.Data.Stamp(auth.ActorFromContext(ctx), false)
	if err := s.members.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetCohortsContainingPatient lists the cohorts the patient belongs to at
// asOf (now when nil).
func (s *Service) GetCohortsContainingPatient(ctx context.Context, patientID uuid.UUID, includeVoided bool, asOf *time.Time) ([]*Cohort, error) {
	at := base.Now()
	if asOf != nil {
		at = *asOf
	}
	members, err := s.members.Search(ctx, MembershipCriteria{PatientID: &patientID, ActiveOn: &at, IncludeVoided: includeVoided})
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool)
	out := []*Cohort{}
	for _, m := range members {
		if seen[m.CohortID] {
			continue
		}
		seen[m.CohortID] = true
		c, err := s.cohorts.GetByID(ctx, m.CohortID)
		if err != nil {
			return nil, err
		}
		if includeVoided || !c.Voided {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetCohortMemberships lists the patient's memberships, only those active
// on activeOn when given.
func (s *Service) GetCohortMemberships(ctx context.Context, patientID uuid.UUID, activeOn *time.Time, includeVoided bool) ([]*CohortMembership, error) {
	return s.members.Search(ctx, MembershipCriteria{PatientID: &patientID, ActiveOn: activeOn, IncludeVoided: includeVoided})
}

// CombineCohorts builds an unsaved cohort from the current members of a
// and b.
func (s *Service) CombineCohorts(ctx context.Context, op Op, a, b uuid.UUID) (*Cohort, error) {
	left, err := s.GetCohort(ctx, a)
	if err != nil {
		return nil, err
	}
	right, err := s.GetCohort(ctx, b)
	if err != nil {
		return nil, err
	}
	now := base.Now()
	inRight := make(map[uuid.UUID]bool)
	for _, id := range right.PatientIDs(now) {
		inRight[id] = true
	}
	var (
		ids  []uuid.UUID
		name string
	)
	switch op {
	case Union:
		name = left.Name + " OR " + right.Name
		ids = left.PatientIDs(now)
		seen := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
		}
		for _, id := range right.PatientIDs(now) {
			if !seen[id] {
				ids = append(ids, id)
			}
		}
	case Intersect, Subtract:
		keep := op == Intersect
		name = left.Name + " AND " + right.Name
		if !keep {
			name = left.Name + " NOT " + right.Name
		}
		for _, id := range left.PatientIDs(now) {
			if inRight[id] == keep {
				ids = append(ids, id)
			}
		}
	default:
		return nil, apierr.Invalid("op", "Cohort.error.unknownOp", "unknown cohort operation %q", op)
	}
	out := &Cohort{Name: name, Memberships: make([]*CohortMembership, len(ids))}
	for i, id := range ids {
		out.Memberships[i] = &CohortMembership{PatientID: id, StartDate: now}
	}
	return out, nil
}

func (s *Service) PatientCascade() base.Cascade {
	return base.Cascade{Name: "cohort", Void: s.members.VoidByPatient, Unvoid: s.members.UnvoidByPatient}
}

// PatientMergeHook moves the loser's memberships to the winner. Memberships
// in cohorts the winner already belongs to are voided instead.
func (s *Service) PatientMergeHook() base.MergeHook {
	return base.MergeHook{Name: "cohort", Merge: func(ctx context.Context, winner, loser uuid.UUID) error {
		now := base.Now()
		kept, err := s.members.Search(ctx, MembershipCriteria{PatientID: &winner, ActiveOn: &now})
		if err != nil {
			return err
		}
		in := make(map[uuid.UUID]bool, len(kept))
		for _, m := range kept {
			in[m.CohortID] = true
		}
		moved, err := s.members.Search(ctx, MembershipCriteria{PatientID: &loser, ActiveOn: &now})
		if err != nil {
			return err
		}
		actor := auth.ActorFromContext(ctx)
		for _, m := range moved {
			if !in[m.CohortID] {
				continue
			}
			_ = m.Void(actor, "merged into "+winner.String(), now)
			if err := s.members.Update(ctx, m); err != nil {
				return err
			}
		}
		return s.members.ReassignPatient(ctx, winner, loser)
	}}
}
