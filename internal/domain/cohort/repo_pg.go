package cohort

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/db"
)

const (
	cohortCols     = `name, description, ` + base.DataColumns
	membershipCols = `cohort_id, patient_id, start_date, end_date, ` + base.DataColumns
)

type cohortRepoPG struct {
	db.Table[Cohort]
}

func NewCohortRepoPG(pool *pgxpool.Pool) CohortRepository {
	return &cohortRepoPG{db.Table[Cohort]{
		Pool:    pool,
		Name:    "cohort",
		Entity:  "cohort",
		Columns: cohortCols,
		Scan: func(row db.Scanner) (*Cohort, error) {
			var c Cohort
			if err := row.Scan(append([]interface{}{&c.ID, &c.Name, &c.Description}, c.Data.Fields()...)...); err != nil {
				return nil, err
			}
			return &c, nil
		},
		Values: func(c *Cohort) []interface{} {
			return base.Args([]interface{}{c.Name, c.Description}, c.Data.Values())
		},
		ID: func(c *Cohort) *uuid.UUID { return &c.ID },
	}}
}

// GetByName prefers a non-voided cohort.
func (r *cohortRepoPG) GetByName(ctx context.Context, name string) (*Cohort, error) {
	var w db.Where
	w.Add("lower(name) = lower(?)", name)
	list, err := r.Select(ctx, &w, `ORDER BY voided, date_created LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apierr.NotFound("cohort", name)
	}
	return list[0], nil
}

func (r *cohortRepoPG) List(ctx context.Context, includeVoided bool) ([]*Cohort, error) {
	var w db.Where
	if !includeVoided {
		w.Add("NOT voided")
	}
	return r.Select(ctx, &w, `ORDER BY name`)
}

func (r *cohortRepoPG) Find(ctx context.Context, fragment string) ([]*Cohort, error) {
	var w db.Where
	w.Add("name ILIKE ?", "%"+fragment+"%")
	w.Add("NOT voided")
	return r.Select(ctx, &w, `ORDER BY name`)
}

type membershipRepoPG struct {
	db.Table[CohortMembership]
}

func NewMembershipRepoPG(pool *pgxpool.Pool) MembershipRepository {
	return &membershipRepoPG{db.Table[CohortMembership]{
		Pool:    pool,
		Name:    "cohort_member",
		Entity:  "cohortMembership",
		Columns: membershipCols,
		Scan: func(row db.Scanner) (*CohortMembership, error) {
			var m CohortMembership
			if err := row.Scan(append([]interface{}{&m.ID, &m.CohortID, &m.PatientID, &m.StartDate, &m.EndDate}, m.Data.Fields()...)...); err != nil {
				return nil, err
			}
			return &m, nil
		},
		Values: func(m *CohortMembership) []interface{} {
			return base.Args([]interface{}{m.CohortID, m.PatientID, m.StartDate, m.EndDate}, m.Data.Values())
		},
		ID: func(m *CohortMembership) *uuid.UUID { return &m.ID },
	}}
}

func (r *membershipRepoPG) Search(ctx context.Context, c MembershipCriteria) ([]*CohortMembership, error) {
	var w db.Where
	if c.CohortID != nil {
		w.Add("cohort_id = ?", *c.CohortID)
	}
	if c.PatientID != nil {
		w.Add("patient_id = ?", *c.PatientID)
	}
	if c.ActiveOn != nil {
		w.Add("start_date <= ?", *c.ActiveOn)
		w.Add("(end_date IS NULL OR end_date > ?)", *c.ActiveOn)
	}
	if !c.IncludeVoided {
		w.Add("NOT voided")
	}
	return r.Select(ctx, &w, `ORDER BY start_date, id`)
}

func (r *membershipRepoPG) VoidByCohort(ctx context.Context, cohortID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE cohort_member SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE cohort_id = $1 AND NOT voided`, cohortID, user, at, reason)
}

func (r *membershipRepoPG) UnvoidByCohort(ctx context.Context, cohortID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE cohort_member SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE cohort_id = $1 AND voided AND date_voided = $2`, cohortID, voidedAt)
}

func (r *membershipRepoPG) VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE cohort_member SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE patient_id = $1 AND NOT voided`, patientID, user, at, reason)
}

func (r *membershipRepoPG) UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE cohort_member SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE patient_id = $1 AND voided AND date_voided = $2`, patientID, voidedAt)
}

func (r *membershipRepoPG) ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error {
	return r.Exec(ctx, `UPDATE cohort_member SET patient_id = $1 WHERE patient_id = $2`, winner, loser)
}
