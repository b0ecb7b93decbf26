package diagnosis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
)

const diagnosisCols = `encounter_id, patient_id, condition_id, diagnosis_coded, diagnosis_coded_name, diagnosis_non_coded,
	certainty, dx_rank, form_namespace_and_path, ` + base.DataColumns

type repoPG struct {
	db.Table[Diagnosis]
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{db.Table[Diagnosis]{
		Pool:    pool,
		Name:    "encounter_diagnosis",
		Entity:  "diagnosis",
		Columns: diagnosisCols,
		Scan: func(row db.Scanner) (*Diagnosis, error) {
			var d Diagnosis
			dest := base.Args([]interface{}{&d.ID, &d.EncounterID, &d.PatientID, &d.ConditionID}, d.Diagnosis.Fields(),
				[]interface{}{&d.Certainty, &d.Rank, &d.FormNamespaceAndPath}, d.Data.Fields())
			if err := row.Scan(dest...); err != nil {
				return nil, err
			}
			return &d, nil
		},
		Values: func(d *Diagnosis) []interface{} {
			return base.Args([]interface{}{d.EncounterID, d.PatientID, d.ConditionID}, d.Diagnosis.Values(),
				[]interface{}{d.Certainty, d.Rank, d.FormNamespaceAndPath}, d.Data.Values())
		},
		ID: func(d *Diagnosis) *uuid.UUID { return &d.ID },
	}}
}

func (r *repoPG) Search(ctx context.Context, c Criteria) ([]*Diagnosis, error) {
	var w db.Where
	if len(c.EncounterIDs) > 0 {
		w.Add("encounter_id = ANY(?)", c.EncounterIDs)
	}
	if c.PatientID != nil {
		w.Add("patient_id = ?", *c.PatientID)
	}
	if c.FromDate != nil {
		w.Add("date_created >= ?", *c.FromDate)
	}
	if c.PrimaryOnly {
		w.Add("dx_rank = ?", RankPrimary)
	}
	if c.ConfirmedOnly {
		w.Add("certainty = ?", CertaintyConfirmed)
	}
	if !c.IncludeVoided {
		w.Add("NOT voided")
	}
	return r.Select(ctx, &w, `ORDER BY dx_rank, date_created DESC, id`)
}

func (r *repoPG) DeleteByEncounter(ctx context.Context, encounterID uuid.UUID) error {
	return r.Exec(ctx, `DELETE FROM encounter_diagnosis WHERE encounter_id = $1`, encounterID)
}

func (r *repoPG) VoidByEncounter(ctx context.Context, encounterID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE encounter_diagnosis SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE encounter_id = $1 AND NOT voided`, encounterID, user, at, reason)
}

func (r *repoPG) UnvoidByEncounter(ctx context.Context, encounterID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE encounter_diagnosis SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE encounter_id = $1 AND voided AND date_voided = $2`, encounterID, voidedAt)
}

func (r *repoPG) VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE encounter_diagnosis SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE patient_id = $1 AND NOT voided`, patientID, user, at, reason)
}

func (r *repoPG) UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE encounter_diagnosis SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE patient_id = $1 AND voided AND date_voided = $2`, patientID, voidedAt)
}

func (r *repoPG) ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error {
	return r.Exec(ctx, `UPDATE encounter_diagnosis SET patient_id = $1 WHERE patient_id = $2`, winner, loser)
}
