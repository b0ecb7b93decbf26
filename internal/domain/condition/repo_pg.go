package condition

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
)

const conditionCols = `patient_id, encounter_id, condition_coded, condition_coded_name, condition_non_coded, clinical_status,
	verification_status, onset_date, end_date, end_reason, additional_detail, form_namespace_and_path, previous_version_id, ` + base.DataColumns

type repoPG struct {
	db.Table[Condition]
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{db.Table[Condition]{
		Pool:    pool,
		Name:    "conditions",
		Entity:  "condition",
		Columns: conditionCols,
		Scan: func(row db.Scanner) (*Condition, error) {
			var c Condition
			dest := base.Args([]interface{}{&c.ID, &c.PatientID, &c.EncounterID}, c.Condition.Fields(),
				[]interface{}{&c.ClinicalStatus, &c.VerificationStatus, &c.OnsetDate, &c.EndDate, &c.EndReason,
					&c.AdditionalDetail, &c.FormNamespaceAndPath, &c.PreviousVersionID}, c.Data.Fields())
			if err := row.Scan(dest...); err != nil {
				return nil, err
			}
			return &c, nil
		},
		Values: func(c *Condition) []interface{} {
			return base.Args([]interface{}{c.PatientID, c.EncounterID}, c.Condition.Values(),
				[]interface{}{c.ClinicalStatus, c.VerificationStatus, c.OnsetDate, c.EndDate, c.EndReason,
					c.AdditionalDetail, c.FormNamespaceAndPath, c.PreviousVersionID}, c.Data.Values())
		},
		ID: func(c *Condition) *uuid.UUID { return &c.ID },
	}}
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, includeVoided bool) ([]*Condition, error) {
	var w db.Where
	w.Add("patient_id = ?", patientID)
	if !includeVoided {
		w.Add("NOT voided")
	}
	return r.Select(ctx, &w, `ORDER BY date_created DESC, id`)
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Condition, error) {
	var w db.Where
	w.Add("encounter_id = ?", encounterID)
	w.Add("NOT voided")
	return r.Select(ctx, &w, `ORDER BY date_created DESC, id`)
}

func (r *repoPG) VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE conditions SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE patient_id = $1 AND NOT voided`, patientID, user, at, reason)
}

func (r *repoPG) UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE conditions SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE patient_id = $1 AND voided AND date_voided = $2`, patientID, voidedAt)
}

func (r *repoPG) ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error {
	return r.Exec(ctx, `UPDATE conditions SET patient_id = $1 WHERE patient_id = $2`, winner, loser)
}
