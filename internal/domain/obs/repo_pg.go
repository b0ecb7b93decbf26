package obs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/pkg/pagination"
)

const obsCols = `person_id, encounter_id, order_id, concept, obs_datetime, location_id, obs_group_id,
	accession_number, value_coded, value_numeric, value_text, value_datetime, value_complex, comments,
	status, interpretation, previous_version_id, form_namespace_and_path, ` + base.DataColumns

type obsRepoPG struct {
	db.Table[Obs]
}

func NewObsRepoPG(pool *pgxpool.Pool) ObsRepository {
	return &obsRepoPG{db.Table[Obs]{
		Pool:    pool,
		Name:    "obs",
		Entity:  "obs",
		Columns: obsCols,
		Scan: func(row db.Scanner) (*Obs, error) {
			var o Obs
			dest := []interface{}{&o.ID, &o.PersonID, &o.EncounterID, &o.OrderID, &o.Concept, &o.ObsDatetime, &o.LocationID, &o.ObsGroupID,
				&o.AccessionNumber, &o.ValueCoded, &o.ValueNumeric, &o.ValueText, &o.ValueDatetime, &o.ValueComplex, &o.Comment,
				&o.Status, &o.Interpretation, &o.PreviousVersionID, &o.FormNamespaceAndPath}
			if err := row.Scan(append(dest, o.Data.Fields()...)...); err != nil {
				return nil, err
			}
			return &o, nil
		},
		Values: func(o *Obs) []interface{} {
			return base.Args([]interface{}{o.PersonID, o.EncounterID, o.OrderID, o.Concept, o.ObsDatetime, o.LocationID, o.ObsGroupID,
				o.AccessionNumber, o.ValueCoded, o.ValueNumeric, o.ValueText, o.ValueDatetime, o.ValueComplex, o.Comment,
				o.Status, o.Interpretation, o.PreviousVersionID, o.FormNamespaceAndPath}, o.Data.Values())
		},
		ID: func(o *Obs) *uuid.UUID { return &o.ID },
	}}
}

func where(c Criteria) *db.Where {
	var w db.Where
	if len(c.PersonIDs) > 0 {
		w.Add("person_id = ANY(?)", c.PersonIDs)
	}
	if len(c.EncounterIDs) > 0 {
		w.Add("encounter_id = ANY(?)", c.EncounterIDs)
	}
	if len(c.OrderIDs) > 0 {
		w.Add("order_id = ANY(?)", c.OrderIDs)
	}
	if len(c.Concepts) > 0 {
		w.Add("concept = ANY(?)", c.Concepts)
	}
	if c.AccessionNumber != "" {
		w.Add("accession_number = ?", c.AccessionNumber)
	}
	if c.GroupID != nil {
		w.Add("obs_group_id = ?", *c.GroupID)
	}
	if c.FromDate != nil {
		w.Add("obs_datetime >= ?", *c.FromDate)
	}
	if c.ToDate != nil {
		w.Add("obs_datetime <= ?", *c.ToDate)
	}
	if !c.IncludeVoided {
		w.Add("NOT voided")
	}
	return &w
}

func (r *obsRepoPG) Search(ctx context.Context, c Criteria, page pagination.Params) ([]*Obs, int, error) {
	w := where(c)
	total, err := r.Table.Count(ctx, w)
	if err != nil {
		return nil, 0, err
	}
	list, err := r.Select(ctx, w, `ORDER BY obs_datetime DESC, date_created DESC `+page.SQL())
	return list, total, err
}

func (r *obsRepoPG) Count(ctx context.Context, c Criteria) (int, error) {
	return r.Table.Count(ctx, where(c))
}

func (r *obsRepoPG) GetRevision(ctx context.Context, id uuid.UUID) (*Obs, error) {
	return r.GetBy(ctx, "previous_version_id", id)
}

func (r *obsRepoPG) VoidByEncounter(ctx context.Context, encounterID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE obs SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE encounter_id = $1 AND NOT voided`, encounterID, user, at, reason)
}

func (r *obsRepoPG) UnvoidByEncounter(ctx context.Context, encounterID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE obs SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE encounter_id = $1 AND voided AND date_voided = $2`, encounterID, voidedAt)
}

func (r *obsRepoPG) DeleteByEncounter(ctx context.Context, encounterID uuid.UUID) error {
	return r.Exec(ctx, `DELETE FROM obs WHERE encounter_id = $1`, encounterID)
}

func (r *obsRepoPG) VoidByPerson(ctx context.Context, personID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE obs SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE person_id = $1 AND NOT voided`, personID, user, at, reason)
}

func (r *obsRepoPG) UnvoidByPerson(ctx context.Context, personID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE obs SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE person_id = $1 AND voided AND date_voided = $2`, personID, voidedAt)
}

func (r *obsRepoPG) ReassignPerson(ctx context.Context, winner, loser uuid.UUID) error {
	return r.Exec(ctx, `UPDATE obs SET person_id = $1 WHERE person_id = $2`, winner, loser)
}
