package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/pkg/pagination"
)

const (
	encounterCols = `patient_id, encounter_type_id, encounter_datetime, location_id, form_id, visit_id, ` + base.DataColumns
	providerCols  = `encounter_id, provider_id, encounter_role_id, ` + base.DataColumns
	typeCols      = `view_privilege, edit_privilege, ` + base.MetadataColumns
)

type encounterRepoPG struct {
	db.Table[Encounter]
}

func NewEncounterRepoPG(pool *pgxpool.Pool) EncounterRepository {
	return &encounterRepoPG{db.Table[Encounter]{
		Pool:    pool,
		Name:    "encounter",
		Entity:  "encounter",
		Columns: encounterCols,
		Scan: func(row db.Scanner) (*Encounter, error) {
			var e Encounter
			dest := []interface{}{&e.ID, &e.PatientID, &e.EncounterTypeID, &e.EncounterDatetime, &e.LocationID, &e.FormID, &e.VisitID}
			if err := row.Scan(append(dest, e.Data.Fields()...)...); err != nil {
				return nil, err
			}
			return &e, nil
		},
		Values: func(e *Encounter) []interface{} {
			return base.Args([]interface{}{e.PatientID, e.EncounterTypeID, e.EncounterDatetime, e.LocationID, e.FormID, e.VisitID}, e.Data.Values())
		},
		ID: func(e *Encounter) *uuid.UUID { return &e.ID },
	}}
}

func (r *encounterRepoPG) Create(ctx context.Context, e *Encounter) error {
	if err := r.Table.Create(ctx, e); err != nil {
		return err
	}
	return r.saveProviders(ctx, e)
}

func (r *encounterRepoPG) Update(ctx context.Context, e *Encounter) error {
	if err := r.Table.Update(ctx, e); err != nil {
		return err
	}
	return r.saveProviders(ctx, e)
}

func (r *encounterRepoPG) saveProviders(ctx context.Context, e *Encounter) error {
	sql := `INSERT INTO encounter_provider (id, ` + providerCols + `) VALUES (` + db.Placeholders(1, db.ColumnCount(providerCols)+1) +
		`) ON CONFLICT (id) DO UPDATE SET ` + db.Excluded(providerCols)
	for _, p := range e.Providers {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.EncounterID = e.ID
		if err := r.Exec(ctx, sql, base.Args([]interface{}{p.ID, p.EncounterID, p.ProviderID, p.EncounterRoleID}, p.Data.Values())...); err != nil {
			return db.MapError(err, "encounterProvider", p.ID)
		}
	}
	return nil
}

func (r *encounterRepoPG) withProviders(ctx context.Context, encounters []*Encounter) ([]*Encounter, error) {
	if len(encounters) == 0 {
		return encounters, nil
	}
	ids := make([]uuid.UUID, len(encounters))
	byID := make(map[uuid.UUID]*Encounter, len(encounters))
	for i, e := range encounters {
		ids[i], byID[e.ID] = e.ID, e
		e.Providers = []*EncounterProvider{}
	}
	rows, err := db.Conn(ctx, r.Pool).Query(ctx,
		`SELECT id, `+providerCols+` FROM encounter_provider WHERE encounter_id = ANY($1) ORDER BY date_created`, ids)
	if err != nil {
		return nil, err
	}
	providers, err := db.Collect(rows, func(row db.Scanner) (*EncounterProvider, error) {
		var p EncounterProvider
		if err := row.Scan(append([]interface{}{&p.ID, &p.EncounterID, &p.ProviderID, &p.EncounterRoleID}, p.Data.Fields()...)...); err != nil {
			return nil, err
		}
		return &p, nil
	})
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		byID[p.EncounterID].Providers = append(byID[p.EncounterID].Providers, p)
	}
	return encounters, nil
}

func (r *encounterRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := r.Table.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.withProviders(ctx, []*Encounter{e}); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *encounterRepoPG) Search(ctx context.Context, c Criteria, page pagination.Params) ([]*Encounter, int, error) {
	var w db.Where
	if c.PatientID != nil {
		w.Add("patient_id = ?", *c.PatientID)
	}
	if len(c.VisitIDs) > 0 {
		w.Add("visit_id = ANY(?)", c.VisitIDs)
	}
	if len(c.EncounterTypeIDs) > 0 {
		w.Add("encounter_type_id = ANY(?)", c.EncounterTypeIDs)
	}
	if c.LocationID != nil {
		w.Add("location_id = ?", *c.LocationID)
	}
	if c.FromDate != nil {
		w.Add("encounter_datetime >= ?", *c.FromDate)
	}
	if c.ToDate != nil {
		w.Add("encounter_datetime <= ?", *c.ToDate)
	}
	if !c.IncludeVoided {
		w.Add("NOT voided")
	}
	total, err := r.Count(ctx, &w)
	if err != nil {
		return nil, 0, err
	}
	encounters, err := r.Select(ctx, &w, `ORDER BY encounter_datetime DESC, id `+page.SQL())
	if err != nil {
		return nil, 0, err
	}
	encounters, err = r.withProviders(ctx, encounters)
	return encounters, total, err
}

func (r *encounterRepoPG) VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE encounter SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE patient_id = $1 AND NOT voided`, patientID, user, at, reason)
}

func (r *encounterRepoPG) UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE encounter SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE patient_id = $1 AND voided AND date_voided = $2`, patientID, voidedAt)
}

func (r *encounterRepoPG) ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error {
	return r.Exec(ctx, `UPDATE encounter SET patient_id = $1 WHERE patient_id = $2`, winner, loser)
}

type typeRepoPG struct {
	db.Retirable[EncounterType]
}

func NewTypeRepoPG(pool *pgxpool.Pool) TypeRepository {
	return &typeRepoPG{db.Retirable[EncounterType]{Table: db.Table[EncounterType]{
		Pool:    pool,
		Name:    "encounter_type",
		Entity:  "encounterType",
		Columns: typeCols,
		Scan: func(row db.Scanner) (*EncounterType, error) {
			var t EncounterType
			if err := row.Scan(append([]interface{}{&t.ID, &t.ViewPrivilege, &t.EditPrivilege}, t.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &t, nil
		},
		Values: func(t *EncounterType) []interface{} {
			return base.Args([]interface{}{t.ViewPrivilege, t.EditPrivilege}, t.Metadata.Values())
		},
		ID: func(t *EncounterType) *uuid.UUID { return &t.ID },
	}}}
}

type roleRepoPG struct {
	db.Retirable[EncounterRole]
}

func NewRoleRepoPG(pool *pgxpool.Pool) RoleRepository {
	return &roleRepoPG{db.Retirable[EncounterRole]{Table: db.Table[EncounterRole]{
		Pool:    pool,
		Name:    "encounter_role",
		Entity:  "encounterRole",
		Columns: base.MetadataColumns,
		Scan: func(row db.Scanner) (*EncounterRole, error) {
			var r EncounterRole
			if err := row.Scan(append([]interface{}{&r.ID}, r.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &r, nil
		},
		Values: func(r *EncounterRole) []interface{} { return r.Metadata.Values() },
		ID:     func(r *EncounterRole) *uuid.UUID { return &r.ID },
	}}}
}
