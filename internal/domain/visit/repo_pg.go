package visit

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
	visitCols     = `patient_id, visit_type_id, date_started, date_stopped, location_id, indication, ` + base.DataColumns
	attributeCols = `visit_id, ` + base.AttributeColumns
)

type visitRepoPG struct {
	db.Table[Visit]
}

func NewVisitRepoPG(pool *pgxpool.Pool) VisitRepository {
	return &visitRepoPG{db.Table[Visit]{
		Pool:    pool,
		Name:    "visit",
		Entity:  "visit",
		Columns: visitCols,
		Scan: func(row db.Scanner) (*Visit, error) {
			var v Visit
			dest := []interface{}{&v.ID, &v.PatientID, &v.VisitTypeID, &v.StartDatetime, &v.StopDatetime, &v.LocationID, &v.Indication}
			if err := row.Scan(append(dest, v.Data.Fields()...)...); err != nil {
				return nil, err
			}
			return &v, nil
		},
		Values: func(v *Visit) []interface{} {
			return base.Args([]interface{}{v.PatientID, v.VisitTypeID, v.StartDatetime, v.StopDatetime, v.LocationID, v.Indication}, v.Data.Values())
		},
		ID: func(v *Visit) *uuid.UUID { return &v.ID },
	}}
}

func (r *visitRepoPG) Create(ctx context.Context, v *Visit) error {
	if err := r.Table.Create(ctx, v); err != nil {
		return err
	}
	return r.saveAttributes(ctx, v)
}

func (r *visitRepoPG) Update(ctx context.Context, v *Visit) error {
	if err := r.Table.Update(ctx, v); err != nil {
		return err
	}
	return r.saveAttributes(ctx, v)
}

func (r *visitRepoPG) saveAttributes(ctx context.Context, v *Visit) error {
	sql := `INSERT INTO visit_attribute (id, ` + attributeCols + `) VALUES (` + db.Placeholders(1, db.ColumnCount(attributeCols)+1) +
		`) ON CONFLICT (id) DO UPDATE SET ` + db.Excluded(attributeCols)
	for _, a := range v.Attributes {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.OwnerID = v.ID
		if err := r.Exec(ctx, sql, base.Args([]interface{}{a.ID, a.OwnerID, a.AttributeTypeID, a.Value}, a.Data.Values())...); err != nil {
			return db.MapError(err, "visitAttribute", a.ID)
		}
	}
	return nil
}

func (r *visitRepoPG) withAttributes(ctx context.Context, visits []*Visit) ([]*Visit, error) {
	if len(visits) == 0 {
		return visits, nil
	}
	ids := make([]uuid.UUID, len(visits))
	byID := make(map[uuid.UUID]*Visit, len(visits))
	for i, v := range visits {
		ids[i], byID[v.ID] = v.ID, v
		v.Attributes = []*base.Attribute{}
	}
	rows, err := db.Conn(ctx, r.Pool).Query(ctx,
		`SELECT id, `+attributeCols+` FROM visit_attribute WHERE visit_id = ANY($1) ORDER BY date_created`, ids)
	if err != nil {
		return nil, err
	}
	attrs, err := db.Collect(rows, func(row db.Scanner) (*base.Attribute, error) {
		var a base.Attribute
		if err := row.Scan(append([]interface{}{&a.ID, &a.OwnerID, &a.AttributeTypeID, &a.Value}, a.Data.Fields()...)...); err != nil {
			return nil, err
		}
		return &a, nil
	})
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		byID[a.OwnerID].Attributes = append(byID[a.OwnerID].Attributes, a)
	}
	return visits, nil
}

func (r *visitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := r.Table.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.withAttributes(ctx, []*Visit{v}); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *visitRepoPG) Search(ctx context.Context, c Criteria, page pagination.Params) ([]*Visit, int, error) {
	var w db.Where
	if len(c.PatientIDs) > 0 {
		w.Add("patient_id = ANY(?)", c.PatientIDs)
	}
	if len(c.VisitTypeIDs) > 0 {
		w.Add("visit_type_id = ANY(?)", c.VisitTypeIDs)
	}
	if len(c.LocationIDs) > 0 {
		w.Add("location_id = ANY(?)", c.LocationIDs)
	}
	if c.MinStart != nil {
		w.Add("date_started >= ?", *c.MinStart)
	}
	if c.MaxStart != nil {
		w.Add("date_started <= ?", *c.MaxStart)
	}
	if c.MinEnd != nil {
		w.Add("(date_stopped IS NULL OR date_stopped >= ?)", *c.MinEnd)
	}
	if c.MaxEnd != nil {
		w.Add("date_stopped <= ?", *c.MaxEnd)
	}
	if !c.IncludeInactive {
		w.Add("(date_stopped IS NULL OR date_stopped > now())")
	}
	if !c.IncludeVoided {
		w.Add("NOT voided")
	}
	total, err := r.Count(ctx, &w)
	if err != nil {
		return nil, 0, err
	}
	visits, err := r.Select(ctx, &w, `ORDER BY date_started DESC, id `+page.SQL())
	if err != nil {
		return nil, 0, err
	}
	visits, err = r.withAttributes(ctx, visits)
	return visits, total, err
}

func (r *visitRepoPG) VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE visit SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE patient_id = $1 AND NOT voided`, patientID, user, at, reason)
}

func (r *visitRepoPG) UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE visit SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE patient_id = $1 AND voided AND date_voided = $2`, patientID, voidedAt)
}

func (r *visitRepoPG) ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error {
	return r.Exec(ctx, `UPDATE visit SET patient_id = $1 WHERE patient_id = $2`, winner, loser)
}

type visitTypeRepoPG struct {
	db.Retirable[VisitType]
}

func NewVisitTypeRepoPG(pool *pgxpool.Pool) VisitTypeRepository {
	return &visitTypeRepoPG{db.Retirable[VisitType]{Table: db.Table[VisitType]{
		Pool:    pool,
		Name:    "visit_type",
		Entity:  "visitType",
		Columns: base.MetadataColumns,
		Scan: func(row db.Scanner) (*VisitType, error) {
			var t VisitType
			if err := row.Scan(append([]interface{}{&t.ID}, t.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &t, nil
		},
		Values: func(t *VisitType) []interface{} { return t.Metadata.Values() },
		ID:     func(t *VisitType) *uuid.UUID { return &t.ID },
	}}}
}

type attrTypeRepoPG struct {
	db.Retirable[base.AttributeType]
}

func NewAttributeTypeRepoPG(pool *pgxpool.Pool) AttributeTypeRepository {
	return &attrTypeRepoPG{db.Retirable[base.AttributeType]{Table: db.Table[base.AttributeType]{
		Pool:    pool,
		Name:    "visit_attribute_type",
		Entity:  "visitAttributeType",
		Columns: base.AttributeTypeColumns,
		Scan: func(row db.Scanner) (*base.AttributeType, error) {
			var t base.AttributeType
			if err := row.Scan(t.Fields()...); err != nil {
				return nil, err
			}
			return &t, nil
		},
		Values: func(t *base.AttributeType) []interface{} { return t.Values() },
		ID:     func(t *base.AttributeType) *uuid.UUID { return &t.ID },
	}}}
}
