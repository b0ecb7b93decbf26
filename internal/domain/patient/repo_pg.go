package patient

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/person"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/pkg/pagination"
)

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const identifierCols = `patient_id, identifier, identifier_type_id, location_id, preferred, ` + base.DataColumns

func scanIdentifier(row db.Scanner) (*PatientIdentifier, error) {
	var i PatientIdentifier
	dest := append([]interface{}{&i.ID, &i.PatientID, &i.Identifier, &i.IdentifierTypeID, &i.LocationID, &i.Preferred}, i.Data.Fields()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	args := append([]interface{}{p.ID}, p.Data.Values()...)
	if _, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO patient (id, `+base.DataColumns+`) VALUES (`+db.Placeholders(1, len(args))+`)`, args...); err != nil {
		return db.MapError(err, "patient", p.ID)
	}
	return r.saveIdentifiers(ctx, p)
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	args := append(p.Data.Values(), p.ID)
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patient SET `+db.Assignments(base.DataColumns, 1)+` WHERE id = `+db.Placeholders(len(args), 1), args...)
	if err := db.ExpectRow(tag, err, "patient", p.ID); err != nil {
		return err
	}
	return r.saveIdentifiers(ctx, p)
}

func (r *patientRepoPG) saveIdentifiers(ctx context.Context, p *Patient) error {
	sql := `INSERT INTO patient_identifier (id, ` + identifierCols + `) VALUES (` + db.Placeholders(1, db.ColumnCount(identifierCols)+1) +
		`) ON CONFLICT (id) DO UPDATE SET ` + db.Excluded(identifierCols)
	for _, i := range p.Identifiers {
		if i.ID == uuid.Nil {
			i.ID = uuid.New()
		}
		i.PatientID = p.ID
		args := base.Args([]interface{}{i.ID, i.PatientID, i.Identifier, i.IdentifierTypeID, i.LocationID, i.Preferred}, i.Data.Values())
		if _, err := r.conn(ctx).Exec(ctx, sql, args...); err != nil {
			return db.MapError(err, "patientIdentifier", i.ID)
		}
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p := &Patient{}
	p.ID = id
	if err := r.conn(ctx).QueryRow(ctx, `SELECT `+base.DataColumns+` FROM patient WHERE id = $1`, id).Scan(p.Data.Fields()...); err != nil {
		return nil, db.MapError(err, "patient", id)
	}
	ids, err := r.FindIdentifiers(ctx, IdentifierQuery{PatientIDs: []uuid.UUID{id}, IncludeVoided: true})
	if err != nil {
		return nil, err
	}
	p.Identifiers = ids
	if p.Identifiers == nil {
		p.Identifiers = []*PatientIdentifier{}
	}
	return p, nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	return db.ExpectRow(tag, err, "patient", id)
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func (r *patientRepoPG) where(q Query) *db.Where {
	var w db.Where
	if !q.IncludeVoided {
		w.Add("NOT pt.voided")
	}
	switch text := strings.TrimSpace(q.Text); {
	case text == "":
	case hasDigit(text):
		w.Add(`EXISTS (SELECT 1 FROM patient_identifier i WHERE i.patient_id = pt.id AND NOT i.voided AND i.identifier ILIKE ?)`, text+"%")
	default:
		person.AddNameTokens(&w, text)
	}
	return &w
}

func (r *patientRepoPG) Search(ctx context.Context, q Query, page pagination.Params) ([]uuid.UUID, int, error) {
	w := r.where(q)
	from := ` FROM patient pt JOIN person p ON p.id = pt.id`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*)`+from+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT pt.id`+from+w.SQL()+` ORDER BY pt.date_created, pt.id `+page.SQL(), w.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	return ids, total, rows.Err()
}

func (r *patientRepoPG) FindIdentifiers(ctx context.Context, q IdentifierQuery) ([]*PatientIdentifier, error) {
	var w db.Where
	if !q.IncludeVoided {
		w.Add("NOT voided")
	}
	if q.Identifier != "" {
		if q.Exact {
			w.Add("identifier = ?", q.Identifier)
		} else {
			w.Add("identifier ILIKE ?", "%"+q.Identifier+"%")
		}
	}
	if len(q.TypeIDs) > 0 {
		w.Add("identifier_type_id = ANY(?)", q.TypeIDs)
	}
	if len(q.LocationIDs) > 0 {
		w.Add("location_id = ANY(?)", q.LocationIDs)
	}
	if len(q.PatientIDs) > 0 {
		w.Add("patient_id = ANY(?)", q.PatientIDs)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, `+identifierCols+` FROM patient_identifier`+w.SQL()+` ORDER BY preferred DESC, date_created`, w.Args()...)
	if err != nil {
		return nil, err
	}
	return db.Collect(rows, scanIdentifier)
}

func (r *patientRepoPG) VoidIdentifiers(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE patient_identifier SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE patient_id = $1 AND NOT voided`, patientID, user, at, reason)
	return err
}

func (r *patientRepoPG) UnvoidIdentifiers(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE patient_identifier SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE patient_id = $1 AND voided AND date_voided = $2`, patientID, voidedAt)
	return err
}

type identifierTypeRepoPG struct {
	db.Retirable[PatientIdentifierType]
}

func NewIdentifierTypeRepoPG(pool *pgxpool.Pool) IdentifierTypeRepository {
	return &identifierTypeRepoPG{db.Retirable[PatientIdentifierType]{Table: db.Table[PatientIdentifierType]{
		Pool:    pool,
		Name:    "patient_identifier_type",
		Entity:  "patientIdentifierType",
		Columns: `format, format_description, required, validator, location_behavior, uniqueness_behavior, ` + base.MetadataColumns,
		Scan: func(row db.Scanner) (*PatientIdentifierType, error) {
			var t PatientIdentifierType
			dest := append([]interface{}{&t.ID, &t.Format, &t.FormatDescription, &t.Required, &t.Validator, &t.LocationBehavior, &t.UniquenessBehavior}, t.Metadata.Fields()...)
			if err := row.Scan(dest...); err != nil {
				return nil, err
			}
			return &t, nil
		},
		Values: func(t *PatientIdentifierType) []interface{} {
			return base.Args([]interface{}{t.Format, t.FormatDescription, t.Required, t.Validator, t.LocationBehavior, t.UniquenessBehavior}, t.Metadata.Values())
		},
		ID: func(t *PatientIdentifierType) *uuid.UUID { return &t.ID },
	}}}
}

type mergeLogRepoPG struct {
	db.Table[MergeLog]
}

func NewMergeLogRepoPG(pool *pgxpool.Pool) MergeLogRepository {
	return &mergeLogRepoPG{db.Table[MergeLog]{
		Pool:    pool,
		Name:    "patient_merge_log",
		Entity:  "patientMergeLog",
		Columns: `winner_id, loser_id, serializer, serialized_merged_data, ` + base.DataColumns,
		Scan: func(row db.Scanner) (*MergeLog, error) {
			var l MergeLog
			if err := row.Scan(append([]interface{}{&l.ID, &l.WinnerID, &l.LoserID, &l.Serializer, &l.SerializedMergedData}, l.Data.Fields()...)...); err != nil {
				return nil, err
			}
			return &l, nil
		},
		Values: func(l *MergeLog) []interface{} {
			return base.Args([]interface{}{l.WinnerID, l.LoserID, l.Serializer, l.SerializedMergedData}, l.Data.Values())
		},
		ID: func(l *MergeLog) *uuid.UUID { return &l.ID },
	}}
}

func (r *mergeLogRepoPG) ListByWinner(ctx context.Context, winner uuid.UUID) ([]*MergeLog, error) {
	var w db.Where
	w.Add("winner_id = ?", winner)
	return r.Select(ctx, &w, `ORDER BY date_created`)
}
