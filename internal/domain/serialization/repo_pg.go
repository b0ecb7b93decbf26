package serialization

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const soCols = `type, subtype, serializer, serialized_data, ` + base.MetadataColumns

func scanSO(row db.Scanner) (*SerializedObject, error) {
	var o SerializedObject
	dest := append([]interface{}{&o.ID, &o.Type, &o.Subtype, &o.Serializer, &o.SerializedData}, o.Metadata.Fields()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repoPG) Create(ctx context.Context, o *SerializedObject) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	args := base.Args([]interface{}{o.ID, o.Type, o.Subtype, o.Serializer, o.SerializedData}, o.Metadata.Values())
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO serialized_object (id, `+soCols+`) VALUES (`+db.Placeholders(1, len(args))+`)`, args...)
	return db.MapError(err, "serializedObject", o.ID)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*SerializedObject, error) {
	o, err := scanSO(r.conn(ctx).QueryRow(ctx, `SELECT id, `+soCols+` FROM serialized_object WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "serializedObject", id)
	}
	return o, nil
}

func (r *repoPG) Update(ctx context.Context, o *SerializedObject) error {
	args := base.Args([]interface{}{o.Type, o.Subtype, o.Serializer, o.SerializedData}, o.Metadata.Values(), []interface{}{o.ID})
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE serialized_object SET `+db.Assignments(soCols, 1)+` WHERE id = `+db.Placeholders(len(args), 1), args...)
	return db.ExpectRow(tag, err, "serializedObject", o.ID)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM serialized_object WHERE id = $1`, id)
	return db.ExpectRow(tag, err, "serializedObject", id)
}

func (r *repoPG) ListByType(ctx context.Context, typ string, includeRetired bool) ([]*SerializedObject, error) {
	var w db.Where
	w.Add("type = ?", typ)
	if !includeRetired {
		w.Add("NOT retired")
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, `+soCols+` FROM serialized_object`+w.SQL()+` ORDER BY name`, w.Args()...)
	if err != nil {
		return nil, err
	}
	return db.Collect(rows, scanSO)
}
