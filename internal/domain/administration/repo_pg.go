package administration

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/platform/apierr"
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

const gpCols = `property, property_value, description, datatype, date_changed, changed_by`

func scanGP(row db.Scanner) (*GlobalProperty, error) {
	var gp GlobalProperty
	if err := row.Scan(&gp.Property, &gp.PropertyValue, &gp.Description, &gp.Datatype, &gp.DateChanged, &gp.ChangedBy); err != nil {
		return nil, err
	}
	return &gp, nil
}

func (r *repoPG) Get(ctx context.Context, name string) (*GlobalProperty, error) {
	gp, err := scanGP(r.conn(ctx).QueryRow(ctx, `SELECT `+gpCols+` FROM global_property WHERE property = $1`, name))
	if err != nil {
		return nil, db.MapError(err, "globalProperty", name)
	}
	return gp, nil
}

func (r *repoPG) List(ctx context.Context, prefix string) ([]*GlobalProperty, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+gpCols+` FROM global_property WHERE property LIKE $1 || '%' ORDER BY property`, prefix)
	if err != nil {
		return nil, err
	}
	return db.Collect(rows, scanGP)
}

func (r *repoPG) Upsert(ctx context.Context, gp *GlobalProperty) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO global_property (property, property_value, description, datatype, date_changed, changed_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (property) DO UPDATE SET
			property_value = EXCLUDED.property_value,
			description = COALESCE(EXCLUDED.description, global_property.description),
			datatype = EXCLUDED.datatype,
			date_changed = EXCLUDED.date_changed,
			changed_by = EXCLUDED.changed_by`,
		gp.Property, gp.PropertyValue, gp.Description, gp.Datatype, gp.DateChanged, gp.ChangedBy)
	return err
}

func (r *repoPG) Delete(ctx context.Context, name string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM global_property WHERE property = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apierr.NotFound("globalProperty", name)
	}
	return nil
}
