package location

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/pkg/pagination"
)

const locationCols = `address1, address2, city_village, state_province, postal_code, country,
	latitude, longitude, parent_location_id, ` + base.MetadataColumns

type locationRepoPG struct {
	db.Retirable[Location]
}

func NewLocationRepoPG(pool *pgxpool.Pool) LocationRepository {
	return &locationRepoPG{db.Retirable[Location]{Table: db.Table[Location]{
		Pool:    pool,
		Name:    "location",
		Entity:  "location",
		Columns: locationCols,
		Scan: func(row db.Scanner) (*Location, error) {
			var l Location
			dest := []interface{}{&l.ID, &l.Address1, &l.Address2, &l.CityVillage, &l.StateProvince, &l.PostalCode,
				&l.Country, &l.Latitude, &l.Longitude, &l.ParentLocationID}
			if err := row.Scan(append(dest, l.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &l, nil
		},
		Values: func(l *Location) []interface{} {
			return base.Args([]interface{}{l.Address1, l.Address2, l.CityVillage, l.StateProvince, l.PostalCode,
				l.Country, l.Latitude, l.Longitude, l.ParentLocationID}, l.Metadata.Values())
		},
		ID: func(l *Location) *uuid.UUID { return &l.ID },
	}}}
}

func (r *locationRepoPG) Create(ctx context.Context, l *Location) error {
	if err := r.Retirable.Create(ctx, l); err != nil {
		return err
	}
	return r.saveTags(ctx, l)
}

func (r *locationRepoPG) Update(ctx context.Context, l *Location) error {
	if err := r.Retirable.Update(ctx, l); err != nil {
		return err
	}
	return r.saveTags(ctx, l)
}

func (r *locationRepoPG) saveTags(ctx context.Context, l *Location) error {
	if err := r.Exec(ctx, `DELETE FROM location_tag_map WHERE location_id = $1`, l.ID); err != nil {
		return err
	}
	if len(l.Tags) == 0 {
		return nil
	}
	err := r.Exec(ctx, `INSERT INTO location_tag_map (location_id, location_tag_id) SELECT $1, unnest($2::uuid[])`, l.ID, l.Tags)
	return db.MapError(err, "locationTag", l.Tags)
}

func (r *locationRepoPG) withTags(ctx context.Context, locations []*Location) ([]*Location, error) {
	if len(locations) == 0 {
		return locations, nil
	}
	ids := make([]uuid.UUID, len(locations))
	byID := make(map[uuid.UUID]*Location, len(locations))
	for i, l := range locations {
		ids[i], byID[l.ID] = l.ID, l
		l.Tags = []uuid.UUID{}
	}
	rows, err := db.Conn(ctx, r.Pool).Query(ctx,
		`SELECT location_id, location_tag_id FROM location_tag_map WHERE location_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var locID, tagID uuid.UUID
		if err := rows.Scan(&locID, &tagID); err != nil {
			return nil, err
		}
		byID[locID].Tags = append(byID[locID].Tags, tagID)
	}
	return locations, rows.Err()
}

func (r *locationRepoPG) one(ctx context.Context, l *Location, err error) (*Location, error) {
	if err != nil {
		return nil, err
	}
	if _, err := r.withTags(ctx, []*Location{l}); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *locationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	l, err := r.Retirable.GetByID(ctx, id)
	return r.one(ctx, l, err)
}

func (r *locationRepoPG) GetByName(ctx context.Context, name string) (*Location, error) {
	l, err := r.Retirable.GetByName(ctx, name)
	return r.one(ctx, l, err)
}

func (r *locationRepoPG) List(ctx context.Context, includeRetired bool) ([]*Location, error) {
	locations, err := r.Retirable.List(ctx, includeRetired)
	if err != nil {
		return nil, err
	}
	return r.withTags(ctx, locations)
}

func (r *locationRepoPG) Search(ctx context.Context, q Query, page pagination.Params) ([]*Location, int, error) {
	var w db.Where
	if !q.IncludeRetired {
		w.Add("NOT retired")
	}
	if q.Text != "" {
		w.Add("name ILIKE ?", "%"+q.Text+"%")
	}
	total, err := r.Count(ctx, &w)
	if err != nil {
		return nil, 0, err
	}
	locations, err := r.Select(ctx, &w, `ORDER BY name, id `+page.SQL())
	if err != nil {
		return nil, 0, err
	}
	locations, err = r.withTags(ctx, locations)
	return locations, total, err
}

func (r *locationRepoPG) ListChildren(ctx context.Context, parentID uuid.UUID, includeRetired bool) ([]*Location, error) {
	var w db.Where
	w.Add("parent_location_id = ?", parentID)
	if !includeRetired {
		w.Add("NOT retired")
	}
	locations, err := r.Select(ctx, &w, `ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return r.withTags(ctx, locations)
}

func (r *locationRepoPG) ListByTags(ctx context.Context, tagIDs []uuid.UUID, all bool) ([]*Location, error) {
	var w db.Where
	w.Add("NOT retired")
	if all {
		w.Add(`(SELECT count(DISTINCT m.location_tag_id) FROM location_tag_map m
			WHERE m.location_id = location.id AND m.location_tag_id = ANY(?)) = ?`, tagIDs, len(tagIDs))
	} else {
		w.Add(`EXISTS (SELECT 1 FROM location_tag_map m WHERE m.location_id = location.id AND m.location_tag_id = ANY(?))`, tagIDs)
	}
	locations, err := r.Select(ctx, &w, `ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return r.withTags(ctx, locations)
}

type tagRepoPG struct {
	db.Retirable[LocationTag]
}

func NewTagRepoPG(pool *pgxpool.Pool) TagRepository {
	return &tagRepoPG{db.Retirable[LocationTag]{Table: db.Table[LocationTag]{
		Pool:    pool,
		Name:    "location_tag",
		Entity:  "locationTag",
		Columns: base.MetadataColumns,
		Scan: func(row db.Scanner) (*LocationTag, error) {
			var t LocationTag
			if err := row.Scan(append([]interface{}{&t.ID}, t.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &t, nil
		},
		Values: func(t *LocationTag) []interface{} { return t.Metadata.Values() },
		ID:     func(t *LocationTag) *uuid.UUID { return &t.ID },
	}}}
}
