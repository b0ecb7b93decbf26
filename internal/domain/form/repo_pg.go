package form

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
)

const (
	formCols      = `version, build, published, encounter_type_id, ` + base.MetadataColumns
	formFieldCols = `form_id, field_id, parent_form_field_id, field_number, field_part, page_number,
		min_occurs, max_occurs, required, sort_weight`
	fieldCols    = `field_type, concept, table_name, attribute_name, default_value, select_multiple, ` + base.MetadataColumns
	resourceCols = `form_id, name, datatype, value_reference, ` + base.DataColumns
)

type formRepoPG struct {
	db.Retirable[Form]
}

func NewFormRepoPG(pool *pgxpool.Pool) FormRepository {
	return &formRepoPG{db.Retirable[Form]{Table: db.Table[Form]{
		Pool:    pool,
		Name:    "form",
		Entity:  "form",
		Columns: formCols,
		Scan: func(row db.Scanner) (*Form, error) {
			var f Form
			if err := row.Scan(append([]interface{}{&f.ID, &f.Version, &f.Build, &f.Published, &f.EncounterTypeID}, f.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &f, nil
		},
		Values: func(f *Form) []interface{} {
			return base.Args([]interface{}{f.Version, f.Build, f.Published, f.EncounterTypeID}, f.Metadata.Values())
		},
		ID: func(f *Form) *uuid.UUID { return &f.ID },
	}}}
}

func (r *formRepoPG) Create(ctx context.Context, f *Form) error {
	if err := r.Table.Create(ctx, f); err != nil {
		return err
	}
	return r.saveFields(ctx, f)
}

func (r *formRepoPG) Update(ctx context.Context, f *Form) error {
	if err := r.Table.Update(ctx, f); err != nil {
		return err
	}
	return r.saveFields(ctx, f)
}

// saveFields makes the stored form fields match f.FormFields.
func (r *formRepoPG) saveFields(ctx context.Context, f *Form) error {
	keep := make([]uuid.UUID, 0, len(f.FormFields))
	for _, ff := range f.FormFields {
		if ff.ID == uuid.Nil {
			ff.ID = uuid.New()
		}
		ff.FormID = f.ID
		keep = append(keep, ff.ID)
	}
	if err := r.Exec(ctx, `DELETE FROM form_field WHERE form_id = $1 AND NOT (id = ANY($2))`, f.ID, keep); err != nil {
		return db.MapError(err, "formField", f.ID)
	}
	sql := `INSERT INTO form_field (id, ` + formFieldCols + `) VALUES (` + db.Placeholders(1, db.ColumnCount(formFieldCols)+1) +
		`) ON CONFLICT (id) DO UPDATE SET ` + db.Excluded(formFieldCols)
	for _, ff := range f.FormFields {
		err := r.Exec(ctx, sql, ff.ID, ff.FormID, ff.FieldID, ff.ParentFormFieldID, ff.FieldNumber, ff.FieldPart, ff.PageNumber,
			ff.MinOccurs, ff.MaxOccurs, ff.Required, ff.SortWeight)
		if err != nil {
			return db.MapError(err, "formField", ff.ID)
		}
	}
	return nil
}

func (r *formRepoPG) withFields(ctx context.Context, forms []*Form) ([]*Form, error) {
	if len(forms) == 0 {
		return forms, nil
	}
	ids := make([]uuid.UUID, len(forms))
	byID := make(map[uuid.UUID]*Form, len(forms))
	for i, f := range forms {
		ids[i], byID[f.ID] = f.ID, f
		f.FormFields = []*FormField{}
	}
	rows, err := db.Conn(ctx, r.Pool).Query(ctx,
		`SELECT id, `+formFieldCols+` FROM form_field WHERE form_id = ANY($1) ORDER BY page_number NULLS LAST, field_number NULLS LAST, sort_weight`, ids)
	if err != nil {
		return nil, err
	}
	fields, err := db.Collect(rows, func(row db.Scanner) (*FormField, error) {
		var ff FormField
		err := row.Scan(&ff.ID, &ff.FormID, &ff.FieldID, &ff.ParentFormFieldID, &ff.FieldNumber, &ff.FieldPart, &ff.PageNumber,
			&ff.MinOccurs, &ff.MaxOccurs, &ff.Required, &ff.SortWeight)
		return &ff, err
	})
	if err != nil {
		return nil, err
	}
	for _, ff := range fields {
		byID[ff.FormID].FormFields = append(byID[ff.FormID].FormFields, ff)
	}
	return forms, nil
}

func (r *formRepoPG) one(ctx context.Context, f *Form, err error) (*Form, error) {
	if err != nil {
		return nil, err
	}
	if _, err := r.withFields(ctx, []*Form{f}); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *formRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Form, error) {
	f, err := r.Table.GetByID(ctx, id)
	return r.one(ctx, f, err)
}

func (r *formRepoPG) GetByNameAndVersion(ctx context.Context, name, version string) (*Form, error) {
	f, err := r.Scan(db.Conn(ctx, r.Pool).QueryRow(ctx,
		`SELECT id, `+formCols+` FROM form WHERE lower(name) = lower($1) AND version = $2`, name, version))
	if err != nil {
		return nil, db.MapError(err, "form", name+" "+version)
	}
	return r.one(ctx, f, nil)
}

func (r *formRepoPG) selectWithFields(ctx context.Context, w *db.Where) ([]*Form, error) {
	forms, err := r.Select(ctx, w, `ORDER BY name, version`)
	if err != nil {
		return nil, err
	}
	return r.withFields(ctx, forms)
}

func (r *formRepoPG) ListByName(ctx context.Context, name string) ([]*Form, error) {
	var w db.Where
	w.Add("lower(name) = lower(?)", name)
	return r.selectWithFields(ctx, &w)
}

func (r *formRepoPG) List(ctx context.Context, includeRetired bool) ([]*Form, error) {
	var w db.Where
	if !includeRetired {
		w.Add("NOT retired")
	}
	return r.selectWithFields(ctx, &w)
}

func (r *formRepoPG) ListPublished(ctx context.Context) ([]*Form, error) {
	var w db.Where
	w.Add("published AND NOT retired")
	return r.selectWithFields(ctx, &w)
}

func (r *formRepoPG) ListContainingConcept(ctx context.Context, concept string) ([]*Form, error) {
	var w db.Where
	w.Add("NOT retired")
	w.Add("id IN (SELECT ff.form_id FROM form_field ff JOIN field f ON f.id = ff.field_id WHERE f.concept = ?)", concept)
	return r.selectWithFields(ctx, &w)
}

type fieldRepoPG struct {
	db.Retirable[Field]
}

func NewFieldRepoPG(pool *pgxpool.Pool) FieldRepository {
	return &fieldRepoPG{db.Retirable[Field]{Table: db.Table[Field]{
		Pool:    pool,
		Name:    "field",
		Entity:  "field",
		Columns: fieldCols,
		Scan: func(row db.Scanner) (*Field, error) {
			var f Field
			dest := []interface{}{&f.ID, &f.FieldType, &f.Concept, &f.TableName, &f.AttributeName, &f.DefaultValue, &f.SelectMultiple}
			if err := row.Scan(append(dest, f.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &f, nil
		},
		Values: func(f *Field) []interface{} {
			return base.Args([]interface{}{f.FieldType, f.Concept, f.TableName, f.AttributeName, f.DefaultValue, f.SelectMultiple}, f.Metadata.Values())
		},
		ID: func(f *Field) *uuid.UUID { return &f.ID },
	}}}
}

type resourceRepoPG struct {
	db.Table[FormResource]
}

func NewResourceRepoPG(pool *pgxpool.Pool) ResourceRepository {
	return &resourceRepoPG{db.Table[FormResource]{
		Pool:    pool,
		Name:    "form_resource",
		Entity:  "formResource",
		Columns: resourceCols,
		Scan: func(row db.Scanner) (*FormResource, error) {
			var fr FormResource
			if err := row.Scan(append([]interface{}{&fr.ID, &fr.FormID, &fr.Name, &fr.Datatype, &fr.ValueReference}, fr.Data.Fields()...)...); err != nil {
				return nil, err
			}
			return &fr, nil
		},
		Values: func(fr *FormResource) []interface{} {
			return base.Args([]interface{}{fr.FormID, fr.Name, fr.Datatype, fr.ValueReference}, fr.Data.Values())
		},
		ID: func(fr *FormResource) *uuid.UUID { return &fr.ID },
	}}
}

func (r *resourceRepoPG) GetByName(ctx context.Context, formID uuid.UUID, name string) (*FormResource, error) {
	fr, err := r.Scan(db.Conn(ctx, r.Pool).QueryRow(ctx,
		`SELECT id, `+resourceCols+` FROM form_resource WHERE form_id = $1 AND name = $2`, formID, name))
	if err != nil {
		return nil, db.MapError(err, "formResource", name)
	}
	return fr, nil
}

func (r *resourceRepoPG) ListByForm(ctx context.Context, formID uuid.UUID) ([]*FormResource, error) {
	var w db.Where
	w.Add("form_id = ?", formID)
	return r.Select(ctx, &w, `ORDER BY name`)
}
