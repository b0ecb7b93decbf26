package provider

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/pkg/pagination"
)

const (
	providerCols  = `person_id, identifier, ` + base.MetadataColumns
	attributeCols = `provider_id, ` + base.AttributeColumns
)

type providerRepoPG struct {
	db.Retirable[Provider]
}

func NewProviderRepoPG(pool *pgxpool.Pool) ProviderRepository {
	return &providerRepoPG{db.Retirable[Provider]{Table: db.Table[Provider]{
		Pool:    pool,
		Name:    "provider",
		Entity:  "provider",
		Columns: providerCols,
		Scan: func(row db.Scanner) (*Provider, error) {
			var p Provider
			if err := row.Scan(append([]interface{}{&p.ID, &p.PersonID, &p.Identifier}, p.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &p, nil
		},
		Values: func(p *Provider) []interface{} {
			return base.Args([]interface{}{p.PersonID, p.Identifier}, p.Metadata.Values())
		},
		ID: func(p *Provider) *uuid.UUID { return &p.ID },
	}}}
}

func (r *providerRepoPG) Create(ctx context.Context, p *Provider) error {
	if err := r.Retirable.Create(ctx, p); err != nil {
		return err
	}
	return r.saveAttributes(ctx, p)
}

func (r *providerRepoPG) Update(ctx context.Context, p *Provider) error {
	if err := r.Retirable.Update(ctx, p); err != nil {
		return err
	}
	return r.saveAttributes(ctx, p)
}

func (r *providerRepoPG) saveAttributes(ctx context.Context, p *Provider) error {
	sql := `INSERT INTO provider_attribute (id, ` + attributeCols + `) VALUES (` + db.Placeholders(1, db.ColumnCount(attributeCols)+1) +
		`) ON CONFLICT (id) DO UPDATE SET ` + db.Excluded(attributeCols)
	for _, a := range p.Attributes {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.OwnerID = p.ID
		args := base.Args([]interface{}{a.ID, a.OwnerID, a.AttributeTypeID, a.Value}, a.Data.Values())
		if err := r.Exec(ctx, sql, args...); err != nil {
			return db.MapError(err, "providerAttribute", a.ID)
		}
	}
	return nil
}

func scanAttribute(row db.Scanner) (*base.Attribute, error) {
	var a base.Attribute
	if err := row.Scan(append([]interface{}{&a.ID, &a.OwnerID, &a.AttributeTypeID, &a.Value}, a.Data.Fields()...)...); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *providerRepoPG) withAttributes(ctx context.Context, providers []*Provider) ([]*Provider, error) {
	if len(providers) == 0 {
		return providers, nil
	}
	ids := make([]uuid.UUID, len(providers))
	byID := make(map[uuid.UUID]*Provider, len(providers))
	for i, p := range providers {
		ids[i], byID[p.ID] = p.ID, p
		p.Attributes = []*base.Attribute{}
	}
	rows, err := db.Conn(ctx, r.Pool).Query(ctx,
		`SELECT id, `+attributeCols+` FROM provider_attribute WHERE provider_id = ANY($1) ORDER BY date_created`, ids)
	if err != nil {
		return nil, err
	}
	attrs, err := db.Collect(rows, scanAttribute)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		byID[a.OwnerID].Attributes = append(byID[a.OwnerID].Attributes, a)
	}
	return providers, nil
}

func (r *providerRepoPG) one(ctx context.Context, p *Provider, err error) (*Provider, error) {
	if err != nil {
		return nil, err
	}
	if _, err := r.withAttributes(ctx, []*Provider{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *providerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := r.Retirable.GetByID(ctx, id)
	return r.one(ctx, p, err)
}

func (r *providerRepoPG) GetByIdentifier(ctx context.Context, identifier string) (*Provider, error) {
	p, err := r.GetBy(ctx, "identifier", identifier)
	return r.one(ctx, p, err)
}

func (r *providerRepoPG) ListByPerson(ctx context.Context, personID uuid.UUID, includeRetired bool) ([]*Provider, error) {
	var w db.Where
	w.Add("person_id = ?", personID)
	if !includeRetired {
		w.Add("NOT retired")
	}
	providers, err := r.Select(ctx, &w, `ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return r.withAttributes(ctx, providers)
}

func (r *providerRepoPG) Search(ctx context.Context, q Query, page pagination.Params) ([]*Provider, int, error) {
	var w db.Where
	if !q.IncludeRetired {
		w.Add("NOT retired")
	}
	if q.Text != "" {
		like := "%" + q.Text + "%"
		w.Add(`(name ILIKE ? OR identifier ILIKE ? OR EXISTS (SELECT 1 FROM person_name n
			WHERE n.person_id = provider.person_id AND NOT n.voided
			AND (n.given_name ILIKE ? OR n.family_name ILIKE ?)))`, like, like, like, like)
	}
	total, err := r.Count(ctx, &w)
	if err != nil {
		return nil, 0, err
	}
	providers, err := r.Select(ctx, &w, `ORDER BY name, id `+page.SQL())
	if err != nil {
		return nil, 0, err
	}
	providers, err = r.withAttributes(ctx, providers)
	return providers, total, err
}

type attrTypeRepoPG struct {
	db.Retirable[base.AttributeType]
}

func NewAttributeTypeRepoPG(pool *pgxpool.Pool) AttributeTypeRepository {
	return &attrTypeRepoPG{db.Retirable[base.AttributeType]{Table: db.Table[base.AttributeType]{
		Pool:    pool,
		Name:    "provider_attribute_type",
		Entity:  "providerAttributeType",
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
