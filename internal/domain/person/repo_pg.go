package person

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/pkg/pagination"
)

type personRepoPG struct{ pool *pgxpool.Pool }

func NewPersonRepoPG(pool *pgxpool.Pool) PersonRepository {
	return &personRepoPG{pool: pool}
}

func (r *personRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const (
	personCols  = `gender, birthdate, birthdate_estimated, dead, death_date, cause_of_death, ` + base.DataColumns
	nameCols    = `person_id, prefix, given_name, middle_name, family_name, family_name2, preferred, ` + base.DataColumns
	addressCols = `person_id, address1, address2, city_village, state_province, country, postal_code, preferred, ` + base.DataColumns
	attrCols    = `person_id, attribute_type_id, value, ` + base.DataColumns
)

func scanPerson(row db.Scanner) (*Person, error) {
	var p Person
	dest := append([]interface{}{&p.ID, &p.Gender, &p.Birthdate, &p.BirthdateEstimated, &p.Dead, &p.DeathDate, &p.CauseOfDeath}, p.Data.Fields()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanName(row db.Scanner) (*PersonName, error) {
	var n PersonName
	dest := append([]interface{}{&n.ID, &n.PersonID, &n.Prefix, &n.GivenName, &n.MiddleName, &n.FamilyName, &n.FamilyName2, &n.Preferred}, n.Data.Fields()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanAddress(row db.Scanner) (*PersonAddress, error) {
	var a PersonAddress
	dest := append([]interface{}{&a.ID, &a.PersonID, &a.Address1, &a.Address2, &a.CityVillage, &a.StateProvince, &a.Country, &a.PostalCode, &a.Preferred}, a.Data.Fields()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAttribute(row db.Scanner) (*PersonAttribute, error) {
	var a PersonAttribute
	dest := append([]interface{}{&a.ID, &a.PersonID, &a.AttributeTypeID, &a.Value}, a.Data.Fields()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &a, nil
}

func personArgs(p *Person) []interface{} {
	return base.Args([]interface{}{p.Gender, p.Birthdate, p.BirthdateEstimated, p.Dead, p.DeathDate, p.CauseOfDeath}, p.Data.Values())
}

func (r *personRepoPG) Create(ctx context.Context, p *Person) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	args := append([]interface{}{p.ID}, personArgs(p)...)
	if _, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO person (id, `+personCols+`) VALUES (`+db.Placeholders(1, len(args))+`)`, args...); err != nil {
		return db.MapError(err, "person", p.ID)
	}
	return r.saveDetails(ctx, p)
}

func (r *personRepoPG) Update(ctx context.Context, p *Person) error {
	args := append(personArgs(p), p.ID)
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE person SET `+db.Assignments(personCols, 1)+` WHERE id = `+db.Placeholders(len(args), 1), args...)
	if err := db.ExpectRow(tag, err, "person", p.ID); err != nil {
		return err
	}
	return r.saveDetails(ctx, p)
}

func upsert(table, cols string) string {
	return `INSERT INTO ` + table + ` (id, ` + cols + `) VALUES (` + db.Placeholders(1, db.ColumnCount(cols)+1) +
		`) ON CONFLICT (id) DO UPDATE SET ` + db.Excluded(cols)
}

func (r *personRepoPG) saveDetails(ctx context.Context, p *Person) error {
	q := r.conn(ctx)
	for _, n := range p.Names {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		n.PersonID = p.ID
		args := base.Args([]interface{}{n.ID, n.PersonID, n.Prefix, n.GivenName, n.MiddleName, n.FamilyName, n.FamilyName2, n.Preferred}, n.Data.Values())
		if _, err := q.Exec(ctx, upsert("person_name", nameCols), args...); err != nil {
			return db.MapError(err, "personName", n.ID)
		}
	}
	for _, a := range p.Addresses {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.PersonID = p.ID
		args := base.Args([]interface{}{a.ID, a.PersonID, a.Address1, a.Address2, a.CityVillage, a.StateProvince, a.Country, a.PostalCode, a.Preferred}, a.Data.Values())
		if _, err := q.Exec(ctx, upsert("person_address", addressCols), args...); err != nil {
			return db.MapError(err, "personAddress", a.ID)
		}
	}
	for _, a := range p.Attributes {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.PersonID = p.ID
		args := base.Args([]interface{}{a.ID, a.PersonID, a.AttributeTypeID, a.Value}, a.Data.Values())
		if _, err := q.Exec(ctx, upsert("person_attribute", attrCols), args...); err != nil {
			return db.MapError(err, "personAttribute", a.ID)
		}
	}
	return nil
}

func (r *personRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Person, error) {
	p, err := scanPerson(r.conn(ctx).QueryRow(ctx, `SELECT id, `+personCols+` FROM person WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "person", id)
	}
	if err := r.loadDetails(ctx, []*Person{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *personRepoPG) loadDetails(ctx context.Context, people []*Person) error {
	if len(people) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(people))
	byID := make(map[uuid.UUID]*Person, len(people))
	for i, p := range people {
		ids[i] = p.ID
		byID[p.ID] = p
		p.Names, p.Addresses, p.Attributes = []*PersonName{}, []*PersonAddress{}, []*PersonAttribute{}
	}
	q := r.conn(ctx)

	rows, err := q.Query(ctx, `SELECT id, `+nameCols+` FROM person_name WHERE person_id = ANY($1) ORDER BY preferred DESC, date_created`, ids)
	if err != nil {
		return err
	}
	names, err := db.Collect(rows, scanName)
	if err != nil {
		return err
	}
	for _, n := range names {
		byID[n.PersonID].Names = append(byID[n.PersonID].Names, n)
	}

	rows, err = q.Query(ctx, `SELECT id, `+addressCols+` FROM person_address WHERE person_id = ANY($1) ORDER BY preferred DESC, date_created`, ids)
	if err != nil {
		return err
	}
	addrs, err := db.Collect(rows, scanAddress)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		byID[a.PersonID].Addresses = append(byID[a.PersonID].Addresses, a)
	}

	rows, err = q.Query(ctx, `SELECT id, `+attrCols+` FROM person_attribute WHERE person_id = ANY($1) ORDER BY date_created`, ids)
	if err != nil {
		return err
	}
	attrs, err := db.Collect(rows, scanAttribute)
	if err != nil {
		return err
	}
	for _, a := range attrs {
		byID[a.PersonID].Attributes = append(byID[a.PersonID].Attributes, a)
	}
	return nil
}

func (r *personRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM person WHERE id = $1`, id)
	return db.ExpectRow(tag, err, "person", id)
}

const nameMatch = `EXISTS (SELECT 1 FROM person_name n WHERE n.person_id = p.id AND NOT n.voided
	AND (n.given_name ILIKE ? OR n.middle_name ILIKE ? OR n.family_name ILIKE ? OR n.family_name2 ILIKE ?))`

// AddNameTokens requires every whitespace separated token of name to prefix
// one of the person's names.
func AddNameTokens(w *db.Where, name string) {
	for _, tok := range strings.Fields(name) {
		like := tok + "%"
		w.Add(nameMatch, like, like, like, like)
	}
}

func (r *personRepoPG) Search(ctx context.Context, q Query, page pagination.Params) ([]*Person, int, error) {
	var w db.Where
	if !q.IncludeVoided {
		w.Add("NOT p.voided")
	}
	if q.Dead != nil {
		w.Add("p.dead = ?", *q.Dead)
	}
	AddNameTokens(&w, q.Name)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM person p`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT p.id, `+db.Qualify("p", personCols)+` FROM person p`+w.SQL()+` ORDER BY p.date_created, p.id `+page.SQL(), w.Args()...)
	if err != nil {
		return nil, 0, err
	}
	people, err := db.Collect(rows, scanPerson)
	if err != nil {
		return nil, 0, err
	}
	return people, total, r.loadDetails(ctx, people)
}

func (r *personRepoPG) Similar(ctx context.Context, tokens []string, birthYear *int, gender string) ([]*Person, error) {
	var w db.Where
	w.Add("NOT p.voided")
	if len(tokens) > 0 {
		var ors []string
		var args []interface{}
		for _, tok := range tokens {
			ors = append(ors, "n.given_name ILIKE ? OR n.middle_name ILIKE ? OR n.family_name ILIKE ?")
			args = append(args, tok, tok, tok)
		}
		w.Add(`EXISTS (SELECT 1 FROM person_name n WHERE n.person_id = p.id AND NOT n.voided AND (`+strings.Join(ors, " OR ")+`))`, args...)
	}
	if birthYear != nil {
		w.Add("(p.birthdate IS NULL OR abs(extract(year FROM p.birthdate) - ?) <= 1)", *birthYear)
	}
	if gender != "" {
		w.Add("p.gender = ?", gender)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT p.id, `+db.Qualify("p", personCols)+` FROM person p`+w.SQL()+` ORDER BY p.date_created LIMIT 100`, w.Args()...)
	if err != nil {
		return nil, err
	}
	people, err := db.Collect(rows, scanPerson)
	if err != nil {
		return nil, err
	}
	return people, r.loadDetails(ctx, people)
}

func (r *personRepoPG) VoidDetails(ctx context.Context, personID uuid.UUID, user, reason string, at time.Time) error {
	for _, table := range []string{"person_name", "person_address", "person_attribute"} {
		if _, err := r.conn(ctx).Exec(ctx, `UPDATE `+table+` SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
			WHERE person_id = $1 AND NOT voided`, personID, user, at, reason); err != nil {
			return err
		}
	}
	return nil
}

func (r *personRepoPG) UnvoidDetails(ctx context.Context, personID uuid.UUID, voidedAt time.Time) error {
	for _, table := range []string{"person_name", "person_address", "person_attribute"} {
		if _, err := r.conn(ctx).Exec(ctx, `UPDATE `+table+` SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
			WHERE person_id = $1 AND voided AND date_voided = $2`, personID, voidedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *personRepoPG) CopyDetails(ctx context.Context, from, to uuid.UUID, user string) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `INSERT INTO person_name (id, person_id, prefix, given_name, middle_name, family_name, family_name2, preferred, creator, date_created, voided)
		SELECT gen_random_uuid(), $2, prefix, given_name, middle_name, family_name, family_name2, false, $3, now(), false
		FROM person_name WHERE person_id = $1 AND NOT voided`, from, to, user); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `INSERT INTO person_address (id, person_id, address1, address2, city_village, state_province, country, postal_code, preferred, creator, date_created, voided)
		SELECT gen_random_uuid(), $2, address1, address2, city_village, state_province, country, postal_code, false, $3, now(), false
		FROM person_address WHERE person_id = $1 AND NOT voided`, from, to, user)
	return err
}

type attrTypeRepoPG struct {
	db.Retirable[PersonAttributeType]
}

func NewAttributeTypeRepoPG(pool *pgxpool.Pool) AttributeTypeRepository {
	return &attrTypeRepoPG{db.Retirable[PersonAttributeType]{Table: db.Table[PersonAttributeType]{
		Pool:    pool,
		Name:    "person_attribute_type",
		Entity:  "personAttributeType",
		Columns: `format, searchable, sort_weight, ` + base.MetadataColumns,
		Scan: func(row db.Scanner) (*PersonAttributeType, error) {
			var t PersonAttributeType
			if err := row.Scan(append([]interface{}{&t.ID, &t.Format, &t.Searchable, &t.SortWeight}, t.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &t, nil
		},
		Values: func(t *PersonAttributeType) []interface{} {
			return base.Args([]interface{}{t.Format, t.Searchable, t.SortWeight}, t.Metadata.Values())
		},
		ID: func(t *PersonAttributeType) *uuid.UUID { return &t.ID },
	}}}
}

func (r *attrTypeRepoPG) List(ctx context.Context, includeRetired bool) ([]*PersonAttributeType, error) {
	var w db.Where
	if !includeRetired {
		w.Add("NOT retired")
	}
	return r.Select(ctx, &w, `ORDER BY sort_weight, name`)
}

type relTypeRepoPG struct {
	db.Retirable[RelationshipType]
}

func NewRelationshipTypeRepoPG(pool *pgxpool.Pool) RelationshipTypeRepository {
	return &relTypeRepoPG{db.Retirable[RelationshipType]{Table: db.Table[RelationshipType]{
		Pool:    pool,
		Name:    "relationship_type",
		Entity:  "relationshipType",
		Columns: `a_is_to_b, b_is_to_a, ` + base.MetadataColumns,
		Scan: func(row db.Scanner) (*RelationshipType, error) {
			var t RelationshipType
			if err := row.Scan(append([]interface{}{&t.ID, &t.AIsToB, &t.BIsToA}, t.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &t, nil
		},
		Values: func(t *RelationshipType) []interface{} {
			return base.Args([]interface{}{t.AIsToB, t.BIsToA}, t.Metadata.Values())
		},
		ID: func(t *RelationshipType) *uuid.UUID { return &t.ID },
	}}}
}

type relationshipRepoPG struct {
	db.Table[Relationship]
}

func NewRelationshipRepoPG(pool *pgxpool.Pool) RelationshipRepository {
	return &relationshipRepoPG{db.Table[Relationship]{
		Pool:    pool,
		Name:    "relationship",
		Entity:  "relationship",
		Columns: `person_a, person_b, relationship_type_id, start_date, end_date, ` + base.DataColumns,
		Scan: func(row db.Scanner) (*Relationship, error) {
			var r Relationship
			if err := row.Scan(append([]interface{}{&r.ID, &r.PersonA, &r.PersonB, &r.RelationshipTypeID, &r.StartDate, &r.EndDate}, r.Data.Fields()...)...); err != nil {
				return nil, err
			}
			return &r, nil
		},
		Values: func(r *Relationship) []interface{} {
			return base.Args([]interface{}{r.PersonA, r.PersonB, r.RelationshipTypeID, r.StartDate, r.EndDate}, r.Data.Values())
		},
		ID: func(r *Relationship) *uuid.UUID { return &r.ID },
	}}
}

func (r *relationshipRepoPG) List(ctx context.Context, q RelationshipQuery) ([]*Relationship, error) {
	var w db.Where
	if !q.IncludeVoided {
		w.Add("NOT voided")
	}
	if q.PersonA != nil {
		w.Add("person_a = ?", *q.PersonA)
	}
	if q.PersonB != nil {
		w.Add("person_b = ?", *q.PersonB)
	}
	if q.Person != nil {
		w.Add("(person_a = ? OR person_b = ?)", *q.Person, *q.Person)
	}
	if q.TypeID != nil {
		w.Add("relationship_type_id = ?", *q.TypeID)
	}
	if q.EffectiveDate != nil {
		w.Add("(start_date IS NULL OR start_date <= ?) AND (end_date IS NULL OR end_date > ?)", *q.EffectiveDate, *q.EffectiveDate)
	}
	return r.Select(ctx, &w, `ORDER BY date_created`)
}

func (r *relationshipRepoPG) VoidByPerson(ctx context.Context, personID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE relationship SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE (person_a = $1 OR person_b = $1) AND NOT voided`, personID, user, at, reason)
}

func (r *relationshipRepoPG) UnvoidByPerson(ctx context.Context, personID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE relationship SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE (person_a = $1 OR person_b = $1) AND voided AND date_voided = $2`, personID, voidedAt)
}
