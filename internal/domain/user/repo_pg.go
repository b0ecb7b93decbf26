package user

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/pkg/pagination"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `person_id, username, system_id, email, properties, ` + base.MetadataColumns

const userSelect = `SELECT id, ` + userCols + `,
	COALESCE((SELECT array_agg(role ORDER BY role) FROM user_role WHERE user_id = users.id), '{}') FROM users`

func scanUser(row db.Scanner) (*User, error) {
	var u User
	dest := append([]interface{}{&u.ID, &u.PersonID, &u.Username, &u.SystemID, &u.Email, &u.Properties}, u.Metadata.Fields()...)
	if err := row.Scan(append(dest, &u.Roles)...); err != nil {
		return nil, err
	}
	if u.Properties == nil {
		u.Properties = map[string]string{}
	}
	return &u, nil
}

func userValues(u *User) []interface{} {
	props := u.Properties
	if props == nil {
		props = map[string]string{}
	}
	return base.Args([]interface{}{u.PersonID, u.Username, u.SystemID, u.Email, props}, u.Metadata.Values())
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	args := append([]interface{}{u.ID}, userValues(u)...)
	if _, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO users (id, `+userCols+`) VALUES (`+db.Placeholders(1, len(args))+`)`, args...); err != nil {
		return db.MapError(err, "user", u.ID)
	}
	return r.saveRoles(ctx, u)
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	args := append(userValues(u), u.ID)
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET `+db.Assignments(userCols, 1)+` WHERE id = `+db.Placeholders(len(args), 1), args...)
	if err := db.ExpectRow(tag, err, "user", u.ID); err != nil {
		return err
	}
	return r.saveRoles(ctx, u)
}

func (r *userRepoPG) saveRoles(ctx context.Context, u *User) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM user_role WHERE user_id = $1`, u.ID); err != nil {
		return err
	}
	if len(u.Roles) == 0 {
		return nil
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO user_role (user_id, role) SELECT $1, unnest($2::text[])`, u.ID, u.Roles)
	return db.MapError(err, "role", u.Roles)
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, userSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "user", id)
	}
	return u, nil
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx,
		userSelect+` WHERE lower(username) = lower($1) OR system_id = $1 ORDER BY retired LIMIT 1`, username))
	if err != nil {
		return nil, db.MapError(err, "user", username)
	}
	return u, nil
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return db.ExpectRow(tag, err, "user", id)
}

func (r *userRepoPG) Search(ctx context.Context, q Query, page pagination.Params) ([]*User, int, error) {
	var w db.Where
	if !q.IncludeRetired {
		w.Add("NOT retired")
	}
	if q.Text != "" {
		like := "%" + q.Text + "%"
		w.Add(`(username ILIKE ? OR system_id ILIKE ? OR name ILIKE ? OR EXISTS (SELECT 1 FROM person_name n
			WHERE n.person_id = users.person_id AND NOT n.voided AND (n.given_name ILIKE ? OR n.family_name ILIKE ?)))`,
			like, like, like, like, like)
	}
	if len(q.Roles) > 0 {
		w.Add(`EXISTS (SELECT 1 FROM user_role ur WHERE ur.user_id = users.id AND ur.role = ANY(?))`, q.Roles)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM users`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, userSelect+w.SQL()+` ORDER BY username `+page.SQL(), w.Args()...)
	if err != nil {
		return nil, 0, err
	}
	users, err := db.Collect(rows, scanUser)
	return users, total, err
}

func (r *userRepoPG) ListByPerson(ctx context.Context, personID uuid.UUID, includeRetired bool) ([]*User, error) {
	var w db.Where
	w.Add("person_id = ?", personID)
	if !includeRetired {
		w.Add("NOT retired")
	}
	rows, err := r.conn(ctx).Query(ctx, userSelect+w.SQL()+` ORDER BY username`, w.Args()...)
	if err != nil {
		return nil, err
	}
	return db.Collect(rows, scanUser)
}

func (r *userRepoPG) NextSystemSequence(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('user_system_id_seq')`).Scan(&n)
	return n, err
}

func (r *userRepoPG) GetPasswordHash(ctx context.Context, id uuid.UUID) (string, error) {
	var hash *string
	if err := r.conn(ctx).QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, id).Scan(&hash); err != nil {
		return "", db.MapError(err, "user", id)
	}
	return base.StrVal(hash), nil
}

func (r *userRepoPG) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	return db.ExpectRow(tag, err, "user", id)
}

type roleRepoPG struct{ pool *pgxpool.Pool }

func NewRoleRepoPG(pool *pgxpool.Pool) RoleRepository {
	return &roleRepoPG{pool: pool}
}

func (r *roleRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const roleSelect = `SELECT name, description,
	COALESCE((SELECT array_agg(privilege ORDER BY privilege) FROM role_privilege WHERE role = role.name), '{}'),
	COALESCE((SELECT array_agg(inherited_role ORDER BY inherited_role) FROM role_role WHERE role = role.name), '{}')
	FROM role`

func scanRole(row db.Scanner) (*Role, error) {
	var role Role
	if err := row.Scan(&role.Name, &role.Description, &role.Privileges, &role.InheritedRoles); err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepoPG) Save(ctx context.Context, role *Role) error {
	if _, err := r.conn(ctx).Exec(ctx, `INSERT INTO role (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description`, role.Name, role.Description); err != nil {
		return db.MapError(err, "role", role.Name)
	}
	for _, stmt := range []string{`DELETE FROM role_privilege WHERE role = $1`, `DELETE FROM role_role WHERE role = $1`} {
		if _, err := r.conn(ctx).Exec(ctx, stmt, role.Name); err != nil {
			return err
		}
	}
	if _, err := r.conn(ctx).Exec(ctx, `INSERT INTO role_privilege (role, privilege) SELECT $1, unnest($2::text[])`,
		role.Name, role.Privileges); err != nil {
		return db.MapError(err, "privilege", role.Privileges)
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO role_role (role, inherited_role) SELECT $1, unnest($2::text[])`,
		role.Name, role.InheritedRoles)
	return db.MapError(err, "role", role.InheritedRoles)
}

func (r *roleRepoPG) Get(ctx context.Context, name string) (*Role, error) {
	role, err := scanRole(r.conn(ctx).QueryRow(ctx, roleSelect+` WHERE name = $1`, name))
	if err != nil {
		return nil, db.MapError(err, "role", name)
	}
	return role, nil
}

func (r *roleRepoPG) List(ctx context.Context) ([]*Role, error) {
	rows, err := r.conn(ctx).Query(ctx, roleSelect+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return db.Collect(rows, scanRole)
}

func (r *roleRepoPG) Delete(ctx context.Context, name string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM role WHERE name = $1`, name)
	return db.ExpectRow(tag, err, "role", name)
}

type privilegeRepoPG struct{ pool *pgxpool.Pool }

func NewPrivilegeRepoPG(pool *pgxpool.Pool) PrivilegeRepository {
	return &privilegeRepoPG{pool: pool}
}

func scanPrivilege(row db.Scanner) (*Privilege, error) {
	var p Privilege
	if err := row.Scan(&p.Name, &p.Description); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *privilegeRepoPG) Save(ctx context.Context, p *Privilege) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO privilege (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description`, p.Name, p.Description)
	return db.MapError(err, "privilege", p.Name)
}

func (r *privilegeRepoPG) Get(ctx context.Context, name string) (*Privilege, error) {
	p, err := scanPrivilege(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT name, description FROM privilege WHERE name = $1`, name))
	if err != nil {
		return nil, db.MapError(err, "privilege", name)
	}
	return p, nil
}

func (r *privilegeRepoPG) List(ctx context.Context) ([]*Privilege, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT name, description FROM privilege ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return db.Collect(rows, scanPrivilege)
}

func (r *privilegeRepoPG) Delete(ctx context.Context, name string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM privilege WHERE name = $1`, name)
	return db.ExpectRow(tag, err, "privilege", name)
}
