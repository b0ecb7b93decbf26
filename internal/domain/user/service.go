package user

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/checkdigit"
	"github.com/ehr/emr/internal/platform/validate"
	"github.com/ehr/emr/pkg/pagination"
)

type Service struct {
	base.Support
	users      UserRepository
	roles      RoleRepository
	privileges PrivilegeRepository
	gp         base.GlobalProperties

	mu    sync.RWMutex
	cache map[string]map[string]bool
}

func NewService(users UserRepository, roles RoleRepository, privileges PrivilegeRepository, gp base.GlobalProperties) *Service {
	return &Service{users: users, roles: roles, privileges: privileges, gp: gp, cache: make(map[string]map[string]bool)}
}

// CreateUser stores a new user with an initial password. The system id is
// generated from a sequence with a Luhn check digit.
func (s *Service) CreateUser(ctx context.Context, u *User, password string) error {
	if u.ID != uuid.Nil {
		return apierr.Invalid("id", "User.error.exists", "use SaveUser to update an existing user")
	}
	if err := s.prepare(ctx, u); err != nil {
		return err
	}
	if u.SystemID == "" {
		n, err := s.users.NextSystemSequence(ctx)
		if err != nil {
			return err
		}
		if u.SystemID, err = checkdigit.Append(strconv.FormatInt(n, 10)); err != nil {
			return err
		}
	}
	if err := checkPassword(ctx, s.gp, u, password); err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	u.Metadata.Stamp(auth.ActorFromContext(ctx), true)
	return s.InTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
			return err
		}
		s.Record("user", "create")
		return nil
	})
}

// SaveUser updates an existing user. Passwords change through
// ChangePassword and SetPassword only.
func (s *Service) SaveUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		return apierr.Invalid("password", "User.error.password.required", "a new user needs a password")
	}
	if err := s.prepare(ctx, u); err != nil {
		return err
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		stored, err := s.users.GetByID(ctx, u.ID)
		if err != nil {
			return err
		}
		if u.SystemID == "" {
			u.SystemID = stored.SystemID
		}
		if u.Properties == nil {
			u.Properties = stored.Properties
		}
		u.Metadata.Preserve(stored.Metadata)
		u.Metadata.Stamp(auth.ActorFromContext(ctx), false)
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}
		s.Record("user", "update")
		return nil
	})
}

func (s *Service) prepare(ctx context.Context, u *User) error {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = base.StrPtr(strings.TrimSpace(base.StrVal(u.Email)))
	if strings.TrimSpace(u.Name) == "" {
		u.Name = u.Username
	}
	if err := validate.Struct("User", u); err != nil {
		return err
	}
	existing, err := s.users.GetByUsername(ctx, u.Username)
	switch {
	case err == nil && existing.ID != u.ID:
		return apierr.Conflict("User.username.duplicate", "username %s is already in use", u.Username)
	case err != nil && !isNotFound(err):
		return err
	}
	seen := make(map[string]bool, len(u.Roles))
	roles := u.Roles[:0]
	for _, r := range u.Roles {
		if seen[r] {
			continue
		}
		seen[r] = true
		if _, err := s.roles.Get(ctx, r); err != nil {
			return err
		}
		roles = append(roles, r)
	}
	if roles == nil {
		roles = []string{}
	}
	u.Roles = roles
	if u.Properties == nil && u.ID == uuid.Nil {
		u.Properties = map[string]string{}
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// GetUserByUsername matches the username or the system id.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.users.GetByUsername(ctx, username)
}

func (s *Service) GetUsers(ctx context.Context, q Query, page pagination.Params) ([]*User, int, error) {
	return s.users.Search(ctx, q, page)
}

func (s *Service) GetAllUsers(ctx context.Context, includeRetired bool) ([]*User, error) {
	users, _, err := s.users.Search(ctx, Query{IncludeRetired: includeRetired}, pagination.All)
	return users, err
}

func (s *Service) GetUsersByRole(ctx context.Context, role string) ([]*User, error) {
	users, _, err := s.users.Search(ctx, Query{Roles: []string{role}}, pagination.All)
	return users, err
}

func (s *Service) GetUsersByPerson(ctx context.Context, personID uuid.UUID, includeRetired bool) ([]*User, error) {
	return s.users.ListByPerson(ctx, personID, includeRetired)
}

func (s *Service) RetireUser(ctx context.Context, id uuid.UUID, reason string) (*User, error) {
	return base.RetireByID[*User](ctx, s.users, id, reason)
}

func (s *Service) UnretireUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return base.UnretireByID[*User](ctx, s.users, id)
}

func (s *Service) PurgeUser(ctx context.Context, id uuid.UUID) error {
	if err := auth.Check(ctx, auth.PurgeUsers); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.Record("user", "purge")
	return nil
}

// ChangePassword replaces the password of a user who knows the current one.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, oldPassword, newPassword string) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	hash, err := s.users.GetPasswordHash(ctx, id)
	if err != nil {
		return err
	}
	if !passwordMatches(hash, oldPassword) {
		return apierr.Invalid("old_password", "error.password.match", "the current password is wrong")
	}
	return s.setPassword(ctx, u, newPassword)
}

// SetPassword replaces a password without the old one.
func (s *Service) SetPassword(ctx context.Context, id uuid.UUID, password string) error {
	if err := auth.Check(ctx, auth.EditUserPasswords); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, u, password)
}

func (s *Service) setPassword(ctx context.Context, u *User, password string) error {
	if err := checkPassword(ctx, s.gp, u, password); err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return err
	}
	s.Log().Info().Str("user", u.Username).Msg("password changed")
	return nil
}

func (s *Service) SetUserProperty(ctx context.Context, id uuid.UUID, key, value string) (*User, error) {
	if strings.TrimSpace(key) == "" {
		return nil, apierr.Invalid("key", "User.property.key.required", "property key is required")
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Properties == nil {
		u.Properties = map[string]string{}
	}
	u.Properties[key] = value
	u.Metadata.Stamp(auth.ActorFromContext(ctx), false)
	return u, s.users.Update(ctx, u)
}

func (s *Service) RemoveUserProperty(ctx context.Context, id uuid.UUID, key string) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := u.Properties[key]; !ok {
		return u, nil
	}
	delete(u.Properties, key)
	u.Metadata.Stamp(auth.ActorFromContext(ctx), false)
	return u, s.users.Update(ctx, u)
}

// Authenticate checks credentials. After the allowed number of failed
// attempts the account is locked for LockoutDuration; any attempt while
// locked fails with a Locked error.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	bad := apierr.Unauthenticated("auth.invalidCredentials", "invalid username or password")
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if isNotFound(err) {
		return nil, bad
	}
	if err != nil {
		return nil, err
	}
	if u.Retired {
		return nil, bad
	}
	if u.Properties == nil {
		u.Properties = map[string]string{}
	}

	now := base.Now()
	expired := false
	if ts, ok := u.Properties[PropLockoutTimestamp]; ok {
		ms, _ := strconv.ParseInt(ts, 10, 64)
		if now.Sub(time.UnixMilli(ms)) < LockoutDuration {
			return nil, apierr.Locked("auth.lockedOut", "user %s is locked out, try again later", u.Username)
		}
		delete(u.Properties, PropLockoutTimestamp)
		delete(u.Properties, PropLoginAttempts)
		expired = true
	}

	hash, err := s.users.GetPasswordHash(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if passwordMatches(hash, password) {
		_, hadAttempts := u.Properties[PropLoginAttempts]
		delete(u.Properties, PropLoginAttempts)
		if hadAttempts || expired {
			if err := s.users.Update(ctx, u); err != nil {
				return nil, err
			}
		}
		s.Record("user", "login")
		return u, nil
	}

	attempts, _ := strconv.Atoi(u.Properties[PropLoginAttempts])
	attempts++
	allowed := s.gp.GetGlobalPropertyInt(ctx, base.GPAllowedFailedLogins, 7)
	if attempts >= allowed {
		u.Properties[PropLockoutTimestamp] = strconv.FormatInt(now.UnixMilli(), 10)
		delete(u.Properties, PropLoginAttempts)
		s.Log().Warn().Str("user", u.Username).Int("attempts", attempts).Msg("user locked out")
	} else {
		u.Properties[PropLoginAttempts] = strconv.Itoa(attempts)
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return nil, bad
}

// SaveRole checks that privileges and inherited roles exist and that the
// inheritance stays acyclic.
func (s *Service) SaveRole(ctx context.Context, r *Role) error {
	r.Name = strings.TrimSpace(r.Name)
	if err := validate.Struct("Role", r); err != nil {
		return err
	}
	for _, p := range r.Privileges {
		if _, err := s.privileges.Get(ctx, p); err != nil {
			return err
		}
	}
	for _, parent := range r.InheritedRoles {
		if parent == r.Name {
			return apierr.Invalid("inherited_roles", "Role.inheritance.cycle", "role %s cannot inherit itself", r.Name)
		}
		ancestors, err := s.ancestors(ctx, parent)
		if err != nil {
			return err
		}
		if ancestors[r.Name] {
			return apierr.Invalid("inherited_roles", "Role.inheritance.cycle", "role %s already inherits %s", parent, r.Name)
		}
	}
	if r.Privileges == nil {
		r.Privileges = []string{}
	}
	if r.InheritedRoles == nil {
		r.InheritedRoles = []string{}
	}
	if err := s.roles.Save(ctx, r); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// ancestors returns name and every role it inherits, transitively.
func (s *Service) ancestors(ctx context.Context, name string) (map[string]bool, error) {
	seen := map[string]bool{}
	queue := []string{name}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		r, err := s.roles.Get(ctx, n)
		if err != nil {
			return nil, err
		}
		seen[n] = true
		queue = append(queue, r.InheritedRoles...)
	}
	return seen, nil
}

func (s *Service) GetRole(ctx context.Context, name string) (*Role, error) {
	return s.roles.Get(ctx, name)
}

func (s *Service) GetAllRoles(ctx context.Context) ([]*Role, error) {
	return s.roles.List(ctx)
}

func (s *Service) PurgeRole(ctx context.Context, name string) error {
	if isCoreRole(name) {
		return apierr.Conflict("Role.core.purge", "core role %s cannot be purged", name)
	}
	if err := s.roles.Delete(ctx, name); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) SavePrivilege(ctx context.Context, p *Privilege) error {
	p.Name = strings.TrimSpace(p.Name)
	if err := validate.Struct("Privilege", p); err != nil {
		return err
	}
	if err := s.privileges.Save(ctx, p); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) GetPrivilege(ctx context.Context, name string) (*Privilege, error) {
	return s.privileges.Get(ctx, name)
}

func (s *Service) GetAllPrivileges(ctx context.Context) ([]*Privilege, error) {
	return s.privileges.List(ctx)
}

func (s *Service) PurgePrivilege(ctx context.Context, name string) error {
	if err := s.privileges.Delete(ctx, name); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// PrivilegesForRoles implements auth.PrivilegeResolver. Unknown roles grant
// nothing. Results are cached until a role or privilege changes.
func (s *Service) PrivilegesForRoles(ctx context.Context, roles []string) (map[string]bool, error) {
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	key := strings.Join(sorted, "\x00")

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	privileges := map[string]bool{}
	seen := map[string]bool{}
	queue := sorted
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		r, err := s.roles.Get(ctx, name)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, p := range r.Privileges {
			privileges[p] = true
		}
		queue = append(queue, r.InheritedRoles...)
	}

	s.mu.Lock()
	s.cache[key] = privileges
	s.mu.Unlock()
	return privileges, nil
}

func (s *Service) invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]map[string]bool)
	s.mu.Unlock()
}

var _ auth.PrivilegeResolver = (*Service)(nil)
