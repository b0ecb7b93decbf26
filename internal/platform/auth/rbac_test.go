package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr/internal/platform/apierr"
)

type staticResolver struct {
	privs map[string]bool
	err   error
	seen  []string
}

func (s *staticResolver) PrivilegesForRoles(_ context.Context, roles []string) (map[string]bool, error) {
	s.seen = roles
	return s.privs, s.err
}

func TestHasPrivilege(t *testing.T) {
	ctx := WithUser(context.Background(), "clerk", []string{"Clerk"})
	ctx = WithPrivileges(ctx, map[string]bool{GetPatients: true})

	if !HasPrivilege(ctx, GetPatients) {
		t.Error("expected Get Patients")
	}
	if HasPrivilege(ctx, PurgePatients) {
		t.Error("did not expect Purge Patients")
	}
	if !HasPrivilege(ctx, "") {
		t.Error("empty privilege is always held")
	}

	super := WithUser(context.Background(), "root", []string{SuperUserRole})
	if !HasPrivilege(super, PurgePatients) {
		t.Error("superuser holds every privilege")
	}
}

func TestCheck(t *testing.T) {
	if err := Check(context.Background(), PurgePatients); err != nil {
		t.Errorf("anonymous internal context must pass, got %v", err)
	}
	ctx := WithUser(context.Background(), "clerk", nil)
	if err := Check(ctx, PurgePatients); !errors.Is(err, apierr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestRequirePrivilege(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := WithPrivileges(WithUser(req.Context(), "clerk", nil), map[string]bool{GetPatients: true})
	c := e.NewContext(req.WithContext(ctx), httptest.NewRecorder())

	if err := RequirePrivilege(GetPatients)(okHandler)(c); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	err := RequirePrivilege(GetPatients, EditPatients)(okHandler)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestLoadPrivileges(t *testing.T) {
	resolver := &staticResolver{privs: map[string]bool{GetVisits: true}}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req.WithContext(WithUser(req.Context(), "nurse", []string{"Nurse"})), httptest.NewRecorder())

	var got map[string]bool
	err := LoadPrivileges(resolver, zerolog.Nop())(func(c echo.Context) error {
		got = PrivilegesFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatal(err)
	}
	if !got[GetVisits] {
		t.Errorf("expected resolved privileges, got %v", got)
	}
	if len(resolver.seen) != 2 || resolver.seen[0] != AuthenticatedRole {
		t.Errorf("expected Authenticated role prepended, got %v", resolver.seen)
	}
}

func TestLoadPrivileges_ResolverError(t *testing.T) {
	resolver := &staticResolver{err: errors.New("db down")}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req.WithContext(WithUser(req.Context(), "nurse", nil)), httptest.NewRecorder())

	err := LoadPrivileges(resolver, zerolog.Nop())(okHandler)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
}

func TestActorFromContext(t *testing.T) {
	if ActorFromContext(context.Background()) != "daemon" {
		t.Error("expected daemon for background context")
	}
	if ActorFromContext(WithUser(context.Background(), "alice", nil)) != "alice" {
		t.Error("expected alice")
	}
}
