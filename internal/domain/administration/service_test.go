package administration

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ehr/emr/internal/platform/apierr"
)

type mockRepo struct {
	props map[string]*GlobalProperty
	lists int
}

func newMockRepo() *mockRepo {
	return &mockRepo{props: make(map[string]*GlobalProperty)}
}

func (m *mockRepo) Get(_ context.Context, name string) (*GlobalProperty, error) {
	gp, ok := m.props[name]
	if !ok {
		return nil, apierr.NotFound("globalProperty", name)
	}
	return gp, nil
}

func (m *mockRepo) List(_ context.Context, prefix string) ([]*GlobalProperty, error) {
	m.lists++
	var out []*GlobalProperty
	for k, gp := range m.props {
		if strings.HasPrefix(k, prefix) {
			cp := *gp
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Property < out[j].Property })
	return out, nil
}

func (m *mockRepo) Upsert(_ context.Context, gp *GlobalProperty) error {
	cp := *gp
	m.props[gp.Property] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, name string) error {
	if _, ok := m.props[name]; !ok {
		return apierr.NotFound("globalProperty", name)
	}
	delete(m.props, name)
	return nil
}

type recordingListener struct {
	prefix  string
	changed []string
	deleted []string
	fail    bool
}

func (l *recordingListener) SupportsPropertyName(name string) bool {
	return strings.HasPrefix(name, l.prefix)
}

func (l *recordingListener) GlobalPropertyChanged(_ context.Context, gp *GlobalProperty) error {
	l.changed = append(l.changed, gp.Property)
	if l.fail {
		return errors.New("listener down")
	}
	return nil
}

func (l *recordingListener) GlobalPropertyDeleted(_ context.Context, name string) error {
	l.deleted = append(l.deleted, name)
	return nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, "test"), repo
}

func TestService_TypedGetters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	for name, v := range map[string]string{"a.int": "42", "a.bool": "true", "a.dur": "90s", "a.bad": "x", "a.blank": "  "} {
		if err := svc.SetGlobalProperty(ctx, name, v); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	if got := svc.GetGlobalPropertyInt(ctx, "a.int", 1); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if got := svc.GetGlobalPropertyInt(ctx, "a.bad", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
	if !svc.GetGlobalPropertyBool(ctx, "a.bool", false) {
		t.Error("expected true")
	}
	if got := svc.GetGlobalPropertyDuration(ctx, "a.dur", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %s", got)
	}
	if got := svc.GetGlobalPropertyValue(ctx, "a.blank", "def"); got != "def" {
		t.Errorf("blank value should yield default, got %q", got)
	}
	if got := svc.GetGlobalPropertyValue(ctx, "missing", "def"); got != "def" {
		t.Errorf("expected default, got %q", got)
	}
}

func TestService_CacheInvalidatedOnSaveAndPurge(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	repo.props["x"] = &GlobalProperty{Property: "x", PropertyValue: "1"}

	svc.GetGlobalPropertyValue(ctx, "x", "")
	svc.GetGlobalPropertyValue(ctx, "x", "")
	if repo.lists != 1 {
		t.Fatalf("expected one load, got %d", repo.lists)
	}

	if err := svc.SetGlobalProperty(ctx, "x", "2"); err != nil {
		t.Fatal(err)
	}
	if got := svc.GetGlobalPropertyValue(ctx, "x", ""); got != "2" {
		t.Errorf("expected fresh value 2, got %q", got)
	}
	if err := svc.PurgeGlobalProperty(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if got := svc.GetGlobalPropertyValue(ctx, "x", "gone"); got != "gone" {
		t.Errorf("expected purged property to be gone, got %q", got)
	}
}

func TestService_SaveValidatesDatatype(t *testing.T) {
	svc, _ := newTestService()
	err := svc.SaveGlobalProperty(context.Background(), &GlobalProperty{Property: "n", PropertyValue: "abc", Datatype: "integer"})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	err = svc.SaveGlobalProperty(context.Background(), &GlobalProperty{Property: " ", PropertyValue: "1"})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
}

func TestService_SetKeepsDescription(t *testing.T) {
	svc, repo := newTestService()
	desc := "kept"
	repo.props["d"] = &GlobalProperty{Property: "d", PropertyValue: "1", Description: &desc}
	if err := svc.SetGlobalProperty(context.Background(), "d", "2"); err != nil {
		t.Fatal(err)
	}
	if repo.props["d"].Description == nil || *repo.props["d"].Description != "kept" {
		t.Error("expected description to survive SetGlobalProperty")
	}
	if repo.props["d"].ChangedBy == nil || *repo.props["d"].ChangedBy != "daemon" {
		t.Error("expected changed_by to be stamped")
	}
}

func TestService_Listeners(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	visits := &recordingListener{prefix: "visits."}
	failing := &recordingListener{prefix: "", fail: true}
	svc.AddGlobalPropertyListener(visits)
	svc.AddGlobalPropertyListener(failing)

	if err := svc.SetGlobalProperty(ctx, "visits.assignmentHandler", "existing"); err != nil {
		t.Fatalf("a failing listener must not fail the save: %v", err)
	}
	if err := svc.SetGlobalProperty(ctx, "other", "1"); err != nil {
		t.Fatal(err)
	}
	if len(visits.changed) != 1 || visits.changed[0] != "visits.assignmentHandler" {
		t.Errorf("unexpected notifications %v", visits.changed)
	}
	if len(failing.changed) != 2 {
		t.Errorf("expected catch-all listener to see both saves, got %v", failing.changed)
	}

	if err := svc.PurgeGlobalProperty(ctx, "visits.assignmentHandler"); err != nil {
		t.Fatal(err)
	}
	if len(visits.deleted) != 1 {
		t.Errorf("expected delete notification, got %v", visits.deleted)
	}

	svc.RemoveGlobalPropertyListener(visits)
	_ = svc.SetGlobalProperty(ctx, "visits.x", "1")
	if len(visits.changed) != 1 {
		t.Error("removed listener must not be notified")
	}
}

// rollbackTx restores the repository when fn fails.
type rollbackTx struct {
	repo *mockRepo
}

func (tx rollbackTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := make(map[string]*GlobalProperty, len(tx.repo.props))
	for k, gp := range tx.repo.props {
		cp := *gp
		saved[k] = &cp
	}
	if err := fn(ctx); err != nil {
		tx.repo.props = saved
		return err
	}
	return nil
}

func TestService_RolledBackSaveLeavesCacheAndListeners(t *testing.T) {
	svc, repo := newTestService()
	svc.SetTxRunner(rollbackTx{repo: repo})
	ctx := context.Background()
	l := &recordingListener{prefix: "log."}
	svc.AddGlobalPropertyListener(l)
	if err := svc.SetGlobalProperty(ctx, "log.level", "info"); err != nil {
		t.Fatal(err)
	}
	l.changed = nil

	err := svc.SaveGlobalProperties(ctx, []*GlobalProperty{
		{Property: "log.level", PropertyValue: "debug"},
		{Property: "pageSize", PropertyValue: "many", Datatype: "integer"},
	})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected the batch to fail, got %v", err)
	}
	if v := svc.GetGlobalPropertyValue(ctx, "log.level", ""); v != "info" {
		t.Errorf("expected the committed value, got %q", v)
	}
	if len(l.changed) != 0 {
		t.Errorf("expected no notification for a rolled back save, got %v", l.changed)
	}

	boom := errors.New("boom")
	err = svc.InTx(ctx, func(ctx context.Context) error {
		if err := svc.SetGlobalProperty(ctx, "log.level", "trace"); err != nil {
			return err
		}
		if v := svc.GetGlobalPropertyValue(ctx, "log.level", ""); v != "trace" {
			t.Errorf("expected the transaction to read its own write, got %q", v)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the transaction error, got %v", err)
	}
	if v := svc.GetGlobalPropertyValue(ctx, "log.level", ""); v != "info" {
		t.Errorf("expected the cache to ignore uncommitted reads, got %q", v)
	}

	if err := svc.SaveGlobalProperties(ctx, []*GlobalProperty{{Property: "log.level", PropertyValue: "warn"}}); err != nil {
		t.Fatal(err)
	}
	if v := svc.GetGlobalPropertyValue(ctx, "log.level", ""); v != "warn" || len(l.changed) != 1 {
		t.Errorf("expected the committed save cached and notified, got %q %v", v, l.changed)
	}
}

func TestService_ImplementationID(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	id, err := svc.GetImplementationID(ctx)
	if err != nil || id != nil {
		t.Fatalf("expected nil before set, got %v %v", id, err)
	}
	if err := svc.SetImplementationID(ctx, &ImplementationID{ImplementationID: "a|b", Name: "x"}); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected '|' to be rejected, got %v", err)
	}
	if err := svc.SetImplementationID(ctx, &ImplementationID{ImplementationID: "CLINIC1", Name: "Clinic"}); err != nil {
		t.Fatal(err)
	}
	id, err = svc.GetImplementationID(ctx)
	if err != nil || id == nil || id.ImplementationID != "CLINIC1" || id.Name != "Clinic" {
		t.Errorf("unexpected implementation id %+v %v", id, err)
	}
}

func TestService_SystemInformation(t *testing.T) {
	svc, repo := newTestService()
	repo.props["a"] = &GlobalProperty{Property: "a"}
	svc.SetDatabaseStats(func() interface{} { return map[string]int{"total": 3} })
	info, err := svc.GetSystemInformation(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != "test" || info.PropertyCount != 1 || info.Database == nil || info.GoVersion == "" {
		t.Errorf("unexpected info %+v", info)
	}
}
