package patient_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/base/basetest"
	"github.com/ehr/emr/internal/domain/patient"
	"github.com/ehr/emr/internal/domain/person"
	"github.com/ehr/emr/internal/domain/person/persontest"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/pkg/pagination"
)

// memPatients keeps patient rows with deep-copied identifiers.
type memPatients struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*patient.Patient
	order []uuid.UUID
}

func newMemPatients() *memPatients {
	return &memPatients{rows: make(map[uuid.UUID]*patient.Patient)}
}

func copyPatient(p *patient.Patient) *patient.Patient {
	cp := &patient.Patient{}
	cp.ID, cp.Data = p.ID, p.Data
	for _, id := range p.Identifiers {
		c := *id
		cp.Identifiers = append(cp.Identifiers, &c)
	}
	return cp
}

func (m *memPatients) store(p *patient.Patient) {
	for _, id := range p.Identifiers {
		if id.ID == uuid.Nil {
			id.ID = uuid.New()
		}
		id.PatientID = p.ID
	}
	m.rows[p.ID] = copyPatient(p)
}

func (m *memPatients) Create(_ context.Context, p *patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; ok {
		return apierr.Conflict("patient.duplicate", "patient %s exists", p.ID)
	}
	m.store(p)
	m.order = append(m.order, p.ID)
	return nil
}

func (m *memPatients) Update(_ context.Context, p *patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; !ok {
		return apierr.NotFound("patient", p.ID)
	}
	m.store(p)
	return nil
}

func (m *memPatients) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, apierr.NotFound("patient", id)
	}
	return copyPatient(p), nil
}

func (m *memPatients) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return apierr.NotFound("patient", id)
	}
	delete(m.rows, id)
	return nil
}

func (m *memPatients) Search(_ context.Context, q patient.Query, page pagination.Params) ([]uuid.UUID, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, id := range m.order {
		p, ok := m.rows[id]
		if !ok || (p.Voided && !q.IncludeVoided) {
			continue
		}
		for _, pi := range p.Identifiers {
			if !pi.Voided && strings.HasPrefix(pi.Identifier, q.Text) {
				ids = append(ids, id)
				break
			}
		}
	}
	lo, hi := page.Window(len(ids))
	return ids[lo:hi], len(ids), nil
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (m *memPatients) FindIdentifiers(_ context.Context, q patient.IdentifierQuery) ([]*patient.PatientIdentifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*patient.PatientIdentifier
	for _, id := range m.order {
		p, ok := m.rows[id]
		if !ok {
			continue
		}
		for _, pi := range p.Identifiers {
			switch {
			case pi.Voided && !q.IncludeVoided:
			case q.Exact && pi.Identifier != q.Identifier:
			case !q.Exact && !strings.Contains(pi.Identifier, q.Identifier):
			case len(q.TypeIDs) > 0 && !contains(q.TypeIDs, pi.IdentifierTypeID):
			case len(q.LocationIDs) > 0 && (pi.LocationID == nil || !contains(q.LocationIDs, *pi.LocationID)):
			case len(q.PatientIDs) > 0 && !contains(q.PatientIDs, pi.PatientID):
			default:
				c := *pi
				out = append(out, &c)
			}
		}
	}
	return out, nil
}

func (m *memPatients) VoidIdentifiers(_ context.Context, patientID uuid.UUID, user, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[patientID]; ok {
		for _, pi := range p.Identifiers {
			if !pi.Voided {
				_ = pi.Void(user, reason, at)
			}
		}
	}
	return nil
}

func (m *memPatients) UnvoidIdentifiers(_ context.Context, patientID uuid.UUID, voidedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[patientID]; ok {
		for _, pi := range p.Identifiers {
			if pi.Voided && pi.DateVoided != nil && pi.DateVoided.Equal(voidedAt) {
				pi.Unvoid()
			}
		}
	}
	return nil
}

type memIDTypes struct {
	*basetest.Table[patient.PatientIdentifierType]
}

func (m *memIDTypes) GetByName(_ context.Context, name string) (*patient.PatientIdentifierType, error) {
	for _, t := range m.Filter(nil) {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return nil, apierr.NotFound("patientIdentifierType", name)
}

func (m *memIDTypes) List(_ context.Context, includeRetired bool) ([]*patient.PatientIdentifierType, error) {
	return m.Filter(func(t *patient.PatientIdentifierType) bool { return includeRetired || !t.Retired }), nil
}

type memMergeLogs struct {
	*basetest.Table[patient.MergeLog]
}

func (m *memMergeLogs) ListByWinner(_ context.Context, winner uuid.UUID) ([]*patient.MergeLog, error) {
	return m.Filter(func(l *patient.MergeLog) bool { return l.WinnerID == winner }), nil
}

type jsonSerializer struct{}

func (jsonSerializer) Serialize(_ context.Context, v interface{}, _ string) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonSerializer) DefaultSerializerName(context.Context) string { return "json" }

type fixture struct {
	svc       *patient.Service
	people    *person.Service
	patients  *memPatients
	idTypes   *memIDTypes
	mergeLogs *memMergeLogs
	emrType   *patient.PatientIdentifierType
	oldType   *patient.PatientIdentifierType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	people, _ := persontest.NewService()
	f := &fixture{
		people:    people,
		patients:  newMemPatients(),
		idTypes:   &memIDTypes{basetest.NewTable("patientIdentifierType", func(t *patient.PatientIdentifierType) *uuid.UUID { return &t.ID })},
		mergeLogs: &memMergeLogs{basetest.NewTable("patientMergeLog", func(l *patient.MergeLog) *uuid.UUID { return &l.ID })},
	}
	f.svc = patient.NewService(people, f.patients, f.idTypes, f.mergeLogs, jsonSerializer{})

	ctx := context.Background()
	f.emrType = &patient.PatientIdentifierType{Validator: patient.ValidatorLuhn}
	f.emrType.Name = "EMR ID"
	f.oldType = &patient.PatientIdentifierType{UniquenessBehavior: patient.NonUnique}
	f.oldType.Name = "Old ID"
	for _, it := range []*patient.PatientIdentifierType{f.emrType, f.oldType} {
		if err := f.svc.SavePatientIdentifierType(ctx, it); err != nil {
			t.Fatalf("save identifier type: %v", err)
		}
	}
	return f
}

func (f *fixture) newPatient(given, family string, ids ...*patient.PatientIdentifier) *patient.Patient {
	return &patient.Patient{Person: *persontest.NewPerson(given, family), Identifiers: ids}
}

func (f *fixture) emrID(v string) *patient.PatientIdentifier {
	return &patient.PatientIdentifier{Identifier: v, IdentifierTypeID: f.emrType.ID}
}

func (f *fixture) oldIDValue(v string) *patient.PatientIdentifier {
	return &patient.PatientIdentifier{Identifier: v, IdentifierTypeID: f.oldType.ID}
}

func TestSavePatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.newPatient("Ada", "Lovelace", f.oldIDValue("X1"), f.emrID("12345-5"))
	if err := f.svc.SavePatient(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Fatal("expected id to be assigned")
	}

	got, err := f.svc.GetPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Names[0].GivenName != "Ada" || len(got.Identifiers) != 2 {
		t.Fatalf("unexpected patient %+v", got)
	}
	if pref := got.PreferredIdentifier(); pref == nil || pref.Identifier != "X1" {
		t.Errorf("expected the first identifier to become preferred, got %+v", pref)
	}
	for _, id := range got.Identifiers {
		if id.PatientID != p.ID || id.Creator != "daemon" {
			t.Errorf("unexpected identifier %+v", id)
		}
	}

	n, err := f.svc.GetCountOfPatients(ctx, patient.Query{Text: "123"})
	if err != nil || n != 1 {
		t.Errorf("expected one patient, got %d (%v)", n, err)
	}
}

func TestSavePatient_KeepsIdentifierAudit(t *testing.T) {
	f := newFixture(t)
	p := f.newPatient("Ada", "Lovelace", f.oldIDValue("X1"), f.emrID("12345-5"))
	if err := f.svc.SavePatient(auth.WithUser(context.Background(), "clerk", nil), p); err != nil {
		t.Fatal(err)
	}
	created := p.Identifiers[0].DateCreated

	nurse := auth.WithUser(context.Background(), "nurse", nil)
	for _, id := range p.Identifiers {
		id.Data = base.Data{}
	}
	p.Identifiers[1].Voided = true
	if err := f.svc.SavePatient(nurse, p); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected voiding without a reason to fail, got %v", err)
	}

	p.Identifiers[1].VoidReason = base.StrPtr("entered twice")
	if err := f.svc.SavePatient(nurse, p); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.GetPatient(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range got.Identifiers {
		if id.Creator != "clerk" || !id.DateCreated.Equal(created) {
			t.Errorf("expected the creation stamp kept, got %q %v", id.Creator, id.DateCreated)
		}
		if id.Identifier == "12345-5" && (!id.Voided || base.StrVal(id.VoidedBy) != "nurse") {
			t.Errorf("expected the identifier voided by the nurse, got %+v", id.Data)
		}
	}
}

func TestCheckPatientIdentifiers_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	format := "[0-9]+-[0-9]"
	formatted := &patient.PatientIdentifierType{Format: &format, UniquenessBehavior: patient.NonUnique}
	formatted.Name = "Formatted"
	located := &patient.PatientIdentifierType{LocationBehavior: patient.LocationRequired}
	located.Name = "Located"
	for _, it := range []*patient.PatientIdentifierType{formatted, located} {
		if err := f.svc.SavePatientIdentifierType(ctx, it); err != nil {
			t.Fatalf("save identifier type: %v", err)
		}
	}

	cases := []struct {
		name string
		ids  []*patient.PatientIdentifier
		want error
		kind error
	}{
		{"none", nil, patient.ErrInsufficientIdentifiers, apierr.ErrValidation},
		{"blank", []*patient.PatientIdentifier{f.oldIDValue("  ")}, patient.ErrBlankIdentifier, apierr.ErrValidation},
		{"bad check digit", []*patient.PatientIdentifier{f.emrID("12345-4")}, patient.ErrInvalidCheckDigit, apierr.ErrValidation},
		{"duplicate", []*patient.PatientIdentifier{f.oldIDValue("A"), f.oldIDValue("A")}, patient.ErrDuplicateIdentifier, apierr.ErrValidation},
		{"format", []*patient.PatientIdentifier{{Identifier: "abc", IdentifierTypeID: formatted.ID}}, patient.ErrInvalidIdentifierFormat, apierr.ErrValidation},
		{"location", []*patient.PatientIdentifier{{Identifier: "L1", IdentifierTypeID: located.ID}}, patient.ErrLocationRequired, apierr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.svc.SavePatient(ctx, f.newPatient("Ada", "Lovelace", tc.ids...))
			if !errors.Is(err, tc.want) || !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var idErr *patient.IdentifierError
			if !errors.As(err, &idErr) {
				t.Fatalf("expected an IdentifierError, got %T", err)
			}
		})
	}

	if err := f.svc.SavePatient(ctx, f.newPatient("Ada", "Lovelace", &patient.PatientIdentifier{Identifier: "1-2", IdentifierTypeID: formatted.ID})); err != nil {
		t.Errorf("expected formatted identifier to pass, got %v", err)
	}
}

func TestCheckPatientIdentifiers_RequiredType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.emrType.Required = true
	if err := f.svc.SavePatientIdentifierType(ctx, f.emrType); err != nil {
		t.Fatal(err)
	}
	err := f.svc.SavePatient(ctx, f.newPatient("Ada", "Lovelace", f.oldIDValue("X1")))
	if !errors.Is(err, patient.ErrMissingRequiredIdentifier) {
		t.Fatalf("expected missing required identifier, got %v", err)
	}

	if _, err := f.svc.RetirePatientIdentifierType(ctx, f.emrType.ID, "replaced"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SavePatient(ctx, f.newPatient("Ada", "Lovelace", f.oldIDValue("X1"))); err != nil {
		t.Errorf("retired required types are not enforced, got %v", err)
	}
}

func TestCheckPatientIdentifiers_Uniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.newPatient("Ada", "Lovelace", f.emrID("12345-5"), f.oldIDValue("SHARED"))
	if err := f.svc.SavePatient(ctx, first); err != nil {
		t.Fatal(err)
	}

	err := f.svc.SavePatient(ctx, f.newPatient("Grace", "Hopper", f.emrID("12345-5")))
	if !errors.Is(err, patient.ErrIdentifierNotUnique) || !errors.Is(err, apierr.ErrConflict) {
		t.Fatalf("expected a uniqueness conflict, got %v", err)
	}

	if err := f.svc.SavePatient(ctx, f.newPatient("Grace", "Hopper", f.oldIDValue("SHARED"))); err != nil {
		t.Errorf("non-unique types may repeat, got %v", err)
	}

	// Saving the same patient again must not conflict with itself.
	again, err := f.svc.GetPatient(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SavePatient(ctx, again); err != nil {
		t.Errorf("unexpected error re-saving: %v", err)
	}

	found, err := f.svc.GetPatientsByIdentifier(ctx, "SHARED", nil, true)
	if err != nil || len(found) != 2 {
		t.Errorf("expected two patients sharing the identifier, got %d (%v)", len(found), err)
	}
}

func TestVoidAndUnvoidPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var voided, unvoided []uuid.UUID
	f.svc.AddCascade(base.Cascade{
		Name: "visits",
		Void: func(_ context.Context, owner uuid.UUID, _, _ string, _ time.Time) error {
			voided = append(voided, owner)
			return nil
		},
		Unvoid: func(_ context.Context, owner uuid.UUID, _ time.Time) error {
			unvoided = append(unvoided, owner)
			return nil
		},
	})

	p := f.newPatient("Ada", "Lovelace", f.emrID("12345-5"))
	if err := f.svc.SavePatient(ctx, p); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.VoidPatient(ctx, p.ID, ""); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected void reason to be required, got %v", err)
	}

	got, err := f.svc.VoidPatient(ctx, p.ID, "duplicate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Voided || !got.Identifiers[0].Voided || len(voided) != 1 {
		t.Fatalf("expected patient, identifiers and dependents voided: %+v", got)
	}
	if ids, _ := f.svc.GetPatientIdentifiers(ctx, "12345", nil, nil, nil); len(ids) != 0 {
		t.Errorf("voided identifiers must not be found, got %d", len(ids))
	}

	got, err = f.svc.UnvoidPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Voided || got.Identifiers[0].Voided || len(unvoided) != 1 {
		t.Errorf("expected everything restored: %+v", got)
	}
	if got.Names[0].Voided {
		t.Error("expected names restored with the person")
	}
}

func TestPurgePatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.newPatient("Ada", "Lovelace", f.emrID("12345-5"))
	if err := f.svc.SavePatient(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.PurgePatient(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.GetPatient(ctx, p.ID); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := f.people.GetPerson(ctx, p.ID); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected the person purged too, got %v", err)
	}
}

func TestProcessDeath_RunsHooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ended []uuid.UUID
	f.svc.AddDeathHook(patient.DeathHook{Name: "visits", Fn: func(_ context.Context, id uuid.UUID, _ time.Time) error {
		ended = append(ended, id)
		return nil
	}})

	p := f.newPatient("Ada", "Lovelace", f.emrID("12345-5"))
	if err := f.svc.SavePatient(ctx, p); err != nil {
		t.Fatal(err)
	}
	died := time.Date(1852, 11, 27, 0, 0, 0, 0, time.UTC)
	got, err := f.svc.ProcessDeath(ctx, p.ID, died, "cancer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Dead || got.DeathDate == nil || !got.DeathDate.Equal(died) {
		t.Errorf("expected death recorded: %+v", got.Person)
	}
	if len(ended) != 1 || ended[0] != p.ID {
		t.Errorf("expected death hook to run once, got %v", ended)
	}

	f.svc.AddDeathHook(patient.DeathHook{Name: "failing", Fn: func(context.Context, uuid.UUID, time.Time) error {
		return errors.New("boom")
	}})
	if _, err := f.svc.ProcessDeath(ctx, p.ID, died, "cancer"); err == nil || !strings.Contains(err.Error(), "failing") {
		t.Errorf("expected hook failure to surface, got %v", err)
	}
}

func TestMergePatients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var repointed [][2]uuid.UUID
	f.svc.AddMergeHook(base.MergeHook{Name: "encounter", Merge: func(_ context.Context, winner, loser uuid.UUID) error {
		repointed = append(repointed, [2]uuid.UUID{winner, loser})
		return nil
	}})

	winner := f.newPatient("Ada", "Lovelace", f.emrID("12345-5"))
	loser := f.newPatient("Augusta", "King", f.emrID("7992739871-3"), f.oldIDValue("OLD-1"))
	for _, p := range []*patient.Patient{winner, loser} {
		if err := f.svc.SavePatient(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := f.svc.MergePatients(ctx, winner.ID, winner.ID); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected self merge to be rejected, got %v", err)
	}

	log, err := f.svc.MergePatients(ctx, winner.ID, loser.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repointed) != 1 || repointed[0] != [2]uuid.UUID{winner.ID, loser.ID} {
		t.Errorf("expected merge hook to run, got %v", repointed)
	}

	w, err := f.svc.GetPatient(ctx, winner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Identifiers) != 3 || w.PreferredIdentifier().Identifier != "12345-5" {
		t.Errorf("expected loser identifiers moved as non-preferred: %+v", w.Identifiers)
	}
	if len(w.Names) != 2 {
		t.Errorf("expected loser names copied, got %d", len(w.Names))
	}

	l, err := f.svc.GetPatient(ctx, loser.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !l.Voided || base.StrVal(l.VoidReason) != "Merged with "+winner.ID.String() {
		t.Errorf("expected loser voided with merge reason, got %+v", l.Data)
	}

	if log.Serializer != "json" || log.WinnerID != winner.ID || log.LoserID != loser.ID {
		t.Fatalf("unexpected merge log %+v", log)
	}
	var data patient.MergedData
	if err := json.Unmarshal([]byte(log.SerializedMergedData), &data); err != nil {
		t.Fatal(err)
	}
	if len(data.MovedIdentifiers) != 2 || data.CopiedNames != 1 || len(data.RepointedEntities) != 1 {
		t.Errorf("unexpected merged data %+v", data)
	}
	logs, err := f.svc.GetMergeLogsByWinner(ctx, winner.ID)
	if err != nil || len(logs) != 1 {
		t.Errorf("expected one merge log, got %d (%v)", len(logs), err)
	}

	if _, err := f.svc.MergePatients(ctx, winner.ID, loser.ID); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("voided patients cannot be merged again, got %v", err)
	}
}

func TestIdentifierTypeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := "[unclosed"
	it := &patient.PatientIdentifierType{Format: &bad}
	it.Name = "Broken"
	if err := f.svc.SavePatientIdentifierType(ctx, it); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected invalid regex to be rejected, got %v", err)
	}

	got, err := f.svc.GetPatientIdentifierTypeByName(ctx, "emr id")
	if err != nil || got.ID != f.emrType.ID || got.UniquenessBehavior != patient.Unique {
		t.Fatalf("unexpected type %+v (%v)", got, err)
	}
	if _, err := f.svc.RetirePatientIdentifierType(ctx, got.ID, "replaced"); err != nil {
		t.Fatal(err)
	}
	active, _ := f.svc.GetAllPatientIdentifierTypes(ctx, false)
	all, _ := f.svc.GetAllPatientIdentifierTypes(ctx, true)
	if len(active) != 1 || len(all) != 2 {
		t.Errorf("expected 1 active and 2 total, got %d and %d", len(active), len(all))
	}
	if _, err := f.svc.UnretirePatientIdentifierType(ctx, got.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.PurgePatientIdentifierType(ctx, f.oldType.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GetPatientIdentifierType(ctx, f.oldType.ID); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected purged type gone, got %v", err)
	}
}
