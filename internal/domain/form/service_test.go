package form

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base/basetest"
	"github.com/ehr/emr/internal/domain/storage"
	"github.com/ehr/emr/internal/platform/apierr"
)

// memForms keeps the form fields of each form alongside the row.
type memForms struct {
	*basetest.Table[Form]
	fields *memFields
}

func (m *memForms) copyFields(f *Form) *Form {
	cp := *f
	cp.FormFields = nil
	for _, ff := range f.FormFields {
		c := *ff
		c.FormID = f.ID
		cp.FormFields = append(cp.FormFields, &c)
	}
	return &cp
}

func (m *memForms) Create(ctx context.Context, f *Form) error {
	if err := m.Table.Create(ctx, f); err != nil {
		return err
	}
	return m.Table.Update(ctx, m.copyFields(f))
}

func (m *memForms) Update(ctx context.Context, f *Form) error {
	return m.Table.Update(ctx, m.copyFields(f))
}

func (m *memForms) GetByNameAndVersion(_ context.Context, name, version string) (*Form, error) {
	for _, f := range m.Filter(func(f *Form) bool { return strings.EqualFold(f.Name, name) && f.Version == version }) {
		return f, nil
	}
	return nil, apierr.NotFound("form", name+" "+version)
}

func (m *memForms) ListByName(_ context.Context, name string) ([]*Form, error) {
	return m.Filter(func(f *Form) bool { return strings.EqualFold(f.Name, name) }), nil
}

func (m *memForms) List(_ context.Context, includeRetired bool) ([]*Form, error) {
	return m.Filter(func(f *Form) bool { return includeRetired || !f.Retired }), nil
}

func (m *memForms) ListPublished(context.Context) ([]*Form, error) {
	return m.Filter(func(f *Form) bool { return f.Published && !f.Retired }), nil
}

func (m *memForms) ListContainingConcept(_ context.Context, concept string) ([]*Form, error) {
	byID := make(map[uuid.UUID]string)
	for _, f := range m.fields.Filter(nil) {
		if f.Concept != nil {
			byID[f.ID] = *f.Concept
		}
	}
	return m.Filter(func(f *Form) bool {
		for _, ff := range f.FormFields {
			if byID[ff.FieldID] == concept {
				return !f.Retired
			}
		}
		return false
	}), nil
}

type memFields struct {
	*basetest.Table[Field]
}

func (m *memFields) Find(_ context.Context, fragment string, includeRetired bool) ([]*Field, error) {
	return m.Filter(func(f *Field) bool {
		return (includeRetired || !f.Retired) && strings.Contains(strings.ToLower(f.Name), strings.ToLower(fragment))
	}), nil
}

type memResources struct {
	*basetest.Table[FormResource]
}

func (m *memResources) GetByName(_ context.Context, formID uuid.UUID, name string) (*FormResource, error) {
	for _, r := range m.Filter(func(r *FormResource) bool { return r.FormID == formID && r.Name == name }) {
		return r, nil
	}
	return nil, apierr.NotFound("formResource", name)
}

func (m *memResources) ListByForm(_ context.Context, formID uuid.UUID) ([]*FormResource, error) {
	return m.Filter(func(r *FormResource) bool { return r.FormID == formID }), nil
}

type fixture struct {
	svc       *Service
	forms     *memForms
	resources *memResources
	store     *storage.Service
	weight    *Field
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fields := &memFields{basetest.NewTable("field", func(f *Field) *uuid.UUID { return &f.ID })}
	f := &fixture{
		forms:     &memForms{Table: basetest.NewTable("form", func(f *Form) *uuid.UUID { return &f.ID }), fields: fields},
		resources: &memResources{basetest.NewTable("formResource", func(r *FormResource) *uuid.UUID { return &r.ID })},
		store:     storage.NewService(storage.NewMemoryBackend()),
	}
	f.svc = NewService(f.forms, fields, f.resources, f.store)
	f.weight = &Field{Concept: strPtr("WEIGHT")}
	f.weight.Name = "Weight (kg)"
	if err := f.svc.SaveField(context.Background(), f.weight); err != nil {
		t.Fatal(err)
	}
	return f
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func (f *fixture) form(t *testing.T, name, version string) *Form {
	t.Helper()
	fm := &Form{Version: version, FormFields: []*FormField{{FieldID: f.weight.ID, MinOccurs: intPtr(1), MaxOccurs: intPtr(1)}}}
	fm.Name = name
	if err := f.svc.SaveForm(context.Background(), fm); err != nil {
		t.Fatalf("SaveForm: %v", err)
	}
	return fm
}

func TestSaveForm_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.form(t, "Vitals", "1.0")

	noVersion := &Form{}
	noVersion.Name = "Vitals"
	dup := &Form{Version: "1.0"}
	dup.Name = " vitals "
	occurs := &Form{Version: "2.0", FormFields: []*FormField{{FieldID: f.weight.ID, MinOccurs: intPtr(2), MaxOccurs: intPtr(1)}}}
	occurs.Name = "Vitals"
	unknownField := &Form{Version: "2.0", FormFields: []*FormField{{FieldID: uuid.New()}}}
	unknownField.Name = "Vitals"
	orphan := &Form{Version: "2.0", FormFields: []*FormField{{FieldID: f.weight.ID, ParentFormFieldID: &f.weight.ID}}}
	orphan.Name = "Vitals"

	cases := []struct {
		name string
		form *Form
		want error
	}{
		{"missing version", noVersion, apierr.ErrValidation},
		{"duplicate name and version", dup, apierr.ErrConflict},
		{"max below min", occurs, apierr.ErrValidation},
		{"unknown field", unknownField, apierr.ErrNotFound},
		{"parent not on form", orphan, apierr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.svc.SaveForm(ctx, tc.form); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}

	unbounded := &Form{Version: "2.0", FormFields: []*FormField{{FieldID: f.weight.ID, MinOccurs: intPtr(1), MaxOccurs: intPtr(Unbounded)}}}
	unbounded.Name = "Vitals"
	if err := f.svc.SaveForm(ctx, unbounded); err != nil {
		t.Errorf("expected an unbounded field to save, got %v", err)
	}
}

func TestGetLatestForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.form(t, "Intake", "1.2.0")
	f.form(t, "Intake", "1.10.0")
	f.form(t, "Intake", "draft")
	retired := f.form(t, "Intake", "2.0.0")
	if _, err := f.svc.RetireForm(ctx, retired.ID, "withdrawn"); err != nil {
		t.Fatal(err)
	}

	latest, err := f.svc.GetLatestForm(ctx, "intake")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != "1.10.0" {
		t.Errorf("expected 1.10.0, got %s", latest.Version)
	}
	if _, err := f.svc.GetLatestForm(ctx, "Discharge"); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestVersionLess(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"1.2", "1.10", true},
		{"1.10", "1.2", false},
		{"draft", "0.1", true},
		{"0.1", "draft", false},
		{"alpha", "beta", true},
	}
	for _, tc := range cases {
		if got := versionLess(tc.a, tc.b); got != tc.want {
			t.Errorf("versionLess(%q, %q) = %v", tc.a, tc.b, got)
		}
	}
}

func TestGetFormsContainingConcept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.form(t, "Vitals", "1")
	empty := &Form{Version: "1"}
	empty.Name = "Notes"
	if err := f.svc.SaveForm(ctx, empty); err != nil {
		t.Fatal(err)
	}

	forms, err := f.svc.GetFormsContainingConcept(ctx, "WEIGHT")
	if err != nil || len(forms) != 1 || forms[0].Name != "Vitals" {
		t.Errorf("expected only Vitals, got %v (%v)", forms, err)
	}
}

func TestFormResources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fm := f.form(t, "Vitals", "1.0")

	r, err := f.svc.SaveFormResource(ctx, fm.ID, "layout", strings.NewReader("<html/>"), "layout.html", "text/html")
	if err != nil {
		t.Fatal(err)
	}
	first := r.ValueReference
	r2, err := f.svc.SaveFormResource(ctx, fm.ID, "layout", strings.NewReader("<html>v2</html>"), "layout.html", "text/html")
	if err != nil {
		t.Fatal(err)
	}
	if r2.ID != r.ID || r2.ValueReference == first {
		t.Errorf("expected the resource replaced in place, got %+v", r2)
	}
	if ok, _ := f.store.Exists(ctx, first); ok {
		t.Error("expected the replaced bytes purged")
	}

	rc, meta, err := f.svc.GetFormResourceData(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "<html>v2</html>" || meta.MimeType != "text/html" {
		t.Errorf("unexpected resource data %q (%s)", data, meta.MimeType)
	}

	if _, err := f.svc.SaveFormResource(ctx, uuid.New(), "layout", strings.NewReader("x"), "", ""); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected an unknown form to fail, got %v", err)
	}

	if err := f.svc.PurgeForm(ctx, fm.ID); err != nil {
		t.Fatal(err)
	}
	if f.resources.Len() != 0 {
		t.Errorf("expected resources purged with the form, got %d", f.resources.Len())
	}
	if ok, _ := f.store.Exists(ctx, r2.ValueReference); ok {
		t.Error("expected the resource bytes purged")
	}
}

func TestDuplicateForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.form(t, "Vitals", "1.0")
	src.Published = true
	section := &Field{FieldType: "SECTION"}
	section.Name = "Measurements"
	if err := f.svc.SaveField(ctx, section); err != nil {
		t.Fatal(err)
	}
	parent := &FormField{FieldID: section.ID}
	if err := f.svc.SaveForm(ctx, src); err != nil {
		t.Fatal(err)
	}
	src.FormFields = append(src.FormFields, parent)
	src.FormFields[0].ParentFormFieldID = &parent.ID
	parent.ID = uuid.New()
	if err := f.svc.SaveForm(ctx, src); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SaveFormResource(ctx, src.ID, "schema", strings.NewReader("{}"), "schema.json", "application/json"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.DuplicateForm(ctx, src.ID, "", ""); !errors.Is(err, apierr.ErrConflict) {
		t.Errorf("expected a copy with the same name and version to conflict, got %v", err)
	}
	cp, err := f.svc.DuplicateForm(ctx, src.ID, "", "1.1")
	if err != nil {
		t.Fatal(err)
	}
	if cp.ID == src.ID || cp.Name != "Vitals" || cp.Published || len(cp.FormFields) != 2 {
		t.Fatalf("unexpected copy %+v", cp)
	}
	var child *FormField
	for _, ff := range cp.FormFields {
		if ff.ParentFormFieldID != nil {
			child = ff
		}
	}
	if child == nil || *child.ParentFormFieldID == parent.ID {
		t.Errorf("expected the copy's hierarchy re-pointed at its own fields, got %+v", child)
	}
	resources, _ := f.svc.GetFormResourcesForForm(ctx, cp.ID)
	if len(resources) != 1 || resources[0].Name != "schema" {
		t.Errorf("expected the resource copied, got %v", resources)
	}
}

func TestSaveField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	noConcept := &Field{}
	noConcept.Name = "Height"
	if err := f.svc.SaveField(ctx, noConcept); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected a concept field without concept to fail, got %v", err)
	}
	database := &Field{FieldType: "DATABASE", TableName: strPtr("patient")}
	database.Name = "Birthdate"
	if err := f.svc.SaveField(ctx, database); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected a database field without attribute to fail, got %v", err)
	}
	found, err := f.svc.GetFieldsByName(ctx, "weight")
	if err != nil || len(found) != 1 {
		t.Errorf("expected the weight field found, got %v (%v)", found, err)
	}
}
