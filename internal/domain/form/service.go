package form

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/storage"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
)

// ResourceStore keeps the bytes of form resources.
type ResourceStore interface {
	SaveData(ctx context.Context, content io.Reader, meta storage.Metadata, moduleID string) (string, error)
	GetData(ctx context.Context, key string) (io.ReadCloser, *storage.Metadata, error)
	PurgeData(ctx context.Context, key string) error
}

type Service struct {
	base.Support
	forms     FormRepository
	fields    FieldRepository
	resources ResourceRepository
	store     ResourceStore
}

func NewService(forms FormRepository, fields FieldRepository, resources ResourceRepository, store ResourceStore) *Service {
	return &Service{forms: forms, fields: fields, resources: resources, store: store}
}

// SaveForm stores the form and its form fields. Name and version together
// identify a form.
func (s *Service) SaveForm(ctx context.Context, f *Form) error {
	f.Name = strings.TrimSpace(f.Name)
	f.Version = strings.TrimSpace(f.Version)
	if err := validate.Struct("Form", f); err != nil {
		return err
	}
	if err := s.checkFormFields(ctx, f); err != nil {
		return err
	}
	other, err := s.forms.GetByNameAndVersion(ctx, f.Name, f.Version)
	switch {
	case err == nil && other.ID != f.ID:
		return apierr.Conflict("Form.duplicate", "form %s version %s already exists", f.Name, f.Version)
	case err != nil && !errors.Is(err, apierr.ErrNotFound):
		return err
	}

	actor := auth.ActorFromContext(ctx)
	err = s.InTx(ctx, func(ctx context.Context) error {
		if f.ID == uuid.Nil {
			f.Metadata.Stamp(actor, true)
			return s.forms.Create(ctx, f)
		}
		stored, err := s.forms.GetByID(ctx, f.ID)
		if err != nil {
			return err
		}
		f.Metadata.Preserve(stored.Metadata)
		f.Metadata.Stamp(actor, false)
		return s.forms.Update(ctx, f)
	})
	if err != nil {
		return err
	}
	s.Record("form", "save")
	return nil
}

func (s *Service) checkFormFields(ctx context.Context, f *Form) error {
	ids := make(map[uuid.UUID]bool, len(f.FormFields))
	for _, ff := range f.FormFields {
		if ff.ID == uuid.Nil {
			ff.ID = uuid.New()
		}
		ids[ff.ID] = true
	}
	for _, ff := range f.FormFields {
		if ff.MinOccurs != nil && ff.MaxOccurs != nil && *ff.MaxOccurs != Unbounded && *ff.MaxOccurs < *ff.MinOccurs {
			return apierr.Invalid("max_occurs", "FormField.error.minOccursGreaterThanMaxOccurs", "max_occurs must not be below min_occurs")
		}
		if ff.ParentFormFieldID != nil && !ids[*ff.ParentFormFieldID] {
			return apierr.Invalid("parent_form_field_id", "FormField.error.parentNotOnForm", "parent form field %s is not on the form", *ff.ParentFormFieldID)
		}
		if _, err := s.fields.GetByID(ctx, ff.FieldID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetForm(ctx context.Context, id uuid.UUID) (*Form, error) {
	return s.forms.GetByID(ctx, id)
}

func (s *Service) GetFormByNameAndVersion(ctx context.Context, name, version string) (*Form, error) {
	return s.forms.GetByNameAndVersion(ctx, strings.TrimSpace(name), strings.TrimSpace(version))
}

// GetLatestForm returns the non-retired form named name with the highest
// version. Versions that are not semantic versions rank below those that
// are and compare as strings among themselves.
func (s *Service) GetLatestForm(ctx context.Context, name string) (*Form, error) {
	forms, err := s.forms.ListByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	var latest *Form
	for _, f := range forms {
		if f.Retired {
			continue
		}
		if latest == nil || versionLess(latest.Version, f.Version) {
			latest = f
		}
	}
	if latest == nil {
		return nil, apierr.NotFound("form", name)
	}
	return latest, nil
}

func versionLess(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.LessThan(vb)
	case errA == nil:
		return false
	case errB == nil:
		return true
	}
	return a < b
}

func (s *Service) GetAllForms(ctx context.Context, includeRetired bool) ([]*Form, error) {
	return s.forms.List(ctx, includeRetired)
}

func (s *Service) GetPublishedForms(ctx context.Context) ([]*Form, error) {
	return s.forms.ListPublished(ctx)
}

func (s *Service) GetFormsContainingConcept(ctx context.Context, concept string) ([]*Form, error) {
	return s.forms.ListContainingConcept(ctx, strings.TrimSpace(concept))
}

func (s *Service) RetireForm(ctx context.Context, id uuid.UUID, reason string) (*Form, error) {
	return base.RetireByID[*Form](ctx, s.forms, id, reason)
}

func (s *Service) UnretireForm(ctx context.Context, id uuid.UUID) (*Form, error) {
	return base.UnretireByID[*Form](ctx, s.forms, id)
}

// PurgeForm deletes the form, its fields placement and its resources.
func (s *Service) PurgeForm(ctx context.Context, id uuid.UUID) error {
	resources, err := s.resources.ListByForm(ctx, id)
	if err != nil {
		return err
	}
	for _, r := range resources {
		if err := s.PurgeFormResource(ctx, r.ID); err != nil {
			return err
		}
	}
	if err := s.forms.Delete(ctx, id); err != nil {
		return err
	}
	s.Record("form", "purge")
	return nil
}

// DuplicateForm copies a form with its form fields and resources. Blank
// name or version keep the source's; the copy is unpublished.
func (s *Service) DuplicateForm(ctx context.Context, id uuid.UUID, name, version string) (*Form, error) {
	src, err := s.forms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := &Form{
		Version:         src.Version,
		Build:           src.Build,
		EncounterTypeID: src.EncounterTypeID,
	}
	cp.Name, cp.Description = src.Name, src.Description
	if name = strings.TrimSpace(name); name != "" {
		cp.Name = name
	}
	if version = strings.TrimSpace(version); version != "" {
		cp.Version = version
	}
	newIDs := make(map[uuid.UUID]uuid.UUID, len(src.FormFields))
	for _, ff := range src.FormFields {
		newIDs[ff.ID] = uuid.New()
	}
	for _, ff := range src.FormFields {
		c := *ff
		c.ID, c.FormID = newIDs[ff.ID], uuid.Nil
		if ff.ParentFormFieldID != nil {
			parent := newIDs[*ff.ParentFormFieldID]
			c.ParentFormFieldID = &parent
		}
		cp.FormFields = append(cp.FormFields, &c)
	}

	err = s.InTx(ctx, func(ctx context.Context) error {
		if err := s.SaveForm(ctx, cp); err != nil {
			return err
		}
		resources, err := s.resources.ListByForm(ctx, src.ID)
		if err != nil {
			return err
		}
		for _, r := range resources {
			if _, err := s.copyResource(ctx, r, cp.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Log().Info().Stringer("from", src.ID).Stringer("to", cp.ID).Msg("duplicated form")
	return cp, nil
}

func (s *Service) copyResource(ctx context.Context, r *FormResource, formID uuid.UUID) (*FormResource, error) {
	rc, meta, err := s.store.GetData(ctx, r.ValueReference)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return s.SaveFormResource(ctx, formID, r.Name, rc, meta.Filename, meta.MimeType)
}

func (s *Service) SaveField(ctx context.Context, f *Field) error {
	f.Name = strings.TrimSpace(f.Name)
	if f.FieldType == "" {
		f.FieldType = "CONCEPT"
	}
	if err := validate.Struct("Field", f); err != nil {
		return err
	}
	if f.FieldType == "CONCEPT" && base.StrVal(f.Concept) == "" {
		return apierr.Invalid("concept", "Field.error.conceptRequired", "concept fields need a concept")
	}
	if f.FieldType == "DATABASE" && (base.StrVal(f.TableName) == "" || base.StrVal(f.AttributeName) == "") {
		return apierr.Invalid("table_name", "Field.error.tableAndAttributeRequired", "database fields need a table and attribute name")
	}
	actor := auth.ActorFromContext(ctx)
	if f.ID == uuid.Nil {
		f.Metadata.Stamp(actor, true)
		return s.fields.Create(ctx, f)
	}
	stored, err := s.fields.GetByID(ctx, f.ID)
	if err != nil {
		return err
	}
	f.Metadata.Preserve(stored.Metadata)
	f.Metadata.Stamp(actor, false)
	return s.fields.Update(ctx, f)
}

func (s *Service) GetField(ctx context.Context, id uuid.UUID) (*Field, error) {
	return s.fields.GetByID(ctx, id)
}

// GetFieldsByName lists the non-retired fields whose name contains fragment.
func (s *Service) GetFieldsByName(ctx context.Context, fragment string) ([]*Field, error) {
	return s.fields.Find(ctx, strings.TrimSpace(fragment), false)
}

func (s *Service) RetireField(ctx context.Context, id uuid.UUID, reason string) (*Field, error) {
	return base.RetireByID[*Field](ctx, s.fields, id, reason)
}

// PurgeField fails while a form still places the field.
func (s *Service) PurgeField(ctx context.Context, id uuid.UUID) error {
	return s.fields.Delete(ctx, id)
}

// SaveFormResource stores content under the form's resource name,
// replacing the bytes of an existing resource with that name.
func (s *Service) SaveFormResource(ctx context.Context, formID uuid.UUID, name string, content io.Reader, filename, mimeType string) (*FormResource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierr.Invalid("name", "FormResource.error.name.required", "a resource name is required")
	}
	if _, err := s.forms.GetByID(ctx, formID); err != nil {
		return nil, err
	}
	if filename == "" {
		filename = name
	}
	key, err := s.store.SaveData(ctx, content, storage.Metadata{Filename: filename, MimeType: mimeType}, StorageModule)
	if err != nil {
		return nil, err
	}

	actor := auth.ActorFromContext(ctx)
	r, err := s.resources.GetByName(ctx, formID, name)
	switch {
	case err == nil:
		old := r.ValueReference
		r.ValueReference, r.Datatype = key, mimeType
		r.Data.Stamp(actor, false)
		if err = s.resources.Update(ctx, r); err == nil {
			s.purgeData(ctx, old)
		}
	case errors.Is(err, apierr.ErrNotFound):
		r = &FormResource{FormID: formID, Name: name, Datatype: mimeType, ValueReference: key}
		r.Data.Stamp(actor, true)
		err = s.resources.Create(ctx, r)
	}
	if err != nil {
		s.purgeData(ctx, key)
		return nil, err
	}
	s.Record("formResource", "save")
	return r, nil
}

func (s *Service) purgeData(ctx context.Context, key string) {
	if err := s.store.PurgeData(ctx, key); err != nil && !errors.Is(err, apierr.ErrNotFound) {
		s.Log().Warn().Err(err).Str("key", key).Msg("purge form resource data")
	}
}

func (s *Service) GetFormResource(ctx context.Context, id uuid.UUID) (*FormResource, error) {
	return s.resources.GetByID(ctx, id)
}

func (s *Service) GetFormResourceByName(ctx context.Context, formID uuid.UUID, name string) (*FormResource, error) {
	return s.resources.GetByName(ctx, formID, strings.TrimSpace(name))
}

func (s *Service) GetFormResourceData(ctx context.Context, id uuid.UUID) (io.ReadCloser, *storage.Metadata, error) {
	r, err := s.resources.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return s.store.GetData(ctx, r.ValueReference)
}

func (s *Service) GetFormResourcesForForm(ctx context.Context, formID uuid.UUID) ([]*FormResource, error) {
	return s.resources.ListByForm(ctx, formID)
}

func (s *Service) PurgeFormResource(ctx context.Context, id uuid.UUID) error {
	r, err := s.resources.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.resources.Delete(ctx, id); err != nil {
		return err
	}
	s.purgeData(ctx, r.ValueReference)
	return nil
}
