// Package form manages data-entry forms: versioned definitions built from
// reusable fields, plus named resources (layouts, schemas) whose bytes live
// in storage.
package form

import (
	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
)

// StorageModule prefixes the storage keys of form resources.
const StorageModule = "form"

// Unbounded is the max_occurs of a repeatable form field.
const Unbounded = -1

type Form struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	Version         string       `json:"version" validate:"required,max=50"`
	Build           *int         `json:"build,omitempty"`
	Published       bool         `json:"published"`
	EncounterTypeID *uuid.UUID   `json:"encounter_type_id,omitempty"`
	FormFields      []*FormField `json:"form_fields" validate:"dive"`
}

// Field is a question or section that forms place through FormFields.
type Field struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	FieldType      string  `json:"field_type" validate:"oneof=CONCEPT DATABASE SET_OF_CONCEPTS SECTION MISC"`
	Concept        *string `json:"concept,omitempty" validate:"omitempty,max=255"`
	TableName      *string `json:"table_name,omitempty" validate:"omitempty,max=50"`
	AttributeName  *string `json:"attribute_name,omitempty" validate:"omitempty,max=50"`
	DefaultValue   *string `json:"default_value,omitempty"`
	SelectMultiple bool    `json:"select_multiple"`
}

// FormField places a field on a form.
type FormField struct {
	ID                uuid.UUID  `json:"id"`
	FormID            uuid.UUID  `json:"form_id"`
	FieldID           uuid.UUID  `json:"field_id" validate:"required"`
	ParentFormFieldID *uuid.UUID `json:"parent_form_field_id,omitempty"`
	FieldNumber       *int       `json:"field_number,omitempty"`
	FieldPart         *string    `json:"field_part,omitempty" validate:"omitempty,max=5"`
	PageNumber        *int       `json:"page_number,omitempty"`
	MinOccurs         *int       `json:"min_occurs,omitempty" validate:"omitempty,min=0"`
	MaxOccurs         *int       `json:"max_occurs,omitempty" validate:"omitempty,min=-1"`
	Required          bool       `json:"required"`
	SortWeight        float64    `json:"sort_weight"`
}

// FormResource names a stored document attached to a form.
type FormResource struct {
	ID             uuid.UUID `json:"id"`
	FormID         uuid.UUID `json:"form_id"`
	Name           string    `json:"name" validate:"required,max=255"`
	Datatype       string    `json:"datatype"`
	ValueReference string    `json:"value_reference"`
	base.Data
}
