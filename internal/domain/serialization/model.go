package serialization

import (
	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
)

// SerializedObject is an arbitrary value persisted in serialized form, such
// as a saved search definition or a merge record.
type SerializedObject struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	Type           string `json:"type" validate:"required,max=255"`
	Subtype        string `json:"subtype,omitempty"`
	Serializer     string `json:"serializer"`
	SerializedData string `json:"serialized_data"`
}

var errInvalidValue = apierr.Invalid("value", "serialization.value.invalid", "value must be valid JSON")
