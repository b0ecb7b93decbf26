package provider

import (
	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
)

// Provider is someone who can be recorded as providing care. A provider is
// either linked to a person or carries its own name.
type Provider struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	PersonID   *uuid.UUID        `json:"person_id,omitempty"`
	Identifier *string           `json:"identifier,omitempty" validate:"omitempty,max=255"`
	Attributes []*base.Attribute `json:"attributes"`
}

// Query filters provider searches by name, identifier or person name.
type Query struct {
	Text           string
	IncludeRetired bool
}
