package location

import (
	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
)

// UnknownLocation is the fallback default location name.
const UnknownLocation = "Unknown Location"

// Location is a place where care is delivered. Locations form a tree
// through ParentLocationID and are grouped by tags.
type Location struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	Address1         *string     `json:"address1,omitempty" validate:"omitempty,max=255"`
	Address2         *string     `json:"address2,omitempty" validate:"omitempty,max=255"`
	CityVillage      *string     `json:"city_village,omitempty" validate:"omitempty,max=255"`
	StateProvince    *string     `json:"state_province,omitempty" validate:"omitempty,max=255"`
	PostalCode       *string     `json:"postal_code,omitempty" validate:"omitempty,max=50"`
	Country          *string     `json:"country,omitempty" validate:"omitempty,max=50"`
	Latitude         *string     `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude        *string     `json:"longitude,omitempty" validate:"omitempty,longitude"`
	ParentLocationID *uuid.UUID  `json:"parent_location_id,omitempty"`
	Tags             []uuid.UUID `json:"tags"`
}

// HasTag reports whether the location carries the tag.
func (l *Location) HasTag(tagID uuid.UUID) bool {
	for _, t := range l.Tags {
		if t == tagID {
			return true
		}
	}
	return false
}

type LocationTag struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
}

type Query struct {
	Text           string
	IncludeRetired bool
}
