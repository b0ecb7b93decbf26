package person

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
)

// Person is the demographic record shared by patients, providers and users.
type Person struct {
	ID                 uuid.UUID          `json:"id"`
	Gender             string             `json:"gender" validate:"required,oneof=M F O U"`
	Birthdate          *time.Time         `json:"birthdate,omitempty"`
	BirthdateEstimated bool               `json:"birthdate_estimated"`
	Dead               bool               `json:"dead"`
	DeathDate          *time.Time         `json:"death_date,omitempty"`
	CauseOfDeath       *string            `json:"cause_of_death,omitempty"`
	Names              []*PersonName      `json:"names"`
	Addresses          []*PersonAddress   `json:"addresses"`
	Attributes         []*PersonAttribute `json:"attributes"`
	base.Data
}

type PersonName struct {
	ID          uuid.UUID `json:"id"`
	PersonID    uuid.UUID `json:"person_id"`
	Prefix      *string   `json:"prefix,omitempty"`
	GivenName   string    `json:"given_name" validate:"max=50"`
	MiddleName  *string   `json:"middle_name,omitempty"`
	FamilyName  string    `json:"family_name" validate:"max=50"`
	FamilyName2 *string   `json:"family_name2,omitempty"`
	Preferred   bool      `json:"preferred"`
	base.Data
}

// FullName joins the given, middle and family names.
func (n *PersonName) FullName() string {
	s := n.GivenName
	if n.MiddleName != nil && *n.MiddleName != "" {
		s += " " + *n.MiddleName
	}
	return s + " " + n.FamilyName
}

type PersonAddress struct {
	ID            uuid.UUID `json:"id"`
	PersonID      uuid.UUID `json:"person_id"`
	Address1      *string   `json:"address1,omitempty"`
	Address2      *string   `json:"address2,omitempty"`
	CityVillage   *string   `json:"city_village,omitempty"`
	StateProvince *string   `json:"state_province,omitempty"`
	Country       *string   `json:"country,omitempty"`
	PostalCode    *string   `json:"postal_code,omitempty"`
	Preferred     bool      `json:"preferred"`
	base.Data
}

type PersonAttribute struct {
	ID              uuid.UUID `json:"id"`
	PersonID        uuid.UUID `json:"person_id"`
	AttributeTypeID uuid.UUID `json:"attribute_type_id"`
	Value           string    `json:"value"`
	base.Data
}

// Attribute formats.
const (
	FormatString  = "string"
	FormatInteger = "integer"
	FormatBoolean = "boolean"
	FormatDate    = "date"
)

type PersonAttributeType struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	Format     string `json:"format" validate:"required,oneof=string integer boolean date"`
	Searchable bool   `json:"searchable"`
	SortWeight int    `json:"sort_weight"`
}

type RelationshipType struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	AIsToB string `json:"a_is_to_b" validate:"required,max=50"`
	BIsToA string `json:"b_is_to_a" validate:"required,max=50"`
}

type Relationship struct {
	ID                 uuid.UUID  `json:"id"`
	PersonA            uuid.UUID  `json:"person_a" validate:"required"`
	PersonB            uuid.UUID  `json:"person_b" validate:"required"`
	RelationshipTypeID uuid.UUID  `json:"relationship_type_id" validate:"required"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	base.Data
}

// ActiveOn reports whether the relationship is in effect on date.
func (r *Relationship) ActiveOn(date time.Time) bool {
	if r.StartDate != nil && date.Before(*r.StartDate) {
		return false
	}
	return r.EndDate == nil || date.Before(*r.EndDate)
}

// Query filters person searches.
type Query struct {
	Name          string
	Dead          *bool
	IncludeVoided bool
}

// RelationshipQuery filters relationship lookups; nil fields match anything.
type RelationshipQuery struct {
	PersonA       *uuid.UUID
	PersonB       *uuid.UUID
	TypeID        *uuid.UUID
	Person        *uuid.UUID
	EffectiveDate *time.Time
	IncludeVoided bool
}
