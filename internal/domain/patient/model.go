package patient

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/person"
	"github.com/ehr/emr/internal/platform/apierr"
)

// Patient is a person with identifiers. The patient id is the person id.
type Patient struct {
	person.Person
	Identifiers []*PatientIdentifier `json:"identifiers"`
}

// PreferredIdentifier returns the preferred non-voided identifier, or nil.
func (p *Patient) PreferredIdentifier() *PatientIdentifier {
	for _, id := range p.Identifiers {
		if id.Preferred && !id.Voided {
			return id
		}
	}
	return nil
}

type PatientIdentifier struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	Identifier       string     `json:"identifier" validate:"max=50"`
	IdentifierTypeID uuid.UUID  `json:"identifier_type_id"`
	LocationID       *uuid.UUID `json:"location_id,omitempty"`
	Preferred        bool       `json:"preferred"`
	base.Data
}

// Location behaviours.
const (
	LocationRequired = "REQUIRED"
	LocationNotUsed  = "NOT_USED"
)

// Uniqueness behaviours.
const (
	Unique         = "UNIQUE"
	NonUnique      = "NON_UNIQUE"
	UniqueLocation = "LOCATION"
)

// ValidatorLuhn requires a trailing Luhn mod-10 check digit.
const ValidatorLuhn = "luhn"

type PatientIdentifierType struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
	Format             *string `json:"format,omitempty"`
	FormatDescription  *string `json:"format_description,omitempty"`
	Required           bool    `json:"required"`
	Validator          string  `json:"validator" validate:"omitempty,oneof=luhn"`
	LocationBehavior   string  `json:"location_behavior" validate:"omitempty,oneof=REQUIRED NOT_USED"`
	UniquenessBehavior string  `json:"uniqueness_behavior" validate:"omitempty,oneof=UNIQUE NON_UNIQUE LOCATION"`
}

// MergeLog records a merge of the loser patient into the winner.
type MergeLog struct {
	ID                   uuid.UUID `json:"id"`
	WinnerID             uuid.UUID `json:"winner_id"`
	LoserID              uuid.UUID `json:"loser_id"`
	Serializer           string    `json:"serializer"`
	SerializedMergedData string    `json:"serialized_merged_data"`
	base.Data
}

// MergedData is the content of a merge log.
type MergedData struct {
	Winner            uuid.UUID `json:"winner" yaml:"winner" toml:"winner"`
	Loser             uuid.UUID `json:"loser" yaml:"loser" toml:"loser"`
	MovedIdentifiers  []string  `json:"moved_identifiers" yaml:"moved_identifiers" toml:"moved_identifiers"`
	CopiedNames       int       `json:"copied_names" yaml:"copied_names" toml:"copied_names"`
	CopiedAddresses   int       `json:"copied_addresses" yaml:"copied_addresses" toml:"copied_addresses"`
	RepointedEntities []string  `json:"repointed_entities" yaml:"repointed_entities" toml:"repointed_entities"`
}

// Query filters patient searches. A query containing a digit matches
// identifiers, anything else matches names.
type Query struct {
	Text          string
	IncludeVoided bool
}

// IdentifierQuery filters identifier lookups; empty fields match anything.
type IdentifierQuery struct {
	Identifier    string
	Exact         bool
	TypeIDs       []uuid.UUID
	LocationIDs   []uuid.UUID
	PatientIDs    []uuid.UUID
	IncludeVoided bool
}

// Reasons an identifier is rejected. Every IdentifierError wraps one of
// them and an apierr kind.
var (
	ErrBlankIdentifier           = errors.New("blank identifier")
	ErrInvalidIdentifierFormat   = errors.New("invalid identifier format")
	ErrInvalidCheckDigit         = errors.New("invalid check digit")
	ErrIdentifierNotUnique       = errors.New("identifier not unique")
	ErrDuplicateIdentifier       = errors.New("duplicate identifier")
	ErrMissingRequiredIdentifier = errors.New("missing required identifier")
	ErrInsufficientIdentifiers   = errors.New("insufficient identifiers")
	ErrLocationRequired          = errors.New("identifier location required")
)

var reasonCodes = map[error]string{
	ErrBlankIdentifier:           "PatientIdentifier.blank",
	ErrInvalidIdentifierFormat:   "PatientIdentifier.invalidFormat",
	ErrInvalidCheckDigit:         "PatientIdentifier.invalidCheckDigit",
	ErrIdentifierNotUnique:       "PatientIdentifier.notUnique",
	ErrDuplicateIdentifier:       "PatientIdentifier.duplicate",
	ErrMissingRequiredIdentifier: "PatientIdentifier.missingRequired",
	ErrInsufficientIdentifiers:   "PatientIdentifier.insufficient",
	ErrLocationRequired:          "PatientIdentifier.locationRequired",
}

// IdentifierError reports why an identifier was rejected.
type IdentifierError struct {
	Reason     error
	Identifier string
	err        *apierr.Error
}

func identifierError(reason error, identifier, format string, args ...interface{}) *IdentifierError {
	var e *apierr.Error
	if reason == ErrIdentifierNotUnique {
		e = apierr.Conflict(reasonCodes[reason], format, args...)
	} else {
		e = apierr.Invalid("identifiers", reasonCodes[reason], format, args...)
	}
	return &IdentifierError{Reason: reason, Identifier: identifier, err: e}
}

func (e *IdentifierError) Error() string {
	if e.Identifier == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s (%s)", e.err.Error(), e.Identifier)
}

func (e *IdentifierError) Unwrap() []error { return []error{e.Reason, e.err} }
