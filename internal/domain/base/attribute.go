package base

import (
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/platform/apierr"
)

// Attribute datatypes.
const (
	DatatypeFreeText = "free_text"
	DatatypeBoolean  = "boolean"
	DatatypeDate     = "date"
	DatatypeInteger  = "integer"
	DatatypeRegex    = "regex"
)

// AttributeType describes a customizable attribute of providers and visits.
// For the regex datatype DatatypeConfig holds the pattern.
type AttributeType struct {
	ID uuid.UUID `json:"id"`
	Metadata
	Datatype       string  `json:"datatype" validate:"omitempty,oneof=free_text boolean date integer regex"`
	DatatypeConfig *string `json:"datatype_config,omitempty"`
	MinOccurs      int     `json:"min_occurs" validate:"min=0"`
	MaxOccurs      *int    `json:"max_occurs,omitempty"`
}

// Attribute is one value of an AttributeType attached to OwnerID.
type Attribute struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         uuid.UUID `json:"owner_id"`
	AttributeTypeID uuid.UUID `json:"attribute_type_id"`
	Value           string    `json:"value" validate:"max=50000"`
	Data
}

// AttributeKey exposes an attribute to StampDetails.
func AttributeKey(a *Attribute) (*uuid.UUID, *Data) { return &a.ID, &a.Data }

// AttributeTypeColumns match AttributeType.Fields after the id.
const AttributeTypeColumns = `datatype, datatype_config, min_occurs, max_occurs, ` + MetadataColumns

func (t *AttributeType) Fields() []interface{} {
	return Args([]interface{}{&t.ID, &t.Datatype, &t.DatatypeConfig, &t.MinOccurs, &t.MaxOccurs}, t.Metadata.Fields())
}

func (t *AttributeType) Values() []interface{} {
	return Args([]interface{}{t.Datatype, t.DatatypeConfig, t.MinOccurs, t.MaxOccurs}, t.Metadata.Values())
}

// AttributeColumns are the attribute columns after id and the owner column.
const AttributeColumns = `attribute_type_id, value, ` + DataColumns

// CheckValue reports whether v is valid for the type's datatype.
func (t *AttributeType) CheckValue(v string) error {
	var err error
	switch t.Datatype {
	case DatatypeBoolean:
		_, err = strconv.ParseBool(v)
	case DatatypeDate:
		_, err = time.Parse("2006-01-02", v)
	case DatatypeInteger:
		_, err = strconv.Atoi(v)
	case DatatypeRegex:
		var re *regexp.Regexp
		if re, err = regexp.Compile("^(?:" + StrVal(t.DatatypeConfig) + ")$"); err == nil && !re.MatchString(v) {
			return apierr.Invalid("attributes", "Attribute.value.invalid", "%s must match %s", t.Name, StrVal(t.DatatypeConfig))
		}
	}
	if err != nil {
		return apierr.Invalid("attributes", "Attribute.value.invalid", "%q is not a valid %s for %s", v, t.Datatype, t.Name)
	}
	return nil
}

// CheckAttributes validates the non-voided attributes against their types
// and the min / max occurrence of every non-retired type.
func CheckAttributes(types []*AttributeType, attrs []*Attribute) error {
	byID := make(map[uuid.UUID]*AttributeType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}
	counts := make(map[uuid.UUID]int)
	for _, a := range attrs {
		if a.Voided {
			continue
		}
		t, ok := byID[a.AttributeTypeID]
		if !ok {
			return apierr.NotFound("attributeType", a.AttributeTypeID)
		}
		if err := t.CheckValue(a.Value); err != nil {
			return err
		}
		counts[t.ID]++
	}
	for _, t := range types {
		if t.Retired {
			continue
		}
		n := counts[t.ID]
		if n < t.MinOccurs {
			return apierr.Invalid("attributes", "Attribute.minOccurs", "%s needs at least %d value(s)", t.Name, t.MinOccurs)
		}
		if t.MaxOccurs != nil && n > *t.MaxOccurs {
			return apierr.Invalid("attributes", "Attribute.maxOccurs", "%s allows at most %d value(s)", t.Name, *t.MaxOccurs)
		}
	}
	return nil
}

// Check validates the occurrence bounds and the regex config of a type.
func (t *AttributeType) Check() error {
	if t.MaxOccurs != nil && *t.MaxOccurs < t.MinOccurs {
		return apierr.Invalid("max_occurs", "AttributeType.maxOccurs.invalid", "max_occurs must be at least min_occurs")
	}
	if t.Datatype == DatatypeRegex {
		if _, err := regexp.Compile(StrVal(t.DatatypeConfig)); err != nil {
			return apierr.Invalid("datatype_config", "AttributeType.datatypeConfig.invalid", "datatype_config is not a valid regular expression")
		}
	}
	return nil
}
