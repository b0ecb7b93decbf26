package base

import (
	"strings"

	"github.com/ehr/emr/internal/platform/apierr"
)

// CodedOrFreeText is a clinical value given either as a concept (with an
// optional specific name) or as free text.
type CodedOrFreeText struct {
	Coded        *string `json:"coded,omitempty" validate:"omitempty,max=255"`
	SpecificName *string `json:"specific_name,omitempty" validate:"omitempty,max=255"`
	NonCoded     *string `json:"non_coded,omitempty" validate:"omitempty,max=1024"`
}

// Check requires exactly one of Coded and NonCoded. A specific name needs a
// coded value.
func (v CodedOrFreeText) Check(field string) error {
	coded, free := strings.TrimSpace(StrVal(v.Coded)) != "", strings.TrimSpace(StrVal(v.NonCoded)) != ""
	switch {
	case coded == free:
		return apierr.Invalid(field, "CodedOrFreeText.error.exactlyOne", "%s needs exactly one of coded or non_coded", field)
	case v.SpecificName != nil && !coded:
		return apierr.Invalid(field, "CodedOrFreeText.error.nameWithoutConcept", "%s has a specific name without a concept", field)
	}
	return nil
}

// Key identifies the value for de-duplication: the concept when coded,
// else the lower-cased text.
func (v CodedOrFreeText) Key() string {
	if c := StrVal(v.Coded); c != "" {
		return "c:" + c
	}
	return "t:" + strings.ToLower(strings.TrimSpace(StrVal(v.NonCoded)))
}

// Fields returns scan targets for the coded, specific name and non-coded
// columns.
func (v *CodedOrFreeText) Fields() []interface{} {
	return []interface{}{&v.Coded, &v.SpecificName, &v.NonCoded}
}

func (v *CodedOrFreeText) Values() []interface{} {
	return []interface{}{v.Coded, v.SpecificName, v.NonCoded}
}
