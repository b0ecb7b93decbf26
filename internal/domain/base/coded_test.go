package base

import (
	"errors"
	"testing"

	"github.com/ehr/emr/internal/platform/apierr"
)

func TestCodedOrFreeText_Check(t *testing.T) {
	s := func(v string) *string { return &v }
	cases := []struct {
		name string
		v    CodedOrFreeText
		ok   bool
	}{
		{"coded", CodedOrFreeText{Coded: s("MALARIA")}, true},
		{"coded with name", CodedOrFreeText{Coded: s("MALARIA"), SpecificName: s("Malaria, severe")}, true},
		{"free text", CodedOrFreeText{NonCoded: s("rash on left arm")}, true},
		{"neither", CodedOrFreeText{}, false},
		{"blank text", CodedOrFreeText{NonCoded: s("  ")}, false},
		{"both", CodedOrFreeText{Coded: s("MALARIA"), NonCoded: s("fever")}, false},
		{"name without concept", CodedOrFreeText{NonCoded: s("fever"), SpecificName: s("Fever")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.v.Check("condition")
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, apierr.ErrValidation) {
				t.Errorf("expected a validation error, got %v", err)
			}
		})
	}
}

func TestCodedOrFreeText_Key(t *testing.T) {
	s := func(v string) *string { return &v }
	a := CodedOrFreeText{NonCoded: s("Chest Pain ")}
	b := CodedOrFreeText{NonCoded: s("chest pain")}
	if a.Key() != b.Key() {
		t.Errorf("expected free text keys to ignore case, got %q and %q", a.Key(), b.Key())
	}
	if (CodedOrFreeText{Coded: s("X")}).Key() == (CodedOrFreeText{NonCoded: s("X")}).Key() {
		t.Error("coded and free text keys must differ")
	}
}
