package base

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/platform/apierr"
)

func TestAttributeType_CheckValue(t *testing.T) {
	pattern := "[A-Z]{3}"
	cases := []struct {
		datatype string
		config   *string
		value    string
		ok       bool
	}{
		{DatatypeFreeText, nil, "anything", true},
		{DatatypeBoolean, nil, "true", true},
		{DatatypeBoolean, nil, "maybe", false},
		{DatatypeDate, nil, "2024-02-29", true},
		{DatatypeDate, nil, "29/02/2024", false},
		{DatatypeInteger, nil, "42", true},
		{DatatypeInteger, nil, "4.2", false},
		{DatatypeRegex, &pattern, "ABC", true},
		{DatatypeRegex, &pattern, "ABCD", false},
	}
	for _, tc := range cases {
		at := &AttributeType{Datatype: tc.datatype, DatatypeConfig: tc.config}
		at.Name = "Test"
		err := at.CheckValue(tc.value)
		if (err == nil) != tc.ok {
			t.Errorf("%s %q: got %v", tc.datatype, tc.value, err)
		}
	}
}

func TestCheckAttributes_Occurrences(t *testing.T) {
	one := 1
	required := &AttributeType{ID: uuid.New(), MinOccurs: 1, MaxOccurs: &one}
	required.Name = "Room"
	retired := &AttributeType{ID: uuid.New(), MinOccurs: 1}
	retired.Name = "Old"
	retired.Retired = true
	types := []*AttributeType{required, retired}

	if err := CheckAttributes(types, nil); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected min occurs failure, got %v", err)
	}
	attrs := []*Attribute{{AttributeTypeID: required.ID, Value: "12"}}
	if err := CheckAttributes(types, attrs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	attrs = append(attrs, &Attribute{AttributeTypeID: required.ID, Value: "13"})
	if err := CheckAttributes(types, attrs); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected max occurs failure, got %v", err)
	}
	attrs[1].Voided = true
	if err := CheckAttributes(types, attrs); err != nil {
		t.Errorf("voided attributes are not counted, got %v", err)
	}
	unknown := []*Attribute{{AttributeTypeID: uuid.New(), Value: "x"}, attrs[0]}
	if err := CheckAttributes(types, unknown); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("expected unknown type to fail, got %v", err)
	}
}

func TestAttributeType_Check(t *testing.T) {
	zero := 0
	at := &AttributeType{MinOccurs: 1, MaxOccurs: &zero}
	if err := at.Check(); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected max < min to fail, got %v", err)
	}
	bad := "("
	at = &AttributeType{Datatype: DatatypeRegex, DatatypeConfig: &bad}
	if err := at.Check(); !errors.Is(err, apierr.ErrValidation) {
		t.Errorf("expected invalid pattern to fail, got %v", err)
	}
}
