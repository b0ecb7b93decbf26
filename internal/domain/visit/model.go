package visit

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
)

// Visit groups the encounters of one patient stay, from admission to
// discharge or from arrival to departure.
type Visit struct {
	ID uuid.UUID `json:"id"`
	base.Data
	PatientID     uuid.UUID         `json:"patient_id" validate:"required"`
	VisitTypeID   uuid.UUID         `json:"visit_type_id" validate:"required"`
	StartDatetime time.Time         `json:"start_datetime"`
	StopDatetime  *time.Time        `json:"stop_datetime,omitempty"`
	LocationID    *uuid.UUID        `json:"location_id,omitempty"`
	Indication    *string           `json:"indication,omitempty" validate:"omitempty,max=255"`
	Attributes    []*base.Attribute `json:"attributes"`
}

// Active reports whether the visit is still open at t.
func (v *Visit) Active(t time.Time) bool {
	return v.StopDatetime == nil || v.StopDatetime.After(t)
}

// Contains reports whether t lies within [start, stop].
func (v *Visit) Contains(t time.Time) bool {
	return !t.Before(v.StartDatetime) && (v.StopDatetime == nil || !t.After(*v.StopDatetime))
}

// overlaps treats an open visit as running forever.
func (v *Visit) overlaps(o *Visit) bool {
	startsBeforeOtherEnds := o.StopDatetime == nil || !v.StartDatetime.After(*o.StopDatetime)
	endsAfterOtherStarts := v.StopDatetime == nil || !v.StopDatetime.Before(o.StartDatetime)
	return startsBeforeOtherEnds && endsAfterOtherStarts
}

type VisitType struct {
	ID uuid.UUID `json:"id"`
	base.Metadata
}

// Criteria filters visit searches; empty slices and nil times match all.
type Criteria struct {
	PatientIDs      []uuid.UUID
	VisitTypeIDs    []uuid.UUID
	LocationIDs     []uuid.UUID
	MinStart        *time.Time
	MaxStart        *time.Time
	MinEnd          *time.Time
	MaxEnd          *time.Time
	IncludeInactive bool
	IncludeVoided   bool
}

// Visit assignment handlers selected by visits.assignmentHandler.
const (
	AssignNone          = "none"
	AssignExisting      = "existing"
	AssignExistingOrNew = "existing-or-new"
)

const defaultMappingKey = "default"

// parseVisitTypeMapping reads "default:<visitType>,<encounterType>:<visitType>"
// into a map keyed by encounter type id or "default". Malformed entries are
// skipped.
func parseVisitTypeMapping(v string) map[string]uuid.UUID {
	out := map[string]uuid.UUID{}
	for _, part := range strings.Split(v, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		id, err := uuid.Parse(strings.TrimSpace(val))
		if err != nil {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key != defaultMappingKey {
			encType, err := uuid.Parse(key)
			if err != nil {
				continue
			}
			key = encType.String()
		}
		out[key] = id
	}
	return out
}
