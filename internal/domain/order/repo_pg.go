package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/pkg/pagination"
)

const (
	orderCols = `order_number, patient_id, encounter_id, orderer_id, order_type_id, care_setting_id, concept,
		order_action, urgency, date_activated, scheduled_date, date_stopped, auto_expire_date, previous_order_id,
		instructions, order_reason, drug, dose, dose_units, route, frequency_id, as_needed, quantity,
		quantity_units, num_refills, duration, duration_units, ` + base.DataColumns
	typeCols        = `kind, parent_id, ` + base.MetadataColumns
	careSettingCols = `care_setting_type, ` + base.MetadataColumns
	frequencyCols   = `concept, frequency_per_day, ` + base.MetadataColumns
)

type orderRepoPG struct {
	db.Table[Order]
}

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{db.Table[Order]{
		Pool:    pool,
		Name:    "orders",
		Entity:  "order",
		Columns: orderCols,
		Scan: func(row db.Scanner) (*Order, error) {
			var o Order
			d := &o.DrugDetails
			dest := []interface{}{&o.ID, &o.OrderNumber, &o.PatientID, &o.EncounterID, &o.OrdererID, &o.OrderTypeID, &o.CareSettingID, &o.Concept,
				&o.Action, &o.Urgency, &o.DateActivated, &o.ScheduledDate, &o.DateStopped, &o.AutoExpireDate, &o.PreviousOrderID,
				&o.Instructions, &o.OrderReason, &d.Drug, &d.Dose, &d.DoseUnits, &d.Route, &d.FrequencyID, &d.AsNeeded, &d.Quantity,
				&d.QuantityUnits, &d.NumRefills, &d.Duration, &d.DurationUnits}
			if err := row.Scan(append(dest, o.Data.Fields()...)...); err != nil {
				return nil, err
			}
			return &o, nil
		},
		Values: func(o *Order) []interface{} {
			d := &o.DrugDetails
			return base.Args([]interface{}{o.OrderNumber, o.PatientID, o.EncounterID, o.OrdererID, o.OrderTypeID, o.CareSettingID, o.Concept,
				o.Action, o.Urgency, o.DateActivated, o.ScheduledDate, o.DateStopped, o.AutoExpireDate, o.PreviousOrderID,
				o.Instructions, o.OrderReason, d.Drug, d.Dose, d.DoseUnits, d.Route, d.FrequencyID, d.AsNeeded, d.Quantity,
				d.QuantityUnits, d.NumRefills, d.Duration, d.DurationUnits}, o.Data.Values())
		},
		ID: func(o *Order) *uuid.UUID { return &o.ID },
	}}
}

func (r *orderRepoPG) GetByOrderNumber(ctx context.Context, number string) (*Order, error) {
	return r.GetBy(ctx, "order_number", number)
}

func (r *orderRepoPG) Search(ctx context.Context, c Criteria, page pagination.Params) ([]*Order, int, error) {
	var w db.Where
	if c.PatientID != nil {
		w.Add("patient_id = ?", *c.PatientID)
	}
	if len(c.EncounterIDs) > 0 {
		w.Add("encounter_id = ANY(?)", c.EncounterIDs)
	}
	if len(c.OrderTypeIDs) > 0 {
		w.Add("order_type_id = ANY(?)", c.OrderTypeIDs)
	}
	if len(c.CareSettingIDs) > 0 {
		w.Add("care_setting_id = ANY(?)", c.CareSettingIDs)
	}
	if len(c.Concepts) > 0 {
		w.Add("concept = ANY(?)", c.Concepts)
	}
	if !c.IncludeVoided {
		w.Add("NOT voided")
	}
	total, err := r.Count(ctx, &w)
	if err != nil {
		return nil, 0, err
	}
	list, err := r.Select(ctx, &w, `ORDER BY date_activated DESC, order_number DESC `+page.SQL())
	return list, total, err
}

func (r *orderRepoPG) NextOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	err := db.Conn(ctx, r.Pool).QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n)
	return n, err
}

func (r *orderRepoPG) VoidByEncounter(ctx context.Context, encounterID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE orders SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE encounter_id = $1 AND NOT voided`, encounterID, user, at, reason)
}

func (r *orderRepoPG) UnvoidByEncounter(ctx context.Context, encounterID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE orders SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE encounter_id = $1 AND voided AND date_voided = $2`, encounterID, voidedAt)
}

func (r *orderRepoPG) DeleteByEncounter(ctx context.Context, encounterID uuid.UUID) error {
	return r.Exec(ctx, `DELETE FROM orders WHERE encounter_id = $1`, encounterID)
}

func (r *orderRepoPG) VoidByPatient(ctx context.Context, patientID uuid.UUID, user, reason string, at time.Time) error {
	return r.Exec(ctx, `UPDATE orders SET voided = true, voided_by = $2, date_voided = $3, void_reason = $4
		WHERE patient_id = $1 AND NOT voided`, patientID, user, at, reason)
}

func (r *orderRepoPG) UnvoidByPatient(ctx context.Context, patientID uuid.UUID, voidedAt time.Time) error {
	return r.Exec(ctx, `UPDATE orders SET voided = false, voided_by = NULL, date_voided = NULL, void_reason = NULL
		WHERE patient_id = $1 AND voided AND date_voided = $2`, patientID, voidedAt)
}

func (r *orderRepoPG) ReassignPatient(ctx context.Context, winner, loser uuid.UUID) error {
	return r.Exec(ctx, `UPDATE orders SET patient_id = $1 WHERE patient_id = $2`, winner, loser)
}

type typeRepoPG struct {
	db.Retirable[OrderType]
}

func NewOrderTypeRepoPG(pool *pgxpool.Pool) OrderTypeRepository {
	return &typeRepoPG{db.Retirable[OrderType]{Table: db.Table[OrderType]{
		Pool:    pool,
		Name:    "order_type",
		Entity:  "orderType",
		Columns: typeCols,
		Scan: func(row db.Scanner) (*OrderType, error) {
			var t OrderType
			if err := row.Scan(append([]interface{}{&t.ID, &t.Kind, &t.ParentID}, t.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &t, nil
		},
		Values: func(t *OrderType) []interface{} {
			return base.Args([]interface{}{t.Kind, t.ParentID}, t.Metadata.Values())
		},
		ID: func(t *OrderType) *uuid.UUID { return &t.ID },
	}}}
}

type careSettingRepoPG struct {
	db.Retirable[CareSetting]
}

func NewCareSettingRepoPG(pool *pgxpool.Pool) CareSettingRepository {
	return &careSettingRepoPG{db.Retirable[CareSetting]{Table: db.Table[CareSetting]{
		Pool:    pool,
		Name:    "care_setting",
		Entity:  "careSetting",
		Columns: careSettingCols,
		Scan: func(row db.Scanner) (*CareSetting, error) {
			var cs CareSetting
			if err := row.Scan(append([]interface{}{&cs.ID, &cs.CareSettingType}, cs.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &cs, nil
		},
		Values: func(cs *CareSetting) []interface{} {
			return base.Args([]interface{}{cs.CareSettingType}, cs.Metadata.Values())
		},
		ID: func(cs *CareSetting) *uuid.UUID { return &cs.ID },
	}}}
}

type frequencyRepoPG struct {
	db.Retirable[OrderFrequency]
}

func NewFrequencyRepoPG(pool *pgxpool.Pool) FrequencyRepository {
	return &frequencyRepoPG{db.Retirable[OrderFrequency]{Table: db.Table[OrderFrequency]{
		Pool:    pool,
		Name:    "order_frequency",
		Entity:  "orderFrequency",
		Columns: frequencyCols,
		Scan: func(row db.Scanner) (*OrderFrequency, error) {
			var f OrderFrequency
			if err := row.Scan(append([]interface{}{&f.ID, &f.Concept, &f.FrequencyPerDay}, f.Metadata.Fields()...)...); err != nil {
				return nil, err
			}
			return &f, nil
		},
		Values: func(f *OrderFrequency) []interface{} {
			return base.Args([]interface{}{f.Concept, f.FrequencyPerDay}, f.Metadata.Values())
		},
		ID: func(f *OrderFrequency) *uuid.UUID { return &f.ID },
	}}}
}

func (r *frequencyRepoPG) GetByConcept(ctx context.Context, concept string) (*OrderFrequency, error) {
	return r.GetBy(ctx, "concept", concept)
}
