package order

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/encounter"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
	"github.com/ehr/emr/pkg/pagination"
)

// EncounterLookup resolves the encounter an order is placed in.
type EncounterLookup interface {
	GetEncounter(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

type Service struct {
	base.Support
	orders       OrderRepository
	types        OrderTypeRepository
	careSettings CareSettingRepository
	frequencies  FrequencyRepository
	encounters   EncounterLookup
}

func NewService(orders OrderRepository, types OrderTypeRepository, careSettings CareSettingRepository,
	frequencies FrequencyRepository, encounters EncounterLookup) *Service {
	return &Service{orders: orders, types: types, careSettings: careSettings, frequencies: frequencies, encounters: encounters}
}

// SaveOrder places a new order. Orders are immutable once saved: changes
// are new REVISE, RENEW or DISCONTINUE orders pointing at the order they
// replace, which is stopped.
func (s *Service) SaveOrder(ctx context.Context, o *Order) error {
	if o.ID != uuid.Nil {
		return apierr.Invalid("id", "Order.cannot.edit.existing", "order %s cannot be edited, place a revision instead", o.ID)
	}
	if o.Action == "" {
		o.Action = ActionNew
	}
	if o.Urgency == "" {
		o.Urgency = UrgencyRoutine
	}
	if err := validate.Struct("Order", o); err != nil {
		return err
	}
	enc, err := s.encounters.GetEncounter(ctx, o.EncounterID)
	if err != nil {
		return err
	}
	if enc.PatientID != o.PatientID {
		return apierr.Invalid("encounter_id", "Order.error.encounterPatientMismatch", "encounter %s belongs to another patient", enc.ID)
	}
	if err := s.checkDates(o); err != nil {
		return err
	}
	kind, err := s.checkTypes(ctx, o)
	if err != nil {
		return err
	}
	if kind == KindDrug && o.Action != ActionDiscontinue {
		if err := s.checkDosing(ctx, o); err != nil {
			return err
		}
	}

	actor := auth.ActorFromContext(ctx)
	err = s.InTx(ctx, func(ctx context.Context) error {
		if o.Action == ActionNew {
			if err := s.checkDuplicate(ctx, o); err != nil {
				return err
			}
		} else if err := s.stopPrevious(ctx, o, actor); err != nil {
			return err
		}
		n, err := s.orders.NextOrderNumber(ctx)
		if err != nil {
			return err
		}
		o.OrderNumber = NumberPrefix + strconv.FormatInt(n, 10)
		o.Data.Stamp(actor, true)
		return s.orders.Create(ctx, o)
	})
	if err != nil {
		return err
	}
	s.Log().Debug().Str("order", o.OrderNumber).Str("action", o.Action).Msg("placed order")
	s.Record("order", strings.ToLower(o.Action))
	return nil
}

func (s *Service) checkDates(o *Order) error {
	now := base.Now()
	if o.DateActivated.IsZero() {
		o.DateActivated = now
	}
	if o.DateActivated.After(now) {
		return apierr.Invalid("date_activated", "Order.error.dateActivatedInFuture", "date_activated cannot be in the future")
	}
	if o.Urgency == UrgencyOnScheduledDate && o.ScheduledDate == nil {
		return apierr.Invalid("scheduled_date", "Order.error.scheduledDateNullForOnScheduledDateUrgency",
			"scheduled_date is required for ON_SCHEDULED_DATE urgency")
	}
	if o.Urgency != UrgencyOnScheduledDate && o.ScheduledDate != nil {
		return apierr.Invalid("urgency", "Order.error.urgencyNotOnScheduledDate", "scheduled_date requires ON_SCHEDULED_DATE urgency")
	}
	if o.AutoExpireDate == nil {
		o.AutoExpireDate = o.expiry()
	}
	if o.AutoExpireDate != nil && !o.AutoExpireDate.After(o.DateActivated) {
		return apierr.Invalid("auto_expire_date", "Order.error.autoExpireDateBeforeDateActivated",
			"auto_expire_date must be after date_activated")
	}
	return nil
}

func (s *Service) checkTypes(ctx context.Context, o *Order) (string, error) {
	t, err := s.types.GetByID(ctx, o.OrderTypeID)
	if err != nil {
		return "", err
	}
	if _, err := s.careSettings.GetByID(ctx, o.CareSettingID); err != nil {
		return "", err
	}
	return t.Kind, nil
}

func (s *Service) checkDosing(ctx context.Context, o *Order) error {
	if o.Dose == nil || base.StrVal(o.DoseUnits) == "" {
		return apierr.Invalid("dose", "DrugOrder.error.doseAndUnitsRequired", "drug orders need a dose and dose units")
	}
	if o.Quantity != nil && base.StrVal(o.QuantityUnits) == "" {
		return apierr.Invalid("quantity_units", "DrugOrder.error.quantityUnitsRequired", "quantity_units is required with a quantity")
	}
	if o.FrequencyID != nil {
		if _, err := s.frequencies.GetByID(ctx, *o.FrequencyID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkDuplicate(ctx context.Context, o *Order) error {
	active, _, err := s.orders.Search(ctx, Criteria{
		PatientID:      &o.PatientID,
		CareSettingIDs: []uuid.UUID{o.CareSettingID},
		Concepts:       []string{o.Concept},
	}, pagination.All)
	if err != nil {
		return err
	}
	for _, a := range active {
		if a.IsActive(o.DateActivated) {
			return apierr.Conflict("Order.cannot.have.more.than.one", "patient already has an active order %s for %s", a.OrderNumber, o.Concept)
		}
	}
	return nil
}

// stopPrevious stops the order a REVISE, RENEW or DISCONTINUE replaces one
// second before the new order activates.
func (s *Service) stopPrevious(ctx context.Context, o *Order, actor string) error {
	if o.PreviousOrderID == nil {
		return apierr.Invalid("previous_order_id", "Order.error.previousOrderRequired", "%s orders need a previous order", o.Action)
	}
	prev, err := s.orders.GetByID(ctx, *o.PreviousOrderID)
	if err != nil {
		return err
	}
	switch {
	case prev.PatientID != o.PatientID:
		return apierr.Invalid("previous_order_id", "Order.error.previousOrderPatientMismatch", "previous order belongs to another patient")
	case prev.Concept != o.Concept:
		return apierr.Invalid("previous_order_id", "Order.previous.concept.mismatch", "previous order is for another concept")
	case prev.Action == ActionDiscontinue:
		return apierr.Invalid("previous_order_id", "Order.action.cannot.discontinue", "a discontinuation order cannot be revised")
	case !prev.IsActive(o.DateActivated):
		return apierr.Invalid("previous_order_id", "Order.cannot.discontinue.inactive", "previous order %s is not active", prev.OrderNumber)
	}
	stop := o.DateActivated.Add(-time.Second)
	prev.DateStopped = &stop
	prev.Data.Stamp(actor, false)
	return s.orders.Update(ctx, prev)
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) GetOrderByOrderNumber(ctx context.Context, number string) (*Order, error) {
	return s.orders.GetByOrderNumber(ctx, number)
}

func (s *Service) GetAllOrdersByPatient(ctx context.Context, patientID uuid.UUID, includeVoided bool) ([]*Order, error) {
	list, _, err := s.orders.Search(ctx, Criteria{PatientID: &patientID, IncludeVoided: includeVoided}, pagination.All)
	return list, err
}

func (s *Service) GetOrders(ctx context.Context, c Criteria, page pagination.Params) ([]*Order, int, error) {
	return s.orders.Search(ctx, c, page)
}

// GetActiveOrders lists the patient's orders in effect at asOf (now when
// nil). An order type also matches its descendant types.
func (s *Service) GetActiveOrders(ctx context.Context, patientID uuid.UUID, orderTypeID, careSettingID *uuid.UUID, asOf *time.Time) ([]*Order, error) {
	c := Criteria{PatientID: &patientID}
	if orderTypeID != nil {
		ids, err := s.typeAndDescendants(ctx, *orderTypeID)
		if err != nil {
			return nil, err
		}
		c.OrderTypeIDs = ids
	}
	if careSettingID != nil {
		c.CareSettingIDs = []uuid.UUID{*careSettingID}
	}
	at := base.Now()
	if asOf != nil {
		at = *asOf
	}
	list, _, err := s.orders.Search(ctx, c, pagination.All)
	if err != nil {
		return nil, err
	}
	active := list[:0]
	for _, o := range list {
		if o.IsActive(at) {
			active = append(active, o)
		}
	}
	return active, nil
}

func (s *Service) typeAndDescendants(ctx context.Context, root uuid.UUID) ([]uuid.UUID, error) {
	types, err := s.types.List(ctx, true)
	if err != nil {
		return nil, err
	}
	children := make(map[uuid.UUID][]uuid.UUID)
	for _, t := range types {
		if t.ParentID != nil {
			children[*t.ParentID] = append(children[*t.ParentID], t.ID)
		}
	}
	seen := map[uuid.UUID]bool{root: true}
	ids := []uuid.UUID{root}
	for i := 0; i < len(ids); i++ {
		for _, c := range children[ids[i]] {
			if !seen[c] {
				seen[c] = true
				ids = append(ids, c)
			}
		}
	}
	return ids, nil
}

// GetOrderHistoryByOrderNumber returns the order and every order it
// replaced, newest first.
func (s *Service) GetOrderHistoryByOrderNumber(ctx context.Context, number string) ([]*Order, error) {
	o, err := s.orders.GetByOrderNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	history := []*Order{o}
	seen := map[uuid.UUID]bool{o.ID: true}
	for o.PreviousOrderID != nil && !seen[*o.PreviousOrderID] {
		if o, err = s.orders.GetByID(ctx, *o.PreviousOrderID); err != nil {
			return nil, err
		}
		seen[o.ID] = true
		history = append(history, o)
	}
	return history, nil
}

// DiscontinueOrder places a DISCONTINUE order for id. date defaults to now.
func (s *Service) DiscontinueOrder(ctx context.Context, id uuid.UUID, reason string, date *time.Time, ordererID, encounterID uuid.UUID) (*Order, error) {
	prev, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	at := base.Now()
	if date != nil {
		at = *date
	}
	if prev.Action == ActionDiscontinue {
		return nil, apierr.Invalid("id", "Order.action.cannot.discontinue", "a discontinuation order cannot be discontinued")
	}
	if prev.DateStopped != nil || !prev.IsActive(at) {
		return nil, apierr.Invalid("id", "Order.cannot.discontinue.inactive", "order %s is not active", prev.OrderNumber)
	}
	dc := &Order{
		PatientID:       prev.PatientID,
		EncounterID:     encounterID,
		OrdererID:       ordererID,
		OrderTypeID:     prev.OrderTypeID,
		CareSettingID:   prev.CareSettingID,
		Concept:         prev.Concept,
		Action:          ActionDiscontinue,
		Urgency:         UrgencyRoutine,
		DateActivated:   at,
		PreviousOrderID: &prev.ID,
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		dc.OrderReason = &reason
	}
	if err := s.SaveOrder(ctx, dc); err != nil {
		return nil, err
	}
	return dc, nil
}

// VoidOrder voids the order and reopens the order it replaced.
func (s *Service) VoidOrder(ctx context.Context, id uuid.UUID, reason string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Voided {
		return o, nil
	}
	actor := auth.ActorFromContext(ctx)
	if err := o.Void(actor, reason, base.Now()); err != nil {
		return nil, err
	}
	err = s.InTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Update(ctx, o); err != nil {
			return err
		}
		if o.Action == ActionNew || o.PreviousOrderID == nil {
			return nil
		}
		prev, err := s.orders.GetByID(ctx, *o.PreviousOrderID)
		if err != nil {
			return err
		}
		prev.DateStopped = nil
		prev.Data.Stamp(actor, false)
		return s.orders.Update(ctx, prev)
	})
	if err != nil {
		return nil, err
	}
	s.Record("order", "void")
	return o, nil
}

// UnvoidOrder restores the order and stops the order it replaced again.
// It fails when that order was stopped by another order meanwhile.
func (s *Service) UnvoidOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Voided {
		return o, nil
	}
	actor := auth.ActorFromContext(ctx)
	err = s.InTx(ctx, func(ctx context.Context) error {
		if o.Action != ActionNew && o.PreviousOrderID != nil {
			prev, err := s.orders.GetByID(ctx, *o.PreviousOrderID)
			if err != nil {
				return err
			}
			if prev.DateStopped != nil {
				return apierr.Invalid("id", "Order.action.cannot.unvoid", "previous order %s is already stopped", prev.OrderNumber)
			}
			stop := o.DateActivated.Add(-time.Second)
			prev.DateStopped = &stop
			prev.Data.Stamp(actor, false)
			if err := s.orders.Update(ctx, prev); err != nil {
				return err
			}
		}
		o.Unvoid()
		o.Data.Stamp(actor, false)
		return s.orders.Update(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	s.Record("order", "unvoid")
	return o, nil
}

func (s *Service) PurgeOrder(ctx context.Context, id uuid.UUID) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}
	s.Record("order", "purge")
	return nil
}

// EncounterCascade voids and unvoids the orders of an encounter.
func (s *Service) EncounterCascade() base.Cascade {
	return base.Cascade{Name: "order", Void: s.orders.VoidByEncounter, Unvoid: s.orders.UnvoidByEncounter}
}

func (s *Service) PatientCascade() base.Cascade {
	return base.Cascade{Name: "order", Void: s.orders.VoidByPatient, Unvoid: s.orders.UnvoidByPatient}
}

func (s *Service) PatientMergeHook() base.MergeHook {
	return base.MergeHook{Name: "order", Merge: s.orders.ReassignPatient}
}

func (s *Service) EncounterPurgeHook() encounter.PurgeHook {
	return encounter.PurgeHook{Name: "order", Purge: s.orders.DeleteByEncounter}
}

func (s *Service) SaveOrderType(ctx context.Context, t *OrderType) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Kind == "" {
		t.Kind = KindGeneric
	}
	if err := validate.Struct("OrderType", t); err != nil {
		return err
	}
	if t.ParentID != nil {
		if *t.ParentID == t.ID {
			return apierr.Invalid("parent_id", "OrderType.error.parentIsSelf", "an order type cannot be its own parent")
		}
		if _, err := s.types.GetByID(ctx, *t.ParentID); err != nil {
			return err
		}
	}
	actor := auth.ActorFromContext(ctx)
	if t.ID == uuid.Nil {
		t.Metadata.Stamp(actor, true)
		return s.types.Create(ctx, t)
	}
	stored, err := s.types.GetByID(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Metadata.Preserve(stored.Metadata)
	t.Metadata.Stamp(actor, false)
	return s.types.Update(ctx, t)
}

func (s *Service) GetOrderType(ctx context.Context, id uuid.UUID) (*OrderType, error) {
	return s.types.GetByID(ctx, id)
}

func (s *Service) GetOrderTypeByName(ctx context.Context, name string) (*OrderType, error) {
	return s.types.GetByName(ctx, name)
}

func (s *Service) GetOrderTypes(ctx context.Context, includeRetired bool) ([]*OrderType, error) {
	return s.types.List(ctx, includeRetired)
}

func (s *Service) RetireOrderType(ctx context.Context, id uuid.UUID, reason string) (*OrderType, error) {
	return base.RetireByID[*OrderType](ctx, s.types, id, reason)
}

func (s *Service) UnretireOrderType(ctx context.Context, id uuid.UUID) (*OrderType, error) {
	return base.UnretireByID[*OrderType](ctx, s.types, id)
}

func (s *Service) PurgeOrderType(ctx context.Context, id uuid.UUID) error {
	return s.types.Delete(ctx, id)
}

func (s *Service) SaveCareSetting(ctx context.Context, cs *CareSetting) error {
	cs.Name = strings.TrimSpace(cs.Name)
	if err := validate.Struct("CareSetting", cs); err != nil {
		return err
	}
	actor := auth.ActorFromContext(ctx)
	if cs.ID == uuid.Nil {
		cs.Metadata.Stamp(actor, true)
		return s.careSettings.Create(ctx, cs)
	}
	stored, err := s.careSettings.GetByID(ctx, cs.ID)
	if err != nil {
		return err
	}
	cs.Metadata.Preserve(stored.Metadata)
	cs.Metadata.Stamp(actor, false)
	return s.careSettings.Update(ctx, cs)
}

func (s *Service) GetCareSetting(ctx context.Context, id uuid.UUID) (*CareSetting, error) {
	return s.careSettings.GetByID(ctx, id)
}

func (s *Service) GetCareSettingByName(ctx context.Context, name string) (*CareSetting, error) {
	return s.careSettings.GetByName(ctx, name)
}

func (s *Service) GetCareSettings(ctx context.Context, includeRetired bool) ([]*CareSetting, error) {
	return s.careSettings.List(ctx, includeRetired)
}

func (s *Service) RetireCareSetting(ctx context.Context, id uuid.UUID, reason string) (*CareSetting, error) {
	return base.RetireByID[*CareSetting](ctx, s.careSettings, id, reason)
}

func (s *Service) UnretireCareSetting(ctx context.Context, id uuid.UUID) (*CareSetting, error) {
	return base.UnretireByID[*CareSetting](ctx, s.careSettings, id)
}

func (s *Service) PurgeCareSetting(ctx context.Context, id uuid.UUID) error {
	return s.careSettings.Delete(ctx, id)
}

// SaveOrderFrequency keeps one frequency per concept.
func (s *Service) SaveOrderFrequency(ctx context.Context, f *OrderFrequency) error {
	f.Name = strings.TrimSpace(f.Name)
	if err := validate.Struct("OrderFrequency", f); err != nil {
		return err
	}
	if other, err := s.frequencies.GetByConcept(ctx, f.Concept); err == nil && other.ID != f.ID {
		return apierr.Conflict("OrderFrequency.concept.duplicate", "concept %s already has frequency %s", f.Concept, other.Name)
	} else if err != nil && !errors.Is(err, apierr.ErrNotFound) {
		return err
	}
	actor := auth.ActorFromContext(ctx)
	if f.ID == uuid.Nil {
		f.Metadata.Stamp(actor, true)
		return s.frequencies.Create(ctx, f)
	}
	stored, err := s.frequencies.GetByID(ctx, f.ID)
	if err != nil {
		return err
	}
	f.Metadata.Preserve(stored.Metadata)
	f.Metadata.Stamp(actor, false)
	return s.frequencies.Update(ctx, f)
}

func (s *Service) GetOrderFrequency(ctx context.Context, id uuid.UUID) (*OrderFrequency, error) {
	return s.frequencies.GetByID(ctx, id)
}

func (s *Service) GetOrderFrequencies(ctx context.Context, includeRetired bool) ([]*OrderFrequency, error) {
	return s.frequencies.List(ctx, includeRetired)
}

func (s *Service) RetireOrderFrequency(ctx context.Context, id uuid.UUID, reason string) (*OrderFrequency, error) {
	return base.RetireByID[*OrderFrequency](ctx, s.frequencies, id, reason)
}

func (s *Service) UnretireOrderFrequency(ctx context.Context, id uuid.UUID) (*OrderFrequency, error) {
	return base.UnretireByID[*OrderFrequency](ctx, s.frequencies, id)
}

func (s *Service) PurgeOrderFrequency(ctx context.Context, id uuid.UUID) error {
	return s.frequencies.Delete(ctx, id)
}
