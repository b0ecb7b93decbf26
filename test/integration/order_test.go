//go:build integration

package integration

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/ehr/emr/internal/domain/order"
	"github.com/ehr/emr/internal/domain/provider"
	"github.com/ehr/emr/internal/platform/apierr"
)

type orderFixture struct {
	orderType   *order.OrderType
	careSetting *order.CareSetting
	orderer     *provider.Provider
}

func (s *stack) newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	ctx := context.Background()
	f := &orderFixture{
		orderType:   &order.OrderType{Kind: order.KindTest},
		careSetting: &order.CareSetting{CareSettingType: "OUTPATIENT"},
		orderer:     &provider.Provider{},
	}
	f.orderType.Name = uniqueName("Lab test")
	f.careSetting.Name = uniqueName("Outpatient")
	f.orderer.Name = uniqueName("Dr Snow")
	if err := s.orders.SaveOrderType(ctx, f.orderType); err != nil {
		t.Fatalf("save order type: %v", err)
	}
	if err := s.orders.SaveCareSetting(ctx, f.careSetting); err != nil {
		t.Fatalf("save care setting: %v", err)
	}
	if err := s.providers.SaveProvider(ctx, f.orderer); err != nil {
		t.Fatalf("save provider: %v", err)
	}
	return f
}

func orderNumber(t *testing.T, o *order.Order) int64 {
	t.Helper()
	if !strings.HasPrefix(o.OrderNumber, order.NumberPrefix) {
		t.Fatalf("unexpected order number %q", o.OrderNumber)
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(o.OrderNumber, order.NumberPrefix), 10, 64)
	if err != nil {
		t.Fatalf("parse order number %q: %v", o.OrderNumber, err)
	}
	return n
}

func TestOrders(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	f := s.newOrderFixture(t)

	p := s.createPatient(t, "John", "Snow")
	e := s.createEncounter(t, p.ID)
	place := func(concept string) (*order.Order, error) {
		o := &order.Order{
			PatientID:     p.ID,
			EncounterID:   e.ID,
			OrdererID:     f.orderer.ID,
			OrderTypeID:   f.orderType.ID,
			CareSettingID: f.careSetting.ID,
			Concept:       concept,
		}
		return o, s.orders.SaveOrder(ctx, o)
	}

	cbc, err := place("Complete blood count")
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	lft, err := place("Liver function test")
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	t.Run("numbers come from the sequence", func(t *testing.T) {
		if orderNumber(t, lft) <= orderNumber(t, cbc) {
			t.Errorf("expected increasing order numbers, got %s then %s", cbc.OrderNumber, lft.OrderNumber)
		}
		got, err := s.orders.GetOrderByOrderNumber(ctx, cbc.OrderNumber)
		if err != nil || got.ID != cbc.ID {
			t.Errorf("lookup by number failed: %v", err)
		}
	})

	t.Run("duplicate active order rejected", func(t *testing.T) {
		if _, err := place("Complete blood count"); !errors.Is(err, apierr.ErrConflict) {
			t.Errorf("expected a conflict, got %v", err)
		}
	})

	t.Run("discontinue", func(t *testing.T) {
		dc, err := s.orders.DiscontinueOrder(ctx, cbc.ID, "no longer needed", nil, f.orderer.ID, e.ID)
		if err != nil {
			t.Fatalf("discontinue: %v", err)
		}
		if dc.Action != order.ActionDiscontinue || dc.PreviousOrderID == nil || *dc.PreviousOrderID != cbc.ID {
			t.Errorf("unexpected discontinuation order: %+v", dc)
		}
		active, err := s.orders.GetActiveOrders(ctx, p.ID, nil, nil, nil)
		if err != nil {
			t.Fatalf("active orders: %v", err)
		}
		if len(active) != 1 || active[0].ID != lft.ID {
			t.Errorf("expected only the liver function test to stay active, got %d", len(active))
		}
	})

	t.Run("encounter void cascades", func(t *testing.T) {
		if _, err := s.encounters.VoidEncounter(ctx, e.ID, "entered in error"); err != nil {
			t.Fatalf("void encounter: %v", err)
		}
		got, err := s.orders.GetOrder(ctx, lft.ID)
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if !got.Voided {
			t.Error("expected the order to be voided with its encounter")
		}
	})
}
