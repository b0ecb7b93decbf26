package order

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/web"
	"github.com/ehr/emr/pkg/pagination"
)

type Handler struct {
	svc *Service
	gp  base.GlobalProperties
}

func NewHandler(svc *Service, gp base.GlobalProperties) *Handler {
	return &Handler{svc: svc, gp: gp}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/order", auth.RequirePrivilege(auth.GetOrders))
	read.GET("", h.SearchOrders)
	read.GET("/active", h.ActiveOrders)
	read.GET("/number/:number", h.GetByNumber)
	read.GET("/number/:number/history", h.History)
	read.GET("/:id", h.GetOrder)

	api.POST("/order", h.SaveOrder, auth.RequirePrivilege(auth.AddOrders))
	api.POST("/order/:id/discontinue", h.DiscontinueOrder, auth.RequirePrivilege(auth.EditOrders))
	del := api.Group("/order", auth.RequirePrivilege(auth.DeleteOrders))
	del.DELETE("/:id", h.DeleteOrder)
	del.POST("/:id/unvoid", h.UnvoidOrder)

	types := web.Resource[OrderType]{
		List:    h.svc.GetOrderTypes,
		Get:     h.svc.GetOrderType,
		Save:    h.svc.SaveOrderType,
		Remove:  h.svc.RetireOrderType,
		Restore: h.svc.UnretireOrderType,
		Purge:   h.svc.PurgeOrderType,
		SetID:   func(t *OrderType, id uuid.UUID) { t.ID = id },
	}
	types.RegisterRead(api.Group("/ordertype", auth.RequirePrivilege(auth.GetOrders)))
	types.RegisterWrite(api.Group("/ordertype", auth.RequirePrivilege(auth.ManageOrderTypes)))

	settings := web.Resource[CareSetting]{
		List:    h.svc.GetCareSettings,
		Get:     h.svc.GetCareSetting,
		Save:    h.svc.SaveCareSetting,
		Remove:  h.svc.RetireCareSetting,
		Restore: h.svc.UnretireCareSetting,
		Purge:   h.svc.PurgeCareSetting,
		SetID:   func(cs *CareSetting, id uuid.UUID) { cs.ID = id },
	}
	settings.RegisterRead(api.Group("/caresetting", auth.RequirePrivilege(auth.GetOrders)))
	settings.RegisterWrite(api.Group("/caresetting", auth.RequirePrivilege(auth.ManageCareSettings)))

	frequencies := web.Resource[OrderFrequency]{
		List:    h.svc.GetOrderFrequencies,
		Get:     h.svc.GetOrderFrequency,
		Save:    h.svc.SaveOrderFrequency,
		Remove:  h.svc.RetireOrderFrequency,
		Restore: h.svc.UnretireOrderFrequency,
		Purge:   h.svc.PurgeOrderFrequency,
		SetID:   func(f *OrderFrequency, id uuid.UUID) { f.ID = id },
	}
	frequencies.RegisterRead(api.Group("/orderfrequency", auth.RequirePrivilege(auth.GetOrders)))
	frequencies.RegisterWrite(api.Group("/orderfrequency", auth.RequirePrivilege(auth.ManageOrderFrequencies)))
}

func splitParam(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SearchOrders filters by ?patient=, ?encounter=, ?orderType=,
// ?careSetting= and ?concept= (comma separated).
func (h *Handler) SearchOrders(c echo.Context) error {
	var (
		crit Criteria
		err  error
	)
	if crit.PatientID, err = web.QueryUUID(c, "patient"); err != nil {
		return web.Fail(err)
	}
	if crit.EncounterIDs, err = web.QueryUUIDs(c, "encounter"); err != nil {
		return web.Fail(err)
	}
	if crit.OrderTypeIDs, err = web.QueryUUIDs(c, "orderType"); err != nil {
		return web.Fail(err)
	}
	if crit.CareSettingIDs, err = web.QueryUUIDs(c, "careSetting"); err != nil {
		return web.Fail(err)
	}
	crit.Concepts = splitParam(c.QueryParam("concept"))
	crit.IncludeVoided = web.QueryBool(c, "includeVoided")

	ctx := c.Request().Context()
	p := pagination.FromContextMax(c, base.MaxResults(ctx, h.gp))
	list, total, err := h.svc.GetOrders(ctx, crit, p)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, list, total, p))
}

// ActiveOrders requires ?patient= and accepts ?orderType=, ?careSetting=
// and ?asOf=.
func (h *Handler) ActiveOrders(c echo.Context) error {
	patient, err := web.QueryUUID(c, "patient")
	if err != nil {
		return web.Fail(err)
	}
	if patient == nil {
		return web.Fail(apierr.Invalid("patient", "Order.error.patientRequired", "patient is required"))
	}
	orderType, err := web.QueryUUID(c, "orderType")
	if err != nil {
		return web.Fail(err)
	}
	careSetting, err := web.QueryUUID(c, "careSetting")
	if err != nil {
		return web.Fail(err)
	}
	asOf, err := web.QueryTime(c, "asOf")
	if err != nil {
		return web.Fail(err)
	}
	list, err := h.svc.GetActiveOrders(c.Request().Context(), *patient, orderType, careSetting, asOf)
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	o, err := h.svc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) GetByNumber(c echo.Context) error {
	o, err := h.svc.GetOrderByOrderNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) History(c echo.Context) error {
	list, err := h.svc.GetOrderHistoryByOrderNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}

func (h *Handler) SaveOrder(c echo.Context) error {
	var o Order
	if err := web.Bind(c, &o); err != nil {
		return web.Fail(err)
	}
	if err := h.svc.SaveOrder(c.Request().Context(), &o); err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusCreated, &o)
}

type discontinueRequest struct {
	Reason      string     `json:"reason"`
	Date        *time.Time `json:"date"`
	OrdererID   uuid.UUID  `json:"orderer_id"`
	EncounterID uuid.UUID  `json:"encounter_id"`
}

func (h *Handler) DiscontinueOrder(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req discontinueRequest
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	dc, err := h.svc.DiscontinueOrder(c.Request().Context(), id, req.Reason, req.Date, req.OrdererID, req.EncounterID)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusCreated, dc)
}

func (h *Handler) DeleteOrder(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if web.QueryBool(c, "purge") {
		if err := auth.Check(ctx, auth.PurgeOrders); err != nil {
			return web.Fail(err)
		}
		if err := h.svc.PurgeOrder(ctx, id); err != nil {
			return web.Fail(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	o, err := h.svc.VoidOrder(ctx, id, web.Reason(c))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UnvoidOrder(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	o, err := h.svc.UnvoidOrder(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, o)
}
