package condition

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/web"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/condition", auth.RequirePrivilege(auth.GetConditions))
	read.GET("", h.ListConditions)
	read.GET("/encounter/:encounter", h.ByEncounter)
	read.GET("/:id/history", h.History)
	web.Resource[Condition]{Get: h.svc.GetCondition}.RegisterRead(read)

	web.Resource[Condition]{
		Save:  h.svc.SaveCondition,
		SetID: func(c *Condition, id uuid.UUID) { c.ID = id },
	}.RegisterWrite(api.Group("/condition", auth.RequirePrivilege(auth.EditConditions)))
	web.Resource[Condition]{
		Remove:      h.svc.VoidCondition,
		Restore:     h.svc.UnvoidCondition,
		Purge:       h.svc.PurgeCondition,
		RestorePath: "unvoid",
	}.RegisterWrite(api.Group("/condition", auth.RequirePrivilege(auth.DeleteConditions)))
}

// ListConditions lists ?patient= conditions, only ACTIVE ones with
// ?active=true.
func (h *Handler) ListConditions(c echo.Context) error {
	patient, err := web.QueryUUID(c, "patient")
	if err != nil {
		return web.Fail(err)
	}
	if patient == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient is required")
	}
	ctx := c.Request().Context()
	var list []*Condition
	if web.QueryBool(c, "active") {
		list, err = h.svc.GetActiveConditions(ctx, *patient)
	} else {
		list, err = h.svc.GetAllConditions(ctx, *patient)
	}
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}

func (h *Handler) ByEncounter(c echo.Context) error {
	id, err := web.ParamUUID(c, "encounter")
	if err != nil {
		return web.Fail(err)
	}
	list, err := h.svc.GetConditionsByEncounter(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}

func (h *Handler) History(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	list, err := h.svc.GetConditionHistory(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}
