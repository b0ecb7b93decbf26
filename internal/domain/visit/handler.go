package visit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/emr/internal/domain/base"
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
	read := api.Group("/visit", auth.RequirePrivilege(auth.GetVisits))
	read.GET("", h.SearchVisits)
	read.GET("/:id", h.GetVisit)

	api.POST("/visit", h.SaveVisit, auth.RequirePrivilege(auth.AddVisits))
	edit := api.Group("/visit", auth.RequirePrivilege(auth.EditVisits))
	edit.PUT("/:id", h.SaveVisit)
	edit.POST("/:id/end", h.EndVisit)
	edit.POST("/stop", h.StopVisits)
	del := api.Group("/visit", auth.RequirePrivilege(auth.DeleteVisits))
	del.DELETE("/:id", h.DeleteVisit)
	del.POST("/:id/unvoid", h.UnvoidVisit)

	types := web.Resource[VisitType]{
		List:    h.svc.GetAllVisitTypes,
		Get:     h.svc.GetVisitType,
		Save:    h.svc.SaveVisitType,
		Remove:  h.svc.RetireVisitType,
		Restore: h.svc.UnretireVisitType,
		Purge:   h.svc.PurgeVisitType,
		SetID:   func(t *VisitType, id uuid.UUID) { t.ID = id },
	}
	types.RegisterRead(api.Group("/visittype", auth.RequirePrivilege(auth.GetVisits)))
	types.RegisterWrite(api.Group("/visittype", auth.RequirePrivilege(auth.ManageVisitTypes)))

	attrTypes := web.Resource[base.AttributeType]{
		List:    h.svc.GetAllVisitAttributeTypes,
		Get:     h.svc.GetVisitAttributeType,
		Save:    h.svc.SaveVisitAttributeType,
		Remove:  h.svc.RetireVisitAttributeType,
		Restore: h.svc.UnretireVisitAttributeType,
		Purge:   h.svc.PurgeVisitAttributeType,
		SetID:   func(t *base.AttributeType, id uuid.UUID) { t.ID = id },
	}
	attrTypes.RegisterRead(api.Group("/visitattributetype", auth.RequirePrivilege(auth.GetVisits)))
	attrTypes.RegisterWrite(api.Group("/visitattributetype", auth.RequirePrivilege(auth.ManageVisitAttributeTypes)))
}

// SearchVisits filters by ?patient=, ?visitType=, ?location= (comma
// separated ids) and ?fromStartDate= / ?toStartDate=. Only active visits are
// returned unless ?includeInactive=true.
func (h *Handler) SearchVisits(c echo.Context) error {
	var (
		crit Criteria
		err  error
	)
	if crit.PatientIDs, err = web.QueryUUIDs(c, "patient"); err != nil {
		return web.Fail(err)
	}
	if crit.VisitTypeIDs, err = web.QueryUUIDs(c, "visitType"); err != nil {
		return web.Fail(err)
	}
	if crit.LocationIDs, err = web.QueryUUIDs(c, "location"); err != nil {
		return web.Fail(err)
	}
	if crit.MinStart, err = web.QueryTime(c, "fromStartDate"); err != nil {
		return web.Fail(err)
	}
	if crit.MaxStart, err = web.QueryTime(c, "toStartDate"); err != nil {
		return web.Fail(err)
	}
	crit.IncludeInactive = web.QueryBool(c, "includeInactive")
	crit.IncludeVoided = web.QueryBool(c, "includeVoided")

	ctx := c.Request().Context()
	p := pagination.FromContextMax(c, base.MaxResults(ctx, h.gp))
	visits, total, err := h.svc.GetVisits(ctx, crit, p)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, visits, total, p))
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SaveVisit(c echo.Context) error {
	var v Visit
	if err := web.Bind(c, &v); err != nil {
		return web.Fail(err)
	}
	status := http.StatusCreated
	if c.Param("id") != "" {
		id, err := web.ParamUUID(c, "id")
		if err != nil {
			return web.Fail(err)
		}
		v.ID, status = id, http.StatusOK
	}
	if err := h.svc.SaveVisit(c.Request().Context(), &v); err != nil {
		return web.Fail(err)
	}
	return c.JSON(status, &v)
}

func (h *Handler) EndVisit(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req struct {
		StopDatetime *time.Time `json:"stop_datetime"`
	}
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	v, err := h.svc.EndVisit(c.Request().Context(), id, req.StopDatetime)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, v)
}

// StopVisits runs the auto close on demand, for ?maximumStartDate= or now.
func (h *Handler) StopVisits(c echo.Context) error {
	maxStart, err := web.QueryTime(c, "maximumStartDate")
	if err != nil {
		return web.Fail(err)
	}
	n, err := h.svc.StopVisits(c.Request().Context(), maxStart)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"stopped": n})
}

func (h *Handler) DeleteVisit(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if web.QueryBool(c, "purge") {
		if err := auth.Check(ctx, auth.PurgeVisits); err != nil {
			return web.Fail(err)
		}
		if err := h.svc.PurgeVisit(ctx, id); err != nil {
			return web.Fail(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	v, err := h.svc.VoidVisit(ctx, id, web.Reason(c))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UnvoidVisit(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	v, err := h.svc.UnvoidVisit(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, v)
}
