package encounter

import (
	"net/http"

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
	read := api.Group("/encounter", auth.RequirePrivilege(auth.GetEncounters))
	read.GET("", h.SearchEncounters)
	read.GET("/:id", h.GetEncounter)

	api.POST("/encounter", h.SaveEncounter, auth.RequirePrivilege(auth.AddEncounters))
	edit := api.Group("/encounter", auth.RequirePrivilege(auth.EditEncounters))
	edit.PUT("/:id", h.SaveEncounter)
	edit.POST("/:id/transfer", h.TransferEncounter)
	del := api.Group("/encounter", auth.RequirePrivilege(auth.DeleteEncounters))
	del.DELETE("/:id", h.DeleteEncounter)
	del.POST("/:id/unvoid", h.UnvoidEncounter)

	types := web.Resource[EncounterType]{
		List:    h.svc.GetAllEncounterTypes,
		Get:     h.svc.GetEncounterType,
		Save:    h.svc.SaveEncounterType,
		Remove:  h.svc.RetireEncounterType,
		Restore: h.svc.UnretireEncounterType,
		Purge:   h.svc.PurgeEncounterType,
		SetID:   func(t *EncounterType, id uuid.UUID) { t.ID = id },
	}
	typeRead := api.Group("/encountertype", auth.RequirePrivilege(auth.GetEncounters))
	typeRead.GET("/search", h.FindEncounterTypes)
	types.RegisterRead(typeRead)
	types.RegisterWrite(api.Group("/encountertype", auth.RequirePrivilege(auth.ManageEncounterTypes)))

	roles := web.Resource[EncounterRole]{
		List:    h.svc.GetAllEncounterRoles,
		Get:     h.svc.GetEncounterRole,
		Save:    h.svc.SaveEncounterRole,
		Remove:  h.svc.RetireEncounterRole,
		Restore: h.svc.UnretireEncounterRole,
		Purge:   h.svc.PurgeEncounterRole,
		SetID:   func(r *EncounterRole, id uuid.UUID) { r.ID = id },
	}
	roles.RegisterRead(api.Group("/encounterrole", auth.RequirePrivilege(auth.GetEncounters)))
	roles.RegisterWrite(api.Group("/encounterrole", auth.RequirePrivilege(auth.ManageEncounterRoles)))
}

// SearchEncounters filters by ?patient=, ?location=, ?visit= and
// ?encounterType= (comma separated) and the ?fromdate= / ?todate= range.
func (h *Handler) SearchEncounters(c echo.Context) error {
	var (
		crit Criteria
		err  error
	)
	if crit.PatientID, err = web.QueryUUID(c, "patient"); err != nil {
		return web.Fail(err)
	}
	if crit.LocationID, err = web.QueryUUID(c, "location"); err != nil {
		return web.Fail(err)
	}
	if crit.VisitIDs, err = web.QueryUUIDs(c, "visit"); err != nil {
		return web.Fail(err)
	}
	if crit.EncounterTypeIDs, err = web.QueryUUIDs(c, "encounterType"); err != nil {
		return web.Fail(err)
	}
	if crit.FromDate, err = web.QueryTime(c, "fromdate"); err != nil {
		return web.Fail(err)
	}
	if crit.ToDate, err = web.QueryTime(c, "todate"); err != nil {
		return web.Fail(err)
	}
	crit.IncludeVoided = web.QueryBool(c, "includeVoided")

	ctx := c.Request().Context()
	p := pagination.FromContextMax(c, base.MaxResults(ctx, h.gp))
	encounters, total, err := h.svc.GetEncounters(ctx, crit, p)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, encounters, total, p))
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	e, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) SaveEncounter(c echo.Context) error {
	var e Encounter
	if err := web.Bind(c, &e); err != nil {
		return web.Fail(err)
	}
	status := http.StatusCreated
	if c.Param("id") != "" {
		id, err := web.ParamUUID(c, "id")
		if err != nil {
			return web.Fail(err)
		}
		e.ID, status = id, http.StatusOK
	}
	if err := h.svc.SaveEncounter(c.Request().Context(), &e); err != nil {
		return web.Fail(err)
	}
	return c.JSON(status, &e)
}

func (h *Handler) TransferEncounter(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req struct {
		PatientID uuid.UUID `json:"patient_id"`
	}
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	e, err := h.svc.TransferEncounter(c.Request().Context(), id, req.PatientID)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusCreated, e)
}

// DeleteEncounter voids, or with ?purge=true deletes; ?cascade=true purges
// dependent rows too.
func (h *Handler) DeleteEncounter(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if web.QueryBool(c, "purge") {
		if err := auth.Check(ctx, auth.PurgeEncounters); err != nil {
			return web.Fail(err)
		}
		if err := h.svc.PurgeEncounter(ctx, id, web.QueryBool(c, "cascade")); err != nil {
			return web.Fail(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	e, err := h.svc.VoidEncounter(ctx, id, web.Reason(c))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UnvoidEncounter(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	e, err := h.svc.UnvoidEncounter(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) FindEncounterTypes(c echo.Context) error {
	q, err := web.SearchQuery(c, base.MinSearchCharacters(c.Request().Context(), h.gp))
	if err != nil {
		return web.Fail(err)
	}
	types, err := h.svc.FindEncounterTypes(c.Request().Context(), q)
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, types)
}
