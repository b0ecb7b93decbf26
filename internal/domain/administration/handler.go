package administration

import (
	"net/http"

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
	read := api.Group("", auth.RequirePrivilege(auth.GetGlobalProperties))
	read.GET("/systemsetting", h.ListGlobalProperties)
	read.GET("/systemsetting/:name", h.GetGlobalProperty)

	write := api.Group("", auth.RequirePrivilege(auth.ManageGlobalProperties))
	write.POST("/systemsetting", h.SaveGlobalProperty)
	write.PUT("/systemsetting/:name", h.SetGlobalProperty)
	write.DELETE("/systemsetting/:name", h.PurgeGlobalProperty)

	api.GET("/implementationid", h.GetImplementationID, auth.RequirePrivilege(auth.GetGlobalProperties))
	api.POST("/implementationid", h.SetImplementationID, auth.RequirePrivilege(auth.ManageImplementationID))
	api.GET("/systeminformation", h.GetSystemInformation, auth.RequirePrivilege(auth.ViewAdministration))
}

func (h *Handler) ListGlobalProperties(c echo.Context) error {
	props, err := h.svc.GetGlobalPropertiesByPrefix(c.Request().Context(), c.QueryParam("prefix"))
	if err != nil {
		return web.Fail(err)
	}
	if props == nil {
		props = []*GlobalProperty{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": props})
}

func (h *Handler) GetGlobalProperty(c echo.Context) error {
	gp, err := h.svc.GetGlobalProperty(c.Request().Context(), c.Param("name"))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, gp)
}

func (h *Handler) SaveGlobalProperty(c echo.Context) error {
	var gp GlobalProperty
	if err := web.Bind(c, &gp); err != nil {
		return web.Fail(err)
	}
	if err := h.svc.SaveGlobalProperty(c.Request().Context(), &gp); err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, gp)
}

func (h *Handler) SetGlobalProperty(c echo.Context) error {
	var body struct {
		Value string `json:"value"`
	}
	if err := web.Bind(c, &body); err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if err := h.svc.SetGlobalProperty(ctx, c.Param("name"), body.Value); err != nil {
		return web.Fail(err)
	}
	gp, err := h.svc.GetGlobalProperty(ctx, c.Param("name"))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, gp)
}

func (h *Handler) PurgeGlobalProperty(c echo.Context) error {
	if err := h.svc.PurgeGlobalProperty(c.Request().Context(), c.Param("name")); err != nil {
		return web.Fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetImplementationID(c echo.Context) error {
	id, err := h.svc.GetImplementationID(c.Request().Context())
	if err != nil {
		return web.Fail(err)
	}
	if id == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, id)
}

func (h *Handler) SetImplementationID(c echo.Context) error {
	var id ImplementationID
	if err := web.Bind(c, &id); err != nil {
		return web.Fail(err)
	}
	if err := h.svc.SetImplementationID(c.Request().Context(), &id); err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, id)
}

func (h *Handler) GetSystemInformation(c echo.Context) error {
	info, err := h.svc.GetSystemInformation(c.Request().Context())
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, info)
}
