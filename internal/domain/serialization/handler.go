package serialization

import (
	"encoding/json"
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
	api.GET("/serializer", h.ListSerializers)

	g := api.Group("/serializedobject", auth.RequirePrivilege(auth.ManageSerializedObjects))
	g.GET("", h.ListByType)
	g.POST("", h.Save)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Save)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/unretire", h.Unretire)
}

type saveRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype"`
	Serializer  string          `json:"serializer"`
	Value       json.RawMessage `json:"value"`
}

type objectResponse struct {
	*SerializedObject
	Value interface{} `json:"value,omitempty"`
}

func (h *Handler) ListSerializers(c echo.Context) error {
	var names []string
	for _, s := range h.svc.GetSerializers() {
		names = append(names, s.Name())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"serializers": names,
		"default":     h.svc.GetDefaultSerializer(c.Request().Context()).Name(),
	})
}

func (h *Handler) Save(c echo.Context) error {
	var req saveRequest
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	var value interface{}
	if len(req.Value) > 0 {
		if err := json.Unmarshal(req.Value, &value); err != nil {
			return web.Fail(errInvalidValue)
		}
	}
	o := &SerializedObject{Type: req.Type, Subtype: req.Subtype, Serializer: req.Serializer}
	o.Name, o.Description = req.Name, req.Description
	status := http.StatusCreated
	if c.Param("id") != "" {
		id, err := web.ParamUUID(c, "id")
		if err != nil {
			return web.Fail(err)
		}
		o.ID, status = id, http.StatusOK
	}
	if err := h.svc.SaveSerializedObject(c.Request().Context(), o, value); err != nil {
		return web.Fail(err)
	}
	return c.JSON(status, objectResponse{SerializedObject: o, Value: value})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var value interface{}
	o, err := h.svc.GetSerializedObject(c.Request().Context(), id, &value)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, objectResponse{SerializedObject: o, Value: value})
}

func (h *Handler) ListByType(c echo.Context) error {
	objs, err := h.svc.GetSerializedObjectsByType(c.Request().Context(), c.QueryParam("type"), web.QueryBool(c, "includeRetired"))
	if err != nil {
		return web.Fail(err)
	}
	if objs == nil {
		objs = []*SerializedObject{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": objs})
}

// Delete retires the object, or removes it with ?purge=true.
func (h *Handler) Delete(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if web.QueryBool(c, "purge") {
		if err := h.svc.PurgeSerializedObject(ctx, id); err != nil {
			return web.Fail(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	o, err := h.svc.RetireSerializedObject(ctx, id, web.Reason(c))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Unretire(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	o, err := h.svc.UnretireSerializedObject(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, o)
}
