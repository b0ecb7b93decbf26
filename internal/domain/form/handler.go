package form

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/emr/internal/platform/apierr"
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
	forms := web.Resource[Form]{
		List:    h.svc.GetAllForms,
		Get:     h.svc.GetForm,
		Save:    h.svc.SaveForm,
		Remove:  h.svc.RetireForm,
		Restore: h.svc.UnretireForm,
		Purge:   h.svc.PurgeForm,
		SetID:   func(f *Form, id uuid.UUID) { f.ID = id },
	}
	read := api.Group("/form", auth.RequirePrivilege(auth.GetForms))
	read.GET("/published", h.Published)
	read.GET("/latest", h.Latest)
	read.GET("/concept/:concept", h.ContainingConcept)
	read.GET("/:id/resource", h.ListResources)
	read.GET("/resource/:id", h.GetResourceData)
	forms.RegisterRead(read)

	write := api.Group("/form", auth.RequirePrivilege(auth.ManageForms))
	write.POST("/:id/duplicate", h.Duplicate)
	write.POST("/:id/resource", h.SaveResource)
	write.DELETE("/resource/:id", h.PurgeResource)
	forms.RegisterWrite(write)

	fields := web.Resource[Field]{
		Get:    h.svc.GetField,
		Save:   h.svc.SaveField,
		Remove: h.svc.RetireField,
		Purge:  h.svc.PurgeField,
		SetID:  func(f *Field, id uuid.UUID) { f.ID = id },
	}
	fieldRead := api.Group("/field", auth.RequirePrivilege(auth.GetForms))
	fieldRead.GET("", h.FindFields)
	fields.RegisterRead(fieldRead)
	fields.RegisterWrite(api.Group("/field", auth.RequirePrivilege(auth.ManageForms)))
}

func (h *Handler) Published(c echo.Context) error {
	forms, err := h.svc.GetPublishedForms(c.Request().Context())
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, forms)
}

// Latest returns the highest version of ?name=.
func (h *Handler) Latest(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return web.Fail(apierr.Invalid("name", "Form.error.name.required", "name is required"))
	}
	f, err := h.svc.GetLatestForm(c.Request().Context(), name)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ContainingConcept(c echo.Context) error {
	forms, err := h.svc.GetFormsContainingConcept(c.Request().Context(), c.Param("concept"))
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, forms)
}

type duplicateRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (h *Handler) Duplicate(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req duplicateRequest
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	f, err := h.svc.DuplicateForm(c.Request().Context(), id, req.Name, req.Version)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) FindFields(c echo.Context) error {
	fields, err := h.svc.GetFieldsByName(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, fields)
}

func (h *Handler) ListResources(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	resources, err := h.svc.GetFormResourcesForForm(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, resources)
}

// SaveResource takes a multipart form with the resource "name" and "file".
func (h *Handler) SaveResource(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	file, err := c.FormFile("file")
	if err != nil {
		return web.Fail(apierr.Invalid("file", "storage.file.required", "a multipart file field is required"))
	}
	src, err := file.Open()
	if err != nil {
		return web.Fail(fmt.Errorf("open upload: %w", err))
	}
	defer src.Close()
	name := c.FormValue("name")
	if name == "" {
		name = file.Filename
	}
	r, err := h.svc.SaveFormResource(c.Request().Context(), id, name, src, file.Filename, file.Header.Get(echo.HeaderContentType))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetResourceData(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	rc, meta, err := h.svc.GetFormResourceData(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, meta.MimeType, rc)
}

func (h *Handler) PurgeResource(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	if err := h.svc.PurgeFormResource(c.Request().Context(), id); err != nil {
		return web.Fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}
