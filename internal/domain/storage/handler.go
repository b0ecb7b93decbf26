package storage

import (
	"errors"
	"fmt"
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
	read := api.Group("/storage", auth.RequirePrivilege(auth.GetStorage))
	read.GET("", h.ListKeys)
	read.GET("/metadata/*", h.GetMetadata)
	read.GET("/data/*", h.Download)

	write := api.Group("/storage", auth.RequirePrivilege(auth.ManageStorage))
	write.POST("", h.Upload)
	write.DELETE("/data/*", h.Purge)
}

func (h *Handler) Upload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return web.Fail(errInvalidUpload)
	}
	src, err := file.Open()
	if err != nil {
		return web.Fail(fmt.Errorf("open upload: %w", err))
	}
	defer src.Close()

	mime := file.Header.Get(echo.HeaderContentType)
	if mime == "application/octet-stream" {
		mime = ""
	}
	key, err := h.svc.SaveData(c.Request().Context(), src, Metadata{Filename: file.Filename, MimeType: mime}, c.FormValue("module_id"))
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		}
		return web.Fail(err)
	}
	meta, err := h.svc.GetMetadata(c.Request().Context(), key)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusCreated, meta)
}

func (h *Handler) Download(c echo.Context) error {
	rc, meta, err := h.svc.GetData(c.Request().Context(), c.Param("*"))
	if err != nil {
		return web.Fail(err)
	}
	defer rc.Close()
	if meta.Filename != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, meta.Filename))
	}
	return c.Stream(http.StatusOK, meta.MimeType, rc)
}

func (h *Handler) GetMetadata(c echo.Context) error {
	meta, err := h.svc.GetMetadata(c.Request().Context(), c.Param("*"))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, meta)
}

func (h *Handler) Purge(c echo.Context) error {
	if err := h.svc.PurgeData(c.Request().Context(), c.Param("*")); err != nil {
		return web.Fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListKeys(c echo.Context) error {
	keys, err := h.svc.GetKeys(c.Request().Context(), c.QueryParam("prefix"))
	if err != nil {
		return web.Fail(err)
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"keys": keys})
}
