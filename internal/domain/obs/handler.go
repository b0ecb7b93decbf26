package obs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

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
	read := api.Group("/obs", auth.RequirePrivilege(auth.GetObservations))
	read.GET("", h.SearchObs)
	read.GET("/count", h.CountObs)
	read.GET("/:id", h.GetObs)
	read.GET("/:id/revision", h.GetRevision)
	read.GET("/:id/value", h.GetComplexData)

	add := api.Group("/obs", auth.RequirePrivilege(auth.AddObservations))
	add.POST("", h.SaveObs)
	add.POST("/complex", h.SaveComplexObs)
	api.PUT("/obs/:id", h.SaveObs, auth.RequirePrivilege(auth.EditObservations))
	del := api.Group("/obs", auth.RequirePrivilege(auth.DeleteObservations))
	del.DELETE("/:id", h.DeleteObs)
	del.POST("/:id/unvoid", h.UnvoidObs)
}

// saveRequest is an obs body plus the change message required on edits.
type saveRequest struct {
	Obs
	ChangeMessage string `json:"change_message"`
}

func criteria(c echo.Context) (Criteria, error) {
	var (
		crit Criteria
		err  error
	)
	if crit.PersonIDs, err = web.QueryUUIDs(c, "person"); err != nil {
		return crit, err
	}
	if crit.EncounterIDs, err = web.QueryUUIDs(c, "encounter"); err != nil {
		return crit, err
	}
	if crit.OrderIDs, err = web.QueryUUIDs(c, "order"); err != nil {
		return crit, err
	}
	if crit.GroupID, err = web.QueryUUID(c, "group"); err != nil {
		return crit, err
	}
	if crit.FromDate, err = web.QueryTime(c, "fromdate"); err != nil {
		return crit, err
	}
	if crit.ToDate, err = web.QueryTime(c, "todate"); err != nil {
		return crit, err
	}
	if v := c.QueryParam("concept"); v != "" {
		for _, code := range strings.Split(v, ",") {
			if code = strings.TrimSpace(code); code != "" {
				crit.Concepts = append(crit.Concepts, code)
			}
		}
	}
	crit.AccessionNumber = strings.TrimSpace(c.QueryParam("accessionNumber"))
	crit.IncludeVoided = web.QueryBool(c, "includeVoided")
	return crit, nil
}

// SearchObs filters by ?person=, ?encounter=, ?order=, ?concept= (comma
// separated), ?group=, ?accessionNumber= and ?fromdate= / ?todate=.
func (h *Handler) SearchObs(c echo.Context) error {
	crit, err := criteria(c)
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	p := pagination.FromContextMax(c, base.MaxResults(ctx, h.gp))
	list, total, err := h.svc.GetObservations(ctx, crit, p)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, list, total, p))
}

func (h *Handler) CountObs(c echo.Context) error {
	crit, err := criteria(c)
	if err != nil {
		return web.Fail(err)
	}
	n, err := h.svc.GetObservationCount(c.Request().Context(), crit)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) GetObs(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	o, err := h.svc.GetObs(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) GetRevision(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	o, err := h.svc.GetRevisionObs(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, o)
}

// SaveObs creates an obs on POST and revises one on PUT.
func (h *Handler) SaveObs(c echo.Context) error {
	var req saveRequest
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	o := &req.Obs
	if c.Param("id") != "" {
		id, err := web.ParamUUID(c, "id")
		if err != nil {
			return web.Fail(err)
		}
		o.ID = id
	}
	if err := h.svc.SaveObs(c.Request().Context(), o, req.ChangeMessage); err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusCreated, o)
}

// SaveComplexObs takes a multipart form with the obs JSON in "obs" and the
// value in "file".
func (h *Handler) SaveComplexObs(c echo.Context) error {
	var o Obs
	if err := json.Unmarshal([]byte(c.FormValue("obs")), &o); err != nil {
		return web.Fail(apierr.Invalid("obs", "general.invalidBody", "obs must be a JSON document"))
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
	mime := file.Header.Get(echo.HeaderContentType)
	if mime == "application/octet-stream" {
		mime = ""
	}
	if err := h.svc.SaveComplexObs(c.Request().Context(), &o, src, file.Filename, mime); err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusCreated, &o)
}

func (h *Handler) GetComplexData(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	rc, meta, err := h.svc.GetComplexData(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	defer rc.Close()
	if meta.Filename != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, meta.Filename))
	}
	return c.Stream(http.StatusOK, meta.MimeType, rc)
}

func (h *Handler) DeleteObs(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if web.QueryBool(c, "purge") {
		if err := auth.Check(ctx, auth.PurgeObservations); err != nil {
			return web.Fail(err)
		}
		if err := h.svc.PurgeObs(ctx, id, web.QueryBool(c, "cascade")); err != nil {
			return web.Fail(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	o, err := h.svc.VoidObs(ctx, id, web.Reason(c))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UnvoidObs(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	o, err := h.svc.UnvoidObs(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, o)
}
