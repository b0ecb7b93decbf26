package cohort

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/emr/internal/domain/base"
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
	read := api.Group("/cohort", auth.RequirePrivilege(auth.GetPatientCohorts))
	read.GET("", h.ListCohorts)
	read.GET("/combine", h.Combine)
	read.GET("/patient/:patient", h.CohortsContainingPatient)
	api.GET("/cohortmembership", h.Memberships, auth.RequirePrivilege(auth.GetPatientCohorts))

	api.POST("/cohort", h.SaveCohort, auth.RequirePrivilege(auth.AddCohorts))
	edit := api.Group("/cohort", auth.RequirePrivilege(auth.EditCohorts))
	edit.PUT("/:id", h.SaveCohort)
	edit.POST("/:id/member", h.AddMember)
	edit.DELETE("/:id/member/:patient", h.RemoveMember)
	api.POST("/cohortmembership/:id/end", h.EndMembership, auth.RequirePrivilege(auth.EditCohorts))

	cohorts := web.Resource[Cohort]{
		Get:         h.svc.GetCohort,
		Remove:      h.svc.VoidCohort,
		Restore:     h.svc.UnvoidCohort,
		Purge:       h.svc.PurgeCohort,
		RestorePath: "unvoid",
	}
	cohorts.RegisterRead(read)
	cohorts.RegisterWrite(api.Group("/cohort", auth.RequirePrivilege(auth.DeleteCohorts)))
}

// ListCohorts lists cohorts matching ?q=, or all with ?includeVoided.
func (h *Handler) ListCohorts(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		list []*Cohort
		err  error
	)
	if q := c.QueryParam("q"); q != "" {
		list, err = h.svc.GetCohorts(ctx, q)
	} else {
		list, err = h.svc.GetAllCohorts(ctx, web.QueryBool(c, "includeVoided"))
	}
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}

func (h *Handler) SaveCohort(c echo.Context) error {
	var co Cohort
	if err := web.Bind(c, &co); err != nil {
		return web.Fail(err)
	}
	status := http.StatusCreated
	if c.Param("id") != "" {
		id, err := web.ParamUUID(c, "id")
		if err != nil {
			return web.Fail(err)
		}
		co.ID, status = id, http.StatusOK
	}
	if err := h.svc.SaveCohort(c.Request().Context(), &co); err != nil {
		return web.Fail(err)
	}
	return c.JSON(status, &co)
}

// Combine answers ?op=union|intersect|subtract&a=&b= with an unsaved cohort.
func (h *Handler) Combine(c echo.Context) error {
	a, err := web.QueryUUID(c, "a")
	if err != nil {
		return web.Fail(err)
	}
	b, err := web.QueryUUID(c, "b")
	if err != nil {
		return web.Fail(err)
	}
	if a == nil || b == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "a and b are required")
	}
	out, err := h.svc.CombineCohorts(c.Request().Context(), Op(c.QueryParam("op")), *a, *b)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CohortsContainingPatient(c echo.Context) error {
	patient, err := web.ParamUUID(c, "patient")
	if err != nil {
		return web.Fail(err)
	}
	asOf, err := web.QueryTime(c, "asOf")
	if err != nil {
		return web.Fail(err)
	}
	list, err := h.svc.GetCohortsContainingPatient(c.Request().Context(), patient, web.QueryBool(c, "includeVoided"), asOf)
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}

// Memberships lists ?patient= memberships, optionally ?activeOn= a date.
func (h *Handler) Memberships(c echo.Context) error {
	patient, err := web.QueryUUID(c, "patient")
	if err != nil {
		return web.Fail(err)
	}
	if patient == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient is required")
	}
	activeOn, err := web.QueryTime(c, "activeOn")
	if err != nil {
		return web.Fail(err)
	}
	list, err := h.svc.GetCohortMemberships(c.Request().Context(), *patient, activeOn, web.QueryBool(c, "includeVoided"))
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}

type memberRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
}

func (h *Handler) AddMember(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req memberRequest
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	m, err := h.svc.AddPatientToCohort(c.Request().Context(), id, req.PatientID)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) RemoveMember(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	patient, err := web.ParamUUID(c, "patient")
	if err != nil {
		return web.Fail(err)
	}
	if err := h.svc.RemovePatientFromCohort(c.Request().Context(), id, patient); err != nil {
		return web.Fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type endRequest struct {
	EndDate *time.Time `json:"end_date"`
}

func (h *Handler) EndMembership(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req endRequest
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	end := base.Now()
	if req.EndDate != nil {
		end = *req.EndDate
	}
	m, err := h.svc.EndCohortMembership(c.Request().Context(), id, end)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, m)
}
