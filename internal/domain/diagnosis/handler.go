package diagnosis

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
	read := api.Group("/diagnosis", auth.RequirePrivilege(auth.GetDiagnoses))
	read.GET("", h.ByPatient)
	read.GET("/encounter/:encounter", h.ByEncounter)
	read.GET("/visit/:visit", h.ByVisit)
	web.Resource[Diagnosis]{Get: h.svc.GetDiagnosis}.RegisterRead(read)

	web.Resource[Diagnosis]{
		Save:  h.svc.SaveDiagnosis,
		SetID: func(d *Diagnosis, id uuid.UUID) { d.ID = id },
	}.RegisterWrite(api.Group("/diagnosis", auth.RequirePrivilege(auth.EditDiagnoses)))
	web.Resource[Diagnosis]{
		Remove:      h.svc.VoidDiagnosis,
		Restore:     h.svc.UnvoidDiagnosis,
		Purge:       h.svc.PurgeDiagnosis,
		RestorePath: "unvoid",
	}.RegisterWrite(api.Group("/diagnosis", auth.RequirePrivilege(auth.DeleteDiagnoses)))
}

// ByPatient lists ?patient= diagnoses since ?fromdate=, one per diagnosis
// with ?unique=true.
func (h *Handler) ByPatient(c echo.Context) error {
	patient, err := web.QueryUUID(c, "patient")
	if err != nil {
		return web.Fail(err)
	}
	if patient == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient is required")
	}
	from, err := web.QueryTime(c, "fromdate")
	if err != nil {
		return web.Fail(err)
	}
	get := h.svc.GetDiagnoses
	if web.QueryBool(c, "unique") {
		get = h.svc.GetUniqueDiagnoses
	}
	list, err := get(c.Request().Context(), *patient, from)
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
	list, err := h.svc.GetDiagnosesByEncounter(c.Request().Context(), id, web.QueryBool(c, "primaryOnly"), web.QueryBool(c, "confirmedOnly"))
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}

func (h *Handler) ByVisit(c echo.Context) error {
	id, err := web.ParamUUID(c, "visit")
	if err != nil {
		return web.Fail(err)
	}
	list, err := h.svc.GetDiagnosesByVisit(c.Request().Context(), id, web.QueryBool(c, "primaryOnly"), web.QueryBool(c, "confirmedOnly"))
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}
