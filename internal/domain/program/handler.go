package program

import (
	"net/http"
	"time"

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
	programs := web.Resource[Program]{
		List:    h.svc.GetAllPrograms,
		Get:     h.svc.GetProgram,
		Save:    h.svc.SaveProgram,
		Remove:  h.svc.RetireProgram,
		Restore: h.svc.UnretireProgram,
		Purge:   h.svc.PurgeProgram,
		SetID:   func(p *Program, id uuid.UUID) { p.ID = id },
	}
	programs.RegisterRead(api.Group("/program", auth.RequirePrivilege(auth.GetPrograms)))
	programs.RegisterWrite(api.Group("/program", auth.RequirePrivilege(auth.ManagePrograms)))

	read := api.Group("/patientprogram", auth.RequirePrivilege(auth.GetPatientPrograms))
	read.GET("", h.SearchPatientPrograms)
	read.GET("/:id", h.GetPatientProgram)
	read.GET("/:id/workflow/:workflow/next", h.PossibleNextStates)

	api.POST("/patientprogram", h.SavePatientProgram, auth.RequirePrivilege(auth.AddPatientPrograms))
	edit := api.Group("/patientprogram", auth.RequirePrivilege(auth.EditPatientPrograms))
	edit.PUT("/:id", h.SavePatientProgram)
	edit.POST("/:id/transition", h.Transition)
	edit.POST("/:id/workflow/:workflow/voidlast", h.VoidLastState)
	del := api.Group("/patientprogram", auth.RequirePrivilege(auth.DeletePatientPrograms))
	del.DELETE("/:id", h.DeletePatientProgram)
	del.POST("/:id/unvoid", h.UnvoidPatientProgram)
}

// SearchPatientPrograms filters by ?patient=, ?program= (comma separated),
// ?activeOn=, ?fromdate= and ?todate= on the enrolment date.
func (h *Handler) SearchPatientPrograms(c echo.Context) error {
	var (
		crit Criteria
		err  error
	)
	if crit.PatientID, err = web.QueryUUID(c, "patient"); err != nil {
		return web.Fail(err)
	}
	if crit.ProgramIDs, err = web.QueryUUIDs(c, "program"); err != nil {
		return web.Fail(err)
	}
	if crit.ActiveOn, err = web.QueryTime(c, "activeOn"); err != nil {
		return web.Fail(err)
	}
	if crit.EnrolledOnOrAfter, err = web.QueryTime(c, "fromdate"); err != nil {
		return web.Fail(err)
	}
	if crit.EnrolledOnOrBefore, err = web.QueryTime(c, "todate"); err != nil {
		return web.Fail(err)
	}
	crit.IncludeVoided = web.QueryBool(c, "includeVoided")
	list, err := h.svc.GetPatientPrograms(c.Request().Context(), crit)
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, list)
}

func (h *Handler) GetPatientProgram(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	pp, err := h.svc.GetPatientProgram(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pp)
}

func (h *Handler) SavePatientProgram(c echo.Context) error {
	var pp PatientProgram
	if err := web.Bind(c, &pp); err != nil {
		return web.Fail(err)
	}
	status := http.StatusCreated
	if c.Param("id") != "" {
		id, err := web.ParamUUID(c, "id")
		if err != nil {
			return web.Fail(err)
		}
		pp.ID, status = id, http.StatusOK
	}
	if err := h.svc.SavePatientProgram(c.Request().Context(), &pp); err != nil {
		return web.Fail(err)
	}
	return c.JSON(status, &pp)
}

type transitionRequest struct {
	StateID uuid.UUID  `json:"state_id"`
	Date    *time.Time `json:"date"`
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req transitionRequest
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	pp, err := h.svc.TransitionToState(c.Request().Context(), id, req.StateID, req.Date)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pp)
}

func (h *Handler) VoidLastState(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	workflow, err := web.ParamUUID(c, "workflow")
	if err != nil {
		return web.Fail(err)
	}
	pp, err := h.svc.VoidLastState(c.Request().Context(), id, workflow, web.Reason(c))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pp)
}

func (h *Handler) PossibleNextStates(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	workflow, err := web.ParamUUID(c, "workflow")
	if err != nil {
		return web.Fail(err)
	}
	states, err := h.svc.GetPossibleNextStates(c.Request().Context(), id, workflow)
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, states)
}

func (h *Handler) DeletePatientProgram(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if web.QueryBool(c, "purge") {
		if err := auth.Check(ctx, auth.PurgePatientPrograms); err != nil {
			return web.Fail(err)
		}
		if err := h.svc.PurgePatientProgram(ctx, id); err != nil {
			return web.Fail(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	pp, err := h.svc.VoidPatientProgram(ctx, id, web.Reason(c))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pp)
}

func (h *Handler) UnvoidPatientProgram(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	pp, err := h.svc.UnvoidPatientProgram(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pp)
}
