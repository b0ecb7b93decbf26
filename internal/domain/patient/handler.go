package patient

import (
	"net/http"
	"time"

	"github.com/google/uuid"
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
	read := api.Group("/patient", auth.RequirePrivilege(auth.GetPatients))
	read.GET("", h.SearchPatients)
	read.GET("/count", h.CountPatients)
	read.GET("/:id", h.GetPatient)
	read.GET("/:id/merges", h.ListMergeLogs)

	api.POST("/patient", h.SavePatient, auth.RequirePrivilege(auth.AddPatients))
	api.PUT("/patient/:id", h.SavePatient, auth.RequirePrivilege(auth.EditPatients))
	api.POST("/patient/:id/death", h.ProcessDeath, auth.RequirePrivilege(auth.EditPatients))
	api.DELETE("/patient/:id", h.DeletePatient, auth.RequirePrivilege(auth.DeletePatients))
	api.POST("/patient/:id/unvoid", h.UnvoidPatient, auth.RequirePrivilege(auth.DeletePatients))
	api.POST("/patient/merge", h.MergePatients, auth.RequirePrivilege(auth.MergePatients))
	api.GET("/patientidentifier", h.ListIdentifiers, auth.RequirePrivilege(auth.GetPatientIdentifiers))

	web.Resource[PatientIdentifierType]{
		List:    h.svc.GetAllPatientIdentifierTypes,
		Get:     h.svc.GetPatientIdentifierType,
		Save:    h.svc.SavePatientIdentifierType,
		Remove:  h.svc.RetirePatientIdentifierType,
		Restore: h.svc.UnretirePatientIdentifierType,
		Purge:   h.svc.PurgePatientIdentifierType,
		SetID:   func(t *PatientIdentifierType, id uuid.UUID) { t.ID = id },
	}.Register(api.Group("/patientidentifiertype", auth.RequirePrivilege(auth.ManageIdentifierTypes)))
}

// SearchPatients matches ?q against names or identifiers. With ?identifier
// it looks identifiers up instead (?exact, ?types).
func (h *Handler) SearchPatients(c echo.Context) error {
	ctx := c.Request().Context()
	if identifier := c.QueryParam("identifier"); identifier != "" {
		types, err := web.QueryUUIDs(c, "types")
		if err != nil {
			return web.Fail(err)
		}
		patients, err := h.svc.GetPatientsByIdentifier(ctx, identifier, types, web.QueryBool(c, "exact"))
		if err != nil {
			return web.Fail(err)
		}
		return web.Results(c, patients)
	}
	q, err := web.SearchQuery(c, base.MinSearchCharacters(ctx, h.gp))
	if err != nil {
		return web.Fail(err)
	}
	p := pagination.FromContextMax(c, base.MaxResults(ctx, h.gp))
	patients, total, err := h.svc.GetPatients(ctx, Query{Text: q, IncludeVoided: web.QueryBool(c, "includeVoided")}, p)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, patients, total, p))
}

func (h *Handler) CountPatients(c echo.Context) error {
	ctx := c.Request().Context()
	q, err := web.SearchQuery(c, base.MinSearchCharacters(ctx, h.gp))
	if err != nil {
		return web.Fail(err)
	}
	n, err := h.svc.GetCountOfPatients(ctx, Query{Text: q, IncludeVoided: web.QueryBool(c, "includeVoided")})
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SavePatient(c echo.Context) error {
	var p Patient
	if err := web.Bind(c, &p); err != nil {
		return web.Fail(err)
	}
	status := http.StatusCreated
	if c.Param("id") != "" {
		id, err := web.ParamUUID(c, "id")
		if err != nil {
			return web.Fail(err)
		}
		p.ID, status = id, http.StatusOK
	}
	if err := h.svc.SavePatient(c.Request().Context(), &p); err != nil {
		return web.Fail(err)
	}
	return c.JSON(status, &p)
}

// DeletePatient voids the patient, or purges it with ?purge=true.
func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if web.QueryBool(c, "purge") {
		if err := auth.Check(ctx, auth.PurgePatients); err != nil {
			return web.Fail(err)
		}
		if err := h.svc.PurgePatient(ctx, id); err != nil {
			return web.Fail(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	p, err := h.svc.VoidPatient(ctx, id, web.Reason(c))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UnvoidPatient(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	p, err := h.svc.UnvoidPatient(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ProcessDeath(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req struct {
		DeathDate    string `json:"death_date"`
		CauseOfDeath string `json:"cause_of_death"`
	}
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	var at time.Time
	if req.DeathDate != "" {
		if at, err = web.ParseTime(req.DeathDate); err != nil {
			return web.Fail(apierr.Invalid("death_date", "general.invalidDate", "invalid death_date"))
		}
	}
	p, err := h.svc.ProcessDeath(c.Request().Context(), id, at, req.CauseOfDeath)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

type mergeRequest struct {
	Preferred    uuid.UUID `json:"preferred"`
	NotPreferred uuid.UUID `json:"not_preferred"`
}

func (h *Handler) MergePatients(c echo.Context) error {
	var req mergeRequest
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	log, err := h.svc.MergePatients(c.Request().Context(), req.Preferred, req.NotPreferred)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, log)
}

func (h *Handler) ListMergeLogs(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	logs, err := h.svc.GetMergeLogsByWinner(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, logs)
}

func (h *Handler) ListIdentifiers(c echo.Context) error {
	var lists [3][]uuid.UUID
	for i, name := range []string{"types", "locations", "patients"} {
		ids, err := web.QueryUUIDs(c, name)
		if err != nil {
			return web.Fail(err)
		}
		lists[i] = ids
	}
	ids, err := h.svc.GetPatientIdentifiers(c.Request().Context(), c.QueryParam("identifier"), lists[0], lists[1], lists[2])
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, ids)
}
