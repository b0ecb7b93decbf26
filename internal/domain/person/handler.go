package person

import (
	"net/http"
	"strconv"
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
	read := api.Group("/person", auth.RequirePrivilege(auth.GetPeople))
	read.GET("", h.SearchPeople)
	read.GET("/similar", h.SimilarPeople)
	read.GET("/:id", h.GetPerson)
	api.POST("/person", h.SavePerson, auth.RequirePrivilege(auth.AddPeople))
	api.PUT("/person/:id", h.SavePerson, auth.RequirePrivilege(auth.EditPeople))
	api.POST("/person/:id/death", h.ProcessDeath, auth.RequirePrivilege(auth.EditPeople))
	api.DELETE("/person/:id", h.DeletePerson, auth.RequirePrivilege(auth.DeletePeople))
	api.POST("/person/:id/unvoid", h.UnvoidPerson, auth.RequirePrivilege(auth.DeletePeople))

	web.Resource[PersonAttributeType]{
		List:    h.svc.GetAllPersonAttributeTypes,
		Get:     h.svc.GetPersonAttributeType,
		Save:    h.svc.SavePersonAttributeType,
		Remove:  h.svc.RetirePersonAttributeType,
		Restore: h.svc.UnretirePersonAttributeType,
		Purge:   h.svc.PurgePersonAttributeType,
		SetID:   func(t *PersonAttributeType, id uuid.UUID) { t.ID = id },
	}.Register(api.Group("/personattributetype", auth.RequirePrivilege(auth.ManagePersonAttributeTypes)))

	web.Resource[RelationshipType]{
		List:    h.svc.GetAllRelationshipTypes,
		Get:     h.svc.GetRelationshipType,
		Save:    h.svc.SaveRelationshipType,
		Remove:  h.svc.RetireRelationshipType,
		Restore: h.svc.UnretireRelationshipType,
		Purge:   h.svc.PurgeRelationshipType,
		SetID:   func(t *RelationshipType, id uuid.UUID) { t.ID = id },
	}.Register(api.Group("/relationshiptype", auth.RequirePrivilege(auth.ManageRelationshipTypes)))

	api.GET("/relationship", h.ListRelationships, auth.RequirePrivilege(auth.GetRelationships))
	rels := web.Resource[Relationship]{
		Get:         h.svc.GetRelationship,
		Save:        h.svc.SaveRelationship,
		Remove:      h.svc.VoidRelationship,
		Restore:     h.svc.UnvoidRelationship,
		Purge:       h.svc.PurgeRelationship,
		SetID:       func(r *Relationship, id uuid.UUID) { r.ID = id },
		RestorePath: "unvoid",
	}
	rels.RegisterRead(api.Group("/relationship", auth.RequirePrivilege(auth.GetRelationships)))
	rels.RegisterWrite(api.Group("/relationship", auth.RequirePrivilege(auth.EditRelationships)))
}

func (h *Handler) SearchPeople(c echo.Context) error {
	ctx := c.Request().Context()
	q, err := web.SearchQuery(c, base.MinSearchCharacters(ctx, h.gp))
	if err != nil {
		return web.Fail(err)
	}
	query := Query{Name: q, IncludeVoided: web.QueryBool(c, "includeVoided")}
	if v := c.QueryParam("dead"); v != "" {
		dead, err := strconv.ParseBool(v)
		if err != nil {
			return web.Fail(apierr.Invalid("dead", "general.invalidBool", "dead must be true or false"))
		}
		query.Dead = &dead
	}
	p := pagination.FromContextMax(c, base.MaxResults(ctx, h.gp))
	people, total, err := h.svc.GetPeople(ctx, query, p)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, people, total, p))
}

func (h *Handler) SimilarPeople(c echo.Context) error {
	var birthYear *int
	if v := c.QueryParam("birthyear"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return web.Fail(apierr.Invalid("birthyear", "general.invalidNumber", "birthyear must be a number"))
		}
		birthYear = &y
	}
	people, err := h.svc.GetSimilarPeople(c.Request().Context(), c.QueryParam("name"), birthYear, c.QueryParam("gender"))
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, people)
}

func (h *Handler) GetPerson(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	p, err := h.svc.GetPerson(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SavePerson(c echo.Context) error {
	var p Person
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
	if err := h.svc.SavePerson(c.Request().Context(), &p); err != nil {
		return web.Fail(err)
	}
	return c.JSON(status, &p)
}

type deathRequest struct {
	DeathDate    string `json:"death_date"`
	CauseOfDeath string `json:"cause_of_death"`
}

func (h *Handler) ProcessDeath(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req deathRequest
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

// DeletePerson voids the person, or purges it with ?purge=true.
func (h *Handler) DeletePerson(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if web.QueryBool(c, "purge") {
		if !auth.HasPrivilege(ctx, auth.PurgePeople) {
			return web.Fail(apierr.Forbidden(auth.PurgePeople))
		}
		if err := h.svc.PurgePerson(ctx, id); err != nil {
			return web.Fail(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	p, err := h.svc.VoidPerson(ctx, id, web.Reason(c))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UnvoidPerson(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	p, err := h.svc.UnvoidPerson(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListRelationships(c echo.Context) error {
	person, err := web.QueryUUID(c, "person")
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if person != nil {
		date, err := web.QueryTime(c, "date")
		if err != nil {
			return web.Fail(err)
		}
		rels, err := h.svc.GetRelationshipsByPerson(ctx, *person, date)
		if err != nil {
			return web.Fail(err)
		}
		return web.Results(c, rels)
	}
	var ids [3]*uuid.UUID
	for i, name := range []string{"personA", "personB", "type"} {
		if ids[i], err = web.QueryUUID(c, name); err != nil {
			return web.Fail(err)
		}
	}
	rels, err := h.svc.GetRelationships(ctx, ids[0], ids[1], ids[2])
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, rels)
}
