package location

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/emr/internal/domain/base"
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
	read := api.Group("/location", auth.RequirePrivilege(auth.GetLocations))
	read.GET("", h.SearchLocations)
	read.GET("/default", h.GetDefaultLocation)
	read.GET("/:id", h.GetLocation)
	read.GET("/:id/descendants", h.GetDescendants)

	web.Resource[Location]{
		Save:    h.svc.SaveLocation,
		Remove:  h.svc.RetireLocation,
		Restore: h.svc.UnretireLocation,
		Purge:   h.svc.PurgeLocation,
		SetID:   func(l *Location, id uuid.UUID) { l.ID = id },
	}.RegisterWrite(api.Group("/location", auth.RequirePrivilege(auth.ManageLocations)))

	tags := web.Resource[LocationTag]{
		List:    h.svc.GetAllLocationTags,
		Get:     h.svc.GetLocationTag,
		Save:    h.svc.SaveLocationTag,
		Remove:  h.svc.RetireLocationTag,
		Restore: h.svc.UnretireLocationTag,
		Purge:   h.svc.PurgeLocationTag,
		SetID:   func(t *LocationTag, id uuid.UUID) { t.ID = id },
	}
	tags.RegisterRead(api.Group("/locationtag", auth.RequirePrivilege(auth.GetLocations)))
	tags.RegisterWrite(api.Group("/locationtag", auth.RequirePrivilege(auth.ManageLocationTags)))
}

// SearchLocations answers ?tag= lookups (any tag, or every tag with
// ?allTags=true), otherwise a paginated ?q= name search.
func (h *Handler) SearchLocations(c echo.Context) error {
	ctx := c.Request().Context()
	tagIDs, err := web.QueryUUIDs(c, "tag")
	if err != nil {
		return web.Fail(err)
	}
	if len(tagIDs) > 0 {
		var locations []*Location
		if web.QueryBool(c, "allTags") {
			locations, err = h.svc.GetLocationsHavingAllTags(ctx, tagIDs)
		} else {
			locations, err = h.svc.GetLocationsHavingAnyTag(ctx, tagIDs)
		}
		if err != nil {
			return web.Fail(err)
		}
		return web.Results(c, locations)
	}
	q, err := web.SearchQuery(c, base.MinSearchCharacters(ctx, h.gp))
	if err != nil {
		return web.Fail(err)
	}
	p := pagination.FromContextMax(c, base.MaxResults(ctx, h.gp))
	locations, total, err := h.svc.GetLocations(ctx, Query{Text: q, IncludeRetired: web.QueryBool(c, "includeRetired")}, p)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, locations, total, p))
}

func (h *Handler) GetLocation(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	l, err := h.svc.GetLocation(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) GetDefaultLocation(c echo.Context) error {
	l, err := h.svc.GetDefaultLocation(c.Request().Context())
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) GetDescendants(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	locations, err := h.svc.GetDescendantLocations(c.Request().Context(), id, web.QueryBool(c, "includeRetired"))
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, locations)
}
