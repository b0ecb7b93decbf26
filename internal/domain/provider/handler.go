package provider

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
	read := api.Group("/provider", auth.RequirePrivilege(auth.GetProviders))
	read.GET("", h.SearchProviders)
	read.GET("/count", h.CountProviders)
	read.GET("/unknown", h.GetUnknownProvider)
	read.GET("/:id", h.GetProvider)

	web.Resource[Provider]{
		Save:    h.svc.SaveProvider,
		Remove:  h.svc.RetireProvider,
		Restore: h.svc.UnretireProvider,
		Purge:   h.svc.PurgeProvider,
		SetID:   func(p *Provider, id uuid.UUID) { p.ID = id },
	}.RegisterWrite(api.Group("/provider", auth.RequirePrivilege(auth.ManageProviders)))

	web.Resource[base.AttributeType]{
		List:    h.svc.GetAllProviderAttributeTypes,
		Get:     h.svc.GetProviderAttributeType,
		Save:    h.svc.SaveProviderAttributeType,
		Remove:  h.svc.RetireProviderAttributeType,
		Restore: h.svc.UnretireProviderAttributeType,
		Purge:   h.svc.PurgeProviderAttributeType,
		SetID:   func(t *base.AttributeType, id uuid.UUID) { t.ID = id },
	}.Register(api.Group("/providerattributetype", auth.RequirePrivilege(auth.ManageProviderAttributeTypes)))
}

// SearchProviders answers ?identifier= and ?person= lookups, otherwise a
// paginated ?q= search.
func (h *Handler) SearchProviders(c echo.Context) error {
	ctx := c.Request().Context()
	includeRetired := web.QueryBool(c, "includeRetired")
	if identifier := c.QueryParam("identifier"); identifier != "" {
		p, err := h.svc.GetProviderByIdentifier(ctx, identifier)
		if err != nil {
			return web.Fail(err)
		}
		return web.Results(c, []*Provider{p})
	}
	personID, err := web.QueryUUID(c, "person")
	if err != nil {
		return web.Fail(err)
	}
	if personID != nil {
		providers, err := h.svc.GetProvidersByPerson(ctx, *personID, includeRetired)
		if err != nil {
			return web.Fail(err)
		}
		return web.Results(c, providers)
	}
	q, err := web.SearchQuery(c, base.MinSearchCharacters(ctx, h.gp))
	if err != nil {
		return web.Fail(err)
	}
	p := pagination.FromContextMax(c, base.MaxResults(ctx, h.gp))
	providers, total, err := h.svc.GetProviders(ctx, Query{Text: q, IncludeRetired: includeRetired}, p)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, providers, total, p))
}

func (h *Handler) CountProviders(c echo.Context) error {
	ctx := c.Request().Context()
	q, err := web.SearchQuery(c, base.MinSearchCharacters(ctx, h.gp))
	if err != nil {
		return web.Fail(err)
	}
	n, err := h.svc.GetCountOfProviders(ctx, Query{Text: q, IncludeRetired: web.QueryBool(c, "includeRetired")})
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) GetProvider(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	p, err := h.svc.GetProvider(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetUnknownProvider(c echo.Context) error {
	p, err := h.svc.GetUnknownProvider(c.Request().Context())
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, p)
}
