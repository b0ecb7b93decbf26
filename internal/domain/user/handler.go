package user

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/web"
	"github.com/ehr/emr/pkg/pagination"
)

// TokenIssuer signs a session token for an authenticated user.
type TokenIssuer func(username string, roles []string) (string, time.Time, error)

type Handler struct {
	svc   *Service
	gp    base.GlobalProperties
	issue TokenIssuer
}

// NewHandler builds the handler. A nil issuer makes POST /session answer
// without a token.
func NewHandler(svc *Service, gp base.GlobalProperties, issue TokenIssuer) *Handler {
	return &Handler{svc: svc, gp: gp, issue: issue}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/session", h.Login)
	api.GET("/session", h.CurrentSession)

	read := api.Group("/user", auth.RequirePrivilege(auth.GetUsers))
	read.GET("", h.SearchUsers)
	read.GET("/:id", h.GetUser)

	api.POST("/user", h.CreateUser, auth.RequirePrivilege(auth.AddUsers))
	api.POST("/user/:id/password", h.ChangePassword)
	edit := api.Group("/user", auth.RequirePrivilege(auth.EditUsers))
	edit.PUT("/:id", h.UpdateUser)
	edit.POST("/:id/unretire", h.UnretireUser)
	edit.PUT("/:id/property/:key", h.SetProperty)
	edit.DELETE("/:id/property/:key", h.RemoveProperty)
	api.DELETE("/user/:id", h.DeleteUser, auth.RequirePrivilege(auth.DeleteUsers))

	roles := api.Group("/role", auth.RequirePrivilege(auth.ManageRoles))
	roles.GET("", h.ListRoles)
	roles.GET("/:name", h.GetRole)
	roles.POST("", h.SaveRole)
	roles.PUT("/:name", h.SaveRole)
	roles.DELETE("/:name", h.PurgeRole)

	privileges := api.Group("/privilege", auth.RequirePrivilege(auth.ManagePrivileges))
	privileges.GET("", h.ListPrivileges)
	privileges.GET("/:name", h.GetPrivilege)
	privileges.POST("", h.SavePrivilege)
	privileges.PUT("/:name", h.SavePrivilege)
	privileges.DELETE("/:name", h.PurgePrivilege)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type session struct {
	Authenticated bool      `json:"authenticated"`
	User          *User     `json:"user,omitempty"`
	Token         string    `json:"token,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) Login(c echo.Context) error {
	var req credentials
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	u, err := h.svc.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return web.Fail(err)
	}
	resp := session{Authenticated: true, User: u}
	if h.issue != nil {
		if resp.Token, resp.ExpiresAt, err = h.issue(u.Username, u.Roles); err != nil {
			return web.Fail(err)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// CurrentSession reports the caller resolved by the auth middleware.
func (h *Handler) CurrentSession(c echo.Context) error {
	ctx := c.Request().Context()
	username := auth.UserIDFromContext(ctx)
	if username == "" {
		return c.JSON(http.StatusOK, session{})
	}
	u, err := h.svc.GetUserByUsername(ctx, username)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, session{Authenticated: true, User: u})
}

// SearchUsers answers ?person= lookups, otherwise a paginated ?q= search
// optionally narrowed by ?role=.
func (h *Handler) SearchUsers(c echo.Context) error {
	ctx := c.Request().Context()
	includeRetired := web.QueryBool(c, "includeRetired")
	personID, err := web.QueryUUID(c, "person")
	if err != nil {
		return web.Fail(err)
	}
	if personID != nil {
		users, err := h.svc.GetUsersByPerson(ctx, *personID, includeRetired)
		if err != nil {
			return web.Fail(err)
		}
		return web.Results(c, users)
	}
	q := Query{Text: c.QueryParam("q"), IncludeRetired: includeRetired}
	if role := c.QueryParam("role"); role != "" {
		q.Roles = []string{role}
	}
	p := pagination.FromContextMax(c, base.MaxResults(ctx, h.gp))
	users, total, err := h.svc.GetUsers(ctx, q, p)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, users, total, p))
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, u)
}

type newUser struct {
	User
	Password string `json:"password"`
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req newUser
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	u := req.User
	if err := h.svc.CreateUser(c.Request().Context(), &u, req.Password); err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusCreated, &u)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var u User
	if err := web.Bind(c, &u); err != nil {
		return web.Fail(err)
	}
	u.ID = id
	if err := h.svc.SaveUser(c.Request().Context(), &u); err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, &u)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if web.QueryBool(c, "purge") {
		if err := h.svc.PurgeUser(ctx, id); err != nil {
			return web.Fail(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	u, err := h.svc.RetireUser(ctx, id, web.Reason(c))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UnretireUser(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	u, err := h.svc.UnretireUser(c.Request().Context(), id)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, u)
}

type passwordChange struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword lets users change their own password given the old one.
// Without old_password it is an administrative reset.
func (h *Handler) ChangePassword(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req passwordChange
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	ctx := c.Request().Context()
	if req.OldPassword == "" {
		err = h.svc.SetPassword(ctx, id, req.NewPassword)
	} else {
		var u *User
		if u, err = h.svc.GetUser(ctx, id); err == nil {
			if auth.UserIDFromContext(ctx) != u.Username && !auth.HasPrivilege(ctx, auth.EditUserPasswords) {
				return web.Fail(apierr.Forbidden(auth.EditUserPasswords))
			}
			err = h.svc.ChangePassword(ctx, id, req.OldPassword, req.NewPassword)
		}
	}
	if err != nil {
		return web.Fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetProperty(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := web.Bind(c, &req); err != nil {
		return web.Fail(err)
	}
	u, err := h.svc.SetUserProperty(c.Request().Context(), id, c.Param("key"), req.Value)
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) RemoveProperty(c echo.Context) error {
	id, err := web.ParamUUID(c, "id")
	if err != nil {
		return web.Fail(err)
	}
	u, err := h.svc.RemoveUserProperty(c.Request().Context(), id, c.Param("key"))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListRoles(c echo.Context) error {
	roles, err := h.svc.GetAllRoles(c.Request().Context())
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, roles)
}

func (h *Handler) GetRole(c echo.Context) error {
	r, err := h.svc.GetRole(c.Request().Context(), c.Param("name"))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) SaveRole(c echo.Context) error {
	var r Role
	if err := web.Bind(c, &r); err != nil {
		return web.Fail(err)
	}
	status := http.StatusCreated
	if name := c.Param("name"); name != "" {
		r.Name = name
		status = http.StatusOK
	}
	if err := h.svc.SaveRole(c.Request().Context(), &r); err != nil {
		return web.Fail(err)
	}
	return c.JSON(status, &r)
}

func (h *Handler) PurgeRole(c echo.Context) error {
	if err := h.svc.PurgeRole(c.Request().Context(), c.Param("name")); err != nil {
		return web.Fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPrivileges(c echo.Context) error {
	privileges, err := h.svc.GetAllPrivileges(c.Request().Context())
	if err != nil {
		return web.Fail(err)
	}
	return web.Results(c, privileges)
}

func (h *Handler) GetPrivilege(c echo.Context) error {
	p, err := h.svc.GetPrivilege(c.Request().Context(), c.Param("name"))
	if err != nil {
		return web.Fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SavePrivilege(c echo.Context) error {
	var p Privilege
	if err := web.Bind(c, &p); err != nil {
		return web.Fail(err)
	}
	status := http.StatusCreated
	if name := c.Param("name"); name != "" {
		p.Name = name
		status = http.StatusOK
	}
	if err := h.svc.SavePrivilege(c.Request().Context(), &p); err != nil {
		return web.Fail(err)
	}
	return c.JSON(status, &p)
}

func (h *Handler) PurgePrivilege(c echo.Context) error {
	if err := h.svc.PurgePrivilege(c.Request().Context(), c.Param("name")); err != nil {
		return web.Fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

