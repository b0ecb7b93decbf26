package web

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Resource wires the standard routes of a soft-deletable entity onto a
// group:
//
//	GET    ""            List (?includeRetired / ?includeVoided)
//	POST   ""            Save
//	GET    /:id          Get
//	PUT    /:id          Save with the path id
//	DELETE /:id          Remove (?reason=) or Purge (?purge=true)
//	POST   /:id/<Restore path>
//
// Nil funcs leave their route out.
type Resource[T any] struct {
	List    func(ctx context.Context, includeDeleted bool) ([]*T, error)
	Get     func(ctx context.Context, id uuid.UUID) (*T, error)
	Save    func(ctx context.Context, v *T) error
	Remove  func(ctx context.Context, id uuid.UUID, reason string) (*T, error)
	Restore func(ctx context.Context, id uuid.UUID) (*T, error)
	Purge   func(ctx context.Context, id uuid.UUID) error
	// SetID stores the path id on a decoded body before Save.
	SetID func(v *T, id uuid.UUID)
	// RestorePath is "unretire" for metadata and "unvoid" for data.
	RestorePath string
	// IncludeParam is the list flag name, "includeRetired" by default.
	IncludeParam string
}

func (r Resource[T]) Register(g *echo.Group) {
	r.RegisterRead(g)
	r.RegisterWrite(g)
}

// RegisterRead adds the list and get routes only.
func (r Resource[T]) RegisterRead(g *echo.Group) {
	if r.List != nil {
		g.GET("", r.list)
	}
	if r.Get != nil {
		g.GET("/:id", r.get)
	}
}

// RegisterWrite adds the save, remove, restore and purge routes.
func (r Resource[T]) RegisterWrite(g *echo.Group) {
	if r.Save != nil {
		g.POST("", r.save)
		g.PUT("/:id", r.save)
	}
	if r.Remove != nil || r.Purge != nil {
		g.DELETE("/:id", r.remove)
	}
	if r.Restore != nil {
		path := r.RestorePath
		if path == "" {
			path = "unretire"
		}
		g.POST("/:id/"+path, r.restore)
	}
}

func (r Resource[T]) list(c echo.Context) error {
	param := r.IncludeParam
	if param == "" {
		param = "includeRetired"
	}
	items, err := r.List(c.Request().Context(), QueryBool(c, param))
	if err != nil {
		return Fail(err)
	}
	return Results(c, items)
}

func (r Resource[T]) get(c echo.Context) error {
	id, err := ParamUUID(c, "id")
	if err != nil {
		return Fail(err)
	}
	v, err := r.Get(c.Request().Context(), id)
	if err != nil {
		return Fail(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (r Resource[T]) save(c echo.Context) error {
	v := new(T)
	if err := Bind(c, v); err != nil {
		return Fail(err)
	}
	status := http.StatusCreated
	if c.Param("id") != "" {
		id, err := ParamUUID(c, "id")
		if err != nil {
			return Fail(err)
		}
		if r.SetID != nil {
			r.SetID(v, id)
		}
		status = http.StatusOK
	}
	if err := r.Save(c.Request().Context(), v); err != nil {
		return Fail(err)
	}
	return c.JSON(status, v)
}

func (r Resource[T]) remove(c echo.Context) error {
	id, err := ParamUUID(c, "id")
	if err != nil {
		return Fail(err)
	}
	ctx := c.Request().Context()
	if QueryBool(c, "purge") || r.Remove == nil {
		if r.Purge == nil {
			return echo.ErrMethodNotAllowed
		}
		if err := r.Purge(ctx, id); err != nil {
			return Fail(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	v, err := r.Remove(ctx, id, Reason(c))
	if err != nil {
		return Fail(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (r Resource[T]) restore(c echo.Context) error {
	id, err := ParamUUID(c, "id")
	if err != nil {
		return Fail(err)
	}
	v, err := r.Restore(c.Request().Context(), id)
	if err != nil {
		return Fail(err)
	}
	return c.JSON(http.StatusOK, v)
}

// Results writes {"results": items}, never null.
func Results[T any](c echo.Context, items []*T) error {
	if items == nil {
		items = []*T{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": items})
}
