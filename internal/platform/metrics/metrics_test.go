package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Operation(t *testing.T) {
	r := NewRegistry()
	r.Operation("patient", "save")
	r.Operation("patient", "save")
	r.Operation("obs", "void")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.operations.WithLabelValues("patient", "save")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("obs", "void")))
}

func TestRegistry_MiddlewareUsesRouteTemplate(t *testing.T) {
	r := NewRegistry()
	e := echo.New()
	e.Use(r.Middleware())
	e.GET("/api/v1/patient/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound)
	})

	for _, path := range []string{"/api/v1/patient/a", "/api/v1/patient/b", "/boom"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(r.requests.WithLabelValues("GET", "/api/v1/patient/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requests.WithLabelValues("GET", "/boom", "404")))
}

type stat struct{}

func (stat) TotalConns() int32    { return 4 }
func (stat) IdleConns() int32     { return 3 }
func (stat) AcquiredConns() int32 { return 1 }
func (stat) MaxConns() int32      { return 20 }

func TestPoolCollector(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewPoolCollector(func() PoolStat { return stat{} })))

	expected := `
# HELP db_pool_connections Database pool connections by state.
# TYPE db_pool_connections gauge
db_pool_connections{state="acquired"} 1
db_pool_connections{state="idle"} 3
db_pool_connections{state="max"} 20
db_pool_connections{state="total"} 4
`
	require.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "db_pool_connections"))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.Operation("visit", "end")

	e := echo.New()
	e.GET("/metrics", r.Handler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `domain_operations_total{entity="visit",operation="end"} 1`)
}
