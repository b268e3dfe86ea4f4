package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/users/:username", func(c echo.Context) error {
		if c.Param("username") == "ghost" {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return c.String(http.StatusOK, "ok")
	})

	for _, path := range []string{"/users/alice", "/users/bob", "/users/ghost"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/users/:username", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/users/:username", "404")))
}

func TestRecordUserOpAndHandler(t *testing.T) {
	m := New()
	m.RecordUserOp("create", OutcomeOK)
	m.RecordUserOp("create", OutcomeConflict)
	m.RecordUserOp("create", OutcomeOK)

	var nilMetrics *Metrics
	nilMetrics.RecordUserOp("create", OutcomeOK)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.userOps.WithLabelValues("create", OutcomeOK)))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `user_operations_total{op="create",outcome="conflict"} 1`))
}

func TestNewInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
