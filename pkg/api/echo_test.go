package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/pkg/config"
)

type registerBody struct {
	Name string `json:"name" validate:"required"`
	Port int    `json:"port" validate:"required,min=1,max=65535"`
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.Validate(&registerBody{Name: "a", Port: 80}))
	assert.Error(t, v.Validate(&registerBody{Port: 80}))
	assert.Error(t, v.Validate(&registerBody{Name: "a", Port: 70000}))
}

func TestNewEcho_RequestID(t *testing.T) {
	e := NewEcho(config.NewNopLogger())
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get(echo.HeaderXRequestID), 36)
}

func TestNewEcho_Recover(t *testing.T) {
	e := NewEcho(config.NewNopLogger())
	e.GET("/panic", func(c echo.Context) error {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
