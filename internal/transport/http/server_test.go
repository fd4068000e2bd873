package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/acp/internal/config"
	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/registry"
	"github.com/xiaot623/gogo/acp/internal/service"
	"github.com/xiaot623/gogo/acp/tests/helpers"
)

type emptyCatalog struct{}

func (emptyCatalog) Get(string) (*registry.Handler, bool) { return nil, false }
func (emptyCatalog) List() []domain.AgentDescriptor        { return nil }

func TestServerRoutesAndErrors(t *testing.T) {
	svc := service.New(helpers.NewTestSQLiteStore(t), emptyCatalog{}, config.Default(), nil, nil)
	e := NewServer(svc, nil, config.Default(), func() string { return "registering" })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "registering", health["state"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body domain.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.ErrorCodeNotFound, body.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/s1/watch", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
