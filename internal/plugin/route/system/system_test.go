package system

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	registryroute "github.com/gigmarket/chat-service/internal/registry/route"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(r *gin.Engine, path string) int {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestHealthAndReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	for _, load := range registryroute.ManagementRouteLoaders() {
		require.NoError(t, load(r))
	}

	assert.Equal(t, http.StatusOK, get(r, "/health"))
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/ready"))

	MarkReady()
	assert.Equal(t, http.StatusOK, get(r, "/ready"))

	SetReadinessChecks(func(context.Context) error { return errors.New("database unreachable") })
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/ready"))

	SetReadinessChecks()
	assert.Equal(t, http.StatusOK, get(r, "/ready"))
	assert.Equal(t, http.StatusOK, get(r, "/metrics"))
}
