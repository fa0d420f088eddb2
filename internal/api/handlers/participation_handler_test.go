package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocomet/club-rides/internal/api/dto"
	"github.com/gocomet/club-rides/internal/service/participation"
	"github.com/gocomet/club-rides/internal/store"
	"github.com/gocomet/club-rides/pkg/logger"
	"github.com/gocomet/club-rides/pkg/monitoring"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	coord := participation.NewCoordinator(store.NewMemoryStore(), logger.NewNop(), &monitoring.NewRelicApp{}, true)
	h := NewHandlers(nil, coord, logger.NewNop())

	r := gin.New()
	r.GET("/v1/users/me/rides", RequireActor(), h.GetMyRides)
	return r
}

func getMyRides(t *testing.T, router *gin.Engine, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/users/me/rides"+query, nil)
	req.Header.Set("X-User-ID", "rider1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetMyRides_LimitValidation(t *testing.T) {
	router := newTestRouter()

	// An explicit limit must be within [1,100]; zero is not "use the default"
	for _, query := range []string{"?limit=0", "?limit=-1", "?limit=101", "?limit=abc"} {
		w := getMyRides(t, router, query)
		require.Equal(t, http.StatusBadRequest, w.Code, query)

		var resp dto.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "VALIDATION_ERROR", resp.ErrorType, query)
	}

	// Absent limit falls back to the default page size
	w := getMyRides(t, router, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetMyRides_RequiresIdentity(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/v1/users/me/rides", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "AUTHENTICATION_ERROR", resp.ErrorType)
}
