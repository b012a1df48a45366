package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"labcrm/internal/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthRouter(h *HealthHandler, metricsPath string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterHealthRoutes(r, h, metricsPath)
	return r
}

func getHealth(t *testing.T, r *gin.Engine) (int, HealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealthHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	code, resp := getHealth(t, healthRouter(NewHealthHandler(newHandlerDB(t), client, "1.2.3"), ""))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "healthy", resp.Services["database"].Status)
	assert.Equal(t, "healthy", resp.Services["redis"].Status)
}

func TestHealthDegradedWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	code, resp := getHealth(t, healthRouter(NewHealthHandler(newHandlerDB(t), client, "dev"), ""))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy", resp.Services["redis"].Status)
	assert.NotEmpty(t, resp.Services["redis"].Error)
}

func TestHealthUnhealthyWithoutDatabase(t *testing.T) {
	code, resp := getHealth(t, healthRouter(NewHealthHandler(nil, nil, "dev"), ""))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Status)
	_, hasRedis := resp.Services["redis"]
	assert.False(t, hasRedis)

	db := newHandlerDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	code, resp = getHealth(t, healthRouter(NewHealthHandler(db, nil, "dev"), ""))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotEmpty(t, resp.Services["database"].Error)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.IncExecution("SUCCESS")
	r := healthRouter(NewHealthHandler(nil, nil, "dev"), "/internal/metrics")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.GreaterOrEqual(t, snap.Executions, uint64(1))
	assert.GreaterOrEqual(t, snap.ExecutionsByStatus["SUCCESS"], uint64(1))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
