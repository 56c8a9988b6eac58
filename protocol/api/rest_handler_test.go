package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/pgloadgen/config"
	"github.com/guileen/pgloadgen/control"
	"github.com/guileen/pgloadgen/logger"
	"github.com/guileen/pgloadgen/network"
)

func setupTestRouter(t *testing.T) (chi.Router, *network.Manager, *network.MockPoolFactory) {
	t.Helper()
	factory := network.NewMockPoolFactory(false, 0)
	mgr := network.NewManager(factory, network.PoolConfig{AcquireTimeout: time.Second, DrainTimeout: time.Second})
	require.NoError(t, mgr.Initialize(context.Background(), 5, 5))
	t.Cleanup(func() { _ = mgr.Close() })

	store := config.NewStore(config.Config{TargetRate: 10, PoolMinSize: 5, PoolMaxSize: 5})
	svc := control.NewService(store, mgr, nil, "pooled")

	router := chi.NewRouter()
	NewRESTHandler(svc).RegisterRoutes(router)
	return router, mgr, factory
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRESTHandler_Health(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "pooled", body["client"])
}

func TestRESTHandler_GetConfig(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(10), body["tps"])
	assert.Equal(t, float64(5), body["pool_min_size"])
	assert.Equal(t, float64(5), body["pool_max_size"])
	assert.Equal(t, "pooled", body["client_name"])
}

func TestRESTHandler_SetRate(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodPut, "/config/tps", `{"tps": 20}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp RateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.OldTPS)
	assert.Equal(t, 20, resp.NewTPS)
	assert.Equal(t, "TPS updated from 10 to 20", resp.Message)

	w = doRequest(t, router, http.MethodPut, "/config/tps", `{"tps": "35"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(35), decode(t, doRequest(t, router, http.MethodGet, "/config", ""))["tps"])
}

func TestRESTHandler_SetRateInvalid(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	for _, body := range []string{`{"tps": 0}`, `{"tps": -3}`, `{"tps": "fast"}`, `{"tps": 1.5}`, `{}`, `not json`} {
		w := doRequest(t, router, http.MethodPut, "/config/tps", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.NotEmpty(t, decode(t, w)["error"], body)
	}
	assert.Equal(t, float64(10), decode(t, doRequest(t, router, http.MethodGet, "/config", ""))["tps"])
}

func TestRESTHandler_SetPoolBounds(t *testing.T) {
	router, mgr, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodPut, "/config/pool", `{"min_size": 10, "max_size": 10}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp PoolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Changed)
	assert.Equal(t, control.PoolBounds{MinSize: 5, MaxSize: 5}, resp.OldConfig)
	assert.Equal(t, control.PoolBounds{MinSize: 10, MaxSize: 10}, resp.NewConfig)
	assert.Equal(t, uint64(1), mgr.Recreations())

	w = doRequest(t, router, http.MethodPut, "/config/pool", `{"min_size": 10, "max_size": 10}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Changed)
	assert.Equal(t, "Pool configuration unchanged", resp.Message)
	assert.Equal(t, uint64(1), mgr.Recreations())

	stats := decode(t, doRequest(t, router, http.MethodGet, "/stats", ""))
	poolStats := stats["pool_stats"].(map[string]interface{})
	assert.Equal(t, float64(10), poolStats["pool_max_size"])
	assert.Equal(t, "pooled", stats["client_name"])
}

func TestRESTHandler_SetPoolBoundsPartial(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodPut, "/config/pool", `{"max_size": 8}`)
	require.Equal(t, http.StatusOK, w.Code)

	cfg := decode(t, doRequest(t, router, http.MethodGet, "/config", ""))
	assert.Equal(t, float64(5), cfg["pool_min_size"])
	assert.Equal(t, float64(8), cfg["pool_max_size"])
}

func TestRESTHandler_SetPoolBoundsInvalid(t *testing.T) {
	router, mgr, _ := setupTestRouter(t)

	for _, body := range []string{`{"min_size": 0, "max_size": 4}`, `{"min_size": 6, "max_size": 3}`, `{"min_size": "x"}`, `[`} {
		w := doRequest(t, router, http.MethodPut, "/config/pool", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Equal(t, uint64(0), mgr.Recreations())
}

func TestRESTHandler_SetPoolBoundsResizeFailure(t *testing.T) {
	router, mgr, factory := setupTestRouter(t)

	factory.FailNext(1)
	w := doRequest(t, router, http.MethodPut, "/config/pool", `{"min_size": 7, "max_size": 7}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 5, mgr.Stats().Max)

	cfg := decode(t, doRequest(t, router, http.MethodGet, "/config", ""))
	assert.Equal(t, float64(5), cfg["pool_max_size"])
}

func TestRESTHandler_Preflight(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodOptions, "/config/tps", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestRESTHandler_RequestIDPropagated(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestNewRouter(t *testing.T) {
	store := config.NewStore(config.Config{TargetRate: 3, PoolMinSize: 1, PoolMaxSize: 1})
	factory := network.NewMockPoolFactory(false, 0)
	mgr := network.NewManager(factory, network.PoolConfig{})
	require.NoError(t, mgr.Initialize(context.Background(), 1, 1))
	defer mgr.Close()

	router := NewRouter(control.NewService(store, mgr, nil, "direct"))
	w := doRequest(t, router, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "direct", decode(t, w)["client_name"])

	w = doRequest(t, router, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRESTHandler_LogsCarryRequestContext(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	var buf bytes.Buffer
	prev := logger.Logger()
	logger.SetLogger(logger.NewLogger(logger.Config{Level: slog.LevelInfo, Format: "json", Writer: &buf}))
	t.Cleanup(func() { logger.SetLogger(prev) })

	req := httptest.NewRequest(http.MethodPut, "/config/tps", bytes.NewBufferString(`{"tps": 15}`))
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var found bool
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		if line["msg"] != "TPS updated via API" {
			continue
		}
		found = true
		assert.Equal(t, "req-42", line["request_id"])
		assert.Equal(t, "pooled", line["client"])
	}
	assert.True(t, found)
}

func TestRESTHandler_SetPoolBoundsPartialInvertedIsRejected(t *testing.T) {
	router, mgr, _ := setupTestRouter(t)

	// current bounds are 5/5; min 50 is not stretched into 50/50
	w := doRequest(t, router, http.MethodPut, "/config/pool", `{"min_size": 50}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "max_size (5) must be >= min_size (50)")

	cfg := decode(t, doRequest(t, router, http.MethodGet, "/config", ""))
	assert.Equal(t, float64(5), cfg["pool_min_size"])
	assert.Equal(t, float64(5), cfg["pool_max_size"])
	assert.Equal(t, uint64(0), mgr.Recreations())
}
