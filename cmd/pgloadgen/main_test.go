package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/pgloadgen/metrics"
)

func TestRootCmdRejectsInvalidSettings(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--api-port", "9000", "--metrics-port", "9000"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestRootCmdRejectsInvalidProbe(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--probe-query", "DELETE FROM accounts"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid probe query")
}

func TestMetricsRouter(t *testing.T) {
	sink := metrics.NewPrometheus("pooled")
	sink.SetTargetRate(12)

	w := httptest.NewRecorder()
	metricsRouter(sink).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `postgres_queries_rate{client="pooled"} 12`)
}

func TestMetricsRouterServesEveryProfile(t *testing.T) {
	router := metricsRouter(metrics.NewPrometheus("pooled"))

	for _, path := range []string{
		"/debug/pprof/",
		"/debug/pprof/allocs",
		"/debug/pprof/block",
		"/debug/pprof/mutex",
		"/debug/pprof/threadcreate",
		"/debug/pprof/goroutine",
		"/debug/pprof/heap",
		"/debug/vars",
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
