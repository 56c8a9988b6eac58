package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecordOutcome(t *testing.T) {
	p := NewPrometheus("pooled")

	p.RecordOutcome(Outcome{Success: true, Latency: 2 * time.Millisecond})
	p.RecordOutcome(Outcome{Success: true, Latency: 3 * time.Millisecond})
	p.RecordOutcome(Outcome{Success: false, Latency: time.Second, Err: errors.New("boom")})

	assert.Equal(t, 3.0, testutil.ToFloat64(p.queriesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.queriesSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.queriesFailed))
}

func TestPrometheusGauges(t *testing.T) {
	p := NewPrometheus("pooled")

	p.SetTargetRate(20)
	p.SetPool(PoolGauge{Size: 10, Used: 1, Available: 9})

	assert.Equal(t, 20.0, testutil.ToFloat64(p.queriesRate))
	assert.Equal(t, 10.0, testutil.ToFloat64(p.poolSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.poolUsed))
	assert.Equal(t, 9.0, testutil.ToFloat64(p.poolAvailable))
}

func TestPrometheusHandlerLabelsClient(t *testing.T) {
	p := NewPrometheus("envoy")
	p.RecordOutcome(Outcome{Success: true, Latency: 4 * time.Millisecond})

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `postgres_queries_total{client="envoy"} 1`), text)
	assert.Contains(t, text, `postgres_query_latency_seconds_bucket{client="envoy",le="0.005"} 1`)
}
