package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisync/privacygraph/internal/api/middleware"
)

func TestMetricsCollector_RecordAccumulatesTotals(t *testing.T) {
	c := middleware.NewMetricsCollector()
	c.Record("POST /privacy-requests", 100, false)
	c.Record("POST /privacy-requests", 300, true)

	stats := c.GetStats()
	assert.Equal(t, int64(2), stats["total_requests"])
	assert.Equal(t, int64(1), stats["total_errors"])
	assert.Equal(t, float64(200), stats["average_latency_ms"])
}

func TestMetricsCollector_GetEndpointStats(t *testing.T) {
	c := middleware.NewMetricsCollector()
	c.Record("GET /privacy-requests/123", 50, false)
	c.Record("GET /privacy-requests/123", 150, false)

	stats := c.GetEndpointStats("GET /privacy-requests/123")
	require.NotNil(t, stats)
	assert.Equal(t, int64(2), stats.RequestCount)
	assert.Equal(t, int64(150), stats.LatencyMax)
	assert.Equal(t, int64(0), stats.ErrorCount)

	assert.Nil(t, c.GetEndpointStats("GET /nonexistent"))
}

func TestMetricsCollector_Reset(t *testing.T) {
	c := middleware.NewMetricsCollector()
	c.Record("POST /privacy-requests", 100, true)
	c.Reset()

	stats := c.GetStats()
	assert.Equal(t, int64(0), stats["total_requests"])
	assert.Empty(t, stats["endpoints"])
}

func TestMetricsCollector_GetSummary(t *testing.T) {
	c := middleware.NewMetricsCollector()
	c.Record("POST /privacy-requests", 100, false)
	c.Record("POST /privacy-requests", 100, true)

	summary := c.GetSummary()
	assert.Equal(t, int64(2), summary.TotalRequests)
	assert.Equal(t, int64(1), summary.TotalErrors)
	assert.Equal(t, float64(50), summary.ErrorRate)
	assert.Equal(t, 1, summary.UniqueEndpoints)
}

func TestMetricsCollector_CalculateLatencyPercentiles(t *testing.T) {
	c := middleware.NewMetricsCollector()
	for i := int64(1); i <= 100; i++ {
		c.Record("GET /privacy-requests/123", i, false)
	}

	buckets := c.CalculateLatencyPercentiles()
	require.Len(t, buckets, 4)

	byPercentile := make(map[float64]int64, len(buckets))
	for _, b := range buckets {
		byPercentile[b.Percentile] = b.LatencyMs
	}

	assert.Equal(t, int64(50), byPercentile[50])
	assert.Equal(t, int64(90), byPercentile[90])
	assert.Equal(t, int64(95), byPercentile[95])
	assert.Equal(t, int64(99), byPercentile[99])
}

func TestMetricsCollector_CalculateLatencyPercentiles_NoSamples(t *testing.T) {
	c := middleware.NewMetricsCollector()

	buckets := c.CalculateLatencyPercentiles()
	require.Len(t, buckets, 4)
	for _, b := range buckets {
		assert.Equal(t, int64(0), b.LatencyMs)
	}
}

func TestMetricsMiddleware_RecordsStatusAndEndpoint(t *testing.T) {
	collector := middleware.NewMetricsCollector()
	handler := middleware.MetricsMiddleware(collector, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/privacy-requests/missing", nil))

	stats := collector.GetEndpointStats("GET /privacy-requests/missing")
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.RequestCount)
	assert.Equal(t, int64(1), stats.ErrorCount)
}
