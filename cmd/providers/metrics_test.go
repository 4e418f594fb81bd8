package providers

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.od2.network/queues/pkg/storage"
	"go.opentelemetry.io/otel/metric/global"
	"go.uber.org/zap/zaptest"
)

func TestSetupPrometheus(t *testing.T) {
	registry := metrics.NewRegistry()
	export, err := SetupPrometheus(registry)
	require.NoError(t, err)
	require.NotNil(t, export.Handler)

	storageMetrics := storage.NewMetrics(registry)
	storageMetrics.ClaimsCreated.Inc(2)

	counter, err := global.Meter("meter").NewInt64Counter("otel_counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	export.Sync(ctx, zaptest.NewLogger(t), 10*time.Millisecond)

	dtos, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, dto := range dtos {
		for _, m := range dto.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[dto.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[dto.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, values["queues_storage_claims_created"])
	assert.Contains(t, values, "otel_counter")

	rec := httptest.NewRecorder()
	export.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "otel_counter")
}
