package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	prometheusmetrics "github.com/deathowl/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcrowley/go-metrics"
	otelprom "go.opentelemetry.io/otel/exporters/metric/prometheus"
	"go.opentelemetry.io/otel/metric/global"
	"go.uber.org/zap"
)

// GOMPrometheusSync specifies the time interval to sync go-metrics to Prometheus.
var GOMPrometheusSync = 5 * time.Second

// MetricsNamespace prefixes go-metrics series exported to Prometheus.
const MetricsNamespace = "queues"

// PrometheusExport bridges the storage go-metrics registry and the global
// OpenTelemetry meter provider to the default Prometheus registry.
type PrometheusExport struct {
	Handler http.Handler
	gom     *prometheusmetrics.PrometheusConfig
}

// SetupPrometheus configures the OpenTelemetry and go-metrics Prometheus exporters.
func SetupPrometheus(registry metrics.Registry) (*PrometheusExport, error) {
	gom := prometheusmetrics.NewPrometheusProvider(
		registry,
		MetricsNamespace, "",
		prometheus.DefaultRegisterer,
		GOMPrometheusSync)
	exporter, err := otelprom.NewExportPipeline(otelprom.Config{
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build OpenTelemetry Prometheus exporter: %w", err)
	}
	global.SetMeterProvider(exporter.MeterProvider())
	return &PrometheusExport{Handler: exporter, gom: gom}, nil
}

// Sync copies go-metrics values to Prometheus every interval until the context is canceled.
func (p *PrometheusExport) Sync(ctx context.Context, log *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.gom.UpdatePrometheusMetricsOnce(); err != nil {
			log.Warn("Failed to sync go-metrics", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
