// Package metrics implements the pipeline's MetricRecorder and Tracer on
// Prometheus and OpenTelemetry.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/metrics"
	"github.com/tigerroll/surfin-stream/pkg/ingest/infrastructure/telemetry"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

// NewRecorder selects the MetricRecorder for cfg: a no-op when disabled,
// Prometheus with an optional scrape endpoint, or OTLP push.
func NewRecorder(lc fx.Lifecycle, cfg *config.MetricsConfig) (metrics.MetricRecorder, error) {
	if !cfg.Enabled {
		logger.Debugf("Metrics disabled.")
		return metrics.NewNoOpMetricRecorder(), nil
	}

	switch cfg.Exporter {
	case config.ExporterOTLPGRPC, config.ExporterOTLPHTTP:
		mp, err := telemetry.NewMeterProvider(context.Background(), *cfg)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: mp.Shutdown})
		return NewOTelRecorder(mp)
	default:
		r := NewPrometheusRecorder()
		if cfg.ListenAddress != "" {
			srv := NewServer(cfg.ListenAddress, cfg.Path, r.Registry())
			lc.Append(fx.Hook{OnStart: srv.Start, OnStop: srv.Stop})
		}
		return r, nil
	}
}

// Module provides the MetricRecorder and the Tracer.
var Module = fx.Options(
	telemetry.Module,
	fx.Provide(NewRecorder),
	fx.Provide(func(tp trace.TracerProvider) metrics.Tracer {
		return NewOpenTelemetryTracer(tp)
	}),
)
