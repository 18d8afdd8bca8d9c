package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
)

// Module provides the global trace.TracerProvider and flushes it on stop.
var Module = fx.Options(
	fx.Provide(func(lc fx.Lifecycle, cfg *config.MetricsConfig) (trace.TracerProvider, error) {
		tp, err := NewTracerProvider(context.Background(), cfg.Tracing)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: tp.Shutdown})
		return tp, nil
	}),
)
