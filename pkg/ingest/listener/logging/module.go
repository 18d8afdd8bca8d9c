package logging

import (
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
)

// Module contributes a LoggingPipelineListener to the pipeline listener group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		func(cfg *config.StreamConfig) port.PipelineListener {
			return NewLoggingPipelineListener(cfg.Pipeline.Name)
		},
		fx.ResultTags(`group:"`+port.PipelineListenerGroup+`"`),
	)),
)
