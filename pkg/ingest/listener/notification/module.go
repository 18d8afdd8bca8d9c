package notification

import (
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
)

// Module provides the Notifier and the SummaryListener, which also joins the
// pipeline listener group.
var Module = fx.Options(
	fx.Provide(NewLogNotifier),
	fx.Provide(func(cfg *config.StreamConfig, n Notifier) *SummaryListener {
		return NewSummaryListener(cfg.Pipeline.Name, n)
	}),
	fx.Provide(fx.Annotate(
		func(l *SummaryListener) port.PipelineListener { return l },
		fx.ResultTags(`group:"`+port.PipelineListenerGroup+`"`),
	)),
)
