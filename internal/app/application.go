// Package app assembles the surfin-stream fx application.
package app

import (
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/infrastructure/metrics"
	"github.com/tigerroll/surfin-stream/pkg/ingest/listener"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

// Options selects where the configuration is read from.
type Options struct {
	EnvFilePath string
	ConfigFile  string
	Embedded    config.EmbeddedConfig
}

// NewApplication builds the fx application. Constructors run lazily, so the
// extra options decide which collaborators are actually created, typically
// through fx.Populate.
func NewApplication(opts Options, extra ...fx.Option) *fx.App {
	return fx.New(
		logger.Module,
		fx.Supply(
			opts.Embedded,
			fx.Annotate(opts.EnvFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(opts.ConfigFile, fx.ResultTags(`name:"configFile"`)),
		),
		config.Module,
		metrics.Module,
		listener.Module,
		Module,
		fx.Options(extra...),
	)
}
