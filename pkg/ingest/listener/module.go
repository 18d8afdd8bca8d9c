// Package listener aggregates the pipeline listeners.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-stream/pkg/ingest/listener/logging"
	"github.com/tigerroll/surfin-stream/pkg/ingest/listener/notification"
)

// Module aggregates all listener modules.
var Module = fx.Options(
	logging.Module,
	notification.Module,
)
