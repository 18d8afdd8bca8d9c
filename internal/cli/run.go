package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/pipeline"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

func newRunCommand(c *Command) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until interrupted",
		Long: `
Runs the pipeline. The first SIGINT or SIGTERM drains it: the open window is
committed and checkpointed before exit. A second signal aborts the window in
flight; its records are read again on the next start.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context())
		},
	}
}

func (c *Command) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var orch *pipeline.Orchestrator
	stop, err := c.start(ctx, &orch)
	if err != nil {
		return err
	}
	defer stop()

	runCtx, drain := context.WithCancel(ctx)
	defer drain()
	done := make(chan struct{})
	defer close(done)
	go c.watchSignals(orch, drain, done)

	return orch.Run(runCtx)
}

func (c *Command) watchSignals(orch *pipeline.Orchestrator, drain context.CancelFunc, done <-chan struct{}) {
	if c.Signals == nil {
		return
	}
	select {
	case sig := <-c.Signals:
		logger.Warnf("Received signal '%v'. Draining the pipeline...", sig)
		drain()
	case <-done:
		return
	}
	select {
	case sig := <-c.Signals:
		logger.Warnf("Received signal '%v' while draining. Aborting the batch in flight.", sig)
		orch.Abort()
	case <-done:
	}
}
