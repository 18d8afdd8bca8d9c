// Package cli implements the surfin-stream command line.
package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-stream/internal/app"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
)

// Command holds what every subcommand shares.
type Command struct {
	Embedded    config.EmbeddedConfig
	ConfigFile  string
	EnvFilePath string
	Stdout      io.Writer
	Stderr      io.Writer

	// Signals triggers a drain on the first value and an abort on the second.
	Signals <-chan os.Signal
	// Extra is appended to the fx application of every subcommand.
	Extra []fx.Option
}

func (c *Command) options() app.Options {
	return app.Options{Embedded: c.Embedded, ConfigFile: c.ConfigFile, EnvFilePath: c.EnvFilePath}
}

// start builds the application, populating targets, and starts it. The
// returned function stops it.
func (c *Command) start(ctx context.Context, targets ...interface{}) (func(), error) {
	opts := append([]fx.Option{fx.Populate(targets...)}, c.Extra...)
	fxApp := app.NewApplication(c.options(), opts...)
	if err := fxApp.Err(); err != nil {
		return nil, err
	}
	startCtx, cancel := context.WithTimeout(ctx, fxApp.StartTimeout())
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return nil, err
	}
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = fxApp.Stop(stopCtx)
	}, nil
}

// NewRootCommand returns the surfin-stream command tree.
func NewRootCommand(c *Command) *cobra.Command {
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	rc := &cobra.Command{
		Use:   "surfin-stream",
		Short: "Stream records from a Kafka topic into a Cassandra table.",
		Long: `
surfin-stream consumes a Kafka topic in micro-batches, validates every
record against the configured schema and upserts the rows into a Cassandra
table it provisions on startup. Consumed positions are checkpointed after
each committed batch so a restart resumes where the last run stopped.
`,
		SilenceUsage: true,
	}
	rc.SetOut(c.Stdout)
	rc.SetErr(c.Stderr)

	flags := rc.PersistentFlags()
	flags.StringVarP(&c.ConfigFile, "config", "c", c.ConfigFile, "YAML file applied on top of the embedded configuration")
	flags.StringVar(&c.EnvFilePath, "env-file", c.EnvFilePath, ".env file loaded before reading environment overrides")

	rc.AddCommand(newRunCommand(c))
	rc.AddCommand(newProvisionCommand(c))
	rc.AddCommand(newCheckpointsCommand(c))
	return rc
}
