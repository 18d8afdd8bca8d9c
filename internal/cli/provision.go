package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/pipeline"
)

func newProvisionCommand(c *Command) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the keyspace and table, then exit",
		Long: `
Connects to the store, creates the keyspace and table when missing and checks
an existing table against the schema. The topic is not read.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.provision(cmd.Context())
		},
	}
}

func (c *Command) provision(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var orch *pipeline.Orchestrator
	stop, err := c.start(ctx, &orch)
	if err != nil {
		return err
	}
	defer stop()

	target, err := orch.Provision(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Stdout, "%s ready (%d columns, primary key %s)\n",
		target.QualifiedName(), len(target.Schema.Fields), target.Schema.PrimaryKey)
	return nil
}
