package cli

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

func newCheckpointsCommand(c *Command) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "Print the stored resume positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.checkpoints(cmd.Context())
		},
	}
}

func (c *Command) checkpoints(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		cfg   *config.Config
		store port.CheckpointStore
	)
	stop, err := c.start(ctx, &cfg, &store)
	if err != nil {
		return err
	}
	defer stop()
	defer store.Close()

	positions, err := store.Load(ctx)
	if err != nil {
		return err
	}
	parts := make([]model.PartitionID, 0, len(positions))
	for p := range positions {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })

	fmt.Fprintf(c.Stdout, "pipeline %s, topic %s\n", cfg.Stream.Pipeline.Name, cfg.Stream.Source.Topic)
	w := tabwriter.NewWriter(c.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PARTITION\tPOSITION")
	for _, p := range parts {
		fmt.Fprintf(w, "%d\t%d\n", p, positions[p])
	}
	return w.Flush()
}
