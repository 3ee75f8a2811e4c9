package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"phasecraft.ai/internal/persistence/indexdb"
)

type IndexOptions struct {
	*RootOptions
	Database string
	Tick     uint64
}

func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Query the sqlite event index",
	}
	cmd.AddCommand(newIndexSummaryCommand(rootOpts))
	cmd.AddCommand(newIndexTickCommand(rootOpts))
	return cmd
}

func newIndexSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count indexed events by kind",
		Long: `Summarise an event index: tick range, deepest post-dispatch pass and
per-kind counts of events, cancellations and applied entries.

Examples:
  phasectl index summary --db ./data/index/events.sqlite
  phasectl index summary --db ./data/index/events.sqlite --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexSummary(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the index database (required)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func newIndexTickCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "List the events of one tick in posting order",
		Long: `List the indexed events of one tick in posting order.

Examples:
  phasectl index tick --db ./data/index/events.sqlite --tick 120`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexTick(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the index database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Uint64Var(&opts.Tick, "tick", 0, "tick to list (required)")
	_ = cmd.MarkFlagRequired("tick")
	return cmd
}

func runIndexSummary(opts *IndexOptions, cmd *cobra.Command) error {
	rd, err := indexdb.OpenReader(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer rd.Close()

	sum, err := rd.Summary(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to summarise index", err)
	}
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSONLine(out, sum)
	}
	if sum.Events == 0 {
		fmt.Fprintln(out, "No events indexed")
		return nil
	}
	fmt.Fprintf(out, "events=%d ticks=%d..%d max_depth=%d\n", sum.Events, sum.FirstTick, sum.LastTick, sum.MaxDepth)
	for _, k := range sum.Kinds {
		fmt.Fprintf(out, "  %-16s events=%d cancelled=%d applied=%d\n", k.Kind, k.Events, k.Cancelled, k.Applied)
	}
	return nil
}

func runIndexTick(opts *IndexOptions, cmd *cobra.Command) error {
	rd, err := indexdb.OpenReader(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer rd.Close()

	recs, err := rd.EventsForTick(context.Background(), opts.Tick)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query index", err)
	}
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		for _, r := range recs {
			if err := writeJSONLine(out, r); err != nil {
				return err
			}
		}
		return nil
	}
	if len(recs) == 0 {
		fmt.Fprintf(out, "No events at tick %d\n", opts.Tick)
		return nil
	}
	for _, r := range recs {
		fmt.Fprintln(out, formatRecord(r))
	}
	return nil
}
