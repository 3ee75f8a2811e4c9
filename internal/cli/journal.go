package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	persistlog "phasecraft.ai/internal/persistence/log"
	"phasecraft.ai/internal/sim/event"
)

type JournalOptions struct {
	*RootOptions
	Dir   string
	Kind  string
	Tick  int64
	Limit int
}

func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read the compressed event journal",
	}
	cmd.AddCommand(newJournalDumpCommand(rootOpts))
	return cmd
}

func newJournalDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print journal records oldest first",
		Long: `Print the records of every events-*.jsonl.zst file in a journal directory.

Examples:
  phasectl journal dump --dir ./data/events
  phasectl journal dump --dir ./data/events --kind change_block --tick 120
  phasectl journal dump --dir ./data/events --format json --limit 50`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournalDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "journal directory (required)")
	_ = cmd.MarkFlagRequired("dir")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only records of this event kind")
	cmd.Flags().Int64Var(&opts.Tick, "tick", -1, "only records of this tick")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many records (0 = all)")

	return cmd
}

func runJournalDump(opts *JournalOptions, cmd *cobra.Command) error {
	files, err := persistlog.ListJournalFiles(opts.Dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list journal", err)
	}
	out := cmd.OutOrStdout()

	n := 0
	visit := func(r event.Record) error {
		if opts.Kind != "" && string(r.Kind) != opts.Kind {
			return nil
		}
		if opts.Tick >= 0 && r.Tick != uint64(opts.Tick) {
			return nil
		}
		n++
		if opts.Format == "json" {
			if err := writeJSONLine(out, r); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(out, formatRecord(r))
		}
		if opts.Limit > 0 && n >= opts.Limit {
			return persistlog.ErrStop
		}
		return nil
	}
	for _, f := range files {
		if opts.Verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "reading %s\n", filepath.Base(f))
		}
		if err := persistlog.ReadJournal(f, visit); err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		if opts.Limit > 0 && n >= opts.Limit {
			break
		}
	}
	if opts.Format == "text" && n == 0 {
		fmt.Fprintln(out, "No records found")
	}
	return nil
}
