package cli

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	persistlog "phasecraft.ai/internal/persistence/log"
	"phasecraft.ai/internal/plugins/spawnguard"
	"phasecraft.ai/internal/sim/event"
	"phasecraft.ai/internal/sim/tuning"
	"phasecraft.ai/internal/sim/world"
)

type ReplayOptions struct {
	*RootOptions
	TicksDir   string
	TuningPath string
	ToTick     int64
}

type ReplayResult struct {
	Ticks         int    `json:"ticks"`
	LastTick      uint64 `json:"last_tick"`
	Deterministic bool   `json:"deterministic"`
	Error         string `json:"error,omitempty"`
}

func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a tick log and verify state digests",
		Long: `Rebuild the world from the tuning file and feed it every logged tick,
comparing the state digest after each one with the logged digest.

Exit codes:
  0 - every digest matched
  1 - a digest diverged
  2 - command error (missing files, bad tuning, log not starting at tick 0)

Examples:
  phasectl replay --ticks ./data/ticks --tuning ./configs/tuning.yaml
  phasectl replay --ticks ./data/ticks --to-tick 600 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TicksDir, "ticks", "", "tick log directory (required)")
	_ = cmd.MarkFlagRequired("ticks")
	cmd.Flags().StringVar(&opts.TuningPath, "tuning", "", "tuning file the server ran with")
	cmd.Flags().Int64Var(&opts.ToTick, "to-tick", -1, "stop after this tick")

	return cmd
}

// NewReplayWorld builds a world the way the server does, minus recorders and
// transports, which do not affect state.
func NewReplayWorld(tu tuning.Tuning, logger *log.Logger) (*world.World, error) {
	bus := event.NewBus()
	if g := spawnguard.FromTuning(tu.SpawnGuard); g != nil {
		g.Register(bus)
	}
	cfg, err := world.ConfigFromTuning(tu)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger
	return world.New(cfg, bus, world.PhaseOptions(tu)...)
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	tu, err := tuning.Load(opts.TuningPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load tuning", err)
	}
	logger := log.New(io.Discard, "", 0)
	if opts.Verbose {
		logger = log.New(cmd.ErrOrStderr(), "[replay] ", log.LstdFlags|log.Lmicroseconds)
	}
	w, err := NewReplayWorld(tu, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build world", err)
	}

	files, err := persistlog.ListTickFiles(opts.TicksDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list tick log", err)
	}
	if len(files) == 0 {
		return NewExitError(ExitCommandError, "no tick log files in "+opts.TicksDir)
	}

	res := ReplayResult{Deterministic: true}
	var replayErr error
	visit := func(e world.TickEntry) error {
		if opts.ToTick >= 0 && e.Tick > uint64(opts.ToTick) {
			return persistlog.ErrStop
		}
		if err := w.ReplayTick(e); err != nil {
			replayErr = err
			return persistlog.ErrStop
		}
		res.Ticks++
		res.LastTick = e.Tick
		return nil
	}
	for _, f := range files {
		if err := persistlog.ReadTickLog(f, visit); err != nil {
			return WrapExitError(ExitCommandError, "failed to read tick log", err)
		}
		if replayErr != nil || (opts.ToTick >= 0 && res.Ticks > 0 && res.LastTick >= uint64(opts.ToTick)) {
			break
		}
	}

	if replayErr != nil {
		res.Deterministic = false
		res.Error = replayErr.Error()
	}
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := writeJSONLine(out, res); err != nil {
			return err
		}
	} else if res.Deterministic {
		fmt.Fprintf(out, "replayed %d ticks through tick %d: all digests match\n", res.Ticks, res.LastTick)
	} else {
		fmt.Fprintf(out, "replay stopped after %d ticks: %s\n", res.Ticks, res.Error)
	}

	switch {
	case replayErr == nil:
		return nil
	case errors.Is(replayErr, world.ErrDigestMismatch):
		return WrapExitError(ExitFailure, "replay diverged", replayErr)
	default:
		return WrapExitError(ExitCommandError, "replay failed", replayErr)
	}
}
