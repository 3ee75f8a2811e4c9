package world

import (
	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/phase"
	"phasecraft.ai/internal/sim/tuning"
)

// ConfigFromTuning maps the world section of a validated tuning onto a
// Config. The server and the replay tool must build worlds the same way.
func ConfigFromTuning(tu tuning.Tuning) (Config, error) {
	cfg := Config{
		ID:           tu.World.ID,
		TickRateHz:   tu.TickRateHz,
		FlatRadius:   tu.World.FlatRadius,
		SurfaceY:     tu.World.SurfaceY,
		PickupRadius: tu.World.PickupRadius,
		FireTicks:    tu.World.FireTicks,
	}
	for _, spec := range tu.World.StarterItems {
		item, n, err := tuning.ParseItemSpec(spec)
		if err != nil {
			return Config{}, err
		}
		cfg.StarterItems = append(cfg.StarterItems, capture.ItemStack{Item: item, Count: n})
	}
	return cfg, nil
}

func PhaseOptions(tu tuning.Tuning) []phase.Option {
	return []phase.Option{
		phase.WithSide(phase.Side(tu.Side)),
		phase.WithMaxDepth(tu.Phase.MaxDepth),
		phase.WithMaxPostDispatch(tu.Phase.MaxPostDispatch),
	}
}
