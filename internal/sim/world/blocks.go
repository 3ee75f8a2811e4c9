package world

import (
	"errors"
	"fmt"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/phase"
)

const (
	Bedrock  capture.BlockState = "bedrock"
	Stone    capture.BlockState = "stone"
	Dirt     capture.BlockState = "dirt"
	Grass    capture.BlockState = "grass"
	Farmland capture.BlockState = "farmland"
	Sand     capture.BlockState = "sand"
	Gravel   capture.BlockState = "gravel"
	Fire     capture.BlockState = "fire"
)

// NeighborRule reacts to an applied block change. Mutations it makes go
// through the mutation points, so they are captured by whatever phase or
// post-dispatch context is current.
type NeighborRule func(w *World, tx capture.BlockTransaction) error

// BlockTicker runs when a scheduled block tick for a block of its type is due.
type BlockTicker func(w *World, pos capture.Pos) error

func (w *World) AddNeighborRule(r NeighborRule) { w.rules = append(w.rules, r) }

func (w *World) HandleBlockTick(b capture.BlockState, fn BlockTicker) { w.tickers[b] = fn }

// Block returns the block at p as the simulation currently sees it, including
// changes proposed by active phases that have not been applied yet.
func (w *World) Block(p capture.Pos) capture.BlockState {
	if b, ok := w.tracker.PendingBlock(p); ok {
		return b
	}
	return w.storedBlock(p)
}

func (w *World) storedBlock(p capture.Pos) capture.BlockState {
	if b, ok := w.blocks[p]; ok {
		return b
	}
	return capture.Air
}

// SetBlock is the block mutation point.
func (w *World) SetBlock(p capture.Pos, b capture.BlockState) error {
	if b == "" {
		b = capture.Air
	}
	ctx := w.tracker.Current()
	if ctx.CapturesBlocks() {
		return ctx.AddBlockCapture(capture.BlockTransaction{Pos: p, Original: w.Block(p), Final: b})
	}
	tx := capture.BlockTransaction{Pos: p, Original: w.storedBlock(p), Final: b}
	if tx.IsNoop() {
		return nil
	}
	return w.ApplyBlock(tx)
}

// ApplyBlock implements phase.Simulation.
func (w *World) ApplyBlock(tx capture.BlockTransaction) error {
	if tx.Final == capture.Air {
		delete(w.blocks, tx.Pos)
	} else {
		w.blocks[tx.Pos] = tx.Final
	}
	return w.notifyNeighbors(tx)
}

// notifyNeighbors runs the neighbor rules for an applied change. A change made
// outside any phase opens a neighbor-notify phase so the follow-up mutations
// are attributed to the changed block.
func (w *World) notifyNeighbors(tx capture.BlockTransaction) error {
	if len(w.rules) == 0 {
		return nil
	}
	run := func(*phase.Context) error {
		var errs []error
		for _, r := range w.rules {
			if err := r(w, tx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	if !w.tracker.IsEmpty() {
		return run(nil)
	}
	ctx := phase.NeighborNotify.NewContext(w.tracker).WithSource(BlockCause{Pos: tx.Pos, Block: tx.Final})
	return w.tracker.Run(ctx, run)
}

func Falls(b capture.BlockState) bool { return b == Sand || b == Gravel }

// Gravity turns unsupported sand and gravel into falling blocks. It checks the
// changed position and the one above it.
func Gravity(w *World, tx capture.BlockTransaction) error {
	for _, p := range []capture.Pos{tx.Pos, tx.Pos.Up()} {
		b := w.Block(p)
		if !Falls(b) || w.Block(p.Down()) != capture.Air {
			continue
		}
		if err := w.SetBlock(p, capture.Air); err != nil {
			return err
		}
		if _, err := w.SpawnEntity(capture.SpawnRequest{Type: FallingBlock, Pos: p, Block: b}); err != nil {
			return err
		}
	}
	return nil
}

func igniteRule(w *World, tx capture.BlockTransaction) error {
	if tx.Final == Fire {
		w.ScheduleBlockTick(tx.Pos, uint64(w.cfg.FireTicks))
	}
	return nil
}

// harvestRule drops the item of a dug block once the change removing it has
// applied. A cancelled or invalidated dig drops nothing.
func harvestRule(w *World, tx capture.BlockTransaction) error {
	b, ok := w.harvest[tx.Pos]
	if !ok || tx.Final != capture.Air {
		return nil
	}
	delete(w.harvest, tx.Pos)
	_, err := w.DropItem(capture.ItemStack{Item: string(b), Count: 1}, tx.Pos)
	return err
}

func burnOut(w *World, pos capture.Pos) error {
	return w.SetBlock(pos, capture.Air)
}

// ScheduleBlockTick queues a block tick for pos delay ticks from now. The
// delay is at least one tick.
func (w *World) ScheduleBlockTick(pos capture.Pos, delay uint64) {
	if delay == 0 {
		delay = 1
	}
	due := w.tick.Load() + delay
	w.blockTicks[due] = append(w.blockTicks[due], pos)
}

// tickBlocks runs the block ticks due at now, each in its own block-tick phase
// nested in the world tick.
func (w *World) tickBlocks(now uint64) error {
	due := w.blockTicks[now]
	delete(w.blockTicks, now)
	var errs []error
	for _, pos := range due {
		b := w.Block(pos)
		fn, ok := w.tickers[b]
		if !ok {
			continue
		}
		ctx := phase.BlockTick.NewContext(w.tracker).WithSource(BlockCause{Pos: pos, Block: b})
		if err := w.tracker.Run(ctx, func(*phase.Context) error { return fn(w, pos) }); err != nil {
			errs = append(errs, fmt.Errorf("block tick %s at %s: %w", b, pos, err))
		}
	}
	return errors.Join(errs...)
}

// generate lays out the flat spawn area under the terrain-generation phase,
// which captures nothing.
func (w *World) generate() error {
	r := w.cfg.FlatRadius
	if r < 0 {
		return nil
	}
	ctx := phase.TerrainGeneration.NewContext(w.tracker).WithSource(w)
	return w.tracker.Run(ctx, func(*phase.Context) error {
		for x := -r; x <= r; x++ {
			for z := -r; z <= r; z++ {
				for y := 0; y <= w.cfg.SurfaceY; y++ {
					if err := w.SetBlock(capture.Pos{X: x, Y: y, Z: z}, layerAt(y, w.cfg.SurfaceY)); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func layerAt(y, surface int) capture.BlockState {
	switch {
	case y == 0:
		return Bedrock
	case y == surface:
		return Grass
	case y >= surface-2:
		return Dirt
	}
	return Stone
}
