// Package spawnguard keeps players from editing the area around spawn.
package spawnguard

import (
	"sync/atomic"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/cause"
	"phasecraft.ai/internal/sim/event"
	"phasecraft.ai/internal/sim/tuning"
)

const Plugin = "spawnguard"

// OrderGuard runs the guard before default listeners so they see its verdict.
const OrderGuard = event.OrderEarly

// Guard protects a square column of Radius blocks around Center. Block
// changes made on behalf of a player inside it are refused, and protected
// block types are never replaced by anyone.
type Guard struct {
	Center    capture.Pos
	Radius    int
	Protected []capture.BlockState

	cancelled   atomic.Uint64
	invalidated atomic.Uint64
}

// Register subscribes the guard and returns the unsubscribe func.
func (g *Guard) Register(bus *event.Bus) func() {
	offBlocks := bus.Subscribe(event.Listener{
		Plugin: Plugin,
		Kind:   event.KindChangeBlock,
		Order:  OrderGuard,
		Handle: func(ev event.Event) { g.onChangeBlock(ev.(*event.ChangeBlock)) },
	})
	offPlace := bus.Subscribe(event.Listener{
		Plugin: Plugin,
		Kind:   event.KindInteractBlock,
		Order:  OrderGuard,
		Handle: func(ev event.Event) { g.onInteractBlock(ev.(*event.InteractBlock)) },
	})
	return func() {
		offBlocks()
		offPlace()
	}
}

func (g *Guard) Cancelled() uint64   { return g.cancelled.Load() }
func (g *Guard) Invalidated() uint64 { return g.invalidated.Load() }

func (g *Guard) Covers(p capture.Pos) bool {
	return abs(p.X-g.Center.X) <= g.Radius && abs(p.Z-g.Center.Z) <= g.Radius
}

func (g *Guard) protected(b capture.BlockState) bool {
	for _, p := range g.Protected {
		if p == b {
			return true
		}
	}
	return false
}

func (g *Guard) onChangeBlock(ev *event.ChangeBlock) {
	_, byPlayer := cause.ContextValue[string](ev.Cause(), cause.Player)

	n := ev.InvalidateWhere(func(tx capture.BlockTransaction) bool { return g.protected(tx.Original) })
	g.invalidated.Add(uint64(n))
	if !byPlayer {
		return
	}

	valid := ev.ValidEntries()
	inside := 0
	for _, tx := range valid {
		if g.Covers(tx.Pos) {
			inside++
		}
	}
	switch {
	case inside == 0:
	case inside == len(valid):
		ev.SetCancelled(true)
		g.cancelled.Add(1)
	default:
		n := ev.InvalidateWhere(func(tx capture.BlockTransaction) bool { return g.Covers(tx.Pos) })
		g.invalidated.Add(uint64(n))
	}
}

func (g *Guard) onInteractBlock(ev *event.InteractBlock) {
	if ev.Action == "place" && ev.Player != "" && g.Covers(ev.Pos) {
		ev.SetCancelled(true)
		g.cancelled.Add(1)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// FromTuning builds a guard centred on the world origin, or nil when the
// guard is disabled.
func FromTuning(sg tuning.SpawnGuard) *Guard {
	if !sg.Enabled {
		return nil
	}
	g := &Guard{Radius: sg.Radius}
	for _, b := range sg.Protected {
		g.Protected = append(g.Protected, capture.BlockState(b))
	}
	return g
}
