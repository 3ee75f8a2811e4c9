package world

import (
	"fmt"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/phase"
)

// crystalRing holds the crystal offsets around a fight's center, in order.
var crystalRing = []capture.Pos{
	{X: 8}, {X: -8}, {Z: 8}, {Z: -8},
	{X: 6, Z: 6}, {X: -6, Z: -6}, {X: 6, Z: -6}, {X: -6, Z: 6},
}

// DragonFight is attached to the dragon's tick phase. When the phase unwinds
// it respawns any crystal that is gone.
type DragonFight struct {
	w        *World
	Dragon   string
	Crystals []capture.Pos
	// Rearms counts crystal respawns requested by the fight.
	Rearms int
}

var _ phase.ExtensionUnwinder = (*DragonFight)(nil)

// StartDragonFight spawns a dragon above center with n crystals around it.
func (w *World) StartDragonFight(center capture.Pos, n int) (*DragonFight, error) {
	if n < 0 || n > len(crystalRing) {
		return nil, fmt.Errorf("dragon fight: %d crystals, want 0..%d", n, len(crystalRing))
	}
	id, err := w.SpawnEntity(capture.SpawnRequest{Type: EnderDragon, Pos: center.Add(0, 10, 0), Living: true})
	if err != nil {
		return nil, err
	}
	f := &DragonFight{w: w, Dragon: id}
	for _, off := range crystalRing[:n] {
		p := center.Add(off.X, off.Y, off.Z)
		f.Crystals = append(f.Crystals, p)
		if _, err := w.SpawnEntity(capture.SpawnRequest{Type: EndCrystal, Pos: p}); err != nil {
			return nil, err
		}
	}
	w.fights[id] = f
	return f, nil
}

// Fight returns the fight driven by the dragon with the given ID.
func (w *World) Fight(dragon string) (*DragonFight, bool) {
	f, ok := w.fights[dragon]
	return f, ok
}

func (f *DragonFight) UnwindExtension(ctx *phase.Context) error {
	for _, p := range f.Crystals {
		if f.w.crystalAt(p) {
			continue
		}
		if _, err := f.w.SpawnEntity(capture.SpawnRequest{Type: EndCrystal, Pos: p}); err != nil {
			return err
		}
		f.Rearms++
	}
	return nil
}

func (w *World) crystalAt(p capture.Pos) bool {
	for _, e := range w.entities {
		if e.typ == EndCrystal && !e.dead && e.Pos == p {
			return true
		}
	}
	return false
}

// dragonTick heals the dragon while any crystal stands and breaks the block
// it hovers over.
func (w *World) dragonTick(e *Entity) error {
	f, ok := phase.Extension[*DragonFight](w.tracker.Current(), phase.DragonFightTick)
	if ok && e.Health < defaultHealth[EnderDragon] {
		for _, p := range f.Crystals {
			if w.crystalAt(p) {
				e.Health++
				break
			}
		}
	}
	below := e.Pos.Down()
	if b := w.Block(below); b != capture.Air && b != Bedrock {
		return w.SetBlock(below, capture.Air)
	}
	return nil
}
