package world

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/packet"
	"phasecraft.ai/internal/sim/phase"
)

const (
	FallingBlock = "falling_block"
	EnderDragon  = "ender_dragon"
	EndCrystal   = "end_crystal"
	ItemFrame    = "item_frame"
	ArmorStand   = "armor_stand"
)

// defaultHealth applies when a spawn request does not carry one.
var defaultHealth = map[string]int{
	"zombie":    20,
	"villager":  20,
	ArmorStand:  1,
	ItemFrame:   1,
	EndCrystal:  1,
	EnderDragon: 200,
}

// loot is dropped when a living entity of the type dies from an attack.
var loot = map[string]string{
	"zombie":    "rotten_flesh",
	EnderDragon: "dragon_egg",
}

type Entity struct {
	id     string
	typ    string
	Pos    capture.Pos
	living bool
	Health int
	dead   bool
	// block is what a falling block lands as.
	block capture.BlockState
}

func (e *Entity) ID() string   { return e.id }
func (e *Entity) Type() string { return e.typ }
func (e *Entity) Dead() bool   { return e.dead }
func (e *Entity) Living() bool { return e.living }

func (e *Entity) String() string { return "entity:" + e.typ + "#" + e.id }

// Entity implements packet.World.
func (w *World) Entity(id string) (packet.Entity, bool) {
	e, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	return e, true
}

// LookupEntity is Entity with the concrete type.
func (w *World) LookupEntity(id string) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// Entities returns the live entities sorted by ID.
func (w *World) Entities() []*Entity {
	out := make([]*Entity, 0, len(w.entities))
	for _, e := range w.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// SpawnEntity is the entity mutation point. It assigns an ID when r has none
// and returns it, whether the spawn was captured or applied.
func (w *World) SpawnEntity(r capture.SpawnRequest) (string, error) {
	if r.EntityID == "" {
		r.EntityID = w.newEntityID()
	}
	if r.Health == 0 {
		r.Health = defaultHealth[r.Type]
	}
	ctx := w.tracker.Current()
	if ctx.CapturesEntities() {
		return r.EntityID, ctx.AddSpawnCapture(r)
	}
	return r.EntityID, w.ApplySpawn(r)
}

// ApplySpawn implements phase.Simulation.
func (w *World) ApplySpawn(r capture.SpawnRequest) error {
	if _, dup := w.entities[r.EntityID]; dup {
		return fmt.Errorf("spawn %s: entity already exists", r.EntityID)
	}
	w.entities[r.EntityID] = &Entity{
		id:     r.EntityID,
		typ:    r.Type,
		Pos:    r.Pos,
		living: r.Living,
		Health: r.Health,
		block:  r.Block,
	}
	return nil
}

// tickEntities runs each entity in its own phase. Dragons run in the dragon
// fight phase with their fight attached.
func (w *World) tickEntities() error {
	var errs []error
	for _, e := range w.Entities() {
		if e.dead {
			continue
		}
		var ctx *phase.Context
		if f, ok := w.fights[e.id]; ok {
			ctx = phase.DragonFightTick.NewContext(w.tracker).WithSource(e)
			if err := phase.SetExtension(ctx, phase.DragonFightTick, f); err != nil {
				errs = append(errs, err)
				continue
			}
		} else {
			ctx = phase.EntityTick.NewContext(w.tracker).WithSource(e)
		}
		if err := w.tracker.Run(ctx, func(*phase.Context) error { return w.tickEntity(e) }); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e, err))
		}
	}
	return errors.Join(errs...)
}

func (w *World) tickEntity(e *Entity) error {
	switch e.typ {
	case FallingBlock:
		return w.fall(e)
	case EnderDragon:
		return w.dragonTick(e)
	}
	return nil
}

// fall moves a falling block down one block per tick and lands it on the
// first solid block. A landing spot that is already taken drops the block as
// an item instead.
func (w *World) fall(e *Entity) error {
	if e.Pos.Y <= 0 {
		e.dead = true
		return nil
	}
	if w.Block(e.Pos.Down()) == capture.Air {
		e.Pos = e.Pos.Down()
		return nil
	}
	e.dead = true
	if w.Block(e.Pos) != capture.Air {
		_, err := w.DropItem(capture.ItemStack{Item: string(e.block), Count: 1}, e.Pos)
		return err
	}
	return w.SetBlock(e.Pos, e.block)
}

// AttackDamage implements packet.World. A sword in the first hotbar slot hits
// harder.
func (w *World) AttackDamage(player string) int {
	p, ok := w.players[player]
	if !ok {
		return 1
	}
	if strings.HasSuffix(w.Slot(p.Inventory(), 0).Item, "sword") {
		return 7
	}
	return 1
}

// Attack implements packet.World.
func (w *World) Attack(player, target string, damage int) error {
	e, ok := w.entities[target]
	if !ok || e.dead {
		return nil
	}
	e.Health -= damage
	if e.Health > 0 {
		return nil
	}
	e.dead = true
	if item, ok := loot[e.typ]; ok && e.living {
		_, err := w.DropItem(capture.ItemStack{Item: item, Count: 1}, e.Pos)
		return err
	}
	return nil
}

// Interact implements packet.World. Interacting with an item frame knocks it
// off the wall.
func (w *World) Interact(player, target, hand string) error {
	e, ok := w.entities[target]
	if !ok || e.dead || e.typ != ItemFrame {
		return nil
	}
	e.dead = true
	_, err := w.DropItem(capture.ItemStack{Item: ItemFrame, Count: 1}, e.Pos)
	return err
}

// removeDead drops dead entities at the end of a tick.
func (w *World) removeDead() {
	for id, e := range w.entities {
		if e.dead {
			delete(w.entities, id)
			delete(w.fights, id)
		}
	}
}
