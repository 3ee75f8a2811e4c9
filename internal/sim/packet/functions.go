package packet

import (
	"fmt"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/event"
	"phasecraft.ai/internal/sim/phase"
)

// Entity is the view of an entity the packet functions need.
type Entity interface {
	ID() string
	Type() string
	Dead() bool
	Living() bool
}

// World performs the actions packets ask for. Its methods run inside the
// packet phase's unwind hook, so the mutations they make are captured and
// settled like any other post-dispatch capture.
type World interface {
	Entity(id string) (Entity, bool)
	AttackDamage(player string) int
	Attack(player, target string, damage int) error
	Interact(player, target, hand string) error
	PlaceBlock(player string, pos capture.Pos, block capture.BlockState, slot int) error
	Broadcast(player, message string)
}

// NewDefaultTable returns a sealed table covering every packet kind.
func NewDefaultTable(w World) (*Table, error) {
	t := NewTable()
	regs := []struct {
		kind  Kind
		state phase.State
		fn    Func
	}{
		{KindUseEntity, phase.PacketInteractEntity, interactEntity(w)},
		{KindUseEntity, phase.PacketInteractAtEntity, interactEntity(w)},
		{KindUseEntity, phase.PacketAttackEntity, attackEntity(w)},
		{KindDigging, phase.PacketDigBlock, noop},
		{KindPlace, phase.PacketPlaceBlock, placeBlock(w)},
		{KindClickWindow, phase.PacketClickWindow, noop},
		{KindUseItem, phase.PacketUseItem, noop},
		{KindChat, phase.PacketChat, chat(w)},
		{KindMove, phase.PacketMovement, noop},
	}
	for _, r := range regs {
		if err := t.Register(r.kind, r.state, r.fn); err != nil {
			return nil, err
		}
	}
	if err := t.Seal(); err != nil {
		return nil, err
	}
	return t, nil
}

// noop is registered for packets whose effects are fully described by the
// mutations captured while they were handled.
func noop(Packet, phase.State, string, *phase.Context) error { return nil }

func interactEntity(w World) Func {
	return func(p Packet, _ phase.State, player string, ctx *phase.Context) error {
		use, ok := p.(UseEntity)
		if !ok {
			return nil
		}
		if e, ok := w.Entity(use.Target); !ok || e.Dead() {
			return nil
		}
		ev := &event.InteractEntity{Base: ctx.EventBase(), Player: player, Target: use.Target, Hand: use.Hand}
		cancelled, err := ctx.Tracker().Post(ev)
		if err != nil || cancelled {
			return err
		}
		if err := w.Interact(player, use.Target, use.Hand); err != nil {
			return fmt.Errorf("interact %s: %w", use.Target, err)
		}
		return destructIfDestroyed(w, ctx, use.Target)
	}
}

func attackEntity(w World) Func {
	return func(p Packet, _ phase.State, player string, ctx *phase.Context) error {
		use, ok := p.(UseEntity)
		if !ok {
			return nil
		}
		if e, ok := w.Entity(use.Target); !ok || e.Dead() {
			return nil
		}
		ev := &event.AttackEntity{Base: ctx.EventBase(), Player: player, Target: use.Target, Damage: w.AttackDamage(player)}
		cancelled, err := ctx.Tracker().Post(ev)
		if err != nil || cancelled {
			return err
		}
		if err := w.Attack(player, use.Target, ev.Damage); err != nil {
			return fmt.Errorf("attack %s: %w", use.Target, err)
		}
		return destructIfDestroyed(w, ctx, use.Target)
	}
}

// destructIfDestroyed fires DestructEntity for a non-living entity the action
// just destroyed. Callers skip entities that were already dead, so one entity
// is destructed once. Living entities report their death through other events.
func destructIfDestroyed(w World, ctx *phase.Context, id string) error {
	e, ok := w.Entity(id)
	if !ok || !e.Dead() || e.Living() {
		return nil
	}
	_, err := ctx.Tracker().Post(&event.DestructEntity{Base: ctx.EventBase(), Target: e.ID(), EntityType: e.Type()})
	return err
}

func placeBlock(w World) Func {
	return func(p Packet, _ phase.State, player string, ctx *phase.Context) error {
		pl, ok := p.(Place)
		if !ok {
			return nil
		}
		ev := &event.InteractBlock{Base: ctx.EventBase(), Player: player, Pos: pl.Pos, Action: "place"}
		cancelled, err := ctx.Tracker().Post(ev)
		if err != nil || cancelled {
			return err
		}
		return w.PlaceBlock(player, pl.Pos, pl.Block, pl.Slot)
	}
}

func chat(w World) Func {
	return func(p Packet, _ phase.State, player string, ctx *phase.Context) error {
		c, ok := p.(Chat)
		if !ok {
			return nil
		}
		ev := &event.Chat{Base: ctx.EventBase(), Player: player, Message: c.Message}
		cancelled, err := ctx.Tracker().Post(ev)
		if err != nil || cancelled {
			return err
		}
		w.Broadcast(player, ev.Message)
		return nil
	}
}
