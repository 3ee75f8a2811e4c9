package world

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/cause"
	"phasecraft.ai/internal/sim/packet"
	"phasecraft.ai/internal/sim/phase"
)

const chatHistory = 100

var (
	ErrUnknownPlayer = errors.New("world: unknown player")
	ErrPlayerExists  = errors.New("world: player already joined")
)

type Player struct {
	Name string
	Pos  capture.Pos
}

func (p *Player) Inventory() string { return "player:" + p.Name }

func (p *Player) String() string { return "player:" + p.Name }

func (w *World) Player(name string) (*Player, bool) {
	p, ok := w.players[name]
	return p, ok
}

func (w *World) Players() []*Player {
	out := make([]*Player, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddPlayer puts a player on the surface at the origin and fills its
// inventory with the starter items. Joining is not a tracked phase, so the
// starter items apply directly.
func (w *World) AddPlayer(name string) (*Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("world: empty player name")
	}
	if _, dup := w.players[name]; dup {
		return nil, fmt.Errorf("%w: %q", ErrPlayerExists, name)
	}
	p := &Player{Name: name, Pos: capture.Pos{Y: w.cfg.SurfaceY + 1}}
	w.players[name] = p
	for i, s := range w.cfg.StarterItems {
		if i >= w.cfg.InventorySize {
			break
		}
		if err := w.SetSlot(p.Inventory(), i, s); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (w *World) tickPlayers() error {
	var errs []error
	for _, p := range w.Players() {
		ctx := phase.PlayerTick.NewContext(w.tracker).WithSource(p).WithContext(cause.Player, p.Name)
		err := w.tracker.Run(ctx, func(*phase.Context) error { return w.pickUp(p) })
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	// Claims whose slot change never applied were cancelled.
	clear(w.pickups)
	clear(w.claimed)
	return errors.Join(errs...)
}

// PlaceBlock implements packet.World. The block must be in the given slot and
// the target must be air.
func (w *World) PlaceBlock(player string, pos capture.Pos, block capture.BlockState, slot int) error {
	p, ok := w.players[player]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlayer, player)
	}
	held := w.Slot(p.Inventory(), slot)
	if held.IsEmpty() || held.Item != string(block) || w.Block(pos) != capture.Air {
		return nil
	}
	if err := w.SetBlock(pos, block); err != nil {
		return err
	}
	held.Count--
	return w.SetSlot(p.Inventory(), slot, held)
}

// Broadcast implements packet.World.
func (w *World) Broadcast(player, message string) {
	line := player + ": " + message
	w.chat = append(w.chat, line)
	if len(w.chat) > chatHistory {
		w.chat = w.chat[len(w.chat)-chatHistory:]
	}
	w.log.Printf("chat %s", line)
}

func (w *World) ChatLog() []string { return append([]string(nil), w.chat...) }

// handlePacket runs one inbound packet in the phase it resolves to. The
// in-phase work here only makes the mutations the packet implies; what the
// packet means is decided by the packet table when the phase unwinds.
func (w *World) handlePacket(in packet.Inbound) error {
	s := packet.StateFor(in.Packet)
	if s == nil {
		return nil
	}
	p, ok := w.players[in.Player]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlayer, in.Player)
	}
	ctx := s.NewContext(w.tracker).WithSource(p).WithPacket(in.Packet, p.Name)
	defer clear(w.harvest)
	return w.tracker.Run(ctx, func(*phase.Context) error {
		switch pk := in.Packet.(type) {
		case packet.Dig:
			return w.dig(pk)
		case packet.ClickWindow:
			return w.clickWindow(p, pk)
		case packet.UseItem:
			return w.useItem(p, pk)
		case packet.Move:
			return w.move(p, pk)
		}
		return nil
	})
}

func (w *World) dig(d packet.Dig) error {
	if d.Status != packet.DigFinish {
		return nil
	}
	b := w.Block(d.Pos)
	if b == capture.Air || b == Bedrock {
		return nil
	}
	w.harvest[d.Pos] = b
	return w.SetBlock(d.Pos, capture.Air)
}

func (w *World) clickWindow(p *Player, c packet.ClickWindow) error {
	inv := c.Inventory
	if inv == "" {
		inv = p.Inventory()
	}
	if c.Slot == c.Target {
		return nil
	}
	a, b := w.Slot(inv, c.Slot), w.Slot(inv, c.Target)
	if err := w.SetSlot(inv, c.Slot, b); err != nil {
		return err
	}
	return w.SetSlot(inv, c.Target, a)
}

const spawnEggPrefix = "spawn_egg:"

// useItem hatches spawn eggs next to the player.
func (w *World) useItem(p *Player, u packet.UseItem) error {
	held := w.Slot(p.Inventory(), u.Slot)
	typ, ok := strings.CutPrefix(held.Item, spawnEggPrefix)
	if held.IsEmpty() || !ok || typ == "" {
		return nil
	}
	if _, err := w.SpawnEntity(capture.SpawnRequest{Type: typ, Pos: p.Pos.Add(1, 0, 0), Living: true}); err != nil {
		return err
	}
	held.Count--
	return w.SetSlot(p.Inventory(), u.Slot, held)
}

// move relocates the player and tramples farmland it lands on.
func (w *World) move(p *Player, m packet.Move) error {
	p.Pos = m.To
	below := m.To.Down()
	if w.Block(below) == Farmland {
		return w.SetBlock(below, Dirt)
	}
	return nil
}
