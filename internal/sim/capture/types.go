// Package capture holds the proposed-but-not-yet-applied mutations recorded
// while a phase is active.
package capture

import "fmt"

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Pos) Add(dx, dy, dz int) Pos { return Pos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz} }

func (p Pos) Up() Pos   { return p.Add(0, 1, 0) }
func (p Pos) Down() Pos { return p.Add(0, -1, 0) }

// Neighbors returns the six face-adjacent positions in a fixed order.
func (p Pos) Neighbors() [6]Pos {
	return [6]Pos{
		p.Add(0, -1, 0), p.Add(0, 1, 0),
		p.Add(0, 0, -1), p.Add(0, 0, 1),
		p.Add(-1, 0, 0), p.Add(1, 0, 0),
	}
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// BlockState is an opaque block identifier such as "stone".
type BlockState string

const Air BlockState = "air"

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

func (s ItemStack) IsEmpty() bool { return s.Item == "" || s.Count <= 0 }

func (s ItemStack) String() string {
	if s.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("%dx%s", s.Count, s.Item)
}

// BlockTransaction proposes changing the block at Pos from Original to Final.
type BlockTransaction struct {
	Pos      Pos        `json:"pos"`
	Original BlockState `json:"original"`
	Final    BlockState `json:"final"`
}

func (t BlockTransaction) Key() Pos { return t.Pos }

// Coalesce keeps the pre-phase original and takes the newer proposal.
func (t BlockTransaction) Coalesce(next BlockTransaction) BlockTransaction {
	return BlockTransaction{Pos: t.Pos, Original: t.Original, Final: next.Final}
}

func (t BlockTransaction) IsNoop() bool { return t.Original == t.Final }

// SpawnRequest proposes adding an entity to the world.
type SpawnRequest struct {
	EntityID string `json:"entity_id"`
	Type     string `json:"type"`
	Pos      Pos    `json:"pos"`
	Living   bool   `json:"living"`
	Health   int    `json:"health,omitempty"`
	// Block is carried by falling blocks.
	Block BlockState `json:"block,omitempty"`
}

func (r SpawnRequest) Key() string { return r.EntityID }

func (r SpawnRequest) Coalesce(next SpawnRequest) SpawnRequest { return next }

// ItemDrop proposes a dropped item entity.
type ItemDrop struct {
	ID    string    `json:"id"`
	Stack ItemStack `json:"stack"`
	Pos   Pos       `json:"pos"`
}

func (d ItemDrop) Key() string { return d.ID }

func (d ItemDrop) Coalesce(next ItemDrop) ItemDrop { return next }

type SlotKey struct {
	Inventory string
	Slot      int
}

// SlotTransaction proposes replacing the stack in one inventory slot.
type SlotTransaction struct {
	Inventory string    `json:"inventory"`
	Slot      int       `json:"slot"`
	Original  ItemStack `json:"original"`
	Final     ItemStack `json:"final"`
}

func (t SlotTransaction) Key() SlotKey { return SlotKey{Inventory: t.Inventory, Slot: t.Slot} }

func (t SlotTransaction) Coalesce(next SlotTransaction) SlotTransaction {
	out := t
	out.Final = next.Final
	return out
}

func (t SlotTransaction) IsNoop() bool {
	if t.Original.IsEmpty() && t.Final.IsEmpty() {
		return true
	}
	return t.Original == t.Final
}
