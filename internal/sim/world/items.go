package world

import (
	"fmt"
	"sort"

	"phasecraft.ai/internal/sim/capture"
)

const maxStack = 64

// Item is a dropped stack lying in the world.
type Item struct {
	ID    string
	Stack capture.ItemStack
	Pos   capture.Pos
}

// Items returns the dropped items sorted by ID.
func (w *World) Items() []*Item {
	out := make([]*Item, 0, len(w.items))
	for _, it := range w.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DropItem is the item mutation point. It returns the ID of the dropped item.
func (w *World) DropItem(s capture.ItemStack, pos capture.Pos) (string, error) {
	if s.IsEmpty() {
		return "", nil
	}
	d := capture.ItemDrop{ID: w.newItemID(), Stack: s, Pos: pos}
	ctx := w.tracker.Current()
	if ctx.CapturesItems() {
		return d.ID, ctx.AddDropCapture(d)
	}
	return d.ID, w.ApplyDrop(d)
}

// ApplyDrop implements phase.Simulation.
func (w *World) ApplyDrop(d capture.ItemDrop) error {
	w.items[d.ID] = &Item{ID: d.ID, Stack: d.Stack, Pos: d.Pos}
	return nil
}

// Slot returns the stack in a slot, including pending changes.
func (w *World) Slot(inv string, slot int) capture.ItemStack {
	if s, ok := w.tracker.PendingSlot(inv, slot); ok {
		return s
	}
	return w.slots[capture.SlotKey{Inventory: inv, Slot: slot}]
}

// SetSlot is the inventory mutation point.
func (w *World) SetSlot(inv string, slot int, s capture.ItemStack) error {
	if slot < 0 || slot >= w.cfg.InventorySize {
		return fmt.Errorf("slot %d out of range for %s", slot, inv)
	}
	if s.IsEmpty() {
		s = capture.ItemStack{}
	}
	ctx := w.tracker.Current()
	if ctx.CapturesSlots() {
		return ctx.AddSlotCapture(capture.SlotTransaction{Inventory: inv, Slot: slot, Original: w.Slot(inv, slot), Final: s})
	}
	key := capture.SlotKey{Inventory: inv, Slot: slot}
	tx := capture.SlotTransaction{Inventory: inv, Slot: slot, Original: w.slots[key], Final: s}
	if tx.IsNoop() {
		return nil
	}
	return w.ApplySlot(tx)
}

// ApplySlot implements phase.Simulation. Items claimed by a pickup into this
// slot leave the world once the slot change applies.
func (w *World) ApplySlot(tx capture.SlotTransaction) error {
	key := tx.Key()
	if tx.Final.IsEmpty() {
		delete(w.slots, key)
	} else {
		w.slots[key] = tx.Final
	}
	for _, id := range w.pickups[key] {
		delete(w.items, id)
	}
	delete(w.pickups, key)
	return nil
}

// fitSlot finds where s goes in inv: the first stack of the same item with
// room, else the first empty slot.
func (w *World) fitSlot(inv string, s capture.ItemStack) (int, capture.ItemStack, bool) {
	empty := -1
	for i := 0; i < w.cfg.InventorySize; i++ {
		cur := w.Slot(inv, i)
		if cur.IsEmpty() {
			if empty < 0 {
				empty = i
			}
			continue
		}
		if cur.Item == s.Item && cur.Count+s.Count <= maxStack {
			return i, capture.ItemStack{Item: s.Item, Count: cur.Count + s.Count}, true
		}
	}
	if empty < 0 {
		return 0, capture.ItemStack{}, false
	}
	return empty, s, true
}

// pickUp moves items near p into its inventory. The items stay in the world
// until the slot changes apply, so a cancelled inventory change keeps them.
func (w *World) pickUp(p *Player) error {
	r := w.cfg.PickupRadius
	for _, it := range w.Items() {
		if w.claimed[it.ID] || !near(p.Pos, it.Pos, r) {
			continue
		}
		slot, merged, ok := w.fitSlot(p.Inventory(), it.Stack)
		if !ok {
			continue
		}
		key := capture.SlotKey{Inventory: p.Inventory(), Slot: slot}
		w.pickups[key] = append(w.pickups[key], it.ID)
		w.claimed[it.ID] = true
		if err := w.SetSlot(p.Inventory(), slot, merged); err != nil {
			return err
		}
	}
	return nil
}

func near(a, b capture.Pos, r int) bool {
	return abs(a.X-b.X) <= r && abs(a.Y-b.Y) <= r && abs(a.Z-b.Z) <= r
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
