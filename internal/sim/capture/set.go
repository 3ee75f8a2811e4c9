package capture

// Kind identifies one capture buffer.
type Kind uint8

const (
	KindBlocks Kind = iota
	KindEntities
	KindItems
	KindSlots
)

// ReplayOrder is the order in which buffers are replayed. Entity spawns and
// item drops are frequently consequences of block changes, so blocks go first.
var ReplayOrder = [...]Kind{KindBlocks, KindEntities, KindItems, KindSlots}

func (k Kind) String() string {
	switch k {
	case KindBlocks:
		return "blocks"
	case KindEntities:
		return "entities"
	case KindItems:
		return "items"
	case KindSlots:
		return "slots"
	}
	return "unknown"
}

// Set groups the per-kind buffers of one phase context. Buffers are allocated
// on first use; most phases only touch one or two kinds.
type Set struct {
	blocks   *Buffer[Pos, BlockTransaction]
	entities *Buffer[string, SpawnRequest]
	items    *Buffer[string, ItemDrop]
	slots    *Buffer[SlotKey, SlotTransaction]
}

func (s *Set) AddBlock(t BlockTransaction) bool {
	if s.blocks == nil {
		s.blocks = &Buffer[Pos, BlockTransaction]{}
	}
	return s.blocks.Add(t)
}

func (s *Set) AddSpawn(r SpawnRequest) bool {
	if s.entities == nil {
		s.entities = &Buffer[string, SpawnRequest]{}
	}
	return s.entities.Add(r)
}

func (s *Set) AddDrop(d ItemDrop) bool {
	if s.items == nil {
		s.items = &Buffer[string, ItemDrop]{}
	}
	return s.items.Add(d)
}

func (s *Set) AddSlot(t SlotTransaction) bool {
	if s.slots == nil {
		s.slots = &Buffer[SlotKey, SlotTransaction]{}
	}
	return s.slots.Add(t)
}

// PendingBlock returns the block proposed for p, if any.
func (s *Set) PendingBlock(p Pos) (BlockState, bool) {
	if s.blocks == nil {
		return "", false
	}
	t, ok := s.blocks.Get(p)
	return t.Final, ok
}

// PendingSlot returns the stack proposed for the slot, if any.
func (s *Set) PendingSlot(inv string, slot int) (ItemStack, bool) {
	if s.slots == nil {
		return ItemStack{}, false
	}
	t, ok := s.slots.Get(SlotKey{Inventory: inv, Slot: slot})
	return t.Final, ok
}

// DropBlock removes the proposal for p. A nested phase that applies a newer
// change to p supersedes it.
func (s *Set) DropBlock(p Pos) bool { return s.blocks.Remove(p) }

func (s *Set) DropSlot(k SlotKey) bool { return s.slots.Remove(k) }

func (s *Set) Blocks() []BlockTransaction      { return s.blocks.Entries() }
func (s *Set) Spawns() []SpawnRequest          { return s.entities.Entries() }
func (s *Set) Drops() []ItemDrop               { return s.items.Entries() }
func (s *Set) Slots() []SlotTransaction        { return s.slots.Entries() }
func (s *Set) DrainBlocks() []BlockTransaction { return s.blocks.Drain() }
func (s *Set) DrainSpawns() []SpawnRequest     { return s.entities.Drain() }
func (s *Set) DrainDrops() []ItemDrop          { return s.items.Drain() }
func (s *Set) DrainSlots() []SlotTransaction   { return s.slots.Drain() }

func (s *Set) Len(k Kind) int {
	switch k {
	case KindBlocks:
		return s.blocks.Len()
	case KindEntities:
		return s.entities.Len()
	case KindItems:
		return s.items.Len()
	case KindSlots:
		return s.slots.Len()
	}
	return 0
}

// Total is the number of buffered entries across all kinds.
func (s *Set) Total() int {
	return s.blocks.Len() + s.entities.Len() + s.items.Len() + s.slots.Len()
}

func (s *Set) Empty() bool { return s.Total() == 0 }

// Discard drops every buffered entry and returns how many were dropped.
func (s *Set) Discard() int {
	n := s.Total()
	s.blocks.Drain()
	s.entities.Drain()
	s.items.Drain()
	s.slots.Drain()
	return n
}
