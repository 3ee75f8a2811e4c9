// Package event defines the cause-annotated events produced when a phase
// unwinds, and the sink they are posted to.
package event

import (
	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/cause"
)

type Kind string

const (
	KindChangeBlock     Kind = "change_block"
	KindSpawnEntity     Kind = "spawn_entity"
	KindDropItem        Kind = "drop_item"
	KindChangeInventory Kind = "change_inventory"
	KindInteractEntity  Kind = "interact_entity"
	KindAttackEntity    Kind = "attack_entity"
	KindDestructEntity  Kind = "destruct_entity"
	KindInteractBlock   Kind = "interact_block"
	KindChat            Kind = "chat"
)

// Event is what the sink receives. Events are built by the unwind pipeline or
// by packet functions and are only valid for the duration of Post.
type Event interface {
	Kind() Kind
	Cause() cause.Cause
	// Phase names the phase state whose unwind produced the event.
	Phase() string
	// Depth is 0 for the primary replay and N for the Nth post-dispatch pass.
	Depth() int
	Cancelled() bool
	SetCancelled(bool)
}

// Base carries the fields every event shares.
type Base struct {
	cause     cause.Cause
	phase     string
	depth     int
	cancelled bool
}

func NewBase(c cause.Cause, phase string, depth int) Base {
	return Base{cause: c, phase: phase, depth: depth}
}

func (b *Base) Cause() cause.Cause  { return b.cause }
func (b *Base) Phase() string       { return b.phase }
func (b *Base) Depth() int          { return b.depth }
func (b *Base) Cancelled() bool     { return b.cancelled }
func (b *Base) SetCancelled(v bool) { b.cancelled = v }

// Entries is a batch of proposed mutations. Listeners may invalidate single
// entries; only valid entries are applied when the event is not cancelled.
type Entries[T any] struct {
	items   []T
	invalid []bool
}

func newEntries[T any](items []T) Entries[T] {
	return Entries[T]{items: items, invalid: make([]bool, len(items))}
}

func (e *Entries[T]) Len() int         { return len(e.items) }
func (e *Entries[T]) At(i int) T       { return e.items[i] }
func (e *Entries[T]) All() []T         { return append([]T(nil), e.items...) }
func (e *Entries[T]) Valid(i int) bool { return !e.invalid[i] }

func (e *Entries[T]) Invalidate(i int) { e.invalid[i] = true }

// InvalidateWhere marks every entry matching fn invalid and returns the count.
func (e *Entries[T]) InvalidateWhere(fn func(T) bool) int {
	n := 0
	for i, it := range e.items {
		if !e.invalid[i] && fn(it) {
			e.invalid[i] = true
			n++
		}
	}
	return n
}

func (e *Entries[T]) ValidEntries() []T {
	out := make([]T, 0, len(e.items))
	for i, it := range e.items {
		if !e.invalid[i] {
			out = append(out, it)
		}
	}
	return out
}

type ChangeBlock struct {
	Base
	Entries[capture.BlockTransaction]
}

func NewChangeBlock(b Base, txs []capture.BlockTransaction) *ChangeBlock {
	return &ChangeBlock{Base: b, Entries: newEntries(txs)}
}

func (*ChangeBlock) Kind() Kind { return KindChangeBlock }

type SpawnEntity struct {
	Base
	Entries[capture.SpawnRequest]
}

func NewSpawnEntity(b Base, reqs []capture.SpawnRequest) *SpawnEntity {
	return &SpawnEntity{Base: b, Entries: newEntries(reqs)}
}

func (*SpawnEntity) Kind() Kind { return KindSpawnEntity }

type DropItem struct {
	Base
	Entries[capture.ItemDrop]
}

func NewDropItem(b Base, drops []capture.ItemDrop) *DropItem {
	return &DropItem{Base: b, Entries: newEntries(drops)}
}

func (*DropItem) Kind() Kind { return KindDropItem }

type ChangeInventory struct {
	Base
	Entries[capture.SlotTransaction]
}

func NewChangeInventory(b Base, txs []capture.SlotTransaction) *ChangeInventory {
	return &ChangeInventory{Base: b, Entries: newEntries(txs)}
}

func (*ChangeInventory) Kind() Kind { return KindChangeInventory }

// InteractEntity is fired when a player uses an entity (secondary action).
type InteractEntity struct {
	Base
	Player string
	Target string
	Hand   string
}

func (*InteractEntity) Kind() Kind { return KindInteractEntity }

type AttackEntity struct {
	Base
	Player string
	Target string
	Damage int
}

func (*AttackEntity) Kind() Kind { return KindAttackEntity }

// DestructEntity is fired when a non-living entity is destroyed.
type DestructEntity struct {
	Base
	Target     string
	EntityType string
}

func (*DestructEntity) Kind() Kind { return KindDestructEntity }

type InteractBlock struct {
	Base
	Player string
	Pos    capture.Pos
	Action string
}

func (*InteractBlock) Kind() Kind { return KindInteractBlock }

type Chat struct {
	Base
	Player  string
	Message string
}

func (*Chat) Kind() Kind { return KindChat }

// Size returns the number of entries carried by batched events, or 1.
func Size(ev Event) int {
	if s, ok := ev.(interface{ Len() int }); ok {
		return s.Len()
	}
	return 1
}
