package phase

import (
	"io"
	"log"
	"testing"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/event"
)

// fakeSim is a minimal simulation: a block map with mutation points that
// consult the tracker, and apply methods that run an optional neighbor rule.
type fakeSim struct {
	tr      *Tracker
	blocks  map[capture.Pos]capture.BlockState
	spawned []capture.SpawnRequest
	drops   []capture.ItemDrop
	slots   map[capture.SlotKey]capture.ItemStack
	applied []capture.Pos

	onBlock func(tx capture.BlockTransaction)
}

func newFakeSim() *fakeSim {
	return &fakeSim{
		blocks: map[capture.Pos]capture.BlockState{},
		slots:  map[capture.SlotKey]capture.ItemStack{},
	}
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestTracker(t *testing.T, sink event.Sink, opts ...Option) (*Tracker, *fakeSim) {
	t.Helper()
	sim := newFakeSim()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	sim.tr = NewTracker(sim, sink, opts...)
	return sim.tr, sim
}

func (s *fakeSim) block(p capture.Pos) capture.BlockState {
	if b, ok := s.tr.PendingBlock(p); ok {
		return b
	}
	if b, ok := s.blocks[p]; ok {
		return b
	}
	return capture.Air
}

func (s *fakeSim) setBlock(p capture.Pos, b capture.BlockState) error {
	ctx := s.tr.Current()
	tx := capture.BlockTransaction{Pos: p, Original: s.block(p), Final: b}
	if ctx.CapturesBlocks() {
		return ctx.AddBlockCapture(tx)
	}
	return s.ApplyBlock(tx)
}

func (s *fakeSim) spawn(r capture.SpawnRequest) error {
	ctx := s.tr.Current()
	if ctx.CapturesEntities() {
		return ctx.AddSpawnCapture(r)
	}
	return s.ApplySpawn(r)
}

func (s *fakeSim) ApplyBlock(tx capture.BlockTransaction) error {
	s.blocks[tx.Pos] = tx.Final
	s.applied = append(s.applied, tx.Pos)
	if s.onBlock != nil {
		s.onBlock(tx)
	}
	return nil
}

func (s *fakeSim) ApplySpawn(r capture.SpawnRequest) error {
	s.spawned = append(s.spawned, r)
	return nil
}

func (s *fakeSim) ApplyDrop(d capture.ItemDrop) error {
	s.drops = append(s.drops, d)
	return nil
}

func (s *fakeSim) ApplySlot(tx capture.SlotTransaction) error {
	s.slots[tx.Key()] = tx.Final
	return nil
}

// collector is a sink that records every event and can cancel by kind.
type collector struct {
	events []event.Event
	cancel map[event.Kind]bool
	before func(ev event.Event)
}

func (c *collector) Post(ev event.Event) bool {
	if c.before != nil {
		c.before(ev)
	}
	if c.cancel[ev.Kind()] {
		ev.SetCancelled(true)
	}
	c.events = append(c.events, ev)
	return ev.Cancelled()
}

func at(x, y, z int) capture.Pos { return capture.Pos{X: x, Y: y, Z: z} }

func mustPanic(t *testing.T, fn func()) (v any) {
	t.Helper()
	defer func() {
		v = recover()
		if v == nil {
			t.Fatalf("expected panic")
		}
	}()
	fn()
	return nil
}
