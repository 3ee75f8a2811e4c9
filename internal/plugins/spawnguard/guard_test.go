package spawnguard

import (
	"io"
	"log"
	"testing"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/cause"
	"phasecraft.ai/internal/sim/event"
	"phasecraft.ai/internal/sim/packet"
	"phasecraft.ai/internal/sim/tuning"
	"phasecraft.ai/internal/sim/world"
)

func newWorld(t *testing.T, g *Guard) *world.World {
	t.Helper()
	bus := event.NewBus()
	g.Register(bus)
	w, err := world.New(world.Config{
		FlatRadius:   3,
		SurfaceY:     4,
		StarterItems: []capture.ItemStack{{Item: "stone", Count: 4}},
		Logger:       log.New(io.Discard, "", 0),
	}, bus)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	if _, _, err := w.StepOnce([]world.JoinRequest{{Name: "alice"}}, nil); err != nil {
		t.Fatalf("join: %v", err)
	}
	return w
}

func send(t *testing.T, w *world.World, pk packet.Packet) {
	t.Helper()
	if _, _, err := w.StepOnce(nil, []packet.Inbound{{Player: "alice", Packet: pk}}); err != nil {
		t.Fatalf("step: %v", err)
	}
}

func TestGuard_RefusesDigNearSpawn(t *testing.T) {
	g := &Guard{Radius: 1}
	w := newWorld(t, g)

	inside := capture.Pos{X: 1, Y: 4, Z: 0}
	send(t, w, packet.Dig{Pos: inside, Status: packet.DigFinish})
	if got := w.Block(inside); got != world.Grass {
		t.Fatalf("block inside = %s, want grass", got)
	}
	if g.Cancelled() == 0 {
		t.Fatalf("expected a cancelled change")
	}
	if n := len(w.Items()); n != 0 {
		t.Fatalf("refused dig dropped %d items", n)
	}

	outside := capture.Pos{X: 3, Y: 4, Z: 3}
	send(t, w, packet.Dig{Pos: outside, Status: packet.DigFinish})
	if got := w.Block(outside); got != capture.Air {
		t.Fatalf("block outside = %s, want air", got)
	}
	if n := len(w.Items()); n != 1 {
		t.Fatalf("items = %d, want the dug block", n)
	}
}

func TestGuard_RefusesPlaceNearSpawn(t *testing.T) {
	g := &Guard{Radius: 1}
	w := newWorld(t, g)

	send(t, w, packet.Place{Pos: capture.Pos{X: 0, Y: 5, Z: 1}, Block: "stone", Slot: 0})
	if got := w.Block(capture.Pos{X: 0, Y: 5, Z: 1}); got != capture.Air {
		t.Fatalf("placed inside guard: %s", got)
	}
	if got := w.Slot("player:alice", 0); got.Count != 4 {
		t.Fatalf("slot = %+v, want 4 stone", got)
	}

	send(t, w, packet.Place{Pos: capture.Pos{X: 3, Y: 5, Z: -3}, Block: "stone", Slot: 0})
	if got := w.Block(capture.Pos{X: 3, Y: 5, Z: -3}); got != "stone" {
		t.Fatalf("block outside = %s, want stone", got)
	}
	if got := w.Slot("player:alice", 0); got.Count != 3 {
		t.Fatalf("slot = %+v, want 3 stone", got)
	}
}

func playerCause(name string) cause.Cause {
	s := cause.New()
	s.PushCause("player:" + name)
	s.AddContext(cause.Player, name)
	return s.Current()
}

func TestGuard_InvalidatesOnlyEntriesInside(t *testing.T) {
	g := &Guard{Radius: 2}
	bus := event.NewBus()
	g.Register(bus)

	ev := event.NewChangeBlock(event.NewBase(playerCause("alice"), "packet_dig_block", 0), []capture.BlockTransaction{
		{Pos: capture.Pos{X: 2, Y: 4, Z: 2}, Original: "dirt", Final: capture.Air},
		{Pos: capture.Pos{X: 5, Y: 4, Z: 0}, Original: "dirt", Final: capture.Air},
	})
	bus.Post(ev)
	if ev.Cancelled() {
		t.Fatalf("mixed change should not be cancelled")
	}
	if ev.Valid(0) || !ev.Valid(1) {
		t.Fatalf("validity = %v %v", ev.Valid(0), ev.Valid(1))
	}
	if g.Invalidated() != 1 {
		t.Fatalf("invalidated = %d", g.Invalidated())
	}
}

func TestGuard_ProtectedBlocksAndNonPlayerCauses(t *testing.T) {
	g := &Guard{Radius: 2, Protected: []capture.BlockState{world.Bedrock}}
	bus := event.NewBus()
	unregister := g.Register(bus)

	// A gravity cascade inside the guard is not a player edit.
	ev := event.NewChangeBlock(event.NewBase(cause.Of("block:sand@(0,5,0)"), "neighbor_notify", 1), []capture.BlockTransaction{
		{Pos: capture.Pos{X: 0, Y: 5, Z: 0}, Original: "sand", Final: capture.Air},
		{Pos: capture.Pos{X: 9, Y: 0, Z: 9}, Original: world.Bedrock, Final: capture.Air},
	})
	bus.Post(ev)
	if ev.Cancelled() || !ev.Valid(0) || ev.Valid(1) {
		t.Fatalf("cancelled=%v valid=%v,%v", ev.Cancelled(), ev.Valid(0), ev.Valid(1))
	}

	unregister()
	if bus.Wants(event.KindChangeBlock) || bus.Wants(event.KindInteractBlock) {
		t.Fatalf("guard still subscribed")
	}
}

func TestGuard_Covers(t *testing.T) {
	g := &Guard{Center: capture.Pos{X: 10, Z: -10}, Radius: 3}
	for _, tc := range []struct {
		p    capture.Pos
		want bool
	}{
		{capture.Pos{X: 10, Y: 99, Z: -10}, true},
		{capture.Pos{X: 13, Z: -7}, true},
		{capture.Pos{X: 14, Z: -10}, false},
		{capture.Pos{X: 10, Z: -14}, false},
	} {
		if got := g.Covers(tc.p); got != tc.want {
			t.Fatalf("Covers(%s) = %v", tc.p, got)
		}
	}
}

func TestFromTuning(t *testing.T) {
	if FromTuning(tuning.SpawnGuard{Radius: 3}) != nil {
		t.Fatalf("disabled guard should be nil")
	}
	g := FromTuning(tuning.SpawnGuard{Enabled: true, Radius: 3, Protected: []string{"bedrock", "obsidian"}})
	if g == nil || g.Radius != 3 || len(g.Protected) != 2 || g.Protected[1] != "obsidian" {
		t.Fatalf("guard = %+v", g)
	}
}
