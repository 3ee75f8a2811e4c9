package world

import (
	"io"
	"log"
	"strconv"
	"testing"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/cause"
	"phasecraft.ai/internal/sim/event"
	"phasecraft.ai/internal/sim/packet"
)

// seen is what a test keeps of an event; events themselves are only valid
// while they are being posted.
type seen struct {
	kind      event.Kind
	phase     string
	depth     int
	cancelled bool
	cause     cause.Cause
	size      int
}

type harness struct {
	w      *World
	bus    *event.Bus
	events []seen
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.FlatRadius == 0 {
		cfg.FlatRadius = 2
	}
	cfg.Logger = log.New(io.Discard, "", 0)
	h := &harness{bus: event.NewBus()}
	w, err := New(cfg, h.bus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.w = w
	h.bus.Subscribe(event.Listener{
		Plugin:           "test",
		Kind:             event.AnyKind,
		Order:            event.OrderPost,
		ReceiveCancelled: true,
		Handle: func(ev event.Event) {
			h.events = append(h.events, seen{
				kind:      ev.Kind(),
				phase:     ev.Phase(),
				depth:     ev.Depth(),
				cancelled: ev.Cancelled(),
				cause:     ev.Cause(),
				size:      event.Size(ev),
			})
		},
	})
	return h
}

func (h *harness) join(t *testing.T, name string) *Player {
	t.Helper()
	p, err := h.w.AddPlayer(name)
	if err != nil {
		t.Fatalf("AddPlayer(%q): %v", name, err)
	}
	return p
}

// step runs one tick with the given packets and clears the events seen
// before it.
func (h *harness) step(t *testing.T, player string, packets ...packet.Packet) {
	t.Helper()
	h.events = nil
	ins := make([]packet.Inbound, 0, len(packets))
	for _, p := range packets {
		ins = append(ins, packet.Inbound{Player: player, Packet: p})
	}
	if _, _, err := h.w.StepOnce(nil, ins); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !h.w.Tracker().IsEmpty() {
		t.Fatalf("tracker not empty after tick")
	}
}

func (h *harness) trace() []string {
	out := make([]string, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, string(ev.kind)+"@"+strconv.Itoa(ev.depth))
	}
	return out
}

func (h *harness) find(t *testing.T, k event.Kind) seen {
	t.Helper()
	for _, ev := range h.events {
		if ev.kind == k {
			return ev
		}
	}
	t.Fatalf("no %s event in %v", k, h.trace())
	return seen{}
}

func (h *harness) mustBlock(t *testing.T, p capture.Pos, want capture.BlockState) {
	t.Helper()
	if got := h.w.Block(p); got != want {
		t.Fatalf("block at %s = %s, want %s", p, got, want)
	}
}
