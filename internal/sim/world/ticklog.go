package world

import (
	"errors"
	"fmt"

	"phasecraft.ai/internal/sim/packet"
)

// TickEntry is the input of one tick and the state digest it produced.
// Replaying entries in order from tick 0 rebuilds the same world.
type TickEntry struct {
	Tick    uint64        `json:"tick"`
	Joins   []string      `json:"joins,omitempty"`
	Packets []PacketEntry `json:"packets,omitempty"`
	Digest  string        `json:"digest"`
}

type PacketEntry struct {
	Player string          `json:"player"`
	Packet packet.Envelope `json:"packet"`
}

type TickLog interface {
	WriteTick(e TickEntry) error
}

var ErrDigestMismatch = errors.New("world: digest mismatch")

func (w *World) logTick(now uint64, joins []JoinRequest, packets []packet.Inbound) {
	e := TickEntry{Tick: now, Digest: w.stateDigest(now)}
	for _, j := range joins {
		e.Joins = append(e.Joins, j.Name)
	}
	for _, in := range packets {
		env, err := packet.Encode(in.Packet)
		if err != nil {
			w.log.Printf("tick log %d: %v", now, err)
			continue
		}
		e.Packets = append(e.Packets, PacketEntry{Player: in.Player, Packet: env})
	}
	if err := w.cfg.TickLog.WriteTick(e); err != nil {
		w.log.Printf("tick log %d: %v", now, err)
	}
}

// ReplayTick steps the world with the inputs of e and checks the digest.
// Tick errors are part of the recorded outcome and are not returned.
func (w *World) ReplayTick(e TickEntry) error {
	if cur := w.CurrentTick(); cur != e.Tick {
		return fmt.Errorf("replay: entry for tick %d, world at tick %d", e.Tick, cur)
	}
	// A join of an existing player changed nothing when it was logged,
	// whether or not it resumed.
	joins := make([]JoinRequest, 0, len(e.Joins))
	for _, name := range e.Joins {
		joins = append(joins, JoinRequest{Name: name, Resume: true})
	}
	packets := make([]packet.Inbound, 0, len(e.Packets))
	for _, pe := range e.Packets {
		p, err := packet.Decode(pe.Packet)
		if err != nil {
			return fmt.Errorf("replay tick %d: %w", e.Tick, err)
		}
		packets = append(packets, packet.Inbound{Player: pe.Player, Packet: p})
	}
	_, digest, _ := w.StepOnce(joins, packets)
	if digest != e.Digest {
		return fmt.Errorf("%w at tick %d: got %s want %s", ErrDigestMismatch, e.Tick, digest, e.Digest)
	}
	return nil
}
