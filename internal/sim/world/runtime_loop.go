package world

import (
	"context"
	"time"

	"phasecraft.ai/internal/sim/packet"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingPackets []packet.Inbound
	var pendingJoins []JoinRequest

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case in := <-w.inbox:
			pendingPackets = append(pendingPackets, in)
		case <-ticker.C:
			w.step(pendingJoins, pendingPackets)
			pendingJoins = pendingJoins[:0]
			pendingPackets = pendingPackets[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// Submit queues a packet for the next tick. It reports false when the inbox
// is full.
func (w *World) Submit(in packet.Inbound) bool {
	select {
	case w.inbox <- in:
		return true
	default:
		return false
	}
}

// Join queues a join for the next tick boundary. The response channel, if
// any, receives the outcome.
func (w *World) Join(req JoinRequest) bool {
	select {
	case w.join <- req:
		return true
	default:
		return false
	}
}

// StepOnce advances the world by a single tick using the same ordering
// semantics as the server loop. It is primarily intended for tests and
// deterministic replays.
func (w *World) StepOnce(joins []JoinRequest, packets []packet.Inbound) (tick uint64, digest string, err error) {
	tick = w.tick.Load()
	err = w.step(joins, packets)
	return tick, w.stateDigest(tick), err
}
