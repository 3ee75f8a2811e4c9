package world

import (
	"errors"
	"fmt"
	"time"

	"phasecraft.ai/internal/sim/packet"
	"phasecraft.ai/internal/sim/phase"
)

// step runs one tick. Joins apply at the tick boundary; everything else runs
// nested in the server tick phase: scheduled tasks, block ticks, entities,
// players, then packets in arrival order. The tracker must be empty again when
// the tick ends.
func (w *World) step(joins []JoinRequest, packets []packet.Inbound) error {
	start := time.Now()
	now := w.tick.Load()
	w.tracker.SetTick(now)

	for _, req := range joins {
		_, err := w.AddPlayer(req.Name)
		if req.Resume && errors.Is(err, ErrPlayerExists) {
			err = nil
		}
		if req.Resp != nil {
			req.Resp <- err
		}
	}

	err := w.tracker.Run(phase.ServerTick.NewContext(w.tracker).WithSource(w), func(*phase.Context) error {
		var errs []error
		if err := w.sched.Tick(now); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
		if err := w.tracker.Run(phase.WorldTick.NewContext(w.tracker).WithSource(w), func(*phase.Context) error {
			return w.tickBlocks(now)
		}); err != nil {
			errs = append(errs, err)
		}
		if err := w.tickEntities(); err != nil {
			errs = append(errs, err)
		}
		if err := w.tickPlayers(); err != nil {
			errs = append(errs, err)
		}
		for _, in := range packets {
			if err := w.handlePacket(in); err != nil {
				errs = append(errs, fmt.Errorf("packet %s from %s: %w", in.Packet.Kind(), in.Player, err))
			}
		}
		return errors.Join(errs...)
	})
	w.removeDead()
	w.tracker.EnsureEmpty()
	w.tick.Add(1)
	if w.cfg.TickLog != nil {
		w.logTick(now, joins, packets)
	}

	if err != nil {
		w.log.Printf("tick %d: %v", now, err)
	}
	if d := time.Since(start); d > time.Second/time.Duration(w.cfg.TickRateHz) {
		w.log.Printf("tick %d took %s", now, d)
	}
	return err
}
