package phase

import (
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/cause"
	"phasecraft.ai/internal/sim/event"
)

// unwinder carries the bookkeeping of one context's unwind.
type unwinder struct {
	t    *Tracker
	c    *Context
	name string

	stage string
	depth int
	// replaying is the context whose buffers are being drained.
	replaying *Context

	events int
	passes int
}

// unwind pops c, replays its captures, settles post-dispatch, runs the state's
// unwind hook and settles whatever the hook captured. Whatever happens, c is
// completed, every capture it or its post contexts still hold is discarded,
// and its cause frame is popped before unwind returns.
func (t *Tracker) unwind(c *Context) (err error) {
	c.status = statusUnwinding
	t.stack[len(t.stack)-1] = nil
	t.stack = t.stack[:len(t.stack)-1]

	captured := c.captures.Total()
	prevPost := t.post
	u := &unwinder{t: t, c: c, name: c.state.Name()}
	defer func() {
		r := recover()
		dropped := u.discard(prevPost)
		t.post = prevPost
		c.status = statusCompleted
		if r != nil && isFatal(r) {
			t.causes.Unwind(c.frame)
			c.span.End()
			panic(r)
		}
		if r != nil {
			err = u.fail(&PanicError{Value: r, Stack: debug.Stack()}, 0)
		}
		var re *ReplayError
		if errors.As(err, &re) {
			re.Discarded += dropped
		}
		t.causes.PopFrame(c.frame)
		u.finish(captured, err)
	}()
	return u.run()
}

func (u *unwinder) run() error {
	t, c := u.t, u.c

	post := t.newPost()
	t.post = post
	u.stage, u.depth = StageReplay, 0
	if err := u.replay(c, 0); err != nil {
		return err
	}
	if err := u.settle(post); err != nil {
		return err
	}

	hook := t.newPost()
	t.post = hook
	u.stage, u.depth = StageUnwindHook, 0
	if err := c.state.Unwind(c); err != nil {
		return u.fail(err, 0)
	}
	return u.settle(hook)
}

// settle replays post until a pass captures nothing. Each pass runs inside its
// own cause frame carrying the pass number, after the unwinding state had a
// chance to caption it.
func (u *unwinder) settle(post *Context) error {
	for pass := 1; !post.captures.Empty(); pass++ {
		u.replaying = post
		u.stage, u.depth = StagePostDispatch, pass
		if pass > u.t.maxPost {
			return u.fail(fmt.Errorf("%w after %d passes", ErrPostDispatchLimit, u.t.maxPost), 0)
		}
		next := u.t.newPost()
		u.t.post = next
		u.passes++
		if err := u.dispatch(post, pass); err != nil {
			return err
		}
		post = next
	}
	u.replaying = nil
	return nil
}

func (u *unwinder) dispatch(post *Context, pass int) error {
	s := u.t.causes
	f := s.PushFrame()
	defer func() {
		if r := recover(); r != nil {
			s.Unwind(f)
			panic(r)
		}
		f.Close()
	}()
	s.AddContext(cause.PostDispatchDepth, pass)
	if pd, ok := u.c.state.(PostDispatcher); ok {
		pd.PostDispatch(u.c.state, u.c, post)
	}
	return u.replay(post, pass)
}

// replay drains src kind by kind in capture.ReplayOrder.
func (u *unwinder) replay(src *Context, depth int) error {
	u.replaying = src
	t, sim := u.t, u.t.sim
	for _, k := range capture.ReplayOrder {
		var err error
		switch k {
		case capture.KindBlocks:
			err = replayBatch(u, depth, event.KindChangeBlock, src.captures.DrainBlocks(),
				capture.BlockTransaction.IsNoop, newChangeBlock, func(tx capture.BlockTransaction) error {
					t.supersedeBlock(tx.Pos)
					return sim.ApplyBlock(tx)
				})
		case capture.KindEntities:
			err = replayBatch(u, depth, event.KindSpawnEntity, src.captures.DrainSpawns(),
				nil, newSpawnEntity, sim.ApplySpawn)
		case capture.KindItems:
			err = replayBatch(u, depth, event.KindDropItem, src.captures.DrainDrops(),
				nil, newDropItem, sim.ApplyDrop)
		case capture.KindSlots:
			err = replayBatch(u, depth, event.KindChangeInventory, src.captures.DrainSlots(),
				capture.SlotTransaction.IsNoop, newChangeInventory, func(tx capture.SlotTransaction) error {
					t.supersedeSlot(tx.Key())
					return sim.ApplySlot(tx)
				})
		}
		if err != nil {
			return err
		}
	}
	u.replaying = nil
	return nil
}

type batch[T any] interface {
	event.Event
	ValidEntries() []T
}

func newChangeBlock(b event.Base, txs []capture.BlockTransaction) batch[capture.BlockTransaction] {
	return event.NewChangeBlock(b, txs)
}

func newSpawnEntity(b event.Base, reqs []capture.SpawnRequest) batch[capture.SpawnRequest] {
	return event.NewSpawnEntity(b, reqs)
}

func newDropItem(b event.Base, drops []capture.ItemDrop) batch[capture.ItemDrop] {
	return event.NewDropItem(b, drops)
}

func newChangeInventory(b event.Base, txs []capture.SlotTransaction) batch[capture.SlotTransaction] {
	return event.NewChangeInventory(b, txs)
}

// replayBatch posts one event for entries and applies the valid ones unless it
// was cancelled. Net no-ops never reach the sink. When nothing listens for the
// kind the entries are applied without building an event.
func replayBatch[T any](u *unwinder, depth int, kind event.Kind, entries []T,
	noop func(T) bool, build func(event.Base, []T) batch[T], apply func(T) error) error {
	if noop != nil {
		kept := entries[:0]
		for _, e := range entries {
			if !noop(e) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if len(entries) == 0 {
		return nil
	}

	t := u.t
	if !t.wants(kind) {
		_, err := applyEntries(u, entries, apply)
		return err
	}

	ev := build(event.NewBase(t.causes.Current(), u.name, depth), entries)
	if err := t.deliver(ev); err != nil {
		return u.fail(err, len(entries))
	}
	u.events++
	if ev.Cancelled() {
		t.record(ev, 0)
		return nil
	}
	applied, err := applyEntries(u, ev.ValidEntries(), apply)
	t.record(ev, applied)
	return err
}

func applyEntries[T any](u *unwinder, entries []T, apply func(T) error) (int, error) {
	for i, e := range entries {
		if err := apply(e); err != nil {
			return i, u.fail(fmt.Errorf("apply %d of %d: %w", i+1, len(entries), err), len(entries)-i-1)
		}
	}
	return len(entries), nil
}

func (u *unwinder) fail(err error, discarded int) *ReplayError {
	return &ReplayError{State: u.name, Stage: u.stage, Depth: u.depth, Discarded: discarded, Err: err}
}

// discard drops every capture still held by the unwinding context, the
// context being replayed and the live post context.
func (u *unwinder) discard(prevPost *Context) int {
	n := u.c.captures.Discard()
	if u.replaying != nil && u.replaying != u.c {
		n += u.replaying.captures.Discard()
	}
	if p := u.t.post; p != nil && p != prevPost && p != u.replaying {
		n += p.captures.Discard()
	}
	return n
}

func (u *unwinder) finish(captured int, err error) {
	span := u.c.span
	span.SetAttributes(
		attribute.Int("phase.captured", captured),
		attribute.Int("phase.events", u.events),
		attribute.Int("phase.post_dispatch_passes", u.passes),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		u.t.log.Printf("unwind %s: %v", u.name, err)
	}
	span.End()
}

func (t *Tracker) newPost() *Context {
	p := newContext(t, postDispatchState, postDispatchState.caps)
	p.status = statusActive
	return p
}

type nopSimulation struct{}

func (nopSimulation) ApplyBlock(capture.BlockTransaction) error { return nil }
func (nopSimulation) ApplySpawn(capture.SpawnRequest) error     { return nil }
func (nopSimulation) ApplyDrop(capture.ItemDrop) error          { return nil }
func (nopSimulation) ApplySlot(capture.SlotTransaction) error   { return nil }
