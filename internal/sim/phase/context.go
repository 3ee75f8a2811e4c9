package phase

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/cause"
	"phasecraft.ai/internal/sim/event"
)

type status uint8

const (
	statusBuilding status = iota
	statusActive
	statusUnwinding
	statusCompleted
)

func (s status) String() string {
	switch s {
	case statusBuilding:
		return "building"
	case statusActive:
		return "active"
	case statusUnwinding:
		return "unwinding"
	case statusCompleted:
		return "completed"
	}
	return "unknown"
}

type contextPair struct {
	key   cause.Key
	value any
}

// Context is one nested execution scope. It is built with the With* methods,
// pushed with BuildAndSwitch and unwound by Close, each exactly once. After
// Close the context is completed and must not be reused.
type Context struct {
	tracker *Tracker
	state   State
	caps    Capabilities
	status  status

	source    any
	causes    []any
	pairs     []contextPair
	modifiers []cause.Modifier
	packet    any
	player    string

	captures capture.Set
	frame    *cause.Frame
	ext      any

	spanCtx context.Context
	span    trace.Span
}

func newContext(t *Tracker, s State, caps Capabilities) *Context {
	return &Context{tracker: t, state: s, caps: caps}
}

// WithSource sets what triggered the phase. The source becomes the most
// recent cause while the phase is active.
func (c *Context) WithSource(src any) *Context {
	c.mustBuild("WithSource")
	c.source = src
	return c
}

// WithCause pushes an extra cause ahead of the source.
func (c *Context) WithCause(obj any) *Context {
	c.mustBuild("WithCause")
	c.causes = append(c.causes, obj)
	return c
}

func (c *Context) WithContext(k cause.Key, v any) *Context {
	c.mustBuild("WithContext")
	c.pairs = append(c.pairs, contextPair{key: k, value: v})
	return c
}

// WithFrameModifier restores a captured cause description into the phase's
// frame when it is switched. Delayed tasks use it to keep their attribution.
func (c *Context) WithFrameModifier(m cause.Modifier) *Context {
	c.mustBuild("WithFrameModifier")
	c.modifiers = append(c.modifiers, m)
	return c
}

// WithPacket attaches the inbound packet and the acting player.
func (c *Context) WithPacket(raw any, player string) *Context {
	c.mustBuild("WithPacket")
	c.packet = raw
	c.player = player
	return c
}

func (c *Context) mustBuild(op string) {
	if c.status != statusBuilding {
		panic(fmt.Errorf("%w: %s on %s context of %s", ErrContextState, op, c.status, c.state.Name()))
	}
}

func (c *Context) State() State               { return c.state }
func (c *Context) Tracker() *Tracker          { return c.tracker }
func (c *Context) Source() any                { return c.source }
func (c *Context) Packet() any                { return c.packet }
func (c *Context) Player() string             { return c.player }
func (c *Context) Capabilities() Capabilities { return c.caps }

// IsEmpty reports whether c is the tracker's empty sentinel.
func (c *Context) IsEmpty() bool { return c.state == Empty }

func (c *Context) IsActive() bool { return c.status == statusActive }

// Completed reports whether the context has been unwound.
func (c *Context) Completed() bool { return c.status == statusCompleted }

// Cause snapshots the tracker's cause stack.
func (c *Context) Cause() cause.Cause { return c.tracker.causes.Current() }

// EventBase returns an event base attributed to the current causes and this
// context's state, for events built outside the replay pipeline.
func (c *Context) EventBase() event.Base {
	return event.NewBase(c.tracker.causes.Current(), c.state.Name(), 0)
}

// BuildAndSwitch pushes c onto its tracker. The context's cause frame is
// opened, frame modifiers are applied, then extra causes, the source and the
// context pairs are added to it.
func (c *Context) BuildAndSwitch() error {
	t := c.tracker
	switch {
	case c.status != statusBuilding:
		return fmt.Errorf("%w: %s already switched (%s)", ErrContextState, c.state.Name(), c.status)
	case c.IsEmpty() || c.state == postDispatchState:
		return fmt.Errorf("%w: %s cannot be switched", ErrContextState, c.state.Name())
	case t.post != nil:
		return fmt.Errorf("%w: %s", ErrPushDuringUnwind, c.state.Name())
	case len(t.stack) >= t.maxDepth:
		return fmt.Errorf("%w: %d contexts active, pushing %s", ErrDepthExceeded, len(t.stack), c.state.Name())
	}

	c.frame = t.causes.PushFrame()
	for _, m := range c.modifiers {
		m.Apply(t.causes)
	}
	for _, obj := range c.causes {
		t.causes.PushCause(obj)
	}
	if c.source != nil {
		t.causes.PushCause(c.source)
	}
	for _, p := range c.pairs {
		t.causes.AddContext(p.key, p.value)
	}
	if c.player != "" {
		t.causes.AddContext(cause.Player, c.player)
	}
	if c.packet != nil {
		t.causes.AddContext(cause.Packet, c.packet)
	}

	c.spanCtx, c.span = t.startSpan(c)
	c.status = statusActive
	t.stack = append(t.stack, c)
	return nil
}

// Close unwinds c. It must be the top of the stack; anything else means an
// inner scope failed to close and is fatal. Closing a completed context is a
// no-op.
func (c *Context) Close() error {
	switch c.status {
	case statusCompleted:
		return nil
	case statusBuilding:
		return fmt.Errorf("%w: %s closed before being switched", ErrContextState, c.state.Name())
	case statusUnwinding:
		return fmt.Errorf("%w: %s closed during its own unwind", ErrContextState, c.state.Name())
	}
	t := c.tracker
	if c.state == postDispatchState || c.IsEmpty() {
		return fmt.Errorf("%w: %s cannot be closed", ErrContextState, c.state.Name())
	}
	if top := t.top(); top != c {
		stuck := ""
		if top != nil {
			stuck = top.state.Name()
		}
		t.fatal("close", fmt.Sprintf("closing %s while %s is on top", c.state.Name(), stuck), stuck)
	}
	return t.unwind(c)
}

func (c *Context) CapturesBlocks() bool   { return c.has(CapBlocks) }
func (c *Context) CapturesEntities() bool { return c.has(CapEntities) }
func (c *Context) CapturesItems() bool    { return c.has(CapItems) }
func (c *Context) CapturesSlots() bool    { return c.has(CapSlots) }

// Captures reports whether c currently records mutations of kind k.
func (c *Context) Captures(k capture.Kind) bool {
	return c.status == statusActive && c.caps.Has(k)
}

func (c *Context) has(want Capabilities) bool {
	return c.status == statusActive && c.caps&want != 0
}

func (c *Context) checkCapture(want Capabilities, what string) error {
	if c.status != statusActive {
		return fmt.Errorf("%w: %s capture on %s context of %s", ErrContextState, what, c.status, c.state.Name())
	}
	if c.caps&want == 0 {
		return fmt.Errorf("%w: %s does not capture %s", ErrNotCapturing, c.state.Name(), what)
	}
	return nil
}

// AddBlockCapture records tx. A second capture of the same position keeps the
// first original and the latest proposed state.
func (c *Context) AddBlockCapture(tx capture.BlockTransaction) error {
	if err := c.checkCapture(CapBlocks, "blocks"); err != nil {
		return err
	}
	c.captures.AddBlock(tx)
	return nil
}

func (c *Context) AddSpawnCapture(r capture.SpawnRequest) error {
	if err := c.checkCapture(CapEntities, "entities"); err != nil {
		return err
	}
	c.captures.AddSpawn(r)
	return nil
}

func (c *Context) AddDropCapture(d capture.ItemDrop) error {
	if err := c.checkCapture(CapItems, "items"); err != nil {
		return err
	}
	c.captures.AddDrop(d)
	return nil
}

func (c *Context) AddSlotCapture(tx capture.SlotTransaction) error {
	if err := c.checkCapture(CapSlots, "slots"); err != nil {
		return err
	}
	c.captures.AddSlot(tx)
	return nil
}

// PendingBlock returns the block proposed for p by this context, if any.
func (c *Context) PendingBlock(p capture.Pos) (capture.BlockState, bool) {
	return c.captures.PendingBlock(p)
}

func (c *Context) PendingSlot(inv string, slot int) (capture.ItemStack, bool) {
	return c.captures.PendingSlot(inv, slot)
}

// Captured returns the number of buffered entries of kind k.
func (c *Context) Captured(k capture.Kind) int { return c.captures.Len(k) }

// SetExtension attaches v to ctx under state s, which must be the state ctx
// runs. Extension only returns it when asked with the same state.
func SetExtension[T any](ctx *Context, s State, v T) error {
	if ctx == nil || s == nil || ctx.state != s {
		return fmt.Errorf("%w: extension for %s on a %s context", ErrContextState, stateName(s), stateName(ctxState(ctx)))
	}
	ctx.ext = v
	return nil
}

func ctxState(ctx *Context) State {
	if ctx == nil {
		return nil
	}
	return ctx.state
}

func stateName(s State) string {
	if s == nil {
		return "no state"
	}
	return s.Name()
}

// Extension returns the value attached to ctx if ctx runs state s and the
// value has type T.
func Extension[T any](ctx *Context, s State) (T, bool) {
	var zero T
	if ctx == nil || ctx.state != s || ctx.ext == nil {
		return zero, false
	}
	v, ok := ctx.ext.(T)
	return v, ok
}
