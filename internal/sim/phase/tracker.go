package phase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/cause"
	"phasecraft.ai/internal/sim/event"
)

// Side names which simulation a tracker belongs to. Each side has its own
// tracker and never shares it.
type Side string

const (
	SideServer Side = "server"
	SideClient Side = "client"
)

const (
	DefaultMaxDepth        = 32
	DefaultMaxPostDispatch = 64
)

// Simulation applies mutations that survived replay. Applying may call back
// into mutation points; those calls are captured into the post-dispatch
// context and settled before the unwind returns.
type Simulation interface {
	ApplyBlock(tx capture.BlockTransaction) error
	ApplySpawn(r capture.SpawnRequest) error
	ApplyDrop(d capture.ItemDrop) error
	ApplySlot(tx capture.SlotTransaction) error
}

// PacketUnwinder interprets a packet phase during its unwind hook.
type PacketUnwinder interface {
	UnwindPacket(s State, ctx *Context) error
}

// CrashReporter receives the diagnostic for a fatal violation before the
// tracker panics.
type CrashReporter func(r CrashReport)

type Option func(*Tracker)

func WithLogger(l *log.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithRecorder records every posted event. A recorder turns the no-listener
// fast path off, since it wants every event.
func WithRecorder(r event.Recorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

func WithTracer(tr trace.Tracer) Option {
	return func(t *Tracker) {
		if tr != nil {
			t.tracer = tr
		}
	}
}

func WithPacketUnwinder(u PacketUnwinder) Option {
	return func(t *Tracker) { t.packets = u }
}

func WithMaxPostDispatch(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxPost = n
		}
	}
}

func WithMaxDepth(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxDepth = n
		}
	}
}

func WithCrashReporter(fn CrashReporter) Option {
	return func(t *Tracker) { t.crash = fn }
}

func WithSide(s Side) Option {
	return func(t *Tracker) {
		if s != "" {
			t.side = s
		}
	}
}

// Tracker is the phase stack of one simulation. It is not safe for concurrent
// use: every method must be called from the simulation goroutine.
type Tracker struct {
	sim    Simulation
	sink   event.Sink
	causes *cause.Stack

	stack []*Context
	// post is the context that receives captures while a context unwinds.
	post  *Context
	empty *Context

	tick uint64
	seq  int

	log      *log.Logger
	recorder event.Recorder
	tracer   trace.Tracer
	packets  PacketUnwinder
	crash    CrashReporter
	side     Side
	maxPost  int
	maxDepth int
}

func NewTracker(sim Simulation, sink event.Sink, opts ...Option) *Tracker {
	if sink == nil {
		sink = event.Discard
	}
	if sim == nil {
		sim = nopSimulation{}
	}
	t := &Tracker{
		sim:      sim,
		sink:     sink,
		causes:   cause.New(),
		log:      log.New(os.Stdout, "[phase] ", log.LstdFlags|log.Lmicroseconds),
		tracer:   noop.NewTracerProvider().Tracer(""),
		side:     SideServer,
		maxPost:  DefaultMaxPostDispatch,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.empty = newContext(t, Empty, Empty.caps)
	t.empty.status = statusActive
	return t
}

func (t *Tracker) Side() Side { return t.side }

// Causes exposes the cause stack so callers can push causes and context inside
// the current phase.
func (t *Tracker) Causes() *cause.Stack { return t.causes }

// SetTick stamps subsequent event records and resets their sequence.
func (t *Tracker) SetTick(tick uint64) {
	t.tick = tick
	t.seq = 0
}

func (t *Tracker) Tick() uint64 { return t.tick }

// Current returns the context mutation points must consult: the post-dispatch
// context while an unwind is applying mutations, else the top of the stack,
// else the empty sentinel.
func (t *Tracker) Current() *Context {
	if t.post != nil {
		return t.post
	}
	if top := t.top(); top != nil {
		return top
	}
	return t.empty
}

func (t *Tracker) top() *Context {
	if n := len(t.stack); n > 0 {
		return t.stack[n-1]
	}
	return nil
}

// IsEmpty reports whether no phase is active or unwinding.
func (t *Tracker) IsEmpty() bool { return len(t.stack) == 0 && t.post == nil }

// Depth is the number of switched contexts.
func (t *Tracker) Depth() int { return len(t.stack) }

// Phases returns the names of the active contexts, bottom first.
func (t *Tracker) Phases() []string {
	out := make([]string, 0, len(t.stack))
	for _, c := range t.stack {
		out = append(out, c.state.Name())
	}
	return out
}

func (t *Tracker) AllowsEntityCollisionEvents() bool {
	return t.Current().caps&CapEntityCollisions != 0
}

// PendingBlock returns the block proposed for p by the post-dispatch context
// or any active context, innermost first.
func (t *Tracker) PendingBlock(p capture.Pos) (capture.BlockState, bool) {
	if t.post != nil {
		if b, ok := t.post.PendingBlock(p); ok {
			return b, true
		}
	}
	for i := len(t.stack) - 1; i >= 0; i-- {
		if b, ok := t.stack[i].PendingBlock(p); ok {
			return b, true
		}
	}
	return "", false
}

// PendingSlot is PendingBlock for inventory slots.
func (t *Tracker) PendingSlot(inv string, slot int) (capture.ItemStack, bool) {
	if t.post != nil {
		if s, ok := t.post.PendingSlot(inv, slot); ok {
			return s, true
		}
	}
	for i := len(t.stack) - 1; i >= 0; i-- {
		if s, ok := t.stack[i].PendingSlot(inv, slot); ok {
			return s, true
		}
	}
	return capture.ItemStack{}, false
}

// supersedeBlock drops the proposals enclosing contexts still hold for p. It
// runs before a nested context applies its own change to p, so the newest
// write wins and the enclosing unwind does not restore an older state.
func (t *Tracker) supersedeBlock(p capture.Pos) {
	for _, c := range t.stack {
		c.captures.DropBlock(p)
	}
}

func (t *Tracker) supersedeSlot(k capture.SlotKey) {
	for _, c := range t.stack {
		c.captures.DropSlot(k)
	}
}

// EnsureEmpty is called at every outer tick boundary. A non-empty stack means a
// phase failed to unwind; the tracker reports a crash and panics.
func (t *Tracker) EnsureEmpty() {
	if t.IsEmpty() && t.causes.Depth() == 0 {
		return
	}
	stuck := ""
	if top := t.top(); top != nil {
		stuck = top.state.Name()
	}
	reason := fmt.Sprintf("%d phases still active at tick boundary", len(t.stack))
	if len(t.stack) == 0 {
		reason = fmt.Sprintf("%d cause frames still open at tick boundary", t.causes.Depth())
	}
	t.fatal("ensure_empty", reason, stuck)
}

func (t *Tracker) fatal(op, reason, stuck string) {
	causes, _ := t.causes.Current().Describe()
	report := CrashReport{
		Reason: reason,
		Side:   t.side,
		Tick:   t.tick,
		Op:     op,
		Stuck:  stuck,
		Phases: t.Phases(),
		Causes: causes,
		Frames: t.causes.Depth(),
	}
	t.log.Printf("fatal: %s", report)
	if t.crash != nil {
		t.crash(report)
	}
	panic(&StackError{Op: op, Reason: reason, Report: report})
}

// Run switches to c, runs fn and closes c. If fn panics, c and every context
// above it are aborted: their captures are discarded, their frames popped, and
// the panic continues. An error from fn does not stop the unwind; both errors
// are returned.
func (t *Tracker) Run(c *Context, fn func(ctx *Context) error) error {
	if err := c.BuildAndSwitch(); err != nil {
		return err
	}
	var fnErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.abort(c)
				panic(r)
			}
		}()
		if fn != nil {
			fnErr = fn(c)
		}
	}()
	return errors.Join(fnErr, c.Close())
}

func (t *Tracker) abort(c *Context) {
	idx := -1
	for i, x := range t.stack {
		if x == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	dropped := 0
	for i := len(t.stack) - 1; i >= idx; i-- {
		x := t.stack[i]
		dropped += x.captures.Discard()
		x.status = statusCompleted
		x.span.End()
		t.stack[i] = nil
	}
	t.stack = t.stack[:idx]
	t.causes.Unwind(c.frame)
	t.log.Printf("aborted %s after panic, %d captures discarded", c.state.Name(), dropped)
}

// Post delivers an event built outside the replay pipeline, such as the
// semantic events of packet functions. A panicking listener is returned as a
// *PanicError.
func (t *Tracker) Post(ev event.Event) (cancelled bool, err error) {
	if !t.wants(ev.Kind()) {
		return false, nil
	}
	if err := t.deliver(ev); err != nil {
		return false, err
	}
	applied := 0
	if !ev.Cancelled() {
		applied = event.Size(ev)
	}
	t.record(ev, applied)
	return ev.Cancelled(), nil
}

func (t *Tracker) deliver(ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if isFatal(r) {
				panic(r)
			}
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if t.sink.Post(ev) {
		ev.SetCancelled(true)
	}
	return nil
}

func (t *Tracker) wants(k event.Kind) bool {
	return t.recorder != nil || event.Wants(t.sink, k)
}

func (t *Tracker) record(ev event.Event, applied int) {
	if t.recorder == nil {
		return
	}
	rec := event.NewRecord(t.tick, t.seq, ev, applied)
	t.seq++
	if err := t.recorder.RecordEvent(rec); err != nil {
		t.log.Printf("record %s: %v", ev.Kind(), err)
	}
}

func (t *Tracker) startSpan(c *Context) (context.Context, trace.Span) {
	parent := context.Background()
	if top := t.top(); top != nil && top.spanCtx != nil {
		parent = top.spanCtx
	}
	return t.tracer.Start(parent, "phase "+c.state.Name(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("phase.state", c.state.Name()),
			attribute.String("phase.category", string(c.state.Category())),
			attribute.String("phase.side", string(t.side)),
			attribute.Int("phase.depth", len(t.stack)),
			attribute.Int64("sim.tick", int64(t.tick)),
		))
}

func isFatal(r any) bool {
	switch r.(type) {
	case *StackError, *cause.FrameError:
		return true
	}
	return false
}
