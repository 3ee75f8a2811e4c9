// Package phase tracks the nested execution scopes of the simulation, captures
// the mutations made inside them and replays those mutations as events when a
// scope closes.
//
// Every entry point into the simulation runs inside a Context created from a
// State. Mutation points ask the Tracker for the current context and, when it
// captures the relevant kind, record the mutation instead of applying it. When
// the context closes, the unwind pipeline posts one event per captured kind,
// applies what was not cancelled, and drains the follow-up captures produced
// by those applies (post-dispatch) until nothing new is captured.
package phase

import (
	"sort"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/cause"
)

// Category groups related states.
type Category string

const (
	CategoryTick       Category = "tick"
	CategoryBlock      Category = "block"
	CategoryPacket     Category = "packet"
	CategoryPlugin     Category = "plugin"
	CategoryGeneration Category = "generation"
	CategoryInternal   Category = "internal"
)

// Capabilities is the set of capture kinds a state activates.
type Capabilities uint8

const (
	CapBlocks Capabilities = 1 << iota
	CapEntities
	CapItems
	CapSlots
	// CapEntityCollisions allows entity collision events while the state is on top.
	CapEntityCollisions

	CapNone       Capabilities = 0
	CapAllCapture              = CapBlocks | CapEntities | CapItems | CapSlots
)

// Has reports whether c captures kind k.
func (c Capabilities) Has(k capture.Kind) bool {
	switch k {
	case capture.KindBlocks:
		return c&CapBlocks != 0
	case capture.KindEntities:
		return c&CapEntities != 0
	case capture.KindItems:
		return c&CapItems != 0
	case capture.KindSlots:
		return c&CapSlots != 0
	}
	return false
}

// State is one phase kind. States are stateless singletons; everything that
// changes while a phase runs lives in its Context.
type State interface {
	Name() string
	Category() Category
	Capabilities() Capabilities
	// NewContext returns an unswitched context for this state.
	NewContext(t *Tracker) *Context
	// Unwind runs once per context after its captures have been replayed and
	// settled. Mutations it makes are captured and settled in turn.
	Unwind(ctx *Context) error
}

// PostDispatcher is implemented by states that want to caption the follow-up
// notifications produced while their captures are applied. PostDispatch runs
// inside a fresh cause frame before each post-dispatch pass is replayed.
type PostDispatcher interface {
	PostDispatch(unwinding State, unwindingCtx *Context, post *Context)
}

// ExtensionUnwinder may be implemented by a context extension. The default
// unwind hook calls it after the state's own bookkeeping.
type ExtensionUnwinder interface {
	UnwindExtension(ctx *Context) error
}

type state struct {
	name     string
	category Category
	caps     Capabilities

	unwind       func(ctx *Context) error
	postDispatch func(s *state, unwindingCtx *Context, post *Context)
}

func (s *state) Name() string               { return s.name }
func (s *state) Category() Category         { return s.category }
func (s *state) Capabilities() Capabilities { return s.caps }
func (s *state) String() string             { return s.name }

func (s *state) NewContext(t *Tracker) *Context {
	return newContext(t, s, s.caps)
}

func (s *state) Unwind(ctx *Context) error {
	if s.unwind != nil {
		if err := s.unwind(ctx); err != nil {
			return err
		}
	}
	if u, ok := ctx.ext.(ExtensionUnwinder); ok {
		return u.UnwindExtension(ctx)
	}
	return nil
}

func (s *state) PostDispatch(_ State, unwindingCtx *Context, post *Context) {
	if s.postDispatch != nil {
		s.postDispatch(s, unwindingCtx, post)
		return
	}
	notifyBySource(s, unwindingCtx, post)
}

// notifyBySource attributes follow-up notifications to whatever triggered the
// unwinding phase.
func notifyBySource(_ *state, unwindingCtx *Context, post *Context) {
	if src := unwindingCtx.Source(); src != nil {
		post.tracker.causes.AddContext(cause.Notifier, src)
	}
}

var registry = map[string]State{}

func register(s *state) *state {
	if _, dup := registry[s.name]; dup {
		panic("phase: duplicate state " + s.name)
	}
	registry[s.name] = s
	return s
}

// Lookup returns the registered state with the given name.
func Lookup(name string) (State, bool) {
	s, ok := registry[name]
	return s, ok
}

// States returns every registered state sorted by name.
func States() []State {
	out := make([]State, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
