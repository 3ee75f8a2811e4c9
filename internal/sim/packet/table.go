package packet

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"phasecraft.ai/internal/sim/phase"
)

var (
	ErrUnknownKind    = errors.New("packet: unknown kind")
	ErrNotPacketState = errors.New("packet: state is not a packet state for this kind")
	ErrDuplicate      = errors.New("packet: function already registered")
	ErrSealed         = errors.New("packet: table is sealed")
	ErrIncomplete     = errors.New("packet: table is incomplete")
)

// Func interprets one packet when its phase unwinds. It decides which
// semantic events to fire and performs the action if they are not cancelled.
type Func func(p Packet, s phase.State, player string, ctx *phase.Context) error

type key struct {
	kind  Kind
	state phase.State
}

// Table dispatches on (kind, state). Pairs without a function are a no-op, so
// new packet kinds pass through unchanged until they are interpreted.
type Table struct {
	fns    map[key]Func
	sealed bool
}

func NewTable() *Table {
	return &Table{fns: map[key]Func{}}
}

// Register adds fn for (k, s). s must be one of the states k resolves to.
func (t *Table) Register(k Kind, s phase.State, fn Func) error {
	if t.sealed {
		return fmt.Errorf("%w: register %s/%s", ErrSealed, k, stateName(s))
	}
	states, ok := kindStates[k]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	if !containsState(states, s) {
		return fmt.Errorf("%w: %s/%s", ErrNotPacketState, k, stateName(s))
	}
	if fn == nil {
		return fmt.Errorf("packet: nil function for %s/%s", k, stateName(s))
	}
	kk := key{kind: k, state: s}
	if _, dup := t.fns[kk]; dup {
		return fmt.Errorf("%w: %s/%s", ErrDuplicate, k, stateName(s))
	}
	t.fns[kk] = fn
	return nil
}

// Seal checks that every (kind, state) pair has a function and freezes the
// table.
func (t *Table) Seal() error {
	var missing []string
	for _, k := range Kinds {
		for _, s := range kindStates[k] {
			if _, ok := t.fns[key{kind: k, state: s}]; !ok {
				missing = append(missing, string(k)+"/"+s.Name())
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	t.sealed = true
	return nil
}

func (t *Table) Sealed() bool { return t.sealed }

func (t *Table) Lookup(k Kind, s phase.State) (Func, bool) {
	fn, ok := t.fns[key{kind: k, state: s}]
	return fn, ok
}

// UnwindPacket implements phase.PacketUnwinder.
func (t *Table) UnwindPacket(s phase.State, ctx *phase.Context) error {
	p, ok := ctx.Packet().(Packet)
	if !ok {
		return nil
	}
	fn, ok := t.fns[key{kind: p.Kind(), state: s}]
	if !ok {
		return nil
	}
	if err := fn(p, s, ctx.Player(), ctx); err != nil {
		return fmt.Errorf("packet %s/%s: %w", p.Kind(), s.Name(), err)
	}
	return nil
}

func containsState(states []phase.State, s phase.State) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}

func stateName(s phase.State) string {
	if s == nil {
		return "<nil>"
	}
	return s.Name()
}
