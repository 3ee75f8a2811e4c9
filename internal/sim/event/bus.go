package event

import (
	"sort"
	"sync"
)

// Order positions a listener relative to the others for the same event.
type Order int

const (
	OrderPre Order = iota
	OrderFirst
	OrderEarly
	OrderDefault
	OrderLate
	OrderLast
	// OrderPost listeners observe the final outcome and should not cancel.
	OrderPost
)

// AnyKind subscribes a listener to every event kind.
const AnyKind Kind = ""

// Listener is one registered handler.
type Listener struct {
	Plugin string
	Kind   Kind
	Order  Order
	// ReceiveCancelled delivers events that an earlier listener cancelled.
	ReceiveCancelled bool
	Handle           func(ev Event)
}

type registration struct {
	Listener
	seq uint64
}

// Bus dispatches events to listeners in Order, then registration order.
// Registration may happen from any goroutine; Post runs on the caller's.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Kind][]registration
	nextSeq   uint64
	plugins   map[string]int
}

func NewBus() *Bus {
	return &Bus{
		listeners: make(map[Kind][]registration),
		plugins:   make(map[string]int),
	}
}

// Subscribe registers l and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	if b == nil || l.Handle == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq++
	r := registration{Listener: l, seq: b.nextSeq}
	old := b.listeners[l.Kind]
	list := make([]registration, 0, len(old)+1)
	list = append(append(list, old...), r)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Order != list[j].Order {
			return list[i].Order < list[j].Order
		}
		return list[i].seq < list[j].seq
	})
	b.listeners[l.Kind] = list
	b.plugins[l.Plugin]++

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(l.Kind, r.seq, l.Plugin) })
	}
}

// On is shorthand for a default-order listener.
func (b *Bus) On(plugin string, k Kind, fn func(ev Event)) func() {
	return b.Subscribe(Listener{Plugin: plugin, Kind: k, Order: OrderDefault, Handle: fn})
}

func (b *Bus) remove(k Kind, seq uint64, plugin string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.listeners[k]
	for i, r := range list {
		if r.seq == seq {
			b.listeners[k] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if b.plugins[plugin]--; b.plugins[plugin] <= 0 {
		delete(b.plugins, plugin)
	}
}

// Post delivers ev and reports whether it ended up cancelled. A panicking
// listener propagates to the caller.
func (b *Bus) Post(ev Event) bool {
	if b == nil {
		return false
	}
	for _, r := range b.snapshot(ev.Kind()) {
		if ev.Cancelled() && !r.ReceiveCancelled {
			continue
		}
		r.Handle(ev)
	}
	return ev.Cancelled()
}

// Wants implements KindFilter.
func (b *Bus) Wants(k Kind) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[k]) > 0 || len(b.listeners[AnyKind]) > 0
}

// Plugins returns the names of plugins with at least one listener.
func (b *Bus) Plugins() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.plugins))
	for p := range b.plugins {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (b *Bus) snapshot(k Kind) []registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	specific := b.listeners[k]
	wild := b.listeners[AnyKind]
	if len(wild) == 0 || k == AnyKind {
		return specific
	}
	if len(specific) == 0 {
		return wild
	}
	merged := make([]registration, 0, len(specific)+len(wild))
	merged = append(merged, specific...)
	merged = append(merged, wild...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Order != merged[j].Order {
			return merged[i].Order < merged[j].Order
		}
		return merged[i].seq < merged[j].seq
	})
	return merged
}
