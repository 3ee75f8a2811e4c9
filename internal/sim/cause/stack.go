// Package cause records who or what is responsible for the mutation currently
// being executed by the simulation.
//
// A Stack holds an ordered list of cause objects (oldest first) plus a map of
// context values. Frames scope both: anything pushed or added inside a frame is
// discarded when the frame pops. Frames must pop in LIFO order; a violation
// means the phase stack and the cause stack disagree and is fatal.
package cause

import "fmt"

// Key names a context value attached to the cause stack.
type Key struct{ name string }

// NewKey returns a context key. Keys compare by name.
func NewKey(name string) Key { return Key{name: name} }

func (k Key) String() string { return k.name }

var (
	Owner             = NewKey("owner")
	Notifier          = NewKey("notifier")
	Player            = NewKey("player")
	Plugin            = NewKey("plugin")
	Packet            = NewKey("packet")
	ScheduledTask     = NewKey("scheduled_task")
	PostDispatchDepth = NewKey("post_dispatch_depth")
	BlockHit          = NewKey("block_hit")
)

// Stack is not safe for concurrent use. It belongs to the goroutine that runs
// the simulation it describes.
type Stack struct {
	causes []any
	ctx    map[Key]any
	frames []*Frame
	nextID uint64

	snap  Cause
	dirty bool
}

// Frame is the token returned by PushFrame.
type Frame struct {
	id     uint64
	stack  *Stack
	depth  int
	saved  map[Key]prior
	popped bool
}

type prior struct {
	value   any
	present bool
}

func New() *Stack {
	return &Stack{ctx: map[Key]any{}, dirty: true}
}

// ID returns the frame's sequence number, unique within its stack.
func (f *Frame) ID() uint64 { return f.id }

// Close pops the frame. It is equivalent to f.stack.PopFrame(f).
func (f *Frame) Close() { f.stack.PopFrame(f) }

func (s *Stack) PushCause(obj any) {
	if obj == nil {
		panic(&FrameError{Op: "push_cause", Reason: "nil cause", Depth: len(s.frames)})
	}
	s.causes = append(s.causes, obj)
	s.dirty = true
}

// PopCause removes the most recent cause. Causes pushed by an enclosing frame
// cannot be popped from inside a nested frame.
func (s *Stack) PopCause() any {
	floor := 0
	if n := len(s.frames); n > 0 {
		floor = s.frames[n-1].depth
	}
	if len(s.causes) <= floor {
		panic(&FrameError{Op: "pop_cause", Reason: "no cause owned by the current frame", Depth: len(s.frames)})
	}
	last := len(s.causes) - 1
	obj := s.causes[last]
	s.causes[last] = nil
	s.causes = s.causes[:last]
	s.dirty = true
	return obj
}

// PeekCause returns the most recent cause, or nil.
func (s *Stack) PeekCause() any {
	if len(s.causes) == 0 {
		return nil
	}
	return s.causes[len(s.causes)-1]
}

func (s *Stack) PushFrame() *Frame {
	s.nextID++
	f := &Frame{id: s.nextID, stack: s, depth: len(s.causes)}
	s.frames = append(s.frames, f)
	return f
}

// PopFrame restores the causes and context to what they were when f was pushed.
// f must be the most recently pushed frame that has not been popped yet.
func (s *Stack) PopFrame(f *Frame) {
	n := len(s.frames)
	if f == nil || f.popped || n == 0 || s.frames[n-1] != f {
		err := &FrameError{Op: "pop_frame", Reason: "frame is not the top of the stack", Depth: n}
		if f != nil {
			err.Frame = f.id
		}
		if n > 0 {
			err.Top = s.frames[n-1].id
		}
		panic(err)
	}
	for i := f.depth; i < len(s.causes); i++ {
		s.causes[i] = nil
	}
	s.causes = s.causes[:f.depth]
	for k, p := range f.saved {
		if p.present {
			s.ctx[k] = p.value
		} else {
			delete(s.ctx, k)
		}
	}
	f.saved = nil
	f.popped = true
	s.frames[n-1] = nil
	s.frames = s.frames[:n-1]
	s.dirty = true
}

// Unwind pops every frame above f and then f itself. It is the abort path used
// after a panic, when nested frames could not be closed in order. It returns
// the number of frames popped, or 0 if f is not on the stack.
func (s *Stack) Unwind(f *Frame) int {
	idx := -1
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i] == f {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0
	}
	n := 0
	for len(s.frames) > idx {
		s.PopFrame(s.frames[len(s.frames)-1])
		n++
	}
	return n
}

// AddContext sets k to v for the lifetime of the current frame. Without an
// active frame the value persists until removed.
func (s *Stack) AddContext(k Key, v any) {
	if v == nil {
		panic(&FrameError{Op: "add_context", Reason: fmt.Sprintf("nil value for %s", k), Depth: len(s.frames)})
	}
	s.remember(k)
	s.ctx[k] = v
	s.dirty = true
}

func (s *Stack) RemoveContext(k Key) (any, bool) {
	v, ok := s.ctx[k]
	if !ok {
		return nil, false
	}
	s.remember(k)
	delete(s.ctx, k)
	s.dirty = true
	return v, true
}

func (s *Stack) Context(k Key) (any, bool) {
	v, ok := s.ctx[k]
	return v, ok
}

// Depth is the number of open frames.
func (s *Stack) Depth() int { return len(s.frames) }

// Len is the number of causes on the stack.
func (s *Stack) Len() int { return len(s.causes) }

// Current returns an immutable snapshot of the stack. The snapshot is cached
// until the next mutation, so repeated calls inside one replay are cheap.
func (s *Stack) Current() Cause {
	if !s.dirty {
		return s.snap
	}
	c := Cause{}
	if len(s.causes) > 0 {
		c.causes = append([]any(nil), s.causes...)
	}
	if len(s.ctx) > 0 {
		c.ctx = make(map[Key]any, len(s.ctx))
		for k, v := range s.ctx {
			c.ctx[k] = v
		}
	}
	s.snap = c
	s.dirty = false
	return c
}

func (s *Stack) remember(k Key) {
	n := len(s.frames)
	if n == 0 {
		return
	}
	f := s.frames[n-1]
	if f.saved == nil {
		f.saved = map[Key]prior{}
	}
	if _, ok := f.saved[k]; ok {
		return
	}
	v, present := s.ctx[k]
	f.saved[k] = prior{value: v, present: present}
}
