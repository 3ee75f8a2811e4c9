package cause

import (
	"fmt"
	"sort"
)

// Cause is an immutable snapshot of a Stack. It stays valid after the frame
// that produced it has been popped.
type Cause struct {
	causes []any
	ctx    map[Key]any
}

// Of builds a snapshot directly, mostly for tests and synthetic events.
func Of(causes ...any) Cause {
	return Cause{causes: append([]any(nil), causes...)}
}

func (c Cause) IsEmpty() bool { return len(c.causes) == 0 && len(c.ctx) == 0 }

func (c Cause) Len() int { return len(c.causes) }

// Origin is the first cause pushed, or nil.
func (c Cause) Origin() any {
	if len(c.causes) == 0 {
		return nil
	}
	return c.causes[0]
}

// Latest is the most recently pushed cause, or nil.
func (c Cause) Latest() any {
	if len(c.causes) == 0 {
		return nil
	}
	return c.causes[len(c.causes)-1]
}

// All returns the causes oldest first.
func (c Cause) All() []any { return append([]any(nil), c.causes...) }

func (c Cause) Context(k Key) (any, bool) {
	v, ok := c.ctx[k]
	return v, ok
}

// Keys returns the context keys sorted by name.
func (c Cause) Keys() []Key {
	keys := make([]Key, 0, len(c.ctx))
	for k := range c.ctx {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].name < keys[j].name })
	return keys
}

// Describe renders the causes oldest first and the context as strings.
func (c Cause) Describe() ([]string, map[string]string) {
	causes := make([]string, 0, len(c.causes))
	for _, v := range c.causes {
		causes = append(causes, fmt.Sprint(v))
	}
	var ctx map[string]string
	if len(c.ctx) > 0 {
		ctx = make(map[string]string, len(c.ctx))
		for k, v := range c.ctx {
			ctx[k.name] = fmt.Sprint(v)
		}
	}
	return causes, ctx
}

// First returns the most recent cause of type T.
func First[T any](c Cause) (T, bool) {
	for i := len(c.causes) - 1; i >= 0; i-- {
		if v, ok := c.causes[i].(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// ContextValue returns the context value for k if it has type T.
func ContextValue[T any](c Cause, k Key) (T, bool) {
	v, ok := c.ctx[k].(T)
	return v, ok
}
