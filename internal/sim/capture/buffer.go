package capture

// Entry is a buffered mutation keyed by its target.
type Entry[K comparable, E any] interface {
	Key() K
	Coalesce(next E) E
}

// Buffer is an insertion-ordered collection of proposed mutations. A second
// entry for an existing key is coalesced into the first one's slot, so replay
// order is the order in which each target was first touched.
type Buffer[K comparable, E Entry[K, E]] struct {
	entries []E
	index   map[K]int
}

// Add records e and reports whether it was merged into an existing entry.
func (b *Buffer[K, E]) Add(e E) bool {
	k := e.Key()
	if i, ok := b.index[k]; ok {
		b.entries[i] = b.entries[i].Coalesce(e)
		return true
	}
	if b.index == nil {
		b.index = map[K]int{}
	}
	b.index[k] = len(b.entries)
	b.entries = append(b.entries, e)
	return false
}

func (b *Buffer[K, E]) Get(k K) (E, bool) {
	if i, ok := b.index[k]; ok {
		return b.entries[i], true
	}
	var zero E
	return zero, false
}

// Remove drops the entry for k, keeping the order of the rest, and reports
// whether there was one.
func (b *Buffer[K, E]) Remove(k K) bool {
	if b == nil {
		return false
	}
	i, ok := b.index[k]
	if !ok {
		return false
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	delete(b.index, k)
	for j := i; j < len(b.entries); j++ {
		b.index[b.entries[j].Key()] = j
	}
	return true
}

func (b *Buffer[K, E]) Len() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}

// Entries returns a copy of the buffered entries without consuming them.
func (b *Buffer[K, E]) Entries() []E {
	if b == nil {
		return nil
	}
	return append([]E(nil), b.entries...)
}

// Drain hands the entries to the caller and empties the buffer. Each entry is
// returned by exactly one Drain.
func (b *Buffer[K, E]) Drain() []E {
	if b == nil || len(b.entries) == 0 {
		return nil
	}
	out := b.entries
	b.entries = nil
	b.index = nil
	return out
}
