package event

// Sink receives posted events and reports whether the event ended up cancelled.
type Sink interface {
	Post(ev Event) (cancelled bool)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) bool

func (f SinkFunc) Post(ev Event) bool { return f(ev) }

// KindFilter is optionally implemented by sinks that can tell whether anybody is
// listening for a kind. When nobody is, the pipeline skips building the event.
type KindFilter interface {
	Wants(k Kind) bool
}

// Wants reports whether s wants events of kind k. Sinks without a KindFilter want
// everything.
func Wants(s Sink, k Kind) bool {
	if s == nil {
		return false
	}
	if p, ok := s.(KindFilter); ok {
		return p.Wants(k)
	}
	return true
}

// Discard is a sink that never cancels and never listens.
var Discard Sink = discard{}

type discard struct{}

func (discard) Post(Event) bool { return false }
func (discard) Wants(Kind) bool { return false }
