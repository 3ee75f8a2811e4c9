package cause

// Modifier describes causes and context to restore into a later frame. Delayed
// work carries a Modifier instead of the phase context that scheduled it.
type Modifier struct {
	Causes  []any
	Context map[Key]any
}

// Capture copies c into a Modifier.
func Capture(c Cause) Modifier {
	m := Modifier{Causes: c.All()}
	if len(c.ctx) > 0 {
		m.Context = make(map[Key]any, len(c.ctx))
		for k, v := range c.ctx {
			m.Context[k] = v
		}
	}
	return m
}

func (m Modifier) IsZero() bool { return len(m.Causes) == 0 && len(m.Context) == 0 }

// Apply pushes the causes in order and adds the context to the current frame.
func (m Modifier) Apply(s *Stack) {
	for _, c := range m.Causes {
		s.PushCause(c)
	}
	keys := Cause{ctx: m.Context}.Keys()
	for _, k := range keys {
		s.AddContext(k, m.Context[k])
	}
}
