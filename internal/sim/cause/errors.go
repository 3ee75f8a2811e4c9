package cause

import "fmt"

// FrameError is the panic value raised when the cause stack is used out of
// order. It indicates that instrumentation and simulation control flow have
// diverged, so callers should not try to continue.
type FrameError struct {
	Op     string
	Reason string
	Frame  uint64
	Top    uint64
	Depth  int
}

func (e *FrameError) Error() string {
	if e.Frame != 0 || e.Top != 0 {
		return fmt.Sprintf("cause stack %s: %s (frame=%d top=%d depth=%d)", e.Op, e.Reason, e.Frame, e.Top, e.Depth)
	}
	return fmt.Sprintf("cause stack %s: %s (depth=%d)", e.Op, e.Reason, e.Depth)
}
