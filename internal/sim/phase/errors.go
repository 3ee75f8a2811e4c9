package phase

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotCapturing is returned by Add*Capture when the context does not
	// capture that kind. Mutation points check Captures* first.
	ErrNotCapturing = errors.New("phase: context does not capture this kind")
	// ErrContextState means a context was used outside its lifecycle, e.g.
	// switched twice or closed before being switched.
	ErrContextState      = errors.New("phase: context used in wrong lifecycle state")
	ErrPushDuringUnwind  = errors.New("phase: cannot switch to a new phase during post-dispatch")
	ErrPostDispatchLimit = errors.New("phase: post-dispatch did not reach a fixed point")
	ErrStackCorrupted    = errors.New("phase: stack corrupted")
	ErrDepthExceeded     = errors.New("phase: maximum phase depth exceeded")
)

// CrashReport is the diagnostic produced for a fatal stack-discipline
// violation.
type CrashReport struct {
	Reason string   `json:"reason"`
	Side   Side     `json:"side"`
	Tick   uint64   `json:"tick"`
	Op     string   `json:"op"`
	Stuck  string   `json:"stuck,omitempty"`
	Phases []string `json:"phases"`
	Causes []string `json:"causes"`
	Frames int      `json:"cause_frames"`
}

func (r CrashReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "phase tracker crash (%s side, tick %d): %s\n", r.Side, r.Tick, r.Reason)
	if r.Stuck != "" {
		fmt.Fprintf(&b, "  stuck phase: %s\n", r.Stuck)
	}
	fmt.Fprintf(&b, "  phase stack (bottom first): [%s]\n", strings.Join(r.Phases, ", "))
	fmt.Fprintf(&b, "  causes: [%s] open cause frames: %d", strings.Join(r.Causes, ", "), r.Frames)
	return b.String()
}

// StackError is the panic value for fatal stack-discipline violations. It is
// raised only after the crash report has been handed to the reporter.
type StackError struct {
	Op     string
	Reason string
	Report CrashReport
}

func (e *StackError) Error() string {
	if e.Report.Stuck != "" {
		return fmt.Sprintf("phase %s: %s (stuck phase %s)", e.Op, e.Reason, e.Report.Stuck)
	}
	return fmt.Sprintf("phase %s: %s", e.Op, e.Reason)
}

func (e *StackError) Unwrap() error { return ErrStackCorrupted }

// ReplayError reports a failure while a context was being unwound. The
// context's remaining captures were discarded and the stack is consistent.
type ReplayError struct {
	State     string
	Stage     string
	Depth     int
	Discarded int
	Err       error
}

const (
	StageReplay       = "replay"
	StagePostDispatch = "post_dispatch"
	StageUnwindHook   = "unwind_hook"
)

func (e *ReplayError) Error() string {
	return fmt.Sprintf("phase %s: %s at depth %d failed (%d captures discarded): %v",
		e.State, e.Stage, e.Depth, e.Discarded, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a listener or an apply call.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
