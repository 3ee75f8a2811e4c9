package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"phasecraft.ai/internal/sim/event"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // replay diverged
	ExitCommandError = 2 // bad paths, unreadable files
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func formatRecord(r event.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tick=%d seq=%d depth=%d %-16s phase=%s applied=%d/%d",
		r.Tick, r.Seq, r.Depth, r.Kind, r.Phase, r.Applied, r.Entries)
	if r.Cancelled {
		b.WriteString(" cancelled")
	}
	if len(r.Causes) > 0 {
		fmt.Fprintf(&b, " causes=[%s]", strings.Join(r.Causes, " > "))
	}
	return b.String()
}
