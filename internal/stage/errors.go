package stage

import (
	"fmt"
	"strings"
)

// Stage names used in errors and logs.
const (
	NameNormalize = "normalize"
	NameEnhance   = "enhance"
	NameShadow    = "shadow"
	NameCompose   = "compose"
	NameFrames    = "frames"
)

// StageError is an escalated failure that leaves downstream stages without
// a verified input.
type StageError struct {
	Stage   string
	Attempt int
	// Excerpt is the tail of the tool's diagnostic output, already bounded.
	Excerpt string
	Err     error
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s stage failed", e.Stage)
	if e.Attempt > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempt)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }
