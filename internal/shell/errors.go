package shell

import (
	"fmt"
	"strings"
)

// CommandError is returned when an external command exits non-zero or
// cannot be started. ExitCode is -1 when the process never ran.
type CommandError struct {
	ExitCode int
	Args     []string
	Dir      string
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command failed with exit code %d: %s", e.ExitCode, strings.Join(e.Args, " "))
	if e.Dir != "" {
		fmt.Fprintf(&b, "\ncwd: %s", e.Dir)
	}
	if e.Err != nil && e.ExitCode < 0 {
		fmt.Fprintf(&b, "\nerror: %v", e.Err)
	}
	if out := strings.TrimRight(e.Output, "\n"); out != "" {
		fmt.Fprintf(&b, "\noutput:\n%s", out)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
