package cmake

import (
	"errors"
	"fmt"

	"github.com/spader/whisperbuild/internal/shell"
)

// Phase names a CMake step.
type Phase string

const (
	PhaseConfigure Phase = "configure"
	PhaseBuild     Phase = "build"
	PhaseInstall   Phase = "install"
	PhaseClean     Phase = "clean"
)

// PhaseError wraps the failure of one phase. Native compilation failures are
// not transient, so callers must not retry on it.
type PhaseError struct {
	Phase Phase
	Dir   string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("cmake %s (%s): %v", e.Phase, e.Dir, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ExitCode returns the failing process exit code, or -1.
func (e *PhaseError) ExitCode() int {
	var cmdErr *shell.CommandError
	if errors.As(e.Err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}
