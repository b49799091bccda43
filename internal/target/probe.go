package target

import (
	"context"
	"errors"
	"os/exec"
)

// Presence is the tri-state outcome of probing for a host capability.
type Presence int

const (
	// Indeterminate means the probe could not decide; callers treat it as Absent.
	Indeterminate Presence = iota
	Present
	Absent
)

func (p Presence) String() string {
	switch p {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "indeterminate"
	}
}

// ProbeResult carries the presence verdict and whatever output the probe produced.
type ProbeResult struct {
	Presence Presence
	Output   string
}

// Found reports whether the capability should be considered available.
func (r ProbeResult) Found() bool {
	return r.Presence == Present
}

// Prober checks for a host capability by running a tool.
type Prober interface {
	Probe(ctx context.Context, name string, args ...string) ProbeResult
}

// ExecProber probes by executing the tool and inspecting its exit status.
type ExecProber struct{}

var _ Prober = ExecProber{}

// Probe runs name with args, capturing combined output.
// A missing binary or non-zero exit is Absent; any other failure is Indeterminate.
func (ExecProber) Probe(ctx context.Context, name string, args ...string) ProbeResult {
	path, err := exec.LookPath(name)
	if err != nil {
		return ProbeResult{Presence: Absent}
	}

	output, err := exec.CommandContext(ctx, path, args...).CombinedOutput()
	if err == nil {
		return ProbeResult{Presence: Present, Output: string(output)}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ProbeResult{Presence: Absent, Output: string(output)}
	}
	return ProbeResult{Presence: Indeterminate, Output: string(output)}
}
