package shell

import (
	"golang.org/x/sys/unix"
)

// DefaultSudoPath is where the elevation wrapper is expected to live.
const DefaultSudoPath = "/usr/bin/sudo"

// Host answers privilege questions about the running process. Answers are
// never cached; they are properties of the environment at call time.
type Host interface {
	Elevated() bool
	ElevationTool() (string, bool)
}

// UnixHost inspects the real process and filesystem.
type UnixHost struct {
	SudoPath string
}

var _ Host = UnixHost{}

// Elevated reports whether the effective uid is root.
func (UnixHost) Elevated() bool {
	return unix.Geteuid() == 0
}

// ElevationTool reports the sudo path when it exists and is executable.
func (h UnixHost) ElevationTool() (string, bool) {
	path := h.SudoPath
	if path == "" {
		path = DefaultSudoPath
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		return "", false
	}
	return path, true
}

// Sudo prefixes args with the elevation tool unless the process is already
// elevated or no elevation tool is installed.
func Sudo(host Host, args []string) []string {
	if host == nil {
		host = UnixHost{}
	}
	if host.Elevated() {
		return args
	}
	tool, ok := host.ElevationTool()
	if !ok {
		return args
	}
	return append([]string{tool}, args...)
}
