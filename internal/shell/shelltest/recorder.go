// Package shelltest provides a recording shell.Runner for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/spader/whisperbuild/internal/shell"
)

// Handler simulates a command. Returning an error fails the command.
type Handler func(cmd shell.Command) error

// Recorder records every command it is asked to run.
type Recorder struct {
	mu       sync.Mutex
	commands []shell.Command
	handlers []matcher
}

type matcher struct {
	prefix  []string
	handler Handler
}

var _ shell.Runner = (*Recorder)(nil)

// On registers h for commands whose args start with prefix. The most
// recently registered matching handler wins.
func (r *Recorder) On(h Handler, prefix ...string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, matcher{prefix: prefix, handler: h})
	return r
}

// Fail makes commands starting with prefix exit with code.
func (r *Recorder) Fail(code int, prefix ...string) *Recorder {
	return r.On(func(cmd shell.Command) error {
		return &shell.CommandError{ExitCode: code, Args: cmd.Args, Dir: cmd.Dir}
	}, prefix...)
}

// Run records cmd and dispatches it to the matching handler.
func (r *Recorder) Run(_ context.Context, cmd shell.Command) error {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	var h Handler
	for i := len(r.handlers) - 1; i >= 0; i-- {
		if hasPrefix(cmd.Args, r.handlers[i].prefix) {
			h = r.handlers[i].handler
			break
		}
	}
	r.mu.Unlock()

	if h == nil {
		return nil
	}
	return h(cmd)
}

// Commands returns a copy of every recorded command.
func (r *Recorder) Commands() []shell.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shell.Command(nil), r.commands...)
}

// Lines returns each recorded command joined with spaces.
func (r *Recorder) Lines() []string {
	cmds := r.Commands()
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, strings.Join(c.Args, " "))
	}
	return out
}

func hasPrefix(args, prefix []string) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i := range prefix {
		if args[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Host is a fixed shell.Host.
type Host struct {
	Root bool
	Sudo string
}

func (h Host) Elevated() bool { return h.Root }

func (h Host) ElevationTool() (string, bool) {
	return h.Sudo, h.Sudo != ""
}
