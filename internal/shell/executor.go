// Package shell runs external tools on behalf of the build stages.
package shell

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/spader/whisperbuild/internal/logging"
)

// defaultTailSize bounds how much combined output a CommandError carries.
const defaultTailSize = 16 * 1024

// Command describes one external process invocation.
type Command struct {
	Args []string
	// Dir overrides the executor's working directory when set.
	Dir string
	// Env entries are appended to the inherited environment.
	Env []string
	// Stdout additionally receives the command's standard output.
	Stdout io.Writer
}

// Runner executes commands. Stages depend on this interface so tests can
// substitute a recording fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// Executor runs commands from the repository root and streams their output.
type Executor struct {
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// TailSize caps the captured output attached to failures.
	TailSize int
}

var _ Runner = (*Executor)(nil)

// NewExecutor returns an Executor rooted at dir that streams to the process stdio.
func NewExecutor(dir string, logger *slog.Logger) *Executor {
	return &Executor{
		Dir:    dir,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	}
}

func (e *Executor) logger() *slog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return logging.Ensure(nil)
}

// Command runs args synchronously from the executor's directory.
func (e *Executor) Command(ctx context.Context, args ...string) error {
	return e.Run(ctx, Command{Args: args})
}

// Line splits a command line on whitespace and runs it. Quoting is not
// interpreted; use Command for arguments containing spaces.
func (e *Executor) Line(ctx context.Context, line string) error {
	return e.Run(ctx, Command{Args: strings.Fields(line)})
}

// Run executes cmd and waits for it to exit.
func (e *Executor) Run(ctx context.Context, cmd Command) error {
	proc, err := e.Start(ctx, cmd)
	if err != nil {
		return err
	}
	return proc.Wait()
}

// Start launches cmd without waiting for it.
func (e *Executor) Start(ctx context.Context, cmd Command) (*Process, error) {
	dir := cmd.Dir
	if dir == "" {
		dir = e.Dir
	}
	if len(cmd.Args) == 0 {
		return nil, &CommandError{ExitCode: -1, Dir: dir, Err: errors.New("no command provided")}
	}

	e.logger().Info("$ "+strings.Join(cmd.Args, " "), "cwd", dir)

	size := e.TailSize
	if size <= 0 {
		size = defaultTailSize
	}
	tail := newTailBuffer(size)

	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	stdout := []io.Writer{writerOrDiscard(e.Stdout), tail}
	if cmd.Stdout != nil {
		stdout = append(stdout, cmd.Stdout)
	}
	c.Stdout = io.MultiWriter(stdout...)
	c.Stderr = io.MultiWriter(writerOrDiscard(e.Stderr), tail)

	if err := c.Start(); err != nil {
		return nil, &CommandError{ExitCode: -1, Args: cmd.Args, Dir: dir, Err: err}
	}

	return &Process{cmd: c, args: cmd.Args, dir: dir, tail: tail}, nil
}

// Process is a started command.
type Process struct {
	cmd  *exec.Cmd
	args []string
	dir  string
	tail *tailBuffer

	once sync.Once
	err  error
}

// Wait blocks until the process exits. It is safe to call more than once.
func (p *Process) Wait() error {
	p.once.Do(func() {
		err := p.cmd.Wait()
		if err == nil {
			return
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		p.err = &CommandError{
			ExitCode: code,
			Args:     p.args,
			Dir:      p.dir,
			Output:   p.tail.String(),
			Err:      err,
		}
	})
	return p.err
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if over := len(b.data) - b.max; over > 0 {
		b.data = append([]byte(nil), b.data[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
