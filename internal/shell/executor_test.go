package shell

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spader/whisperbuild/internal/logging"
)

func newTestExecutor(t *testing.T) (*Executor, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &Executor{
		Dir:    t.TempDir(),
		Stdout: &out,
		Stderr: &out,
		Logger: logging.Discard(),
	}, &out
}

func TestExecutorRunsInRepositoryRoot(t *testing.T) {
	t.Parallel()

	exec, out := newTestExecutor(t)
	if err := exec.Command(context.Background(), "sh", "-c", "pwd"); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if !strings.Contains(out.String(), exec.Dir) {
		t.Fatalf("pwd output %q does not contain %q", out.String(), exec.Dir)
	}
}

func TestExecutorCommandDirOverride(t *testing.T) {
	t.Parallel()

	exec, out := newTestExecutor(t)
	other := t.TempDir()
	if err := exec.Run(context.Background(), Command{Args: []string{"sh", "-c", "pwd"}, Dir: other}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), other) {
		t.Fatalf("pwd output %q does not contain %q", out.String(), other)
	}
}

func TestExecutorReportsExitCodeAndOutput(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t)
	err := exec.Command(context.Background(), "sh", "-c", "echo compiling; echo broken >&2; exit 3")

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Command() error = %v, want CommandError", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", cmdErr.ExitCode)
	}
	if cmdErr.Dir != exec.Dir {
		t.Fatalf("dir = %q, want %q", cmdErr.Dir, exec.Dir)
	}
	if !strings.Contains(cmdErr.Output, "compiling") || !strings.Contains(cmdErr.Output, "broken") {
		t.Fatalf("captured output = %q", cmdErr.Output)
	}
	msg := cmdErr.Error()
	for _, want := range []string{"exit code 3", "sh -c", "cwd: " + exec.Dir, "broken"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestExecutorMissingBinary(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t)
	err := exec.Command(context.Background(), "definitely-not-a-real-tool-xyz")

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Command() error = %v, want CommandError", err)
	}
	if cmdErr.ExitCode != -1 {
		t.Fatalf("exit code = %d, want -1", cmdErr.ExitCode)
	}
}

func TestExecutorRejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t)
	if err := exec.Run(context.Background(), Command{}); err == nil {
		t.Fatalf("Run(empty) error = nil, want error")
	}
}

func TestExecutorStartIsAsynchronous(t *testing.T) {
	t.Parallel()

	exec, out := newTestExecutor(t)
	proc, err := exec.Start(context.Background(), Command{Args: []string{"sh", "-c", "echo done"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := proc.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := proc.Wait(); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if !strings.Contains(out.String(), "done") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestExecutorLineSplitsFields(t *testing.T) {
	t.Parallel()

	exec, out := newTestExecutor(t)
	if err := exec.Line(context.Background(), "echo  split   line"); err != nil {
		t.Fatalf("Line() error = %v", err)
	}
	if strings.TrimSpace(out.String()) != "split line" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestTailBufferKeepsSuffix(t *testing.T) {
	t.Parallel()

	b := newTailBuffer(4)
	_, _ = b.Write([]byte("abcdef"))
	_, _ = b.Write([]byte("gh"))
	if got := b.String(); got != "efgh" {
		t.Fatalf("tail = %q, want efgh", got)
	}
}

func TestExecutorTeesStdoutToCommandWriter(t *testing.T) {
	t.Parallel()

	exec, out := newTestExecutor(t)
	var captured bytes.Buffer
	cmd := Command{Args: []string{"sh", "-c", "echo smoke-js-ok; echo noise >&2"}, Stdout: &captured}
	if err := exec.Run(context.Background(), cmd); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if captured.String() != "smoke-js-ok\n" {
		t.Fatalf("captured stdout = %q, want only the stdout line", captured.String())
	}
	if !strings.Contains(out.String(), "smoke-js-ok") {
		t.Fatalf("stdout was not streamed: %q", out.String())
	}
}
