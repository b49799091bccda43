package ci

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/spader/whisperbuild/internal/logging"
	"github.com/spader/whisperbuild/internal/shell"
	"github.com/spader/whisperbuild/internal/shell/shelltest"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(data)
}

var heredoc = regexp.MustCompile(`(?m)^(\w+)<<(ghadelimiter_[0-9a-f-]+)\n(.*)\n(ghadelimiter_[0-9a-f-]+)$`)

// entries decodes heredoc key/value records in file order.
func entries(t *testing.T, content string) [][2]string {
	t.Helper()
	var out [][2]string
	for _, m := range heredoc.FindAllStringSubmatch(content, -1) {
		if m[2] != m[4] {
			t.Fatalf("delimiter mismatch in %q", m[0])
		}
		out = append(out, [2]string{m[1], m[3]})
	}
	return out
}

func newProvisioner(rec *shelltest.Recorder, host shell.Host) *Provisioner {
	return &Provisioner{
		Runner: rec,
		Host:   host,
		Retry: shell.RetryPolicy{
			Attempts:  3,
			BaseDelay: time.Millisecond,
			Sleep:     func(context.Context, time.Duration) error { return nil },
		},
		Logger: logging.Discard(),
	}
}

func TestGitHubWritesSkippedWithoutFiles(t *testing.T) {
	t.Parallel()

	gh := NewGitHub(mapLookup(map[string]string{}))
	if err := gh.Export("A", "1"); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if err := gh.Path("/bin"); err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if err := gh.Output("k", "v"); err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if gh.Enabled() {
		t.Fatalf("Enabled() = true without env files")
	}
}

func TestGitHubExportAppendPathOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	env := map[string]string{
		EnvFileVar:        filepath.Join(dir, "env"),
		PathFileVar:       filepath.Join(dir, "path"),
		OutputFileVar:     filepath.Join(dir, "output"),
		"LD_LIBRARY_PATH": "/opt/lib",
	}
	gh := NewGitHub(mapLookup(env))

	steps := []error{
		gh.Export("CUDA_PATH", "/usr/local/cuda-12.6"),
		gh.Append("LD_LIBRARY_PATH", "/usr/local/cuda-12.6/lib64", ":"),
		gh.Append("LD_LIBRARY_PATH", "/extra", ""),
		gh.Append("FRESH", "x", ";"),
		gh.Path("/usr/local/cuda-12.6/bin"),
		gh.Output("multi", "line one\nline two"),
	}
	for i, err := range steps {
		if err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
	}

	wantEnv := [][2]string{
		{"CUDA_PATH", "/usr/local/cuda-12.6"},
		{"LD_LIBRARY_PATH", "/usr/local/cuda-12.6/lib64:/opt/lib"},
		{"LD_LIBRARY_PATH", "/extra:/usr/local/cuda-12.6/lib64:/opt/lib"},
		{"FRESH", "x"},
	}
	if diff := cmp.Diff(wantEnv, entries(t, readFile(t, env[EnvFileVar]))); diff != "" {
		t.Fatalf("env file mismatch (-want +got):\n%s", diff)
	}
	if got := readFile(t, env[PathFileVar]); got != "/usr/local/cuda-12.6/bin\n" {
		t.Fatalf("path file = %q", got)
	}
	if got := readFile(t, env[OutputFileVar]); !strings.Contains(got, "\nline one\nline two\n") {
		t.Fatalf("output file = %q", got)
	}
}

func TestAptRetriesUnderSudo(t *testing.T) {
	t.Parallel()

	rec := &shelltest.Recorder{}
	calls := 0
	rec.On(func(cmd shell.Command) error {
		calls++
		if calls < 3 {
			return &shell.CommandError{ExitCode: 100, Args: cmd.Args}
		}
		return nil
	}, "/usr/bin/sudo", "apt-get", "update")

	p := newProvisioner(rec, shelltest.Host{Sudo: "/usr/bin/sudo"})
	if err := p.AptUpdate(context.Background()); err != nil {
		t.Fatalf("AptUpdate() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("apt-get update ran %d times, want 3", calls)
	}
}

func TestAptUpdateReturnsLastError(t *testing.T) {
	t.Parallel()

	rec := (&shelltest.Recorder{}).Fail(100, "apt-get")
	p := newProvisioner(rec, shelltest.Host{Root: true})

	err := p.AptUpdate(context.Background())
	if err == nil {
		t.Fatalf("AptUpdate() error = nil")
	}
	if got := len(rec.Lines()); got != 3 {
		t.Fatalf("ran %d times, want 3", got)
	}
}

func TestInstallDependencies(t *testing.T) {
	t.Parallel()

	rec := &shelltest.Recorder{}
	p := newProvisioner(rec, shelltest.Host{Root: true})
	if err := p.InstallDependencies(context.Background(), []string{"cmake", "ninja-build"}, "npm"); err != nil {
		t.Fatalf("InstallDependencies() error = %v", err)
	}
	want := []string{"apt-get update", "apt-get install -y cmake ninja-build", "npm install"}
	if diff := cmp.Diff(want, rec.Lines()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestAptInstallEmptyIsNoop(t *testing.T) {
	t.Parallel()

	rec := &shelltest.Recorder{}
	p := newProvisioner(rec, shelltest.Host{Root: true})
	if err := p.AptInstall(context.Background()); err != nil {
		t.Fatalf("AptInstall() error = %v", err)
	}
	if lines := rec.Lines(); len(lines) != 0 {
		t.Fatalf("ran %v", lines)
	}
}

func TestParseCUDAVersion(t *testing.T) {
	t.Parallel()

	v, err := ParseCUDAVersion("12.6.3")
	if err != nil || v != (CUDAVersion{12, 6, 3}) {
		t.Fatalf("ParseCUDAVersion() = %v, %v", v, err)
	}
	for _, bad := range []string{"12.6", "12.6.3.1", "12.x.3", "", "-1.0.0"} {
		if _, err := ParseCUDAVersion(bad); err == nil {
			t.Fatalf("ParseCUDAVersion(%q) error = nil", bad)
		}
	}
}

func TestPathsFor(t *testing.T) {
	t.Parallel()

	want := CUDAPaths{
		Package: "cuda-toolkit-12-6",
		Root:    "/usr/local/cuda-12.6",
		Bin:     "/usr/local/cuda-12.6/bin",
		Lib:     "/usr/local/cuda-12.6/lib64",
	}
	if diff := cmp.Diff(want, PathsFor("", CUDAVersion{12, 6, 3})); diff != "" {
		t.Fatalf("PathsFor() mismatch (-want +got):\n%s", diff)
	}
}

type cudaHarness struct {
	cuda   *CUDA
	rec    *shelltest.Recorder
	env    map[string]string
	prefix string
	stdout *bytes.Buffer
}

func newCUDA(t *testing.T, env map[string]string) *cudaHarness {
	t.Helper()
	h := &cudaHarness{rec: &shelltest.Recorder{}, env: env, prefix: t.TempDir(), stdout: &bytes.Buffer{}}
	h.cuda = &CUDA{
		Provisioner: newProvisioner(h.rec, shelltest.Host{Sudo: "sudo"}),
		GitHub:      NewGitHub(mapLookup(env)),
		Repository:  "https://repo.example/cuda/",
		Keyring:     "1.1-1",
		Prefix:      h.prefix,
		Lookup:      mapLookup(env),
		Stdout:      h.stdout,
		Logger:      logging.Discard(),
	}
	return h
}

func TestCUDAInstallFromRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	env := map[string]string{EnvFileVar: filepath.Join(dir, "env"), PathFileVar: filepath.Join(dir, "path")}
	h := newCUDA(t, env)

	paths, err := h.cuda.Install(context.Background(), "12.6.3")
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	want := []string{
		"wget -q https://repo.example/cuda/cuda-keyring_1.1-1_all.deb -O /tmp/cuda-keyring.deb",
		"sudo dpkg -i /tmp/cuda-keyring.deb",
		"sudo apt-get update",
		"sudo apt-get install -y cuda-toolkit-12-6",
	}
	if diff := cmp.Diff(want, h.rec.Lines()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}

	wantEnv := [][2]string{{"CUDA_PATH", paths.Root}, {"LD_LIBRARY_PATH", paths.Lib}}
	if diff := cmp.Diff(wantEnv, entries(t, readFile(t, env[EnvFileVar]))); diff != "" {
		t.Fatalf("env mismatch (-want +got):\n%s", diff)
	}
	if got := readFile(t, env[PathFileVar]); got != paths.Bin+"\n" {
		t.Fatalf("path file = %q", got)
	}
}

func TestCUDAInstallUsesCache(t *testing.T) {
	t.Parallel()

	h := newCUDA(t, map[string]string{})
	paths := PathsFor(h.prefix, CUDAVersion{12, 6, 3})
	if err := os.MkdirAll(paths.Bin, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(paths.Bin, "nvcc"), nil, 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := h.cuda.Install(context.Background(), "12.6.3"); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if lines := h.rec.Lines(); len(lines) != 0 {
		t.Fatalf("cached install ran %v", lines)
	}
}

func TestCUDAInstallRejectsBadVersion(t *testing.T) {
	t.Parallel()

	h := newCUDA(t, map[string]string{})
	if _, err := h.cuda.Install(context.Background(), "12.6"); err == nil {
		t.Fatalf("Install() error = nil")
	}
	if lines := h.rec.Lines(); len(lines) != 0 {
		t.Fatalf("ran %v", lines)
	}
}

func TestCUDAEmitPaths(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "output")
	h := newCUDA(t, map[string]string{"USER": "runner", OutputFileVar: output})

	paths, err := h.cuda.EmitPaths(context.Background(), "12.6.3")
	if err != nil {
		t.Fatalf("EmitPaths() error = %v", err)
	}
	if info, err := os.Stat(paths.Root); err != nil || !info.IsDir() {
		t.Fatalf("toolkit root not created: %v", err)
	}
	want := []string{"sudo chown -R runner:runner " + paths.Root}
	if diff := cmp.Diff(want, h.rec.Lines()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}

	wantOutputs := [][2]string{{"path", paths.Root}, {"bin", paths.Bin}, {"lib", paths.Lib}, {"pkg", "cuda-toolkit-12-6"}}
	if diff := cmp.Diff(wantOutputs, entries(t, readFile(t, output))); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}

	var printed CUDAPaths
	if err := json.Unmarshal(h.stdout.Bytes(), &printed); err != nil {
		t.Fatalf("stdout is not JSON: %v", err)
	}
	if printed != paths {
		t.Fatalf("printed %+v, want %+v", printed, paths)
	}
}

func TestNormalizeCachePermissionsWithoutUser(t *testing.T) {
	t.Parallel()

	h := newCUDA(t, map[string]string{})
	if err := h.cuda.NormalizeCachePermissions(context.Background(), "12.6.3"); err != nil {
		t.Fatalf("NormalizeCachePermissions() error = %v", err)
	}
	if lines := h.rec.Lines(); len(lines) != 0 {
		t.Fatalf("ran %v without USER", lines)
	}
}
