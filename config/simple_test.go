package simple

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spader/whisperbuild/internal/logging"
	"github.com/spader/whisperbuild/internal/setup"
	"github.com/spader/whisperbuild/internal/shell/shelltest"
	"github.com/spader/whisperbuild/internal/target"
)

type absentProber struct{}

func (absentProber) Probe(context.Context, string, ...string) target.ProbeResult {
	return target.ProbeResult{Presence: target.Absent}
}

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// newTestEnvironment swaps the real executor and host probes for fakes.
func newTestEnvironment(t *testing.T, opts Options, env map[string]string) (*Environment, *shelltest.Recorder) {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	opts.LookupEnv = mapLookup(env)
	e, err := Open(opts, logging.Discard())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	rec := &shelltest.Recorder{}
	e.Runner = rec
	e.Host = shelltest.Host{Root: true}
	e.Resolver.GOOS = "linux"
	e.Resolver.GOARCH = "amd64"
	e.Resolver.Prober = absentProber{}
	return e, rec
}

func TestOpenReadsConfigFromRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	content := "scope: \"@acme\"\nnative:\n  ref: v1.8.0\n"
	if err := os.WriteFile(filepath.Join(root, setup.DefaultConfigFile), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	e, _ := newTestEnvironment(t, Options{Root: root}, nil)
	if e.Config.Scope != "@acme" || e.Config.Native.Ref != "v1.8.0" {
		t.Fatalf("config = %+v", e.Config)
	}
	if e.Config.PackageName != setup.DefaultConfig.PackageName {
		t.Fatalf("PackageName = %q, want default", e.Config.PackageName)
	}
	if e.Tools.TSC != "tsc" {
		t.Fatalf("TSC = %q, want fallback", e.Tools.TSC)
	}
}

func TestOpenRequiresExplicitConfig(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	_, err := Open(Options{Root: root, ConfigPath: filepath.Join(root, "missing.yaml"), LookupEnv: mapLookup(nil)}, logging.Discard())
	if err == nil {
		t.Fatalf("Open() error = nil for missing explicit config")
	}
}

func TestParamsHonorsBackendAndCI(t *testing.T) {
	t.Parallel()

	e, _ := newTestEnvironment(t, Options{Backend: "Vulkan"}, map[string]string{"CI": "true"})
	params, err := e.Params(context.Background())
	if err != nil {
		t.Fatalf("Params() error = %v", err)
	}
	want := target.Target{OS: target.Linux, Arch: target.X64, Backend: target.Vulkan, Libc: target.GNU}
	if diff := cmp.Diff(want, params.Target); diff != "" {
		t.Fatalf("target mismatch (-want +got):\n%s", diff)
	}
	if !params.CI {
		t.Fatalf("CI = false with CI=true in the environment")
	}
}

func TestParamsRejectsBackendForOS(t *testing.T) {
	t.Parallel()

	e, _ := newTestEnvironment(t, Options{Backend: "metal"}, nil)
	if _, err := e.Params(context.Background()); err == nil {
		t.Fatalf("Params() accepted metal on linux")
	}
}

func TestBuildDryRunRunsNothing(t *testing.T) {
	t.Parallel()

	e, rec := newTestEnvironment(t, Options{DryRun: true}, nil)
	report, err := Build(context.Background(), e, "all")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !report.Succeeded() {
		t.Fatalf("report = %+v", report)
	}
	if lines := rec.Lines(); len(lines) != 0 {
		t.Fatalf("dry run executed %v", lines)
	}
}

func TestBuildUnknownPipeline(t *testing.T) {
	t.Parallel()

	e, _ := newTestEnvironment(t, Options{}, nil)
	if _, err := Build(context.Background(), e, "publish"); err == nil {
		t.Fatalf("Build() error = nil for unknown pipeline")
	}
}

func TestCleanRepoRemovesGeneratedTrees(t *testing.T) {
	t.Parallel()

	e, _ := newTestEnvironment(t, Options{}, nil)
	for _, dir := range []string{e.Layout.BuildRoot(), e.Layout.Store(), e.Layout.Artifacts()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
	}

	if err := Clean(context.Background(), e, true); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	for _, dir := range []string{e.Layout.BuildRoot(), e.Layout.Store(), e.Layout.Artifacts()} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("%s still exists", dir)
		}
	}
}

func TestStageWritesManifest(t *testing.T) {
	t.Parallel()

	e, _ := newTestEnvironment(t, Options{}, nil)
	tarball := filepath.Join(e.Layout.TarballDir(e.Config.Scope), e.Config.LanguageTarball())
	if err := os.MkdirAll(filepath.Dir(tarball), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(tarball, []byte("tgz"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	staged, err := Stage(e, "js")
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if len(staged) != 1 || staged[0].Name != e.Config.LanguageTarball() {
		t.Fatalf("Stage() = %+v", staged)
	}
	if _, err := os.Stat(filepath.Join(e.Layout.Artifacts(), "manifest.json")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
}

func TestCIInstallUsesConfiguredPackages(t *testing.T) {
	t.Parallel()

	e, rec := newTestEnvironment(t, Options{}, nil)
	e.Config.CI.AptPackages = []string{"cmake"}
	if err := CIInstall(context.Background(), e); err != nil {
		t.Fatalf("CIInstall() error = %v", err)
	}
	want := []string{"apt-get update", "apt-get install -y cmake", "npm install"}
	if diff := cmp.Diff(want, rec.Lines()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}
