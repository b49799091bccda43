package cmake

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spader/whisperbuild/internal/shell"
	"github.com/spader/whisperbuild/internal/shell/shelltest"
)

func TestConfigureArgs(t *testing.T) {
	t.Parallel()

	inv := New().
		Source("/src").
		BuildDir("/build").
		Generator("Ninja").
		Prefix("/install").
		Define("BUILD_SHARED_LIBS", "ON").
		DefineBool("WHISPER_BUILD_TESTS", false).
		Invocation()

	want := []string{
		"-S", "/src", "-B", "/build", "-G", "Ninja",
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_INSTALL_PREFIX=/install",
		"-DBUILD_SHARED_LIBS=ON",
		"-DWHISPER_BUILD_TESTS=OFF",
	}
	if diff := cmp.Diff(want, inv.ConfigureArgs()); diff != "" {
		t.Fatalf("ConfigureArgs() mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigureArgsOmitsOptionalFields(t *testing.T) {
	t.Parallel()

	got := New().Source("s").BuildDir("b").BuildType("Debug").Invocation().ConfigureArgs()
	want := []string{"-S", "s", "-B", "b", "-DCMAKE_BUILD_TYPE=Debug"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ConfigureArgs() mismatch (-want +got):\n%s", diff)
	}
}

func TestSettersLastWriteWins(t *testing.T) {
	t.Parallel()

	inv := New().Source("a").Source("b").Generator("Ninja").Generator("").BuildType("Debug").BuildType("").Invocation()
	if inv.Source != "b" || inv.Generator != "" || inv.BuildType != "Release" {
		t.Fatalf("Invocation() = %+v", inv)
	}
}

func TestDefineIfFalseNeverEmitted(t *testing.T) {
	t.Parallel()

	b := New().Source("s").BuildDir("b")
	for i := 0; i < 5; i++ {
		b.DefineIf("GGML_CUDA", "ON", false)
	}
	b.DefineIf("GGML_METAL", "ON", true)

	args := b.Invocation().ConfigureArgs()
	for _, arg := range args {
		if strings.Contains(arg, "GGML_CUDA") {
			t.Fatalf("false DefineIf emitted: %v", args)
		}
	}
	if args[len(args)-1] != "-DGGML_METAL=ON" {
		t.Fatalf("true DefineIf missing: %v", args)
	}
}

func TestDefineOrderPreserved(t *testing.T) {
	t.Parallel()

	inv := New().
		Source("s").BuildDir("b").
		Defines("Z=1", "A=2").
		Define("M", "3").
		DefineIf("B", "4", true).
		Defines("C=5").
		Invocation()

	want := []string{"-DZ=1", "-DA=2", "-DM=3", "-DB=4", "-DC=5"}
	args := inv.ConfigureArgs()
	if diff := cmp.Diff(want, args[len(args)-len(want):]); diff != "" {
		t.Fatalf("define order mismatch (-want +got):\n%s", diff)
	}
}

func TestInvocationIsDetachedFromBuilder(t *testing.T) {
	t.Parallel()

	b := New().Source("s").BuildDir("b").Define("A", "1")
	inv := b.Invocation()
	b.Define("B", "2")
	if len(inv.Defines) != 1 {
		t.Fatalf("frozen invocation changed: %v", inv.Defines)
	}
}

func TestPhasesRunInOrder(t *testing.T) {
	t.Parallel()

	rec := &shelltest.Recorder{}
	ctx := context.Background()

	configured, err := New().Source("/src").BuildDir("/build").Configure(ctx, rec, "cmake")
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	configured.Parallel = 8
	built, err := configured.Build(ctx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := built.Install(ctx, "/store/bins"); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	want := []string{
		"cmake -S /src -B /build -DCMAKE_BUILD_TYPE=Release",
		"cmake --build /build --config Release --parallel 8",
		"cmake --install /build --config Release --prefix /store/bins",
	}
	if diff := cmp.Diff(want, rec.Lines()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestPhaseFailureCarriesExitCodeAndIsNotRetried(t *testing.T) {
	t.Parallel()

	rec := (&shelltest.Recorder{}).Fail(2, "cmake", "--build")
	ctx := context.Background()

	configured, err := New().Source("s").BuildDir("b").Configure(ctx, rec, "")
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	_, err = configured.Build(ctx)

	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) || phaseErr.Phase != PhaseBuild {
		t.Fatalf("Build() error = %v, want build PhaseError", err)
	}
	if phaseErr.ExitCode() != 2 {
		t.Fatalf("ExitCode() = %d, want 2", phaseErr.ExitCode())
	}
	var cmdErr *shell.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("CommandError not reachable through PhaseError")
	}
	if got := len(rec.Commands()); got != 2 {
		t.Fatalf("ran %d commands, want 2 (no retry)", got)
	}
}

func TestConfigureRequiresDirectories(t *testing.T) {
	t.Parallel()

	rec := &shelltest.Recorder{}
	if _, err := New().Configure(context.Background(), rec, "cmake"); err == nil {
		t.Fatalf("Configure() without source error = nil, want error")
	}
	if len(rec.Commands()) != 0 {
		t.Fatalf("invalid configuration still spawned a process")
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	rec := &shelltest.Recorder{}
	if err := Clean(context.Background(), rec, "cmake", "/build/addon"); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if diff := cmp.Diff([]string{"cmake --build /build/addon --target clean"}, rec.Lines()); diff != "" {
		t.Fatalf("clean command mismatch (-want +got):\n%s", diff)
	}
}
