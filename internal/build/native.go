package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spader/whisperbuild/internal/cmake"
	"github.com/spader/whisperbuild/internal/target"
)

// linuxRelocatable lets the installed libraries find each other relative to
// the loading binary.
var linuxRelocatable = []string{
	"CMAKE_BUILD_WITH_INSTALL_RPATH=ON",
	"CMAKE_INSTALL_RPATH=$ORIGIN",
	"CMAKE_BUILD_RPATH_USE_ORIGIN=ON",
}

// Native builds and installs whisper.cpp for a target.
type Native struct {
	Workspace *Workspace
}

var _ Stage = (*Native)(nil)
var _ Cleaner = (*Native)(nil)

func (s *Native) Name() StageName { return StageNative }

// Invocation returns the CMake configuration used for the target.
func (s *Native) Invocation(params Params) cmake.Invocation {
	w := s.Workspace
	pid := target.PlatformID(params.Target)
	backend := params.Target.Backend

	b := cmake.New().
		Source(w.Layout.WhisperSource()).
		BuildDir(w.Layout.WhisperBuild(pid)).
		Generator(w.Config.Native.Generator).
		BuildType(w.Config.Native.BuildType).
		Prefix(w.Layout.WhisperInstall(pid)).
		DefineBool("BUILD_SHARED_LIBS", true).
		DefineBool("WHISPER_BUILD_EXAMPLES", false).
		DefineBool("WHISPER_BUILD_TESTS", false).
		DefineBool("WHISPER_BUILD_SERVER", false).
		DefineIf("GGML_METAL", "ON", backend == target.Metal).
		DefineIf("GGML_CUDA", "ON", backend == target.CUDA).
		DefineIf("GGML_VULKAN", "ON", backend == target.Vulkan).
		DefineIf("GGML_NATIVE", "OFF", params.CI).
		DefineIf("GGML_CPU_ALL_VARIANTS", "ON", params.CI).
		DefineIf("GGML_BACKEND_DL", "ON", params.CI)

	if params.Target.OS == target.Linux {
		b.Defines(linuxRelocatable...)
	}
	return b.Invocation()
}

func (s *Native) Run(ctx context.Context, params Params) error {
	w := s.Workspace
	pid := target.PlatformID(params.Target)
	logger := w.logger().With("stage", StageNative, "platform", pid)
	if params.DryRun {
		logger.Info("dry run: skipping native build")
		return nil
	}

	if err := s.ensureSource(ctx); err != nil {
		return err
	}

	install := w.Layout.WhisperInstall(pid)
	if err := os.RemoveAll(install); err != nil {
		return fmt.Errorf("clear %s: %w", install, err)
	}

	inv := s.Invocation(params)
	logger.Info("configuring whisper.cpp", "build_dir", inv.BuildDir, "backend", params.Target.Backend, "ci", params.CI)
	configured, err := inv.Configure(ctx, w.Runner, w.Tools.CMake)
	if err != nil {
		return err
	}
	configured.Parallel = w.Config.Native.Parallel
	built, err := configured.Build(ctx)
	if err != nil {
		return err
	}
	if err := built.Install(ctx, ""); err != nil {
		return err
	}
	logger.Info("installed whisper.cpp", "prefix", install)
	return nil
}

// ensureSource clones the pinned source once. An existing checkout is never updated.
func (s *Native) ensureSource(ctx context.Context) error {
	w := s.Workspace
	src := w.Layout.WhisperSource()
	if _, err := os.Stat(src); err == nil {
		w.logger().Debug("using existing whisper.cpp checkout", "path", src)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(w.Layout.SourceRoot(), 0o755); err != nil {
		return fmt.Errorf("create source root: %w", err)
	}
	native := w.Config.Native
	w.logger().Info("cloning whisper.cpp", "repository", native.Repository, "ref", native.Ref)
	return w.run(ctx, "", w.Tools.Git, "clone", "--depth", "1", "--branch", native.Ref, native.Repository, src)
}

// Clean removes the build root of every platform at once.
func (s *Native) Clean(_ context.Context, params Params) error {
	root := s.Workspace.Layout.BuildRoot()
	if params.DryRun {
		s.Workspace.logger().Info("dry run: skipping native clean", "path", root)
		return nil
	}
	s.Workspace.logger().Info("removing build root", "path", root)
	return os.RemoveAll(root)
}
