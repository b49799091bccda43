package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spader/whisperbuild/internal/cmake"
	"github.com/spader/whisperbuild/internal/descriptor"
	"github.com/spader/whisperbuild/internal/target"
)

// Binding compiles the Node addon against the native install and assembles
// the platform package tree.
type Binding struct {
	Workspace *Workspace
}

var _ Stage = (*Binding)(nil)
var _ Cleaner = (*Binding)(nil)

func (s *Binding) Name() StageName { return StageBinding }

// Invocation returns the addon CMake configuration. The bin directory is only
// passed when the native install produced one.
func (s *Binding) Invocation(params Params) cmake.Invocation {
	w := s.Workspace
	pid := target.PlatformID(params.Target)
	install := w.Layout.WhisperInstall(pid)
	bin := filepath.Join(install, "bin")

	return cmake.New().
		Source(w.Layout.Root).
		BuildDir(w.Layout.AddonBuild(pid)).
		Generator(w.Config.Native.Generator).
		BuildType(w.Config.Native.BuildType).
		Define("WHISPER_INCLUDE_DIR", filepath.Join(install, "include")).
		Define("WHISPER_LIB_DIR", filepath.Join(install, "lib")).
		DefineIf("WHISPER_BIN_DIR", bin, isDir(bin)).
		Define("WHISPER_TRIPLE", pid).
		Invocation()
}

func (s *Binding) Run(ctx context.Context, params Params) error {
	w := s.Workspace
	pid := target.PlatformID(params.Target)
	logger := w.logger().With("stage", StageBinding, "platform", pid)
	if params.DryRun {
		logger.Info("dry run: skipping binding build")
		return nil
	}

	install := w.Layout.WhisperInstall(pid)
	if !isDir(install) {
		return &MissingInputError{Path: install, Producer: StageNative}
	}

	configured, err := s.Invocation(params).Configure(ctx, w.Runner, w.Tools.CMake)
	if err != nil {
		return err
	}
	configured.Parallel = w.Config.Native.Parallel
	built, err := configured.Build(ctx)
	if err != nil {
		return err
	}

	store := w.Layout.AddonStore(pid)
	if err := os.RemoveAll(store); err != nil {
		return fmt.Errorf("clear %s: %w", store, err)
	}
	if err := os.MkdirAll(store, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", store, err)
	}

	bins := filepath.Join(store, "bins")
	if err := built.Install(ctx, bins); err != nil {
		return err
	}
	if _, err := w.Aliaser.Materialize(bins); err != nil {
		return fmt.Errorf("alias shared libraries: %w", err)
	}

	template := w.Layout.PlatformTemplate(pid)
	if err := stampDescriptor(w.Layout.RootDescriptor(), filepath.Join(template, descriptor.FileName), filepath.Join(store, descriptor.FileName)); err != nil {
		return err
	}

	if err := w.run(ctx, "", w.Tools.TSC,
		"--project", filepath.Join(template, "tsconfig.json"),
		"--outDir", filepath.Join(store, "dist"),
	); err != nil {
		return err
	}
	logger.Info("assembled platform package", "store", store)
	return nil
}

// Clean runs the addon build's own clean target. A never-configured build
// directory has nothing to clean.
func (s *Binding) Clean(ctx context.Context, params Params) error {
	w := s.Workspace
	dir := w.Layout.AddonBuild(target.PlatformID(params.Target))
	if params.DryRun {
		w.logger().Info("dry run: skipping binding clean", "path", dir)
		return nil
	}
	if !isDir(dir) {
		w.logger().Debug("no addon build to clean", "path", dir)
		return nil
	}
	return cmake.Clean(ctx, w.Runner, w.Tools.CMake, dir)
}

// stampDescriptor copies the template descriptor to dst with the root version.
func stampDescriptor(rootPath, templatePath, dst string) error {
	root, err := descriptor.Read(rootPath)
	if err != nil {
		return fmt.Errorf("read root descriptor: %w", err)
	}
	version, err := root.Version()
	if err != nil {
		return fmt.Errorf("%s: %w", rootPath, err)
	}
	doc, err := descriptor.Read(templatePath)
	if err != nil {
		return fmt.Errorf("read platform descriptor: %w", err)
	}
	if err := doc.SetVersion(version); err != nil {
		return err
	}
	return doc.Write(dst)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
