package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spader/whisperbuild/internal/descriptor"
)

// LanguagePackage stages the platform-independent package.
type LanguagePackage struct {
	Workspace *Workspace
}

var _ Stage = (*LanguagePackage)(nil)

func (s *LanguagePackage) Name() StageName { return StageLanguagePackage }

func (s *LanguagePackage) Run(ctx context.Context, params Params) error {
	w := s.Workspace
	logger := w.logger().With("stage", StageLanguagePackage)
	if params.DryRun {
		logger.Info("dry run: skipping language package")
		return nil
	}

	root, err := descriptor.Read(w.Layout.RootDescriptor())
	if err != nil {
		return fmt.Errorf("read root descriptor: %w", err)
	}
	version, err := root.Version()
	if err != nil {
		return err
	}

	js := w.Layout.JSInstall()
	if err := os.RemoveAll(js); err != nil {
		return fmt.Errorf("clear %s: %w", js, err)
	}
	dist := filepath.Join(js, "dist")
	if err := os.MkdirAll(dist, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dist, err)
	}

	staged := root.Clone()
	if err := staged.PinOptionalDependencies(version); err != nil {
		return err
	}
	if err := staged.Write(filepath.Join(js, descriptor.FileName)); err != nil {
		return err
	}
	logger.Info("staged language package descriptor", "version", version)

	return w.run(ctx, "", w.Tools.TSC, "--project", w.Layout.RootTSConfig(), "--outDir", dist)
}
