package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spader/whisperbuild/internal/target"
)

// stagingDirName is created next to the output archive while packing.
const stagingDirName = ".staging"

// Distribution packs the language package and the platform package into
// canonical tarballs.
type Distribution struct {
	Workspace *Workspace
}

var _ Stage = (*Distribution)(nil)

func (s *Distribution) Name() StageName { return StageDistribution }

// Outputs returns the canonical tarball paths for the target, language first.
func (s *Distribution) Outputs(params Params) (language, binding string) {
	w := s.Workspace
	dir := w.Layout.TarballDir(w.Config.Scope)
	return filepath.Join(dir, w.Config.LanguageTarball()),
		filepath.Join(dir, w.Config.BindingTarball(target.PlatformID(params.Target)))
}

func (s *Distribution) Run(ctx context.Context, params Params) error {
	w := s.Workspace
	pid := target.PlatformID(params.Target)
	logger := w.logger().With("stage", StageDistribution, "platform", pid)
	if params.DryRun {
		logger.Info("dry run: skipping distribution")
		return nil
	}

	language, binding := s.Outputs(params)
	if err := s.pack(ctx, w.Layout.JSInstall(), language, StageLanguagePackage); err != nil {
		return err
	}
	logger.Info("packed language package", "tarball", language)
	if err := s.pack(ctx, w.Layout.AddonStore(pid), binding, StageBinding); err != nil {
		return err
	}
	logger.Info("packed platform package", "tarball", binding)
	return nil
}

// pack runs npm pack in sourceDir and copies its single archive to outputPath.
func (s *Distribution) pack(ctx context.Context, sourceDir, outputPath string, producer StageName) error {
	w := s.Workspace
	if !isDir(sourceDir) {
		return &MissingInputError{Path: sourceDir, Producer: producer}
	}

	outputDir := filepath.Dir(outputPath)
	staging := filepath.Join(outputDir, stagingDirName)
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := w.run(ctx, sourceDir, w.Tools.NPM, "pack", "--pack-destination", staging); err != nil {
		return err
	}

	tarballs, err := listTarballs(staging)
	if err != nil {
		return err
	}
	if len(tarballs) != 1 {
		return &AmbiguousPackOutputError{Source: sourceDir, Staging: staging, Found: tarballs}
	}

	if err := os.Remove(outputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return copyFile(filepath.Join(staging, tarballs[0]), outputPath)
}

func listTarballs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".tgz") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
