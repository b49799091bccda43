// Package smoke installs the built tarballs into consumer fixtures and checks
// that the binding loads.
package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spader/whisperbuild/internal/descriptor"
	"github.com/spader/whisperbuild/internal/logging"
	"github.com/spader/whisperbuild/internal/setup"
	"github.com/spader/whisperbuild/internal/shell"
	"github.com/spader/whisperbuild/internal/target"
)

// Fixture is a consumer package under test/packages.
type Fixture struct {
	Name string
	// Compile runs tsc --project tsconfig.json before the check.
	Compile bool
	Script  string
	Marker  string
}

// DefaultFixtures are the JavaScript and TypeScript consumers.
var DefaultFixtures = []Fixture{
	{Name: "js", Script: "./check.mjs", Marker: "smoke-js-ok"},
	{Name: "ts", Compile: true, Script: "./dist/check.js", Marker: "smoke-ts-ok"},
}

// MissingTarballError means the distribution stage has not produced a tarball.
type MissingTarballError struct {
	Path string
}

func (e *MissingTarballError) Error() string {
	return fmt.Sprintf("failed to find %s; build first", e.Path)
}

// Runner drives the smoke check.
type Runner struct {
	Layout   setup.Layout
	Config   setup.Config
	Tools    setup.Tools
	Shell    shell.Runner
	Logger   *slog.Logger
	Fixtures []Fixture
	// Model, when set, is used for a createContext/free round trip.
	Model string
}

func (r *Runner) logger() *slog.Logger {
	return logging.Ensure(r.Logger)
}

// Tarballs returns the language and platform tarball paths for t.
func (r *Runner) Tarballs(t target.Target) (language, binding string) {
	dir := r.Layout.TarballDir(r.Config.Scope)
	pid := target.PlatformID(t)
	return filepath.Join(dir, r.Config.LanguageTarball()), filepath.Join(dir, r.Config.BindingTarball(pid))
}

// Run checks every fixture in order and stops at the first failure.
func (r *Runner) Run(ctx context.Context, t target.Target) error {
	language, binding := r.Tarballs(t)
	for _, path := range []string{language, binding} {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &MissingTarballError{Path: path}
			}
			return err
		}
	}

	fixtures := r.Fixtures
	if fixtures == nil {
		fixtures = DefaultFixtures
	}
	platformPackage := r.Config.Scope + "/" + r.Config.BindingPackage(target.PlatformID(t))
	for _, fx := range fixtures {
		if err := r.runFixture(ctx, fx, platformPackage, binding); err != nil {
			return fmt.Errorf("%s fixture: %w", fx.Name, err)
		}
	}
	return nil
}

func (r *Runner) runFixture(ctx context.Context, fx Fixture, platformPackage, tarball string) (err error) {
	dir := r.Layout.Fixture(fx.Name)
	logger := r.logger().With("fixture", fx.Name)
	descPath := filepath.Join(dir, descriptor.FileName)

	original, err := os.ReadFile(descPath)
	if err != nil {
		return fmt.Errorf("read fixture descriptor: %w", err)
	}
	doc, err := descriptor.Parse(original)
	if err != nil {
		return err
	}

	if err := resetFixture(dir); err != nil {
		return err
	}
	defer func() {
		resetErr := resetFixture(dir)
		restoreErr := os.WriteFile(descPath, original, 0o644)
		if err == nil {
			err = errors.Join(resetErr, restoreErr)
		}
	}()

	deps := []descriptor.Dependency{{Name: platformPackage, Version: "file:" + tarball}}
	if err := doc.SetOptionalDependencies(deps); err != nil {
		return err
	}
	if err := doc.Write(descPath); err != nil {
		return err
	}

	logger.Info("installing fixture")
	if err := r.Shell.Run(ctx, shell.Command{Args: []string{r.Tools.NPM, "install"}, Dir: dir}); err != nil {
		return err
	}

	installed := filepath.Join(append([]string{dir, "node_modules"}, strings.Split(platformPackage, "/")...)...)
	if _, err := os.Stat(filepath.Join(installed, descriptor.FileName)); err != nil {
		return fmt.Errorf("platform package %s was not installed: %w", platformPackage, err)
	}

	if fx.Compile {
		logger.Info("compiling fixture")
		if err := r.Shell.Run(ctx, shell.Command{Args: []string{r.Tools.TSC, "--project", "tsconfig.json"}, Dir: dir}); err != nil {
			return err
		}
	}

	if err := r.probe(ctx, dir); err != nil {
		return err
	}

	var out bytes.Buffer
	if err := r.Shell.Run(ctx, shell.Command{Args: []string{r.Tools.Node, fx.Script}, Dir: dir, Stdout: &out}); err != nil {
		return err
	}
	if !strings.Contains(out.String(), fx.Marker) {
		return fmt.Errorf("%s output does not contain %q", fx.Script, fx.Marker)
	}
	logger.Info("fixture passed", "marker", fx.Marker)
	return nil
}

// probe checks the binding surface from inside the fixture.
func (r *Runner) probe(ctx context.Context, dir string) error {
	args := []string{r.Tools.Node, "--input-type=module", "-e", surfaceProbe, r.Config.PackageName}
	if r.Model != "" {
		opts := ContextOptions{Model: r.Model}
		if err := opts.Validate(); err != nil {
			return err
		}
		encoded, err := json.Marshal(opts)
		if err != nil {
			return err
		}
		args = append(args, string(encoded))
	}

	var out bytes.Buffer
	if err := r.Shell.Run(ctx, shell.Command{Args: args, Dir: dir, Stdout: &out}); err != nil {
		return err
	}
	surface, err := parseSurface(out.Bytes())
	if err != nil {
		return err
	}
	r.logger().Debug("binding surface", "version", surface.Version, "exports", surface.Exports)
	return surface.Check(r.Model != "")
}

// parseSurface decodes the last JSON line of the probe output.
func parseSurface(output []byte) (Surface, error) {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var s Surface
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			return Surface{}, fmt.Errorf("decode surface probe: %w", err)
		}
		return s, nil
	}
	return Surface{}, errors.New("surface probe printed no report")
}

func resetFixture(dir string) error {
	for _, name := range []string{"node_modules", "package-lock.json", "dist"} {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}
