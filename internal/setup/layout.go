package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Layout derives every generated and template path from the repository root.
type Layout struct {
	Root string
	// PlatformPackages is the directory holding one template per PlatformID,
	// relative to Root.
	PlatformPackages string
}

// NewLayout returns the layout for root using cfg's package directories.
func NewLayout(root string, cfg Config) Layout {
	return Layout{Root: root, PlatformPackages: cfg.PlatformPackages}
}

func (l Layout) join(parts ...string) string {
	return filepath.Join(append([]string{l.Root}, parts...)...)
}

func (l Layout) Cache() string         { return l.join(".cache") }
func (l Layout) SourceRoot() string    { return l.join(".cache", "source") }
func (l Layout) WhisperSource() string { return l.join(".cache", "source", "whisper.cpp") }
func (l Layout) BuildRoot() string     { return l.join(".cache", "build") }
func (l Layout) Store() string         { return l.join(".cache", "store") }
func (l Layout) JSInstall() string     { return l.join(".cache", "store", "js") }
func (l Layout) Tarballs() string      { return l.join(".cache", "store", "npm") }
func (l Layout) Artifacts() string     { return l.join("artifacts") }

// WhisperBuild is the CMake binary dir of the native library for a platform.
func (l Layout) WhisperBuild(platformID string) string {
	return l.join(".cache", "build", platformID, "whisper")
}

// AddonBuild is the CMake binary dir of the binding for a platform.
func (l Layout) AddonBuild(platformID string) string {
	return l.join(".cache", "build", platformID, "addon")
}

// WhisperInstall holds include/, lib/ and optionally bin/ of the native library.
func (l Layout) WhisperInstall(platformID string) string {
	return l.join(".cache", "store", "whisper.cpp", platformID)
}

// AddonStore is the packable tree of a platform package.
func (l Layout) AddonStore(platformID string) string {
	return l.join(".cache", "store", "addon", platformID)
}

// TarballDir is where canonical tarballs of a scope are written.
func (l Layout) TarballDir(scope string) string {
	return filepath.Join(l.Tarballs(), scope)
}

// PlatformTemplate is the checked-in package template of a platform.
func (l Layout) PlatformTemplate(platformID string) string {
	return l.join(l.PlatformPackages, platformID)
}

func (l Layout) RootDescriptor() string { return l.join("package.json") }
func (l Layout) RootTSConfig() string   { return l.join("tsconfig.json") }

// Fixture is a smoke-test consumer package under test/packages.
func (l Layout) Fixture(name string) string {
	return l.join("test", "packages", name)
}

// Generated lists every tree the build writes, including the bins/ and dist/
// output of each platform template.
func (l Layout) Generated() ([]string, error) {
	paths := []string{
		l.BuildRoot(),
		l.Store(),
		l.SourceRoot(),
		l.join("dist"),
		l.Artifacts(),
	}

	entries, err := os.ReadDir(l.join(l.PlatformPackages))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list platform packages: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := l.PlatformTemplate(entry.Name())
		paths = append(paths, filepath.Join(dir, "bins"), filepath.Join(dir, "dist"))
	}
	return paths, nil
}

// Verify checks that Root looks like the package repository.
func (l Layout) Verify() error {
	if _, err := os.Stat(l.RootDescriptor()); err != nil {
		return fmt.Errorf("%s is not a package root: %w", l.Root, err)
	}
	return nil
}

// Clean removes every generated tree. Missing paths are skipped.
func (l Layout) Clean() ([]string, error) {
	paths, err := l.Generated()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, path := range paths {
		if _, err := os.Lstat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, err
		}
		getLogger().Info("removing generated tree", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
