// Package artifacts collects built tarballs into a flat publish directory.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spader/whisperbuild/internal/logging"
)

// Filter selects which tarballs are staged.
type Filter string

const (
	FilterAll      Filter = ""
	FilterLanguage Filter = "language"
	FilterBinding  Filter = "binding"
)

// ParseFilter accepts the filter names used on the command line.
func ParseFilter(value string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all":
		return FilterAll, nil
	case "js", "language":
		return FilterLanguage, nil
	case "addon", "binding":
		return FilterBinding, nil
	default:
		return FilterAll, fmt.Errorf("unknown artifact filter %q (supported: js, addon)", value)
	}
}

// Matches reports whether fileName passes the filter. The language package is
// matched by exact name, platform packages by name prefix and extension.
func (f Filter) Matches(fileName, packageName string) bool {
	if !strings.HasSuffix(fileName, TarballExt) {
		return false
	}
	switch f {
	case FilterLanguage:
		return Classify(fileName, packageName) == LanguageArtifact
	case FilterBinding:
		return Classify(fileName, packageName) == BindingArtifact
	default:
		return true
	}
}

// Stager copies tarballs from the tarball store into an ArtifactStore.
type Stager struct {
	// Root is searched recursively.
	Root        string
	PackageName string
	Store       ArtifactStore
	Logger      *slog.Logger
}

// Stage clears the publish set and fills it with every matching tarball.
// A missing root or no matches yields an empty, valid publish set.
func (s *Stager) Stage(filter Filter) ([]Artifact, error) {
	logger := logging.Ensure(s.Logger).With("component", "artifacts.stager", "filter", string(filter))

	if s.Store == nil {
		return nil, errors.New("artifact store is not configured")
	}
	if err := s.Store.Clear(); err != nil {
		return nil, fmt.Errorf("clear publish directory: %w", err)
	}

	paths, err := s.collect(filter)
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		rel, _ := filepath.Rel(s.Root, path)
		name := filepath.Base(path)
		artifact, err := s.Store.StoreArtifact(path, Classify(name, s.PackageName), map[string]any{"source": rel})
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", path, err)
		}
		logger.Info("staged artifact", "name", artifact.Name, "kind", string(artifact.Kind), "sha256", artifact.Checksum, "source", rel)
	}

	staged, err := s.Store.Seal()
	if err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if len(staged) == 0 {
		logger.Warn("no artifacts matched", "root", s.Root)
	}
	return staged, nil
}

func (s *Stager) collect(filter Filter) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.Root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() && path != s.Root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if filter.Matches(d.Name(), s.PackageName) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.Root, err)
	}
	sort.Strings(paths)
	return paths, nil
}
