// Package dylib materializes unversioned and major-versioned aliases for
// installed shared libraries.
package dylib

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/spader/whisperbuild/internal/logging"
)

// versioned matches lib<name>.<major>.<minor>.<patch>.<ext>.
var versioned = regexp.MustCompile(`^(lib.+)\.(\d+)\.(\d+)\.(\d+)\.([A-Za-z]+)$`)

// Alias records the copies produced for one versioned library.
type Alias struct {
	Source string
	Major  string
	Bare   string
}

// Aliaser copies versioned shared libraries to the names the loader searches.
type Aliaser struct {
	Logger *slog.Logger
}

// Names returns the major-versioned and bare alias names for file, or false
// when file is not a fully versioned library name.
func Names(file string) (major, bare string, ok bool) {
	m := versioned.FindStringSubmatch(file)
	if m == nil {
		return "", "", false
	}
	name, maj, ext := m[1], m[2], m[5]
	return fmt.Sprintf("%s.%s.%s", name, maj, ext), fmt.Sprintf("%s.%s", name, ext), true
}

// Materialize writes aliases for every versioned library directly inside
// dir. A missing dir is not an error. Running it twice yields the same tree.
func (a Aliaser) Materialize(dir string) ([]Alias, error) {
	logger := logging.Ensure(a.Logger)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no binary directory to alias", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var aliases []Alias
	for _, name := range names {
		major, bare, ok := Names(name)
		if !ok {
			continue
		}
		src := filepath.Join(dir, name)
		for _, alias := range []string{major, bare} {
			if err := replaceWithCopy(src, filepath.Join(dir, alias)); err != nil {
				return aliases, err
			}
		}
		logger.Info("aliased shared library", "source", name, "major", major, "bare", bare)
		aliases = append(aliases, Alias{Source: name, Major: major, Bare: bare})
	}
	return aliases, nil
}

// replaceWithCopy removes dst (file or symlink) and writes a full copy of src.
func replaceWithCopy(src, dst string) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale alias %s: %w", dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
