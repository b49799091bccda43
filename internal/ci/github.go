// Package ci provisions CI runners and talks to GitHub Actions through its
// file-based command channels.
package ci

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	EnvFileVar    = "GITHUB_ENV"
	PathFileVar   = "GITHUB_PATH"
	OutputFileVar = "GITHUB_OUTPUT"
)

// LookupFunc reads an environment variable.
type LookupFunc func(string) (string, bool)

// GitHub writes workflow environment, path and output entries. Each write is
// skipped when the corresponding file variable is unset, so the same calls
// are safe outside Actions.
type GitHub struct {
	Lookup LookupFunc

	// exported tracks values set through Export so later Append calls
	// build on them.
	exported map[string]string
}

// NewGitHub returns a GitHub reading the process environment when lookup is nil.
func NewGitHub(lookup LookupFunc) *GitHub {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &GitHub{Lookup: lookup, exported: map[string]string{}}
}

func (g *GitHub) lookup(key string) (string, bool) {
	if v, ok := g.exported[key]; ok {
		return v, true
	}
	if g.Lookup == nil {
		return os.LookupEnv(key)
	}
	return g.Lookup(key)
}

func (g *GitHub) file(variable string) (string, bool) {
	path, ok := g.lookup(variable)
	return path, ok && path != ""
}

// Enabled reports whether the environment file channel is available.
func (g *GitHub) Enabled() bool {
	_, env := g.file(EnvFileVar)
	_, path := g.file(PathFileVar)
	return env && path
}

// Export sets key for subsequent workflow steps.
func (g *GitHub) Export(key, value string) error {
	path, ok := g.file(EnvFileVar)
	if !ok {
		return nil
	}
	if err := appendFile(path, keyValue(key, value)); err != nil {
		return fmt.Errorf("export %s: %w", key, err)
	}
	if g.exported == nil {
		g.exported = map[string]string{}
	}
	g.exported[key] = value
	return nil
}

// Append exports key with value prepended to its current value.
func (g *GitHub) Append(key, value, separator string) error {
	if separator == "" {
		separator = ":"
	}
	combined := value
	if existing, ok := g.lookup(key); ok && existing != "" {
		combined = value + separator + existing
	}
	return g.Export(key, combined)
}

// Path prepends dir to PATH for subsequent steps.
func (g *GitHub) Path(dir string) error {
	path, ok := g.file(PathFileVar)
	if !ok {
		return nil
	}
	if err := appendFile(path, dir+"\n"); err != nil {
		return fmt.Errorf("add path %s: %w", dir, err)
	}
	return nil
}

// Output sets a step output.
func (g *GitHub) Output(key, value string) error {
	path, ok := g.file(OutputFileVar)
	if !ok {
		return nil
	}
	if err := appendFile(path, keyValue(key, value)); err != nil {
		return fmt.Errorf("set output %s: %w", key, err)
	}
	return nil
}

// keyValue renders the heredoc form, which is valid for any value.
func keyValue(key, value string) string {
	delimiter := "ghadelimiter_" + uuid.NewString()
	for strings.Contains(value, delimiter) {
		delimiter = "ghadelimiter_" + uuid.NewString()
	}
	return key + "<<" + delimiter + "\n" + value + "\n" + delimiter + "\n"
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
