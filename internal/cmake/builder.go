// Package cmake assembles and runs CMake configure, build and install phases.
package cmake

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spader/whisperbuild/internal/shell"
)

// DefaultBuildType is used when BuildType is never called.
const DefaultBuildType = "Release"

// Define is one -D cache entry.
type Define struct {
	Key   string
	Value string
}

func (d Define) String() string {
	return d.Key + "=" + d.Value
}

// Builder accumulates configuration. Setters overwrite; Define, DefineIf and
// Defines append in call order. Methods return the builder for chaining.
type Builder struct {
	source    string
	buildDir  string
	generator string
	buildType string
	prefix    string
	defines   []string
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{buildType: DefaultBuildType}
}

// Source sets the directory holding the top-level CMakeLists.txt.
func (b *Builder) Source(path string) *Builder {
	b.source = path
	return b
}

// BuildDir sets the binary directory.
func (b *Builder) BuildDir(path string) *Builder {
	b.buildDir = path
	return b
}

// Generator sets the -G generator. Empty leaves CMake's default.
func (b *Builder) Generator(name string) *Builder {
	b.generator = name
	return b
}

// BuildType sets CMAKE_BUILD_TYPE; empty restores Release.
func (b *Builder) BuildType(name string) *Builder {
	if name == "" {
		name = DefaultBuildType
	}
	b.buildType = name
	return b
}

// Prefix sets CMAKE_INSTALL_PREFIX.
func (b *Builder) Prefix(path string) *Builder {
	b.prefix = path
	return b
}

// Define appends KEY=VALUE.
func (b *Builder) Define(key, value string) *Builder {
	b.defines = append(b.defines, Define{Key: key, Value: value}.String())
	return b
}

// DefineBool appends KEY=ON or KEY=OFF.
func (b *Builder) DefineBool(key string, on bool) *Builder {
	return b.Define(key, onOff(on))
}

// DefineIf appends KEY=VALUE only when cond holds. The condition is the
// caller's already-evaluated predicate, so it is fixed at declaration time.
func (b *Builder) DefineIf(key, value string, cond bool) *Builder {
	if cond {
		b.Define(key, value)
	}
	return b
}

// Defines appends a literal batch of KEY=VALUE entries.
func (b *Builder) Defines(entries ...string) *Builder {
	b.defines = append(b.defines, entries...)
	return b
}

// Invocation freezes the builder into an immutable value.
func (b *Builder) Invocation() Invocation {
	return Invocation{
		Source:    b.source,
		BuildDir:  b.buildDir,
		Generator: b.generator,
		BuildType: b.buildType,
		Prefix:    b.prefix,
		Defines:   append([]string(nil), b.defines...),
	}
}

// Configure freezes the builder and runs the configure phase.
func (b *Builder) Configure(ctx context.Context, runner shell.Runner, tool string) (*Configured, error) {
	return b.Invocation().Configure(ctx, runner, tool)
}

// Invocation is a frozen configuration.
type Invocation struct {
	Source    string
	BuildDir  string
	Generator string
	BuildType string
	Prefix    string
	Defines   []string
}

// ConfigureArgs renders the configure command line, excluding the tool name.
func (inv Invocation) ConfigureArgs() []string {
	args := []string{"-S", inv.Source, "-B", inv.BuildDir}
	if inv.Generator != "" {
		args = append(args, "-G", inv.Generator)
	}
	args = append(args, "-DCMAKE_BUILD_TYPE="+inv.buildType())
	if inv.Prefix != "" {
		args = append(args, "-DCMAKE_INSTALL_PREFIX="+inv.Prefix)
	}
	for _, d := range inv.Defines {
		args = append(args, "-D"+d)
	}
	return args
}

func (inv Invocation) buildType() string {
	if inv.BuildType == "" {
		return DefaultBuildType
	}
	return inv.BuildType
}

func (inv Invocation) validate() error {
	if inv.Source == "" {
		return fmt.Errorf("cmake: source directory is required")
	}
	if inv.BuildDir == "" {
		return fmt.Errorf("cmake: build directory is required")
	}
	return nil
}

// Configure runs `cmake -S ... -B ...`. The returned handle is the only way to
// reach the build phase.
func (inv Invocation) Configure(ctx context.Context, runner shell.Runner, tool string) (*Configured, error) {
	if err := inv.validate(); err != nil {
		return nil, err
	}
	if tool == "" {
		tool = "cmake"
	}
	args := append([]string{tool}, inv.ConfigureArgs()...)
	if err := runner.Run(ctx, shell.Command{Args: args}); err != nil {
		return nil, &PhaseError{Phase: PhaseConfigure, Dir: inv.BuildDir, Err: err}
	}
	return &Configured{inv: inv, runner: runner, tool: tool}, nil
}

// Configured is a configured build directory.
type Configured struct {
	inv    Invocation
	runner shell.Runner
	tool   string
	// Parallel sets --parallel when positive.
	Parallel int
}

// Build runs `cmake --build`.
func (c *Configured) Build(ctx context.Context) (*Built, error) {
	args := []string{c.tool, "--build", c.inv.BuildDir, "--config", c.inv.buildType()}
	if c.Parallel > 0 {
		args = append(args, "--parallel", strconv.Itoa(c.Parallel))
	}
	if err := c.runner.Run(ctx, shell.Command{Args: args}); err != nil {
		return nil, &PhaseError{Phase: PhaseBuild, Dir: c.inv.BuildDir, Err: err}
	}
	return &Built{inv: c.inv, runner: c.runner, tool: c.tool}, nil
}

// Built is a compiled build directory ready to install.
type Built struct {
	inv    Invocation
	runner shell.Runner
	tool   string
}

// Install runs `cmake --install`. A non-empty prefix overrides the
// configured CMAKE_INSTALL_PREFIX for this install only.
func (b *Built) Install(ctx context.Context, prefix string) error {
	args := []string{b.tool, "--install", b.inv.BuildDir, "--config", b.inv.buildType()}
	if prefix != "" {
		args = append(args, "--prefix", prefix)
	}
	if err := b.runner.Run(ctx, shell.Command{Args: args}); err != nil {
		return &PhaseError{Phase: PhaseInstall, Dir: b.inv.BuildDir, Err: err}
	}
	return nil
}

// Clean runs the build directory's clean target.
func Clean(ctx context.Context, runner shell.Runner, tool, buildDir string) error {
	if tool == "" {
		tool = "cmake"
	}
	args := []string{tool, "--build", buildDir, "--target", "clean"}
	if err := runner.Run(ctx, shell.Command{Args: args}); err != nil {
		return &PhaseError{Phase: PhaseClean, Dir: buildDir, Err: err}
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
