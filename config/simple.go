package simple

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spader/whisperbuild/internal/artifacts"
	"github.com/spader/whisperbuild/internal/build"
	"github.com/spader/whisperbuild/internal/ci"
	"github.com/spader/whisperbuild/internal/dylib"
	"github.com/spader/whisperbuild/internal/logging"
	"github.com/spader/whisperbuild/internal/setup"
	"github.com/spader/whisperbuild/internal/shell"
	"github.com/spader/whisperbuild/internal/smoke"
	"github.com/spader/whisperbuild/internal/target"
)

// Options are the invocation-wide settings every command shares.
type Options struct {
	Root       string
	ConfigPath string
	// Backend overrides backend detection when non-empty.
	Backend string
	CI      bool
	DryRun  bool
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Environment holds the dependencies wired for one invocation.
type Environment struct {
	Options  Options
	Config   setup.Config
	Layout   setup.Layout
	Tools    setup.Tools
	Runner   shell.Runner
	Host     shell.Host
	Resolver *target.Resolver
	Logger   *slog.Logger
}

// Open loads the configuration and wires the real executor and resolver.
func Open(opts Options, logger *slog.Logger) (*Environment, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}

	root := opts.Root
	if strings.TrimSpace(root) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve repository root: %w", err)
	}
	opts.Root = root

	path, required := setup.ConfigPath(root, opts.ConfigPath, opts.LookupEnv)
	cfg, err := setup.LoadConfig(path, required)
	if err != nil {
		return nil, err
	}

	resolver := target.NewResolver(logger.With("component", "target"))
	resolver.LookupEnv = opts.LookupEnv

	return &Environment{
		Options:  opts,
		Config:   cfg,
		Layout:   setup.NewLayout(root, cfg),
		Tools:    cfg.Tools.Resolve(root),
		Runner:   shell.NewExecutor(root, logger.With("component", "shell")),
		Host:     shell.UnixHost{},
		Resolver: resolver,
		Logger:   logger,
	}, nil
}

// InCI reports whether CI build flags apply: --ci or CI=true.
func (e *Environment) InCI() bool {
	if e.Options.CI {
		return true
	}
	value, ok := e.Options.LookupEnv("CI")
	return ok && (strings.EqualFold(value, "true") || value == "1")
}

// Target resolves the host target, honoring the backend override.
func (e *Environment) Target(ctx context.Context) (target.Target, error) {
	return e.Resolver.Resolve(ctx, target.Backend(strings.ToLower(strings.TrimSpace(e.Options.Backend))))
}

// Params resolves the target and builds pipeline parameters.
func (e *Environment) Params(ctx context.Context) (build.Params, error) {
	t, err := e.Target(ctx)
	if err != nil {
		return build.Params{}, err
	}
	return build.Params{Target: t, CI: e.InCI(), DryRun: e.Options.DryRun}, nil
}

func (e *Environment) workspace() *build.Workspace {
	return &build.Workspace{
		Layout:  e.Layout,
		Config:  e.Config,
		Tools:   e.Tools,
		Runner:  e.Runner,
		Aliaser: dylib.Aliaser{Logger: e.Logger.With("component", "dylib")},
		Logger:  e.Logger.With("service", "build"),
	}
}

// BuildService returns the stage pipeline bound to this environment.
func (e *Environment) BuildService() *build.BuildService {
	return build.NewBuildService(e.workspace())
}

// Build runs the named pipeline for the resolved target.
func Build(ctx context.Context, env *Environment, pipelineName string) (build.Report, error) {
	pipeline, ok := build.LookupPipeline(pipelineName)
	if !ok {
		return build.Report{}, fmt.Errorf("unknown pipeline %q", pipelineName)
	}
	params, err := env.Params(ctx)
	if err != nil {
		return build.Report{}, err
	}
	return env.BuildService().Run(ctx, pipeline, params)
}

// Clean removes the target's build state. With repo set, every generated
// tree of the repository is removed as well.
func Clean(ctx context.Context, env *Environment, repo bool) error {
	params, err := env.Params(ctx)
	if err != nil {
		return err
	}
	if params.DryRun {
		env.Logger.Info("dry run, skipping clean", "target", target.PlatformID(params.Target), "repo", repo)
		return nil
	}
	if err := env.BuildService().Clean(ctx, params); err != nil {
		return err
	}
	if !repo {
		return nil
	}
	removed, err := env.Layout.Clean()
	if err != nil {
		return err
	}
	env.Logger.Info("repository cleaned", "removed", len(removed))
	return nil
}

// Stage collects tarballs matching filter into the publish directory.
func Stage(env *Environment, filter string) ([]artifacts.Artifact, error) {
	f, err := artifacts.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	stager := &artifacts.Stager{
		Root:        env.Layout.Tarballs(),
		PackageName: env.Config.PackageName,
		Store:       &artifacts.LocalArtifactStore{BaseDir: env.Layout.Artifacts()},
		Logger:      env.Logger.With("service", "stage"),
	}
	return stager.Stage(f)
}

// Smoke installs the built tarballs into the consumer fixtures and runs
// their checks. model enables a createContext round trip when set.
func Smoke(ctx context.Context, env *Environment, model string) error {
	t, err := env.Target(ctx)
	if err != nil {
		return err
	}
	runner := &smoke.Runner{
		Layout: env.Layout,
		Config: env.Config,
		Tools:  env.Tools,
		Shell:  env.Runner,
		Logger: env.Logger.With("service", "smoke"),
		Model:  model,
	}
	return runner.Run(ctx, t)
}

func (e *Environment) provisioner() *ci.Provisioner {
	return &ci.Provisioner{
		Runner: e.Runner,
		Host:   e.Host,
		Retry: shell.RetryPolicy{
			Attempts:  e.Config.Retry.Attempts,
			BaseDelay: e.Config.Retry.BaseDelay,
		},
		Logger: e.Logger.With("service", "ci"),
	}
}

// CIInstall provisions a fresh Linux runner.
func CIInstall(ctx context.Context, env *Environment) error {
	return env.provisioner().InstallDependencies(ctx, env.Config.CI.AptPackages, env.Tools.NPM)
}

// CUDA returns the toolkit helper. Paths are printed to stdout.
func CUDA(env *Environment, stdout io.Writer) *ci.CUDA {
	return &ci.CUDA{
		Provisioner: env.provisioner(),
		GitHub:      ci.NewGitHub(env.Options.LookupEnv),
		Repository:  env.Config.CI.CUDARepository,
		Keyring:     env.Config.CI.CUDAKeyring,
		Lookup:      env.Options.LookupEnv,
		Stdout:      stdout,
		Logger:      env.Logger.With("service", "cuda"),
	}
}
