package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	config "github.com/spader/whisperbuild/config"
	"github.com/spader/whisperbuild/internal/build"
	"github.com/spader/whisperbuild/internal/logging"
	"github.com/spader/whisperbuild/internal/setup"
	"github.com/spader/whisperbuild/internal/shell"
	"github.com/spader/whisperbuild/internal/target"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.New(logging.DetectMode(os.LookupEnv), os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		var cmdErr *shell.CommandError
		if errors.As(err, &cmdErr) {
			logger.Error("external command failed",
				"args", strings.Join(cmdErr.Args, " "),
				"cwd", cmdErr.Dir,
				"exit_code", cmdErr.ExitCode,
			)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(exitCode(err))
	}
}

// exitCode propagates the exit status of a failed external command.
func exitCode(err error) int {
	var cmdErr *shell.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return 1
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	setup.SetLogger(logger.With("component", "setup"))

	var (
		logLevel = defaultLogLevel
		opts     config.Options
	)

	root := &cobra.Command{
		Use:           "whisperbuild",
		Short:         "Build, package and verify the node-whisper-cpp native binding",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	flags.StringVar(&opts.Backend, "backend", "", "Override the detected backend (metal, cpu, cuda, vulkan)")
	flags.BoolVar(&opts.CI, "ci", false, "Build portable binaries as on CI (also enabled by CI=true)")
	flags.BoolVar(&opts.DryRun, "dry-run", false, "Resolve the target and plan without running anything")
	flags.StringVar(&opts.Root, "root", "", "Repository root (default: current directory)")
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to a YAML config file (default: <root>/"+setup.DefaultConfigFile+")")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	for _, p := range build.Pipelines() {
		root.AddCommand(newPipelineCommand(logger, &opts, p))
	}
	root.AddCommand(
		newCleanCommand(logger, &opts),
		newStageCommand(logger, &opts),
		newSmokeCommand(logger, &opts),
		newTargetCommand(logger, &opts),
		newCICommand(logger, &opts),
		newCUDACommand(logger, &opts),
	)
	return root
}

func openEnvironment(logger *slog.Logger, opts *config.Options) (*config.Environment, error) {
	env, err := config.Open(*opts, logger)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return nil, err
	}
	return env, nil
}

func verifySetup(logger *slog.Logger, env *config.Environment) error {
	logger = logger.With("action", "verify_setup")
	if err := env.Layout.Verify(); err != nil {
		logger.Error("repository verification failed", "error", err)
		logger.Info("run from the package root or pass --root")
		return err
	}
	logger.Debug("repository verification succeeded", "root", env.Layout.Root)
	return nil
}

func newPipelineCommand(logger *slog.Logger, opts *config.Options, pipeline build.Pipeline) *cobra.Command {
	stages := make([]string, 0, len(pipeline.Stages))
	for _, s := range pipeline.Stages {
		stages = append(stages, string(s))
	}

	return &cobra.Command{
		Use:     pipeline.Name,
		Aliases: pipeline.Aliases,
		Args:    cobra.NoArgs,
		Short:   "Run the " + strings.Join(stages, ", ") + " stage(s) for the host target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", pipeline.Name)

			env, err := openEnvironment(cmdLogger, opts)
			if err != nil {
				return err
			}
			if err := verifySetup(cmdLogger, env); err != nil {
				return err
			}

			report, err := config.Build(cmd.Context(), env, pipeline.Name)
			printReport(cmd, report)
			if err != nil {
				return err
			}
			return nil
		},
	}
}

func printReport(cmd *cobra.Command, report build.Report) {
	if len(report.Stages) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	for _, result := range report.Stages {
		fmt.Fprintf(out, "%s\t%s\t%s\n", result.Stage, result.Status, result.Duration.Round(time.Millisecond))
	}
}

func newCleanCommand(logger *slog.Logger, opts *config.Options) *cobra.Command {
	var repo bool

	cmd := &cobra.Command{
		Use:   "clean",
		Args:  cobra.NoArgs,
		Short: "Remove build state for the host target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "clean", "repo", repo)

			env, err := openEnvironment(cmdLogger, opts)
			if err != nil {
				return err
			}
			if err := verifySetup(cmdLogger, env); err != nil {
				return err
			}
			if err := config.Clean(cmd.Context(), env, repo); err != nil {
				cmdLogger.Error("clean failed", "error", err)
				return err
			}
			cmdLogger.Info("clean completed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&repo, "repo", false, "Also remove every generated tree in the repository")
	return cmd
}

func newStageCommand(logger *slog.Logger, opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:       "stage [js|addon]",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"js", "addon"},
		Short:     "Copy built tarballs into artifacts/ (default: all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = strings.TrimSpace(args[0])
			}
			cmdLogger := logger.With("command", "stage", "filter", filter)

			env, err := openEnvironment(cmdLogger, opts)
			if err != nil {
				return err
			}
			staged, err := config.Stage(env, filter)
			if err != nil {
				cmdLogger.Error("staging failed", "error", err)
				return err
			}
			for _, a := range staged {
				fmt.Fprintf(cmd.OutOrStdout(), "staged %s\n", a.Name)
			}
			cmdLogger.Info("staged artifacts", "count", len(staged))
			return nil
		},
	}
}

func newSmokeCommand(logger *slog.Logger, opts *config.Options) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "smoke",
		Args:  cobra.NoArgs,
		Short: "Install the built tarballs into the test fixtures and run their checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "smoke")

			env, err := openEnvironment(cmdLogger, opts)
			if err != nil {
				return err
			}
			if err := verifySetup(cmdLogger, env); err != nil {
				return err
			}
			if err := config.Smoke(cmd.Context(), env, model); err != nil {
				cmdLogger.Error("smoke test failed", "error", err)
				return err
			}
			cmdLogger.Info("smoke test passed")
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model file for a createContext/free round trip")
	return cmd
}

func newTargetCommand(logger *slog.Logger, opts *config.Options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "target",
		Args:  cobra.NoArgs,
		Short: "Print the resolved build target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "target")

			env, err := openEnvironment(cmdLogger, opts)
			if err != nil {
				return err
			}
			t, err := env.Target(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !asJSON {
				fmt.Fprintln(out, target.PlatformID(t))
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]string{
				"os":         string(t.OS),
				"arch":       string(t.Arch),
				"backend":    string(t.Backend),
				"libc":       string(t.Libc),
				"platformId": target.PlatformID(t),
				"package":    target.PackageName(t),
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full target as JSON")
	return cmd
}

func newCICommand(logger *slog.Logger, opts *config.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ci",
		Short: "Provision CI runners",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Args:  cobra.NoArgs,
		Short: "Install Linux build dependencies and node modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "ci.install")

			env, err := openEnvironment(cmdLogger, opts)
			if err != nil {
				return err
			}
			if err := config.CIInstall(cmd.Context(), env); err != nil {
				cmdLogger.Error("install failed", "error", err)
				return err
			}
			cmdLogger.Info("dependencies installed")
			return nil
		},
	})
	return cmd
}

func newCUDACommand(logger *slog.Logger, opts *config.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cuda",
		Short: "Manage the CUDA toolkit on CI runners",
	}

	run := func(name, short string, action func(cmd *cobra.Command, env *config.Environment, version string) error) *cobra.Command {
		return &cobra.Command{
			Use:   name + " <major.minor.patch>",
			Args:  cobra.ExactArgs(1),
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				version := strings.TrimSpace(args[0])
				cmdLogger := logger.With("command", "cuda."+name, "cuda", version)

				env, err := openEnvironment(cmdLogger, opts)
				if err != nil {
					return err
				}
				if err := action(cmd, env, version); err != nil {
					cmdLogger.Error("cuda command failed", "error", err)
					return err
				}
				return nil
			},
		}
	}

	cmd.AddCommand(
		run("paths", "Resolve canonical CUDA paths and set step outputs", func(cmd *cobra.Command, env *config.Environment, version string) error {
			_, err := config.CUDA(env, cmd.OutOrStdout()).EmitPaths(cmd.Context(), version)
			return err
		}),
		run("install", "Install the CUDA toolkit through apt", func(cmd *cobra.Command, env *config.Environment, version string) error {
			_, err := config.CUDA(env, cmd.OutOrStdout()).Install(cmd.Context(), version)
			return err
		}),
		run("normalize-cache-permissions", "Give a restored toolkit cache back to $USER", func(cmd *cobra.Command, env *config.Environment, version string) error {
			return config.CUDA(env, cmd.OutOrStdout()).NormalizeCachePermissions(cmd.Context(), version)
		}),
	)
	return cmd
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}
