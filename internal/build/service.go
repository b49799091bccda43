package build

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spader/whisperbuild/internal/logging"
	"github.com/spader/whisperbuild/internal/target"
)

// BuildService runs pipelines of stages for a resolved target.
type BuildService struct {
	Logger *slog.Logger
	Stages map[StageName]Stage
}

// NewBuildService wires the four stages around a shared workspace.
func NewBuildService(w *Workspace) *BuildService {
	stages := []Stage{
		&Native{Workspace: w},
		&Binding{Workspace: w},
		&LanguagePackage{Workspace: w},
		&Distribution{Workspace: w},
	}
	s := &BuildService{Logger: w.Logger, Stages: map[StageName]Stage{}}
	for _, stage := range stages {
		s.Stages[stage.Name()] = stage
	}
	return s
}

func (s *BuildService) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}

// Run executes the pipeline's stages in order. The first failure aborts the
// run; later stages stay not-started in the report.
func (s *BuildService) Run(ctx context.Context, pipeline Pipeline, params Params) (Report, error) {
	report := newReport(pipeline, params)
	if err := params.Target.Validate(); err != nil {
		return report, err
	}
	for _, name := range pipeline.Stages {
		if _, ok := s.Stages[name]; !ok {
			return report, fmt.Errorf("pipeline %s: stage %s is not configured", pipeline.Name, name)
		}
	}

	logger := s.logger().With(
		"pipeline", pipeline.Name,
		"platform", target.PlatformID(params.Target),
	)
	logger.Info("starting pipeline", "stages", len(pipeline.Stages), "ci", params.CI, "dry_run", params.DryRun)

	for i, name := range pipeline.Stages {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := &report.Stages[i]
		result.Status = StatusRunning
		started := time.Now()

		err := s.Stages[name].Run(ctx, params)
		result.Duration = time.Since(started)
		if err != nil {
			result.Status = StatusFailed
			result.Err = err
			logger.Error("stage failed", "stage", name, "error", err)
			return report, &StageError{Stage: name, Err: err}
		}
		result.Status = StatusSucceeded
		logger.Info("stage completed", "stage", name, "duration", result.Duration.Round(time.Millisecond))
	}

	logger.Info("pipeline completed")
	return report, nil
}

// Clean runs the binding clean, then removes the native build root.
func (s *BuildService) Clean(ctx context.Context, params Params) error {
	for _, name := range []StageName{StageBinding, StageNative} {
		stage, ok := s.Stages[name]
		if !ok {
			continue
		}
		cleaner, ok := stage.(Cleaner)
		if !ok {
			continue
		}
		if err := cleaner.Clean(ctx, params); err != nil {
			return &StageError{Stage: name, Err: err}
		}
	}
	return nil
}
