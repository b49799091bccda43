package build

import (
	"time"

	"github.com/spader/whisperbuild/internal/target"
)

// StageName identifies one pipeline stage.
type StageName string

const (
	StageNative          StageName = "native"
	StageBinding         StageName = "binding"
	StageLanguagePackage StageName = "language-package"
	StageDistribution    StageName = "distribution"
)

// StageStatus captures the lifecycle of a stage within one pipeline run.
type StageStatus string

// Supported stage statuses.
const (
	StatusNotStarted StageStatus = "not-started"
	StatusRunning    StageStatus = "running"
	StatusSucceeded  StageStatus = "succeeded"
	StatusFailed     StageStatus = "failed"
)

// Params are the per-invocation inputs shared by every stage.
type Params struct {
	Target target.Target
	// CI builds portable binaries: no host-specific tuning, every CPU variant,
	// and dynamically loaded backends.
	CI bool
	// DryRun turns every stage into a no-op before any process or write.
	DryRun bool
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	Name    string
	Aliases []string
	Stages  []StageName
}

var (
	NativePipeline          = Pipeline{Name: "native", Stages: []StageName{StageNative}}
	BindingPipeline         = Pipeline{Name: "binding", Aliases: []string{"addon"}, Stages: []StageName{StageNative, StageBinding}}
	LanguagePackagePipeline = Pipeline{Name: "language-package", Aliases: []string{"js"}, Stages: []StageName{StageLanguagePackage}}
	DistributionPipeline    = Pipeline{Name: "distribution", Aliases: []string{"pack"}, Stages: []StageName{StageDistribution}}
	AllPipeline             = Pipeline{
		Name:   "all",
		Stages: []StageName{StageNative, StageBinding, StageLanguagePackage, StageDistribution},
	}
)

// Pipelines returns every named pipeline.
func Pipelines() []Pipeline {
	return []Pipeline{NativePipeline, BindingPipeline, LanguagePackagePipeline, DistributionPipeline, AllPipeline}
}

// LookupPipeline finds a pipeline by name or alias.
func LookupPipeline(name string) (Pipeline, bool) {
	for _, p := range Pipelines() {
		if p.Name == name {
			return p, true
		}
		for _, alias := range p.Aliases {
			if alias == name {
				return p, true
			}
		}
	}
	return Pipeline{}, false
}

// StageResult records the outcome of one stage.
type StageResult struct {
	Stage    StageName
	Status   StageStatus
	Duration time.Duration
	Err      error
}

// Report captures the result of a pipeline run.
type Report struct {
	Pipeline string
	Target   target.Target
	DryRun   bool
	Stages   []StageResult
}

func newReport(p Pipeline, params Params) Report {
	r := Report{Pipeline: p.Name, Target: params.Target, DryRun: params.DryRun}
	for _, name := range p.Stages {
		r.Stages = append(r.Stages, StageResult{Stage: name, Status: StatusNotStarted})
	}
	return r
}

// Status returns the status of stage, or not-started if it is not part of the run.
func (r Report) Status(stage StageName) StageStatus {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s.Status
		}
	}
	return StatusNotStarted
}

// Succeeded reports whether every stage succeeded.
func (r Report) Succeeded() bool {
	for _, s := range r.Stages {
		if s.Status != StatusSucceeded {
			return false
		}
	}
	return true
}
