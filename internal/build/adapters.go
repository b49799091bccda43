package build

import (
	"context"
	"log/slog"

	"github.com/spader/whisperbuild/internal/dylib"
	"github.com/spader/whisperbuild/internal/logging"
	"github.com/spader/whisperbuild/internal/setup"
	"github.com/spader/whisperbuild/internal/shell"
)

// Stage is one step of a pipeline. Implementations destructively clear their
// own output before writing, so re-running a failed stage is safe.
type Stage interface {
	Name() StageName
	Run(ctx context.Context, params Params) error
}

// Cleaner is implemented by stages that can remove their build state.
type Cleaner interface {
	Clean(ctx context.Context, params Params) error
}

// Workspace carries the injected dependencies every stage shares.
type Workspace struct {
	Layout  setup.Layout
	Config  setup.Config
	Tools   setup.Tools
	Runner  shell.Runner
	Aliaser dylib.Aliaser
	Logger  *slog.Logger
}

func (w *Workspace) logger() *slog.Logger {
	return logging.Ensure(w.Logger)
}

func (w *Workspace) run(ctx context.Context, dir string, args ...string) error {
	return w.Runner.Run(ctx, shell.Command{Args: args, Dir: dir})
}
