package setup

import (
	"log/slog"

	"github.com/spader/whisperbuild/internal/logging"
)

var packageLogger *slog.Logger

// SetLogger routes setup diagnostics to logger. Nil restores the process default.
func SetLogger(logger *slog.Logger) {
	packageLogger = logger
}

func getLogger() *slog.Logger {
	return logging.Ensure(packageLogger)
}
