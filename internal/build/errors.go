package build

import (
	"fmt"
	"strings"
)

// StageError reports which stage aborted the pipeline.
type StageError struct {
	Stage StageName
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AmbiguousPackOutputError means the packaging tool did not produce exactly
// one archive. Nothing is copied when it is returned.
type AmbiguousPackOutputError struct {
	Source  string
	Staging string
	Found   []string
}

func (e *AmbiguousPackOutputError) Error() string {
	found := "none"
	if len(e.Found) > 0 {
		found = strings.Join(e.Found, ", ")
	}
	return fmt.Sprintf("expected exactly one tarball from npm pack of %s in %s, found %d (%s)",
		e.Source, e.Staging, len(e.Found), found)
}

// MissingInputError means a stage ran before the stage that feeds it.
type MissingInputError struct {
	Path     string
	Producer StageName
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("%s does not exist; run the %s stage first", e.Path, e.Producer)
}
