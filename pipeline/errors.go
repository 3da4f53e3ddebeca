package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrAllStagesFailed = errors.New("pipeline: every build strategy failed")
	ErrArtifactMissing = errors.New("pipeline: build finished but produced no artifact")
	ErrNoStrategies    = errors.New("pipeline: no build strategies configured")
	ErrUnknownPlatform = errors.New("pipeline: unknown platform")
)

// StageError names the stage that failed.
type StageError struct {
	Strategy string
	Stage    string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Strategy, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
