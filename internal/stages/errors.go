package stages

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStage matches any UnknownStageError.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrNoTransitions is returned for registered stages that have no outgoing edges.
	ErrNoTransitions = errors.New("stage has no transitions")
	// ErrInvalidTable reports a stage table that failed validation.
	ErrInvalidTable = errors.New("invalid stage table")
)

// UnknownStageError reports a stage string the registry does not declare.
type UnknownStageError struct {
	Stage Stage
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage %q", string(e.Stage))
}

func (e *UnknownStageError) Is(target error) bool {
	return target == ErrUnknownStage
}
