package orchestrator

import (
	"fmt"

	"github.com/ayurscan/backend/internal/model/chat"
)

// StageError reports which step of the flow failed.
type StageError struct {
	Stage chat.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage chat.Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
