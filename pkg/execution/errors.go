package execution

import (
	"errors"
	"fmt"
)

// ErrStartFailed reports that an execution could not be started. Nothing is
// registered when Start fails.
var ErrStartFailed = errors.New("execution start failed")

// StartError carries the execution id that failed to start.
type StartError struct {
	ExecutionID string
	Err         error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start execution %s: %v", e.ExecutionID, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

func (e *StartError) Is(target error) bool {
	return target == ErrStartFailed
}
