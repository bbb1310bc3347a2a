package model

import (
	"errors"
	"fmt"
)

// ConfigurationError is a defect in the workflow definition or its inputs.
// It fails the run regardless of onFailure or continueOnError.
type ConfigurationError struct {
	StepId  string
	Message string
}

func (e ConfigurationError) Error() string {
	if e.StepId != "" {
		return fmt.Sprintf("configuration error stepId=%s, %s", e.StepId, e.Message)
	}
	return fmt.Sprintf("configuration error %s", e.Message)
}

func NewConfigurationError(stepId string, format string, args ...any) ConfigurationError {
	return ConfigurationError{StepId: stepId, Message: fmt.Sprintf(format, args...)}
}

func IsConfigurationError(err error) bool {
	var cfgErr ConfigurationError
	return errors.As(err, &cfgErr)
}

// StepExecutionError is a runtime failure of one step. It is recorded as a
// failure result rather than returned to callers.
type StepExecutionError struct {
	StepId string
	Cause  error
}

func (e StepExecutionError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.StepId, e.Cause)
}

func (e StepExecutionError) Unwrap() error {
	return e.Cause
}

type TokenExpiredError struct {
	RunId  string
	StepId string
}

func (e TokenExpiredError) Error() string {
	return fmt.Sprintf("resume token expired for runId=%s, stepId=%s", e.RunId, e.StepId)
}

type TokenInvalidError struct {
	Message string
}

func (e TokenInvalidError) Error() string {
	return fmt.Sprintf("invalid resume token: %s", e.Message)
}

type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Id)
}

type InvalidTransitionError struct {
	RunId string
	From  RunStatus
	To    RunStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("runId=%s, invalid transition from %s to %s", e.RunId, e.From, e.To)
}
