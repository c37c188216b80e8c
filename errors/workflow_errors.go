// errors/workflow_errors.go
package errors

import "errors"

var (
	ErrWorkflowNotFound      = errors.New("workflow not found")
	ErrWorkflowAlreadyExists = errors.New("workflow already registered")
	ErrWorkflowNotRunning    = errors.New("workflow instance not running")
	ErrInstanceNotFound      = errors.New("workflow instance not found")
	ErrInvalidWorkflowData   = errors.New("invalid workflow definition")
	ErrUnknownStepType       = errors.New("unknown step type")
	ErrStepTimeout           = errors.New("workflow step timed out")
	ErrWorkflowCancelled     = errors.New("workflow cancelled")
)
