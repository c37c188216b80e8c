// workflow/instance.go
package workflow

import (
	"context"
	"sync"
	"time"
)

// Status is a workflow instance lifecycle state. The three terminal states
// are completed, failed and stopped; stopped marks a guard-stop so it is
// never confused with successful completion.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// Instance is one execution of a workflow definition. Only its own executor
// goroutine mutates it; readers take snapshots via View.
type Instance struct {
	mu sync.Mutex

	id          string
	name        string
	steps       []Step
	currentStep int
	status      Status
	data        map[string]interface{}
	context     map[string]interface{}
	results     map[string]interface{}
	startTime   time.Time
	endTime     *time.Time
	errMsg      string

	execCtx context.Context
	cancel  context.CancelFunc
}

// InstanceView is an immutable snapshot of an instance, safe to hand to
// callers and to serialize.
type InstanceView struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	CurrentStep int                    `json:"current_step"`
	StepCount   int                    `json:"step_count"`
	Status      Status                 `json:"status"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Results     map[string]interface{} `json:"results"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     *time.Time             `json:"end_time,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// IDString returns the instance id.
func (i *Instance) IDString() string { return i.id }

// Data returns the instance's trigger data.
func (i *Instance) Data() map[string]interface{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.data
}

// Context returns the instance's execution context.
func (i *Instance) Context() map[string]interface{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.context
}

// Results returns a copy of the per-step results recorded so far.
func (i *Instance) Results() map[string]interface{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]interface{}, len(i.results))
	for k, v := range i.results {
		out[k] = v
	}
	return out
}

// View snapshots the instance.
func (i *Instance) View() InstanceView {
	i.mu.Lock()
	defer i.mu.Unlock()

	results := make(map[string]interface{}, len(i.results))
	for k, v := range i.results {
		results[k] = v
	}
	view := InstanceView{
		ID:          i.id,
		Name:        i.name,
		CurrentStep: i.currentStep,
		StepCount:   len(i.steps),
		Status:      i.status,
		Data:        i.data,
		Context:     i.context,
		Results:     results,
		StartTime:   i.startTime,
		Error:       i.errMsg,
	}
	if i.endTime != nil {
		t := *i.endTime
		view.EndTime = &t
	}
	return view
}

func (i *Instance) setCurrentStep(index int) {
	i.mu.Lock()
	i.currentStep = index
	i.mu.Unlock()
}

func (i *Instance) recordResult(stepID string, result interface{}) {
	i.mu.Lock()
	i.results[stepID] = result
	i.mu.Unlock()
}

func (i *Instance) finish(status Status, errMsg string, now time.Time) {
	i.mu.Lock()
	i.status = status
	i.errMsg = errMsg
	i.endTime = &now
	i.mu.Unlock()
}
