// workflow/engine.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	engine_errors "github.com/aria7-op/adcg-engine/errors"
	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
)

// Trigger decides which events spawn a workflow. A trigger with no event
// type, no source and no custom predicate matches every event; that
// broadcast behavior is kept from the original design but logged loudly at
// registration so it is never an accident.
type Trigger struct {
	EventType   string
	EventSource string
	Custom      func(model.Event) bool
}

func (t Trigger) empty() bool {
	return t.EventType == "" && t.EventSource == "" && t.Custom == nil
}

// Matches applies the trigger conditions; all present conditions must pass.
func (t Trigger) Matches(event model.Event) bool {
	if t.EventType != "" && t.EventType != event.Type {
		return false
	}
	if t.EventSource != "" && t.EventSource != event.Source {
		return false
	}
	if t.Custom != nil && !t.Custom(event) {
		return false
	}
	return true
}

// Definition is a named, reusable sequence of steps plus its trigger.
type Definition struct {
	Name    string
	Steps   []Step
	Trigger Trigger
}

// Engine is the workflow registry and executor. It registers itself as a
// bus hook so emitted events are evaluated against every definition's
// trigger.
type Engine struct {
	rt          *Runtime
	stepTimeout time.Duration

	mu          sync.RWMutex
	definitions map[string]Definition
	defOrder    []string
	running     map[string]*Instance
	archive     *lru.Cache[string, *Instance]
}

// EngineOption configures a workflow Engine.
type EngineOption func(*Engine)

// WithStepTimeout bounds the execution time of each step. Zero disables
// the per-step timeout.
func WithStepTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.stepTimeout = d }
}

// NewEngine creates a workflow engine. archiveSize bounds how many
// terminal instances are retained (LRU by completion recency).
func NewEngine(rt *Runtime, archiveSize int, opts ...EngineOption) *Engine {
	if archiveSize <= 0 {
		archiveSize = 512
	}
	archive, _ := lru.New[string, *Instance](archiveSize)
	e := &Engine{
		rt:          rt,
		stepTimeout: 30 * time.Second,
		definitions: make(map[string]Definition),
		running:     make(map[string]*Instance),
		archive:     archive,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterWorkflow adds a definition to the registry.
func (e *Engine) RegisterWorkflow(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name is required", engine_errors.ErrInvalidWorkflowData)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", engine_errors.ErrInvalidWorkflowData)
	}
	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID() == "" {
			return fmt.Errorf("%w: every step needs an id", engine_errors.ErrInvalidWorkflowData)
		}
		if seen[step.ID()] {
			return fmt.Errorf("%w: duplicate step id %q", engine_errors.ErrInvalidWorkflowData, step.ID())
		}
		seen[step.ID()] = true
	}

	if def.Trigger.empty() {
		logger.Warn("Workflow registered without trigger conditions; it will match every event",
			zap.String("workflow", def.Name))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.definitions[def.Name]; exists {
		return engine_errors.ErrWorkflowAlreadyExists
	}
	e.definitions[def.Name] = def
	e.defOrder = append(e.defOrder, def.Name)
	return nil
}

// UnregisterWorkflow removes a definition. Instances already spawned from
// it are unaffected.
func (e *Engine) UnregisterWorkflow(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.definitions[name]; !exists {
		return
	}
	delete(e.definitions, name)
	for i, n := range e.defOrder {
		if n == name {
			e.defOrder = append(e.defOrder[:i], e.defOrder[i+1:]...)
			break
		}
	}
}

// OnEvent evaluates every registered trigger against the event and spawns
// matching workflows. Instances execute asynchronously and independently;
// their relative interleaving is unspecified.
func (e *Engine) OnEvent(event model.Event) {
	e.mu.RLock()
	var matched []Definition
	for _, name := range e.defOrder {
		def := e.definitions[name]
		if def.Trigger.Matches(event) {
			matched = append(matched, def)
		}
	}
	e.mu.RUnlock()

	for _, def := range matched {
		inst := e.spawn(def, event.Data, map[string]interface{}{
			"triggerEvent":  event.ID,
			"triggerType":   event.Type,
			"triggerSource": event.Source,
		})
		go e.run(inst)
	}
}

// StartWorkflow explicitly starts an instance of a registered definition.
func (e *Engine) StartWorkflow(name string, data map[string]interface{}) (string, error) {
	e.mu.RLock()
	def, ok := e.definitions[name]
	e.mu.RUnlock()
	if !ok {
		return "", engine_errors.ErrWorkflowNotFound
	}

	inst := e.spawn(def, data, map[string]interface{}{"trigger": "manual"})
	go e.run(inst)
	return inst.id, nil
}

func (e *Engine) spawn(def Definition, data, execContext map[string]interface{}) *Instance {
	if data == nil {
		data = map[string]interface{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		id:        uuid.NewString(),
		name:      def.Name,
		steps:     def.Steps,
		status:    StatusRunning,
		data:      data,
		context:   execContext,
		results:   make(map[string]interface{}),
		startTime: time.Now(),
		execCtx:   ctx,
		cancel:    cancel,
	}

	e.mu.Lock()
	e.running[inst.id] = inst
	e.mu.Unlock()
	return inst
}

// run executes the instance's steps strictly sequentially. A step error
// ends the instance as failed; a guard predicate returning false ends it
// as stopped; otherwise it completes.
func (e *Engine) run(inst *Instance) {
	execCtx := inst.execCtx

	e.rt.Bus.Emit(context.Background(), model.EventWorkflowStarted, map[string]interface{}{
		"workflowId": inst.id,
		"name":       inst.name,
	}, "workflow-engine")

	for index, step := range inst.steps {
		if err := execCtx.Err(); err != nil {
			e.finish(inst, StatusFailed, engine_errors.ErrWorkflowCancelled.Error())
			return
		}

		inst.setCurrentStep(index)

		result, err := e.executeStep(execCtx, step, inst)
		if err != nil {
			logger.Error("Workflow step failed",
				zap.String("workflowId", inst.id),
				zap.String("workflow", inst.name),
				zap.String("stepId", step.ID()),
				zap.Error(err))
			e.finish(inst, StatusFailed, err.Error())
			return
		}

		inst.recordResult(step.ID(), result)

		if !step.Guard(result) {
			logger.Info("Workflow stopped by step guard",
				zap.String("workflowId", inst.id),
				zap.String("workflow", inst.name),
				zap.String("stepId", step.ID()))
			e.finish(inst, StatusStopped, "")
			return
		}

		e.rt.Bus.Emit(context.Background(), model.EventWorkflowStep, map[string]interface{}{
			"workflowId": inst.id,
			"stepId":     step.ID(),
			"result":     result,
		}, "workflow-engine")
	}

	e.finish(inst, StatusCompleted, "")
}

func (e *Engine) executeStep(ctx context.Context, step Step, inst *Instance) (interface{}, error) {
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}
	result, err := step.Execute(ctx, e.rt, inst)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: step %s", engine_errors.ErrStepTimeout, step.ID())
	}
	return result, err
}

func (e *Engine) finish(inst *Instance, status Status, errMsg string) {
	inst.finish(status, errMsg, time.Now())

	e.mu.Lock()
	delete(e.running, inst.id)
	e.archive.Add(inst.id, inst)
	e.mu.Unlock()

	view := inst.View()
	payload := map[string]interface{}{
		"workflowId": inst.id,
		"name":       inst.name,
		"status":     string(status),
		"results":    view.Results,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}

	eventType := model.EventWorkflowCompleted
	switch status {
	case StatusFailed:
		eventType = model.EventWorkflowFailed
	case StatusStopped:
		eventType = model.EventWorkflowStopped
	}
	e.rt.Bus.Emit(context.Background(), eventType, payload, "workflow-engine")
}

// Cancel aborts a running instance. The executor notices before the next
// step; an in-flight api_call is interrupted through its context.
func (e *Engine) Cancel(instanceID string) error {
	e.mu.RLock()
	inst, ok := e.running[instanceID]
	e.mu.RUnlock()
	if !ok {
		return engine_errors.ErrWorkflowNotRunning
	}
	inst.cancel()
	return nil
}

// GetWorkflows returns snapshots of all running and retained terminal
// instances.
func (e *Engine) GetWorkflows() []InstanceView {
	e.mu.RLock()
	running := make([]*Instance, 0, len(e.running))
	for _, inst := range e.running {
		running = append(running, inst)
	}
	archived := e.archive.Values()
	e.mu.RUnlock()

	out := make([]InstanceView, 0, len(running)+len(archived))
	for _, inst := range running {
		out = append(out, inst.View())
	}
	for _, inst := range archived {
		out = append(out, inst.View())
	}
	return out
}

// GetInstance returns a snapshot of one instance.
func (e *Engine) GetInstance(instanceID string) (InstanceView, error) {
	e.mu.RLock()
	inst, ok := e.running[instanceID]
	e.mu.RUnlock()
	if !ok {
		inst, ok = e.archive.Get(instanceID)
	}
	if !ok {
		return InstanceView{}, engine_errors.ErrInstanceNotFound
	}
	return inst.View(), nil
}

// Definitions returns the registered workflow names in registration order.
func (e *Engine) Definitions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.defOrder...)
}
