// workflow/step.go
package workflow

import (
	"context"
	"fmt"

	"github.com/aria7-op/adcg-engine/model"
)

// Backend performs the network round trip for api_call steps.
type Backend interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body interface{}) (interface{}, error)
}

// PermissionChecker is the permission engine surface the permission_check
// step delegates to.
type PermissionChecker interface {
	CheckPermission(resource, action string, extra map[string]interface{}) bool
}

// EventEmitter is the bus surface steps emit through.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, data map[string]interface{}, source string) model.Event
}

// Runtime carries the collaborators a step may call out to.
type Runtime struct {
	Backend Backend
	Perms   PermissionChecker
	Bus     EventEmitter
}

// Step is the closed set of workflow step kinds. Concrete types are
// APICallStep, UIActionStep, ConditionCheckStep, EventEmitStep and
// PermissionCheckStep; adding a kind means adding a type here, not a
// string tag.
type Step interface {
	ID() string
	// Guard is evaluated against the step's own result; false stops the
	// workflow without failing it.
	Guard(result interface{}) bool
	Execute(ctx context.Context, rt *Runtime, inst *Instance) (interface{}, error)
}

// BaseStep carries the fields shared by every step kind.
type BaseStep struct {
	StepID    string
	GuardFunc func(result interface{}) bool
}

func (b BaseStep) ID() string { return b.StepID }

func (b BaseStep) Guard(result interface{}) bool {
	if b.GuardFunc == nil {
		return true
	}
	return b.GuardFunc(result)
}

// APICallStep calls the external backend. The body may be a fixed value or
// computed from the instance's data and context. A non-2xx response is an
// error and fails the workflow.
type APICallStep struct {
	BaseStep
	URL       string
	Method    string
	Headers   map[string]string
	Body      interface{}
	BodyFunc  func(data, context map[string]interface{}) interface{}
	Transform func(response interface{}, inst InstanceView) interface{}
}

func (s *APICallStep) Execute(ctx context.Context, rt *Runtime, inst *Instance) (interface{}, error) {
	if rt.Backend == nil {
		return nil, fmt.Errorf("api_call step %s: no backend configured", s.StepID)
	}

	body := s.Body
	if s.BodyFunc != nil {
		body = s.BodyFunc(inst.Data(), inst.Context())
	}

	response, err := rt.Backend.Do(ctx, s.Method, s.URL, s.Headers, body)
	if err != nil {
		return nil, err
	}

	if s.Transform != nil {
		return s.Transform(response, inst.View()), nil
	}
	return response, nil
}

// UIActionStep emits a ui:action event for the presentation layer; it does
// not itself mutate any UI state.
type UIActionStep struct {
	BaseStep
	Action string
	Target string
	Data   map[string]interface{}
}

func (s *UIActionStep) Execute(ctx context.Context, rt *Runtime, inst *Instance) (interface{}, error) {
	payload := map[string]interface{}{
		"action":     s.Action,
		"target":     s.Target,
		"workflowId": inst.IDString(),
	}
	for k, v := range s.Data {
		payload[k] = v
	}
	rt.Bus.Emit(ctx, model.EventUIAction, payload, "workflow-engine")

	return map[string]interface{}{"success": true, "action": s.Action, "target": s.Target}, nil
}

// ConditionCheckStep evaluates a predicate against the accumulated workflow
// state. With no predicate the step trivially passes.
type ConditionCheckStep struct {
	BaseStep
	Condition func(data, context, results map[string]interface{}) (interface{}, error)
}

func (s *ConditionCheckStep) Execute(ctx context.Context, rt *Runtime, inst *Instance) (interface{}, error) {
	if s.Condition == nil {
		return map[string]interface{}{"result": true}, nil
	}
	return s.Condition(inst.Data(), inst.Context(), inst.Results())
}

// EventEmitStep emits an arbitrary event through the bus. The payload may
// be fixed or computed from the instance data.
type EventEmitStep struct {
	BaseStep
	EventType string
	EventData map[string]interface{}
	DataFunc  func(data map[string]interface{}) map[string]interface{}
}

func (s *EventEmitStep) Execute(ctx context.Context, rt *Runtime, inst *Instance) (interface{}, error) {
	payload := s.EventData
	if s.DataFunc != nil {
		payload = s.DataFunc(inst.Data())
	}
	rt.Bus.Emit(ctx, s.EventType, payload, "workflow-engine")

	return map[string]interface{}{"success": true, "eventType": s.EventType}, nil
}

// PermissionCheckStep delegates to the permission engine. A denial is a
// normal result, not an error.
type PermissionCheckStep struct {
	BaseStep
	Resource string
	Action   string
	Context  map[string]interface{}
}

func (s *PermissionCheckStep) Execute(ctx context.Context, rt *Runtime, inst *Instance) (interface{}, error) {
	if rt.Perms == nil {
		return nil, fmt.Errorf("permission_check step %s: no permission engine configured", s.StepID)
	}
	granted := rt.Perms.CheckPermission(s.Resource, s.Action, s.Context)
	return map[string]interface{}{
		"hasPermission": granted,
		"resource":      s.Resource,
		"action":        s.Action,
	}, nil
}
