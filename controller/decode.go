// controller/decode.go
package controller

import (
	"fmt"

	engine_errors "github.com/aria7-op/adcg-engine/errors"
	"github.com/aria7-op/adcg-engine/model"
	"github.com/aria7-op/adcg-engine/rbac"
	"github.com/aria7-op/adcg-engine/workflow"
)

// workflowPayload is the wire form of a workflow definition. Step kinds are
// a tagged union on "type"; unknown tags are rejected here, at the
// boundary, so the executor only ever sees the closed step set.
type workflowPayload struct {
	Name       string        `json:"name"`
	Steps      []stepPayload `json:"steps"`
	Conditions struct {
		EventType   string `json:"event_type"`
		EventSource string `json:"event_source"`
	} `json:"conditions"`
}

type stepPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// api_call
	URL     string                 `json:"url,omitempty"`
	Method  string                 `json:"method,omitempty"`
	Headers map[string]string      `json:"headers,omitempty"`
	Body    interface{}            `json:"body,omitempty"`

	// ui_action / permission_check
	Action string                 `json:"action,omitempty"`
	Target string                 `json:"target,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty"`

	// condition_check
	Conditions model.ConditionSet `json:"conditions,omitempty"`

	// event_emit
	EventType string                 `json:"event_type,omitempty"`
	EventData map[string]interface{} `json:"event_data,omitempty"`

	// permission_check
	Resource string                 `json:"resource,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`

	// Optional guard over the step's own result; false stops the workflow.
	Guard model.ConditionSet `json:"guard,omitempty"`
}

func buildDefinition(p workflowPayload) (workflow.Definition, error) {
	def := workflow.Definition{
		Name: p.Name,
		Trigger: workflow.Trigger{
			EventType:   p.Conditions.EventType,
			EventSource: p.Conditions.EventSource,
		},
	}

	for _, sp := range p.Steps {
		step, err := buildStep(sp)
		if err != nil {
			return workflow.Definition{}, err
		}
		def.Steps = append(def.Steps, step)
	}
	return def, nil
}

func buildStep(sp stepPayload) (workflow.Step, error) {
	base := workflow.BaseStep{StepID: sp.ID}
	if len(sp.Guard) > 0 {
		guard := sp.Guard
		base.GuardFunc = func(result interface{}) bool {
			return rbac.EvaluateConditions(guard, guardContext(result))
		}
	}

	switch sp.Type {
	case "api_call":
		return &workflow.APICallStep{
			BaseStep: base,
			URL:      sp.URL,
			Method:   sp.Method,
			Headers:  sp.Headers,
			Body:     sp.Body,
		}, nil
	case "ui_action":
		return &workflow.UIActionStep{
			BaseStep: base,
			Action:   sp.Action,
			Target:   sp.Target,
			Data:     sp.Data,
		}, nil
	case "condition_check":
		conditions := sp.Conditions
		return &workflow.ConditionCheckStep{
			BaseStep: base,
			Condition: func(data, context, results map[string]interface{}) (interface{}, error) {
				if len(conditions) == 0 {
					return map[string]interface{}{"result": true}, nil
				}
				scope := map[string]interface{}{
					"data":    data,
					"context": context,
					"results": results,
				}
				return rbac.EvaluateConditions(conditions, scope), nil
			},
		}, nil
	case "event_emit":
		return &workflow.EventEmitStep{
			BaseStep:  base,
			EventType: sp.EventType,
			EventData: sp.EventData,
		}, nil
	case "permission_check":
		return &workflow.PermissionCheckStep{
			BaseStep: base,
			Resource: sp.Resource,
			Action:   sp.Action,
			Context:  sp.Context,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", engine_errors.ErrUnknownStepType, sp.Type)
	}
}

// guardContext exposes a step result to guard conditions under "result",
// spreading map results so guards can address individual fields.
func guardContext(result interface{}) map[string]interface{} {
	ctx := map[string]interface{}{"result": result}
	if rm, ok := result.(map[string]interface{}); ok {
		for k, v := range rm {
			ctx[k] = v
		}
	}
	return ctx
}
