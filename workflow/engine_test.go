// workflow/engine_test.go
package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aria7-op/adcg-engine/bus"
	engine_errors "github.com/aria7-op/adcg-engine/errors"
	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
)

func init() {
	logger.InitTestLogger()
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []string
	resp  interface{}
	err   error
	block bool
}

func (f *fakeBackend) Do(ctx context.Context, method, url string, headers map[string]string, body interface{}) (interface{}, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method+" "+url)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeChecker struct {
	allow bool
}

func (f *fakeChecker) CheckPermission(resource, action string, extra map[string]interface{}) bool {
	return f.allow
}

func newTestEngine(backend Backend, perms PermissionChecker) (*Engine, *bus.EventBus) {
	eventBus := bus.NewEventBus(100)
	engine := NewEngine(&Runtime{Backend: backend, Perms: perms, Bus: eventBus}, 16)
	eventBus.RegisterHook(engine)
	return engine, eventBus
}

func passingStep(id string) Step {
	return &ConditionCheckStep{
		BaseStep: BaseStep{StepID: id},
		Condition: func(data, context, results map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"result": true}, nil
		},
	}
}

func waitForStatus(t *testing.T, engine *Engine, instanceID string, want Status) InstanceView {
	t.Helper()
	var view InstanceView
	assert.Eventually(t, func() bool {
		v, err := engine.GetInstance(instanceID)
		if err != nil {
			return false
		}
		view = v
		return v.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return view
}

func TestRegisterWorkflowValidation(t *testing.T) {
	engine, _ := newTestEngine(nil, nil)

	assert.ErrorIs(t, engine.RegisterWorkflow(Definition{Name: "", Steps: []Step{passingStep("s1")}}), engine_errors.ErrInvalidWorkflowData)
	assert.ErrorIs(t, engine.RegisterWorkflow(Definition{Name: "empty"}), engine_errors.ErrInvalidWorkflowData)
	assert.ErrorIs(t, engine.RegisterWorkflow(Definition{
		Name:  "dup",
		Steps: []Step{passingStep("s1"), passingStep("s1")},
	}), engine_errors.ErrInvalidWorkflowData)

	assert.NoError(t, engine.RegisterWorkflow(Definition{Name: "ok", Steps: []Step{passingStep("s1")}}))
	assert.ErrorIs(t, engine.RegisterWorkflow(Definition{Name: "ok", Steps: []Step{passingStep("s1")}}), engine_errors.ErrWorkflowAlreadyExists)
}

func TestSequentialCompletion(t *testing.T) {
	engine, _ := newTestEngine(nil, nil)

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name:    "w3",
		Steps:   []Step{passingStep("s1"), passingStep("s2"), passingStep("s3")},
		Trigger: Trigger{EventType: "never"},
	}))

	id, err := engine.StartWorkflow("w3", nil)
	assert.NoError(t, err)

	view := waitForStatus(t, engine, id, StatusCompleted)
	assert.Equal(t, 2, view.CurrentStep)
	assert.Len(t, view.Results, 3)
	for _, stepID := range []string{"s1", "s2", "s3"} {
		assert.Contains(t, view.Results, stepID)
	}
	assert.NotNil(t, view.EndTime)
	assert.Empty(t, view.Error)
}

func TestFailureIsolation(t *testing.T) {
	engine, _ := newTestEngine(nil, nil)

	boom := &ConditionCheckStep{
		BaseStep: BaseStep{StepID: "s2"},
		Condition: func(data, context, results map[string]interface{}) (interface{}, error) {
			return nil, errors.New("step exploded")
		},
	}

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name:    "fails",
		Steps:   []Step{passingStep("s1"), boom, passingStep("s3")},
		Trigger: Trigger{EventType: "never"},
	}))

	id, err := engine.StartWorkflow("fails", nil)
	assert.NoError(t, err)

	view := waitForStatus(t, engine, id, StatusFailed)
	assert.Equal(t, "step exploded", view.Error)
	assert.Len(t, view.Results, 1)
	assert.Contains(t, view.Results, "s1")
	assert.NotContains(t, view.Results, "s2")
	assert.NotContains(t, view.Results, "s3")
}

func TestGuardStop(t *testing.T) {
	engine, _ := newTestEngine(nil, nil)

	guarded := &ConditionCheckStep{
		BaseStep: BaseStep{
			StepID: "s1",
			GuardFunc: func(result interface{}) bool {
				return false
			},
		},
		Condition: func(data, context, results map[string]interface{}) (interface{}, error) {
			return "partial", nil
		},
	}

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name:    "guarded",
		Steps:   []Step{guarded, passingStep("s2")},
		Trigger: Trigger{EventType: "never"},
	}))

	id, err := engine.StartWorkflow("guarded", nil)
	assert.NoError(t, err)

	view := waitForStatus(t, engine, id, StatusStopped)
	// The guard stops the workflow without failing it; the guarded step's
	// own result is still recorded, later steps never run.
	assert.Empty(t, view.Error)
	assert.Equal(t, "partial", view.Results["s1"])
	assert.NotContains(t, view.Results, "s2")
}

func TestTriggerMatching(t *testing.T) {
	event := model.Event{Type: "go", Source: "ui", Data: map[string]interface{}{"n": 2.0}}

	assert.True(t, Trigger{}.Matches(event), "empty trigger is a broadcast match")
	assert.True(t, Trigger{EventType: "go"}.Matches(event))
	assert.False(t, Trigger{EventType: "stop"}.Matches(event))
	assert.True(t, Trigger{EventType: "go", EventSource: "ui"}.Matches(event))
	assert.False(t, Trigger{EventType: "go", EventSource: "api"}.Matches(event))
	assert.True(t, Trigger{
		EventType: "go",
		Custom:    func(ev model.Event) bool { n, _ := ev.Data["n"].(float64); return n > 1 },
	}.Matches(event))
	assert.False(t, Trigger{
		Custom: func(ev model.Event) bool { return false },
	}.Matches(event))
}

func TestEventTriggeredWorkflow(t *testing.T) {
	engine, eventBus := newTestEngine(nil, nil)

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name: "w1",
		Steps: []Step{&ConditionCheckStep{
			BaseStep: BaseStep{StepID: "s1"},
			Condition: func(data, context, results map[string]interface{}) (interface{}, error) {
				flag, _ := data["flag"].(bool)
				return flag, nil
			},
		}},
		Trigger: Trigger{EventType: "go"},
	}))

	eventBus.Emit(context.Background(), "go", map[string]interface{}{"flag": true}, "test")

	assert.Eventually(t, func() bool {
		for _, view := range engine.GetWorkflows() {
			if view.Name == "w1" && view.Status == StatusCompleted {
				return view.Results["s1"] == true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// Non-matching events spawn nothing further.
	eventBus.Emit(context.Background(), "other", nil, "test")
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, engine.GetWorkflows(), 1)
}

func TestStartWorkflowUnknownName(t *testing.T) {
	engine, _ := newTestEngine(nil, nil)
	_, err := engine.StartWorkflow("ghost", nil)
	assert.ErrorIs(t, err, engine_errors.ErrWorkflowNotFound)
}

func TestAPICallStep(t *testing.T) {
	backend := &fakeBackend{resp: map[string]interface{}{"ok": true}}
	engine, _ := newTestEngine(backend, nil)

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name: "api",
		Steps: []Step{&APICallStep{
			BaseStep: BaseStep{StepID: "call"},
			URL:      "https://backend/tasks",
			Method:   "POST",
			BodyFunc: func(data, context map[string]interface{}) interface{} {
				return map[string]interface{}{"title": data["title"]}
			},
		}},
		Trigger: Trigger{EventType: "never"},
	}))

	id, err := engine.StartWorkflow("api", map[string]interface{}{"title": "hello"})
	assert.NoError(t, err)

	view := waitForStatus(t, engine, id, StatusCompleted)
	assert.Equal(t, map[string]interface{}{"ok": true}, view.Results["call"])
	assert.Equal(t, []string{"POST https://backend/tasks"}, backend.calls)
}

func TestAPICallStepFailureFailsWorkflow(t *testing.T) {
	backend := &fakeBackend{err: errors.New("backend returned 500")}
	engine, _ := newTestEngine(backend, nil)

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name: "api",
		Steps: []Step{&APICallStep{
			BaseStep: BaseStep{StepID: "call"},
			URL:      "https://backend/tasks",
			Method:   "GET",
		}},
		Trigger: Trigger{EventType: "never"},
	}))

	id, _ := engine.StartWorkflow("api", nil)
	view := waitForStatus(t, engine, id, StatusFailed)
	assert.Equal(t, "backend returned 500", view.Error)
}

func TestStepTimeout(t *testing.T) {
	backend := &fakeBackend{block: true}
	eventBus := bus.NewEventBus(100)
	engine := NewEngine(&Runtime{Backend: backend, Bus: eventBus}, 16, WithStepTimeout(20*time.Millisecond))

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name: "hang",
		Steps: []Step{&APICallStep{
			BaseStep: BaseStep{StepID: "call"},
			URL:      "https://backend/slow",
			Method:   "GET",
		}},
		Trigger: Trigger{EventType: "never"},
	}))

	id, _ := engine.StartWorkflow("hang", nil)
	view := waitForStatus(t, engine, id, StatusFailed)
	assert.Contains(t, view.Error, "timed out")
}

func TestCancel(t *testing.T) {
	backend := &fakeBackend{block: true}
	engine, _ := newTestEngine(backend, nil)

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name: "cancellable",
		Steps: []Step{&APICallStep{
			BaseStep: BaseStep{StepID: "call"},
			URL:      "https://backend/slow",
			Method:   "GET",
		}},
		Trigger: Trigger{EventType: "never"},
	}))

	id, _ := engine.StartWorkflow("cancellable", nil)

	assert.Eventually(t, func() bool {
		return engine.Cancel(id) == nil
	}, time.Second, 5*time.Millisecond)

	view := waitForStatus(t, engine, id, StatusFailed)
	assert.NotEmpty(t, view.Error)
	assert.ErrorIs(t, engine.Cancel(id), engine_errors.ErrWorkflowNotRunning)
}

func TestPermissionCheckStep(t *testing.T) {
	t.Run("DenialIsAResultNotAnError", func(t *testing.T) {
		engine, _ := newTestEngine(nil, &fakeChecker{allow: false})

		assert.NoError(t, engine.RegisterWorkflow(Definition{
			Name: "perm",
			Steps: []Step{&PermissionCheckStep{
				BaseStep: BaseStep{StepID: "check"},
				Resource: "task",
				Action:   "create",
			}},
			Trigger: Trigger{EventType: "never"},
		}))

		id, _ := engine.StartWorkflow("perm", nil)
		view := waitForStatus(t, engine, id, StatusCompleted)

		result := view.Results["check"].(map[string]interface{})
		assert.Equal(t, false, result["hasPermission"])
		assert.Equal(t, "task", result["resource"])
	})

	t.Run("GuardOnDenialStopsWorkflow", func(t *testing.T) {
		engine, _ := newTestEngine(nil, &fakeChecker{allow: false})

		assert.NoError(t, engine.RegisterWorkflow(Definition{
			Name: "perm-guarded",
			Steps: []Step{
				&PermissionCheckStep{
					BaseStep: BaseStep{
						StepID: "check",
						GuardFunc: func(result interface{}) bool {
							m, _ := result.(map[string]interface{})
							granted, _ := m["hasPermission"].(bool)
							return granted
						},
					},
					Resource: "task",
					Action:   "create",
				},
				passingStep("s2"),
			},
			Trigger: Trigger{EventType: "never"},
		}))

		id, _ := engine.StartWorkflow("perm-guarded", nil)
		view := waitForStatus(t, engine, id, StatusStopped)
		assert.NotContains(t, view.Results, "s2")
	})
}

func TestUIActionAndEventEmitSteps(t *testing.T) {
	engine, eventBus := newTestEngine(nil, nil)

	var mu sync.Mutex
	var uiEvents, customEvents []model.Event
	eventBus.Subscribe(model.EventUIAction, "capture-ui", func(_ context.Context, ev model.Event) error {
		mu.Lock()
		uiEvents = append(uiEvents, ev)
		mu.Unlock()
		return nil
	})
	eventBus.Subscribe("cache:invalidate", "capture-custom", func(_ context.Context, ev model.Event) error {
		mu.Lock()
		customEvents = append(customEvents, ev)
		mu.Unlock()
		return nil
	})

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name: "ui",
		Steps: []Step{
			&UIActionStep{
				BaseStep: BaseStep{StepID: "toast"},
				Action:   "notify",
				Target:   "task-board",
				Data:     map[string]interface{}{"message": "saved"},
			},
			&EventEmitStep{
				BaseStep:  BaseStep{StepID: "bust"},
				EventType: "cache:invalidate",
				EventData: map[string]interface{}{"scope": "tasks"},
			},
		},
		Trigger: Trigger{EventType: "never"},
	}))

	id, _ := engine.StartWorkflow("ui", nil)
	view := waitForStatus(t, engine, id, StatusCompleted)

	toast := view.Results["toast"].(map[string]interface{})
	assert.Equal(t, true, toast["success"])
	assert.Equal(t, "notify", toast["action"])
	assert.Equal(t, "task-board", toast["target"])

	bust := view.Results["bust"].(map[string]interface{})
	assert.Equal(t, true, bust["success"])
	assert.Equal(t, "cache:invalidate", bust["eventType"])

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, uiEvents, 1)
	assert.Equal(t, "notify", uiEvents[0].Data["action"])
	assert.Len(t, customEvents, 1)
	assert.Equal(t, "tasks", customEvents[0].Data["scope"])
}

func TestArchiveRetention(t *testing.T) {
	eventBus := bus.NewEventBus(100)
	engine := NewEngine(&Runtime{Bus: eventBus}, 2)

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name:    "tiny",
		Steps:   []Step{passingStep("s1")},
		Trigger: Trigger{EventType: "never"},
	}))

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := engine.StartWorkflow("tiny", nil)
		assert.NoError(t, err)
		ids = append(ids, id)
		waitForStatus(t, engine, id, StatusCompleted)
	}

	// Terminal instances are bounded; the oldest falls out.
	assert.Len(t, engine.GetWorkflows(), 2)
	_, err := engine.GetInstance(ids[0])
	assert.ErrorIs(t, err, engine_errors.ErrInstanceNotFound)
}

func TestUnregisterWorkflow(t *testing.T) {
	engine, eventBus := newTestEngine(nil, nil)

	assert.NoError(t, engine.RegisterWorkflow(Definition{
		Name:    "w",
		Steps:   []Step{passingStep("s1")},
		Trigger: Trigger{EventType: "go"},
	}))
	assert.Equal(t, []string{"w"}, engine.Definitions())

	engine.UnregisterWorkflow("w")
	assert.Empty(t, engine.Definitions())

	eventBus.Emit(context.Background(), "go", nil, "test")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, engine.GetWorkflows())
}
