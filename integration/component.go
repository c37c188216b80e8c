// integration/component.go
package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aria7-op/adcg-engine/audit"
	"github.com/aria7-op/adcg-engine/bus"
	engine_errors "github.com/aria7-op/adcg-engine/errors"
	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
	"github.com/aria7-op/adcg-engine/workflow"
)

// UIPermissionChecker is the permission engine surface the integration
// layer evaluates declared UI tokens against.
type UIPermissionChecker interface {
	CheckUIPermission(token string) bool
	Context() model.EvalContext
}

// EventCallback receives the events a mounted component subscribed to.
type EventCallback func(model.Event)

// Registration declares what a component needs wired on mount.
type Registration struct {
	ComponentID   string
	EventTypes    []string
	Workflows     []workflow.Definition
	UIPermissions []string
}

type mountState struct {
	reg            Registration
	ownedWorkflows []string
	mu             sync.RWMutex
	workflowStatus map[string]string // workflowID -> status
	allowed        map[string]bool   // ui token -> decision at mount time
}

// Manager wires a component's declared event types, workflows, and UI
// permissions into the bus on mount and tears everything down on unmount.
// Teardown is mandatory to avoid listener leaks across remounts.
type Manager struct {
	bus      *bus.EventBus
	engine   *workflow.Engine
	perms    UIPermissionChecker
	auditSvc audit.Service

	mu      sync.Mutex
	mounted map[string]*mountState
}

func NewManager(eventBus *bus.EventBus, engine *workflow.Engine, perms UIPermissionChecker, auditSvc audit.Service) *Manager {
	return &Manager{
		bus:      eventBus,
		engine:   engine,
		perms:    perms,
		auditSvc: auditSvc,
		mounted:  make(map[string]*mountState),
	}
}

// Mount registers the component. Re-mounting an already-mounted component
// id is an error; unmount first.
func (m *Manager) Mount(reg Registration, onEvent EventCallback) error {
	if reg.ComponentID == "" {
		return fmt.Errorf("%w: component id is required", engine_errors.ErrInvalidWorkflowData)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.mounted[reg.ComponentID]; exists {
		return fmt.Errorf("component %s already mounted", reg.ComponentID)
	}

	state := &mountState{
		reg:            reg,
		workflowStatus: make(map[string]string),
		allowed:        make(map[string]bool),
	}

	for _, eventType := range reg.EventTypes {
		m.bus.Subscribe(eventType, m.listenerID(reg.ComponentID), m.componentHandler(reg.ComponentID, onEvent))
	}

	for _, def := range reg.Workflows {
		if err := m.engine.RegisterWorkflow(def); err != nil {
			if errors.Is(err, engine_errors.ErrWorkflowAlreadyExists) {
				logger.Debug("Workflow already registered, sharing definition",
					zap.String("componentId", reg.ComponentID),
					zap.String("workflow", def.Name))
				continue
			}
			m.teardownLocked(state, reg.ComponentID)
			return err
		}
		state.ownedWorkflows = append(state.ownedWorkflows, def.Name)
	}

	for _, lifecycle := range []string{
		model.EventWorkflowStarted,
		model.EventWorkflowCompleted,
		model.EventWorkflowFailed,
		model.EventWorkflowStopped,
	} {
		m.bus.Subscribe(lifecycle, m.statusListenerID(reg.ComponentID), state.projectStatus)
	}

	for _, token := range reg.UIPermissions {
		state.allowed[token] = m.perms.CheckUIPermission(token)
	}

	m.mounted[reg.ComponentID] = state
	logger.Debug("Component mounted",
		zap.String("componentId", reg.ComponentID),
		zap.Strings("eventTypes", reg.EventTypes))
	return nil
}

// Unmount removes every registration made for the component.
func (m *Manager) Unmount(componentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.mounted[componentID]
	if !exists {
		return
	}
	m.teardownLocked(state, componentID)
	delete(m.mounted, componentID)
	logger.Debug("Component unmounted", zap.String("componentId", componentID))
}

func (m *Manager) teardownLocked(state *mountState, componentID string) {
	for _, eventType := range state.reg.EventTypes {
		m.bus.Unsubscribe(eventType, m.listenerID(componentID))
	}
	for _, lifecycle := range []string{
		model.EventWorkflowStarted,
		model.EventWorkflowCompleted,
		model.EventWorkflowFailed,
		model.EventWorkflowStopped,
	} {
		m.bus.Unsubscribe(lifecycle, m.statusListenerID(componentID))
	}
	for _, name := range state.ownedWorkflows {
		m.engine.UnregisterWorkflow(name)
	}
}

// WorkflowStatus returns the component's projected workflowID -> status map.
func (m *Manager) WorkflowStatus(componentID string) map[string]string {
	m.mu.Lock()
	state, exists := m.mounted[componentID]
	m.mu.Unlock()
	if !exists {
		return nil
	}

	state.mu.RLock()
	defer state.mu.RUnlock()
	out := make(map[string]string, len(state.workflowStatus))
	for k, v := range state.workflowStatus {
		out[k] = v
	}
	return out
}

// Allowed returns the component's UI permission decisions taken at mount.
func (m *Manager) Allowed(componentID string) map[string]bool {
	m.mu.Lock()
	state, exists := m.mounted[componentID]
	m.mu.Unlock()
	if !exists {
		return nil
	}

	state.mu.RLock()
	defer state.mu.RUnlock()
	out := make(map[string]bool, len(state.allowed))
	for k, v := range state.allowed {
		out[k] = v
	}
	return out
}

func (m *Manager) listenerID(componentID string) string {
	return "component:" + componentID
}

func (m *Manager) statusListenerID(componentID string) string {
	return "component:" + componentID + ":status"
}

// componentHandler routes an event to the component callback and records
// the delivery in the access log.
func (m *Manager) componentHandler(componentID string, onEvent EventCallback) bus.EventHandler {
	return func(ctx context.Context, event model.Event) error {
		if m.auditSvc != nil {
			evalCtx := m.perms.Context()
			m.auditSvc.LogAccess(ctx, evalCtx.UserID, "component:"+componentID, "event:"+event.Type, true, "", evalCtx)
		}
		if onEvent != nil {
			onEvent(event)
		}
		return nil
	}
}

// projectStatus folds workflow lifecycle events into the status map.
func (s *mountState) projectStatus(_ context.Context, event model.Event) error {
	workflowID, _ := event.Data["workflowId"].(string)
	if workflowID == "" {
		return nil
	}

	status := string(workflow.StatusRunning)
	if st, ok := event.Data["status"].(string); ok && st != "" {
		status = st
	}

	s.mu.Lock()
	s.workflowStatus[workflowID] = status
	s.mu.Unlock()
	return nil
}
