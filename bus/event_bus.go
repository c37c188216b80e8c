// bus/event_bus.go

package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
)

// EventHandler is a function that handles an event.
type EventHandler func(context.Context, model.Event) error

// Wildcard subscribes a listener to every event type.
const Wildcard = "*"

// TriggerHook is notified after listener dispatch for every emitted event.
// The workflow engine registers itself here to evaluate trigger conditions.
type TriggerHook interface {
	OnEvent(event model.Event)
}

type registration struct {
	listenerID string
	handler    EventHandler
}

// EventBus manages event subscriptions, a bounded event history, and
// workflow trigger hooks.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]registration
	history     []model.Event
	maxHistory  int
	hooks       []TriggerHook
	errorChan   chan error
}

// NewEventBus creates a new EventBus retaining at most maxHistory events.
func NewEventBus(maxHistory int) *EventBus {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &EventBus{
		subscribers: make(map[string][]registration),
		maxHistory:  maxHistory,
		errorChan:   make(chan error, 100), // Buffer size can be adjusted
	}
}

// Subscribe registers a handler for an event type under a listener ID.
// Re-registering the same listener ID for the same type replaces the
// previous handler in place, keeping its position in dispatch order.
func (eb *EventBus) Subscribe(eventType, listenerID string, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	regs := eb.subscribers[eventType]
	for i, reg := range regs {
		if reg.listenerID == listenerID {
			regs[i].handler = handler
			return
		}
	}
	eb.subscribers[eventType] = append(regs, registration{listenerID: listenerID, handler: handler})
}

// Unsubscribe removes the handler registered under (eventType, listenerID).
func (eb *EventBus) Unsubscribe(eventType, listenerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	regs := eb.subscribers[eventType]
	for i, reg := range regs {
		if reg.listenerID == listenerID {
			eb.subscribers[eventType] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// RegisterHook adds a trigger hook invoked after listener dispatch.
func (eb *EventBus) RegisterHook(h TriggerHook) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.hooks = append(eb.hooks, h)
}

// Emit constructs an event, appends it to the bounded history, invokes
// every listener for its type synchronously in registration order, then
// hands the event to the trigger hooks. A listener failing or panicking
// never prevents the remaining listeners from running.
func (eb *EventBus) Emit(ctx context.Context, eventType string, data map[string]interface{}, source string) model.Event {
	event := model.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Source:    source,
		Timestamp: time.Now(),
	}

	eb.mu.Lock()
	eb.history = append(eb.history, event)
	if len(eb.history) > eb.maxHistory {
		eb.history = eb.history[len(eb.history)-eb.maxHistory:]
	}
	handlers := make([]registration, 0, len(eb.subscribers[eventType])+len(eb.subscribers[Wildcard]))
	handlers = append(handlers, eb.subscribers[eventType]...)
	if eventType != Wildcard {
		handlers = append(handlers, eb.subscribers[Wildcard]...)
	}
	hooks := make([]TriggerHook, len(eb.hooks))
	copy(hooks, eb.hooks)
	eb.mu.Unlock()

	for _, reg := range handlers {
		eb.dispatch(ctx, reg, event)
	}

	eb.markProcessed(event.ID)
	event.Processed = true

	for _, h := range hooks {
		h.OnEvent(event)
	}

	return event
}

func (eb *EventBus) dispatch(ctx context.Context, reg registration, event model.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event listener panicked",
				zap.Any("panic", r),
				zap.String("eventType", event.Type),
				zap.String("listenerID", reg.listenerID))
		}
	}()

	if err := reg.handler(ctx, event); err != nil {
		select {
		case eb.errorChan <- fmt.Errorf("event handler error: %w", err):
		default:
			// If error channel is full, log the error
			logger.Error("Error channel full, logging event handler error",
				zap.Error(err),
				zap.String("eventType", event.Type),
				zap.String("listenerID", reg.listenerID))
		}
	}
}

func (eb *EventBus) markProcessed(eventID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i := len(eb.history) - 1; i >= 0; i-- {
		if eb.history[i].ID == eventID {
			eb.history[i].Processed = true
			return
		}
	}
}

// History returns the retained events in emission order, oldest first,
// optionally filtered by type. An empty type returns everything.
func (eb *EventBus) History(eventType string) []model.Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eventType == "" {
		out := make([]model.Event, len(eb.history))
		copy(out, eb.history)
		return out
	}

	var out []model.Event
	for _, ev := range eb.history {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Start begins processing errors reported by event handlers.
func (eb *EventBus) Start(ctx context.Context) {
	go eb.processErrors(ctx)
}

// processErrors handles errors from event handlers
func (eb *EventBus) processErrors(ctx context.Context) {
	for {
		select {
		case err := <-eb.errorChan:
			logger.Error("Event handler error", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}
}
