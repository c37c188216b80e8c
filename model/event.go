// model/event.go
package model

import "time"

// Event is an immutable record of something that happened, broadcast to
// listeners and workflow triggers.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Processed bool                   `json:"processed"`
}

// Lifecycle event types emitted by the workflow executor.
const (
	EventWorkflowStarted   = "workflow:started"
	EventWorkflowCompleted = "workflow:completed"
	EventWorkflowFailed    = "workflow:failed"
	EventWorkflowStopped   = "workflow:stopped"
	EventWorkflowStep      = "workflow:step:completed"
	EventUIAction          = "ui:action"
)
