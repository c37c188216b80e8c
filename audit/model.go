// audit/model.go
package audit

import (
	"time"

	"github.com/aria7-op/adcg-engine/model"
)

// AccessLogEntry records one permission decision together with the context
// it was made under.
type AccessLogEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"user_id"`
	Resource  string            `json:"resource"`
	Action    string            `json:"action"`
	Granted   bool              `json:"access_granted"`
	Reason    string            `json:"reason,omitempty"`
	Context   model.EvalContext `json:"context"`
}
